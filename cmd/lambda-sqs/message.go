//go:build lambda

package main

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"docs4usync/internal/types"

	json "github.com/goccy/go-json"
)

const (
	OperationAttribute = "operation"
	OperationUpsert    = "upsert"
	OperationDelete    = "delete"
)

// Message is the SQS body for one document operation. Content travels inline,
// base64-encoded, which fits SQS's message size limit for small documents only.
type Message struct {
	URI         string          `json:"uri"`
	Description string          `json:"description,omitempty"`
	Authority   string          `json:"authority,omitempty"`
	Doc         *types.Document `json:"document,omitempty"`
	Content     string          `json:"content_base64,omitempty"`
}

func DecodeMessage(body []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	if m.URI == "" {
		return nil, fmt.Errorf("missing uri")
	}
	return &m, nil
}

// Document returns the document to upsert with its content attached.
func (m *Message) Document() (*types.Document, error) {
	doc := &types.Document{}
	if m.Doc != nil {
		doc = m.Doc
	}
	doc.URI = m.URI
	content, err := base64.StdEncoding.DecodeString(m.Content)
	if err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	doc.Content = bytes.NewReader(content)
	doc.ContentLength = int64(len(content))
	return doc, nil
}
