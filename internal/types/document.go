package types

import (
	"io"
	"time"
)

// DocumentStatus is the outcome of an upsert that did not fail.
type DocumentStatus int

const (
	DocumentAccepted DocumentStatus = iota
	DocumentRejected
)

var StatusTextMap = map[DocumentStatus]string{
	DocumentAccepted: "accepted",
	DocumentRejected: "rejected",
}

// Activity kinds and result codes recorded for every save/delete.
const (
	ActivitySave   = "save"
	ActivityDelete = "delete"

	ResultOK       = "OK"
	ResultRejected = "REJECTED"
	ResultError    = "ERROR"
)

// Field is one metadata field of an incoming document.
type Field struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Document is a crawled document handed over by the host.
// Content is owned by the caller and is never closed here.
type Document struct {
	URI               string    `json:"uri"`
	Content           io.Reader `json:"-"`
	ContentLength     int64     `json:"content_length"`
	MimeType          string    `json:"mime_type,omitempty"`
	ACL               []string  `json:"acl,omitempty"`
	DenyACL           []string  `json:"deny_acl,omitempty"`
	DirectoryACLCount int       `json:"directory_acl_count,omitempty"`
	ShareACL          []string  `json:"share_acl,omitempty"`
	ShareDenyACL      []string  `json:"share_deny_acl,omitempty"`
	Fields            []Field   `json:"fields,omitempty"`
}

// Activity is one entry of the host's activity history.
type Activity struct {
	StartTime    time.Time `json:"start_time"`
	Kind         string    `json:"kind"`
	ByteCount    *int64    `json:"byte_count,omitempty"`
	ObjectID     string    `json:"object_id"`
	ResultCode   string    `json:"result_code"`
	ResultReason string    `json:"result_reason,omitempty"`
}

// DocInfo is the payload sent to Docs4U on create or update.
// Data is borrowed from the source document; Close releases only what was registered
// with OnClose.
type DocInfo struct {
	Metadata   map[string][]string
	Allowed    []string
	Disallowed []string
	Data       io.Reader

	release []func()
}

func NewDocInfo() *DocInfo {
	return &DocInfo{Metadata: make(map[string][]string)}
}

func (d *DocInfo) SetMetadata(name string, values []string) {
	d.Metadata[name] = append([]string(nil), values...)
}

// OnClose registers fn to run when the payload is released.
func (d *DocInfo) OnClose(fn func()) {
	d.release = append(d.release, fn)
}

// Close runs registered release functions in reverse order. It is safe to call twice.
func (d *DocInfo) Close() {
	for i := len(d.release) - 1; i >= 0; i-- {
		d.release[i]()
	}
	d.release = nil
}
