package ports

import (
	"context"

	"docs4usync/internal/types"
)

// Repository opens sessions against a Docs4U repository.
type Repository interface {
	Open(ctx context.Context, rootDirectory string) (Session, error)
}

// Session is a live handle to one Docs4U repository.
// Errors are permanent unless they are a *types.ServiceInterruption.
type Session interface {
	// FindDocuments returns the IDs of documents whose metadata matches every
	// name/value pair of lookup.
	FindDocuments(ctx context.Context, lookup map[string]string) ([]string, error)
	CreateDocument(ctx context.Context, doc *types.DocInfo) (string, error)
	UpdateDocument(ctx context.Context, id string, doc *types.DocInfo) error
	DeleteDocument(ctx context.Context, id string) error

	// FindUserOrGroup resolves a user or group name. ok is false when it does not exist.
	FindUserOrGroup(ctx context.Context, name string) (id string, ok bool, err error)

	MetadataNames(ctx context.Context) ([]string, error)
	SanityCheck(ctx context.Context) error
	Close() error
}
