// Package docs4u is the client for a Docs4U repository: a directory holding a SQLite
// index (documents, metadata, ACLs, users/groups, registered metadata names) and one
// zstd-compressed blob per document under content/.
//
// Every error this package returns is permanent and carries types.ErrRepository.
// Docs4U has no notion of a temporary outage, so nothing here is ever a
// *types.ServiceInterruption.
package docs4u

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"docs4usync/internal/ports"
	"docs4usync/internal/types"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

//go:embed schema.sql
var schemaSQL string

const (
	indexFile  = "docs4u.db"
	contentDir = "content"
)

// Connection parameters go in the DSN so they survive the pool reopening a connection.
const dsnParams = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"

// Factory opens sessions; it satisfies ports.Repository.
type Factory struct{}

func (Factory) Open(ctx context.Context, rootDirectory string) (ports.Session, error) {
	return Open(ctx, rootDirectory)
}

// Create initializes a repository at root. It is idempotent.
func Create(ctx context.Context, root string) error {
	if err := os.MkdirAll(filepath.Join(root, contentDir), 0o755); err != nil {
		return repoErr(err, "create %s", root)
	}
	db, err := openDB(ctx, root)
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return repoErr(err, "apply schema")
	}
	return nil
}

// Open connects to an existing repository.
func Open(ctx context.Context, root string) (*Session, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: %w: empty root directory", types.ErrRepository, types.ErrInvalidConfig)
	}
	if _, err := os.Stat(filepath.Join(root, indexFile)); err != nil {
		return nil, repoErr(err, "%s is not a docs4u repository", root)
	}
	db, err := openDB(ctx, root)
	if err != nil {
		return nil, err
	}
	return &Session{root: root, db: db}, nil
}

func openDB(ctx context.Context, root string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+filepath.Join(root, indexFile)+dsnParams)
	if err != nil {
		return nil, repoErr(err, "open index")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, repoErr(err, "connect index")
	}
	return db, nil
}

func repoErr(err error, msgTemplate string, args ...any) error {
	if err == nil {
		return nil
	}
	wrapped := types.Err(types.ErrRepository, err, msgTemplate, args...)
	if !types.IsInterrupted(err) {
		log.WithError(err).Warnf("docs4u: "+msgTemplate, args...)
	}
	return wrapped
}

func notFound(what, id string) error {
	return fmt.Errorf("%w: %w: %s %s", types.ErrRepository, types.ErrNotFound, what, id)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
