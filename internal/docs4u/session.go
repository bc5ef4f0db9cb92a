package docs4u

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"docs4usync/internal/types"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Session is a live handle to one repository. It is not safe for concurrent use; each
// connector instance owns its own.
type Session struct {
	root string
	db   *sql.DB
}

// StoredDocument is a document as the repository holds it.
type StoredDocument struct {
	ID            string
	Metadata      map[string][]string
	Allowed       []string
	Disallowed    []string
	ContentLength int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (s *Session) Root() string { return s.root }

func (s *Session) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Every write stores content under a fresh file name; the index row names the
// current one, so a rolled back write never touches the committed content.
func newContentFile(id string) string {
	return id + "." + uuid.NewString() + ".zst"
}

func (s *Session) contentPath(file string) string {
	return filepath.Join(s.root, contentDir, file)
}

// rowQuerier is satisfied by both *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// contentFile returns the content file name currently recorded for id.
func (s *Session) contentFile(ctx context.Context, q rowQuerier, id string) (string, error) {
	var file string
	err := q.QueryRowContext(ctx, "SELECT content_file FROM documents WHERE id = ?", id).Scan(&file)
	if isNoRows(err) {
		return "", notFound("document", id)
	}
	if err != nil {
		return "", repoErr(err, "load document %s", id)
	}
	return file, nil
}

// SanityCheck verifies the index is readable and consistent and the content
// directory exists.
func (s *Session) SanityCheck(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return repoErr(err, "quick_check")
	}
	if result != "ok" {
		return fmt.Errorf("%w: index check failed: %s", types.ErrRepository, result)
	}
	fi, err := os.Stat(filepath.Join(s.root, contentDir))
	if err != nil {
		return repoErr(err, "content directory")
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", types.ErrRepository, filepath.Join(s.root, contentDir))
	}
	return nil
}

// FindDocuments returns, sorted, the IDs of documents carrying every name=value pair.
func (s *Session) FindDocuments(ctx context.Context, lookup map[string]string) ([]string, error) {
	names := make([]string, 0, len(lookup))
	for name := range lookup {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	args := make([]any, 0, 2*len(names))
	sb.WriteString("SELECT d.id FROM documents d")
	for i, name := range names {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		sb.WriteString("EXISTS (SELECT 1 FROM document_metadata m WHERE m.doc_id = d.id AND m.name = ? AND m.value = ?)")
		args = append(args, name, lookup[name])
	}
	sb.WriteString(" ORDER BY d.id")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, repoErr(err, "find documents")
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, repoErr(err, "find documents")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, repoErr(err, "find documents")
	}
	return ids, nil
}

// CreateDocument stores a new document and returns its ID.
func (s *Session) CreateDocument(ctx context.Context, doc *types.DocInfo) (string, error) {
	id := uuid.NewString()
	if err := s.write(ctx, id, doc, true); err != nil {
		return "", err
	}
	return id, nil
}

// UpdateDocument replaces the metadata, ACLs and content of an existing document.
func (s *Session) UpdateDocument(ctx context.Context, id string, doc *types.DocInfo) error {
	return s.write(ctx, id, doc, false)
}

func (s *Session) write(ctx context.Context, id string, doc *types.DocInfo, create bool) (err error) {
	tmp, n, err := s.stageContent(ctx, id, doc.Data)
	if err != nil {
		return err
	}
	file := newContentFile(id)
	if err = os.Rename(tmp, s.contentPath(file)); err != nil {
		_ = os.Remove(tmp)
		return repoErr(err, "store content %s", id)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(s.contentPath(file))
		}
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return repoErr(err, "begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.checkPayload(ctx, tx, doc); err != nil {
		return err
	}

	var previous string
	now := time.Now().UnixMilli()
	if create {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO documents (id, content_file, content_length, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
			id, file, n, now, now)
		if err != nil {
			return repoErr(err, "insert document %s", id)
		}
	} else {
		if previous, err = s.contentFile(ctx, tx, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE documents SET content_file = ?, content_length = ?, updated_at = ? WHERE id = ?", file, n, now, id)
		if err != nil {
			return repoErr(err, "update document %s", id)
		}
		for _, stmt := range []string{
			"DELETE FROM document_metadata WHERE doc_id = ?",
			"DELETE FROM document_acl WHERE doc_id = ?",
		} {
			if _, err = tx.ExecContext(ctx, stmt, id); err != nil {
				return repoErr(err, "clear document %s", id)
			}
		}
	}

	for name, values := range doc.Metadata {
		for i, v := range values {
			if _, err = tx.ExecContext(ctx,
				"INSERT INTO document_metadata (doc_id, name, ord, value) VALUES (?, ?, ?, ?)",
				id, name, i, v); err != nil {
				return repoErr(err, "metadata %s", name)
			}
		}
	}
	for allow, principals := range map[int][]string{1: doc.Allowed, 0: doc.Disallowed} {
		for _, p := range principals {
			if _, err = tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO document_acl (doc_id, allow, principal_id) VALUES (?, ?, ?)",
				id, allow, p); err != nil {
				return repoErr(err, "acl %s", p)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return repoErr(err, "commit %s", id)
	}
	if previous != "" {
		// Leftover files are unreferenced; the committed row already names the new one.
		_ = os.Remove(s.contentPath(previous))
	}
	return nil
}

// checkPayload rejects metadata names the repository does not know and principals
// that do not exist.
func (s *Session) checkPayload(ctx context.Context, tx *sql.Tx, doc *types.DocInfo) error {
	for name := range doc.Metadata {
		var one int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM metadata_names WHERE name = ?", name).Scan(&one)
		if isNoRows(err) {
			return fmt.Errorf("%w: unknown metadata name %q", types.ErrRepository, name)
		}
		if err != nil {
			return repoErr(err, "metadata name %s", name)
		}
	}
	for _, p := range append(append([]string(nil), doc.Allowed...), doc.Disallowed...) {
		var one int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM principals WHERE id = ?", p).Scan(&one)
		if isNoRows(err) {
			return fmt.Errorf("%w: unknown user or group ID %q", types.ErrRepository, p)
		}
		if err != nil {
			return repoErr(err, "principal %s", p)
		}
	}
	return nil
}

// stageContent compresses data into a temp file next to its final location and
// returns the temp path and the uncompressed byte count. data is not closed.
func (s *Session) stageContent(ctx context.Context, id string, data io.Reader) (string, int64, error) {
	f, err := os.CreateTemp(filepath.Join(s.root, contentDir), id+".*.tmp")
	if err != nil {
		return "", 0, repoErr(err, "stage content")
	}
	tmp := f.Name()
	fail := func(err error) (string, int64, error) {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", 0, repoErr(err, "stage content %s", id)
	}

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fail(err)
	}
	var n int64
	if data != nil {
		n, err = io.Copy(enc, &ctxReader{ctx: ctx, r: data})
		if err != nil {
			_ = enc.Close()
			return fail(err)
		}
	}
	if err := enc.Close(); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", 0, repoErr(err, "stage content %s", id)
	}
	return tmp, n, nil
}

// DeleteDocument removes a document and its content.
func (s *Session) DeleteDocument(ctx context.Context, id string) error {
	file, err := s.contentFile(ctx, s.db, id)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return repoErr(err, "delete document %s", id)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return notFound("document", id)
	}
	if err := os.Remove(s.contentPath(file)); err != nil && !os.IsNotExist(err) {
		return repoErr(err, "delete content %s", id)
	}
	return nil
}

// FindUserOrGroup resolves a user or group name to its ID.
func (s *Session) FindUserOrGroup(ctx context.Context, name string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM principals WHERE name = ?", name).Scan(&id)
	if isNoRows(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, repoErr(err, "find user or group %q", name)
	}
	return id, true, nil
}

// MetadataNames lists the registered metadata names, sorted.
func (s *Session) MetadataNames(ctx context.Context) ([]string, error) {
	return s.strings(ctx, "SELECT name FROM metadata_names ORDER BY name")
}

// AddUserOrGroup registers a principal and returns its ID. Adding an existing name
// returns the ID it already has.
func (s *Session) AddUserOrGroup(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty user or group name", types.ErrRepository)
	}
	if id, ok, err := s.FindUserOrGroup(ctx, name); err != nil || ok {
		return id, err
	}
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, "INSERT INTO principals (id, name) VALUES (?, ?)", id, name); err != nil {
		return "", repoErr(err, "add user or group %q", name)
	}
	return id, nil
}

// AddMetadataName registers a metadata name so documents may carry it.
func (s *Session) AddMetadataName(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty metadata name", types.ErrRepository)
	}
	if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO metadata_names (name) VALUES (?)", name); err != nil {
		return repoErr(err, "add metadata name %q", name)
	}
	return nil
}

// Document loads a stored document without its content.
func (s *Session) Document(ctx context.Context, id string) (*StoredDocument, error) {
	doc := &StoredDocument{ID: id, Metadata: make(map[string][]string)}
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		"SELECT content_length, created_at, updated_at FROM documents WHERE id = ?", id).
		Scan(&doc.ContentLength, &created, &updated)
	if isNoRows(err) {
		return nil, notFound("document", id)
	}
	if err != nil {
		return nil, repoErr(err, "load document %s", id)
	}
	doc.CreatedAt = time.UnixMilli(created)
	doc.UpdatedAt = time.UnixMilli(updated)

	// The index has a single connection, so rows must be closed before the next query.
	if err := s.loadMetadata(ctx, id, doc.Metadata); err != nil {
		return nil, err
	}

	if doc.Allowed, err = s.strings(ctx,
		"SELECT principal_id FROM document_acl WHERE doc_id = ? AND allow = 1 ORDER BY principal_id", id); err != nil {
		return nil, err
	}
	if doc.Disallowed, err = s.strings(ctx,
		"SELECT principal_id FROM document_acl WHERE doc_id = ? AND allow = 0 ORDER BY principal_id", id); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Session) loadMetadata(ctx context.Context, id string, into map[string][]string) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, value FROM document_metadata WHERE doc_id = ? ORDER BY name, ord", id)
	if err != nil {
		return repoErr(err, "load metadata %s", id)
	}
	defer rows.Close()
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return repoErr(err, "load metadata %s", id)
		}
		into[name] = append(into[name], value)
	}
	if err := rows.Err(); err != nil {
		return repoErr(err, "load metadata %s", id)
	}
	return nil
}

// OpenContent streams a document's decompressed content.
func (s *Session) OpenContent(ctx context.Context, id string) (io.ReadCloser, error) {
	file, err := s.contentFile(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if file == "" {
		return nil, notFound("content", id)
	}
	f, err := os.Open(s.contentPath(file))
	if os.IsNotExist(err) {
		return nil, notFound("content", id)
	}
	if err != nil {
		return nil, repoErr(err, "open content %s", id)
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, repoErr(err, "open content %s", id)
	}
	return &contentReader{Decoder: dec, f: f}, nil
}

func (s *Session) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, repoErr(err, "query")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, repoErr(err, "query")
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, repoErr(err, "query")
	}
	return out, nil
}

type contentReader struct {
	*zstd.Decoder
	f *os.File
}

func (c *contentReader) Close() error {
	c.Decoder.Close()
	return c.f.Close()
}

// ctxReader stops a long upload as soon as ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
