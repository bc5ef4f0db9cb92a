// Package sqlstore keeps the identity cache in a SQL table, on Postgres or SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"docs4usync/internal/types"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"

	DefaultTable = "docs4u_usergroup_lookup"

	operationTimeout = 5 * time.Second
)

// IdentityCache implements ports.IdentityCache over database/sql.
type IdentityCache struct {
	db      *sql.DB
	dialect string
	table   string
}

// Open connects with the driver for dialect. For SQLite, dsn is a file path.
func Open(dialect, dsn, table string) (*IdentityCache, error) {
	if dialect != DialectPostgres && dialect != DialectSQLite {
		return nil, fmt.Errorf("%w: unknown sql dialect %q", types.ErrInvalidBackend, dialect)
	}
	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, types.Err(types.ErrDataStoreAccess, err, "open %s", dialect)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			_ = db.Close()
			return nil, types.Err(types.ErrDataStoreAccess, err, "configure sqlite")
		}
	}
	return New(db, dialect, table), nil
}

// New wraps an existing handle; the caller keeps ownership of db unless Close is called.
func New(db *sql.DB, dialect, table string) *IdentityCache {
	if table == "" {
		table = DefaultTable
	}
	return &IdentityCache{db: db, dialect: dialect, table: table}
}

func (c *IdentityCache) Close() error {
	return c.db.Close()
}

// bind rewrites ?-placeholders for dialects that number them.
func (c *IdentityCache) bind(query string) string {
	if c.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

func (c *IdentityCache) Initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			scope_key  TEXT   NOT NULL,
			name       TEXT   NOT NULL,
			target_id  TEXT   NOT NULL,
			expires_at BIGINT NOT NULL,
			PRIMARY KEY (scope_key, name)
		)`, c.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_expires_idx ON %s (expires_at)", c.table, c.table),
	}
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return types.Err(types.ErrDataStoreAccess, err, "create table %s", c.table)
		}
	}
	return nil
}

func (c *IdentityCache) Destroy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", c.table)); err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "drop table %s", c.table)
	}
	return nil
}

func (c *IdentityCache) Lookup(ctx context.Context, scopeKey, name string, now time.Time) (string, bool, error) {
	var entry types.IdentityEntry
	row := c.db.QueryRowContext(ctx,
		c.bind(fmt.Sprintf("SELECT target_id, expires_at FROM %s WHERE scope_key = ? AND name = ?", c.table)),
		scopeKey, name)
	switch err := row.Scan(&entry.TargetID, &entry.ExpiresAt); {
	case err == sql.ErrNoRows:
		return "", false, nil
	case err != nil:
		return "", false, types.Err(types.ErrDataStoreAccess, err, "lookup %q", name)
	}
	if !entry.Live(now) {
		return "", false, nil
	}
	return entry.TargetID, true, nil
}

func (c *IdentityCache) Store(ctx context.Context, scopeKey, name, targetID string, expiresAt int64) error {
	_, err := c.db.ExecContext(ctx, c.bind(fmt.Sprintf(`
		INSERT INTO %s (scope_key, name, target_id, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (scope_key, name) DO UPDATE SET
			target_id = excluded.target_id,
			expires_at = excluded.expires_at`, c.table)),
		scopeKey, name, targetID, expiresAt)
	if err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "store %q", name)
	}
	return nil
}

func (c *IdentityCache) PurgeExpired(ctx context.Context, now time.Time) error {
	res, err := c.db.ExecContext(ctx,
		c.bind(fmt.Sprintf("DELETE FROM %s WHERE expires_at <= ?", c.table)),
		now.UnixMilli())
	if err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "purge expired")
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.WithField("count", n).Debug("purged expired identity cache entries")
	}
	return nil
}
