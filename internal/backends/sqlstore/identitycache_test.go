package sqlstore

import (
	"context"
	"os"
	"time"

	"docs4usync/internal/ports"
	"docs4usync/internal/types"
)

var _ ports.IdentityCache = (*IdentityCache)(nil)

func exerciseCache(s *UnitTestSuite, c *IdentityCache) {
	ctx := context.Background()
	t0 := time.UnixMilli(1_700_000_000_000)

	s.NoError(c.Store(ctx, "/repo", "alice", "U100", t0.UnixMilli()+300000))
	s.NoError(c.Store(ctx, "/other", "alice", "U900", t0.UnixMilli()+300000))

	id, ok, err := c.Lookup(ctx, "/repo", "alice", t0.Add(299999*time.Millisecond))
	s.NoError(err)
	s.True(ok)
	s.Equal("U100", id)

	_, ok, err = c.Lookup(ctx, "/repo", "alice", t0.Add(300000*time.Millisecond))
	s.NoError(err)
	s.False(ok)

	_, ok, err = c.Lookup(ctx, "/repo", "alice", t0.Add(300001*time.Millisecond))
	s.NoError(err)
	s.False(ok)

	id, ok, err = c.Lookup(ctx, "/other", "alice", t0)
	s.NoError(err)
	s.True(ok)
	s.Equal("U900", id)

	// overwrite
	s.NoError(c.Store(ctx, "/repo", "alice", "U101", t0.UnixMilli()+600000))
	id, ok, err = c.Lookup(ctx, "/repo", "alice", t0.Add(400000*time.Millisecond))
	s.NoError(err)
	s.True(ok)
	s.Equal("U101", id)

	s.NoError(c.PurgeExpired(ctx, t0.Add(500000*time.Millisecond)))
	_, ok, err = c.Lookup(ctx, "/other", "alice", t0)
	s.NoError(err)
	s.False(ok, "purged entry must be gone even at an earlier clock")
	_, ok, err = c.Lookup(ctx, "/repo", "alice", t0)
	s.NoError(err)
	s.True(ok)
}

func (s *UnitTestSuite) TestSQLite() {
	exerciseCache(s, s.cache)
}

func (s *UnitTestSuite) TestLookupMissing() {
	_, ok, err := s.cache.Lookup(context.Background(), "/repo", "nobody", time.Now())
	s.NoError(err)
	s.False(ok)
}

func (s *UnitTestSuite) TestDestroyAndReinitialize() {
	ctx := context.Background()
	s.NoError(s.cache.Store(ctx, "/repo", "bob", "U2", time.Now().Add(time.Hour).UnixMilli()))
	s.NoError(s.cache.Destroy(ctx))
	s.NoError(s.cache.Destroy(ctx))

	_, _, err := s.cache.Lookup(ctx, "/repo", "bob", time.Now())
	s.ErrorIs(err, types.ErrDataStoreAccess)

	s.NoError(s.cache.Initialize(ctx))
	_, ok, err := s.cache.Lookup(ctx, "/repo", "bob", time.Now())
	s.NoError(err)
	s.False(ok)
}

func (s *UnitTestSuite) TestBind() {
	pg := New(nil, DialectPostgres, "")
	s.Equal("a = $1 AND b = $2", pg.bind("a = ? AND b = ?"))
	lite := New(nil, DialectSQLite, "")
	s.Equal("a = ? AND b = ?", lite.bind("a = ? AND b = ?"))
}

func (s *UnitTestSuite) TestOpenUnknownDialect() {
	_, err := Open("mysql", "x", "")
	s.ErrorIs(err, types.ErrInvalidBackend)
}

func (s *UnitTestSuite) TestPostgres() {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		s.T().Skip("TEST_POSTGRES_DSN not set")
	}
	c, err := Open(DialectPostgres, dsn, "docs4u_usergroup_lookup_test")
	s.Require().NoError(err)
	defer c.Close()
	ctx := context.Background()
	s.Require().NoError(c.Destroy(ctx))
	s.Require().NoError(c.Initialize(ctx))
	defer c.Destroy(ctx)
	exerciseCache(s, c)
}
