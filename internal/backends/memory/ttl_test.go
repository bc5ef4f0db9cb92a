package memory

import (
	"context"
	"time"
)

func (s *UnitTestSuite) TestTTLCache() {
	c := NewTTL[string, string]()
	t0 := time.UnixMilli(1_700_000_000_000)
	c.Set("key1", "value1", t0.Add(200*time.Millisecond))
	v, ok := c.Get("key1", t0)
	s.True(ok)
	s.Equal("value1", v)

	v, ok = c.Get("key1", t0.Add(200*time.Millisecond))
	s.False(ok)
	s.Equal("", v)

	s.Equal(1, c.Purge(t0.Add(time.Second)))
	s.Equal(0, c.Len())
}

func (s *UnitTestSuite) TestIdentityCacheExpiryBoundary() {
	ctx := context.Background()
	c := NewIdentityCache()
	t0 := time.UnixMilli(1_700_000_000_000)
	s.NoError(c.Store(ctx, "/repo", "alice", "U100", t0.UnixMilli()+300000))

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
}

func (s *UnitTestSuite) TestIdentityCacheScopes() {
	ctx := context.Background()
	c := NewIdentityCache()
	now := time.UnixMilli(1_700_000_000_000)
	exp := now.UnixMilli() + 1000
	s.NoError(c.Store(ctx, "/a", "bob", "U1", exp))
	s.NoError(c.Store(ctx, "/b", "bob", "U2", exp))

	id, ok, _ := c.Lookup(ctx, "/a", "bob", now)
	s.True(ok)
	s.Equal("U1", id)
	id, ok, _ = c.Lookup(ctx, "/b", "bob", now)
	s.True(ok)
	s.Equal("U2", id)

	// Overwrite
	s.NoError(c.Store(ctx, "/a", "bob", "U3", exp))
	id, _, _ = c.Lookup(ctx, "/a", "bob", now)
	s.Equal("U3", id)
}

func (s *UnitTestSuite) TestIdentityCachePurge() {
	ctx := context.Background()
	c := NewIdentityCache()
	now := time.UnixMilli(1_700_000_000_000)
	s.NoError(c.Store(ctx, "/a", "old", "U1", now.UnixMilli()-1))
	s.NoError(c.Store(ctx, "/a", "edge", "U2", now.UnixMilli()))
	s.NoError(c.Store(ctx, "/a", "new", "U3", now.UnixMilli()+1))

	s.NoError(c.PurgeExpired(ctx, now))
	s.Equal(1, c.entries.Len())
	_, ok, _ := c.Lookup(ctx, "/a", "new", now)
	s.True(ok)

	s.NoError(c.Destroy(ctx))
	s.Equal(0, c.entries.Len())
}
