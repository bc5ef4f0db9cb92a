package connector

import (
	"context"
	"errors"
	"time"

	"docs4usync/internal/types"
)

func (s *UnitTestSuite) TestActivitiesAndIndexable() {
	s.Equal([]string{"save", "delete"}, ActivitiesList())
	s.True(s.conn.CheckMimeTypeIndexable("application/x-anything"))
	s.True(s.conn.CheckDocumentIndexable("/tmp/f"))
	s.NoError(s.conn.NoteJobComplete(s.ctx()))
}

func (s *UnitTestSuite) TestConnectValidates() {
	c := New(Options{Repository: s.repo, Cache: s.cache})
	s.ErrorIs(c.Connect(types.ConnectionConfig{}), types.ErrInvalidConfig)
	s.False(c.Connected())
}

func (s *UnitTestSuite) TestGetOutputDescriptionValidates() {
	_, err := s.conn.GetOutputDescription(types.Specification{SecurityRule: types.SecurityRule{Pattern: "("}})
	s.ErrorIs(err, types.ErrInvalidSpecification)
}

func (s *UnitTestSuite) TestCheck() {
	msg, err := s.conn.Check(s.ctx())
	s.NoError(err)
	s.Equal("Connection working", msg)

	s.repo.sanity = errors.New("index corrupt")
	msg, err = s.conn.Check(s.ctx())
	s.NoError(err)
	s.Equal("Error: index corrupt", msg)

	s.repo.sanity = &types.ServiceInterruption{Message: "rebooting"}
	msg, err = s.conn.Check(s.ctx())
	s.NoError(err)
	s.Equal("Transient error: rebooting", msg)

	s.repo.failNext["open"] = errors.New("no such repository")
	s.conn.expireSession()
	_, err = s.conn.Check(s.ctx())
	s.Error(err)
}

func (s *UnitTestSuite) TestSessionLifetimeAndPoll() {
	_, err := s.conn.Check(s.ctx())
	s.NoError(err)
	s.Equal(1, s.repo.opens)

	s.advance(299 * time.Second)
	s.conn.Poll()
	_, err = s.conn.Check(s.ctx())
	s.NoError(err)
	s.Equal(1, s.repo.opens, "use renews the session")

	s.advance(299 * time.Second)
	s.conn.Poll()
	s.Zero(s.repo.closed)

	s.advance(time.Second)
	s.conn.Poll()
	s.Equal(1, s.repo.closed)

	_, err = s.conn.Check(s.ctx())
	s.NoError(err)
	s.Equal(2, s.repo.opens)
}

func (s *UnitTestSuite) TestReconnectToOtherRootClosesSession() {
	_, err := s.conn.Check(s.ctx())
	s.NoError(err)
	s.NoError(s.conn.Connect(types.ConnectionConfig{RootDirectory: "/repo"}))
	s.Zero(s.repo.closed)
	s.NoError(s.conn.Connect(types.ConnectionConfig{RootDirectory: "/elsewhere"}))
	s.Equal(1, s.repo.closed)
}

func (s *UnitTestSuite) TestMetadataNames() {
	s.repo.names = []string{"title", "author", "url"}
	names, err := s.conn.RequestInfo(s.ctx(), "metadata")
	s.NoError(err)
	s.Equal([]string{"author", "title", "url"}, names)

	_, err = s.conn.RequestInfo(s.ctx(), "weather")
	s.ErrorIs(err, types.ErrNotFound)
}

func (s *UnitTestSuite) TestInstallDeinstall() {
	ctx := s.ctx()
	s.NoError(s.conn.Install(ctx))
	s.NoError(s.cache.Store(ctx, "/repo", "a", "1", s.clock.Add(time.Hour).UnixMilli()))
	s.NoError(s.conn.Deinstall(ctx))
	_, ok, _ := s.cache.Lookup(ctx, "/repo", "a", s.clock)
	s.False(ok)
}

func (s *UnitTestSuite) TestPool() {
	p, err := NewPool(2, Options{Repository: s.repo, Cache: s.cache}, types.ConnectionConfig{RootDirectory: "/repo"})
	s.Require().NoError(err)
	s.Equal(2, p.Size())

	a, err := p.Acquire(s.ctx())
	s.NoError(err)
	b, err := p.Acquire(s.ctx())
	s.NoError(err)
	s.NotSame(a, b)

	ctx, cancel := context.WithTimeout(s.ctx(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	s.True(types.IsInterrupted(err))

	p.Release(a)
	p.Release(b)

	s.NoError(p.With(s.ctx(), func(c *Connector) error {
		_, err := c.Check(s.ctx())
		return err
	}))
	s.advance(time.Hour)
	p.PollIdle()
	s.Equal(1, s.repo.closed)

	s.NoError(p.Close(s.ctx()))
}

func (s *UnitTestSuite) TestPoolRejectsBadConfig() {
	_, err := NewPool(1, Options{Repository: s.repo, Cache: s.cache}, types.ConnectionConfig{})
	s.ErrorIs(err, types.ErrInvalidConfig)
}
