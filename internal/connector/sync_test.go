package connector

import (
	"context"
	"errors"
	"strings"
	"time"

	"docs4usync/internal/acl"
	"docs4usync/internal/lock"
	"docs4usync/internal/outputdesc"
	"docs4usync/internal/types"
)

func (s *UnitTestSuite) exampleDescription() string {
	desc, err := s.conn.GetOutputDescription(types.Specification{
		URLMetadataName: "url",
		SecurityRule:    types.SecurityRule{Pattern: "^(.*)$", Replacement: "$1"},
		FieldMap:        map[string]string{"title": "subject"},
	})
	s.Require().NoError(err)
	return desc
}

func exampleDoc() *types.Document {
	return &types.Document{
		URI:           "http://x/doc1",
		Content:       strings.NewReader("hello world"),
		ContentLength: 11,
		ACL:           []string{"alice"},
		Fields: []types.Field{
			{Name: "title", Values: []string{"Hello"}},
			{Name: "internal", Values: []string{"dropped"}},
		},
	}
}

func (s *UnitTestSuite) lastActivity() types.Activity {
	recent := s.acts.Recent()
	s.Require().NotEmpty(recent)
	return recent[len(recent)-1]
}

func (s *UnitTestSuite) TestEndToEnd() {
	desc := s.exampleDescription()
	spec, err := outputdesc.Decode(desc)
	s.NoError(err)
	s.Equal("url", spec.URLMetadataName)
	s.Equal(types.SecurityRule{Pattern: "^(.*)$", Replacement: "$1"}, spec.SecurityRule)
	s.Equal(map[string]string{"title": "subject"}, spec.FieldMap)

	s.repo.principals["alice"] = "U100"
	status, err := s.conn.AddOrReplaceDocument(s.ctx(), "http://x/doc1", desc, exampleDoc(), "", s.acts)
	s.NoError(err)
	s.Equal(types.DocumentAccepted, status)

	s.Equal(1, s.repo.calls["find"])
	s.Equal(1, s.repo.calls["create"])
	s.Equal(0, s.repo.calls["update"])
	s.Require().Len(s.repo.docs, 1)
	for _, d := range s.repo.docs {
		s.Equal(map[string][]string{"url": {"http://x/doc1"}, "subject": {"Hello"}}, d.metadata)
		s.Equal([]string{"U100"}, d.allowed)
		s.Empty(d.disallowed)
		s.Equal("hello world", d.content)
	}

	a := s.lastActivity()
	s.Equal(types.ActivitySave, a.Kind)
	s.Equal(types.ResultOK, a.ResultCode)
	s.Equal("http://x/doc1", a.ObjectID)
	s.Equal(s.clock, a.StartTime)
	s.Require().NotNil(a.ByteCount)
	s.Equal(int64(11), *a.ByteCount)

	// Second upsert updates in place.
	status, err = s.conn.AddOrReplaceDocument(s.ctx(), "http://x/doc1", desc, exampleDoc(), "", s.acts)
	s.NoError(err)
	s.Equal(types.DocumentAccepted, status)
	s.Equal(1, s.repo.calls["create"])
	s.Equal(1, s.repo.calls["update"])
	s.Len(s.repo.docs, 1)
	s.Equal(1, s.repo.calls["user"], "resolved identity is served from the cache")
}

func (s *UnitTestSuite) TestDirectoryACLRejectedWithoutRemoteCalls() {
	doc := exampleDoc()
	doc.DirectoryACLCount = 2
	status, err := s.conn.AddOrReplaceDocument(s.ctx(), doc.URI, s.exampleDescription(), doc, "", s.acts)
	s.NoError(err)
	s.Equal(types.DocumentRejected, status)
	s.Zero(s.repo.remoteCalls())

	a := s.lastActivity()
	s.Equal(types.ResultRejected, a.ResultCode)
	s.Equal(ReasonDirectoryACLs, a.ResultReason)
	s.Equal(int64(0), *a.ByteCount)
}

func (s *UnitTestSuite) TestShareACLRejectedWithoutRemoteCalls() {
	for _, mutate := range []func(*types.Document){
		func(d *types.Document) { d.ShareACL = []string{"everyone"} },
		func(d *types.Document) { d.ShareDenyACL = []string{"guests"} },
	} {
		doc := exampleDoc()
		mutate(doc)
		status, err := s.conn.AddOrReplaceDocument(s.ctx(), doc.URI, s.exampleDescription(), doc, "", s.acts)
		s.NoError(err)
		s.Equal(types.DocumentRejected, status)
		s.Equal(ReasonShareACLs, s.lastActivity().ResultReason)
	}
	s.Zero(s.repo.remoteCalls())
}

func (s *UnitTestSuite) TestUnmappedTokenRejectsWholeDocument() {
	s.repo.principals["alice"] = "U100"
	doc := exampleDoc()
	doc.ACL = []string{"alice", "mallory"}
	status, err := s.conn.AddOrReplaceDocument(s.ctx(), doc.URI, s.exampleDescription(), doc, "", s.acts)
	s.NoError(err)
	s.Equal(types.DocumentRejected, status)
	s.Zero(s.repo.calls["find"])
	s.Zero(s.repo.calls["create"])
	s.Empty(s.repo.docs)
	s.Equal(ReasonACLNotMapped, s.lastActivity().ResultReason)

	doc = exampleDoc()
	doc.DenyACL = []string{"mallory"}
	status, err = s.conn.AddOrReplaceDocument(s.ctx(), doc.URI, s.exampleDescription(), doc, "", s.acts)
	s.NoError(err)
	s.Equal(types.DocumentRejected, status)
	s.Empty(s.repo.docs)
}

func (s *UnitTestSuite) TestSecurityRuleAppliedBeforeLookup() {
	s.repo.principals["alice"] = "U100"
	s.repo.principals["bob"] = "U200"
	desc, err := s.conn.GetOutputDescription(types.Specification{
		URLMetadataName: "url",
		SecurityRule:    types.SecurityRule{Pattern: `^CORP\\(\w+)$`, Replacement: "$1"},
	})
	s.Require().NoError(err)
	doc := exampleDoc()
	doc.ACL = []string{`CORP\alice`}
	doc.DenyACL = []string{`CORP\bob`}
	status, err := s.conn.AddOrReplaceDocument(s.ctx(), doc.URI, desc, doc, "", s.acts)
	s.NoError(err)
	s.Equal(types.DocumentAccepted, status)
	for _, d := range s.repo.docs {
		s.Equal([]string{"U100"}, d.allowed)
		s.Equal([]string{"U200"}, d.disallowed)
		s.Equal(map[string][]string{"url": {"http://x/doc1"}}, d.metadata, "no field map, nothing copied")
	}
}

func (s *UnitTestSuite) TestMappedFieldCannotOverrideURL() {
	desc, err := s.conn.GetOutputDescription(types.Specification{
		URLMetadataName: "url",
		FieldMap:        map[string]string{"link": "url"},
	})
	s.Require().NoError(err)
	doc := exampleDoc()
	doc.ACL = nil
	doc.Fields = []types.Field{{Name: "link", Values: []string{"http://elsewhere"}}}
	_, err = s.conn.AddOrReplaceDocument(s.ctx(), doc.URI, desc, doc, "", s.acts)
	s.NoError(err)
	for _, d := range s.repo.docs {
		s.Equal([]string{"http://x/doc1"}, d.metadata["url"])
	}
}

func (s *UnitTestSuite) TestMalformedDescriptionIsError() {
	status, err := s.conn.AddOrReplaceDocument(s.ctx(), "u", "garbage", exampleDoc(), "", s.acts)
	s.ErrorIs(err, types.ErrMalformedDescription)
	s.Equal(types.DocumentRejected, status)
	s.Zero(s.repo.remoteCalls())
	a := s.lastActivity()
	s.Equal(types.ResultError, a.ResultCode)
	s.NotEmpty(a.ResultReason)
}

func (s *UnitTestSuite) TestRepositoryErrorIsRecordedAndExpiresSession() {
	s.repo.principals["alice"] = "U100"
	boom := errors.New("disk full")
	s.repo.failNext["create"] = boom

	_, err := s.conn.AddOrReplaceDocument(s.ctx(), "http://x/doc1", s.exampleDescription(), exampleDoc(), "", s.acts)
	s.ErrorIs(err, boom)
	s.False(types.IsInterrupted(err))
	var si *types.ServiceInterruption
	s.False(errors.As(err, &si))
	s.Contains(err.Error(), "http://x/doc1")

	a := s.lastActivity()
	s.Equal(types.ResultError, a.ResultCode)
	s.Contains(a.ResultReason, "disk full")
	s.Equal(1, s.repo.closed)

	_, err = s.conn.AddOrReplaceDocument(s.ctx(), "http://x/doc1", s.exampleDescription(), exampleDoc(), "", s.acts)
	s.NoError(err)
	s.Equal(2, s.repo.opens, "a fresh session replaces the failed one")
}

func (s *UnitTestSuite) TestInterruptionSkipsActivity() {
	s.repo.principals["alice"] = "U100"
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.conn.AddOrReplaceDocument(ctx, "http://x/doc1", s.exampleDescription(), exampleDoc(), "", s.acts)
	s.Error(err)
	s.True(types.IsInterrupted(err))
	s.ErrorIs(err, types.ErrInterrupted)
	s.Empty(s.acts.Recent())
	s.Empty(s.repo.docs)

	err = s.conn.RemoveDocument(ctx, "http://x/doc1", s.exampleDescription(), s.acts)
	s.ErrorIs(err, types.ErrInterrupted)
	s.Empty(s.acts.Recent())
}

func (s *UnitTestSuite) TestDeadlineDuringLockWaitRecordsError() {
	locks := lock.NewTable()
	conn := New(Options{Repository: s.repo, Cache: s.cache, Locker: locks})
	s.Require().NoError(conn.Connect(types.ConnectionConfig{RootDirectory: "/repo"}))
	s.repo.principals["alice"] = "U100"

	unlock, err := locks.Lock(context.Background(), acl.LockName("/repo", "alice"))
	s.Require().NoError(err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = conn.AddOrReplaceDocument(ctx, "http://x/doc1", s.exampleDescription(), exampleDoc(), "", s.acts)
	s.Error(err)
	s.False(types.IsInterrupted(err))
	a := s.lastActivity()
	s.Equal(types.ActivitySave, a.Kind)
	s.Equal(types.ResultError, a.ResultCode)
	s.Empty(s.repo.docs)
}

func (s *UnitTestSuite) TestServiceInterruptionPassesThrough() {
	si := &types.ServiceInterruption{Message: "busy", RetryAfter: s.clock.Add(time.Minute)}
	s.repo.failNext["find"] = si
	err := s.conn.RemoveDocument(s.ctx(), "u", s.exampleDescription(), s.acts)
	s.Same(si, err)
	s.Equal(types.ResultError, s.lastActivity().ResultCode)
}

func (s *UnitTestSuite) TestRemoveDocument() {
	s.repo.principals["alice"] = "U100"
	desc := s.exampleDescription()
	_, err := s.conn.AddOrReplaceDocument(s.ctx(), "http://x/doc1", desc, exampleDoc(), "", s.acts)
	s.Require().NoError(err)

	s.NoError(s.conn.RemoveDocument(s.ctx(), "http://x/doc1", desc, s.acts))
	s.Empty(s.repo.docs)
	a := s.lastActivity()
	s.Equal(types.ActivityDelete, a.Kind)
	s.Equal(types.ResultOK, a.ResultCode)
	s.Nil(a.ByteCount)
}

func (s *UnitTestSuite) TestRemoveMissingDocumentIsOK() {
	s.NoError(s.conn.RemoveDocument(s.ctx(), "http://x/never", s.exampleDescription(), s.acts))
	s.Zero(s.repo.calls["delete"])
	a := s.lastActivity()
	s.Equal(types.ActivityDelete, a.Kind)
	s.Equal(types.ResultOK, a.ResultCode)
	s.Equal("http://x/never", a.ObjectID)
}

func (s *UnitTestSuite) TestNotConnected() {
	s.NoError(s.conn.Disconnect())
	s.False(s.conn.Connected())
	s.repo.principals["alice"] = "U100"
	_, err := s.conn.AddOrReplaceDocument(s.ctx(), "u", s.exampleDescription(), exampleDoc(), "", s.acts)
	s.ErrorIs(err, types.ErrNotConnected)
	err = s.conn.RemoveDocument(s.ctx(), "u", s.exampleDescription(), s.acts)
	s.ErrorIs(err, types.ErrNotConnected)
}

func (s *UnitTestSuite) TestExpiredCacheEntriesArePurgedBeforeTranslation() {
	ctx := s.ctx()
	s.NoError(s.cache.Store(ctx, "/other", "stale", "X", s.clock.UnixMilli()))
	s.repo.principals["alice"] = "U100"
	_, err := s.conn.AddOrReplaceDocument(ctx, "http://x/doc1", s.exampleDescription(), exampleDoc(), "", s.acts)
	s.NoError(err)
	_, ok, _ := s.cache.Lookup(ctx, "/other", "stale", s.clock.Add(-time.Hour))
	s.False(ok)
}
