package connector

import (
	"io"
	"strings"

	"docs4usync/internal/backends/memory"
	"docs4usync/internal/docs4u"
	"docs4usync/internal/lock"
	"docs4usync/internal/types"
)

func (s *UnitTestSuite) TestAgainstDocs4URepository() {
	ctx := s.ctx()
	root := s.T().TempDir()
	s.Require().NoError(docs4u.Create(ctx, root))
	admin, err := docs4u.Open(ctx, root)
	s.Require().NoError(err)
	defer admin.Close()
	for _, n := range []string{"url", "subject"} {
		s.Require().NoError(admin.AddMetadataName(ctx, n))
	}
	alice, err := admin.AddUserOrGroup(ctx, "alice")
	s.Require().NoError(err)

	c := New(Options{Repository: docs4u.Factory{}, Cache: memory.NewIdentityCache(), Locker: lock.NewTable()})
	s.Require().NoError(c.Connect(types.ConnectionConfig{RootDirectory: root}))
	defer c.Disconnect()

	msg, err := c.Check(ctx)
	s.NoError(err)
	s.Equal("Connection working", msg)

	names, err := c.MetadataNames(ctx)
	s.NoError(err)
	s.Equal([]string{"subject", "url"}, names)

	desc := s.exampleDescription()
	status, err := c.AddOrReplaceDocument(ctx, "http://x/doc1", desc, exampleDoc(), "", s.acts)
	s.NoError(err)
	s.Equal(types.DocumentAccepted, status)

	doc := exampleDoc()
	doc.Content = strings.NewReader("v2")
	doc.ContentLength = 2
	status, err = c.AddOrReplaceDocument(ctx, "http://x/doc1", desc, doc, "", s.acts)
	s.NoError(err)
	s.Equal(types.DocumentAccepted, status)

	ids, err := admin.FindDocuments(ctx, map[string]string{"url": "http://x/doc1"})
	s.NoError(err)
	s.Require().Len(ids, 1)
	stored, err := admin.Document(ctx, ids[0])
	s.NoError(err)
	s.Equal([]string{"Hello"}, stored.Metadata["subject"])
	s.Equal([]string{alice}, stored.Allowed)
	rc, err := admin.OpenContent(ctx, ids[0])
	s.NoError(err)
	body, _ := io.ReadAll(rc)
	rc.Close()
	s.Equal("v2", string(body))

	s.NoError(c.RemoveDocument(ctx, "http://x/doc1", desc, s.acts))
	ids, err = admin.FindDocuments(ctx, map[string]string{"url": "http://x/doc1"})
	s.NoError(err)
	s.Empty(ids)
}
