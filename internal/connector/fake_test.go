package connector

import (
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"sync"

	"docs4usync/internal/ports"
	"docs4usync/internal/types"
)

type storedDoc struct {
	metadata   map[string][]string
	allowed    []string
	disallowed []string
	content    string
}

// fakeRepo is an in-memory repository that counts every call that would cross the
// network.
type fakeRepo struct {
	mu         sync.Mutex
	principals map[string]string
	docs       map[string]*storedDoc
	names      []string
	nextID     int

	opens    int
	calls    map[string]int
	failNext map[string]error
	sanity   error
	closed   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		principals: map[string]string{},
		docs:       map[string]*storedDoc{},
		calls:      map[string]int{},
		failNext:   map[string]error{},
	}
}

func (r *fakeRepo) remoteCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.opens
	for _, c := range r.calls {
		n += c
	}
	return n
}

func (r *fakeRepo) Open(_ context.Context, root string) (ports.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens++
	if err := r.failNext["open"]; err != nil {
		delete(r.failNext, "open")
		return nil, err
	}
	return &fakeSession{r: r}, nil
}

type fakeSession struct {
	r      *fakeRepo
	closed bool
}

func (s *fakeSession) enter(op string) error {
	s.r.calls[op]++
	if s.closed {
		return errors.New("session closed")
	}
	if err := s.r.failNext[op]; err != nil {
		delete(s.r.failNext, op)
		return err
	}
	return nil
}

func (s *fakeSession) FindDocuments(ctx context.Context, lookup map[string]string) ([]string, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if err := s.enter("find"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	for id, d := range s.r.docs {
		match := true
		for k, v := range lookup {
			vals := d.metadata[k]
			if len(vals) == 0 || vals[0] != v {
				match = false
			}
		}
		if match {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *fakeSession) store(doc *types.DocInfo) (*storedDoc, error) {
	var content []byte
	if doc.Data != nil {
		var err error
		if content, err = io.ReadAll(doc.Data); err != nil {
			return nil, err
		}
	}
	md := map[string][]string{}
	for k, v := range doc.Metadata {
		md[k] = append([]string(nil), v...)
	}
	return &storedDoc{metadata: md, allowed: doc.Allowed, disallowed: doc.Disallowed, content: string(content)}, nil
}

func (s *fakeSession) CreateDocument(_ context.Context, doc *types.DocInfo) (string, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if err := s.enter("create"); err != nil {
		return "", err
	}
	d, err := s.store(doc)
	if err != nil {
		return "", err
	}
	s.r.nextID++
	id := "D" + strconv.Itoa(s.r.nextID)
	s.r.docs[id] = d
	return id, nil
}

func (s *fakeSession) UpdateDocument(_ context.Context, id string, doc *types.DocInfo) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if err := s.enter("update"); err != nil {
		return err
	}
	if _, ok := s.r.docs[id]; !ok {
		return types.ErrNotFound
	}
	d, err := s.store(doc)
	if err != nil {
		return err
	}
	s.r.docs[id] = d
	return nil
}

func (s *fakeSession) DeleteDocument(_ context.Context, id string) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if err := s.enter("delete"); err != nil {
		return err
	}
	delete(s.r.docs, id)
	return nil
}

func (s *fakeSession) FindUserOrGroup(_ context.Context, name string) (string, bool, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if err := s.enter("user"); err != nil {
		return "", false, err
	}
	id, ok := s.r.principals[name]
	return id, ok, nil
}

func (s *fakeSession) MetadataNames(context.Context) ([]string, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if err := s.enter("names"); err != nil {
		return nil, err
	}
	return append([]string(nil), s.r.names...), nil
}

func (s *fakeSession) SanityCheck(context.Context) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if err := s.enter("sanity"); err != nil {
		return err
	}
	return s.r.sanity
}

func (s *fakeSession) Close() error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.closed = true
	s.r.closed++
	return nil
}
