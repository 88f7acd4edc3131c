package records

import (
	"context"
	"slices"
	"strings"
	"sync"

	"foodlink/pkg/platform/sentinel"
	"foodlink/pkg/requestcontext"
)

// InMemoryStore keeps documents in process memory. It backs tests and
// single-node development runs.
type InMemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*Document
	hub  *hub
}

// NewInMemoryStore creates an empty store. watchBuffer <= 0 uses
// DefaultWatchBuffer.
func NewInMemoryStore(watchBuffer int) *InMemoryStore {
	return &InMemoryStore{
		docs: make(map[string]*Document),
		hub:  newHub(watchBuffer),
	}
}

func (s *InMemoryStore) Get(_ context.Context, key Key) (*Document, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key.String()]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return doc.clone(), nil
}

func (s *InMemoryStore) Create(ctx context.Context, key Key, fields Fields) (*Document, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	s.mu.Lock()
	if _, ok := s.docs[key.String()]; ok {
		s.mu.Unlock()
		return nil, sentinel.ErrAlreadyUsed
	}
	doc := &Document{Key: key, Fields: fields.compact(), Version: 1, CreatedAt: now, UpdatedAt: now}
	s.docs[key.String()] = doc
	out := doc.clone()
	s.hub.publish(Change{Type: ChangeAdded, Key: key, Doc: doc.clone()})
	s.mu.Unlock()
	return out, nil
}

func (s *InMemoryStore) Set(ctx context.Context, key Key, fields Fields) (*Document, error) {
	return s.upsert(ctx, key, func(Fields) Fields { return fields.compact() })
}

func (s *InMemoryStore) Merge(ctx context.Context, key Key, fields Fields) (*Document, error) {
	return s.upsert(ctx, key, func(existing Fields) Fields { return existing.applied(fields) })
}

func (s *InMemoryStore) upsert(ctx context.Context, key Key, body func(existing Fields) Fields) (*Document, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.docs[key.String()]
	if !ok {
		doc := &Document{Key: key, Fields: body(nil), Version: 1, CreatedAt: now, UpdatedAt: now}
		s.docs[key.String()] = doc
		s.hub.publish(Change{Type: ChangeAdded, Key: key, Doc: doc.clone()})
		return doc.clone(), nil
	}
	doc := &Document{
		Key:       key,
		Fields:    body(existing.Fields),
		Version:   existing.Version + 1,
		CreatedAt: existing.CreatedAt,
		UpdatedAt: now,
	}
	s.docs[key.String()] = doc
	s.hub.publish(Change{Type: ChangeModified, Key: key, Doc: doc.clone()})
	return doc.clone(), nil
}

func (s *InMemoryStore) Update(ctx context.Context, key Key, fields Fields, ifVersion int64) (*Document, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.docs[key.String()]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if ifVersion != AnyVersion && existing.Version != ifVersion {
		return nil, sentinel.ErrConflict
	}
	doc := &Document{
		Key:       key,
		Fields:    existing.Fields.applied(fields),
		Version:   existing.Version + 1,
		CreatedAt: existing.CreatedAt,
		UpdatedAt: now,
	}
	s.docs[key.String()] = doc
	s.hub.publish(Change{Type: ChangeModified, Key: key, Doc: doc.clone()})
	return doc.clone(), nil
}

func (s *InMemoryStore) Delete(_ context.Context, key Key, ifVersion int64) error {
	if err := key.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.docs[key.String()]
	if !ok {
		return sentinel.ErrNotFound
	}
	if ifVersion != AnyVersion && existing.Version != ifVersion {
		return sentinel.ErrConflict
	}
	delete(s.docs, key.String())
	s.hub.publish(Change{Type: ChangeRemoved, Key: key})
	return nil
}

func (s *InMemoryStore) List(_ context.Context, path Path) ([]*Document, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	prefix := path.String() + "/"
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Document
	for k, doc := range s.docs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, doc.clone())
		}
	}
	sortDocuments(out)
	return out, nil
}

func (s *InMemoryStore) QueryGroup(_ context.Context, subcollection, field, value string) ([]*Document, error) {
	if err := validSegment("subcollection", subcollection); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Document
	for _, doc := range s.docs {
		if doc.Key.Subcollection == subcollection && doc.Fields[field] == value {
			out = append(out, doc.clone())
		}
	}
	sortDocuments(out)
	return out, nil
}

func (s *InMemoryStore) Watch(ctx context.Context, path Path) (<-chan Change, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	return s.hub.subscribe(ctx, path), nil
}

// sortDocuments orders by full key, which is document id order within one path.
func sortDocuments(docs []*Document) {
	slices.SortFunc(docs, func(a, b *Document) int {
		return strings.Compare(a.Key.String(), b.Key.String())
	})
}
