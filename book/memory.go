package book

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// MemoryStore is a Store backed by a map.
//
// When configured WithSnapshot, every mutation rewrites the snapshot file
// before returning. A failed write rolls the mutation back and is returned
// to the caller.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[int64]Book
	nextID   int64
	snapshot *snapshotFile
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithSnapshot persists the store to path using codec.
func WithSnapshot(path string, codec SnapshotCodec) MemoryStoreOption {
	return func(s *MemoryStore) {
		if path == "" || codec == nil {
			return
		}
		s.snapshot = &snapshotFile{path: path, codec: codec}
	}
}

// NewMemoryStore returns an empty, non-persistent MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[int64]Book),
		nextID:  1,
	}
}

// OpenMemoryStore creates a MemoryStore and loads an existing snapshot, if
// one is configured and present.
func OpenMemoryStore(opts ...MemoryStoreOption) (*MemoryStore, error) {
	s := NewMemoryStore()
	for _, opt := range opts {
		opt(s)
	}
	if s.snapshot == nil {
		return s, nil
	}
	snap, err := s.snapshot.load()
	if err != nil {
		if errors.Is(err, errNoSnapshot) {
			return s, nil
		}
		return nil, err
	}
	for _, b := range snap.Records {
		if b.ID == nil {
			return nil, fmt.Errorf("book: snapshot %s: record without id", s.snapshot.path)
		}
		s.records[*b.ID] = b
		if *b.ID >= s.nextID {
			s.nextID = *b.ID + 1
		}
	}
	if snap.NextID > s.nextID {
		s.nextID = snap.NextID
	}
	return s, nil
}

func (s *MemoryStore) FindAll(ctx context.Context) ([]Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(Book) bool { return true }), nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id int64) (Book, bool, error) {
	if err := ctx.Err(); err != nil {
		return Book{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.records[id]
	return b, ok, nil
}

func (s *MemoryStore) FindByTitle(ctx context.Context, title string) ([]Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(b Book) bool { return b.Title == title }), nil
}

func (s *MemoryStore) FindByAuthor(ctx context.Context, author string) ([]Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(b Book) bool { return b.Author == author }), nil
}

func (s *MemoryStore) Save(ctx context.Context, b Book) (Book, error) {
	if err := ctx.Err(); err != nil {
		return Book{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prevNext := s.nextID
	if b.ID == nil {
		b = b.WithID(s.nextID)
		s.nextID++
	} else if *b.ID >= s.nextID {
		s.nextID = *b.ID + 1
	}
	id := *b.ID
	prev, existed := s.records[id]
	s.records[id] = b

	if err := s.persist(); err != nil {
		if existed {
			s.records[id] = prev
		} else {
			delete(s.records, id)
		}
		s.nextID = prevNext
		return Book{}, err
	}
	return b, nil
}

func (s *MemoryStore) DeleteByID(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.records[id]
	if !ok {
		return nil
	}
	delete(s.records, id)
	if err := s.persist(); err != nil {
		s.records[id] = prev
		return err
	}
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// collect returns matching records ordered by id. Caller must hold s.mu.
func (s *MemoryStore) collect(match func(Book) bool) []Book {
	out := make([]Book, 0, len(s.records))
	for _, id := range slices.Sorted(maps.Keys(s.records)) {
		if b := s.records[id]; match(b) {
			out = append(out, b)
		}
	}
	return out
}

// persist writes the snapshot, if configured. Caller must hold s.mu.
func (s *MemoryStore) persist() error {
	if s.snapshot == nil {
		return nil
	}
	return s.snapshot.store(Snapshot{
		NextID:  s.nextID,
		Records: s.collect(func(Book) bool { return true }),
	})
}

var _ Store = (*MemoryStore)(nil)
