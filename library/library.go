// Package library provides the record operations shared by the REST and tool
// surfaces, and notifies stream subscribers of every mutation.
package library

import (
	"context"
	"io"
	"log/slog"

	"github.com/mnehpets/booktracker/book"
)

// Publisher receives mutation notifications. Publish must not block.
type Publisher interface {
	Publish(book.Book)
}

// Service runs record operations against a Store and publishes the outcome of
// every successful mutation.
type Service struct {
	store book.Store
	pub   Publisher
	log   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService creates a Service. A nil publisher disables notifications.
func NewService(store book.Store, pub Publisher, opts ...Option) *Service {
	s := &Service{
		store: store,
		pub:   pub,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "library")
	return s
}

func (s *Service) ListAll(ctx context.Context) ([]book.Book, error) {
	return s.store.FindAll(ctx)
}

// Get returns the record with id, or nil if there is none.
func (s *Service) Get(ctx context.Context, id int64) (*book.Book, error) {
	b, ok, err := s.store.FindByID(ctx, id)
	if err != nil || !ok {
		return nil, err
	}
	return &b, nil
}

func (s *Service) FindByTitle(ctx context.Context, title string) ([]book.Book, error) {
	return s.store.FindByTitle(ctx, title)
}

func (s *Service) FindByAuthor(ctx context.Context, author string) ([]book.Book, error) {
	return s.store.FindByAuthor(ctx, author)
}

// Create stores a new record and publishes it.
func (s *Service) Create(ctx context.Context, title, author, isbn string) (book.Book, error) {
	saved, err := s.store.Save(ctx, book.New(title, author, isbn))
	if err != nil {
		return book.Book{}, err
	}
	s.publish("create", saved)
	return saved, nil
}

// Update replaces the fields of an existing record and publishes it. If no
// record has id, Update returns nil and publishes nothing.
func (s *Service) Update(ctx context.Context, id int64, title, author, isbn string) (*book.Book, error) {
	existing, ok, err := s.store.FindByID(ctx, id)
	if err != nil || !ok {
		return nil, err
	}
	existing.Title = title
	existing.Author = author
	existing.ISBN = isbn
	saved, err := s.store.Save(ctx, existing)
	if err != nil {
		return nil, err
	}
	s.publish("update", saved)
	return &saved, nil
}

// Delete removes the record with id and publishes a tombstone. Deleting an
// id that does not exist succeeds.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteByID(ctx, id); err != nil {
		return err
	}
	s.publish("delete", book.Tombstone(id))
	return nil
}

func (s *Service) publish(op string, b book.Book) {
	if s.pub == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("notification failed", "op", op, "panic", r)
		}
	}()
	s.pub.Publish(b)
}
