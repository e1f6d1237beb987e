// Package api serves the book REST endpoints, the live mutation streams and
// the MCP JSON-RPC endpoint over HTTP.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/mnehpets/booktracker/book"
	"github.com/mnehpets/booktracker/broadcast"
	"github.com/mnehpets/booktracker/endpoint"
)

// Library is the record service behind the REST endpoints.
type Library interface {
	ListAll(ctx context.Context) ([]book.Book, error)
	Get(ctx context.Context, id int64) (*book.Book, error)
	Create(ctx context.Context, title, author, isbn string) (book.Book, error)
	Update(ctx context.Context, id int64, title, author, isbn string) (*book.Book, error)
	Delete(ctx context.Context, id int64) error
}

// Events hands out subscriptions to record mutations.
type Events interface {
	Subscribe(ctx context.Context) *broadcast.Subscription[book.Book]
}

// Books implements the /api/books endpoints.
type Books struct {
	lib      Library
	events   Events
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// BooksOption configures Books.
type BooksOption func(*Books)

// WithBooksLogger sets the logger.
func WithBooksLogger(log *slog.Logger) BooksOption {
	return func(b *Books) {
		if log != nil {
			b.log = log
		}
	}
}

// WithOriginCheck sets the WebSocket origin check. The default accepts every
// origin, leaving origin policy to the CORS processor.
func WithOriginCheck(check func(r *http.Request) bool) BooksOption {
	return func(b *Books) {
		b.upgrader.CheckOrigin = check
	}
}

func NewBooks(lib Library, events Events, opts ...BooksOption) *Books {
	b := &Books{
		lib:    lib,
		events: events,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With("component", "api")
	return b
}

// BookInput is the request body for create and update.
type BookInput struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	ISBN   string `json:"isbn"`
}

type idParams struct {
	ID int64 `path:"id"`
}

type createParams struct {
	Book BookInput `body:""`
}

type updateParams struct {
	ID   int64     `path:"id"`
	Book BookInput `body:""`
}

// List answers GET /api/books.
func (b *Books) List(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	all, err := b.lib.ListAll(r.Context())
	if err != nil {
		return nil, b.storeError("list", err)
	}
	if all == nil {
		all = []book.Book{}
	}
	return &endpoint.JSONRenderer{Value: all}, nil
}

// Get answers GET /api/books/{id}. An unknown id yields JSON null.
func (b *Books) Get(w http.ResponseWriter, r *http.Request, p idParams) (endpoint.Renderer, error) {
	found, err := b.lib.Get(r.Context(), p.ID)
	if err != nil {
		return nil, b.storeError("get", err)
	}
	return &endpoint.JSONRenderer{Value: found}, nil
}

// Create answers POST /api/books.
func (b *Books) Create(w http.ResponseWriter, r *http.Request, p createParams) (endpoint.Renderer, error) {
	created, err := b.lib.Create(r.Context(), p.Book.Title, p.Book.Author, p.Book.ISBN)
	if err != nil {
		return nil, b.storeError("create", err)
	}
	return &endpoint.JSONRenderer{Value: created}, nil
}

// Update answers PUT /api/books/{id}. An unknown id yields JSON null.
func (b *Books) Update(w http.ResponseWriter, r *http.Request, p updateParams) (endpoint.Renderer, error) {
	updated, err := b.lib.Update(r.Context(), p.ID, p.Book.Title, p.Book.Author, p.Book.ISBN)
	if err != nil {
		return nil, b.storeError("update", err)
	}
	return &endpoint.JSONRenderer{Value: updated}, nil
}

// Delete answers DELETE /api/books/{id}. Unknown ids are not an error.
func (b *Books) Delete(w http.ResponseWriter, r *http.Request, p idParams) (endpoint.Renderer, error) {
	if err := b.lib.Delete(r.Context(), p.ID); err != nil {
		return nil, b.storeError("delete", err)
	}
	return &endpoint.NoContentRenderer{}, nil
}

func (b *Books) storeError(op string, err error) error {
	b.log.Error("store operation failed", "op", op, "error", err)
	return endpoint.Error(http.StatusInternalServerError, "", err)
}
