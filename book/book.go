// Package book defines the record type managed by booktracker and the
// store interface the protocol layer consumes.
//
// MemoryStore is the bundled Store implementation. It keeps records in memory
// and can optionally persist a snapshot of its contents after every mutation:
//
//	s, err := book.OpenMemoryStore(book.WithSnapshot("books.snap", book.CBORCodec{}))
//
// Snapshots may be sealed at rest with SealedCodec.
package book

import (
	"context"
	"strconv"
)

// Book is a single tracked record.
//
// ID is assigned by the Store on first Save and is nil until then.
type Book struct {
	ID     *int64 `json:"id" cbor:"1,keyasint"`
	Title  string `json:"title" cbor:"2,keyasint"`
	Author string `json:"author" cbor:"3,keyasint"`
	ISBN   string `json:"isbn" cbor:"4,keyasint"`
}

// New returns an unsaved Book.
func New(title, author, isbn string) Book {
	return Book{Title: title, Author: author, ISBN: isbn}
}

// HeartbeatTitle is the title carried by heartbeat pseudo-records.
const HeartbeatTitle = "ping"

// TombstonePrefix prefixes the title of deletion pseudo-records.
const TombstonePrefix = "deleted#"

// Heartbeat returns the pseudo-record emitted on idle streams.
func Heartbeat() Book {
	return Book{Title: HeartbeatTitle}
}

// Tombstone returns the pseudo-record announcing that id was deleted.
func Tombstone(id int64) Book {
	return Book{Title: TombstonePrefix + strconv.FormatInt(id, 10)}
}

// IsHeartbeat reports whether b is a heartbeat pseudo-record.
func (b Book) IsHeartbeat() bool {
	return b.ID == nil && b.Title == HeartbeatTitle && b.Author == "" && b.ISBN == ""
}

// WithID returns a copy of b with its ID set.
func (b Book) WithID(id int64) Book {
	b.ID = &id
	return b
}

// Store is the record store consumed by the protocol layer.
//
// All calls are synchronous and may block. FindByID reports absence through
// its boolean result, and DeleteByID is a no-op for an unknown id.
type Store interface {
	FindAll(ctx context.Context) ([]Book, error)
	FindByID(ctx context.Context, id int64) (Book, bool, error)
	FindByTitle(ctx context.Context, title string) ([]Book, error)
	FindByAuthor(ctx context.Context, author string) ([]Book, error)
	// Save inserts b, assigning an id if b.ID is nil, or replaces the record
	// with the same id. It returns the stored record.
	Save(ctx context.Context, b Book) (Book, error)
	DeleteByID(ctx context.Context, id int64) error
}
