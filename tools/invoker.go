package tools

import (
	"context"
	"io"
	"log/slog"

	"github.com/mnehpets/booktracker/book"
)

// Library is the set of record operations the tools call.
type Library interface {
	ListAll(ctx context.Context) ([]book.Book, error)
	Get(ctx context.Context, id int64) (*book.Book, error)
	FindByTitle(ctx context.Context, title string) ([]book.Book, error)
	FindByAuthor(ctx context.Context, author string) ([]book.Book, error)
	Create(ctx context.Context, title, author, isbn string) (book.Book, error)
	Update(ctx context.Context, id int64, title, author, isbn string) (*book.Book, error)
	Delete(ctx context.Context, id int64) error
}

// DeleteResult is the result of deleteBook.
type DeleteResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type handler func(ctx context.Context, lib Library, a Args) (any, error)

var handlers = map[string]handler{
	GetAllBooks: func(ctx context.Context, lib Library, _ Args) (any, error) {
		return lib.ListAll(ctx)
	},
	GetBookByID: func(ctx context.Context, lib Library, a Args) (any, error) {
		return lib.Get(ctx, a.Int("id"))
	},
	CreateBook: func(ctx context.Context, lib Library, a Args) (any, error) {
		return lib.Create(ctx, a.Text("title"), a.Text("author"), a.Text("isbn"))
	},
	UpdateBook: func(ctx context.Context, lib Library, a Args) (any, error) {
		return lib.Update(ctx, a.Int("id"), a.Text("title"), a.Text("author"), a.Text("isbn"))
	},
	DeleteBook: func(ctx context.Context, lib Library, a Args) (any, error) {
		if err := lib.Delete(ctx, a.Int("id")); err != nil {
			return nil, err
		}
		return DeleteResult{Success: true, Message: "Book deleted successfully"}, nil
	},
	FindBookByTitle: func(ctx context.Context, lib Library, a Args) (any, error) {
		return lib.FindByTitle(ctx, a.Text("title"))
	},
	FindBookByAuthor: func(ctx context.Context, lib Library, a Args) (any, error) {
		return lib.FindByAuthor(ctx, a.Text("author"))
	},
}

// Invoker executes tool calls against a Library.
type Invoker struct {
	reg *Registry
	lib Library
	log *slog.Logger
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) InvokerOption {
	return func(inv *Invoker) {
		if log != nil {
			inv.log = log
		}
	}
}

// NewInvoker creates an Invoker for the tools in reg.
func NewInvoker(reg *Registry, lib Library, opts ...InvokerOption) *Invoker {
	inv := &Invoker{
		reg: reg,
		lib: lib,
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(inv)
	}
	inv.log = inv.log.With("component", "tools")
	return inv
}

// Invoke runs the tool name with args.
//
// Input faults are returned as *UnknownToolError, *MissingParameterError or
// *InvalidParameterError. Any other failure is wrapped in *InternalToolError.
// A lookup that finds nothing is a successful call with a nil result.
func (inv *Invoker) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	def, ok := inv.reg.Lookup(name)
	h, known := handlers[name]
	if !ok || !known {
		return nil, &UnknownToolError{Name: name}
	}
	a, err := Extract(def, args)
	if err != nil {
		return nil, err
	}
	res, err := h(ctx, inv.lib, a)
	if err != nil {
		inv.log.Error("tool failed", "tool", name, "error", err)
		return nil, &InternalToolError{Tool: name, Err: err}
	}
	return res, nil
}
