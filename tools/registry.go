// Package tools defines the book tool catalog and executes tool calls.
//
// Each tool is described by a Definition listing its parameters. Arguments
// arrive as a loosely typed map; Extract validates and coerces them once into
// an Args bundle before the tool's handler runs.
package tools

import (
	"bytes"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

// Tool names.
const (
	GetAllBooks      = "getAllBooks"
	GetBookByID      = "getBookById"
	CreateBook       = "createBook"
	UpdateBook       = "updateBook"
	DeleteBook       = "deleteBook"
	FindBookByTitle  = "findBookByTitle"
	FindBookByAuthor = "findBookByAuthor"
)

// Kind is the JSON type of a parameter.
type Kind string

const (
	String Kind = "string"
	Number Kind = "number"
)

// Param describes one tool argument.
type Param struct {
	Name        string
	Kind        Kind
	Description string
	Required    bool
}

// Definition describes one tool.
type Definition struct {
	Name        string
	Description string
	Params      []Param
}

// InputSchema returns the JSON Schema of the tool's arguments object.
func (d Definition) InputSchema() Schema {
	s := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(d.Params)),
		Required:   []string{},
	}
	for _, p := range d.Params {
		s.Properties[p.Name] = &jsonschema.Schema{Type: string(p.Kind), Description: p.Description}
		if p.Required {
			s.Required = append(s.Required, p.Name)
		}
	}
	return Schema{s}
}

// Schema is a tool input schema as sent to clients. It always encodes a
// "required" array, empty when the tool takes no arguments.
type Schema struct {
	*jsonschema.Schema
}

func (s Schema) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(s.Schema)
	if err != nil || s.Schema == nil || len(s.Required) > 0 || !bytes.HasSuffix(b, []byte("}")) {
		return b, err
	}
	if bytes.Equal(b, []byte("{}")) {
		return []byte(`{"required":[]}`), nil
	}
	out := append(b[:len(b)-1:len(b)-1], `,"required":[]}`...)
	return out, nil
}

func required(name string, kind Kind, desc string) Param {
	return Param{Name: name, Kind: kind, Description: desc, Required: true}
}

var (
	idParam     = required("id", Number, "Book ID")
	titleParam  = required("title", String, "Book title")
	authorParam = required("author", String, "Book author")
	isbnParam   = required("isbn", String, "Book ISBN")
)

// Registry is the immutable tool catalog.
type Registry struct {
	defs   []Definition
	byName map[string]int
}

// NewRegistry returns the seven book tools in catalog order.
func NewRegistry() *Registry {
	defs := []Definition{
		{Name: GetAllBooks, Description: "Get all books"},
		{Name: GetBookByID, Description: "Get book by ID", Params: []Param{idParam}},
		{Name: CreateBook, Description: "Create a new book", Params: []Param{titleParam, authorParam, isbnParam}},
		{Name: UpdateBook, Description: "Update an existing book", Params: []Param{idParam, titleParam, authorParam, isbnParam}},
		{Name: DeleteBook, Description: "Delete a book by ID", Params: []Param{idParam}},
		{Name: FindBookByTitle, Description: "Find books by title", Params: []Param{required("title", String, "Book title to search for")}},
		{Name: FindBookByAuthor, Description: "Find books by author", Params: []Param{required("author", String, "Author name to search for")}},
	}
	r := &Registry{defs: defs, byName: make(map[string]int, len(defs))}
	for i, d := range defs {
		r.byName[d.Name] = i
	}
	return r
}

// List returns every definition in catalog order.
func (r *Registry) List() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Lookup returns the definition named name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}
