package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnehpets/booktracker/book"
	"github.com/mnehpets/booktracker/library"
)

func newInvoker(t *testing.T) *Invoker {
	t.Helper()
	return NewInvoker(NewRegistry(), library.NewService(book.NewMemoryStore(), nil))
}

func TestRegistryCatalog(t *testing.T) {
	reg := NewRegistry()
	defs := reg.List()
	require.Len(t, defs, 7)

	want := map[string][]string{
		GetAllBooks:      {},
		GetBookByID:      {"id"},
		CreateBook:       {"title", "author", "isbn"},
		UpdateBook:       {"id", "title", "author", "isbn"},
		DeleteBook:       {"id"},
		FindBookByTitle:  {"title"},
		FindBookByAuthor: {"author"},
	}
	for _, d := range defs {
		req, ok := want[d.Name]
		require.True(t, ok, "unexpected tool %q", d.Name)
		assert.NotEmpty(t, d.Description)

		s := d.InputSchema()
		assert.Equal(t, "object", s.Type)
		assert.Equal(t, req, s.Required, d.Name)
		assert.Len(t, s.Properties, len(req))
		for _, name := range req {
			require.Contains(t, s.Properties, name)
		}
	}

	_, ok := reg.Lookup("nope")
	assert.False(t, ok)
}

func TestInputSchemaJSON(t *testing.T) {
	def, ok := NewRegistry().Lookup(GetBookByID)
	require.True(t, ok)
	b, err := json.Marshal(def.InputSchema())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object","properties":{"id":{"type":"number","description":"Book ID"}},"required":["id"]}`, string(b))

	// A tool without arguments still sends an empty required list.
	def, ok = NewRegistry().Lookup(GetAllBooks)
	require.True(t, ok)
	b, err = json.Marshal(def.InputSchema())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object","properties":{},"required":[]}`, string(b))
}

func TestExtract(t *testing.T) {
	def, _ := NewRegistry().Lookup(UpdateBook)
	cases := []struct {
		name    string
		args    map[string]any
		wantID  int64
		wantErr error
	}{
		{"float", map[string]any{"id": 3.0, "title": "t", "author": "a", "isbn": "i"}, 3, nil},
		{"truncated", map[string]any{"id": 3.9, "title": "t", "author": "a", "isbn": "i"}, 3, nil},
		{"string", map[string]any{"id": "42", "title": "t", "author": "a", "isbn": "i"}, 42, nil},
		{"json number", map[string]any{"id": json.Number("7"), "title": "t", "author": "a", "isbn": "i"}, 7, nil},
		{"missing id", map[string]any{"title": "t", "author": "a", "isbn": "i"}, 0, &MissingParameterError{}},
		{"null id", map[string]any{"id": nil, "title": "t", "author": "a", "isbn": "i"}, 0, &MissingParameterError{}},
		{"bad id", map[string]any{"id": "abc", "title": "t", "author": "a", "isbn": "i"}, 0, &InvalidParameterError{}},
		{"fractional string", map[string]any{"id": "1.5", "title": "t", "author": "a", "isbn": "i"}, 0, &InvalidParameterError{}},
		{"missing title", map[string]any{"id": 1.0, "author": "a", "isbn": "i"}, 0, &MissingParameterError{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := Extract(def, tc.args)
			switch want := tc.wantErr.(type) {
			case nil:
				require.NoError(t, err)
				assert.Equal(t, tc.wantID, a.Int("id"))
				assert.Equal(t, "t", a.Text("title"))
			case *MissingParameterError:
				require.ErrorAs(t, err, &want)
			case *InvalidParameterError:
				require.ErrorAs(t, err, &want)
			}
		})
	}
}

func TestExtractStringifiesValues(t *testing.T) {
	def, _ := NewRegistry().Lookup(CreateBook)
	a, err := Extract(def, map[string]any{"title": 1984.0, "author": true, "isbn": json.Number("123")})
	require.NoError(t, err)
	assert.Equal(t, "1984", a.Text("title"))
	assert.Equal(t, "true", a.Text("author"))
	assert.Equal(t, "123", a.Text("isbn"))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "unknown tool: x", (&UnknownToolError{Name: "x"}).Error())
	assert.Equal(t, "missing required parameter: id", (&MissingParameterError{Param: "id"}).Error())
	assert.Equal(t, "invalid number format for parameter 'id': abc", (&InvalidParameterError{Param: "id", Value: "abc"}).Error())
}

func TestInvokeLifecycle(t *testing.T) {
	inv := newInvoker(t)
	ctx := context.Background()

	res, err := inv.Invoke(ctx, CreateBook, map[string]any{"title": "Dune", "author": "Frank Herbert", "isbn": "1"})
	require.NoError(t, err)
	created, ok := res.(book.Book)
	require.True(t, ok)
	require.NotNil(t, created.ID)

	res, err = inv.Invoke(ctx, GetAllBooks, nil)
	require.NoError(t, err)
	assert.Equal(t, []book.Book{created}, res)

	res, err = inv.Invoke(ctx, GetBookByID, map[string]any{"id": float64(*created.ID)})
	require.NoError(t, err)
	assert.Equal(t, &created, res)

	res, err = inv.Invoke(ctx, UpdateBook, map[string]any{"id": "1", "title": "Dune Messiah", "author": "Frank Herbert", "isbn": "2"})
	require.NoError(t, err)
	updated, ok := res.(*book.Book)
	require.True(t, ok)
	assert.Equal(t, "Dune Messiah", updated.Title)

	res, err = inv.Invoke(ctx, FindBookByAuthor, map[string]any{"author": "Frank Herbert"})
	require.NoError(t, err)
	assert.Len(t, res, 1)

	res, err = inv.Invoke(ctx, FindBookByTitle, map[string]any{"title": "Dune"})
	require.NoError(t, err)
	assert.Empty(t, res)

	for range 2 {
		res, err = inv.Invoke(ctx, DeleteBook, map[string]any{"id": 1})
		require.NoError(t, err)
		assert.Equal(t, DeleteResult{Success: true, Message: "Book deleted successfully"}, res)
	}
}

func TestInvokeMissingRecordIsNotAnError(t *testing.T) {
	inv := newInvoker(t)
	res, err := inv.Invoke(context.Background(), GetBookByID, map[string]any{"id": 404})
	require.NoError(t, err)
	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}

func TestInvokeClientErrors(t *testing.T) {
	inv := newInvoker(t)
	ctx := context.Background()

	_, err := inv.Invoke(ctx, "launchRocket", nil)
	var unknown *UnknownToolError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "launchRocket", unknown.Name)
	assert.True(t, IsClientError(err))

	_, err = inv.Invoke(ctx, GetBookByID, map[string]any{"id": "abc"})
	assert.True(t, IsClientError(err))

	_, err = inv.Invoke(ctx, DeleteBook, map[string]any{})
	assert.True(t, IsClientError(err))
}

type brokenLibrary struct {
	Library
}

func (brokenLibrary) ListAll(context.Context) ([]book.Book, error) {
	return nil, errors.New("store offline")
}

func TestInvokeWrapsInternalErrors(t *testing.T) {
	inv := NewInvoker(NewRegistry(), brokenLibrary{})
	_, err := inv.Invoke(context.Background(), GetAllBooks, nil)

	var internal *InternalToolError
	require.ErrorAs(t, err, &internal)
	assert.Equal(t, GetAllBooks, internal.Tool)
	assert.False(t, IsClientError(err))
	assert.Contains(t, err.Error(), "store offline")
}
