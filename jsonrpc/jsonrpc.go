package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mnehpets/booktracker/endpoint"
)

const (
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// DefaultBatchLimit bounds how many elements of one batch run concurrently.
const DefaultBatchLimit = 8

// Error is a JSON-RPC error object. Methods return *Error to choose the code
// and message sent to the client; any other error becomes CodeInternalError.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf formats message and returns an *Error with code.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

var (
	errMalformed     = NewError(CodeInvalidRequest, "Invalid Request - malformed JSON")
	errEmptyBatch    = NewError(CodeInvalidRequest, "Invalid Request - empty batch")
	errNotObject     = NewError(CodeInvalidRequest, "Invalid Request - request must be an object")
	errVersion       = NewError(CodeInvalidRequest, "Invalid Request - jsonrpc must be 2.0")
	errMethodMissing = NewError(CodeInvalidRequest, "Invalid Request - method is required")
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// rpcMethod holds reflection data for a registered method.
type rpcMethod struct {
	receiver  reflect.Value
	method    reflect.Method
	paramType reflect.Type
	required  []string
	name      string
}

func (m *rpcMethod) call(ctx context.Context, params json.RawMessage) (any, error) {
	param := reflect.New(m.paramType)

	if len(params) == 0 || isNull(params) {
		params = json.RawMessage("{}")
	}
	// Named params only.
	var present map[string]json.RawMessage
	if err := json.Unmarshal(params, &present); err != nil {
		return nil, NewError(CodeInvalidParams, "Invalid params - params must be an object")
	}
	for _, name := range m.required {
		if v, ok := present[name]; !ok || isNull(v) {
			return nil, NewError(CodeInvalidParams, "Invalid params - missing param: "+name)
		}
	}
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.UseNumber()
	if err := dec.Decode(param.Interface()); err != nil {
		return nil, Errorf(CodeInvalidParams, "Invalid params - %v", err)
	}

	results := m.method.Func.Call([]reflect.Value{m.receiver, reflect.ValueOf(ctx), param.Elem()})
	var err error
	if !results[1].IsNil() {
		err = results[1].Interface().(error)
	}
	return results[0].Interface(), err
}

// JSONRPCEndpoint dispatches JSON-RPC 2.0 requests to registered methods.
// Use endpoint.Handler(e.Endpoint, processors...) to create an http.Handler.
type JSONRPCEndpoint struct {
	mu         sync.RWMutex
	methods    map[string]*rpcMethod
	log        *slog.Logger
	batchLimit int
}

// Option configures a JSONRPCEndpoint.
type Option func(*JSONRPCEndpoint)

// WithLogger sets the logger used for call tracing and recovered panics.
func WithLogger(log *slog.Logger) Option {
	return func(e *JSONRPCEndpoint) {
		if log != nil {
			e.log = log
		}
	}
}

// WithBatchLimit sets how many elements of a batch run at once.
func WithBatchLimit(n int) Option {
	return func(e *JSONRPCEndpoint) {
		if n > 0 {
			e.batchLimit = n
		}
	}
}

// NewEndpoint creates an empty method registry.
func NewEndpoint(opts ...Option) *JSONRPCEndpoint {
	e := &JSONRPCEndpoint{
		methods:    make(map[string]*rpcMethod),
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		batchLimit: DefaultBatchLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "jsonrpc")
	return e
}

// Register adds methods from a receiver to the endpoint.
// The namespace prefixes all method names (e.g., "math" + "Add" -> "math.Add").
// Use empty string for no namespace.
// Only exported methods with valid signatures are registered.
func (e *JSONRPCEndpoint) Register(namespace string, receiver any) {
	val := reflect.ValueOf(receiver)
	typ := val.Type()

	for i := 0; i < val.NumMethod(); i++ {
		m := parseMethod(val, typ.Method(i))
		if m == nil {
			continue
		}
		name := m.name
		if namespace != "" {
			name = namespace + "." + m.name
		}

		e.mu.Lock()
		if _, exists := e.methods[name]; exists {
			e.mu.Unlock()
			panic("jsonrpc: method name collision: " + name)
		}
		e.methods[name] = m
		e.mu.Unlock()
	}
}

// Methods returns the registered method names in sorted order.
func (e *JSONRPCEndpoint) Methods() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.methods))
	for name := range e.methods {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// rpcParams captures the raw request body. Parsing is deferred to Handle, as
// JSON-RPC reports malformed bodies inside a normal response rather than as
// an HTTP error.
type rpcParams struct {
	Body []byte `body:"" maxLength:"1048576"`
}

// Endpoint is the endpoint function that processes JSON-RPC requests over
// HTTP. Transport problems produce HTTP errors; everything else is answered
// with a JSON-RPC response.
func (e *JSONRPCEndpoint) Endpoint(w http.ResponseWriter, r *http.Request, params rpcParams) (endpoint.Renderer, error) {
	if r.Method != http.MethodPost {
		return nil, endpoint.Error(http.StatusMethodNotAllowed, "JSON-RPC requires POST method", nil)
	}
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		return nil, endpoint.Error(http.StatusUnsupportedMediaType, "Content-Type must be application/json", nil)
	}
	return &endpoint.JSONRenderer{Value: e.Handle(r.Context(), params.Body)}, nil
}

// Handle processes one request body, single or batch, and returns the encoded
// response. Every request receives a response, including requests without id.
func (e *JSONRPCEndpoint) Handle(ctx context.Context, body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return encode(response{Error: errMalformed})
	}
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return encode(e.handleOne(ctx, trimmed))
	}

	var reqs []json.RawMessage
	if err := json.Unmarshal(trimmed, &reqs); err != nil {
		return encode(response{Error: errMalformed})
	}
	if len(reqs) == 0 {
		return encode(response{Error: errEmptyBatch})
	}

	responses := make([]response, len(reqs))
	var g errgroup.Group
	g.SetLimit(e.batchLimit)
	for i, raw := range reqs {
		g.Go(func() error {
			responses[i] = e.handleOne(ctx, raw)
			return nil
		})
	}
	_ = g.Wait()
	return encode(responses)
}

// request keeps the envelope fields raw so that wrongly typed values can be
// reported, and so that id is echoed byte for byte.
type request struct {
	JSONRPC json.RawMessage `json:"jsonrpc"`
	Method  json.RawMessage `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func (e *JSONRPCEndpoint) handleOne(ctx context.Context, raw json.RawMessage) response {
	var req request
	if len(raw) == 0 || raw[0] != '{' || json.Unmarshal(raw, &req) != nil {
		return response{Error: errNotObject}
	}
	resp := response{}
	if !isNull(req.ID) {
		resp.ID = req.ID
	}

	var version string
	if json.Unmarshal(req.JSONRPC, &version) != nil || version != "2.0" {
		resp.Error = errVersion
		return resp
	}
	var name string
	if isNull(req.Method) || json.Unmarshal(req.Method, &name) != nil {
		resp.Error = errMethodMissing
		return resp
	}

	start := time.Now()
	result, err := e.invoke(ctx, name, req.Params)
	if err == nil {
		resp.Result, err = json.Marshal(result)
	}
	if err != nil {
		resp.Result = nil
		resp.Error = mapError(err)
		e.log.Debug("call failed", "method", name, "code", resp.Error.Code, "duration", time.Since(start))
		return resp
	}
	e.log.Debug("call", "method", name, "duration", time.Since(start))
	return resp
}

func (e *JSONRPCEndpoint) invoke(ctx context.Context, name string, params json.RawMessage) (result any, err error) {
	e.mu.RLock()
	m, ok := e.methods[name]
	e.mu.RUnlock()
	if !ok {
		return nil, NewError(CodeMethodNotFound, "Method not found: "+name)
	}

	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			buf = buf[:runtime.Stack(buf, false)]
			e.log.Error("method panic", "method", name, "panic", r, "stack", string(buf))
			result, err = nil, NewError(CodeInternalError, "Internal error: method panicked")
		}
	}()
	return m.call(ctx, params)
}

func encode(v any) json.RawMessage {
	switch r := v.(type) {
	case response:
		r.JSONRPC = "2.0"
		v = r
	case []response:
		for i := range r {
			r[i].JSONRPC = "2.0"
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		// Only reachable if an *Error carries unencodable Data.
		b, _ = json.Marshal(response{JSONRPC: "2.0", Error: NewError(CodeInternalError, "Internal error: "+err.Error())})
	}
	return b
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// parseMethod extracts method signature information via reflection.
// Valid signature: func(ctx context.Context, params <struct>) (result, error)
// Returns nil for invalid signatures.
func parseMethod(receiver reflect.Value, method reflect.Method) *rpcMethod {
	if !method.IsExported() {
		return nil
	}
	ft := method.Func.Type()
	if ft.NumIn() != 3 || ft.In(1) != contextType {
		return nil
	}
	if ft.NumOut() != 2 || ft.Out(1) != errorType {
		return nil
	}
	paramType := ft.In(2)
	if paramType.Kind() != reflect.Struct {
		return nil
	}

	m := &rpcMethod{
		receiver:  receiver,
		method:    method,
		paramType: paramType,
		name:      method.Name,
	}
	for i := 0; i < paramType.NumField(); i++ {
		field := paramType.Field(i)
		if field.Name == "_" {
			if tag := field.Tag.Get("jsonrpc"); tag != "" {
				m.name = tag
			}
			continue
		}
		if !field.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = field.Name
		}
		if !slices.Contains(strings.Split(opts, ","), "omitempty") {
			m.required = append(m.required, name)
		}
	}
	return m
}

// mapError converts any error to a JSON-RPC error.
// *Error values preserve their code; other errors become CodeInternalError.
func mapError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return NewError(CodeInternalError, "Internal error: "+err.Error())
}
