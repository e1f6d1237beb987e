// Package mcp exposes the book tools over the JSON-RPC methods initialize,
// tools/list and tools/call.
package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mnehpets/booktracker/jsonrpc"
	"github.com/mnehpets/booktracker/tools"
	"github.com/mnehpets/booktracker/workpool"
)

const (
	ProtocolVersion = "2024-11-05"
	ServerName      = "booktracker-mcp-server"
	ServerVersion   = "1.0.0"
)

// Invoker runs a named tool.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (any, error)
}

// Server implements the tool methods. Register it on a jsonrpc endpoint with
// no namespace.
type Server struct {
	inv  Invoker
	reg  *tools.Registry
	pool *workpool.Pool
	log  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// NewServer creates a Server. Tool calls run on pool.
func NewServer(inv Invoker, reg *tools.Registry, pool *workpool.Pool, opts ...Option) *Server {
	s := &Server{
		inv:  inv,
		reg:  reg,
		pool: pool,
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "mcp")
	return s
}

// InitializeParams is accepted as sent. Its fields are kept raw so that no
// client value can make initialize fail.
type InitializeParams struct {
	_               struct{}        `jsonrpc:"initialize"`
	ProtocolVersion json.RawMessage `json:"protocolVersion,omitempty"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ClientInfo      json.RawMessage `json:"clientInfo,omitempty"`
}

// Initialize returns the fixed server description. Nothing is negotiated.
func (s *Server) Initialize(ctx context.Context, p InitializeParams) (*mcpsdk.InitializeResult, error) {
	var client struct {
		Name string `json:"name"`
	}
	var protocol string
	_ = json.Unmarshal(p.ClientInfo, &client)
	_ = json.Unmarshal(p.ProtocolVersion, &protocol)
	s.log.Info("client initialized", "client", client.Name, "protocol", protocol)
	return &mcpsdk.InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    &mcpsdk.ServerCapabilities{Tools: &mcpsdk.ToolCapabilities{}},
		ServerInfo:      &mcpsdk.Implementation{Name: ServerName, Version: ServerVersion},
	}, nil
}

// ListToolsParams carries the cursor raw. It is ignored, as the catalog is
// never paginated.
type ListToolsParams struct {
	_      struct{}        `jsonrpc:"tools/list"`
	Cursor json.RawMessage `json:"cursor,omitempty"`
}

// ListTools returns the whole catalog. There is no pagination.
func (s *Server) ListTools(ctx context.Context, p ListToolsParams) (*mcpsdk.ListToolsResult, error) {
	return &mcpsdk.ListToolsResult{Tools: s.Catalog()}, nil
}

// Catalog converts the registry into tool descriptions.
func (s *Server) Catalog() []*mcpsdk.Tool {
	defs := s.reg.List()
	out := make([]*mcpsdk.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, &mcpsdk.Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema(),
		})
	}
	return out
}

type CallToolParams struct {
	_         struct{}       `jsonrpc:"tools/call"`
	Name      *string        `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// CallTool runs a tool on the worker pool and returns its result as a single
// text item holding the JSON encoding of the result.
func (s *Server) CallTool(ctx context.Context, p CallToolParams) (*mcpsdk.CallToolResult, error) {
	if p.Name == nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "Invalid params - tool name is required")
	}
	name, args := *p.Name, p.Arguments
	if args == nil {
		args = map[string]any{}
	}

	res, err := workpool.Do(ctx, s.pool, func(ctx context.Context) (any, error) {
		return s.inv.Invoke(ctx, name, args)
	})
	if err != nil {
		if tools.IsClientError(err) {
			s.log.Debug("tool call rejected", "tool", name, "error", err)
			return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "Invalid params - "+err.Error())
		}
		s.log.Warn("tool call failed", "tool", name, "error", err)
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "Internal error: "+err.Error())
	}

	text, err := json.Marshal(res)
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "Internal error: "+err.Error())
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(text)}},
	}, nil
}
