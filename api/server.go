package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mnehpets/booktracker/endpoint"
	"github.com/mnehpets/booktracker/jsonrpc"
	"github.com/mnehpets/booktracker/middleware"
)

// Server owns the HTTP listener for the whole API surface.
type Server struct {
	srv        *http.Server
	books      *Books
	rpc        *jsonrpc.JSONRPCEndpoint
	origins    []string
	onShutdown []func()
	log        *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for request logs and server errors.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithAllowedOrigins sets the origins allowed by CORS. No origins disables CORS.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithOnShutdown registers fn to run when Shutdown starts, before in-flight
// requests are drained. Closing the broadcaster here ends open streams.
func WithOnShutdown(fn func()) Option {
	return func(s *Server) {
		s.onShutdown = append(s.onShutdown, fn)
	}
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, books *Books, rpc *jsonrpc.JSONRPCEndpoint, opts ...Option) *Server {
	s := &Server{
		books: books,
		rpc:   rpc,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}
	return s
}

// Handler returns the routed handler with request logging applied.
func (s *Server) Handler() http.Handler {
	procs := []endpoint.Processor{s.securityHeaders()}
	errLog := s.log.With("component", "endpoint")

	mux := http.NewServeMux()
	mux.Handle("GET /api/books", withLog(endpoint.Handler(s.books.List, procs...), errLog))
	mux.Handle("POST /api/books", withLog(endpoint.Handler(s.books.Create, procs...), errLog))
	mux.Handle("GET /api/books/stream", withLog(endpoint.Handler(s.books.Stream, procs...), errLog))
	mux.Handle("GET /api/books/ws", withLog(endpoint.Handler(s.books.Socket, procs...), errLog))
	mux.Handle("GET /api/books/{id}", withLog(endpoint.Handler(s.books.Get, procs...), errLog))
	mux.Handle("PUT /api/books/{id}", withLog(endpoint.Handler(s.books.Update, procs...), errLog))
	mux.Handle("DELETE /api/books/{id}", withLog(endpoint.Handler(s.books.Delete, procs...), errLog))
	mux.Handle("POST /mcp", withLog(endpoint.Handler(s.rpc.Endpoint, procs...), errLog))
	// Preflights for any route are answered by the CORS processor.
	mux.Handle("OPTIONS /", withLog(endpoint.Handler(notFound, procs...), errLog))

	return middleware.RequestLogger(s.log)(mux)
}

func withLog[P any](h *endpoint.EndpointHandler[P], log *slog.Logger) *endpoint.EndpointHandler[P] {
	h.Log = log
	return h
}

func notFound(http.ResponseWriter, *http.Request, struct{}) (endpoint.Renderer, error) {
	return nil, endpoint.Error(http.StatusNotFound, "", nil)
}

func (s *Server) securityHeaders() *middleware.SecurityHeadersProcessor {
	var opts []middleware.SecurityHeadersOption
	if len(s.origins) > 0 {
		opts = append(opts, middleware.WithCORS(&middleware.CORSConfig{
			AllowedOrigins: s.origins,
			ExposedHeaders: []string{middleware.RequestIDHeader},
			MaxAge:         3600,
		}))
	}
	return middleware.NewAPISecurityHeadersProcessor(opts...)
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return s.srv.Addr
}

// ListenAndServe serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("listening", "addr", ln.Addr().String())
	if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown runs the shutdown hooks, then drains in-flight requests until ctx
// is done.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, fn := range s.onShutdown {
		fn()
	}
	err := s.srv.Shutdown(ctx)
	s.log.Info("server stopped", "error", err)
	return err
}
