package endpoint

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type headerProcessor struct {
	Key   string
	Value string
}

func (hp headerProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	w.Header().Set(hp.Key, hp.Value)
	return next(w, r)
}

type bookParams struct {
	ID     int64  `path:"id"`
	Fields string `query:"fields"`
	Trace  string `header:"X-Request-ID"`
}

func showBook(_ http.ResponseWriter, _ *http.Request, p bookParams) (Renderer, error) {
	if p.ID == 404 {
		return nil, Error(http.StatusNotFound, "", errors.New("no such book"))
	}
	return &StringRenderer{Body: fmt.Sprintf("book %d fields=%s trace=%s", p.ID, p.Fields, p.Trace)}, nil
}

func TestHandler_Constructors(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ok := func(body string) EndpointFunc[struct{}] {
		return func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
			return &StringRenderer{Body: body}, nil
		}
	}

	rec := httptest.NewRecorder()
	Handler(ok("handler")).ServeHTTP(rec, req)
	if rec.Body.String() != "handler" {
		t.Errorf("Handler: got body %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	HandleFunc(ok("func"))(rec, req)
	if rec.Body.String() != "func" {
		t.Errorf("HandleFunc: got body %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	(&EndpointHandler[struct{}]{Endpoint: ok("struct")}).ServeHTTP(rec, req)
	if rec.Body.String() != "struct" {
		t.Errorf("EndpointHandler: got body %q", rec.Body.String())
	}
}

func TestHandler_DecodesRouteParams(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /books/{id}", Handler(showBook))

	req := httptest.NewRequest(http.MethodGet, "/books/42?fields=title", nil)
	req.Header.Set("X-Request-ID", "r-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if want := "book 42 fields=title trace=r-1"; rec.Body.String() != want {
		t.Fatalf("expected body %q, got %q", want, rec.Body.String())
	}
}

func TestHandler_ProcessorsRunInOrder(t *testing.T) {
	var order []string
	step := func(name string) Processor {
		return ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
			order = append(order, name)
			return next(w, r)
		})
	}
	h := Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		order = append(order, "endpoint")
		return &JSONRenderer{Value: []string{"Dune", "Emma"}}, nil
	}, step("first"), headerProcessor{Key: "X-Frame-Options", Value: "DENY"}, step("second"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/books", nil))

	if got := strings.Join(order, ","); got != "first,second,endpoint" {
		t.Fatalf("expected order first,second,endpoint, got %s", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected processor header, got %q", got)
	}
	if got := rec.Body.String(); got != "[\"Dune\",\"Emma\"]\n" {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestHandler_ProcessorShortCircuits(t *testing.T) {
	called := 0
	h := Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		called++
		return &StringRenderer{Body: "ok"}, nil
	},
		ProcessorFunc(func(_ http.ResponseWriter, _ *http.Request, _ func(http.ResponseWriter, *http.Request) error) error {
			called++
			return Error(http.StatusNoContent, "", nil)
		}),
		ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
			called++
			return next(w, r)
		}),
	)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/books", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
	if called != 1 {
		t.Fatalf("expected only the first processor to run, got %d calls", called)
	}
}

func TestHandler_ErrorRendering(t *testing.T) {
	failingRenderer := RendererFunc(func(http.ResponseWriter, *http.Request) error {
		return errors.New("encode failed")
	})
	tests := []struct {
		name       string
		handler    http.Handler
		wantStatus int
		wantBody   string
	}{
		{
			name:       "nil endpoint",
			handler:    &EndpointHandler[struct{}]{},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "nil renderer",
			handler: Handler(func(http.ResponseWriter, *http.Request, struct{}) (Renderer, error) {
				return nil, nil
			}),
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "nil processor",
			handler: Handler(func(http.ResponseWriter, *http.Request, struct{}) (Renderer, error) {
				return &NoContentRenderer{}, nil
			}, nil),
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "endpoint error message",
			handler: Handler(func(http.ResponseWriter, *http.Request, struct{}) (Renderer, error) {
				return nil, Error(http.StatusConflict, "isbn already taken", errors.New("dup"))
			}),
			wantStatus: http.StatusConflict,
			wantBody:   "isbn already taken",
		},
		{
			name:       "empty message uses status text",
			handler:    Handler(showBook),
			wantStatus: http.StatusNotFound,
			wantBody:   http.StatusText(http.StatusNotFound),
		},
		{
			name: "invalid status",
			handler: Handler(func(http.ResponseWriter, *http.Request, struct{}) (Renderer, error) {
				return nil, Error(0, "bad status", nil)
			}),
			wantStatus: http.StatusInternalServerError,
			wantBody:   "bad status",
		},
		{
			name: "plain error from processor",
			handler: Handler(func(http.ResponseWriter, *http.Request, struct{}) (Renderer, error) {
				return &NoContentRenderer{}, nil
			}, ProcessorFunc(func(http.ResponseWriter, *http.Request, func(http.ResponseWriter, *http.Request) error) error {
				return errors.New("boom")
			})),
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "renderer error before write",
			handler: Handler(func(http.ResponseWriter, *http.Request, struct{}) (Renderer, error) {
				return failingRenderer, nil
			}),
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "decode error",
			handler: Handler(func(http.ResponseWriter, *http.Request, struct {
				Limit int `query:"limit"`
			}) (Renderer, error) {
				return &NoContentRenderer{}, nil
			}),
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/books/404?limit=many", nil)
			req.SetPathValue("id", "404")
			tt.handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if got := rec.Header().Get("Content-Type"); got != "text/plain; charset=utf-8" {
				t.Fatalf("expected text/plain error, got %q", got)
			}
			if tt.wantBody != "" {
				if got := strings.TrimSpace(rec.Body.String()); got != tt.wantBody {
					t.Fatalf("expected body %q, got %q", tt.wantBody, got)
				}
			}
		})
	}
}

func TestError_KeepsInnermostEndpointError(t *testing.T) {
	cause := errors.New("root")
	inner := Error(http.StatusUnsupportedMediaType, "json only", cause)
	wrapped := fmt.Errorf("decode body: %w", inner)

	if got := Error(http.StatusInternalServerError, "outer", wrapped); got != wrapped {
		t.Fatalf("expected the wrapped error to be returned unchanged, got %v", got)
	}
	if !errors.Is(inner, cause) {
		t.Fatal("expected EndpointError to unwrap to its cause")
	}

	h := Handler(func(http.ResponseWriter, *http.Request, struct{}) (Renderer, error) {
		return nil, Error(http.StatusInternalServerError, "outer", wrapped)
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, rec.Code)
	}
}

func TestHandler_ErrorAfterHeadersIsLogged(t *testing.T) {
	tests := []struct {
		name  string
		start func(w http.ResponseWriter)
	}{
		{"write header", func(w http.ResponseWriter) { w.WriteHeader(http.StatusAccepted) }},
		{"write body", func(w http.ResponseWriter) { w.Write([]byte("[")) }},
		{"flush", func(w http.ResponseWriter) { w.(http.Flusher).Flush() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			h := Handler(func(http.ResponseWriter, *http.Request, struct{}) (Renderer, error) {
				return RendererFunc(func(w http.ResponseWriter, _ *http.Request) error {
					tt.start(w)
					return errors.New("connection reset")
				}), nil
			})
			h.Log = slog.New(slog.NewTextHandler(&logs, nil))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/books/stream", nil))

			if rec.Code == http.StatusInternalServerError {
				t.Fatal("status was rewritten after the response started")
			}
			if strings.Contains(rec.Body.String(), "connection reset") {
				t.Fatalf("error leaked into the started body: %q", rec.Body.String())
			}
			if !strings.Contains(logs.String(), "connection reset") || !strings.Contains(logs.String(), "path=/api/books/stream") {
				t.Fatalf("expected the failure to be logged, got %q", logs.String())
			}
		})
	}
}

func TestHandler_ErrorAfterHeadersWithoutLogger(t *testing.T) {
	h := Handler(func(http.ResponseWriter, *http.Request, struct{}) (Renderer, error) {
		return RendererFunc(func(w http.ResponseWriter, _ *http.Request) error {
			w.WriteHeader(http.StatusOK)
			return io.ErrUnexpectedEOF
		}), nil
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestHandler_WriterForwardsFlush(t *testing.T) {
	h := Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		return RendererFunc(func(w http.ResponseWriter, _ *http.Request) error {
			f, ok := w.(http.Flusher)
			if !ok {
				return errors.New("writer is not a Flusher")
			}
			w.WriteHeader(http.StatusOK)
			f.Flush()
			return nil
		}), nil
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if !rec.Flushed {
		t.Fatal("expected the underlying recorder to be flushed")
	}
}

func TestHandler_WriterForwardsHijack(t *testing.T) {
	h := Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		return RendererFunc(func(w http.ResponseWriter, _ *http.Request) error {
			hj, ok := w.(http.Hijacker)
			if !ok {
				return errors.New("writer is not a Hijacker")
			}
			conn, rw, err := hj.Hijack()
			if err != nil {
				return err
			}
			defer conn.Close()
			rw.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 8\r\nConnection: close\r\n\r\nhijacked")
			return rw.Flush()
		}), nil
	})
	ts := httptest.NewServer(h)
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(bufio.NewReader(resp.Body))
	if string(body) != "hijacked" {
		t.Fatalf("expected hijacked body, got %q", body)
	}
}

func TestHandler_HijackUnsupportedIsServerError(t *testing.T) {
	h := Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		return RendererFunc(func(w http.ResponseWriter, _ *http.Request) error {
			_, _, err := w.(http.Hijacker).Hijack()
			return err
		}), nil
	})
	// httptest.ResponseRecorder cannot be hijacked, so nothing has been written
	// and the error is rendered.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/books/ws", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}
}

func TestHandler_WriterUnwraps(t *testing.T) {
	var inner http.ResponseWriter
	h := Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		return RendererFunc(func(w http.ResponseWriter, _ *http.Request) error {
			u, ok := w.(interface{ Unwrap() http.ResponseWriter })
			if !ok {
				return errors.New("writer does not unwrap")
			}
			inner = u.Unwrap()
			w.WriteHeader(http.StatusNoContent)
			return nil
		}), nil
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if inner != http.ResponseWriter(rec) {
		t.Fatalf("expected Unwrap to return the original writer, got %T", inner)
	}
}

type closingRenderer struct {
	Renderer
	closeCalled bool
}

func (cr *closingRenderer) Close() error {
	cr.closeCalled = true
	return nil
}

func TestRendererCleanup(t *testing.T) {
	tests := []struct {
		name       string
		inner      Renderer
		wantStatus int
	}{
		{"success", &StringRenderer{Body: "ok"}, http.StatusOK},
		{"render error", RendererFunc(func(http.ResponseWriter, *http.Request) error {
			return errors.New("render failed")
		}), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cr := &closingRenderer{Renderer: tt.inner}
			h := HandleFunc(func(http.ResponseWriter, *http.Request, struct{}) (Renderer, error) {
				return cr, nil
			})
			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			if !cr.closeCalled {
				t.Error("expected Close() to be called")
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}
