package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mnehpets/booktracker/book"
	"github.com/mnehpets/booktracker/broadcast"
	"github.com/mnehpets/booktracker/endpoint"
)

const wsWriteTimeout = 10 * time.Second

// Stream answers GET /api/books/stream with one SSE data line per mutation
// or heartbeat.
func (b *Books) Stream(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	sub := b.events.Subscribe(r.Context())
	b.log.Debug("stream subscriber connected", "transport", "sse", "remote", r.RemoteAddr)
	return &sseStream{
		SSERenderer: endpoint.SSERenderer{Events: endpoint.JSONEvents(sub.All())},
		sub:         sub,
		b:           b,
	}, nil
}

// sseStream releases its subscription once rendering ends.
type sseStream struct {
	endpoint.SSERenderer
	sub *broadcast.Subscription[book.Book]
	b   *Books
}

func (s *sseStream) Close() error {
	s.sub.Close()
	s.b.log.Debug("stream subscriber disconnected", "transport", "sse")
	return nil
}

// Socket answers GET /api/books/ws. After upgrade every event is sent as a
// text frame holding the record JSON. Client frames are read and discarded.
func (b *Books) Socket(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return endpoint.RendererFunc(b.serveSocket), nil
}

func (b *Books) serveSocket(w http.ResponseWriter, r *http.Request) error {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		b.log.Debug("websocket upgrade failed", "error", err)
		return nil
	}
	id := uuid.NewString()
	log := b.log.With("conn", id, "transport", "websocket")
	log.Debug("stream subscriber connected", "remote", r.RemoteAddr)

	// The request context is not cancelled when a hijacked connection drops,
	// so the reader cancels on its first error.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	sub := b.events.Subscribe(ctx)
	defer sub.Close()

	var writeErr error
	for ev := range sub.Events() {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if writeErr = conn.WriteJSON(ev); writeErr != nil {
			break
		}
	}
	if writeErr == nil {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
	}
	conn.Close()
	log.Debug("stream subscriber disconnected", "error", writeErr)
	return nil
}
