package endpoint

import (
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
)

// SSEvent represents a Server-Sent Event to be streamed to a client.
type SSEvent struct {
	ID   *string // Optional event ID for client auto-reconnect. nil = not set, "" = reset
	Type *string // Optional event type for client filtering. nil = not set, "" = default "message"
	Data string
}

// WriteTo implements io.WriterTo.
func (e SSEvent) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	if e.ID != nil {
		sb.WriteString("id: ")
		sb.WriteString(*e.ID)
		sb.WriteString("\n")
	}
	if e.Type != nil {
		sb.WriteString("event: ")
		sb.WriteString(*e.Type)
		sb.WriteString("\n")
	}
	sb.WriteString("data: ")
	sb.WriteString(strings.ReplaceAll(e.Data, "\n", "\ndata: "))
	sb.WriteString("\n\n")

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// JSONEvents maps each value of seq to a data-only event holding its JSON
// encoding. Values that fail to encode are skipped.
func JSONEvents[T any](seq iter.Seq[T]) iter.Seq[SSEvent] {
	return func(yield func(SSEvent) bool) {
		for v := range seq {
			b, err := json.Marshal(v)
			if err != nil {
				continue
			}
			if !yield(SSEvent{Data: string(b)}) {
				return
			}
		}
	}
}

// SSERenderer streams SSEvent values to an HTTP client.
//
// Headers are flushed before the first event so clients see the stream open
// immediately. Each event is flushed as it is written. Rendering ends when
// the iterator is exhausted or the request context is done.
type SSERenderer struct {
	Events iter.Seq[SSEvent]
}

// Render streams events to the client.
func (r *SSERenderer) Render(w http.ResponseWriter, req *http.Request) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("sse: ResponseWriter does not implement http.Flusher")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := req.Context()

	// Size 1 keeps the producer from blocking while an event is written.
	eventCh := make(chan SSEvent, 1)
	go func() {
		defer close(eventCh)
		for event := range r.Events {
			select {
			case <-ctx.Done():
				return
			case eventCh <- event:
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-eventCh:
			if !ok {
				return nil
			}
			if _, err := event.WriteTo(w); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}
