// Package sse frames gateway events as Server-Sent Events. The writer is a
// small state machine: open on construction, writing while events flow,
// closed once Close is called. Writes after Close are rejected with
// domain.ErrStreamClosed rather than silently dropped, so a misbehaving
// producer is visible in logs and tests.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/agentboard/provider-gateway/internal/domain"
)

// Headers returns the response headers a Server-Sent Event stream requires:
// no caching, a kept-open connection, and the event-stream content type.
func Headers() map[string]string {
	return map[string]string{
		"Content-Type":  "text/event-stream",
		"Cache-Control": "no-cache",
		"Connection":    "keep-alive",
	}
}

type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

// NewWriter prepares w for event streaming and sets the SSE headers. It
// fails if the underlying writer cannot flush, since buffered delivery
// defeats the point of a token stream.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support flushing")
	}

	for k, v := range Headers() {
		w.Header().Set(k, v)
	}

	return &Writer{w: w, flusher: flusher}, nil
}

// WriteEvent frames data as one named event and flushes it immediately.
// Returns domain.ErrStreamClosed once the writer is closed.
func (sw *Writer) WriteEvent(event string, data any) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return domain.ErrStreamClosed
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	sw.flusher.Flush()
	return nil
}

// WriteToken frames a stream token, using its type as the event name.
func (sw *Writer) WriteToken(token domain.StreamToken) error {
	return sw.WriteEvent(string(token.Type), token)
}

// WriteError emits the terminal error event. Callers must send this before
// Close on any failure path so the client always sees a deterministic
// terminal signal instead of a silent connection drop.
func (sw *Writer) WriteError(message string) error {
	return sw.WriteToken(domain.StreamToken{
		Type:  domain.StreamTokenError,
		Error: message,
	})
}

// Close transitions the writer to closed. Idempotent; repeated closes are
// no-ops. After Close no write reaches the underlying transport.
func (sw *Writer) Close() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.closed = true
}

func (sw *Writer) Closed() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.closed
}
