package sse

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agentboard/provider-gateway/internal/domain"
)

func TestNewWriter_SetsHeaders(t *testing.T) {
	rec := httptest.NewRecorder()

	if _, err := NewWriter(rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for key, want := range Headers() {
		if got := rec.Header().Get(key); got != want {
			t.Errorf("header %s = %q, want %q", key, got, want)
		}
	}
}

func TestWriter_FramesEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = w.WriteToken(domain.StreamToken{Type: domain.StreamTokenText, Content: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "event: token\n") {
		t.Errorf("missing event name line: %q", body)
	}
	if !strings.Contains(body, `data: {"type":"token","content":"hello"}`) {
		t.Errorf("missing data line: %q", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Errorf("event not terminated by blank line: %q", body)
	}
}

func TestWriter_RejectsWriteAfterClose(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w.Close()
	w.Close() // idempotent

	err = w.WriteToken(domain.StreamToken{Type: domain.StreamTokenText, Content: "late"})
	if !errors.Is(err, domain.ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}

	if rec.Body.Len() != 0 {
		t.Errorf("closed writer reached the transport: %q", rec.Body.String())
	}
}

func TestWriter_TerminalErrorEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := w.WriteError("upstream gone"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Close()

	body := rec.Body.String()
	if !strings.Contains(body, "event: error\n") {
		t.Errorf("missing terminal error event: %q", body)
	}
	if !strings.Contains(body, "upstream gone") {
		t.Errorf("missing error message: %q", body)
	}
}

// headerOnly hides the recorder's Flush method so the writer sees a
// transport that cannot stream.
type headerOnly struct {
	rec *httptest.ResponseRecorder
}

func (h headerOnly) Header() http.Header         { return h.rec.Header() }
func (h headerOnly) Write(b []byte) (int, error) { return h.rec.Write(b) }
func (h headerOnly) WriteHeader(code int)        { h.rec.WriteHeader(code) }

func TestNewWriter_RequiresFlusher(t *testing.T) {
	if _, err := NewWriter(headerOnly{httptest.NewRecorder()}); err == nil {
		t.Fatal("expected error for non-flushing writer")
	}
}
