package streaming

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type plainWriter struct{ header http.Header }

func (p *plainWriter) Header() http.Header         { return p.header }
func (p *plainWriter) Write(b []byte) (int, error) { return len(b), nil }
func (p *plainWriter) WriteHeader(int)             {}

func TestWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatal(err)
	}

	if err := w.Data([]byte(`{"type":"system"}`)); err != nil {
		t.Fatal(err)
	}
	if err := w.JSON(map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	if err := w.Done(); err != nil {
		t.Fatal(err)
	}

	want := "data: {\"type\":\"system\"}\n\n" + "data: {\"n\":1}\n\n" + "data: [DONE]\n\n"
	if got := rec.Body.String(); got != want {
		t.Fatalf("expected body %q, got %q", want, got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream; charset=utf-8" {
		t.Errorf("unexpected content type %q", ct)
	}
	if rec.Header().Get("X-Accel-Buffering") != "no" {
		t.Error("expected proxy buffering to be disabled")
	}
	if !rec.Flushed {
		t.Error("expected frames to be flushed")
	}
	if w.Frames() != 3 {
		t.Errorf("expected 3 frames, got %d", w.Frames())
	}
}

func TestWriterRequiresFlusher(t *testing.T) {
	_, err := NewWriter(&plainWriter{header: http.Header{}})
	if !errors.Is(err, ErrFlushUnsupported) {
		t.Fatalf("expected ErrFlushUnsupported, got %v", err)
	}
}
