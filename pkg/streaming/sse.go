// Package streaming writes server-sent event frames.
package streaming

import (
	"errors"
	"io"
	"net/http"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrFlushUnsupported is returned when the response writer cannot flush.
var ErrFlushUnsupported = errors.New("streaming not supported")

const doneFrame = "data: [DONE]\n\n"

// Writer sends data frames to one client and flushes after each.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	frames  int
}

// NewWriter prepares w for an event stream. Headers are written on the first
// frame, so the status can still be changed before then.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrFlushUnsupported
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	return &Writer{w: w, flusher: flusher}, nil
}

// Data writes payload as a single data frame.
func (s *Writer) Data(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, 0, len(payload)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, payload...)
	buf = append(buf, '\n', '\n')
	return s.write(buf)
}

// JSON encodes v as a data frame.
func (s *Writer) JSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Data(data)
}

// Done writes the [DONE] terminator.
func (s *Writer) Done() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write([]byte(doneFrame))
}

// Frames returns the number of frames written so far.
func (s *Writer) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *Writer) write(frame []byte) error {
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.frames++
	s.flusher.Flush()
	return nil
}
