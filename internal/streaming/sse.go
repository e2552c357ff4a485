// Package streaming turns the normalized upstream event sequence into the
// two client-facing SSE dialects and the collected non-streaming response.
package streaming

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// sseWriter serializes SSE frames and flushes after every write so deltas
// reach the client as they happen.
type sseWriter struct {
	w io.Writer
	f http.Flusher
}

func newSSEWriter(w io.Writer) *sseWriter {
	f, _ := w.(http.Flusher)
	return &sseWriter{w: w, f: f}
}

// writeData emits an un-named "data:" frame (the OpenAI dialect).
func (s *sseWriter) writeData(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *sseWriter) writeDone() error {
	if _, err := io.WriteString(s.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

// writeEvent emits a typed frame (the Anthropic dialect).
func (s *sseWriter) writeEvent(event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *sseWriter) flush() {
	if s.f != nil {
		s.f.Flush()
	}
}
