// Package sse implements the Server-Sent Events framing for a chat turn's
// response stream. It deliberately hand-rolls this instead of pulling in a
// generic SSE client/server package: all it does is frame named events and
// comment lines onto one response and flush them. It does not read from the
// gateway's event bus and does no per-session filtering.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HeartbeatInterval is how often a blank comment line is written to keep
// intermediate proxies from closing an idle connection.
const HeartbeatInterval = 15 * time.Second

// Writer frames named SSE events onto an http.ResponseWriter, flushing
// after every write.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// NewWriter sets the SSE response headers, writes the 200 status, and
// returns a Writer ready to stream events. It fails if the underlying
// ResponseWriter does not support flushing.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sse: streaming not supported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sw := &Writer{w: w, flusher: flusher, rc: http.NewResponseController(w)}
	sw.flush()
	return sw, nil
}

// WriteEvent writes one named SSE event with a JSON-encoded payload.
func (s *Writer) WriteEvent(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sse: encode %s payload: %w", name, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Heartbeat writes a comment-only line that carries no event data.
func (s *Writer) Heartbeat() {
	fmt.Fprint(s.w, ": heartbeat\n\n")
	s.flush()
}

func (s *Writer) flush() {
	if err := s.rc.Flush(); err != nil {
		s.flusher.Flush()
	}
}
