package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Writer frames a long-lived chunked HTTP response as newline-delimited
// JSON, flushing after every frame so partial results reach the client
// as they are produced.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
	reqID   string
}

// NewWriter wraps an http.ResponseWriter. Returns an error if the
// underlying transport cannot flush incrementally.
func NewWriter(w http.ResponseWriter, reqID string) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported by transport")
	}
	return &Writer{w: w, flusher: flusher, reqID: reqID}, nil
}

// Started reports whether any frame has been written. Before the first
// frame the handler may still fall back to a plain JSON error response.
func (sw *Writer) Started() bool { return sw.started }

// ResponseWriter exposes the wrapped writer for error paths that run
// before the first frame. Once Started() reports true the response is
// committed as a stream and must end with an error or done frame.
func (sw *Writer) ResponseWriter() http.ResponseWriter { return sw.w }

func (sw *Writer) WriteFrame(f Frame) error {
	if !sw.started {
		sw.w.Header().Set("Content-Type", "application/x-ndjson")
		sw.w.Header().Set("Cache-Control", "no-cache")
		sw.w.Header().Set("X-Request-ID", sw.reqID)
		sw.w.WriteHeader(http.StatusOK)
		sw.started = true
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if _, err := sw.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	sw.flusher.Flush()
	return nil
}
