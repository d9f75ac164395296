package stream

import "encoding/json"

// FrameType tags one chunk of the response stream.
type FrameType string

const (
	FrameStatus FrameType = "status"
	FrameText   FrameType = "text"
	FrameChart  FrameType = "chart"
	FrameError  FrameType = "error"
	FrameDone   FrameType = "done"
)

// Frame is one serialized chunk of a chat response. A well-formed stream
// carries zero or more status frames, text frames in order, at most one
// chart frame, and is terminated by exactly one done or error frame.
type Frame struct {
	Type       FrameType       `json:"type"`
	Text       string          `json:"text,omitempty"`
	Chart      json.RawMessage `json:"chart,omitempty"`
	Message    string          `json:"message,omitempty"`
	RetryAfter int             `json:"retry_after_seconds,omitempty"`
}

func Status(msg string) Frame         { return Frame{Type: FrameStatus, Message: msg} }
func Text(s string) Frame             { return Frame{Type: FrameText, Text: s} }
func Chart(raw json.RawMessage) Frame { return Frame{Type: FrameChart, Chart: raw} }
func Error(msg string) Frame          { return Frame{Type: FrameError, Message: msg} }
func Done() Frame                     { return Frame{Type: FrameDone} }

// Sink receives frames in order. Implementations must not reorder or drop
// text frames.
type Sink interface {
	WriteFrame(Frame) error
}
