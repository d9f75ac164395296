package stream

import (
	"encoding/json"
	"strings"
)

const (
	openFence  = "```chart-json"
	closeFence = "```"
)

// Extractor forwards incremental model output to a Sink as text frames
// while pulling an embedded chart-json fenced block out of the stream.
//
// It runs a two-state machine: in passthrough, text is emitted as it
// arrives; when the open fence appears the extractor switches to
// buffering and holds everything back until the fence closes, then emits
// the buffered content as a single chart frame. A fence that never closes
// or does not parse as JSON is swallowed silently; the surrounding prose
// remains a valid answer on its own.
type Extractor struct {
	sink      Sink
	pending   string
	buffering bool
	fence     strings.Builder
	prose     strings.Builder
	chart     json.RawMessage
}

func NewExtractor(sink Sink) *Extractor {
	return &Extractor{sink: sink}
}

// Write feeds one incremental chunk of model output through the state
// machine. A partial fence marker split across chunk boundaries is held
// back until the next chunk disambiguates it.
func (e *Extractor) Write(delta string) error {
	e.pending += delta
	return e.process(false)
}

// Close flushes any held-back text. Call once after the model stream ends.
func (e *Extractor) Close() error {
	return e.process(true)
}

// Text returns all prose emitted so far, without the fenced block.
func (e *Extractor) Text() string { return e.prose.String() }

// Chart returns the extracted chart payload, or nil if none was found.
func (e *Extractor) Chart() json.RawMessage { return e.chart }

func (e *Extractor) process(final bool) error {
	for {
		if e.buffering {
			idx := strings.Index(e.pending, closeFence)
			if idx < 0 {
				if final {
					// Fence never closed; discard the buffered block.
					e.pending = ""
					return nil
				}
				hold := partialMarkerLen(e.pending, closeFence)
				e.fence.WriteString(e.pending[:len(e.pending)-hold])
				e.pending = e.pending[len(e.pending)-hold:]
				return nil
			}
			e.fence.WriteString(e.pending[:idx])
			e.pending = e.pending[idx+len(closeFence):]
			e.buffering = false
			if err := e.emitChart(); err != nil {
				return err
			}
			continue
		}

		idx := strings.Index(e.pending, openFence)
		if idx < 0 {
			if final {
				out := e.pending
				e.pending = ""
				return e.emitText(out)
			}
			hold := partialMarkerLen(e.pending, openFence)
			out := e.pending[:len(e.pending)-hold]
			e.pending = e.pending[len(e.pending)-hold:]
			return e.emitText(out)
		}
		if err := e.emitText(e.pending[:idx]); err != nil {
			return err
		}
		e.pending = e.pending[idx+len(openFence):]
		e.buffering = true
		e.fence.Reset()
	}
}

func (e *Extractor) emitText(s string) error {
	if s == "" {
		return nil
	}
	e.prose.WriteString(s)
	return e.sink.WriteFrame(Text(s))
}

func (e *Extractor) emitChart() error {
	raw := strings.TrimSpace(e.fence.String())
	e.fence.Reset()
	if e.chart != nil || !json.Valid([]byte(raw)) {
		// At most one chart per response; malformed payloads are dropped.
		return nil
	}
	e.chart = json.RawMessage(raw)
	return e.sink.WriteFrame(Chart(e.chart))
}

// partialMarkerLen returns the length of the longest proper prefix of
// marker that is a suffix of s.
func partialMarkerLen(s, marker string) int {
	max := len(marker) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return n
		}
	}
	return 0
}
