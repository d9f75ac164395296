package stream

import (
	"encoding/json"
	"strings"
	"testing"
)

type captureSink struct {
	frames []Frame
}

func (c *captureSink) WriteFrame(f Frame) error {
	c.frames = append(c.frames, f)
	return nil
}

func textOf(frames []Frame) string {
	var b strings.Builder
	for _, f := range frames {
		if f.Type == FrameText {
			b.WriteString(f.Text)
		}
	}
	return b.String()
}

func chartsOf(frames []Frame) []json.RawMessage {
	var out []json.RawMessage
	for _, f := range frames {
		if f.Type == FrameChart {
			out = append(out, f.Chart)
		}
	}
	return out
}

func TestExtractor_PlainText(t *testing.T) {
	sink := &captureSink{}
	e := NewExtractor(sink)
	for _, chunk := range []string{"Revenue was ", "up 12% ", "over July."} {
		if err := e.Write(chunk); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := textOf(sink.frames); got != "Revenue was up 12% over July." {
		t.Errorf("unexpected text: %q", got)
	}
	if e.Chart() != nil {
		t.Error("expected no chart")
	}
}

func TestExtractor_ChartBetweenProse(t *testing.T) {
	sink := &captureSink{}
	e := NewExtractor(sink)
	input := "A ```chart-json\n{\"kind\":\"bar\",\"values\":[1,2]}\n``` B"
	if err := e.Write(input); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := textOf(sink.frames); got != "A  B" {
		t.Errorf("prose = %q, want %q", got, "A  B")
	}
	charts := chartsOf(sink.frames)
	if len(charts) != 1 {
		t.Fatalf("expected 1 chart frame, got %d", len(charts))
	}
	var payload struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(charts[0], &payload); err != nil {
		t.Fatalf("chart payload: %v", err)
	}
	if payload.Kind != "bar" {
		t.Errorf("chart kind = %q, want bar", payload.Kind)
	}

	// Frame order must be text, chart, text.
	var kinds []FrameType
	for _, f := range sink.frames {
		kinds = append(kinds, f.Type)
	}
	want := []FrameType{FrameText, FrameChart, FrameText}
	if len(kinds) != len(want) {
		t.Fatalf("frame kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("frame kinds = %v, want %v", kinds, want)
		}
	}
}

func TestExtractor_FenceSplitAcrossChunks(t *testing.T) {
	sink := &captureSink{}
	e := NewExtractor(sink)
	chunks := []string{
		"Here you go: ``",
		"`chart-",
		"json\n{\"kind\":\"line\",",
		"\"values\":[3]}\n`",
		"``",
		" done.",
	}
	for _, chunk := range chunks {
		if err := e.Write(chunk); err != nil {
			t.Fatalf("Write(%q): %v", chunk, err)
		}
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := textOf(sink.frames); got != "Here you go:  done." {
		t.Errorf("prose = %q", got)
	}
	if len(chartsOf(sink.frames)) != 1 {
		t.Fatalf("expected 1 chart frame, got %d", len(chartsOf(sink.frames)))
	}
}

func TestExtractor_UnclosedFenceSwallowed(t *testing.T) {
	sink := &captureSink{}
	e := NewExtractor(sink)
	if err := e.Write("Summary: ```chart-json\n{\"kind\":\"bar\""); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := textOf(sink.frames); got != "Summary: " {
		t.Errorf("prose = %q, want %q", got, "Summary: ")
	}
	if e.Chart() != nil {
		t.Error("expected no chart for unclosed fence")
	}
}

func TestExtractor_MalformedChartDropped(t *testing.T) {
	sink := &captureSink{}
	e := NewExtractor(sink)
	if err := e.Write("X ```chart-json\nnot json at all\n``` Y"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := textOf(sink.frames); got != "X  Y" {
		t.Errorf("prose = %q", got)
	}
	if len(chartsOf(sink.frames)) != 0 {
		t.Error("expected malformed chart to be dropped")
	}
}

func TestExtractor_OnlyFirstChartKept(t *testing.T) {
	sink := &captureSink{}
	e := NewExtractor(sink)
	input := "```chart-json\n{\"kind\":\"bar\"}\n``` mid ```chart-json\n{\"kind\":\"line\"}\n```"
	if err := e.Write(input); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	charts := chartsOf(sink.frames)
	if len(charts) != 1 {
		t.Fatalf("expected 1 chart frame, got %d", len(charts))
	}
	if !strings.Contains(string(charts[0]), "bar") {
		t.Errorf("expected first chart retained, got %s", charts[0])
	}
}

func TestExtractor_TextAccessors(t *testing.T) {
	sink := &captureSink{}
	e := NewExtractor(sink)
	if err := e.Write("prose ```chart-json\n{\"a\":1}\n```"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if e.Text() != "prose " {
		t.Errorf("Text() = %q", e.Text())
	}
	if string(e.Chart()) != `{"a":1}` {
		t.Errorf("Chart() = %s", e.Chart())
	}
}
