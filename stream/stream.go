// Package stream drives one streaming cycle against an agent: raw events in,
// normalized text out to the renderer, and a finished exchange into the
// recorder. It is the only package that talks to the agent and the rendering
// collaborator.
package stream

import (
	"context"
	"io"
)

// Stream is one in-flight response. Next advances to the next raw event;
// Current returns it. After Next returns false, Response returns the agent's
// final structured response object (nil if none) and Err reports any stream
// failure. This is the shape the vendor SDK streams use, so backends adapt
// naturally.
type Stream interface {
	Next() bool
	Current() any
	Response() any
	Err() error
}

// Streamer is an agent backend capable of streaming responses.
type Streamer interface {
	Name() string
	Model() string
	Stream(ctx context.Context, query string) (Stream, error)
}

// Renderer receives text fragments for live display. It is a pure UI
// collaborator and has no effect on recorded state.
type Renderer interface {
	Fragment(text string)
}

// ThinkingNotifier is an optional Renderer extension for a cosmetic waiting
// indicator shown until the first fragment arrives.
type ThinkingNotifier interface {
	ThinkingStart()
	ThinkingStop()
}

// WriterRenderer streams fragments to an io.Writer.
type WriterRenderer struct {
	W io.Writer
}

func (r *WriterRenderer) Fragment(text string) {
	io.WriteString(r.W, text)
}
