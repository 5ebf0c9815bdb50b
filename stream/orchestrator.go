package stream

import (
	"context"
	"strings"
	"time"

	"github.com/chatloop/chatloop/channels"
	"github.com/chatloop/chatloop/errors"
	"github.com/chatloop/chatloop/event"
	"github.com/chatloop/chatloop/transcript"
	"github.com/chatloop/chatloop/usage"
)

// Orchestrator coordinates one streaming cycle: it feeds raw events through
// the normalizer, hands fragments to the renderer, post-processes the
// assembled response, extracts usage, and records the finished exchange.
type Orchestrator struct {
	Agent      Streamer
	Recorder   *transcript.Recorder
	Normalizer *event.Normalizer
	Processor  *channels.Processor
	// Renderer may be nil when no live display is wanted.
	Renderer Renderer
}

// RunResult reports one completed (or partially completed) streaming cycle.
type RunResult struct {
	// Exchange is the exchange as recorded.
	Exchange transcript.Exchange
	// Channels holds any named output channels found in the final response.
	Channels map[string]string
	// DisplayUsage is the per-query usage for display: cumulative backend
	// totals are already delta-converted here. Nil when usage is unknown.
	DisplayUsage *usage.Snapshot
	Cycles       int
	HasCycles    bool
	Tools        int
	HasTools     bool
}

// Run streams the agent's response to one user query. If the agent fails
// mid-stream or ctx is canceled, the exchange is still recorded with
// whatever partial text arrived and nil usage: already-received text is
// never lost. The returned error in that case describes the interruption.
func (o *Orchestrator) Run(ctx context.Context, query string) (*RunResult, error) {
	start := time.Now()
	s, err := o.Agent.Stream(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "agent failed to start streaming")
	}

	assembled, interrupted := o.consume(ctx, s)
	elapsed := time.Since(start).Seconds()

	if interrupted != nil {
		o.Recorder.Record(query, assembled, nil, elapsed)
		return &RunResult{Exchange: o.lastExchange()}, interrupted
	}

	resp := s.Response()
	processed := o.processor().Process(assembled, resp)
	snap := usage.Extract(resp)

	display := snap
	if snap != nil && snap.Cumulative {
		lastIn, lastOut := o.Recorder.LastCumulative()
		display = &usage.Snapshot{
			InputTokens:  snap.InputTokens - lastIn,
			OutputTokens: snap.OutputTokens - lastOut,
		}
	}

	o.Recorder.Record(query, processed.Text, snap, elapsed)

	result := &RunResult{
		Exchange:     o.lastExchange(),
		Channels:     processed.Channels,
		DisplayUsage: display,
	}
	result.Cycles, result.HasCycles = usage.CycleCount(resp)
	result.Tools, result.HasTools = usage.ToolCount(resp)
	return result, nil
}

// Query sends a synthesized prompt through the agent without recording an
// exchange. Used by the session chain for summary generation and restoration.
func (o *Orchestrator) Query(ctx context.Context, prompt string) (string, *usage.Snapshot, error) {
	s, err := o.Agent.Stream(ctx, prompt)
	if err != nil {
		return "", nil, errors.Wrapf(err, "agent failed to start streaming")
	}
	assembled, interrupted := o.consume(ctx, s)
	if interrupted != nil {
		return "", nil, interrupted
	}
	resp := s.Response()
	processed := o.processor().Process(assembled, resp)
	return processed.Text, usage.Extract(resp), nil
}

// consume drains the stream, normalizing every event and accumulating text.
// It returns the assembled text and a non-nil error if the stream was
// interrupted by cancellation or a mid-stream failure; the partial text is
// valid either way.
func (o *Orchestrator) consume(ctx context.Context, s Stream) (string, error) {
	var b strings.Builder
	notifier, _ := o.Renderer.(ThinkingNotifier)
	if notifier != nil {
		notifier.ThinkingStart()
		defer notifier.ThinkingStop()
	}
	first := true

	for {
		select {
		case <-ctx.Done():
			return b.String(), errors.Wrapf(ctx.Err(), "query interrupted")
		default:
		}
		if !s.Next() {
			break
		}
		fragment := o.normalizer().Normalize(s.Current())
		if fragment == "" {
			continue
		}
		if first && notifier != nil {
			notifier.ThinkingStop()
		}
		first = false
		b.WriteString(fragment)
		if o.Renderer != nil {
			o.Renderer.Fragment(fragment)
		}
	}
	if err := s.Err(); err != nil {
		return b.String(), errors.Wrapf(err, "stream failed")
	}
	return b.String(), nil
}

func (o *Orchestrator) lastExchange() transcript.Exchange {
	exchanges := o.Recorder.Session().Exchanges
	return exchanges[len(exchanges)-1]
}

func (o *Orchestrator) normalizer() *event.Normalizer {
	if o.Normalizer == nil {
		o.Normalizer = event.New()
	}
	return o.Normalizer
}

func (o *Orchestrator) processor() *channels.Processor {
	if o.Processor == nil {
		o.Processor = &channels.Processor{}
	}
	return o.Processor
}
