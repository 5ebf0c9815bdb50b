// Package llm provides streaming agent backends for the supported vendors,
// each implementing stream.Streamer. The conversation core never knows which
// backend produced a stream; backends surface their native event shapes and
// the normalizer sorts them out.
package llm

import (
	"context"

	"github.com/chatloop/chatloop/config"
	"github.com/chatloop/chatloop/errors"
	"github.com/chatloop/chatloop/stream"
)

// New creates the backend selected by the configuration.
func New(ctx context.Context, cfg *config.Config) (stream.Streamer, error) {
	switch cfg.LLMClient {
	case "anthropic":
		return NewAnthropicClient(ctx, cfg.Model)
	case "openai":
		return NewOpenAIClient(ctx, cfg.Model)
	case "gemini":
		return NewGeminiClient(ctx, cfg.Model)
	case "bedrock":
		return NewBedrockClient(ctx, cfg.Model)
	case "script":
		// Offline mode: every query streams nothing and records empty
		// responses. Useful for exercising the loop without credentials.
		return &ScriptedClient{ModelName: cfg.Model}, nil
	default:
		return nil, errors.New("unsupported llm client: %q", cfg.LLMClient)
	}
}

// ScriptedClient replays canned events. It backs tests and offline runs.
type ScriptedClient struct {
	AgentName string
	ModelName string
	// Events are delivered one per Next call.
	Events []any
	// Final is the structured response returned after the stream ends.
	Final any
	// OpenErr fails the Stream call itself.
	OpenErr error
	// MidErr, when set, fails the stream after FailAfter events.
	MidErr    error
	FailAfter int
}

func (c *ScriptedClient) Name() string {
	if c.AgentName == "" {
		return "scripted"
	}
	return c.AgentName
}

func (c *ScriptedClient) Model() string { return c.ModelName }

func (c *ScriptedClient) Stream(ctx context.Context, query string) (stream.Stream, error) {
	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	return &scriptedStream{client: c, pos: -1}, nil
}

type scriptedStream struct {
	client *ScriptedClient
	pos    int
	err    error
}

func (s *scriptedStream) Next() bool {
	if s.err != nil {
		return false
	}
	if s.client.MidErr != nil && s.pos+1 >= s.client.FailAfter {
		s.err = s.client.MidErr
		return false
	}
	if s.pos+1 >= len(s.client.Events) {
		return false
	}
	s.pos++
	return true
}

func (s *scriptedStream) Current() any {
	if s.pos < 0 || s.pos >= len(s.client.Events) {
		return nil
	}
	return s.client.Events[s.pos]
}

func (s *scriptedStream) Response() any { return s.client.Final }

func (s *scriptedStream) Err() error { return s.err }
