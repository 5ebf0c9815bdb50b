package llm

import (
	"context"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/chatloop/chatloop/errors"
	"github.com/chatloop/chatloop/stream"
)

// AnthropicClient streams responses from the Anthropic API.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClient creates a new AnthropicClient.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropicClient(ctx context.Context, modelName string) (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &AnthropicClient{
		client: &client,
		model:  modelName,
	}, nil
}

func (a *AnthropicClient) Name() string { return "anthropic" }

func (a *AnthropicClient) Model() string { return a.model }

// Stream sends a single-turn query and returns the raw event stream. Events
// are surfaced as the SDK's typed variants; the accumulated message, which
// carries the usage totals, becomes the structured response.
func (a *AnthropicClient) Stream(ctx context.Context, query string) (stream.Stream, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(query)),
		},
	}

	s := a.client.Messages.NewStreaming(ctx, params)
	if err := s.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to open Anthropic stream")
	}
	return &anthropicStream{events: s}, nil
}

type anthropicStream struct {
	events *ssestream.Stream[anthropic.MessageStreamEventUnion]
	acc    anthropic.Message
	cur    any
}

func (s *anthropicStream) Next() bool {
	if !s.events.Next() {
		return false
	}
	ev := s.events.Current()
	// Accumulation failures surface through the final response being
	// incomplete; the live event is still worth rendering.
	_ = s.acc.Accumulate(ev)
	switch v := ev.AsAny().(type) {
	case anthropic.ContentBlockDeltaEvent:
		s.cur = v
	default:
		s.cur = ev
	}
	return true
}

func (s *anthropicStream) Current() any { return s.cur }

func (s *anthropicStream) Response() any { return &s.acc }

func (s *anthropicStream) Err() error { return s.events.Err() }
