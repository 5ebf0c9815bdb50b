package llm

import (
	"context"
	"os"

	"github.com/chatloop/chatloop/errors"
	"github.com/chatloop/chatloop/stream"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/ssestream"
)

// OpenAIClient streams responses from the OpenAI Chat Completion API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a new OpenAIClient. It requires the OPENAI_API_KEY
// environment variable to be set. It also supports OPENAI_BASE_URL for custom
// API endpoints.
func NewOpenAIClient(ctx context.Context, modelName string) (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	baseURL := os.Getenv("OPENAI_BASE_URL")
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	c := openai.NewClient(options...)
	return &OpenAIClient{client: &c, model: modelName}, nil
}

func (o *OpenAIClient) Name() string { return "openai" }

func (o *OpenAIClient) Model() string { return o.model }

// Stream sends a single-turn query. Fragments are surfaced as plain strings;
// the accumulated completion, including the usage block requested through
// StreamOptions, becomes the structured response.
func (o *OpenAIClient) Stream(ctx context.Context, query string) (stream.Stream, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(query),
		},
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}

	s := o.client.Chat.Completions.NewStreaming(ctx, params)
	if err := s.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to open OpenAI stream")
	}
	return &openaiStream{chunks: s}, nil
}

type openaiStream struct {
	chunks *ssestream.Stream[openai.ChatCompletionChunk]
	acc    openai.ChatCompletionAccumulator
	cur    any
}

func (s *openaiStream) Next() bool {
	if !s.chunks.Next() {
		return false
	}
	chunk := s.chunks.Current()
	s.acc.AddChunk(chunk)
	if len(chunk.Choices) > 0 {
		s.cur = chunk.Choices[0].Delta.Content
	} else {
		// Usage-only chunk at the end of the stream.
		s.cur = ""
	}
	return true
}

func (s *openaiStream) Current() any { return s.cur }

func (s *openaiStream) Response() any { return &s.acc.ChatCompletion }

func (s *openaiStream) Err() error { return s.chunks.Err() }
