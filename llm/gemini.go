package llm

import (
	"context"
	"os"
	"strings"

	"github.com/chatloop/chatloop/errors"
	"github.com/chatloop/chatloop/stream"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiClient streams responses from the Google Gemini API.
type GeminiClient struct {
	model     *genai.GenerativeModel
	modelName string
}

// NewGeminiClient creates a new GeminiClient.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiClient(ctx context.Context, modelName string) (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &GeminiClient{
		model:     client.GenerativeModel(modelName),
		modelName: modelName,
	}, nil
}

func (g *GeminiClient) Name() string { return "gemini" }

func (g *GeminiClient) Model() string { return g.modelName }

// Stream sends a single-turn query. Each iterator response is flattened to
// its text parts; the last response's usage metadata becomes the structured
// response so token totals survive the stream.
func (g *GeminiClient) Stream(ctx context.Context, query string) (stream.Stream, error) {
	iter := g.model.GenerateContentStream(ctx, genai.Text(query))
	return &geminiStream{iter: iter}, nil
}

type geminiStream struct {
	iter *genai.GenerateContentResponseIterator
	last *genai.GenerateContentResponse
	cur  any
	err  error
}

func (s *geminiStream) Next() bool {
	if s.err != nil {
		return false
	}
	resp, err := s.iter.Next()
	if err == iterator.Done {
		return false
	}
	if err != nil {
		s.err = err
		return false
	}
	s.last = resp
	s.cur = flattenGeminiResponse(resp)
	return true
}

func (s *geminiStream) Current() any { return s.cur }

func (s *geminiStream) Response() any {
	if s.last == nil || s.last.UsageMetadata == nil {
		return nil
	}
	return map[string]any{
		"usage": map[string]any{
			"input_tokens":  int(s.last.UsageMetadata.PromptTokenCount),
			"output_tokens": int(s.last.UsageMetadata.CandidatesTokenCount),
		},
	}
}

func (s *geminiStream) Err() error { return s.err }

func flattenGeminiResponse(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return sb.String()
}
