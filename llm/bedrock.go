package llm

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/chatloop/chatloop/errors"
	"github.com/chatloop/chatloop/stream"
	"github.com/tidwall/gjson"
)

// BedrockClient streams responses from Anthropic models on AWS Bedrock.
type BedrockClient struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockClient creates a new BedrockClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockClient(ctx context.Context, modelID string) (*BedrockClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}

	return &BedrockClient{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

func (b *BedrockClient) Name() string { return "bedrock" }

func (b *BedrockClient) Model() string { return b.modelID }

// Stream sends a single-turn query. Chunks are surfaced as the raw JSON
// payloads from the wire, which carry both the delta text and, on the final
// chunk, the amazon-bedrock-invocationMetrics block.
func (b *BedrockClient) Stream(ctx context.Context, query string) (stream.Stream, error) {
	body, err := json.Marshal(map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        4096,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": query},
				},
			},
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Bedrock request")
	}

	out, err := b.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}

	reader := out.GetStream()
	return &bedrockStream{reader: reader, events: reader.Events()}, nil
}

type bedrockStream struct {
	reader *bedrockruntime.InvokeModelWithResponseStreamEventStream
	events <-chan types.ResponseStream
	cur    any
	final  []byte
	err    error
}

func (s *bedrockStream) Next() bool {
	ev, ok := <-s.events
	if !ok {
		s.err = s.reader.Err()
		_ = s.reader.Close()
		return false
	}
	chunk, ok := ev.(*types.ResponseStreamMemberChunk)
	if !ok {
		s.cur = nil
		return true
	}
	payload := chunk.Value.Bytes
	s.cur = json.RawMessage(payload)
	// The closing chunk carries the invocation metrics.
	switch gjson.GetBytes(payload, "type").String() {
	case "message_stop", "message_delta":
		s.final = payload
	}
	return true
}

func (s *bedrockStream) Current() any { return s.cur }

func (s *bedrockStream) Response() any {
	if s.final == nil {
		return nil
	}
	return json.RawMessage(s.final)
}

func (s *bedrockStream) Err() error { return s.err }
