package usage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sdkUsage struct {
	InputTokens  int64
	OutputTokens int64
}

type sdkMessage struct {
	Usage sdkUsage
}

type openaiUsage struct {
	PromptTokens     int64
	CompletionTokens int64
}

type openaiCompletion struct {
	Usage openaiUsage
}

func TestExtractUsageMap(t *testing.T) {
	resp := map[string]any{
		"usage": map[string]any{"input_tokens": 100, "output_tokens": 50},
	}
	snap := Extract(resp)
	require.NotNil(t, snap)
	assert.Equal(t, 100, snap.InputTokens)
	assert.Equal(t, 50, snap.OutputTokens)
	assert.False(t, snap.Cumulative)
}

func TestExtractSDKStruct(t *testing.T) {
	resp := &sdkMessage{Usage: sdkUsage{InputTokens: 12, OutputTokens: 34}}
	snap := Extract(resp)
	require.NotNil(t, snap)
	assert.Equal(t, 12, snap.InputTokens)
	assert.Equal(t, 34, snap.OutputTokens)
}

func TestExtractPromptCompletionNames(t *testing.T) {
	resp := &openaiCompletion{Usage: openaiUsage{PromptTokens: 7, CompletionTokens: 9}}
	snap := Extract(resp)
	require.NotNil(t, snap)
	assert.Equal(t, 7, snap.InputTokens)
	assert.Equal(t, 9, snap.OutputTokens)
}

func TestExtractCamelCaseNames(t *testing.T) {
	resp := map[string]any{
		"usage": map[string]any{"inputTokens": 3, "outputTokens": 4},
	}
	snap := Extract(resp)
	require.NotNil(t, snap)
	assert.Equal(t, 3, snap.InputTokens)
	assert.Equal(t, 4, snap.OutputTokens)
}

func TestExtractAccumulatedIsCumulative(t *testing.T) {
	resp := map[string]any{
		"result": map[string]any{
			"metrics": map[string]any{
				"accumulated_usage": map[string]any{
					"input_tokens":  1000,
					"output_tokens": 400,
				},
			},
		},
	}
	snap := Extract(resp)
	require.NotNil(t, snap)
	assert.True(t, snap.Cumulative)
	assert.Equal(t, 1000, snap.InputTokens)
	assert.Equal(t, 400, snap.OutputTokens)
}

// The accumulated envelope outranks a plain usage object on the same
// response.
func TestExtractAccumulatedBeatsUsage(t *testing.T) {
	resp := map[string]any{
		"result": map[string]any{
			"metrics": map[string]any{
				"accumulated_usage": map[string]any{"input_tokens": 500, "output_tokens": 200},
			},
		},
		"usage": map[string]any{"input_tokens": 1, "output_tokens": 1},
	}
	snap := Extract(resp)
	require.NotNil(t, snap)
	assert.True(t, snap.Cumulative)
	assert.Equal(t, 500, snap.InputTokens)
}

func TestExtractMetadataUsage(t *testing.T) {
	resp := map[string]any{
		"metadata": map[string]any{
			"usage": map[string]any{"input_tokens": 5, "output_tokens": 6},
		},
	}
	snap := Extract(resp)
	require.NotNil(t, snap)
	assert.Equal(t, 5, snap.InputTokens)
}

func TestExtractDataUsage(t *testing.T) {
	resp := map[string]any{
		"data": map[string]any{
			"usage": map[string]any{"input_tokens": 8, "output_tokens": 2},
		},
	}
	snap := Extract(resp)
	require.NotNil(t, snap)
	assert.Equal(t, 8, snap.InputTokens)
}

func TestExtractRawJSON(t *testing.T) {
	raw := json.RawMessage(`{"usage":{"input_tokens":11,"output_tokens":22}}`)
	snap := Extract(raw)
	require.NotNil(t, snap)
	assert.Equal(t, 11, snap.InputTokens)
	assert.Equal(t, 22, snap.OutputTokens)
}

func TestExtractBedrockInvocationMetrics(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "message_stop",
		"amazon-bedrock-invocationMetrics": {
			"inputTokenCount": 250,
			"outputTokenCount": 120,
			"invocationLatency": 900
		}
	}`)
	snap := Extract(raw)
	require.NotNil(t, snap)
	assert.Equal(t, 250, snap.InputTokens)
	assert.Equal(t, 120, snap.OutputTokens)
}

func TestExtractCoercesNumericStrings(t *testing.T) {
	resp := map[string]any{
		"usage": map[string]any{"input_tokens": "100", "output_tokens": "50"},
	}
	snap := Extract(resp)
	require.NotNil(t, snap)
	assert.Equal(t, 100, snap.InputTokens)
	assert.Equal(t, 50, snap.OutputTokens)
}

func TestExtractCoercesFloats(t *testing.T) {
	resp := map[string]any{
		"usage": map[string]any{"input_tokens": 100.0, "output_tokens": 50.9},
	}
	snap := Extract(resp)
	require.NotNil(t, snap)
	assert.Equal(t, 100, snap.InputTokens)
	assert.Equal(t, 50, snap.OutputTokens)
}

// A usage member that is present but garbage invalidates that strategy
// rather than producing a half-valid snapshot.
func TestExtractInvalidValueRejectsStrategy(t *testing.T) {
	resp := map[string]any{
		"usage": map[string]any{"input_tokens": "invalid", "output_tokens": 50},
	}
	assert.Nil(t, Extract(resp))
}

func TestExtractNegativeRejected(t *testing.T) {
	resp := map[string]any{
		"usage": map[string]any{"input_tokens": -5, "output_tokens": 50},
	}
	assert.Nil(t, Extract(resp))
}

func TestExtractAllZeroIsAbsent(t *testing.T) {
	resp := map[string]any{
		"usage": map[string]any{"input_tokens": 0, "output_tokens": 0},
	}
	assert.Nil(t, Extract(resp))
}

func TestExtractMissing(t *testing.T) {
	assert.Nil(t, Extract(nil))
	assert.Nil(t, Extract("a plain response"))
	assert.Nil(t, Extract(map[string]any{"content": "text"}))
	assert.Nil(t, Extract(map[string]any{"usage": map[string]any{"other": 1}}))
}

func TestSnapshotTotal(t *testing.T) {
	var s *Snapshot
	assert.Equal(t, 0, s.Total())
	assert.Equal(t, 30, (&Snapshot{InputTokens: 10, OutputTokens: 20}).Total())
}

func TestCycleCount(t *testing.T) {
	resp := map[string]any{
		"result": map[string]any{
			"metrics": map[string]any{"cycle_count": 3},
		},
	}
	n, ok := CycleCount(resp)
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = CycleCount(map[string]any{"result": map[string]any{}})
	assert.False(t, ok)
	_, ok = CycleCount("text")
	assert.False(t, ok)
}

func TestToolCountPerToolCallLists(t *testing.T) {
	resp := map[string]any{
		"result": map[string]any{
			"metrics": map[string]any{
				"tool_metrics": map[string]any{
					"search": []any{map[string]any{}, map[string]any{}},
					"write":  []any{map[string]any{}},
				},
			},
		},
	}
	n, ok := ToolCount(resp)
	assert.True(t, ok)
	assert.Equal(t, 3, n)
}

func TestToolCountFlatList(t *testing.T) {
	resp := map[string]any{
		"result": map[string]any{
			"metrics": map[string]any{
				"tool_metrics": []any{"a", "b"},
			},
		},
	}
	n, ok := ToolCount(resp)
	assert.True(t, ok)
	assert.Equal(t, 2, n)
}

func TestToolCountEmpty(t *testing.T) {
	resp := map[string]any{
		"result": map[string]any{
			"metrics": map[string]any{"tool_metrics": map[string]any{}},
		},
	}
	_, ok := ToolCount(resp)
	assert.False(t, ok)
}

func TestRateTableCost(t *testing.T) {
	rates := RateTable{
		"claude-sonnet": {InputPerMTok: 3.0, OutputPerMTok: 15.0},
	}
	cost, known := rates.Cost("claude-sonnet", &Snapshot{InputTokens: 1_000_000, OutputTokens: 1_000_000})
	assert.True(t, known)
	assert.InDelta(t, 18.0, cost, 1e-9)

	cost, known = rates.Cost("unknown-model", &Snapshot{InputTokens: 100, OutputTokens: 100})
	assert.False(t, known)
	assert.Zero(t, cost)

	_, known = rates.Cost("claude-sonnet", nil)
	assert.False(t, known)
}

func TestFormatTokens(t *testing.T) {
	assert.Equal(t, "500", FormatTokens(500))
	assert.Equal(t, "1.5K", FormatTokens(1500))
	assert.Equal(t, "2K", FormatTokens(2000))
	assert.Equal(t, "2.5M", FormatTokens(2_500_000))
	assert.Equal(t, "1M", FormatTokens(1_000_000))
}
