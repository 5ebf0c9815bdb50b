// Package usage mines token counts and cost-relevant metadata out of
// completed agent responses. Backends report usage in incompatible shapes, so
// extraction tries a fixed list of strategies in priority order; a shape that
// does not validate is skipped rather than failed.
package usage

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Snapshot is the token usage of one completed query.
type Snapshot struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	// Cumulative marks a snapshot that reports running totals for the whole
	// stream rather than per-call counts; the consumer must replace, not add.
	Cumulative bool `json:"cumulative,omitempty"`
}

// Total returns input plus output tokens.
func (s *Snapshot) Total() int {
	if s == nil {
		return 0
	}
	return s.InputTokens + s.OutputTokens
}

// Extract pulls a usage snapshot from a completed response object. Strategies
// are tried in order:
//
//  1. an accumulated-metrics envelope (result.metrics.accumulated_usage),
//     reported as cumulative
//  2. a standard usage object (input/output, prompt/completion, camel or
//     snake case)
//  3. usage nested under metadata
//  4. usage nested under a streaming event's data
//  5. the same paths mined out of raw JSON bytes
//
// Extract returns nil when no strategy yields usable, non-negative counts.
// An all-zero snapshot is treated as absent.
func Extract(resp any) *Snapshot {
	if resp == nil {
		return nil
	}

	if raw, ok := rawJSON(resp); ok {
		return extractJSON(raw)
	}

	if snap := extractAccumulated(resp); snap != nil {
		return snap
	}
	if u, ok := fieldOf(resp, "usage"); ok {
		if snap := parseUsage(u, false); snap != nil {
			return snap
		}
	}
	if md, ok := fieldOf(resp, "metadata"); ok {
		if u, ok := fieldOf(md, "usage"); ok {
			if snap := parseUsage(u, false); snap != nil {
				return snap
			}
		}
	}
	if data, ok := fieldOf(resp, "data"); ok {
		if u, ok := fieldOf(data, "usage"); ok {
			if snap := parseUsage(u, false); snap != nil {
				return snap
			}
		}
	}
	return nil
}

// CycleCount extracts the number of agent-internal reasoning iterations, when
// the response exposes one under result.metrics.cycle_count.
func CycleCount(resp any) (int, bool) {
	metrics, ok := metricsOf(resp)
	if !ok {
		return 0, false
	}
	raw, ok := fieldOf(metrics, "cycle_count")
	if !ok {
		return 0, false
	}
	n, ok := coerceCount(raw)
	return n, ok
}

// ToolCount extracts the number of tool invocations, when the response
// exposes them under result.metrics.tool_metrics. Per-tool call lists are
// summed; a flat list counts its entries; an object counts its exported
// members. An empty or missing structure yields false.
func ToolCount(resp any) (int, bool) {
	metrics, ok := metricsOf(resp)
	if !ok {
		return 0, false
	}
	raw, ok := fieldOf(metrics, "tool_metrics")
	if !ok || raw == nil {
		return 0, false
	}

	v := reflect.ValueOf(raw)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return 0, false
		}
		v = v.Elem()
	}
	total := 0
	switch v.Kind() {
	case reflect.Map:
		for it := v.MapRange(); it.Next(); {
			ev := it.Value()
			for ev.Kind() == reflect.Interface || ev.Kind() == reflect.Pointer {
				ev = ev.Elem()
			}
			if ev.Kind() == reflect.Slice || ev.Kind() == reflect.Array {
				total += ev.Len()
			} else {
				total++
			}
		}
	case reflect.Slice, reflect.Array:
		total = v.Len()
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			if t.Field(i).IsExported() {
				total++
			}
		}
	default:
		return 0, false
	}
	if total == 0 {
		return 0, false
	}
	return total, true
}

func metricsOf(resp any) (any, bool) {
	result, ok := fieldOf(resp, "result")
	if !ok {
		return nil, false
	}
	return fieldOf(result, "metrics")
}

func extractAccumulated(resp any) *Snapshot {
	metrics, ok := metricsOf(resp)
	if !ok {
		return nil
	}
	acc, ok := fieldOf(metrics, "accumulated_usage")
	if !ok || acc == nil {
		return nil
	}
	return parseUsage(acc, true)
}

// parseUsage validates one usage-shaped value. A token member that is present
// but cannot be coerced to a non-negative integer invalidates the whole
// strategy; both members missing, or both zero, yields nil.
func parseUsage(u any, cumulative bool) *Snapshot {
	in, inPresent, inOK := tokenMember(u, "input_tokens", "prompt_tokens")
	out, outPresent, outOK := tokenMember(u, "output_tokens", "completion_tokens")
	if !inOK || !outOK {
		return nil
	}
	if !inPresent && !outPresent {
		return nil
	}
	if in == 0 && out == 0 {
		return nil
	}
	return &Snapshot{InputTokens: in, OutputTokens: out, Cumulative: cumulative}
}

// tokenMember looks up a token count under any of the given names, in camel or
// snake case. present reports whether a member existed; ok reports whether
// every present member coerced cleanly.
func tokenMember(u any, names ...string) (n int, present, ok bool) {
	for _, name := range names {
		raw, found := fieldOf(u, name)
		if !found {
			continue
		}
		v, good := coerceCount(raw)
		if !good {
			return 0, true, false
		}
		return v, true, true
	}
	return 0, false, true
}

// coerceCount converts a raw token value to a non-negative int. Accepts
// integers, floats (truncated) and numeric strings; anything else fails.
func coerceCount(raw any) (int, bool) {
	var n int
	switch v := raw.(type) {
	case int:
		n = v
	case int32:
		n = int(v)
	case int64:
		n = int(v)
	case uint:
		n = int(v)
	case uint32:
		n = int(v)
	case uint64:
		n = int(v)
	case float32:
		n = int(v)
	case float64:
		n = int(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		n = int(f)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		n = int(f)
	default:
		return 0, false
	}
	if n < 0 {
		return 0, false
	}
	return n, true
}

func extractJSON(raw []byte) *Snapshot {
	if acc := gjson.GetBytes(raw, "result.metrics.accumulated_usage"); acc.Exists() {
		if snap := parseJSONUsage(acc, true); snap != nil {
			return snap
		}
	}
	for _, path := range []string{"usage", "metadata.usage", "data.usage"} {
		if u := gjson.GetBytes(raw, path); u.Exists() {
			if snap := parseJSONUsage(u, false); snap != nil {
				return snap
			}
		}
	}
	// Bedrock invocation metrics ride along on the final stream chunk.
	if m := gjson.GetBytes(raw, "amazon-bedrock-invocationMetrics"); m.Exists() {
		in, inOK := coerceCount(m.Get("inputTokenCount").Value())
		out, outOK := coerceCount(m.Get("outputTokenCount").Value())
		if inOK && outOK && (in > 0 || out > 0) {
			return &Snapshot{InputTokens: in, OutputTokens: out}
		}
	}
	return nil
}

func parseJSONUsage(u gjson.Result, cumulative bool) *Snapshot {
	var m any
	if u.IsObject() {
		m = u.Value()
	}
	return parseUsage(m, cumulative)
}

func rawJSON(resp any) ([]byte, bool) {
	switch v := resp.(type) {
	case json.RawMessage:
		return v, gjson.ValidBytes(v)
	case []byte:
		return v, gjson.ValidBytes(v)
	}
	return nil, false
}

// fieldOf reads a named member from a map or an exported struct field,
// matching names case-insensitively and ignoring underscores, so that
// input_tokens, inputTokens and InputTokens all meet.
func fieldOf(obj any, name string) (any, bool) {
	if obj == nil {
		return nil, false
	}
	want := normalizeName(name)

	if m, ok := obj.(map[string]any); ok {
		for k, v := range m {
			if normalizeName(k) == want {
				return v, true
			}
		}
		return nil, false
	}

	v := reflect.ValueOf(obj)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, false
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if normalizeName(f.Name) == want {
			return v.Field(i).Interface(), true
		}
	}
	return nil, false
}

func normalizeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}
