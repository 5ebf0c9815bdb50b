// Package channels post-processes an assembled response when the agent emits
// named output channels (analysis, commentary, final, ...) distinct from the
// streamed text. The streamed text is always the fallback of last resort: an
// empty channel never erases a real response.
package channels

import (
	"fmt"
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`(?s)<(\w+)>(.*?)</(\w+)>`)

// Result is the outcome of channel processing.
type Result struct {
	// Text is the user-facing response text.
	Text string
	// Channels maps channel names to their content. Empty when the response
	// has no channel structure.
	Channels map[string]string
	// HasReasoning reports whether a reasoning, analysis or thinking channel
	// was present.
	HasReasoning bool
	// HasTools reports whether tool-call markers were detected.
	HasTools bool
}

// Processor decides what becomes the user-visible text when a response
// carries channel structure.
type Processor struct {
	// ShowDetailedThinking makes Display label every channel instead of
	// showing only the final response.
	ShowDetailedThinking bool
}

// Process inspects the final structured response and the assembled streaming
// text and picks the user-facing text. A non-empty "final" channel wins, then
// a non-empty "response" channel, then the original assembled text. Malformed
// or partially-present channel structure degrades to the assembled text; this
// never fails.
func (p *Processor) Process(assembled string, structured any) Result {
	result := Result{Text: assembled, Channels: map[string]string{}}

	chans := channelsOf(structured)
	if len(chans) == 0 {
		chans = extractTagged(assembled)
	}
	if len(chans) == 0 {
		return result
	}
	result.Channels = chans

	for _, name := range []string{"reasoning", "analysis", "thinking"} {
		if _, ok := chans[name]; ok {
			result.HasReasoning = true
			break
		}
	}
	lower := strings.ToLower(assembled)
	for _, marker := range []string{"<tool_call>", "<function>", "tool_use"} {
		if strings.Contains(lower, marker) {
			result.HasTools = true
			break
		}
	}

	// An empty or whitespace-only channel must never overwrite non-empty
	// assembled text.
	for _, name := range []string{"final", "response"} {
		if content, ok := chans[name]; ok && strings.TrimSpace(content) != "" {
			result.Text = content
			break
		}
	}
	return result
}

// Display formats a processed result for the terminal. With detailed thinking
// off only the final text is shown; with it on, each channel is labeled.
func (p *Processor) Display(r Result) string {
	if !p.ShowDetailedThinking {
		if final, ok := r.Channels["final"]; ok && strings.TrimSpace(final) != "" {
			return final
		}
		return r.Text
	}

	var lines []string
	reasoning := firstNonEmpty(r.Channels, "reasoning", "thinking", "analysis")
	if reasoning != "" {
		lines = append(lines, "[REASONING]", reasoning, "")
	}
	if commentary := strings.TrimSpace(r.Channels["commentary"]); commentary != "" {
		lines = append(lines, "[COMMENTARY]", commentary, "")
	}
	if r.HasTools {
		if call := strings.TrimSpace(r.Channels["tool_call"]); call != "" {
			lines = append(lines, "[TOOL CALL]", call, "")
		}
	}
	final := r.Text
	if f, ok := r.Channels["final"]; ok && strings.TrimSpace(f) != "" {
		final = f
	}
	if final != "" {
		lines = append(lines, "[RESPONSE]", final)
	}
	if len(lines) == 0 {
		return r.Text
	}
	return strings.Join(lines, "\n")
}

// channelsOf pulls a channel map out of a structured response. Recognized
// shapes: a map with a "channels" member whose value maps names to strings,
// or a response that is itself a map of channel names to strings.
func channelsOf(structured any) map[string]string {
	if structured == nil {
		return nil
	}
	m, ok := structured.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := m["channels"]
	if !ok {
		return nil
	}
	out := map[string]string{}
	switch cm := raw.(type) {
	case map[string]string:
		for name, content := range cm {
			out[strings.ToLower(name)] = content
		}
	case map[string]any:
		for name, content := range cm {
			s, ok := content.(string)
			if !ok {
				// Tolerate odd values rather than fail the whole map.
				s = fmt.Sprintf("%v", content)
			}
			out[strings.ToLower(name)] = s
		}
	default:
		return nil
	}
	return out
}

// extractTagged finds <name>...</name> regions in the assembled text.
func extractTagged(text string) map[string]string {
	matches := tagPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := map[string]string{}
	for _, m := range matches {
		if m[1] != m[3] {
			continue
		}
		out[strings.ToLower(m[1])] = strings.TrimSpace(m[2])
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func firstNonEmpty(chans map[string]string, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(chans[name]); v != "" {
			return v
		}
	}
	return ""
}
