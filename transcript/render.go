package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chatloop/chatloop/errors"
	"github.com/chatloop/chatloop/usage"
)

// Format selects a transcript serialization.
type Format string

const (
	// FormatHuman is the markdown transcript shown to people.
	FormatHuman Format = "human"
	// FormatMachine is the JSON document that reconstructs the session.
	FormatMachine Format = "machine"
)

// Render serializes the session. Rendering is idempotent: without new
// exchanges the output is byte-identical apart from the generated-at line of
// the human format.
func (r *Recorder) Render(format Format) (string, error) {
	switch format {
	case FormatHuman:
		return r.renderHuman(time.Now()), nil
	case FormatMachine:
		return renderMachine(r.session)
	default:
		return "", errors.New("unknown transcript format %q", format)
	}
}

func renderMachine(s *Session) (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", errors.Wrapf(err, "failed to serialize session")
	}
	return string(data) + "\n", nil
}

func (r *Recorder) renderHuman(now time.Time) string {
	s := r.session
	var b strings.Builder

	fmt.Fprintf(&b, "# Conversation with %s\n\n", s.AgentName)
	fmt.Fprintf(&b, "- Session ID: %s\n", s.SessionID)
	fmt.Fprintf(&b, "- Date: %s\n", s.Started.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "- Agent: %s\n", s.AgentName)
	if s.AgentPath != "" {
		fmt.Fprintf(&b, "- Agent Path: %s\n", s.AgentPath)
	}
	fmt.Fprintf(&b, "- Total Queries: %d\n", s.QueryCount())
	if s.ParentSessionID != "" {
		fmt.Fprintf(&b, "- Resumed From: %s\n", s.ParentSessionID)
	}
	if s.ParentSessionPath != "" {
		fmt.Fprintf(&b, "- Previous Session: %s\n", s.ParentSessionPath)
	}
	fmt.Fprintf(&b, "- Generated: %s\n", now.Format("2006-01-02 15:04:05"))
	b.WriteString("\n---\n")

	queryNum := 0
	for _, ex := range s.Exchanges {
		if ex.Restoration {
			fmt.Fprintf(&b, "\n## Restoration (%s)\n\n", ex.Timestamp.Format("15:04:05"))
		} else {
			queryNum++
			fmt.Fprintf(&b, "\n## Query %d (%s)\n\n", queryNum, ex.Timestamp.Format("15:04:05"))
			fmt.Fprintf(&b, "**You:** %s\n\n", ex.Query)
		}
		fmt.Fprintf(&b, "**%s:** %s\n\n", s.AgentName, ex.Response)
		fmt.Fprintf(&b, "*%s*\n\n", footerLine(ex))
		b.WriteString("---\n")
	}

	if s.Summary != nil {
		b.WriteString("\n")
		b.WriteString(RenderSummary(s.Summary))
	}
	return b.String()
}

func footerLine(ex Exchange) string {
	parts := []string{fmt.Sprintf("Time: %.1fs", ex.Elapsed)}
	if ex.Usage == nil {
		parts = append(parts, "Tokens: unavailable")
	} else {
		parts = append(parts, fmt.Sprintf("Tokens: %s (in: %s, out: %s)",
			usage.FormatTokens(ex.Usage.Total()),
			usage.FormatTokens(ex.Usage.InputTokens),
			usage.FormatTokens(ex.Usage.OutputTokens)))
	}
	return strings.Join(parts, " | ")
}

// RenderSummary produces the delimited summary region embedded in the human
// transcript. The block rides inside the markers as a fenced JSON document so
// resume can extract it without parsing the surrounding markdown.
func RenderSummary(block *SummaryBlock) string {
	data, err := json.MarshalIndent(block, "", "  ")
	if err != nil {
		// A SummaryBlock of strings cannot fail to marshal; guard anyway.
		data = []byte("{}")
	}
	var b strings.Builder
	b.WriteString(SummaryBeginMarker + "\n")
	b.WriteString("## Session Summary\n\n")
	b.WriteString("```json\n")
	b.Write(data)
	b.WriteString("\n```\n")
	b.WriteString(SummaryEndMarker + "\n")
	return b.String()
}

// ExtractSummary locates the marker-delimited summary region in a persisted
// human transcript. ok is false when either marker is absent or the region
// does not contain a parseable block; absence means "not resumable", never an
// error.
func ExtractSummary(document string) (*SummaryBlock, bool) {
	begin := strings.Index(document, SummaryBeginMarker)
	if begin < 0 {
		return nil, false
	}
	rest := document[begin+len(SummaryBeginMarker):]
	end := strings.Index(rest, SummaryEndMarker)
	if end < 0 {
		return nil, false
	}
	region := rest[:end]

	open := strings.Index(region, "```json")
	if open < 0 {
		return nil, false
	}
	region = region[open+len("```json"):]
	fence := strings.Index(region, "```")
	if fence < 0 {
		return nil, false
	}
	var block SummaryBlock
	if err := json.Unmarshal([]byte(region[:fence]), &block); err != nil {
		return nil, false
	}
	return &block, true
}
