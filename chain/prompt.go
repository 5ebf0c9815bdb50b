package chain

import (
	"fmt"
	"strings"

	"github.com/chatloop/chatloop/errors"
	"github.com/chatloop/chatloop/transcript"
)

// summaryPrompt asks the agent to summarize its own session under a strict
// word budget, in a line-oriented format parseSummary can read back.
func summaryPrompt(background, conversation string) string {
	var b strings.Builder
	b.WriteString("Summarize this conversation so it can be resumed later. ")
	b.WriteString("Respond in exactly this format, under 250 words total:\n\n")
	b.WriteString("BACKGROUND: one or two sentences of context for the whole conversation\n")
	b.WriteString("TOPICS:\n- one line per topic discussed\n")
	b.WriteString("DECISIONS:\n- one line per decision reached\n")
	b.WriteString("PENDING:\n- one line per open item\n\n")
	fmt.Fprintf(&b, "Prior context: %s\n\n", background)
	b.WriteString("Conversation:\n")
	b.WriteString(conversation)
	return b.String()
}

// restorationPrompt rebuilds context in a new chained session from a summary
// block and asks for a brief acknowledgment.
func restorationPrompt(block *transcript.SummaryBlock, parentID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "We are continuing a previous conversation (session %s). Here is its summary.\n\n", parentID)
	fmt.Fprintf(&b, "Background: %s\n", block.BackgroundContext)
	writeList(&b, "Topics", block.Topics)
	writeList(&b, "Decisions", block.Decisions)
	writeList(&b, "Pending", block.Pending)
	b.WriteString("\nConfirm in 2-6 sentences or bullets: the topics you recall, the decisions that stand, and that you are ready to continue.")
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

// transcriptText flattens the session's exchanges for the summary prompt.
func transcriptText(s *transcript.Session) string {
	var b strings.Builder
	for _, ex := range s.Exchanges {
		if ex.Restoration {
			continue
		}
		fmt.Fprintf(&b, "You: %s\n", ex.Query)
		fmt.Fprintf(&b, "%s: %s\n", s.AgentName, ex.Response)
	}
	return b.String()
}

// parseSummary reads the line-oriented summary format back into a block. It
// is tolerant of markdown decoration around the section headers but requires
// at least a background sentence or one topic; pure noise is a failure so the
// caller can retry.
func parseSummary(text string) (*transcript.SummaryBlock, error) {
	block := &transcript.SummaryBlock{}
	var backgroundLines []string
	section := ""

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		stripped := strings.Trim(trimmed, "#* ")
		upper := strings.ToUpper(stripped)

		switch {
		case strings.HasPrefix(upper, "BACKGROUND:"):
			section = "background"
			rest := strings.Trim(stripped[len("BACKGROUND:"):], "#* ")
			if rest != "" {
				backgroundLines = append(backgroundLines, rest)
			}
			continue
		case strings.HasPrefix(upper, "TOPICS:"):
			section = "topics"
			continue
		case strings.HasPrefix(upper, "DECISIONS:"):
			section = "decisions"
			continue
		case strings.HasPrefix(upper, "PENDING:"):
			section = "pending"
			continue
		}

		switch section {
		case "background":
			if trimmed != "" && !strings.HasPrefix(trimmed, "-") {
				backgroundLines = append(backgroundLines, trimmed)
			}
		case "topics":
			if item, ok := bulletItem(trimmed); ok {
				block.Topics = append(block.Topics, item)
			}
		case "decisions":
			if item, ok := bulletItem(trimmed); ok {
				block.Decisions = append(block.Decisions, item)
			}
		case "pending":
			if item, ok := bulletItem(trimmed); ok {
				block.Pending = append(block.Pending, item)
			}
		}
	}

	block.BackgroundContext = strings.Join(backgroundLines, " ")
	if block.BackgroundContext == "" && len(block.Topics) == 0 {
		return nil, errors.New("summary response had no recognizable sections")
	}
	return block, nil
}

func bulletItem(line string) (string, bool) {
	for _, prefix := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(line, prefix) {
			item := strings.TrimSpace(strings.TrimPrefix(line, prefix))
			return item, item != ""
		}
	}
	return "", false
}
