// Package chain implements the compaction-and-resume protocol: generating a
// structured summary of the current session, starting a new session chained
// to the old one, and restoring context from a previously saved summary. A
// session references only its immediate predecessor, so resume always reads
// exactly one summary no matter how often the conversation has been
// compacted.
package chain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chatloop/chatloop/errors"
	"github.com/chatloop/chatloop/transcript"
	"github.com/chatloop/chatloop/usage"
)

// Querier sends one synthesized prompt through the agent and returns its
// response text and usage. The streaming orchestrator satisfies this; tests
// substitute fakes.
type Querier interface {
	Query(ctx context.Context, prompt string) (string, *usage.Snapshot, error)
}

// AgentMismatchError reports that the session being resumed was recorded with
// a different agent. The caller should confirm with the user and retry with
// force rather than block.
type AgentMismatchError struct {
	ParentAgent  string
	CurrentAgent string
}

func (e *AgentMismatchError) Error() string {
	return fmt.Sprintf("session was recorded with agent %q but the current agent is %q", e.ParentAgent, e.CurrentAgent)
}

// Generate builds a summary block for the recorder's session by asking the
// agent to summarize its own transcript. One automatic retry is attempted; if
// both attempts fail, a warning is returned and the session simply persists
// without a summary. The session's data is never at risk here.
func Generate(ctx context.Context, q Querier, rec *transcript.Recorder) (*transcript.SummaryBlock, error) {
	background := "Initial session."
	if prior := rec.Session().ParentBackground; prior != "" {
		background = condense(prior)
	}
	prompt := summaryPrompt(background, transcriptText(rec.Session()))

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		text, _, err := q.Query(ctx, prompt)
		if err != nil {
			lastErr = err
			continue
		}
		block, err := parseSummary(text)
		if err != nil {
			lastErr = err
			continue
		}
		return block, nil
	}
	return nil, errors.Warnf("summary generation failed, this session will not be resumable: %v", lastErr)
}

// Compact summarizes the current session, persists it, and starts a new
// session chained to it. The agent's acknowledgment of the restoration
// prompt is recorded as a restoration exchange: its tokens count, it is not a
// user query. On summary failure the current recorder is returned unchanged
// with a warning; nothing is lost.
func Compact(ctx context.Context, q Querier, rec *transcript.Recorder, dir string) (*transcript.Recorder, error) {
	block, err := Generate(ctx, q, rec)
	if err != nil {
		return rec, err
	}
	rec.SetSummary(block)

	parentID, err := rec.Persist(dir)
	if err != nil && !errors.IsWarning(err) {
		return rec, err
	}

	child := rec.NewChild()
	child.LinkParent(parentID, filepath.Join(dir, parentID+".md"), condense(block.BackgroundContext))
	if err := restore(ctx, q, child, block, parentID); err != nil {
		return child, err
	}
	return child, nil
}

// Resume loads a prior session's summary and continues in a new chained
// session. locator is a session ID under dir or a path to a saved markdown
// transcript. Failures degrade to the fresh, unlinked recorder the caller
// passed in, with a warning; an agent mismatch returns AgentMismatchError
// unless force is set, so the caller can ask for confirmation.
func Resume(ctx context.Context, q Querier, rec *transcript.Recorder, locator, dir string, force bool) (*transcript.Recorder, error) {
	path := resolveLocator(locator, dir)
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, errors.Warnf("could not read session %q, starting a fresh session: %v", locator, err)
	}
	document := string(data)

	if parentAgent := headerValue(document, "Agent"); parentAgent != "" && !force {
		if parentAgent != rec.Session().AgentName {
			return rec, &AgentMismatchError{ParentAgent: parentAgent, CurrentAgent: rec.Session().AgentName}
		}
	}

	block, ok := transcript.ExtractSummary(document)
	if !ok {
		return rec, errors.Warnf("session %q has no summary region and is not resumable, starting a fresh session", locator)
	}

	parentID := headerValue(document, "Session ID")
	if parentID == "" {
		parentID = strings.TrimSuffix(filepath.Base(path), ".md")
	}

	rec.LinkParent(parentID, path, condense(block.BackgroundContext))
	if err := restore(ctx, q, rec, block, parentID); err != nil {
		return rec, err
	}
	return rec, nil
}

// restore sends the restoration prompt through the agent and records the
// acknowledgment. The acknowledgment text is trusted and kept verbatim; this
// layer validates structure, not the agent's judgment.
func restore(ctx context.Context, q Querier, rec *transcript.Recorder, block *transcript.SummaryBlock, parentID string) error {
	start := time.Now()
	ack, snap, err := q.Query(ctx, restorationPrompt(block, parentID))
	if err != nil {
		return errors.Warnf("restoration prompt failed, continuing without acknowledgment: %v", err)
	}
	rec.RecordRestoration(ack, snap, time.Since(start).Seconds())
	return nil
}

func resolveLocator(locator, dir string) string {
	if strings.HasSuffix(locator, ".md") {
		if _, err := os.Stat(locator); err == nil {
			return locator
		}
	}
	return filepath.Join(dir, locator+".md")
}

// headerValue reads one "- Name: value" line from the transcript's header
// block.
func headerValue(document, name string) string {
	prefix := "- " + name + ": "
	for _, line := range strings.Split(document, "\n") {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
		// The header block ends at the first rule.
		if line == "---" {
			break
		}
	}
	return ""
}

// condense trims a background paragraph to at most two sentences.
func condense(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}
	count := 0
	for i := 0; i < len(text); i++ {
		if text[i] != '.' && text[i] != '!' && text[i] != '?' {
			continue
		}
		count++
		if count == 2 {
			return strings.TrimSpace(text[:i+1])
		}
	}
	return text
}
