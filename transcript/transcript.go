// Package transcript owns the durable record of a conversation: the ordered
// exchanges of one session, their token accounting, and the two persisted
// forms (a human-readable markdown transcript and a machine-readable JSON
// document that reconstructs the session exactly).
package transcript

import (
	"strings"
	"time"

	"github.com/chatloop/chatloop/usage"
	"github.com/google/uuid"
)

// Markers bound the summary region inside a persisted markdown transcript so
// it can be located without parsing the whole document. Collision with agent
// output containing the literal markers is an accepted limitation.
const (
	SummaryBeginMarker = "<!-- CHATLOOP:SUMMARY:BEGIN -->"
	SummaryEndMarker   = "<!-- CHATLOOP:SUMMARY:END -->"
)

// Exchange is one user query paired with the agent's full response. Immutable
// once appended.
type Exchange struct {
	Timestamp time.Time       `json:"timestamp"`
	Query     string          `json:"query"`
	Response  string          `json:"response"`
	Usage     *usage.Snapshot `json:"usage"`
	Elapsed   float64         `json:"elapsed"`
	// Restoration marks the acknowledgment exchange recorded when a chained
	// session starts: counted in token totals, excluded from the query count.
	Restoration bool `json:"restoration,omitempty"`
}

// SummaryBlock is the structured summary generated when a session is
// compacted. Once embedded in a persisted transcript it is read-only history.
type SummaryBlock struct {
	BackgroundContext string   `json:"background_context"`
	Topics            []string `json:"topics"`
	Decisions         []string `json:"decisions"`
	Pending           []string `json:"pending"`
}

// Session is an ordered sequence of exchanges plus a pointer to at most one
// parent session. A session references only its immediate predecessor, never
// the full ancestry, which bounds resume cost regardless of how many times
// the conversation has been compacted.
type Session struct {
	SessionID         string        `json:"session_id"`
	AgentName         string        `json:"agent_name"`
	AgentPath         string        `json:"agent_path,omitempty"`
	Started           time.Time     `json:"started"`
	Exchanges         []Exchange    `json:"exchanges"`
	ParentSessionID   string        `json:"parent_session_id,omitempty"`
	ParentSessionPath string        `json:"parent_session_path,omitempty"`
	// ParentBackground is the condensed background carried over from the
	// parent's summary, used to seed the next summary generation.
	ParentBackground string        `json:"parent_background,omitempty"`
	Summary          *SummaryBlock `json:"summary"`
}

// QueryCount returns the number of user queries, excluding restoration
// exchanges.
func (s *Session) QueryCount() int {
	n := 0
	for _, ex := range s.Exchanges {
		if !ex.Restoration {
			n++
		}
	}
	return n
}

// NewSessionID builds a session identifier from the agent name and the
// current time. The uuid suffix keeps two sessions created within the same
// second distinct.
func NewSessionID(agentName string, now time.Time) string {
	return sanitizeName(agentName) + "_" + now.Format("20060102_150405") + "_" + uuid.NewString()[:8]
}

func sanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "/", "_")
	if name == "" {
		name = "agent"
	}
	return name
}
