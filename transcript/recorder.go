package transcript

import (
	"time"

	"github.com/chatloop/chatloop/usage"
)

// Recorder is the single source of truth for what happened in a session so
// far. The transcript is append-only and written from one logical thread of
// control; the recorder takes no locks.
type Recorder struct {
	session *Session
	rates   usage.RateTable
	model   string
}

// Totals is the running aggregation over a session's exchanges.
type Totals struct {
	InputTokens  int
	OutputTokens int
	Cost         float64
	// CostKnown is false when the model has no pricing entry; the cost is
	// then reported as zero rather than failing.
	CostKnown  bool
	QueryCount int
	Elapsed    float64
}

// NewRecorder starts a fresh session for the given agent.
func NewRecorder(agentName, agentPath, model string, rates usage.RateTable) *Recorder {
	now := time.Now()
	return &Recorder{
		session: &Session{
			SessionID: NewSessionID(agentName, now),
			AgentName: agentName,
			AgentPath: agentPath,
			Started:   now,
		},
		rates: rates,
		model: model,
	}
}

// NewRecorderFor wraps an existing session, e.g. one loaded from disk.
func NewRecorderFor(session *Session, model string, rates usage.RateTable) *Recorder {
	return &Recorder{session: session, rates: rates, model: model}
}

// Session returns the recorder's session. The recorder remains the owner;
// callers must not mutate it.
func (r *Recorder) Session() *Session {
	return r.session
}

// NewChild starts a fresh session for the same agent, model and pricing.
// Used at the compact/resume boundary; the caller links it to its parent.
func (r *Recorder) NewChild() *Recorder {
	return NewRecorder(r.session.AgentName, r.session.AgentPath, r.model, r.rates)
}

// Record appends a completed exchange. It is called unconditionally for every
// completed query: history tracking is independent of any auto-save setting,
// so a later manual save or copy always sees the full conversation.
func (r *Recorder) Record(query, response string, u *usage.Snapshot, elapsed float64) {
	r.session.Exchanges = append(r.session.Exchanges, Exchange{
		Timestamp: time.Now(),
		Query:     query,
		Response:  response,
		Usage:     u,
		Elapsed:   elapsed,
	})
}

// RecordRestoration appends the zero-query acknowledgment exchange produced
// when a chained session starts. Its tokens count toward totals; it does not
// count as a user query.
func (r *Recorder) RecordRestoration(response string, u *usage.Snapshot, elapsed float64) {
	r.session.Exchanges = append(r.session.Exchanges, Exchange{
		Timestamp:   time.Now(),
		Response:    response,
		Usage:       u,
		Elapsed:     elapsed,
		Restoration: true,
	})
}

// SetSummary attaches the generated summary block to the session.
func (r *Recorder) SetSummary(b *SummaryBlock) {
	r.session.Summary = b
}

// LinkParent chains this session to its immediate predecessor.
func (r *Recorder) LinkParent(parentID, parentPath, background string) {
	r.session.ParentSessionID = parentID
	r.session.ParentSessionPath = parentPath
	r.session.ParentBackground = background
}

// LastCumulative returns the most recent cumulative usage snapshot recorded,
// or zeros if none exists. Backends that report running totals are
// delta-converted against this baseline.
func (r *Recorder) LastCumulative() (in, out int) {
	for i := len(r.session.Exchanges) - 1; i >= 0; i-- {
		if u := r.session.Exchanges[i].Usage; u != nil && u.Cumulative {
			return u.InputTokens, u.OutputTokens
		}
	}
	return 0, 0
}

// Totals aggregates over the recorded exchanges. Pure: calling it twice
// without an intervening Record returns identical results. Cumulative
// snapshots replace the contribution of the previous cumulative snapshot
// instead of adding to it.
func (r *Recorder) Totals() Totals {
	var t Totals
	lastCumIn, lastCumOut := 0, 0
	for _, ex := range r.session.Exchanges {
		if !ex.Restoration {
			t.QueryCount++
		}
		t.Elapsed += ex.Elapsed
		u := ex.Usage
		if u == nil {
			continue
		}
		if u.Cumulative {
			t.InputTokens += u.InputTokens - lastCumIn
			t.OutputTokens += u.OutputTokens - lastCumOut
			lastCumIn, lastCumOut = u.InputTokens, u.OutputTokens
			continue
		}
		t.InputTokens += u.InputTokens
		t.OutputTokens += u.OutputTokens
	}
	total := &usage.Snapshot{InputTokens: t.InputTokens, OutputTokens: t.OutputTokens}
	t.Cost, t.CostKnown = r.rates.Cost(r.model, total)
	return t
}
