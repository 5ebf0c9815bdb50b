package transcript

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chatloop/chatloop/errors"
)

const indexFile = ".index.json"

// SessionInfo is one row of the session index, enough to list and search
// sessions without opening their transcripts.
type SessionInfo struct {
	SessionID   string    `json:"session_id"`
	AgentName   string    `json:"agent_name"`
	Created     time.Time `json:"created"`
	LastUpdated time.Time `json:"last_updated"`
	QueryCount  int       `json:"query_count"`
	TotalTokens int       `json:"total_tokens"`
	Preview     string    `json:"preview"`
}

type index struct {
	Sessions []SessionInfo `json:"sessions"`
}

// Persist writes the session to dir as both the machine transcript
// (<id>.json) and the human transcript (<id>.md), each via a temporary file
// renamed into place so a failed write never leaves a half-written transcript
// behind. The in-memory session is untouched by a failed persist, so the
// caller can retry. Returns the session ID.
func (r *Recorder) Persist(dir string) (string, error) {
	s := r.session
	if len(s.Exchanges) == 0 {
		return "", errors.New("no conversation to save")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "could not create sessions directory %s", dir)
	}

	machine, err := renderMachine(s)
	if err != nil {
		return "", err
	}
	human := r.renderHuman(time.Now())

	jsonPath := filepath.Join(dir, s.SessionID+".json")
	if err := writeFileAtomic(jsonPath, []byte(machine)); err != nil {
		return "", errors.Wrapf(err, "failed to save session %s", s.SessionID)
	}
	mdPath := filepath.Join(dir, s.SessionID+".md")
	if err := writeFileAtomic(mdPath, []byte(human)); err != nil {
		return "", errors.Wrapf(err, "failed to save session %s", s.SessionID)
	}

	totals := r.Totals()
	info := SessionInfo{
		SessionID:   s.SessionID,
		AgentName:   s.AgentName,
		Created:     s.Started,
		LastUpdated: time.Now(),
		QueryCount:  totals.QueryCount,
		TotalTokens: totals.InputTokens + totals.OutputTokens,
		Preview:     preview(s),
	}
	if err := updateIndex(dir, info); err != nil {
		// The transcripts are already durable; a broken index is repairable
		// and must not fail the save.
		return s.SessionID, errors.Warnf("session saved but index update failed: %v", err)
	}
	return s.SessionID, nil
}

// Load reads a machine transcript back into a Session.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read session file %s", path)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "could not parse session file %s", path)
	}
	return &s, nil
}

// LoadByID reads the machine transcript for a session ID from dir.
func LoadByID(dir, sessionID string) (*Session, error) {
	return Load(filepath.Join(dir, sessionID+".json"))
}

// List returns saved sessions newest-first. agentName filters when non-empty;
// limit caps the result when positive.
func List(dir, agentName string, limit int) ([]SessionInfo, error) {
	idx, err := readIndex(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(idx.Sessions, func(i, j int) bool {
		return idx.Sessions[i].LastUpdated.After(idx.Sessions[j].LastUpdated)
	})
	var out []SessionInfo
	for _, info := range idx.Sessions {
		if agentName != "" && info.AgentName != agentName {
			continue
		}
		out = append(out, info)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Search returns sessions whose agent name or preview contains term,
// case-insensitively, newest-first.
func Search(dir, term string) ([]SessionInfo, error) {
	all, err := List(dir, "", 0)
	if err != nil {
		return nil, err
	}
	term = strings.ToLower(term)
	var out []SessionInfo
	for _, info := range all {
		if strings.Contains(strings.ToLower(info.AgentName), term) ||
			strings.Contains(strings.ToLower(info.Preview), term) {
			out = append(out, info)
		}
	}
	return out, nil
}

// Delete removes a session's transcripts and its index row.
func Delete(dir, sessionID string) error {
	jsonPath := filepath.Join(dir, sessionID+".json")
	mdPath := filepath.Join(dir, sessionID+".md")
	if _, err := os.Stat(jsonPath); err != nil {
		return errors.New("session %q not found", sessionID)
	}
	if err := os.Remove(jsonPath); err != nil {
		return errors.Wrapf(err, "could not delete session %s", sessionID)
	}
	// Best effort: the markdown twin may already be gone.
	_ = os.Remove(mdPath)

	idx, err := readIndex(dir)
	if err != nil {
		return nil
	}
	kept := idx.Sessions[:0]
	for _, info := range idx.Sessions {
		if info.SessionID != sessionID {
			kept = append(kept, info)
		}
	}
	idx.Sessions = kept
	return writeIndex(dir, idx)
}

// CleanupOlderThan deletes sessions whose last update is older than maxAge.
// Returns the number deleted.
func CleanupOlderThan(dir string, maxAge time.Duration) (int, error) {
	all, err := List(dir, "", 0)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	deleted := 0
	for _, info := range all {
		if info.LastUpdated.Before(cutoff) {
			if err := Delete(dir, info.SessionID); err == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}

func preview(s *Session) string {
	for _, ex := range s.Exchanges {
		if ex.Restoration || ex.Query == "" {
			continue
		}
		q := ex.Query
		if len(q) > 80 {
			q = q[:80] + "..."
		}
		return q
	}
	return ""
}

// writeFileAtomic writes data to a temporary file in the destination
// directory, syncs it, and renames it into place. Transcripts may hold
// private conversation content, so files are owner read/write only.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer func() {
		// No-ops once the rename has succeeded.
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readIndex(dir string) (*index, error) {
	data, err := os.ReadFile(filepath.Join(dir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &index{}, nil
		}
		return nil, errors.Wrapf(err, "could not read session index")
	}
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		// A corrupt index is rebuilt over time rather than blocking saves.
		return &index{}, nil
	}
	return &idx, nil
}

func writeIndex(dir string, idx *index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, indexFile), data)
}

func updateIndex(dir string, info SessionInfo) error {
	idx, err := readIndex(dir)
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range idx.Sessions {
		if existing.SessionID == info.SessionID {
			idx.Sessions[i] = info
			replaced = true
			break
		}
	}
	if !replaced {
		idx.Sessions = append(idx.Sessions, info)
	}
	return writeIndex(dir, idx)
}
