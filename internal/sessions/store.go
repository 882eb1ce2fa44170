package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Entry types stored in a session transcript.
const (
	EntryUser       = "user"
	EntrySummary    = "summary"
	EntryReport     = "report"
	EntrySystem     = "system"
	EntryCompaction = "compaction"
)

// Entry is one transcript record. Transcripts store the directive-stripped
// reply text, never raw directive syntax.
type Entry struct {
	TS      time.Time         `json:"ts"`
	Type    string            `json:"type"`
	Content string            `json:"content"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// IndexEntry is the per-session record in the sessions index.
type IndexEntry struct {
	SessionID string    `json:"sessionId"`
	UpdatedAt time.Time `json:"updatedAt"`
	Summary   string    `json:"summary,omitempty"`
}

// StoreOptions configures a Store.
type StoreOptions struct {
	StateDir      string
	AgentID       string
	MaxEntries    int // transcript compaction threshold (default 20)
	MaxEntryChars int // per-entry content cap (default 2000)
}

// Store persists session transcripts as one JSONL file per session id,
// plus a JSON index keyed by normalized session key.
type Store struct {
	stateDir      string
	agentID       string
	maxEntries    int
	maxEntryChars int
	mu            sync.Mutex
}

// NewStore creates a transcript store rooted at opts.StateDir.
func NewStore(opts StoreOptions) *Store {
	agentID := strings.TrimSpace(opts.AgentID)
	if agentID == "" {
		agentID = "main"
	}
	s := &Store{
		stateDir:      opts.StateDir,
		agentID:       agentID,
		maxEntries:    opts.MaxEntries,
		maxEntryChars: opts.MaxEntryChars,
	}
	if s.maxEntries <= 0 {
		s.maxEntries = 20
	}
	if s.maxEntryChars <= 0 {
		s.maxEntryChars = 2000
	}
	return s
}

func (s *Store) sessionsDir() string {
	return filepath.Join(s.stateDir, "agents", s.agentID, "sessions")
}

func (s *Store) sessionPath(sessionID string) string {
	return filepath.Join(s.sessionsDir(), sessionID+".jsonl")
}

func (s *Store) indexPath() string {
	return filepath.Join(s.sessionsDir(), "sessions.json")
}

// Append adds entries to a session transcript, updates the index, and
// compacts the transcript when it grows past the entry limit.
func (s *Store) Append(sessionKey string, entries ...Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := NormalizeSessionKey(sessionKey)
	id := SessionID(key)

	if err := os.MkdirAll(s.sessionsDir(), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}

	var sb strings.Builder
	for i := range entries {
		e := s.normalizeEntry(entries[i])
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		sb.Write(line)
		sb.WriteByte('\n')
	}

	path := s.sessionPath(id)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open session file: %w", err)
	}
	if _, err := f.WriteString(sb.String()); err != nil {
		f.Close()
		return fmt.Errorf("append session file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := s.updateIndex(key, id, deriveSummary(entries)); err != nil {
		return err
	}
	return s.maybeCompact(key, id, path)
}

// LoadRecent returns up to maxEntries of the most recent transcript entries.
func (s *Store) LoadRecent(sessionKey string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := SessionID(sessionKey)
	entries, err := readEntries(s.sessionPath(id))
	if err != nil {
		return nil, err
	}
	if len(entries) > s.maxEntries {
		entries = entries[len(entries)-s.maxEntries:]
	}
	return entries, nil
}

// BuildContext renders the recent transcript as a prompt context block.
// Returns "" for an empty or missing session.
func (s *Store) BuildContext(sessionKey string) (string, error) {
	entries, err := s.LoadRecent(sessionKey)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("## Session Context\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "[%s] %-9s %s\n", e.TS.Format(time.RFC3339), e.Type, e.Content)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// Index returns the session index (normalized key → index entry).
func (s *Store) Index() (map[string]IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readIndex(s.indexPath())
}

// Reset truncates a session's transcript, keeping the index entry.
func (s *Store) Reset(sessionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := NormalizeSessionKey(sessionKey)
	id := SessionID(key)
	path := s.sessionPath(id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return s.updateIndex(key, id, "reset")
}

// Delete removes a session's transcript and index entry.
func (s *Store) Delete(sessionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := NormalizeSessionKey(sessionKey)
	id := SessionID(key)
	if err := os.Remove(s.sessionPath(id)); err != nil && !os.IsNotExist(err) {
		return err
	}

	index, err := readIndex(s.indexPath())
	if err != nil {
		return err
	}
	delete(index, key)
	return writeIndexAtomic(s.indexPath(), index)
}

func (s *Store) normalizeEntry(e Entry) Entry {
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	switch e.Type {
	case EntryUser, EntrySummary, EntryReport, EntrySystem, EntryCompaction:
	default:
		e.Type = EntrySystem
	}
	if len(e.Content) > s.maxEntryChars {
		cut := s.maxEntryChars
		for cut > 0 && !utf8.RuneStart(e.Content[cut]) {
			cut--
		}
		e.Content = e.Content[:cut]
	}
	return e
}

func (s *Store) updateIndex(key, id, summary string) error {
	index, err := readIndex(s.indexPath())
	if err != nil {
		return err
	}

	entry := IndexEntry{SessionID: id, UpdatedAt: time.Now().UTC()}
	if summary = strings.TrimSpace(summary); summary != "" {
		entry.Summary = summary
	} else if prev, ok := index[key]; ok {
		entry.Summary = prev.Summary
	}
	index[key] = entry
	return writeIndexAtomic(s.indexPath(), index)
}

func (s *Store) maybeCompact(key, id, path string) error {
	entries, err := readEntries(path)
	if err != nil {
		return err
	}
	if len(entries) <= s.maxEntries {
		return nil
	}

	keep := entries[len(entries)-s.maxEntries:]
	compacted := Entry{
		TS:      time.Now().UTC(),
		Type:    EntryCompaction,
		Content: fmt.Sprintf("Compacted %d entries to keep recent context.", len(entries)-len(keep)),
	}

	var sb strings.Builder
	for _, e := range append([]Entry{compacted}, keep...) {
		line, err := json.Marshal(e)
		if err != nil {
			return err
		}
		sb.Write(line)
		sb.WriteByte('\n')
	}
	if err := writeFileAtomic(path, []byte(sb.String())); err != nil {
		return err
	}
	return s.updateIndex(key, id, compacted.Content)
}

func deriveSummary(entries []Entry) string {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Type == EntrySummary {
			return entries[i].Content
		}
	}
	return ""
}

func readEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue // skip corrupt lines rather than losing the session
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

func readIndex(path string) (map[string]IndexEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]IndexEntry{}, nil
		}
		return nil, err
	}
	index := map[string]IndexEntry{}
	if err := json.Unmarshal(data, &index); err != nil {
		return map[string]IndexEntry{}, nil
	}
	return index, nil
}

func writeIndexAtomic(path string, index map[string]IndexEntry) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic writes via temp file + rename so a crash mid-write never
// leaves a truncated file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}
