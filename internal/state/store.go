package state

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/fable/internal/fsatomic"
	"github.com/nextlevelbuilder/fable/internal/pathsafe"
)

const (
	stateFile   = "state.json"
	historyFile = "history.json"
)

// Store owns one adventure's in-memory snapshot and its on-disk documents.
// The owning session is the single writer; every mutator persists before
// returning.
type Store struct {
	mu  sync.Mutex
	dir string

	adventure Adventure
	history   History

	compactionPending bool
}

// Create generates a fresh adventure with default scene, persists it, and
// returns its store.
func Create(adventuresDir string) (*Store, error) {
	adv := Adventure{
		ID:           uuid.NewString(),
		SessionToken: uuid.NewString(),
		CreatedAt:    now(),
		LastActiveAt: now(),
		CurrentScene: Scene{
			Description: "Your adventure is about to begin. Speak, and the world will answer.",
			Location:    "Unknown",
		},
		CurrentTheme: Theme{Mood: "mysterious", Genre: "high-fantasy", Region: "forest"},
	}

	dir := pathsafe.SafeResolve(adventuresDir, adv.ID)
	if dir == "" {
		return nil, ErrInvalidID
	}
	if err := fsatomic.EnsureDir(dir); err != nil {
		return nil, err
	}

	s := &Store{dir: dir, adventure: adv, history: History{Entries: []HistoryEntry{}}}
	if err := s.persistState(); err != nil {
		return nil, err
	}
	if err := s.persistHistory(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load opens an existing adventure after validating id and token. The token
// comparison is constant-time. A missing history file is treated as empty;
// a malformed one is corruption.
func Load(adventuresDir, id, token string) (*Store, error) {
	if ok, _ := pathsafe.ValidateAdventureID(id); !ok {
		return nil, ErrInvalidID
	}
	dir := pathsafe.SafeResolve(adventuresDir, id)
	if dir == "" {
		return nil, ErrInvalidID
	}

	statePath := filepath.Join(dir, stateFile)
	data, err := os.ReadFile(statePath)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var adv Adventure
	if err := json.Unmarshal(data, &adv); err != nil {
		return nil, &CorruptError{Path: statePath, Err: err}
	}

	if subtle.ConstantTimeCompare([]byte(adv.SessionToken), []byte(token)) != 1 {
		return nil, ErrInvalidToken
	}

	s := &Store{dir: dir, adventure: adv, history: History{Entries: []HistoryEntry{}}}

	historyPath := filepath.Join(dir, historyFile)
	hdata, err := os.ReadFile(historyPath)
	if err == nil {
		if err := json.Unmarshal(hdata, &s.history); err != nil {
			return nil, &CorruptError{Path: historyPath, Err: err}
		}
		if s.history.Entries == nil {
			s.history.Entries = []HistoryEntry{}
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read history: %w", err)
	}

	s.adventure.LastActiveAt = now()
	if err := s.persistState(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadMetadata reads the public metadata view without token validation.
func LoadMetadata(adventuresDir, id string) (*Metadata, error) {
	if ok, _ := pathsafe.ValidateAdventureID(id); !ok {
		return nil, ErrInvalidID
	}
	dir := pathsafe.SafeResolve(adventuresDir, id)
	if dir == "" {
		return nil, ErrInvalidID
	}
	statePath := filepath.Join(dir, stateFile)
	data, err := os.ReadFile(statePath)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, &CorruptError{Path: statePath, Err: err}
	}
	return &md, nil
}

// Dir returns the adventure's directory.
func (s *Store) Dir() string { return s.dir }

// Adventure returns a copy of the current adventure snapshot.
func (s *Store) Adventure() Adventure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adventure
}

// HistorySnapshot returns a deep copy of the current history.
func (s *Store) HistorySnapshot() History {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyHistory(s.history)
}

// AppendHistory appends one entry and rewrites the history document.
func (s *Store) AppendHistory(entryType, content string) (HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := HistoryEntry{
		ID:        uuid.NewString(),
		Timestamp: now(),
		Type:      entryType,
		Content:   content,
	}
	s.history.Entries = append(s.history.Entries, entry)
	if err := s.persistHistory(); err != nil {
		s.history.Entries = s.history.Entries[:len(s.history.Entries)-1]
		return HistoryEntry{}, err
	}
	return entry, nil
}

// ReplaceHistory swaps the whole history document (recap, compaction).
func (s *Store) ReplaceHistory(h History) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.Entries == nil {
		h.Entries = []HistoryEntry{}
	}
	prev := s.history
	s.history = h
	if err := s.persistHistory(); err != nil {
		s.history = prev
		return err
	}
	return nil
}

// UpdateScene persists a new current scene.
func (s *Store) UpdateScene(scene Scene) error {
	return s.mutate(func(a *Adventure) { a.CurrentScene = scene })
}

// UpdateTheme persists a new theme tuple.
func (s *Store) UpdateTheme(theme Theme) error {
	return s.mutate(func(a *Adventure) { a.CurrentTheme = theme })
}

// UpdatePlayerRef persists the bound character reference.
func (s *Store) UpdatePlayerRef(ref string) error {
	return s.mutate(func(a *Adventure) { a.PlayerRef = &ref })
}

// UpdateWorldRef persists the bound world reference.
func (s *Store) UpdateWorldRef(ref string) error {
	return s.mutate(func(a *Adventure) { a.WorldRef = &ref })
}

// UpdateAgentSessionID persists the resumable agent conversation handle.
func (s *Store) UpdateAgentSessionID(id string) error {
	return s.mutate(func(a *Adventure) { a.AgentSessionID = &id })
}

// ClearAgentSessionID drops the resumable handle (recovery, recap).
func (s *Store) ClearAgentSessionID() error {
	return s.mutate(func(a *Adventure) { a.AgentSessionID = nil })
}

// UpdateXPStyle persists the XP preference.
func (s *Store) UpdateXPStyle(style string) error {
	return s.mutate(func(a *Adventure) { a.XPStyle = &style })
}

// Touch refreshes lastActiveAt.
func (s *Store) Touch() error {
	return s.mutate(func(*Adventure) {})
}

// MarkCompactionPending requests a compaction at the next queue drain.
func (s *Store) MarkCompactionPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compactionPending = true
}

// IsCompactionPending reports whether a compaction has been requested.
func (s *Store) IsCompactionPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compactionPending
}

// ClearCompactionPending resets the request bit after a compaction ran.
func (s *Store) ClearCompactionPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compactionPending = false
}

// WriteArchive atomically writes a compaction archive document and returns
// its path. The filename carries the moment of archiving.
func (s *Store) WriteArchive(entries []HistoryEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := struct {
		ArchivedAt string         `json:"archivedAt"`
		Entries    []HistoryEntry `json:"entries"`
	}{ArchivedAt: now(), Entries: entries}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("history-archive-%s.json", sanitizeTimestamp(doc.ArchivedAt))
	path := filepath.Join(s.dir, name)
	if err := fsatomic.WriteFile(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Store) mutate(fn func(*Adventure)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.adventure
	fn(&s.adventure)
	s.adventure.LastActiveAt = now()
	if err := s.persistState(); err != nil {
		s.adventure = prev
		return err
	}
	return nil
}

func (s *Store) persistState() error {
	data, err := json.MarshalIndent(s.adventure, "", "  ")
	if err != nil {
		return err
	}
	return fsatomic.WriteFile(filepath.Join(s.dir, stateFile), data)
}

func (s *Store) persistHistory() error {
	data, err := json.MarshalIndent(s.history, "", "  ")
	if err != nil {
		return err
	}
	return fsatomic.WriteFile(filepath.Join(s.dir, historyFile), data)
}

func copyHistory(h History) History {
	out := History{Entries: make([]HistoryEntry, len(h.Entries))}
	copy(out.Entries, h.Entries)
	if h.Summary != nil {
		sum := *h.Summary
		sum.CoveringEntryIDs = append([]string(nil), h.Summary.CoveringEntryIDs...)
		out.Summary = &sum
	}
	return out
}

// sanitizeTimestamp makes an RFC3339 timestamp filename-safe.
func sanitizeTimestamp(ts string) string {
	b := []byte(ts)
	for i, c := range b {
		if c == ':' || c == '.' {
			b[i] = '-'
		}
	}
	return string(b)
}
