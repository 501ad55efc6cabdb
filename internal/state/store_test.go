package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s, err := Create(dir)
	require.NoError(t, err)

	adv := s.Adventure()
	require.NotEmpty(t, adv.ID)
	require.NotEmpty(t, adv.SessionToken)
	require.Equal(t, "Unknown", adv.CurrentScene.Location)

	loaded, err := Load(dir, adv.ID, adv.SessionToken)
	require.NoError(t, err)

	got := loaded.Adventure()
	require.Equal(t, adv.ID, got.ID)
	require.Equal(t, adv.CurrentScene, got.CurrentScene)
	require.Equal(t, adv.CurrentTheme, got.CurrentTheme)
	require.Empty(t, loaded.HistorySnapshot().Entries)
}

func TestLoadRejectsBadToken(t *testing.T) {
	dir := t.TempDir()
	s, err := Create(dir)
	require.NoError(t, err)
	adv := s.Adventure()

	_, err = Load(dir, adv.ID, "not-the-token")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = Load(dir, adv.ID, "")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestLoadUnknownAdventure(t *testing.T) {
	_, err := Load(t.TempDir(), "0b7a2c1e-aaaa-bbbb-cccc-000000000000", "tok")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadRejectsTraversalID(t *testing.T) {
	_, err := Load(t.TempDir(), "../escape", "tok")
	require.ErrorIs(t, err, ErrInvalidID)
}

func TestLoadCorruptState(t *testing.T) {
	dir := t.TempDir()
	s, err := Create(dir)
	require.NoError(t, err)
	adv := s.Adventure()

	statePath := filepath.Join(dir, adv.ID, "state.json")
	require.NoError(t, os.WriteFile(statePath, []byte("{not json"), 0o600))

	_, err = Load(dir, adv.ID, adv.SessionToken)
	var corrupt *CorruptError
	require.True(t, errors.As(err, &corrupt))
	require.Equal(t, statePath, corrupt.Path)
}

func TestLoadMissingHistoryIsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := Create(dir)
	require.NoError(t, err)
	adv := s.Adventure()

	require.NoError(t, os.Remove(filepath.Join(dir, adv.ID, "history.json")))

	loaded, err := Load(dir, adv.ID, adv.SessionToken)
	require.NoError(t, err)
	require.Empty(t, loaded.HistorySnapshot().Entries)
}

func TestLoadCorruptHistory(t *testing.T) {
	dir := t.TempDir()
	s, err := Create(dir)
	require.NoError(t, err)
	adv := s.Adventure()

	require.NoError(t, os.WriteFile(filepath.Join(dir, adv.ID, "history.json"), []byte("[[["), 0o600))

	_, err = Load(dir, adv.ID, adv.SessionToken)
	require.True(t, IsCorrupt(err))
}

func TestAppendHistoryPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := Create(dir)
	require.NoError(t, err)
	adv := s.Adventure()

	first, err := s.AppendHistory(EntryPlayerInput, "look around")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	_, err = s.AppendHistory(EntryGMResponse, "You see a clearing.")
	require.NoError(t, err)

	loaded, err := Load(dir, adv.ID, adv.SessionToken)
	require.NoError(t, err)
	entries := loaded.HistorySnapshot().Entries
	require.Len(t, entries, 2)
	require.Equal(t, EntryPlayerInput, entries[0].Type)
	require.Equal(t, "look around", entries[0].Content)
	require.Equal(t, EntryGMResponse, entries[1].Type)
}

func TestMutatorsPersist(t *testing.T) {
	dir := t.TempDir()
	s, err := Create(dir)
	require.NoError(t, err)
	adv := s.Adventure()

	require.NoError(t, s.UpdateTheme(Theme{Mood: "ominous", Genre: "horror", Region: "swamp"}))
	require.NoError(t, s.UpdateScene(Scene{Description: "A ruined chapel.", Location: "Chapel"}))
	require.NoError(t, s.UpdatePlayerRef("players/hero"))
	require.NoError(t, s.UpdateAgentSessionID("agent-abc"))
	require.NoError(t, s.UpdateXPStyle(XPMilestone))

	loaded, err := Load(dir, adv.ID, adv.SessionToken)
	require.NoError(t, err)
	got := loaded.Adventure()
	require.Equal(t, "ominous", got.CurrentTheme.Mood)
	require.Equal(t, "Chapel", got.CurrentScene.Location)
	require.NotNil(t, got.PlayerRef)
	require.Equal(t, "players/hero", *got.PlayerRef)
	require.NotNil(t, got.AgentSessionID)
	require.Equal(t, "agent-abc", *got.AgentSessionID)
	require.NotNil(t, got.XPStyle)
	require.Equal(t, XPMilestone, *got.XPStyle)

	require.NoError(t, loaded.ClearAgentSessionID())
	reloaded, err := Load(dir, adv.ID, adv.SessionToken)
	require.NoError(t, err)
	require.Nil(t, reloaded.Adventure().AgentSessionID)
}

func TestReplaceHistoryWithSummary(t *testing.T) {
	dir := t.TempDir()
	s, err := Create(dir)
	require.NoError(t, err)
	adv := s.Adventure()

	for i := 0; i < 4; i++ {
		_, err := s.AppendHistory(EntryPlayerInput, "turn")
		require.NoError(t, err)
	}
	old := s.HistorySnapshot()

	replacement := History{
		Entries: old.Entries[2:],
		Summary: &Summary{
			Text:             "The hero wandered.",
			CoveringEntryIDs: []string{old.Entries[0].ID, old.Entries[1].ID},
		},
	}
	require.NoError(t, s.ReplaceHistory(replacement))

	loaded, err := Load(dir, adv.ID, adv.SessionToken)
	require.NoError(t, err)
	h := loaded.HistorySnapshot()
	require.Len(t, h.Entries, 2)
	require.NotNil(t, h.Summary)
	require.Equal(t, "The hero wandered.", h.Summary.Text)
	require.Len(t, h.Summary.CoveringEntryIDs, 2)
}

func TestCompactionPendingBit(t *testing.T) {
	s, err := Create(t.TempDir())
	require.NoError(t, err)

	require.False(t, s.IsCompactionPending())
	s.MarkCompactionPending()
	require.True(t, s.IsCompactionPending())
	s.ClearCompactionPending()
	require.False(t, s.IsCompactionPending())
}

func TestWriteArchive(t *testing.T) {
	s, err := Create(t.TempDir())
	require.NoError(t, err)

	path, err := s.WriteArchive([]HistoryEntry{{ID: "e1", Type: EntryPlayerInput, Content: "hi"}})
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Contains(t, filepath.Base(path), "history-archive-")
}

func TestLoadMetadata(t *testing.T) {
	dir := t.TempDir()
	s, err := Create(dir)
	require.NoError(t, err)
	adv := s.Adventure()

	md, err := LoadMetadata(dir, adv.ID)
	require.NoError(t, err)
	require.Equal(t, adv.ID, md.ID)
	require.Equal(t, adv.CurrentScene, md.CurrentScene)

	_, err = LoadMetadata(dir, "nope/../nope")
	require.ErrorIs(t, err, ErrInvalidID)
}
