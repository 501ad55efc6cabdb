// Package state owns the durable per-adventure record: the compact JSON
// state document and the append-only narrative log. All writes go through
// the atomic file store; sessions hold a borrowed handle and are the only
// writers for their adventure.
package state

import (
	"time"
)

// Entry types in the narrative history.
const (
	EntryPlayerInput = "player_input"
	EntryGMResponse  = "gm_response"
)

// XP preference values the GM can persist.
const (
	XPFrequent   = "frequent"
	XPMilestone  = "milestone"
	XPCombatPlus = "combat-plus"
)

// Theme is the current visual theme tuple.
type Theme struct {
	Mood          string  `json:"mood"`
	Genre         string  `json:"genre"`
	Region        string  `json:"region"`
	BackgroundURL *string `json:"backgroundUrl"`
}

// Scene is the short current-scene descriptor shown on the metadata surface.
type Scene struct {
	Description string `json:"description"`
	Location    string `json:"location"`
}

// Adventure is the durable unit, persisted as state.json.
type Adventure struct {
	ID             string  `json:"id"`
	SessionToken   string  `json:"sessionToken"`
	AgentSessionID *string `json:"agentSessionId"`
	CreatedAt      string  `json:"createdAt"`
	LastActiveAt   string  `json:"lastActiveAt"`
	CurrentScene   Scene   `json:"currentScene"`
	CurrentTheme   Theme   `json:"currentTheme"`
	PlayerRef      *string `json:"playerRef"`
	WorldRef       *string `json:"worldRef"`
	XPStyle        *string `json:"xpStyle"`
}

// HistoryEntry is one narrative log record.
type HistoryEntry struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"` // RFC3339, strictly monotonic per adventure
	Type      string `json:"type"`
	Content   string `json:"content"`
}

// Summary is the rolling compaction summary. CoveringEntryIDs is disjoint
// from the retained entries.
type Summary struct {
	Text             string   `json:"text"`
	CoveringEntryIDs []string `json:"coveringEntryIds"`
}

// History is the persisted history.json document.
type History struct {
	Entries []HistoryEntry `json:"entries"`
	Summary *Summary       `json:"summary"`
}

// Metadata is the unauthenticated public view of an adventure.
type Metadata struct {
	ID           string `json:"id"`
	CreatedAt    string `json:"createdAt"`
	LastActiveAt string `json:"lastActiveAt"`
	CurrentScene Scene  `json:"currentScene"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
