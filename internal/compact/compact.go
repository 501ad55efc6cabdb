// Package compact archives the old head of an adventure's history behind a
// one-shot GM summary so resumed conversations stay inside the agent's
// context window.
package compact

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/fable/internal/agent"
	"github.com/nextlevelbuilder/fable/internal/state"
)

// Config sets the retained-tail bounds.
type Config struct {
	// RetainedCount is the minimum number of entries kept verbatim.
	RetainedCount int
	// TargetRetainedChars caps the retained tail's character count. The
	// cap wins over RetainedCount when both cannot hold.
	TargetRetainedChars int
}

// DefaultConfig matches a few sessions of play before the first archive.
func DefaultConfig() Config {
	return Config{RetainedCount: 20, TargetRetainedChars: 12000}
}

// Result reports one compaction run. A failed run leaves the stored
// history untouched.
type Result struct {
	Success         bool
	ArchivePath     string
	EntriesArchived int
	Retained        []state.HistoryEntry
	Summary         *state.Summary
	Err             error
}

// Compactor runs compactions for any adventure using a shared agent client.
type Compactor struct {
	client agent.Client
	cfg    Config
}

func New(client agent.Client, cfg Config) *Compactor {
	if cfg.RetainedCount < 0 {
		cfg.RetainedCount = 0
	}
	if cfg.TargetRetainedChars <= 0 {
		cfg.TargetRetainedChars = DefaultConfig().TargetRetainedChars
	}
	return &Compactor{client: client, cfg: cfg}
}

// Compact archives the history head per the configured bounds.
func (c *Compactor) Compact(ctx context.Context, st *state.Store) Result {
	return c.run(ctx, st, c.cfg.RetainedCount)
}

// CompactAll archives the entire history. Used by recap, which rebuilds the
// conversation from the summary alone.
func (c *Compactor) CompactAll(ctx context.Context, st *state.Store) Result {
	return c.run(ctx, st, 0)
}

// ShouldCompact reports whether the history has outgrown the configured
// tail enough to be worth scheduling. The 2x headroom keeps compaction from
// firing on every queue drain once the floor is crossed.
func (c *Compactor) ShouldCompact(h state.History) bool {
	if len(h.Entries) > c.cfg.RetainedCount*2 {
		return true
	}
	chars := 0
	for _, e := range h.Entries {
		chars += len(e.Content)
	}
	return chars > c.cfg.TargetRetainedChars*2
}

func (c *Compactor) run(ctx context.Context, st *state.Store, retainedCount int) Result {
	h := st.HistorySnapshot()
	cut := cutPoint(h.Entries, retainedCount, c.cfg.TargetRetainedChars)
	if cut <= 0 {
		return Result{Success: true, Retained: h.Entries, Summary: h.Summary}
	}

	archived := h.Entries[:cut]
	retained := h.Entries[cut:]

	summaryText, err := c.summarize(ctx, h.Summary, archived)
	if err != nil {
		slog.Warn("compact.summary_failed", "adventure_dir", st.Dir(), "error", err)
		return Result{Success: false, Err: err}
	}

	archivePath, err := st.WriteArchive(archived)
	if err != nil {
		return Result{Success: false, Err: fmt.Errorf("write archive: %w", err)}
	}

	covering := make([]string, 0, len(archived))
	if h.Summary != nil {
		covering = append(covering, h.Summary.CoveringEntryIDs...)
	}
	for _, e := range archived {
		covering = append(covering, e.ID)
	}
	summary := &state.Summary{Text: summaryText, CoveringEntryIDs: covering}

	if err := st.ReplaceHistory(state.History{Entries: retained, Summary: summary}); err != nil {
		return Result{Success: false, Err: fmt.Errorf("replace history: %w", err)}
	}

	slog.Info("compact.archived",
		"adventure_dir", st.Dir(),
		"entries_archived", len(archived),
		"entries_retained", len(retained),
		"archive", archivePath,
	)
	return Result{
		Success:         true,
		ArchivePath:     archivePath,
		EntriesArchived: len(archived),
		Retained:        retained,
		Summary:         summary,
	}
}

// cutPoint returns how many leading entries to archive. The retained tail
// keeps at least retainedCount entries unless the char cap forces it
// smaller.
func cutPoint(entries []state.HistoryEntry, retainedCount, targetChars int) int {
	if len(entries) <= retainedCount {
		return 0
	}
	cut := len(entries) - retainedCount

	chars := 0
	for i := len(entries) - 1; i >= cut; i-- {
		chars += len(entries[i].Content)
	}
	for cut < len(entries) && chars > targetChars {
		chars -= len(entries[cut].Content)
		cut++
	}
	return cut
}

// summarize makes a non-streaming one-shot call and returns the summary
// text.
func (c *Compactor) summarize(ctx context.Context, previous *state.Summary, archived []state.HistoryEntry) (string, error) {
	stream, err := c.client.Query(ctx, agent.QueryRequest{
		Prompt:       buildPrompt(previous, archived),
		SystemPrompt: "You are summarizing a tabletop adventure log. Reply with the summary text only.",
		MaxTurns:     1,
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for msg := range stream.Messages() {
		am, ok := msg.(agent.AssistantMessage)
		if !ok {
			continue
		}
		for _, block := range am.Content {
			if block.Type == "text" {
				if b.Len() > 0 {
					b.WriteString("\n\n")
				}
				b.WriteString(block.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", err
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("empty summary from agent")
	}
	return text, nil
}

func buildPrompt(previous *state.Summary, archived []state.HistoryEntry) string {
	var b strings.Builder
	b.WriteString("RECAP SESSION\n\nCondense the following adventure log into a concise summary that preserves characters, locations, unresolved threads, and important items.\n")
	if previous != nil && previous.Text != "" {
		b.WriteString("\nEarlier summary:\n")
		b.WriteString(previous.Text)
		b.WriteString("\n")
	}
	b.WriteString("\nLog:\n")
	for _, e := range archived {
		label := "Player"
		if e.Type == state.EntryGMResponse {
			label = "GM"
		}
		fmt.Fprintf(&b, "[%s] %s\n", label, e.Content)
	}
	return b.String()
}
