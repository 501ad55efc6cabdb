package session

import (
	"context"

	"github.com/nextlevelbuilder/fable/pkg/protocol"
)

// recapPrompt restarts the conversation after a recap wiped the agent
// session.
const recapPrompt = "RECAP SESSION: The player has returned after a break. Using the summary in your context, greet them with a brief recap of where things stand and ask what they do next."

// minRecapEntries is the smallest history worth checkpointing.
const minRecapEntries = 10

// HandleRecap checkpoints the whole history into a summary and restarts
// the GM conversation from it.
func (s *Session) HandleRecap() {
	if !s.Initialized() {
		s.send(protocol.TypeRecapError, protocol.RecapErrorPayload{Reason: "adventure not loaded"})
		return
	}

	// Hold the processing slot so player inputs queue behind the recap.
	s.mu.Lock()
	if s.isProcessing {
		s.mu.Unlock()
		s.send(protocol.TypeRecapError, protocol.RecapErrorPayload{Reason: "the GM is still responding"})
		return
	}
	s.isProcessing = true
	s.mu.Unlock()

	if len(s.store.HistorySnapshot().Entries) < minRecapEntries {
		s.mu.Lock()
		s.isProcessing = false
		s.mu.Unlock()
		s.send(protocol.TypeRecapError, protocol.RecapErrorPayload{Reason: "not enough history to recap yet"})
		return
	}

	s.send(protocol.TypeRecapStarted, nil)
	s.log.Info("session.recap_started")

	s.processOne(queuedInput{text: forcedSavePrompt, isSystem: true, silent: true})

	res := s.opts.Compactor.CompactAll(context.Background(), s.store)
	if !res.Success {
		s.mu.Lock()
		s.isProcessing = false
		s.mu.Unlock()
		s.log.Warn("session.recap_failed", "error", res.Err)
		s.send(protocol.TypeRecapError, protocol.RecapErrorPayload{Reason: "the GM could not write the recap"})
		return
	}
	s.store.ClearCompactionPending()

	if err := s.store.ClearAgentSessionID(); err != nil {
		s.log.Error("session.clear_agent_session_failed", "error", err)
	}

	var summary *protocol.SummaryPayload
	if res.Summary != nil {
		summary = &protocol.SummaryPayload{Text: res.Summary.Text, CoveringEntryIDs: res.Summary.CoveringEntryIDs}
	}
	s.send(protocol.TypeRecapComplete, protocol.RecapCompletePayload{
		History: historyPayload(res.Retained),
		Summary: summary,
	})
	s.log.Info("session.recap_complete", "entries_archived", res.EntriesArchived)

	// Release the slot, then restart the conversation through the normal
	// queue so ordering guarantees hold.
	s.mu.Lock()
	s.isProcessing = false
	s.mu.Unlock()

	s.HandleInput(recapPrompt, true)
}
