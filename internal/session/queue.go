package session

import (
	"context"

	"github.com/nextlevelbuilder/fable/pkg/protocol"
)

// forcedSavePrompt asks the GM to flush pending world changes to files
// before a compaction archives the conversation that produced them.
const forcedSavePrompt = "Before we continue, persist all current world and character state to their files now. Reply with a single short confirmation sentence."

// HandleInput sanitizes, enqueues, and kicks the processor. System inputs
// bypass sanitization and rate limiting.
func (s *Session) HandleInput(text string, isSystem bool) {
	if !s.Initialized() {
		s.sendError(protocol.ErrGM, "The adventure is still loading. Try again in a moment.", true, "")
		return
	}

	if !isSystem {
		if !s.limiter.Allow() {
			s.sendError(protocol.ErrRateLimit, "You're sending messages too quickly. Take a breath and try again.", true, "")
			return
		}
		sanitized, res := sanitizeForGuard(text, false)
		if res.Blocked {
			s.log.Warn("session.input_blocked", "reason", res.BlockReason, "flags", res.Flags)
			s.sendError(protocol.ErrGM, "Please describe what you'd like to do in the story.", true, res.BlockReason)
			return
		}
		text = sanitized
	}

	s.mu.Lock()
	if len(s.queue) >= maxQueuedInputs {
		s.mu.Unlock()
		s.sendError(protocol.ErrRateLimit, "Too many pending actions. Wait for the GM to catch up.", true, "")
		return
	}
	s.queue = append(s.queue, queuedInput{text: text, isSystem: isSystem})
	shouldStart := !s.isProcessing
	if shouldStart {
		s.isProcessing = true
		s.wasAborted = false
	}
	s.mu.Unlock()

	if shouldStart {
		go s.processLoop()
	}
}

// processLoop drains the queue one input at a time. Exactly one loop runs
// per session; HandleInput only starts it when isProcessing was clear.
func (s *Session) processLoop() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			compactNow := s.store.IsCompactionPending() && s.processedReal
			s.processedReal = false
			s.mu.Unlock()

			if compactNow {
				s.runForcedSaveAndCompact()
			}

			s.mu.Lock()
			// Re-check: the compaction turn may have raced a new input.
			if len(s.queue) == 0 {
				s.isProcessing = false
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			continue
		}
		item := s.queue[0]
		s.queue = s.queue[1:]
		if !item.isSystem {
			s.processedReal = true
		}
		s.mu.Unlock()

		s.processOne(item)
	}
}

// runForcedSaveAndCompact runs a save turn then the compactor. Failures
// leave the pending bit set so the next drain retries.
func (s *Session) runForcedSaveAndCompact() {
	s.log.Info("session.forced_save")
	s.processOne(queuedInput{text: forcedSavePrompt, isSystem: true, silent: true})

	res := s.opts.Compactor.Compact(context.Background(), s.store)
	if !res.Success {
		s.log.Warn("session.compaction_failed", "error", res.Err)
		return
	}
	s.store.ClearCompactionPending()
	s.log.Info("session.compacted", "entries_archived", res.EntriesArchived, "archive", res.ArchivePath)
}
