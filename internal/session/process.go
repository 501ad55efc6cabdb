package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/fable/internal/agent"
	"github.com/nextlevelbuilder/fable/internal/state"
	"github.com/nextlevelbuilder/fable/internal/telemetry"
	"github.com/nextlevelbuilder/fable/pkg/protocol"
)

// streamOutcome is what one agent call produced.
type streamOutcome struct {
	text       string
	aborted    bool
	numTurns   int
	hasContent bool
}

// processOne runs a single input end to end. Errors never crash the
// session; they surface as classified error frames.
func (s *Session) processOne(item queuedInput) {
	timeout := s.opts.Config.Agent.InputTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.mu.Lock()
	s.cancelCurrent = cancel
	s.wasAborted = false
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancelCurrent = nil
		s.mu.Unlock()
	}()

	ctx, span := telemetry.Tracer().Start(ctx, "session.process_input")
	defer span.End()

	messageID := uuid.NewString()

	if !item.isSystem {
		if _, err := s.store.AppendHistory(state.EntryPlayerInput, item.text); err != nil {
			s.log.Error("session.history_append_failed", "error", err)
		}
	}

	if !item.silent {
		s.send(protocol.TypeGMResponseStart, protocol.GMResponseStartPayload{MessageID: messageID})
	}

	outcome, err := s.runAgentTurn(ctx, messageID, item)

	if !item.silent {
		s.send(protocol.TypeGMResponseEnd, protocol.GMResponseEndPayload{MessageID: messageID})
		idleDescription := "Ready"
		if outcome.aborted {
			idleDescription = "Interrupted"
		}
		s.send(protocol.TypeToolStatus, protocol.ToolStatusPayload{State: protocol.ToolStateIdle, Description: idleDescription})
	}

	s.persistTurn(item, outcome)

	if !item.isSystem && s.opts.Compactor != nil && s.opts.Compactor.ShouldCompact(s.store.HistorySnapshot()) {
		s.store.MarkCompactionPending()
		s.log.Debug("session.compaction_scheduled",
			"entries", len(s.store.HistorySnapshot().Entries),
		)
	}

	if err != nil && !outcome.aborted {
		s.surfaceAgentError(ctx, err)
		return
	}
	if err == nil && !outcome.aborted {
		s.mu.Lock()
		s.recoveryAttempt = 0
		s.mu.Unlock()
	}
}

// runAgentTurn performs the streaming call, with at most one recovery
// retry when the resume handle turns out to be dead.
func (s *Session) runAgentTurn(ctx context.Context, messageID string, item queuedInput) (streamOutcome, error) {
	adv := s.store.Adventure()
	resume := ""
	if adv.AgentSessionID != nil {
		resume = *adv.AgentSessionID
	}

	outcome, err := s.consumeQuery(ctx, messageID, item.text, resume, item.silent)
	if err == nil || outcome.aborted {
		return outcome, err
	}

	if !agent.IsSessionInvalid(err) {
		return outcome, err
	}

	s.mu.Lock()
	canRecover := s.recoveryAttempt < 1
	if canRecover {
		s.recoveryAttempt++
	}
	s.mu.Unlock()
	if !canRecover {
		return outcome, err
	}

	s.log.Warn("session.recovering", "error", err)
	s.send(protocol.TypeToolStatus, protocol.ToolStatusPayload{State: protocol.ToolStateActive, Description: "Reconnecting…"})

	if clearErr := s.store.ClearAgentSessionID(); clearErr != nil {
		s.log.Error("session.clear_agent_session_failed", "error", clearErr)
	}

	prompt := s.recoveryContext() + item.text
	outcome, err = s.consumeQuery(ctx, messageID, prompt, "", item.silent)
	if err == nil && !outcome.aborted {
		s.send(protocol.TypeToolStatus, protocol.ToolStatusPayload{State: protocol.ToolStateActive, Description: "Restoring…"})
	}
	return outcome, err
}

// consumeQuery runs one streaming call and forwards its events to the
// client.
func (s *Session) consumeQuery(ctx context.Context, messageID, prompt, resume string, silent bool) (streamOutcome, error) {
	stream, err := s.opts.Client.Query(ctx, agent.QueryRequest{
		Prompt:          prompt,
		SystemPrompt:    s.buildSystemPrompt(),
		ResumeSessionID: resume,
		AllowedTools:    s.dispatcher.Tools(),
		ToolServer:      s.dispatcher,
		CWD:             s.opts.Config.Adventure.ProjectDir,
		MaxTurns:        s.opts.Config.Agent.MaxTurns,
		PermissionMode:  agent.PermissionAutoAcceptEdits,
		PostToolHook:    s.postToolHook,
	})
	if err != nil {
		return streamOutcome{}, err
	}

	var (
		outcome    streamOutcome
		text       strings.Builder
		textBlocks int
	)

	emitChunk := func(chunk string) {
		text.WriteString(chunk)
		if !silent {
			s.send(protocol.TypeGMResponseChunk, protocol.GMResponseChunkPayload{MessageID: messageID, Text: chunk})
		}
	}

	for msg := range stream.Messages() {
		switch m := msg.(type) {
		case agent.InitMessage:
			// Persisted before any later call can attempt a resume.
			if err := s.store.UpdateAgentSessionID(m.SessionID); err != nil {
				s.log.Error("session.agent_session_persist_failed", "error", err)
			}

		case agent.StreamEvent:
			switch m.Kind {
			case agent.EventBlockStart:
				if m.BlockType == "text" {
					if textBlocks > 0 {
						emitChunk("\n\n")
					}
					textBlocks++
				}
			case agent.EventTextDelta:
				emitChunk(m.Text)
			}

		case agent.AssistantMessage:
			for _, block := range m.Content {
				if block.Type == "tool_use" && !silent {
					s.send(protocol.TypeToolStatus, protocol.ToolStatusPayload{
						State:       protocol.ToolStateActive,
						Description: toolDescription(block.ToolName),
					})
				}
			}

		case agent.ResultMessage:
			outcome.numTurns = m.NumTurns
		}

		if s.abortRequested() {
			outcome.aborted = true
			break
		}
	}

	if !outcome.aborted && s.abortRequested() {
		outcome.aborted = true
	}

	// Drain remaining messages so the producer goroutine can finish.
	if outcome.aborted {
		go func() {
			for range stream.Messages() {
			}
		}()
	}

	outcome.text = text.String()
	outcome.hasContent = text.Len() > 0
	if outcome.aborted {
		return outcome, nil
	}
	return outcome, stream.Err()
}

func (s *Session) abortRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wasAborted
}

// persistTurn writes the GM response entry and refreshes the scene.
// Silent checkpoint turns leave no narrative trace.
func (s *Session) persistTurn(item queuedInput, outcome streamOutcome) {
	if item.silent || !outcome.hasContent {
		return
	}
	text := outcome.text
	if outcome.aborted {
		text += "\n\n*[Response interrupted]*"
	}
	if _, err := s.store.AppendHistory(state.EntryGMResponse, text); err != nil {
		s.log.Error("session.history_append_failed", "error", err)
	}
	if item.isSystem {
		return
	}

	scene := s.store.Adventure().CurrentScene
	scene.Description = firstParagraph(outcome.text, 500)
	if err := s.store.UpdateScene(scene); err != nil {
		s.log.Error("session.scene_update_failed", "error", err)
	}
}

// surfaceAgentError maps an agent failure onto the client error surface.
func (s *Session) surfaceAgentError(ctx context.Context, err error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		s.log.Warn("session.input_timeout")
		s.sendError(protocol.ErrProcessingTimeout, "The GM took too long to respond. Try again.", true, "")
		return
	}

	var ae *agent.Error
	if errors.As(err, &ae) {
		switch ae.Kind {
		case agent.KindRateLimit:
			s.sendError(protocol.ErrRateLimit, "The GM is overloaded right now. Wait a moment and retry.", true, ae.Message)
			return
		case agent.KindAuth, agent.KindBilling:
			s.log.Error("session.agent_auth_failed", "kind", ae.Kind, "error", ae.Message)
			s.sendError(protocol.ErrAuth, "The GM service rejected our credentials.", false, ae.Message)
			return
		}
	}

	s.log.Error("session.agent_failed", "error", err,
		"project_dir", s.opts.Config.Adventure.ProjectDir,
	)
	s.sendError(protocol.ErrGM, "The GM stumbled over its words. Please try that again.", false, err.Error())
}

// recoveryContext rebuilds enough recent narrative for a fresh agent
// conversation: up to 20 entries and 12000 characters, newest kept.
func (s *Session) recoveryContext() string {
	h := s.store.HistorySnapshot()

	const (
		maxEntries = 20
		maxChars   = 12000
	)
	entries := h.Entries
	if len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}
	chars := 0
	start := len(entries)
	for i := len(entries) - 1; i >= 0; i-- {
		chars += len(entries[i].Content)
		if chars > maxChars {
			break
		}
		start = i
	}
	entries = entries[start:]

	var b strings.Builder
	b.WriteString("Our previous conversation was lost. Here is what has happened so far.\n")
	if h.Summary != nil && h.Summary.Text != "" {
		b.WriteString("\nSummary of earlier events:\n")
		b.WriteString(h.Summary.Text)
		b.WriteString("\n")
	}
	if len(entries) > 0 {
		b.WriteString("\nRecent exchanges:\n")
		for _, e := range entries {
			label := "Player"
			if e.Type == state.EntryGMResponse {
				label = "GM"
			}
			b.WriteString("[" + label + "] " + e.Content + "\n")
		}
	}
	b.WriteString("\nContinue the adventure from here. The player says:\n")
	return b.String()
}

// postToolHook feeds completed tool calls to the panel file hook.
func (s *Session) postToolHook(ev agent.HookEvent) {
	s.mu.Lock()
	hook := s.hook
	s.mu.Unlock()
	if hook == nil {
		return
	}
	hook.AfterTool(ev.ToolName, ev.ToolInput)
}

// toolDescription maps tool names to vague player-facing activity labels.
func toolDescription(name string) string {
	switch name {
	case "Write", "Edit", "MultiEdit":
		return "Updating world state…"
	case "Read", "Glob", "Grep":
		return "Consulting notes…"
	case "Bash":
		return "Working behind the screen…"
	case "set_theme":
		return "Shifting the scenery…"
	case "create_panel", "update_panel", "dismiss_panel":
		return "Arranging the table…"
	case "set_character", "set_world", "list_characters", "list_worlds", "list_panels":
		return "Consulting the records…"
	case "set_xp_style":
		return "Noting your preference…"
	default:
		return "Thinking…"
	}
}

// firstParagraph returns the first non-empty paragraph, rune-truncated.
func firstParagraph(text string, maxRunes int) string {
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		runes := []rune(para)
		if len(runes) > maxRunes {
			return string(runes[:maxRunes])
		}
		return para
	}
	return ""
}
