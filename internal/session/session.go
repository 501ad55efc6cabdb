// Package session runs one adventure's game loop: it owns the state store,
// mediates between the connected client and the GM agent, and serializes
// all processing for its adventure.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/fable/internal/agent"
	"github.com/nextlevelbuilder/fable/internal/catalog"
	"github.com/nextlevelbuilder/fable/internal/compact"
	"github.com/nextlevelbuilder/fable/internal/config"
	"github.com/nextlevelbuilder/fable/internal/guard"
	"github.com/nextlevelbuilder/fable/internal/panels"
	"github.com/nextlevelbuilder/fable/internal/state"
	"github.com/nextlevelbuilder/fable/internal/tools"
	"github.com/nextlevelbuilder/fable/pkg/protocol"
)

// maxQueuedInputs is a soft cap; inputs beyond it are rejected with a
// retryable RATE_LIMIT error.
const maxQueuedInputs = 32

// ImageService fetches a background image URL for a theme. ok is false
// when no image could be produced; the theme still applies.
type ImageService func(ctx context.Context, mood, genre, region string, force bool, prompt string) (url string, ok bool)

// Sender delivers protocol messages to the connected client.
type Sender interface {
	Send(msg protocol.Message)
}

// Options wires a session's collaborators.
type Options struct {
	Send      Sender
	Client    agent.Client
	Compactor *compact.Compactor
	Images    ImageService
	Config    *config.Config
}

type queuedInput struct {
	text     string
	isSystem bool
	// silent turns run without client-visible response frames. Used for
	// internal checkpoint prompts.
	silent bool
}

// Session is the per-adventure game loop.
type Session struct {
	opts  Options
	store *state.Store

	characters *catalog.Manager
	worlds     *catalog.Manager

	registry   *panels.Registry
	hook       *panels.Hook
	watcherCtx context.Context
	watcherOff context.CancelFunc

	dispatcher *tools.Dispatcher
	limiter    *rate.Limiter

	mu            sync.Mutex
	initialized   bool
	queue         []queuedInput
	isProcessing  bool
	processedReal bool
	cancelCurrent context.CancelFunc
	wasAborted    bool

	recoveryAttempt int

	lastThemeMood string
	lastThemeAt   time.Time

	log *slog.Logger
}

// New builds an uninitialized session. Initialize must succeed before any
// input is accepted.
func New(opts Options) *Session {
	s := &Session{
		opts:     opts,
		registry: panels.NewRegistry(),
		limiter:  rate.NewLimiter(rate.Limit(1), 5),
		log:      slog.Default(),
	}
	s.dispatcher = tools.NewDispatcher(&sessionEffects{s: s})
	return s
}

// Initialize loads the adventure, binds managers, rebuilds the panel
// registry from disk, and reports the history for adventure_loaded.
func (s *Session) Initialize(ctx context.Context, adventureID, token string) (state.Adventure, state.History, error) {
	projectDir := s.opts.Config.Adventure.ProjectDir
	if projectDir == "" {
		return state.Adventure{}, state.History{}, fmt.Errorf("project directory is not configured (PROJECT_DIR)")
	}
	if info, err := os.Stat(projectDir); err != nil || !info.IsDir() {
		return state.Adventure{}, state.History{}, fmt.Errorf("project directory %q is missing", projectDir)
	}

	st, err := state.Load(s.opts.Config.Adventure.AdventuresDir, adventureID, token)
	if err != nil {
		return state.Adventure{}, state.History{}, err
	}

	s.mu.Lock()
	s.store = st
	s.characters = catalog.NewCharacterManager(projectDir)
	s.worlds = catalog.NewWorldManager(projectDir)
	s.log = slog.With("adventure", adventureID)
	s.mu.Unlock()

	adv := st.Adventure()
	s.restoreRef(s.characters, adv.PlayerRef)
	s.restoreRef(s.worlds, adv.WorldRef)

	if adv.PlayerRef != nil {
		s.bindPanelHook(ctx, *adv.PlayerRef)
		s.hook.Rescan()
	}

	s.mu.Lock()
	s.initialized = true
	s.watcherCtx = ctx
	s.mu.Unlock()

	s.log.Info("session.initialized",
		"history_entries", len(st.HistorySnapshot().Entries),
		"player_ref", strOrEmpty(adv.PlayerRef),
		"world_ref", strOrEmpty(adv.WorldRef),
	)
	return adv, st.HistorySnapshot(), nil
}

// Initialized reports whether Initialize has completed.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Abort cancels the in-flight query and drops every queued input.
func (s *Session) Abort() {
	s.mu.Lock()
	s.queue = nil
	s.wasAborted = true
	cancel := s.cancelCurrent
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close aborts outstanding work and stops the panel watcher.
func (s *Session) Close() {
	s.Abort()
	s.mu.Lock()
	off := s.watcherOff
	s.watcherOff = nil
	s.mu.Unlock()
	if off != nil {
		off()
	}
}

// restoreRef recreates a referenced directory that disappeared from disk.
func (s *Session) restoreRef(m *catalog.Manager, ref *string) {
	if ref == nil {
		return
	}
	slug := slugFromRef(*ref)
	if slug == "" || m.Exists(slug) {
		return
	}
	if _, err := m.CreateAtSlug(slug); err != nil {
		s.log.Warn("session.ref_restore_failed", "ref", *ref, "error", err)
		return
	}
	s.log.Info("session.ref_restored", "ref", *ref)
}

// bindPanelHook (re)binds the panel file hook and watcher to a player ref.
func (s *Session) bindPanelHook(ctx context.Context, playerRef string) {
	s.mu.Lock()
	if s.watcherOff != nil {
		s.watcherOff()
		s.watcherOff = nil
	}
	s.hook = panels.NewHook(s.registry, playerRef, s.opts.Config.Adventure.ProjectDir, s.emitPanelEvent)
	hook := s.hook
	s.mu.Unlock()

	if ctx == nil {
		return
	}
	wctx, cancel := context.WithCancel(ctx)
	watcher := panels.NewWatcher(hook, func(work func()) {
		// Registry and hook are internally synchronized, so reconciliation
		// can run on the watcher goroutine even mid-turn.
		work()
	})
	if err := watcher.Start(wctx); err != nil {
		s.log.Warn("session.panel_watch_failed", "error", err)
		cancel()
		return
	}
	s.mu.Lock()
	s.watcherOff = cancel
	s.mu.Unlock()
}

func (s *Session) emitPanelEvent(e panels.Event) {
	switch e.Type {
	case panels.EventCreate:
		s.send(protocol.TypePanelCreate, panelPayload(e.Panel))
	case panels.EventUpdate:
		s.send(protocol.TypePanelUpdate, protocol.PanelUpdatePayload{ID: e.Panel.ID, Content: e.Panel.Content})
	case panels.EventDismiss:
		s.send(protocol.TypePanelDismiss, protocol.PanelDismissPayload{ID: e.Panel.ID})
	}
}

func (s *Session) send(msgType string, payload any) {
	if s.opts.Send != nil {
		s.opts.Send.Send(protocol.NewMessage(msgType, payload))
	}
}

func (s *Session) sendError(code, message string, retryable bool, details string) {
	s.send(protocol.TypeError, protocol.ErrorPayload{
		Code:             code,
		Message:          message,
		Retryable:        retryable,
		TechnicalDetails: details,
	})
}

func panelPayload(p panels.Panel) protocol.PanelPayload {
	return protocol.PanelPayload{
		ID:         p.ID,
		Title:      p.Title,
		Content:    p.Content,
		Position:   p.Position,
		Priority:   p.Priority,
		Persistent: p.Persistent,
		CreatedAt:  p.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func slugFromRef(ref string) string {
	_, slug, ok := strings.Cut(ref, "/")
	if !ok {
		return ""
	}
	return slug
}

func strOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// historyPayload converts persisted entries to their wire shape.
func historyPayload(entries []state.HistoryEntry) []protocol.HistoryEntry {
	out := make([]protocol.HistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = protocol.HistoryEntry{ID: e.ID, Timestamp: e.Timestamp, Type: e.Type, Content: e.Content}
	}
	return out
}

// sanitizeForGuard applies the input policy; system inputs skip it.
func sanitizeForGuard(text string, isSystem bool) (string, *guard.Result) {
	if isSystem {
		return text, nil
	}
	res := guard.SanitizePlayerInput(text)
	return res.Sanitized, &res
}
