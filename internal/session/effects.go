package session

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/fable/internal/catalog"
	"github.com/nextlevelbuilder/fable/internal/guard"
	"github.com/nextlevelbuilder/fable/internal/panels"
	"github.com/nextlevelbuilder/fable/internal/pathsafe"
	"github.com/nextlevelbuilder/fable/internal/state"
	"github.com/nextlevelbuilder/fable/internal/tools"
	"github.com/nextlevelbuilder/fable/pkg/protocol"
)

// themeDebounce drops repeated set_theme calls with the same mood.
const themeDebounce = time.Second

// sessionEffects lends the session's capabilities to tool handlers. All
// methods run inside the session's in-flight query, so they are
// effectively single-threaded.
type sessionEffects struct {
	s *Session
}

func (fx *sessionEffects) SetTheme(ctx context.Context, theme tools.Theme) error {
	s := fx.s

	s.mu.Lock()
	if theme.Mood == s.lastThemeMood && time.Since(s.lastThemeAt) < themeDebounce {
		s.mu.Unlock()
		return nil
	}
	s.lastThemeMood = theme.Mood
	s.lastThemeAt = time.Now()
	s.mu.Unlock()

	var backgroundURL *string
	if s.opts.Images != nil {
		if url, ok := s.opts.Images(ctx, theme.Mood, theme.Genre, theme.Region, theme.Force, theme.ImagePrompt); ok {
			backgroundURL = &url
		}
	}

	persisted := state.Theme{
		Mood:          guard.SanitizeStateValue(theme.Mood, 100),
		Genre:         guard.SanitizeStateValue(theme.Genre, 100),
		Region:        guard.SanitizeStateValue(theme.Region, 100),
		BackgroundURL: backgroundURL,
	}
	if err := s.store.UpdateTheme(persisted); err != nil {
		return fmt.Errorf("persist theme: %w", err)
	}

	s.send(protocol.TypeThemeChange, protocol.ThemeChangePayload{
		Mood:          persisted.Mood,
		Genre:         persisted.Genre,
		Region:        persisted.Region,
		BackgroundURL: persisted.BackgroundURL,
	})
	return nil
}

func (fx *sessionEffects) SetXPStyle(style string) error {
	return fx.s.store.UpdateXPStyle(style)
}

func (fx *sessionEffects) SetCharacter(name string, isNew bool) (string, error) {
	s := fx.s
	ref, err := bindEntry(s.characters, name, isNew)
	if err != nil {
		return "", err
	}
	if err := s.store.UpdatePlayerRef(ref); err != nil {
		return "", err
	}
	// The panel directory follows the player ref.
	s.mu.Lock()
	wctx := s.watcherCtx
	s.mu.Unlock()
	s.bindPanelHook(wctx, ref)
	return ref, nil
}

func (fx *sessionEffects) SetWorld(name string, isNew bool) (string, error) {
	s := fx.s
	ref, err := bindEntry(s.worlds, name, isNew)
	if err != nil {
		return "", err
	}
	if err := s.store.UpdateWorldRef(ref); err != nil {
		return "", err
	}
	return ref, nil
}

func (fx *sessionEffects) ListCharacters() ([]catalog.Entry, error) {
	return fx.s.characters.List()
}

func (fx *sessionEffects) ListWorlds() ([]catalog.Entry, error) {
	return fx.s.worlds.List()
}

func (fx *sessionEffects) CreatePanel(p panels.Panel) error {
	if err := fx.s.registry.Create(p); err != nil {
		return err
	}
	created, _ := fx.s.registry.Get(p.ID)
	fx.s.emitPanelEvent(panels.Event{Type: panels.EventCreate, Panel: created})
	return nil
}

func (fx *sessionEffects) UpdatePanel(id, content string) error {
	if err := fx.s.registry.Update(id, content); err != nil {
		return err
	}
	updated, _ := fx.s.registry.Get(id)
	fx.s.emitPanelEvent(panels.Event{Type: panels.EventUpdate, Panel: updated})
	return nil
}

func (fx *sessionEffects) DismissPanel(id string) error {
	if !fx.s.registry.Dismiss(id) {
		return fmt.Errorf("panel %q not found", id)
	}
	fx.s.emitPanelEvent(panels.Event{Type: panels.EventDismiss, Panel: panels.Panel{ID: id}})
	return nil
}

func (fx *sessionEffects) ListPanels() []panels.Panel {
	return fx.s.registry.List()
}

// bindEntry resolves name to a ref, creating the entry when asked.
func bindEntry(m *catalog.Manager, name string, isNew bool) (string, error) {
	if isNew {
		return m.Create(name)
	}
	slug := pathsafe.Slugify(name)
	if ref := m.GetRef(slug); ref != "" {
		return ref, nil
	}
	return "", fmt.Errorf("no entry named %q; pass is_new to create it", name)
}
