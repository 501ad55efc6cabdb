package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/fable/internal/catalog"
	"github.com/nextlevelbuilder/fable/internal/panels"
)

type fakeEffects struct {
	theme      Theme
	xpStyle    string
	characters []catalog.Entry
	worlds     []catalog.Entry
	reg        *panels.Registry

	themeErr error
}

func newFakeEffects() *fakeEffects {
	return &fakeEffects{reg: panels.NewRegistry()}
}

func (f *fakeEffects) SetTheme(_ context.Context, theme Theme) error {
	if f.themeErr != nil {
		return f.themeErr
	}
	f.theme = theme
	return nil
}

func (f *fakeEffects) SetXPStyle(style string) error {
	f.xpStyle = style
	return nil
}

func (f *fakeEffects) SetCharacter(name string, isNew bool) (string, error) {
	if !isNew && name != "hero" {
		return "", errors.New("character not found: " + name)
	}
	return "players/" + name, nil
}

func (f *fakeEffects) SetWorld(name string, _ bool) (string, error) {
	return "worlds/" + name, nil
}

func (f *fakeEffects) ListCharacters() ([]catalog.Entry, error) { return f.characters, nil }
func (f *fakeEffects) ListWorlds() ([]catalog.Entry, error)     { return f.worlds, nil }

func (f *fakeEffects) CreatePanel(p panels.Panel) error      { return f.reg.Create(p) }
func (f *fakeEffects) UpdatePanel(id, content string) error  { return f.reg.Update(id, content) }
func (f *fakeEffects) DismissPanel(id string) error {
	if !f.reg.Dismiss(id) {
		return errors.New("panel not found: " + id)
	}
	return nil
}
func (f *fakeEffects) ListPanels() []panels.Panel { return f.reg.List() }

func TestToolNames(t *testing.T) {
	d := NewDispatcher(newFakeEffects())
	require.Equal(t, []string{
		"create_panel", "dismiss_panel", "list_characters", "list_panels",
		"list_worlds", "set_character", "set_theme", "set_world",
		"set_xp_style", "update_panel",
	}, d.Tools())
}

func TestSetTheme(t *testing.T) {
	fx := newFakeEffects()
	d := NewDispatcher(fx)

	result, isError := d.Call(context.Background(), "set_theme", map[string]any{
		"mood": "Ominous", "genre": "high-fantasy", "region": "forest",
	})
	require.False(t, isError)
	require.Contains(t, result, "ominous")
	require.Equal(t, "ominous", fx.theme.Mood)
	require.Equal(t, "forest", fx.theme.Region)
}

func TestSetThemeMissingArg(t *testing.T) {
	d := NewDispatcher(newFakeEffects())
	_, isError := d.Call(context.Background(), "set_theme", map[string]any{"mood": "calm"})
	require.True(t, isError)
}

func TestSetThemeEffectsErrorBecomesResult(t *testing.T) {
	fx := newFakeEffects()
	fx.themeErr = errors.New("image service unavailable")
	d := NewDispatcher(fx)

	result, isError := d.Call(context.Background(), "set_theme", map[string]any{
		"mood": "calm", "genre": "horror", "region": "desert",
	})
	require.True(t, isError)
	require.Contains(t, result, "image service unavailable")
}

func TestSetThemeRejectsUnknownValues(t *testing.T) {
	fx := newFakeEffects()
	d := NewDispatcher(fx)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"mood", map[string]any{"mood": "cheerful", "genre": "high-fantasy", "region": "forest"}, `unknown mood "cheerful"`},
		{"genre", map[string]any{"mood": "calm", "genre": "western", "region": "forest"}, `unknown genre "western"`},
		{"region", map[string]any{"mood": "calm", "genre": "high-fantasy", "region": "dungeon"}, `unknown region "dungeon"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, isError := d.Call(context.Background(), "set_theme", tt.args)
			require.True(t, isError)
			require.Contains(t, result, tt.want)
		})
	}
	// Nothing reached the effects layer.
	require.Empty(t, fx.theme.Mood)
}

func TestSetXPStyle(t *testing.T) {
	fx := newFakeEffects()
	d := NewDispatcher(fx)

	_, isError := d.Call(context.Background(), "set_xp_style", map[string]any{"xp_style": "milestone"})
	require.False(t, isError)
	require.Equal(t, "milestone", fx.xpStyle)

	result, isError := d.Call(context.Background(), "set_xp_style", map[string]any{"xp_style": "hourly"})
	require.True(t, isError)
	require.Contains(t, result, "hourly")
}

func TestSetCharacter(t *testing.T) {
	d := NewDispatcher(newFakeEffects())

	result, isError := d.Call(context.Background(), "set_character", map[string]any{"name": "hero"})
	require.False(t, isError)
	require.Contains(t, result, "players/hero")

	result, isError = d.Call(context.Background(), "set_character", map[string]any{"name": "stranger"})
	require.True(t, isError)
	require.Contains(t, result, "not found")
}

func TestListCharactersEmptyAndPopulated(t *testing.T) {
	fx := newFakeEffects()
	d := NewDispatcher(fx)

	result, isError := d.Call(context.Background(), "list_characters", nil)
	require.False(t, isError)
	require.Contains(t, result, "No characters")

	fx.characters = []catalog.Entry{{Slug: "mira", DisplayName: "Mira", Ref: "players/mira"}}
	result, _ = d.Call(context.Background(), "list_characters", nil)
	require.Contains(t, result, "Mira (mira)")
}

func TestPanelLifecycleViaTools(t *testing.T) {
	fx := newFakeEffects()
	d := NewDispatcher(fx)

	_, isError := d.Call(context.Background(), "create_panel", map[string]any{
		"id": "quest-log", "title": "Quests", "content": "Find the key",
		"position": "sidebar", "persistent": true,
	})
	require.False(t, isError)
	require.Equal(t, 1, fx.reg.Len())

	result, isError := d.Call(context.Background(), "list_panels", nil)
	require.False(t, isError)
	require.Contains(t, result, "quest-log")

	_, isError = d.Call(context.Background(), "update_panel", map[string]any{
		"id": "quest-log", "content": "Key found",
	})
	require.False(t, isError)
	p, _ := fx.reg.Get("quest-log")
	require.Equal(t, "Key found", p.Content)

	_, isError = d.Call(context.Background(), "dismiss_panel", map[string]any{"id": "quest-log"})
	require.False(t, isError)
	require.Equal(t, 0, fx.reg.Len())

	result, isError = d.Call(context.Background(), "dismiss_panel", map[string]any{"id": "quest-log"})
	require.True(t, isError)
	require.Contains(t, result, "not found")
}

func TestPanelLimitSurfacesAsToolError(t *testing.T) {
	fx := newFakeEffects()
	d := NewDispatcher(fx)

	for _, id := range []string{"a1", "a2", "a3", "a4", "a5"} {
		_, isError := d.Call(context.Background(), "create_panel", map[string]any{
			"id": id, "title": "T", "content": "x", "position": "sidebar",
		})
		require.False(t, isError)
	}
	result, isError := d.Call(context.Background(), "create_panel", map[string]any{
		"id": "a6", "title": "T", "content": "x", "position": "sidebar",
	})
	require.True(t, isError)
	require.Contains(t, result, "panel limit reached")
}

func TestUnknownTool(t *testing.T) {
	d := NewDispatcher(newFakeEffects())
	result, isError := d.Call(context.Background(), "teleport", nil)
	require.True(t, isError)
	require.Contains(t, result, "unknown tool")
}

func TestToolErrorsCarryErrorPrefix(t *testing.T) {
	d := NewDispatcher(newFakeEffects())

	result, isError := d.Call(context.Background(), "set_xp_style", map[string]any{"xp_style": "hourly"})
	require.True(t, isError)
	require.True(t, strings.HasPrefix(result, "Error: "), "got %q", result)

	result, isError = d.Call(context.Background(), "dismiss_panel", map[string]any{"id": "ghost"})
	require.True(t, isError)
	require.True(t, strings.HasPrefix(result, "Error: "), "got %q", result)
}

func TestTruncateCountsRunes(t *testing.T) {
	require.Equal(t, "héllo", truncate("héllo", 5))
	require.Equal(t, "héll…", truncate("héllos", 4))
	require.Equal(t, "日本語…", truncate("日本語テキスト", 3))
}
