package panels

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writePanelFile(t *testing.T, dir, id, title, position, priority, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o700))
	content := fmt.Sprintf("---\ntitle: %s\nposition: %s\n", title, position)
	if priority != "" {
		content += "priority: " + priority + "\n"
	}
	content += "---\n" + body
	path := filepath.Join(dir, id+".md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestHook(t *testing.T) (*Hook, *[]Event, string) {
	t.Helper()
	projectDir := t.TempDir()
	var events []Event
	reg := NewRegistry()
	hook := NewHook(reg, "players/test-hero", projectDir, func(e Event) {
		events = append(events, e)
	})
	return hook, &events, projectDir
}

func TestFileLifecycle(t *testing.T) {
	hook, events, projectDir := newTestHook(t)
	panelsDir := filepath.Join(projectDir, "players", "test-hero", "panels")

	path := writePanelFile(t, panelsDir, "weather", "Weather Status", "sidebar", "medium", "Clear")
	hook.AfterTool("Write", map[string]any{"file_path": path})

	require.Len(t, *events, 1)
	created := (*events)[0]
	require.Equal(t, EventCreate, created.Type)
	require.Equal(t, "weather", created.Panel.ID)
	require.Equal(t, "Weather Status", created.Panel.Title)
	require.Equal(t, "sidebar", created.Panel.Position)
	require.Equal(t, "Clear", created.Panel.Content)
	require.True(t, created.Panel.Persistent)

	writePanelFile(t, panelsDir, "weather", "Weather Status", "sidebar", "medium", "Storm")
	hook.AfterTool("Write", map[string]any{"file_path": path})

	require.Len(t, *events, 2)
	updated := (*events)[1]
	require.Equal(t, EventUpdate, updated.Type)
	require.Equal(t, "Storm", updated.Panel.Content)

	require.NoError(t, os.Remove(path))
	hook.AfterTool("Bash", map[string]any{"command": "rm players/test-hero/panels/weather.md"})

	require.Len(t, *events, 3)
	require.Equal(t, EventDismiss, (*events)[2].Type)
	require.Equal(t, "weather", (*events)[2].Panel.ID)
	require.Equal(t, 0, hook.reg.Len())
}

func TestRelativeWritePathMatches(t *testing.T) {
	hook, events, projectDir := newTestHook(t)
	panelsDir := filepath.Join(projectDir, "players", "test-hero", "panels")
	writePanelFile(t, panelsDir, "quest-log", "Quests", "header", "", "Find the key")

	hook.AfterTool("Write", map[string]any{"file_path": "players/test-hero/panels/quest-log.md"})
	require.Len(t, *events, 1)
	require.Equal(t, "quest-log", (*events)[0].Panel.ID)
}

func TestWildcardDeleteCaughtByDiskVerification(t *testing.T) {
	hook, events, projectDir := newTestHook(t)
	panelsDir := filepath.Join(projectDir, "players", "test-hero", "panels")

	for _, id := range []string{"map", "inventory"} {
		path := writePanelFile(t, panelsDir, id, "T", "sidebar", "", "x")
		hook.AfterTool("Write", map[string]any{"file_path": path})
	}
	require.Len(t, *events, 2)

	require.NoError(t, os.RemoveAll(panelsDir))
	hook.AfterTool("Bash", map[string]any{"command": "rm -rf players/test-hero/panels/"})

	require.Len(t, *events, 4)
	require.Equal(t, EventDismiss, (*events)[2].Type)
	require.Equal(t, EventDismiss, (*events)[3].Type)
	require.Equal(t, 0, hook.reg.Len())
}

func TestUnrelatedBashIgnored(t *testing.T) {
	hook, events, _ := newTestHook(t)
	hook.AfterTool("Bash", map[string]any{"command": "ls -la"})
	hook.AfterTool("Bash", map[string]any{"command": "rm /tmp/scratch.txt"})
	require.Empty(t, *events)
}

func TestInvalidFrontmatterQueuesError(t *testing.T) {
	hook, events, projectDir := newTestHook(t)
	panelsDir := filepath.Join(projectDir, "players", "test-hero", "panels")
	require.NoError(t, os.MkdirAll(panelsDir, 0o700))
	path := filepath.Join(panelsDir, "broken.md")
	require.NoError(t, os.WriteFile(path, []byte("---\ntitle: No Position\n---\nbody"), 0o600))

	hook.AfterTool("Write", map[string]any{"file_path": path})

	require.Empty(t, *events)
	errs := hook.TakeValidationErrors()
	require.Len(t, errs, 1)
	require.Contains(t, errs[0], "broken")
	require.Contains(t, errs[0], "position")

	// Drained once, gone.
	require.Empty(t, hook.TakeValidationErrors())
}

func TestValidationErrorQueueConcurrentDrain(t *testing.T) {
	hook, _, projectDir := newTestHook(t)
	panelsDir := filepath.Join(projectDir, "players", "test-hero", "panels")
	require.NoError(t, os.MkdirAll(panelsDir, 0o700))
	path := filepath.Join(panelsDir, "broken.md")
	require.NoError(t, os.WriteFile(path, []byte("---\ntitle: No Position\n---\nbody"), 0o600))

	// A watcher-driven sync can race the session draining errors for the
	// next turn; no queued error may be lost or duplicated.
	const syncs = 50
	var wg sync.WaitGroup
	wg.Add(2)
	drained := make(chan []string, 1)
	go func() {
		defer wg.Done()
		for i := 0; i < syncs; i++ {
			hook.SyncFile("broken")
		}
	}()
	go func() {
		defer wg.Done()
		var got []string
		for i := 0; i < syncs; i++ {
			got = append(got, hook.TakeValidationErrors()...)
		}
		drained <- got
	}()
	wg.Wait()

	got := append(<-drained, hook.TakeValidationErrors()...)
	require.Len(t, got, syncs)
	for _, msg := range got {
		require.Contains(t, msg, "broken")
	}
}

func TestWatcherSyncsOutOfBandWrites(t *testing.T) {
	hook, events, projectDir := newTestHook(t)
	panelsDir := filepath.Join(projectDir, "players", "test-hero", "panels")
	require.NoError(t, os.MkdirAll(panelsDir, 0o700))

	work := make(chan func(), 4)
	w := NewWatcher(hook, func(fn func()) { work <- fn })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	writePanelFile(t, panelsDir, "weather", "Weather", "sidebar", "", "Clear")
	writePanelFile(t, panelsDir, "map", "Map", "overlay", "", "Trail")

	deadline := time.After(5 * time.Second)
	for len(*events) < 2 {
		select {
		case fn := <-work:
			fn()
		case <-deadline:
			t.Fatal("watcher never synced both panels")
		}
	}

	ids := map[string]bool{}
	for _, e := range *events {
		require.Equal(t, EventCreate, e.Type)
		ids[e.Panel.ID] = true
	}
	require.Equal(t, map[string]bool{"weather": true, "map": true}, ids)
}

func TestRescanReplaysPersistedPanels(t *testing.T) {
	hook, events, projectDir := newTestHook(t)
	panelsDir := filepath.Join(projectDir, "players", "test-hero", "panels")
	writePanelFile(t, panelsDir, "map", "Map", "overlay", "", "A forest trail")
	writePanelFile(t, panelsDir, "stats", "Stats", "sidebar", "high", "HP 10/10")

	hook.Rescan()

	require.Len(t, *events, 2)
	for _, e := range *events {
		require.Equal(t, EventCreate, e.Type)
	}
}

func TestRegistryCapacity(t *testing.T) {
	reg := NewRegistry()
	for i := 0; i < MaxPanels; i++ {
		require.NoError(t, reg.Create(Panel{
			ID:       fmt.Sprintf("panel-%d", i),
			Title:    "T",
			Position: "sidebar",
		}))
	}
	err := reg.Create(Panel{ID: "one-more", Title: "T", Position: "sidebar"})
	require.EqualError(t, err, "panel limit reached")
}

func TestRegistryRejectsDuplicateActiveID(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Create(Panel{ID: "map", Title: "Map", Position: "sidebar", Content: "A"}))

	err := reg.Create(Panel{ID: "map", Title: "Map", Position: "sidebar", Content: "B"})
	require.EqualError(t, err, `panel "map" already exists`)
	p, ok := reg.Get("map")
	require.True(t, ok)
	require.Equal(t, "A", p.Content)

	// A dismissed id can come back.
	require.True(t, reg.Dismiss("map"))
	require.NoError(t, reg.Create(Panel{ID: "map", Title: "Map", Position: "sidebar", Content: "B"}))
}

func TestRegistryValidation(t *testing.T) {
	reg := NewRegistry()
	require.Error(t, reg.Create(Panel{ID: "Bad_ID", Title: "T", Position: "sidebar"}))
	require.Error(t, reg.Create(Panel{ID: "ok", Title: "T", Position: "floating"}))
	require.Error(t, reg.Create(Panel{ID: "ok", Position: "sidebar"}))
	require.Error(t, reg.Create(Panel{
		ID: "ok", Title: "T", Position: "sidebar",
		Content: string(make([]byte, MaxContentBytes+1)),
	}))
}

func TestParseFrontmatter(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "---\ntitle: Weather\nposition: sidebar\n---\nClear skies", false},
		{"valid with priority", "---\ntitle: W\nposition: header\npriority: high\n---\nx", false},
		{"quoted values", "---\ntitle: \"Weather\"\nposition: 'overlay'\n---\nx", false},
		{"missing fence", "title: Weather\nposition: sidebar\nbody", true},
		{"unterminated", "---\ntitle: Weather\nposition: sidebar\n", true},
		{"missing title", "---\nposition: sidebar\n---\nx", true},
		{"missing position", "---\ntitle: W\n---\nx", true},
		{"bad position", "---\ntitle: W\nposition: bottom\n---\nx", true},
		{"malformed line", "---\ntitle: W\nposition: sidebar\njunk line\n---\nx", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm, body, err := parseFrontmatter(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotEmpty(t, fm.Title)
			require.NotEmpty(t, body)
		})
	}
}
