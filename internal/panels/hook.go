package panels

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Hook reconciles the registry with the panel files the agent touches. The
// session calls it after every tool call; the watcher calls it on file
// events, so the registry and the error queue are both synchronized.
type Hook struct {
	reg  *Registry
	emit func(Event)

	// panelsDir is the absolute panels directory for the bound player.
	panelsDir string
	// relPrefix is "<playerRef>/panels/" for lexical path matching.
	relPrefix string

	// errMu guards pendingErrors; SyncFile can run from the watcher while
	// the session drains the queue on its own goroutine.
	errMu         sync.Mutex
	pendingErrors []string
}

func NewHook(reg *Registry, playerRef, projectDir string, emit func(Event)) *Hook {
	return &Hook{
		reg:       reg,
		emit:      emit,
		panelsDir: filepath.Join(projectDir, filepath.FromSlash(playerRef), "panels"),
		relPrefix: playerRef + "/panels/",
	}
}

// PanelsDir returns the watched directory.
func (h *Hook) PanelsDir() string { return h.panelsDir }

// AfterTool inspects one completed tool call for panel file effects.
func (h *Hook) AfterTool(toolName string, input map[string]any) {
	switch toolName {
	case "Write", "Edit", "MultiEdit":
		path, _ := input["file_path"].(string)
		if id, ok := h.panelID(path); ok {
			h.SyncFile(id)
		}
	case "Bash":
		cmd, _ := input["command"].(string)
		h.afterBash(cmd)
	}
}

// SyncFile re-reads one panel file and emits create or update. Validation
// failures are queued for the next GM turn rather than sent to the client.
func (h *Hook) SyncFile(id string) {
	path := filepath.Join(h.panelsDir, id+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			h.dismissIfPresent(id)
		}
		return
	}

	fm, body, err := parseFrontmatter(string(data))
	if err != nil {
		h.queueError(fmt.Sprintf("panel %q: %v", id, err))
		slog.Warn("panels.frontmatter_rejected", "panel", id, "error", err)
		return
	}
	if len(body) > MaxContentBytes {
		h.queueError(fmt.Sprintf("panel %q: content exceeds %d bytes", id, MaxContentBytes))
		return
	}

	if h.reg.Known(id) {
		if _, active := h.reg.Get(id); active {
			if err := h.reg.Update(id, body); err != nil {
				h.queueError(fmt.Sprintf("panel %q: %v", id, err))
				return
			}
			p, _ := h.reg.Get(id)
			h.emit(Event{Type: EventUpdate, Panel: p})
			return
		}
	}

	p := Panel{
		ID:         id,
		Title:      fm.Title,
		Content:    body,
		Position:   fm.Position,
		Priority:   fm.Priority,
		Persistent: true,
		CreatedAt:  fileBirth(path),
	}
	if err := h.reg.Create(p); err != nil {
		h.queueError(fmt.Sprintf("panel %q: %v", id, err))
		return
	}
	h.emit(Event{Type: EventCreate, Panel: p})
}

// Rescan walks the panels directory and syncs every panel file. Used at
// session initialization to replay persisted panels to a fresh client.
func (h *Hook) Rescan() {
	dirents, err := os.ReadDir(h.panelsDir)
	if err != nil {
		return
	}
	for _, de := range dirents {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".md") {
			continue
		}
		id := strings.TrimSuffix(name, ".md")
		if validID(id) {
			h.SyncFile(id)
		}
	}
}

// VerifyDisk dismisses every registered panel whose file is gone. Catches
// wildcard deletes the lexical parse cannot see.
func (h *Hook) VerifyDisk() {
	for _, p := range h.reg.List() {
		if _, err := os.Stat(filepath.Join(h.panelsDir, p.ID+".md")); os.IsNotExist(err) {
			h.dismissIfPresent(p.ID)
		}
	}
}

func (h *Hook) queueError(msg string) {
	h.errMu.Lock()
	h.pendingErrors = append(h.pendingErrors, msg)
	h.errMu.Unlock()
}

// TakeValidationErrors drains the queued validation errors.
func (h *Hook) TakeValidationErrors() []string {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	errs := h.pendingErrors
	h.pendingErrors = nil
	return errs
}

func (h *Hook) afterBash(cmd string) {
	lower := strings.ToLower(cmd)
	suspicious := strings.Contains(lower, "rm ") || strings.Contains(lower, "rm\t") ||
		strings.Contains(lower, "delete") || strings.Contains(lower, "mv ") ||
		strings.Contains(lower, "-delete") || strings.Contains(lower, "unlink")
	if !suspicious || !strings.Contains(lower, "panel") {
		return
	}

	// Lexical pass first for the direct `rm path` shape.
	for _, tok := range strings.Fields(cmd) {
		tok = strings.Trim(tok, `"'`)
		if id, ok := h.panelID(tok); ok {
			h.dismissIfPresent(id)
		}
	}

	// Then trust the disk over the parse.
	h.VerifyDisk()
}

func (h *Hook) dismissIfPresent(id string) {
	if h.reg.Dismiss(id) {
		h.emit(Event{Type: EventDismiss, Panel: Panel{ID: id}})
	}
}

// panelID extracts a valid panel id from a path that targets the panels
// directory, either absolute or relative to the project.
func (h *Hook) panelID(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	norm := filepath.ToSlash(path)
	var name string
	switch {
	case strings.HasPrefix(filepath.ToSlash(filepath.Clean(path)), filepath.ToSlash(h.panelsDir)+"/"):
		name = filepath.Base(path)
	case strings.Contains(norm, h.relPrefix):
		name = norm[strings.LastIndex(norm, "/")+1:]
	default:
		return "", false
	}
	if !strings.HasSuffix(name, ".md") {
		return "", false
	}
	id := strings.TrimSuffix(name, ".md")
	if !validID(id) {
		return "", false
	}
	return id, true
}

// fileBirth approximates a panel file's creation time. Modification time is
// the closest portable stand-in.
func fileBirth(path string) time.Time {
	if info, err := os.Stat(path); err == nil {
		return info.ModTime()
	}
	return time.Now()
}
