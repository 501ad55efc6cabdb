// Package panels tracks the GM-derived UI cards for one session and keeps
// them in sync with the panel files the agent writes under the player's
// directory.
package panels

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	// MaxPanels caps the registry size.
	MaxPanels = 5
	// MaxContentBytes caps a panel body.
	MaxContentBytes = 2048
	maxIDLen        = 32
)

// Panel is one UI card.
type Panel struct {
	ID         string
	Title      string
	Content    string
	Position   string
	Priority   string
	Persistent bool
	CreatedAt  time.Time
}

// Event types emitted by the registry and hook.
const (
	EventCreate  = "create"
	EventUpdate  = "update"
	EventDismiss = "dismiss"
)

// Event describes one registry change for the client.
type Event struct {
	Type  string
	Panel Panel
}

// Registry is the per-session panel table. It remembers every id it has
// ever seen so a rewritten file is an update, not a duplicate create.
type Registry struct {
	mu     sync.Mutex
	panels map[string]*Panel
	known  map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		panels: make(map[string]*Panel),
		known:  make(map[string]bool),
	}
}

// Create adds a panel. An active id rejects; updating goes through Update.
// Full registries reject with the error string the agent sees verbatim.
func (r *Registry) Create(p Panel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.panels[p.ID]; ok {
		return fmt.Errorf("panel %q already exists", p.ID)
	}
	if len(r.panels) >= MaxPanels {
		return fmt.Errorf("panel limit reached")
	}
	if err := validatePanel(p); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	r.panels[p.ID] = &p
	r.known[p.ID] = true
	return nil
}

// Update replaces a panel's content.
func (r *Registry) Update(id, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.panels[id]
	if !ok {
		return fmt.Errorf("panel %q not found", id)
	}
	if len(content) > MaxContentBytes {
		return fmt.Errorf("panel content exceeds %d bytes", MaxContentBytes)
	}
	p.Content = content
	return nil
}

// Dismiss removes a panel, reporting whether it was present. The id stays
// known.
func (r *Registry) Dismiss(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.panels[id]; !ok {
		return false
	}
	delete(r.panels, id)
	return true
}

// Get returns a copy of one panel.
func (r *Registry) Get(id string) (Panel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.panels[id]
	if !ok {
		return Panel{}, false
	}
	return *p, true
}

// Known reports whether the id has ever been registered.
func (r *Registry) Known(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.known[id]
}

// List returns the active panels ordered by creation time.
func (r *Registry) List() []Panel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Panel, 0, len(r.panels))
	for _, p := range r.panels {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the active panel count.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.panels)
}

func validatePanel(p Panel) error {
	if !validID(p.ID) {
		return fmt.Errorf("invalid panel id %q", p.ID)
	}
	switch p.Position {
	case "sidebar", "header", "overlay":
	default:
		return fmt.Errorf("invalid panel position %q", p.Position)
	}
	if p.Title == "" {
		return fmt.Errorf("panel title is required")
	}
	if len(p.Content) > MaxContentBytes {
		return fmt.Errorf("panel content exceeds %d bytes", MaxContentBytes)
	}
	return nil
}

// validID enforces the short alphanumeric-hyphen token rule.
func validID(id string) bool {
	if id == "" || len(id) > maxIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' {
			continue
		}
		return false
	}
	return id[0] != '-' && id[len(id)-1] != '-'
}
