// Package catalog manages the character and world libraries under the
// project directory. Entries are slug-named directories holding a fixed
// set of markdown documents the agent reads and edits.
package catalog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/fable/internal/fsatomic"
	"github.com/nextlevelbuilder/fable/internal/pathsafe"
)

// Entry is one listed character or world.
type Entry struct {
	Slug        string `json:"slug"`
	DisplayName string `json:"displayName"`
	Ref         string `json:"ref"`
}

// Manager creates and lists entries of one kind ("players" or "worlds").
type Manager struct {
	projectDir string
	kind       string
	templates  map[string]string
	// sortByName lists by display name instead of slug.
	sortByName bool
	// nameFile is the document whose first H1 is the display name.
	nameFile string
}

// NewCharacterManager returns the manager for <projectDir>/players.
func NewCharacterManager(projectDir string) *Manager {
	return &Manager{
		projectDir: projectDir,
		kind:       "players",
		nameFile:   "sheet.md",
		templates:  characterTemplates,
	}
}

// NewWorldManager returns the manager for <projectDir>/worlds.
func NewWorldManager(projectDir string) *Manager {
	return &Manager{
		projectDir: projectDir,
		kind:       "worlds",
		nameFile:   "world_state.md",
		templates:  worldTemplates,
		sortByName: true,
	}
}

func (m *Manager) root() string { return filepath.Join(m.projectDir, m.kind) }

// Create generates a collision-free slug from name and writes the template
// tree. It returns the entry's reference string.
func (m *Manager) Create(name string) (string, error) {
	if err := fsatomic.EnsureDir(m.root()); err != nil {
		return "", err
	}
	slug := pathsafe.GenerateSlug(name, m.root())
	if err := m.writeTemplates(slug, name); err != nil {
		return "", err
	}
	return m.kind + "/" + slug, nil
}

// CreateAtSlug writes the template tree at an exact slug without collision
// probing. Used to restore a saved reference whose directory disappeared.
func (m *Manager) CreateAtSlug(slug string) (string, error) {
	if ok, reason := pathsafe.ValidateSlug(slug); !ok {
		return "", fmt.Errorf("invalid slug %q: %s", slug, reason)
	}
	if err := fsatomic.EnsureDir(m.root()); err != nil {
		return "", err
	}
	if err := m.writeTemplates(slug, displayFromSlug(slug)); err != nil {
		return "", err
	}
	return m.kind + "/" + slug, nil
}

// Exists reports whether a valid-slug entry directory is present.
func (m *Manager) Exists(slug string) bool {
	dir := pathsafe.SafeResolve(m.root(), slug)
	if dir == "" {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// GetRef returns the relative reference for a slug, or "" if the slug is
// unsafe or absent.
func (m *Manager) GetRef(slug string) string {
	if !m.Exists(slug) {
		return ""
	}
	return m.kind + "/" + slug
}

// List enumerates the valid entries. Characters sort by slug, worlds by
// display name. Hidden and invalid-slug directories are skipped.
func (m *Manager) List() ([]Entry, error) {
	dirents, err := os.ReadDir(m.root())
	if os.IsNotExist(err) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		if !de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		slug := de.Name()
		if ok, _ := pathsafe.ValidateSlug(slug); !ok {
			continue
		}
		entries = append(entries, Entry{
			Slug:        slug,
			DisplayName: m.displayName(slug),
			Ref:         m.kind + "/" + slug,
		})
	}

	if m.sortByName {
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].DisplayName == entries[j].DisplayName {
				return entries[i].Slug < entries[j].Slug
			}
			return entries[i].DisplayName < entries[j].DisplayName
		})
	} else {
		sort.Slice(entries, func(i, j int) bool { return entries[i].Slug < entries[j].Slug })
	}
	return entries, nil
}

// displayName reads the first H1 of the entry's name document, falling back
// to a title-cased slug.
func (m *Manager) displayName(slug string) string {
	path := filepath.Join(m.root(), slug, m.nameFile)
	if name := firstH1(path); name != "" {
		return name
	}
	return displayFromSlug(slug)
}

func (m *Manager) writeTemplates(slug, name string) error {
	dir := pathsafe.SafeResolve(m.root(), slug)
	if dir == "" {
		return fmt.Errorf("invalid slug %q", slug)
	}
	if err := fsatomic.EnsureDir(dir); err != nil {
		return err
	}
	for file, body := range m.templates {
		content := strings.ReplaceAll(body, "{{name}}", name)
		if err := fsatomic.WriteFile(filepath.Join(dir, file), []byte(content)); err != nil {
			return err
		}
	}
	return nil
}

// firstH1 returns the text of the first "# " heading in the file, or "".
func firstH1(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}

func displayFromSlug(slug string) string {
	words := strings.Split(slug, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
