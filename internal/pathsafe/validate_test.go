package pathsafe

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateAdventureID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		ok   bool
	}{
		{"uuid", "7b3e9c8e-1f0a-4f7d-9f3a-2c6c6d1f0b1a", true},
		{"plain", "my-adventure", true},
		{"empty", "", false},
		{"whitespace", "   ", false},
		{"null byte", "abc\x00def", false},
		{"forward slash", "a/b", false},
		{"backslash", `a\b`, false},
		{"dot", ".", false},
		{"dotdot", "..", false},
		{"url-encoded dotdot", "%2e%2e", false},
		{"url-encoded slash", "a%2Fb", false},
		{"url-encoded null", "a%00b", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := ValidateAdventureID(tt.id)
			if ok != tt.ok {
				t.Errorf("ValidateAdventureID(%q) = %v (%s), want %v", tt.id, ok, reason, tt.ok)
			}
		})
	}
}

func TestValidateSlug_RejectsDotDotSubstring(t *testing.T) {
	if ok, _ := ValidateSlug("a..b"); ok {
		t.Error("slug containing '..' must be rejected")
	}
	if ok, _ := ValidateSlug("test-hero"); !ok {
		t.Error("valid slug rejected")
	}
}

func TestSafeResolve_StaysInsideBase(t *testing.T) {
	base := t.TempDir()

	got := SafeResolve(base, "abc")
	if got == "" {
		t.Fatal("valid id resolved to empty")
	}
	absBase, _ := filepath.Abs(base)
	if !strings.HasPrefix(got, absBase+string(filepath.Separator)) {
		t.Errorf("resolved path %q escapes base %q", got, absBase)
	}

	for _, id := range []string{"..", "../x", "a/../../x", "%2e%2e"} {
		if got := SafeResolve(base, id); got != "" {
			t.Errorf("SafeResolve(%q) = %q, want empty", id, got)
		}
	}
}

func TestSafeResolveRel(t *testing.T) {
	base := t.TempDir()
	if got := SafeResolveRel(base, "players/test-hero"); got == "" {
		t.Error("players/test-hero should resolve")
	}
	for _, ref := range []string{"players/../secrets", "../players/x", "players//x", "players/.."} {
		if got := SafeResolveRel(base, ref); got != "" {
			t.Errorf("SafeResolveRel(%q) = %q, want empty", ref, got)
		}
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Sir Galahad the Pure", "sir-galahad-the-pure"},
		{"  --Weird___Name!!  ", "weird-name"},
		{"ALLCAPS", "allcaps"},
		{"???", "unnamed"},
		{"", "unnamed"},
		{strings.Repeat("a", 100), strings.Repeat("a", 64)},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGenerateSlug_CollisionSuffix(t *testing.T) {
	dir := t.TempDir()

	slug := GenerateSlug("Test Hero", dir)
	if slug != "test-hero" {
		t.Fatalf("first slug = %q, want test-hero", slug)
	}
	if err := os.Mkdir(filepath.Join(dir, "test-hero"), 0o700); err != nil {
		t.Fatal(err)
	}

	slug = GenerateSlug("Test Hero", dir)
	if slug != "test-hero-2" {
		t.Fatalf("second slug = %q, want test-hero-2", slug)
	}
	if err := os.Mkdir(filepath.Join(dir, "test-hero-2"), 0o700); err != nil {
		t.Fatal(err)
	}

	slug = GenerateSlug("Test Hero", dir)
	if slug != "test-hero-3" {
		t.Fatalf("third slug = %q, want test-hero-3", slug)
	}
}
