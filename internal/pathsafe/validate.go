// Package pathsafe guards every filesystem identifier the server touches.
// All validators return values; callers refuse the operation on a bad result.
package pathsafe

import (
	"net/url"
	"path/filepath"
	"strings"
)

// ValidateAdventureID checks an adventure id for path-traversal material.
// Returns ok=false with a reason suitable for logging (never shown raw to
// clients). URL-decoded variants are checked too, so "%2e%2e" is rejected.
func ValidateAdventureID(id string) (bool, string) {
	return validateIdentifier(id)
}

// ValidateSlug applies the adventure-id rules plus a blanket ".." substring
// rejection, since slugs are embedded into template paths.
func ValidateSlug(slug string) (bool, string) {
	if ok, reason := validateIdentifier(slug); !ok {
		return false, reason
	}
	if strings.Contains(slug, "..") {
		return false, "contains '..'"
	}
	return true, ""
}

func validateIdentifier(id string) (bool, string) {
	candidates := []string{id}
	if decoded, err := url.QueryUnescape(id); err == nil && decoded != id {
		candidates = append(candidates, decoded)
	}
	for _, c := range candidates {
		if strings.TrimSpace(c) == "" {
			return false, "empty"
		}
		if strings.ContainsRune(c, 0) {
			return false, "contains null byte"
		}
		if strings.ContainsAny(c, `/\`) {
			return false, "contains path separator"
		}
		if c == "." || c == ".." {
			return false, "dot segment"
		}
	}
	return true, ""
}

// SafeResolve joins id onto base and returns the absolute path only when the
// result lexically stays inside base. Returns "" otherwise. Resolution is
// purely lexical; symlinks are not followed.
func SafeResolve(base, id string) string {
	if ok, _ := validateIdentifier(id); !ok {
		return ""
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return ""
	}
	resolved := filepath.Clean(filepath.Join(absBase, id))
	if !strings.HasPrefix(resolved, absBase+string(filepath.Separator)) {
		return ""
	}
	return resolved
}

// SafeResolveRel resolves a sandbox-relative reference like "players/hero"
// against base, allowing exactly one separator level per segment. Each
// segment must pass slug validation. Returns "" on any violation.
func SafeResolveRel(base, ref string) string {
	segments := strings.Split(ref, "/")
	if len(segments) == 0 {
		return ""
	}
	for _, seg := range segments {
		if ok, _ := ValidateSlug(seg); !ok {
			return ""
		}
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return ""
	}
	resolved := filepath.Clean(filepath.Join(append([]string{absBase}, segments...)...))
	if !strings.HasPrefix(resolved, absBase+string(filepath.Separator)) {
		return ""
	}
	return resolved
}
