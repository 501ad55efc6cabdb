package pathsafe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxSlugLen = 64

// Slugify lowercases name, maps every non-[a-z0-9] run to a single hyphen,
// trims edge hyphens, and truncates to 64 characters. An empty result
// becomes "unnamed".
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		slug = "unnamed"
	}
	return slug
}

// GenerateSlug returns a slug for name that does not collide with an existing
// entry under existingDir, probing "-2", "-3", ... suffixes until free.
func GenerateSlug(name, existingDir string) string {
	base := Slugify(name)
	slug := base
	for n := 2; exists(filepath.Join(existingDir, slug)); n++ {
		slug = fmt.Sprintf("%s-%d", base, n)
	}
	return slug
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
