package tools

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nextlevelbuilder/fable/internal/catalog"
	"github.com/nextlevelbuilder/fable/internal/panels"
)

func formatEntries(kind string, entries []catalog.Entry) string {
	if len(entries) == 0 {
		return "No " + kind + " available."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Available %s:\n", kind)
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s (%s)\n", e.DisplayName, e.Slug)
	}
	return b.String()
}

// truncate shortens to max runes so multibyte content never splits.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "…"
}

func panelFromArgs(id, title, content, position string, persistent bool) panels.Panel {
	return panels.Panel{
		ID:         id,
		Title:      title,
		Content:    content,
		Position:   position,
		Persistent: persistent,
	}
}
