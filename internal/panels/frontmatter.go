package panels

import (
	"fmt"
	"strings"
)

// frontmatter is the parsed panel file header.
type frontmatter struct {
	Title    string
	Position string
	Priority string
}

// splitFrontmatter separates the `---` fenced header from the markdown body.
// The opening fence must be the first line.
func splitFrontmatter(data string) (header, body string, err error) {
	norm := strings.ReplaceAll(data, "\r\n", "\n")
	if !strings.HasPrefix(norm, "---\n") {
		return "", "", fmt.Errorf("missing front-matter")
	}
	rest := norm[4:]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return "", "", fmt.Errorf("unterminated front-matter")
	}
	header = rest[:idx]
	body = rest[idx+4:]
	if nl := strings.Index(body, "\n"); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}
	return header, body, nil
}

// parseFrontmatter reads the fixed title/position/priority schema. The
// schema is three scalar keys, so a line scanner is enough.
func parseFrontmatter(data string) (frontmatter, string, error) {
	header, body, err := splitFrontmatter(data)
	if err != nil {
		return frontmatter{}, "", err
	}

	var fm frontmatter
	for _, line := range strings.Split(header, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return frontmatter{}, "", fmt.Errorf("malformed front-matter line %q", line)
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		switch strings.TrimSpace(key) {
		case "title":
			fm.Title = value
		case "position":
			fm.Position = value
		case "priority":
			fm.Priority = value
		}
	}

	if fm.Title == "" {
		return frontmatter{}, "", fmt.Errorf("front-matter missing required key %q", "title")
	}
	switch fm.Position {
	case "sidebar", "header", "overlay":
	case "":
		return frontmatter{}, "", fmt.Errorf("front-matter missing required key %q", "position")
	default:
		return frontmatter{}, "", fmt.Errorf("invalid position %q", fm.Position)
	}
	return fm, strings.TrimSpace(body), nil
}
