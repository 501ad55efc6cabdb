// Package guard screens player input before it reaches the GM.
// Role-manipulation and oversized inputs are blocked outright; extraction
// and override phrasings are flagged but allowed through, matching the
// block policy in the session layer.
package guard

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxInputChars is the hard cap on a single player input, counted in runes.
const MaxInputChars = 2000

// Flag names reported by Detect.
const (
	FlagInstructionOverride = "instruction_override"
	FlagPromptExtraction    = "prompt_extraction"
	FlagRoleManipulation    = "role_manipulation"
	FlagTooLong             = "too_long"
)

var (
	instructionOverridePattern = regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`)
	promptExtractionPattern    = regexp.MustCompile(`(?i)\b(reveal|show|display|output|print|tell\s+me)\s+(your\s+)?(the\s+)?(system\s+)?(prompt|instructions?|rules?)\b`)
	roleManipulationPattern    = regexp.MustCompile(`(?is)\b(you\s+are\s+now|act\s+as|pretend\s+to\s+be)\b.*\b(assistant|ai|system|chatgpt|claude|gpt)\b`)
)

// Result is the outcome of sanitizing one player input.
type Result struct {
	Sanitized   string
	Flags       []string
	Blocked     bool
	BlockReason string
}

// Detect returns the pattern flags present in text without policy decisions.
func Detect(text string) []string {
	var flags []string
	if utf8.RuneCountInString(text) > MaxInputChars {
		flags = append(flags, FlagTooLong)
	}
	if instructionOverridePattern.MatchString(text) {
		flags = append(flags, FlagInstructionOverride)
	}
	if promptExtractionPattern.MatchString(text) {
		flags = append(flags, FlagPromptExtraction)
	}
	if roleManipulationPattern.MatchString(text) {
		flags = append(flags, FlagRoleManipulation)
	}
	return flags
}

// SanitizePlayerInput applies the block policy: inputs over MaxInputChars or
// targeting the assistant identity are blocked; override/extraction phrasings
// pass through flagged.
func SanitizePlayerInput(text string) Result {
	flags := Detect(text)
	res := Result{Sanitized: strings.TrimSpace(text), Flags: flags}

	for _, f := range flags {
		switch f {
		case FlagTooLong:
			res.Blocked = true
			res.BlockReason = "input too long"
		case FlagRoleManipulation:
			res.Blocked = true
			res.BlockReason = "role manipulation detected"
		}
		if res.Blocked {
			break
		}
	}

	if len(flags) > 0 {
		slog.Warn("security.input_flagged",
			"flags", strings.Join(flags, ","),
			"blocked", res.Blocked,
			"input_len", len(text),
		)
	}
	return res
}

// SanitizeStateValue bounds a state string before it is interpolated into the
// GM system prompt. Truncation is by runes with a trailing ellipsis; the
// operation is idempotent (a truncated value passes through unchanged).
func SanitizeStateValue(s string, max int) string {
	if max <= 0 {
		max = 500
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
