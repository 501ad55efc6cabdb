package session

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/fable/internal/guard"
	"github.com/nextlevelbuilder/fable/internal/state"
)

// buildSystemPrompt assembles the GM instructions for one agent call.
// Every substituted value passes through the state-value sanitizer.
func (s *Session) buildSystemPrompt() string {
	adv := s.store.Adventure()

	var b strings.Builder
	b.WriteString("You are the Game Master of an interactive text adventure. Narrate vividly in second person, keep responses under four paragraphs, and end each turn with an implicit or explicit prompt for action. Use your tools to keep theme, panels, and world files current.\n")

	if scene := guard.SanitizeStateValue(adv.CurrentScene.Description, 500); scene != "" {
		b.WriteString("\nCurrent scene: " + scene + "\n")
	}
	if adv.CurrentScene.Location != "" {
		b.WriteString("Location: " + guard.SanitizeStateValue(adv.CurrentScene.Location, 200) + "\n")
	}

	if adv.PlayerRef != nil {
		fmt.Fprintf(&b, "\nThe player character lives under %s/. Keep sheet.md, story.md, and state.md current.\n", *adv.PlayerRef)
	} else {
		b.WriteString("\nNo player character is bound yet. Early on, use list_characters and set_character to establish one.\n")
	}
	if adv.WorldRef != nil {
		fmt.Fprintf(&b, "The world lives under %s/. Track locations, characters, and quests in its files.\n", *adv.WorldRef)
	}

	b.WriteString("\n" + xpGuidance(adv.XPStyle) + "\n")

	s.mu.Lock()
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		if errs := hook.TakeValidationErrors(); len(errs) > 0 {
			b.WriteString("\nPanel Validation Errors\nYour recent panel file edits were rejected. Fix them this turn:\n")
			for _, e := range errs {
				b.WriteString("- " + e + "\n")
			}
		}
	}
	return b.String()
}

func xpGuidance(style *string) string {
	if style == nil {
		return "Ask about experience-point preferences when the first combat or challenge ends, then call set_xp_style."
	}
	switch *style {
	case state.XPFrequent:
		return "Award small experience gains often, after most meaningful actions."
	case state.XPMilestone:
		return "Award experience only at story milestones."
	case state.XPCombatPlus:
		return "Award experience for combat and significant non-combat feats."
	default:
		return "Award experience at your discretion."
	}
}
