package catalog

// Template trees written for new entries. The agent fills these in over the
// course of play; the headings anchor its edits.

var characterTemplates = map[string]string{
	"sheet.md": `# {{name}}

## Attributes

- Level: 1
- XP: 0

## Abilities

## Inventory
`,
	"story.md": `# {{name}} — Story

## Background

## Goals
`,
	"state.md": `# {{name}} — Current State

- Condition: healthy
- Location: unknown
`,
}

var worldTemplates = map[string]string{
	"world_state.md": `# {{name}}

## Current Situation
`,
	"locations.md": `# Locations

No locations discovered yet.
`,
	"characters.md": `# Characters

No characters encountered yet.
`,
	"quests.md": `# Quests

## Active

## Completed
`,
	"art-style.md": `# Art Style

Describe the visual style used for generated scene art.
`,
}
