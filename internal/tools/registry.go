package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Closed value sets for set_theme. The client maps these to fixed CSS
// themes, so unknown values must never reach it.
var (
	themeMoods   = []string{"calm", "tense", "ominous", "triumphant", "mysterious"}
	themeGenres  = []string{"high-fantasy", "low-fantasy", "sci-fi", "steampunk", "horror", "modern", "historical"}
	themeRegions = []string{"forest", "village", "city", "castle", "ruins", "mountain", "desert", "ocean", "underground"}
)

func inSet(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func (d *Dispatcher) registerAll() {
	d.register(mcp.NewTool("set_theme",
		mcp.WithDescription("Change the visual theme of the adventure. Call when the scene's mood, genre, or region shifts."),
		mcp.WithString("mood", mcp.Required(),
			mcp.Description("Emotional tone: "+strings.Join(themeMoods, ", ")),
			mcp.Enum(themeMoods...),
		),
		mcp.WithString("genre", mcp.Required(),
			mcp.Description("Setting genre: "+strings.Join(themeGenres, ", ")),
			mcp.Enum(themeGenres...),
		),
		mcp.WithString("region", mcp.Required(),
			mcp.Description("Environment: "+strings.Join(themeRegions, ", ")),
			mcp.Enum(themeRegions...),
		),
		mcp.WithString("image_prompt", mcp.Description("Optional scene description for background art")),
		mcp.WithBoolean("force_generate", mcp.Description("Regenerate the background even if one is cached")),
	), d.handleSetTheme)

	d.register(mcp.NewTool("set_xp_style",
		mcp.WithDescription("Persist the player's experience-point preference."),
		mcp.WithString("xp_style", mcp.Required(),
			mcp.Description("One of: frequent, milestone, combat-plus"),
			mcp.Enum("frequent", "milestone", "combat-plus"),
		),
	), d.handleSetXPStyle)

	d.register(mcp.NewTool("set_character",
		mcp.WithDescription("Bind the adventure to a player character, creating it when is_new is true."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Character name or existing slug")),
		mcp.WithBoolean("is_new", mcp.Description("Create a new character instead of binding an existing one")),
	), d.handleSetCharacter)

	d.register(mcp.NewTool("set_world",
		mcp.WithDescription("Bind the adventure to a world, creating it when is_new is true."),
		mcp.WithString("name", mcp.Required(), mcp.Description("World name or existing slug")),
		mcp.WithBoolean("is_new", mcp.Description("Create a new world instead of binding an existing one")),
	), d.handleSetWorld)

	d.register(mcp.NewTool("list_characters",
		mcp.WithDescription("List the available player characters."),
	), d.handleListCharacters)

	d.register(mcp.NewTool("list_worlds",
		mcp.WithDescription("List the available worlds."),
	), d.handleListWorlds)

	d.register(mcp.NewTool("create_panel",
		mcp.WithDescription("Create a UI panel shown beside the narration."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Short alphanumeric-hyphen token")),
		mcp.WithString("title", mcp.Required()),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown body")),
		mcp.WithString("position", mcp.Required(), mcp.Enum("sidebar", "header", "overlay")),
		mcp.WithBoolean("persistent", mcp.Description("Keep the panel across reconnects")),
		mcp.WithNumber("x", mcp.Description("Optional overlay x offset")),
		mcp.WithNumber("y", mcp.Description("Optional overlay y offset")),
	), d.handleCreatePanel)

	d.register(mcp.NewTool("update_panel",
		mcp.WithDescription("Replace an existing panel's content."),
		mcp.WithString("id", mcp.Required()),
		mcp.WithString("content", mcp.Required()),
	), d.handleUpdatePanel)

	d.register(mcp.NewTool("dismiss_panel",
		mcp.WithDescription("Remove a panel."),
		mcp.WithString("id", mcp.Required()),
	), d.handleDismissPanel)

	d.register(mcp.NewTool("list_panels",
		mcp.WithDescription("List the active panels."),
	), d.handleListPanels)
}

func (d *Dispatcher) handleSetTheme(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mood, err := req.RequireString("mood")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	genre, err := req.RequireString("genre")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	region, err := req.RequireString("region")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	theme := Theme{
		Mood:        strings.ToLower(strings.TrimSpace(mood)),
		Genre:       strings.ToLower(strings.TrimSpace(genre)),
		Region:      strings.ToLower(strings.TrimSpace(region)),
		ImagePrompt: req.GetString("image_prompt", ""),
		Force:       req.GetBool("force_generate", false),
	}
	switch {
	case !inSet(themeMoods, theme.Mood):
		return mcp.NewToolResultError(fmt.Sprintf("unknown mood %q", theme.Mood)), nil
	case !inSet(themeGenres, theme.Genre):
		return mcp.NewToolResultError(fmt.Sprintf("unknown genre %q", theme.Genre)), nil
	case !inSet(themeRegions, theme.Region):
		return mcp.NewToolResultError(fmt.Sprintf("unknown region %q", theme.Region)), nil
	}
	if err := d.effects.SetTheme(ctx, theme); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Theme set to %s %s in %s.", theme.Mood, theme.Genre, theme.Region)), nil
}

func (d *Dispatcher) handleSetXPStyle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	style, err := req.RequireString("xp_style")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	switch style {
	case "frequent", "milestone", "combat-plus":
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown xp_style %q", style)), nil
	}
	if err := d.effects.SetXPStyle(style); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("XP style set to " + style + "."), nil
}

func (d *Dispatcher) handleSetCharacter(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ref, err := d.effects.SetCharacter(name, req.GetBool("is_new", false))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Character bound: " + ref), nil
}

func (d *Dispatcher) handleSetWorld(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ref, err := d.effects.SetWorld(name, req.GetBool("is_new", false))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("World bound: " + ref), nil
}

func (d *Dispatcher) handleListCharacters(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := d.effects.ListCharacters()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatEntries("characters", entries)), nil
}

func (d *Dispatcher) handleListWorlds(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := d.effects.ListWorlds()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatEntries("worlds", entries)), nil
}

func (d *Dispatcher) handleCreatePanel(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	position, err := req.RequireString("position")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	panel := panelFromArgs(id, title, content, position, req.GetBool("persistent", false))
	if err := d.effects.CreatePanel(panel); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Panel created: " + id), nil
}

func (d *Dispatcher) handleUpdatePanel(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := d.effects.UpdatePanel(id, content); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Panel updated: " + id), nil
}

func (d *Dispatcher) handleDismissPanel(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := d.effects.DismissPanel(id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Panel dismissed: " + id), nil
}

func (d *Dispatcher) handleListPanels(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	active := d.effects.ListPanels()
	if len(active) == 0 {
		return mcp.NewToolResultText("No active panels."), nil
	}
	var b strings.Builder
	b.WriteString("Active panels:\n")
	for _, p := range active {
		fmt.Fprintf(&b, "- %s (%s, %s): %s\n", p.ID, p.Title, p.Position, truncate(p.Content, 80))
	}
	return mcp.NewToolResultText(b.String()), nil
}
