// Package tools exposes the GM's fixed tool surface over MCP. A dispatcher
// instance is owned by one in-flight query, so handlers never run
// concurrently for a session.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nextlevelbuilder/fable/internal/catalog"
	"github.com/nextlevelbuilder/fable/internal/panels"
)

// Theme is the input of a set_theme call.
type Theme struct {
	Mood        string
	Genre       string
	Region      string
	ImagePrompt string
	Force       bool
}

// Effects is the capability surface the session lends to tool handlers.
// Every mutation flows through it so the session stays the single writer.
type Effects interface {
	SetTheme(ctx context.Context, theme Theme) error
	SetXPStyle(style string) error
	SetCharacter(name string, isNew bool) (ref string, err error)
	SetWorld(name string, isNew bool) (ref string, err error)
	ListCharacters() ([]catalog.Entry, error)
	ListWorlds() ([]catalog.Entry, error)
	CreatePanel(p panels.Panel) error
	UpdatePanel(id, content string) error
	DismissPanel(id string) error
	ListPanels() []panels.Panel
}

// Dispatcher registers the tool set on an MCP server and dispatches calls
// in-process.
type Dispatcher struct {
	srv      *server.MCPServer
	effects  Effects
	handlers map[string]server.ToolHandlerFunc
}

func NewDispatcher(effects Effects) *Dispatcher {
	d := &Dispatcher{
		srv:      server.NewMCPServer("fable-gm", "1.0.0"),
		effects:  effects,
		handlers: make(map[string]server.ToolHandlerFunc),
	}
	d.registerAll()
	return d
}

func (d *Dispatcher) register(tool mcp.Tool, handler server.ToolHandlerFunc) {
	d.srv.AddTool(tool, handler)
	d.handlers[tool.Name] = handler
}

// Tools lists the registered tool names, sorted.
func (d *Dispatcher) Tools() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call dispatches one invocation. Handler errors become a textual
// "Error: <msg>" result the agent can read and retry on.
func (d *Dispatcher) Call(ctx context.Context, name string, args map[string]any) (string, bool) {
	handler, ok := d.handlers[name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", name), true
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := handler(ctx, req)
	if err != nil {
		slog.Warn("tools.handler_failed", "tool", name, "error", err)
		return fmt.Sprintf("Error: %v", err), true
	}
	text := flattenResult(result)
	if result != nil && result.IsError {
		slog.Debug("tools.handler_rejected", "tool", name, "result", text)
		if !strings.HasPrefix(text, "Error:") {
			text = "Error: " + text
		}
		return text, true
	}
	return text, false
}

func flattenResult(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var out string
	for _, content := range result.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			if out != "" {
				out += "\n"
			}
			out += tc.Text
		}
	}
	return out
}
