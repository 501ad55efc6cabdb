package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/nextlevelbuilder/fable/internal/config"
)

// procClient launches the external agent CLI as a co-process and speaks
// newline-delimited JSON on its stdio. One process per query; the
// conversation itself is resumable via the session id.
type procClient struct {
	bin    string
	apiKey string
}

// NewProcClient builds the co-process client from config. When cfg.Mock is
// set, the deterministic simulator is returned instead.
func NewProcClient(cfg config.AgentConfig) Client {
	if cfg.Mock {
		return NewMock(MockOptions{})
	}
	return &procClient{bin: cfg.Bin, apiKey: cfg.APIKey}
}

// procRequest is the query line written to the co-process.
type procRequest struct {
	Type            string   `json:"type"`
	Prompt          string   `json:"prompt"`
	SystemPrompt    string   `json:"systemPrompt,omitempty"`
	ResumeSessionID string   `json:"resumeSessionId,omitempty"`
	AllowedTools    []string `json:"allowedTools,omitempty"`
	CWD             string   `json:"cwd,omitempty"`
	MaxTurns        int      `json:"maxTurns,omitempty"`
	PermissionMode  string   `json:"permissionMode,omitempty"`
}

// procLine is one stdout line from the co-process.
type procLine struct {
	Type string `json:"type"`

	// init
	SessionID string `json:"sessionId,omitempty"`

	// stream
	Kind      string `json:"kind,omitempty"`
	Text      string `json:"text,omitempty"`
	BlockType string `json:"blockType,omitempty"`

	// assistant
	Content []ContentBlock `json:"content,omitempty"`

	// tool_call
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// result
	NumTurns   int   `json:"numTurns,omitempty"`
	DurationMs int64 `json:"durationMs,omitempty"`

	// error
	Status  int    `json:"status,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type toolResultLine struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Content string `json:"content"`
	IsError bool   `json:"isError"`
}

func (c *procClient) Query(ctx context.Context, req QueryRequest) (*Stream, error) {
	if c.bin == "" {
		return nil, &Error{Kind: KindUnknown, Message: "agent binary not configured"}
	}

	if req.PermissionMode == "" {
		req.PermissionMode = PermissionAutoAcceptEdits
	}

	cmd := exec.CommandContext(ctx, c.bin)
	cmd.Dir = req.CWD
	cmd.Env = append(os.Environ(), "FABLE_AGENT_API_KEY="+c.apiKey)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("agent stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agent stdout: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("agent start: %w", err)
	}

	query := procRequest{
		Type:            "query",
		Prompt:          req.Prompt,
		SystemPrompt:    req.SystemPrompt,
		ResumeSessionID: req.ResumeSessionID,
		AllowedTools:    req.AllowedTools,
		CWD:             req.CWD,
		MaxTurns:        req.MaxTurns,
		PermissionMode:  req.PermissionMode,
	}
	enc := json.NewEncoder(stdin)
	if err := enc.Encode(query); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("agent write query: %w", err)
	}

	stream := newStream(64)
	go c.pump(ctx, req, cmd, stdin, stdout, stream)
	return stream, nil
}

// pump reads co-process lines, forwards them as typed messages, and
// services tool calls inline.
func (c *procClient) pump(ctx context.Context, req QueryRequest, cmd *exec.Cmd, stdin io.WriteCloser, stdout io.Reader, stream *Stream) {
	var writeMu sync.Mutex
	enc := json.NewEncoder(stdin)

	sawResult := false
	var terminal error

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for sc.Scan() {
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line procLine
		if err := json.Unmarshal(raw, &line); err != nil {
			slog.Warn("agent.malformed_line", "error", err, "len", len(raw))
			continue
		}

		switch line.Type {
		case "init":
			if !stream.send(ctx, InitMessage{SessionID: line.SessionID}) {
				terminal = ctx.Err()
			}

		case "stream":
			if !stream.send(ctx, StreamEvent{Kind: line.Kind, Text: line.Text, BlockType: line.BlockType}) {
				terminal = ctx.Err()
			}

		case "assistant":
			if !stream.send(ctx, AssistantMessage{Content: line.Content}) {
				terminal = ctx.Err()
			}

		case "tool_call":
			result, isError := c.dispatch(ctx, req, line.Name, line.Input)
			writeMu.Lock()
			err := enc.Encode(toolResultLine{Type: "tool_result", ID: line.ID, Content: result, IsError: isError})
			writeMu.Unlock()
			if err != nil {
				terminal = &Error{Kind: KindUnknown, Message: fmt.Sprintf("tool result write: %v", err)}
			}

		case "result":
			sawResult = true
			if !stream.send(ctx, ResultMessage{SessionID: line.SessionID, NumTurns: line.NumTurns, DurationMs: line.DurationMs}) {
				terminal = ctx.Err()
			}

		case "error":
			terminal = classifyLine(line)
		}

		if terminal != nil {
			break
		}
	}

	_ = stdin.Close()
	waitErr := cmd.Wait()

	if terminal == nil && ctx.Err() != nil {
		terminal = ctx.Err()
	}
	if terminal == nil && !sawResult {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			terminal = &Error{
				Kind:    KindUnknown,
				Message: fmt.Sprintf("process exited with code %d", exitErr.ExitCode()),
			}
		} else {
			terminal = &Error{Kind: KindUnknown, Message: "agent stream ended without result"}
		}
	}
	stream.finish(terminal)
}

func (c *procClient) dispatch(ctx context.Context, req QueryRequest, name string, input map[string]any) (string, bool) {
	if req.ToolServer == nil {
		return fmt.Sprintf("Error: no tool server for %q", name), true
	}
	start := time.Now()
	result, isError := req.ToolServer.Call(ctx, name, input)
	slog.Debug("agent.tool_dispatched", "tool", name, "is_error", isError, "elapsed", time.Since(start))
	firePostToolHook(req.PostToolHook, name, input)
	return result, isError
}

func classifyLine(line procLine) error {
	kind := line.Code
	retryable := false
	if line.Status != 0 {
		statusKind, r := classifyStatus(line.Status)
		if kind == "" {
			kind = statusKind
		}
		retryable = r
	}
	if kind == "" {
		kind = KindUnknown
	}
	if kind == KindRateLimit {
		retryable = true
	}
	return &Error{Kind: kind, Message: line.Message, Retryable: retryable}
}
