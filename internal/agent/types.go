// Package agent is the client for the external GM agent service. A query is
// a streaming call over a resumable conversation: the caller consumes a
// finite sequence of typed messages and persists the session id from the
// init message for the next call.
package agent

import (
	"context"
)

// PermissionAutoAcceptEdits lets the agent edit project files without
// per-call approval.
const PermissionAutoAcceptEdits = "auto-accept-edits"

// Message is one element of a query's output sequence.
type Message interface {
	messageType() string
}

// InitMessage carries the resumable session handle. Emitted exactly once
// near the start of a stream.
type InitMessage struct {
	SessionID string `json:"sessionId"`
}

// Stream event kinds.
const (
	EventBlockStart = "content_block_start"
	EventTextDelta  = "text_delta"
	EventBlockEnd   = "content_block_end"
)

// StreamEvent is a fine-grained streaming fragment.
type StreamEvent struct {
	Kind string `json:"kind"`
	// Text is set for text_delta events.
	Text string `json:"text,omitempty"`
	// BlockType is set for content_block_start ("text" or "tool_use").
	BlockType string `json:"blockType,omitempty"`
}

// ContentBlock is one block of a complete assistant message.
type ContentBlock struct {
	Type      string         `json:"type"` // "text" or "tool_use"
	Text      string         `json:"text,omitempty"`
	ToolName  string         `json:"toolName,omitempty"`
	ToolInput map[string]any `json:"toolInput,omitempty"`
}

// AssistantMessage is a complete message with its content blocks.
type AssistantMessage struct {
	Content []ContentBlock `json:"content"`
}

// ResultMessage terminates a successful stream.
type ResultMessage struct {
	SessionID  string `json:"sessionId"`
	NumTurns   int    `json:"numTurns"`
	DurationMs int64  `json:"durationMs"`
}

func (InitMessage) messageType() string      { return "init" }
func (StreamEvent) messageType() string      { return "stream" }
func (AssistantMessage) messageType() string { return "assistant" }
func (ResultMessage) messageType() string    { return "result" }

// ToolServer exposes the session's named tools to the agent.
type ToolServer interface {
	// Tools lists the discoverable tool names.
	Tools() []string
	// Call dispatches one tool invocation. isError marks a result the
	// agent should treat as a failure.
	Call(ctx context.Context, name string, args map[string]any) (result string, isError bool)
}

// HookEvent is delivered to the post-tool hook after each tool completes.
type HookEvent struct {
	HookEventName string
	ToolName      string
	ToolInput     map[string]any
}

// HookFunc runs synchronously in the stream goroutine, bounded by
// hookTimeout.
type HookFunc func(HookEvent)

// QueryRequest describes one streaming call.
type QueryRequest struct {
	Prompt          string
	SystemPrompt    string
	ResumeSessionID string
	AllowedTools    []string
	ToolServer      ToolServer
	CWD             string
	MaxTurns        int
	PermissionMode  string
	PostToolHook    HookFunc
}

// Client starts streaming queries against the GM agent.
type Client interface {
	Query(ctx context.Context, req QueryRequest) (*Stream, error)
}

// Stream is a lazy, finite, non-restartable message sequence. Messages()
// is closed when the stream ends; Err() then reports the terminal error,
// if any.
type Stream struct {
	ch  chan Message
	err error
}

func newStream(buffer int) *Stream {
	return &Stream{ch: make(chan Message, buffer)}
}

// Messages returns the receive side of the sequence.
func (s *Stream) Messages() <-chan Message { return s.ch }

// Err reports the terminal error. Valid only after Messages() is closed.
func (s *Stream) Err() error { return s.err }

// send delivers one message unless the context is gone.
func (s *Stream) send(ctx context.Context, msg Message) bool {
	select {
	case s.ch <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish seals the stream with an optional terminal error.
func (s *Stream) finish(err error) {
	s.err = err
	close(s.ch)
}
