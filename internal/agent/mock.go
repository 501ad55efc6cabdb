package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockOptions tunes the simulator.
type MockOptions struct {
	// ChunkDelay spaces out text deltas. Zero streams immediately.
	ChunkDelay time.Duration
	// FailResumes rejects that many resume attempts with a session-invalid
	// error before accepting again.
	FailResumes int
	// StallOn blocks the stream until cancellation when the prompt contains
	// this marker.
	StallOn string
}

// Mock is a deterministic in-process GM simulator. Scripts key off prompt
// keywords so tests and local development get stable behavior without an
// upstream service.
type Mock struct {
	opts MockOptions

	mu             sync.Mutex
	resumeFailures int
}

func NewMock(opts MockOptions) *Mock {
	return &Mock{opts: opts, resumeFailures: opts.FailResumes}
}

// RejectNextResume arms one additional resume rejection.
func (m *Mock) RejectNextResume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumeFailures++
}

func (m *Mock) Query(ctx context.Context, req QueryRequest) (*Stream, error) {
	stream := newStream(64)
	go m.run(ctx, req, stream)
	return stream, nil
}

func (m *Mock) run(ctx context.Context, req QueryRequest, stream *Stream) {
	if req.ResumeSessionID != "" && m.takeResumeFailure() {
		stream.finish(&Error{Kind: KindInvalidRequest, Message: "session not found: " + req.ResumeSessionID})
		return
	}
	if strings.HasPrefix(req.ResumeSessionID, "expired-") {
		stream.finish(&Error{Kind: KindInvalidRequest, Message: "session expired"})
		return
	}

	sessionID := req.ResumeSessionID
	if sessionID == "" {
		sessionID = "mock-" + uuid.NewString()
	}
	if !stream.send(ctx, InitMessage{SessionID: sessionID}) {
		stream.finish(ctx.Err())
		return
	}

	if m.opts.StallOn != "" && strings.Contains(req.Prompt, m.opts.StallOn) {
		<-ctx.Done()
		stream.finish(ctx.Err())
		return
	}

	script := m.pickScript(req.Prompt)

	turns := 0
	for _, step := range script {
		turns++
		switch step.kind {
		case stepTool:
			toolMsg := AssistantMessage{Content: []ContentBlock{{
				Type:      "tool_use",
				ToolName:  step.tool,
				ToolInput: step.input,
			}}}
			if !stream.send(ctx, toolMsg) {
				stream.finish(ctx.Err())
				return
			}
			if req.ToolServer != nil {
				req.ToolServer.Call(ctx, step.tool, step.input)
			}
			firePostToolHook(req.PostToolHook, step.tool, step.input)

		case stepText:
			if !m.streamText(ctx, stream, step.text) {
				stream.finish(ctx.Err())
				return
			}
		}
	}

	// Complete message mirrors what was streamed.
	var blocks []ContentBlock
	for _, step := range script {
		if step.kind == stepText {
			blocks = append(blocks, ContentBlock{Type: "text", Text: step.text})
		}
	}
	if !stream.send(ctx, AssistantMessage{Content: blocks}) {
		stream.finish(ctx.Err())
		return
	}
	if !stream.send(ctx, ResultMessage{SessionID: sessionID, NumTurns: turns}) {
		stream.finish(ctx.Err())
		return
	}
	stream.finish(nil)
}

func (m *Mock) takeResumeFailure() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resumeFailures > 0 {
		m.resumeFailures--
		return true
	}
	return false
}

// streamText emits one text block word by word.
func (m *Mock) streamText(ctx context.Context, stream *Stream, text string) bool {
	if !stream.send(ctx, StreamEvent{Kind: EventBlockStart, BlockType: "text"}) {
		return false
	}
	words := strings.SplitAfter(text, " ")
	for _, w := range words {
		if w == "" {
			continue
		}
		if m.opts.ChunkDelay > 0 {
			select {
			case <-time.After(m.opts.ChunkDelay):
			case <-ctx.Done():
				return false
			}
		}
		if !stream.send(ctx, StreamEvent{Kind: EventTextDelta, Text: w}) {
			return false
		}
	}
	return stream.send(ctx, StreamEvent{Kind: EventBlockEnd})
}

type stepKind int

const (
	stepText stepKind = iota
	stepTool
)

type scriptStep struct {
	kind  stepKind
	text  string
	tool  string
	input map[string]any
}

// pickScript chooses a deterministic response for the prompt.
func (m *Mock) pickScript(prompt string) []scriptStep {
	lower := strings.ToLower(prompt)
	switch {
	case strings.Contains(lower, "dark forest"):
		return []scriptStep{
			{kind: stepTool, tool: "set_theme", input: map[string]any{
				"mood": "ominous", "genre": "high-fantasy", "region": "forest",
			}},
			{kind: stepText, text: "The trees close in around you, their branches blotting out the last of the light."},
			{kind: stepText, text: "Somewhere ahead, something is waiting."},
		}
	case strings.Contains(lower, "village"):
		return []scriptStep{
			{kind: stepTool, tool: "set_theme", input: map[string]any{
				"mood": "calm", "genre": "high-fantasy", "region": "village",
			}},
			{kind: stepText, text: "Smoke curls from the chimneys as the village settles into evening."},
		}
	case strings.Contains(prompt, "RECAP SESSION"):
		return []scriptStep{
			{kind: stepText, text: "Previously: you set out at dusk, crossed the old bridge, and made camp beneath the watchtower."},
		}
	case strings.Contains(lower, "open the door"):
		return []scriptStep{
			{kind: stepText, text: "The door groans open on rusted hinges."},
			{kind: stepText, text: "Beyond it, a narrow stair descends into darkness."},
		}
	default:
		return []scriptStep{
			{kind: stepText, text: "The world stirs in answer to your words."},
			{kind: stepText, text: "What do you do next?"},
		}
	}
}
