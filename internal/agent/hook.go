package agent

import (
	"log/slog"
	"time"
)

// hookTimeout bounds a post-tool hook invocation. A hook that overruns is
// abandoned and the stream proceeds.
const hookTimeout = 5 * time.Second

// firePostToolHook runs the hook synchronously with a deadline.
func firePostToolHook(hook HookFunc, toolName string, input map[string]any) {
	if hook == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		hook(HookEvent{
			HookEventName: "PostToolUse",
			ToolName:      toolName,
			ToolInput:     input,
		})
	}()
	select {
	case <-done:
	case <-time.After(hookTimeout):
		slog.Warn("agent.hook_timeout", "tool", toolName, "timeout", hookTimeout)
	}
}
