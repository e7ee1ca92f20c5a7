// Package tool implements the ECLIA Tool Subsystem (spec §4.6): the "exec"
// tool hosted over MCP stdio plus the native "send" and "web" tools.
package tool

import (
	"context"
	"encoding/json"

	"github.com/eclia/gateway/pkg/types"
)

// Context carries the per-call state a tool needs beyond its JSON arguments.
type Context struct {
	SessionID string
	CallID    string

	// ArtifactsDir is the session's artifact directory on disk, used by
	// tools that sanitize large/binary results or copy attachments.
	ArtifactsDir string

	// Root is the filesystem root backing the session's artifact tree
	// (ArtifactsDir is a directory under Root); tools that write new artifacts need
	// this to resolve paths the same way internal/artifact.Write does.
	Root string

	// Origin is the chat request's origin, used by the send tool to
	// resolve the "origin" destination variant.
	Origin *types.Origin

	// RequestApproval enqueues an approval ticket and blocks for its
	// terminal decision. Tools that require approval in "safe" mode call
	// this; nil means no approval channel is available, and exec then fails a
	// command that needs approval with approval_denied.
	RequestApproval func(reason string) (types.Decision, error)
}

// Result is the normalized outcome of a tool call, independent of how it
// gets rendered into a transcript message or an SSE tool_result event.
type Result struct {
	OK         bool
	Output     string
	Structured map[string]any
	ErrorCode  string
	ErrorMsg   string
}

// Tool is the common shape every native and MCP-backed tool implements.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, tc *Context, argsRaw string) (*Result, error)
}

// NeedsApproval reports whether one call to t requires "safe" mode approval
// before Execute runs. send and web decide this from their own argument
// shape; exec decides it internally against its allowlist (Execute calls
// tc.RequestApproval itself), so it always reports false here. A malformed
// argsRaw is treated as "needs approval" so Execute's own unmarshal error
// is what the caller ultimately sees, never a silent bypass.
func NeedsApproval(t Tool, argsRaw string, origin *types.Origin) bool {
	switch tt := t.(type) {
	case *SendTool:
		var a sendArgs
		if err := json.Unmarshal([]byte(argsRaw), &a); err != nil {
			return true
		}
		return tt.NeedsApproval(a, origin)
	case *WebTool:
		var a webArgs
		if err := json.Unmarshal([]byte(argsRaw), &a); err != nil {
			return true
		}
		return tt.NeedsApproval(a)
	default:
		return false
	}
}
