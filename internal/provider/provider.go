// Package provider implements the ECLIA Upstream Providers (spec §4.5): a
// small polymorphic capability interface with three concrete backends —
// OpenAI-compatible, Anthropic Messages, and Codex OAuth — plus the
// process-global registry that resolves a route key to a constructed
// Provider.
package provider

import (
	"context"

	"github.com/eclia/gateway/pkg/types"
)

// ToolSchema is the provider-agnostic shape of one tool advertised to the
// model in a turn.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// SamplingOverrides carries the per-request overrides a chat request may
// supply, already range-validated by the caller.
type SamplingOverrides struct {
	Temperature     *float64
	TopP            *float64
	TopK            *int
	MaxOutputTokens *int
}

// ProviderMessage is the truncated, schema-neutral message shape BuildContext
// produces; each concrete provider translates it into its own wire format.
type ProviderMessage struct {
	Role       string // "system" | "user" | "assistant" | "tool"
	Content    string
	ToolCalls  []types.ToolCall
	ToolCallID string

	// IsError marks a "tool" role message as a failed tool call's result,
	// so providers whose wire format distinguishes success from failure
	// (Anthropic's tool_result is_error) can encode it correctly.
	IsError bool
}

// StreamRequest is the common input to StreamTurn across all three backends.
type StreamRequest struct {
	Messages  []ProviderMessage
	Tools     []ToolSchema
	Overrides SamplingOverrides
	OnDelta   func(text string)
	DebugSink func(event string, payload any) // optional raw-event capture
}

// StreamResult is StreamTurn's output.
type StreamResult struct {
	AssistantText string
	ToolCalls     map[string]types.ToolCall
	FinishReason  string
	Usage         types.TokenUsage
}

// ContextResult is BuildContext's output.
type ContextResult struct {
	Messages   []ProviderMessage
	UsedTokens int
	Dropped    int
}

// Provider is the capability set every upstream backend implements.
type Provider interface {
	// Origin identifies which backend kind this instance implements.
	Origin() types.ProviderKind

	// BuildContext truncates history to fit tokenBudget per the shared
	// retention policy (trailing system message kept, oldest non-system
	// messages dropped first, orphaned tool messages dropped).
	BuildContext(history []types.Record, tokenBudget int) ContextResult

	// StreamTurn drives one model turn to completion or cancellation.
	StreamTurn(ctx context.Context, req StreamRequest) (StreamResult, error)

	// BuildAssistantToolCallMessage renders the assistant's tool-call
	// announcement back into a MessageRecord for transcript persistence.
	BuildAssistantToolCallMessage(text string, calls []types.ToolCall, ts int64) *types.MessageRecord

	// BuildToolResultMessage renders one tool result back into a
	// MessageRecord for transcript persistence.
	BuildToolResultMessage(callID string, resultText string, isError bool, ts int64) *types.MessageRecord
}

// Constructor builds a Provider bound to one resolved route.
type Constructor func(sel types.UpstreamSelection) (Provider, error)
