package provider

import (
	"github.com/eclia/gateway/pkg/types"
)

// bytesPerToken is the conservative byte-based heuristic used to estimate
// token counts without calling out to any vendor SDK.
const bytesPerToken = 3.2

func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	n := float64(len(s)) / bytesPerToken
	if n < 1 {
		return 1
	}
	return int(n) + 1
}

// buildContext implements the shared retention policy described in spec
// §4.5: always keep the trailing system message (if any), then drop the
// oldest non-system messages first until the estimate fits tokenBudget;
// tool messages orphaned from their originating call are dropped too.
func buildContext(history []types.Record, tokenBudget int) ContextResult {
	var system *ProviderMessage
	var rest []ProviderMessage
	knownCallIDs := make(map[string]bool)

	for _, rec := range history {
		msg, ok := rec.(*types.MessageRecord)
		if !ok {
			continue
		}
		pm := ProviderMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCalls:  msg.ToolCalls,
			ToolCallID: msg.ToolCallID,
		}
		if msg.Role == "system" {
			v := pm
			system = &v
			continue
		}
		if msg.Role == "assistant" {
			for _, tc := range msg.ToolCalls {
				knownCallIDs[tc.CallID] = true
			}
		}
		rest = append(rest, pm)
	}

	// Drop tool messages whose originating assistant tool_call is not present
	// anywhere in the history. The truncation loop below also drops tool
	// replies whose assistant call it has already dropped.
	filtered := rest[:0:0]
	for _, m := range rest {
		if m.Role == "tool" && !knownCallIDs[m.ToolCallID] {
			continue
		}
		filtered = append(filtered, m)
	}
	rest = filtered

	used := 0
	if system != nil {
		used += estimateTokens(system.Content)
	}
	for _, m := range rest {
		used += estimateTokens(m.Content)
	}

	dropped := 0
	start := 0
	// A tool reply follows its assistant message, so once anything has been
	// dropped a window that opens on a tool reply has lost that reply's call.
	for start < len(rest) && (used > tokenBudget || (start > 0 && rest[start].Role == "tool")) {
		used -= estimateTokens(rest[start].Content)
		start++
		dropped++
	}
	rest = rest[start:]

	var out []ProviderMessage
	if system != nil {
		out = append(out, *system)
	}
	out = append(out, rest...)

	return ContextResult{Messages: out, UsedTokens: used, Dropped: dropped}
}
