package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/eclia/gateway/internal/apperror"
	"github.com/eclia/gateway/internal/artifact"
	"github.com/eclia/gateway/internal/event"
	"github.com/eclia/gateway/internal/provider"
	"github.com/eclia/gateway/internal/sse"
	"github.com/eclia/gateway/internal/tool"
	"github.com/eclia/gateway/pkg/types"
)

// toolLoop drives step 7: repeated provider.StreamTurn calls, each
// optionally followed by a round of tool invocations, until the model stops
// requesting tools, the client disconnects, or MaxSteps is hit.
func (o *Orchestrator) toolLoop(ctx context.Context, req types.ChatRequest, writer *sse.Writer, prov provider.Provider, messages []provider.ProviderMessage) {
	fullMode := req.StreamMode == types.StreamModeFull
	schemas := o.Tools.Schemas(req.EnabledTools)
	overrides := provider.SamplingOverrides{
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		TopK:            req.TopK,
		MaxOutputTokens: req.MaxOutputTokens,
	}

	var usage types.TokenUsage
	var lastAssistantText string

	for step := 0; step < MaxSteps; step++ {
		if ctx.Err() != nil {
			o.closeTurn(writer, req, usage, true)
			return
		}

		if fullMode {
			_ = writer.WriteEvent("assistant_start", struct{}{})
		}

		streamReq := provider.StreamRequest{
			Messages:  messages,
			Tools:     schemas,
			Overrides: overrides,
			OnDelta: func(text string) {
				if fullMode {
					_ = writer.WriteEvent("delta", types.DeltaEvent{Text: text})
				}
				o.Bus.PublishSync(event.Event{Type: event.TurnDelta, Data: event.TurnDeltaData{SessionID: req.SessionID, Text: text}})
			},
		}

		result, err := prov.StreamTurn(ctx, streamReq)
		if err != nil {
			o.failMidTurn(writer, req, usage, err)
			return
		}
		usage = result.Usage
		lastAssistantText = result.AssistantText

		calls := sortedToolCalls(result.ToolCalls)
		if len(calls) == 0 && result.FinishReason == "tool_calls" {
			calls = o.fallbackParseToolCalls(req.SessionID, result.AssistantText)
		}

		assistantRec := prov.BuildAssistantToolCallMessage(result.AssistantText, calls, o.now())
		if err := o.Store.AppendTranscript(req.SessionID, assistantRec); err != nil {
			log.Error().Err(err).Str("sessionId", req.SessionID).Msg("failed to persist assistant message")
		}
		if fullMode {
			_ = writer.WriteEvent("assistant_end", types.AssistantEndEvent{})
		}
		o.Bus.PublishSync(event.Event{Type: event.TurnAssistantEnd, Data: event.TurnAssistantEndData{SessionID: req.SessionID}})

		messages = append(messages, provider.ProviderMessage{Role: "assistant", Content: result.AssistantText, ToolCalls: calls})

		if len(calls) == 0 {
			if terminalFinishReasons[result.FinishReason] || result.FinishReason == "" {
				if req.StreamMode == types.StreamModeFinal {
					_ = writer.WriteEvent("final", types.FinalEvent{Text: lastAssistantText})
				}
			}
			o.closeTurn(writer, req, usage, false)
			return
		}

		for _, call := range calls {
			if ctx.Err() != nil {
				o.closeTurn(writer, req, usage, true)
				return
			}
			resultText, isError := o.runToolCall(ctx, req, writer, fullMode, call, prov)
			messages = append(messages, provider.ProviderMessage{Role: "tool", Content: resultText, ToolCallID: call.CallID, IsError: isError})
		}
	}

	// MaxSteps exhausted: generic internal error, per spec's hard backstop.
	_ = writer.WriteEvent("error", types.ErrorEvent{Code: string(apperror.KindInternal), Message: "turn exceeded the maximum number of tool-loop steps"})
	o.closeTurn(writer, req, usage, false)
}

// runToolCall executes one tool call end to end: approval gating (in safe
// mode), invocation, sanitization, SSE reporting, and transcript
// persistence. It returns the text fed back to the provider as this call's
// tool-result message.
func (o *Orchestrator) runToolCall(ctx context.Context, req types.ChatRequest, writer *sse.Writer, fullMode bool, call types.ToolCall, prov provider.Provider) (resultText string, isError bool) {
	args := decodeArgsMap(call.ArgsRaw)

	t, ok := o.Tools.Get(call.Name)
	if !ok {
		res := &tool.Result{OK: false, ErrorCode: string(apperror.KindUnknownTool), ErrorMsg: fmt.Sprintf("unknown tool %q", call.Name)}
		o.announceToolCall(req, writer, fullMode, call, args, "")
		o.reportToolResult(req, writer, fullMode, call, res, prov)
		return res.ErrorMsg, true
	}

	tc := &tool.Context{
		SessionID:    req.SessionID,
		CallID:       call.CallID,
		ArtifactsDir: artifact.SessionDir(o.Root, req.SessionID),
		Root:         o.Root,
		Origin:       req.Origin,
	}
	tc.RequestApproval = func(reason string) (types.Decision, error) {
		return o.awaitApproval(ctx, req.SessionID, call.Name, reason, args), nil
	}

	var approvalID string
	if req.ToolAccessMode == types.ToolAccessSafe && tool.NeedsApproval(t, call.ArgsRaw, req.Origin) {
		approvalID = o.Approvals.Enqueue(req.SessionID, fmt.Sprintf("%s requires approval", call.Name), call.Name, args, o.now())
		o.announceToolCall(req, writer, fullMode, call, args, approvalID)
		o.Bus.PublishSync(event.Event{Type: event.ApprovalRequired, Data: event.ApprovalRequiredData{ApprovalID: approvalID, SessionID: req.SessionID, Reason: "approval required", Tool: call.Name, Args: args}})

		decision := o.Approvals.Wait(ctx, approvalID)
		o.Bus.PublishSync(event.Event{Type: event.ApprovalResolved, Data: event.ApprovalResolvedData{ApprovalID: approvalID, SessionID: req.SessionID, Decision: decision}})

		var res *tool.Result
		switch decision {
		case types.DecisionApprove:
			res = o.execute(ctx, t, tc, call)
		case types.DecisionDeny:
			res = &tool.Result{OK: false, ErrorCode: string(apperror.KindApprovalDenied), ErrorMsg: "tool call denied"}
		case types.DecisionTimeout:
			res = &tool.Result{OK: false, ErrorCode: string(apperror.KindApprovalTimeout), ErrorMsg: "approval timed out"}
		default:
			res = &tool.Result{OK: false, ErrorCode: string(apperror.KindApprovalCancelled), ErrorMsg: "approval cancelled"}
		}
		o.reportToolResult(req, writer, fullMode, call, res, prov)
		return toolResultText(res), !res.OK
	}

	o.announceToolCall(req, writer, fullMode, call, args, "")
	res := o.execute(ctx, t, tc, call)
	o.reportToolResult(req, writer, fullMode, call, res, prov)
	return toolResultText(res), !res.OK
}

// announceToolCall emits the tool_call SSE event (full mode only) and the
// matching bus event, including the approval ticket id when one was
// already created for this call.
func (o *Orchestrator) announceToolCall(req types.ChatRequest, writer *sse.Writer, fullMode bool, call types.ToolCall, args map[string]any, approvalID string) {
	ev := types.ToolCallEvent{CallID: call.CallID, Name: call.Name, Args: args}
	if approvalID != "" {
		ev.Approval = &types.ApprovalState{ApprovalID: approvalID}
	}
	if fullMode {
		_ = writer.WriteEvent("tool_call", ev)
	}
	o.Bus.PublishSync(event.Event{Type: event.ToolCallStarted, Data: event.ToolCallData{SessionID: req.SessionID, CallID: call.CallID, Name: call.Name, Args: args, ApprovalID: approvalID}})
}

func (o *Orchestrator) awaitApproval(ctx context.Context, sessionID, toolName, reason string, args map[string]any) types.Decision {
	id := o.Approvals.Enqueue(sessionID, reason, toolName, args, o.now())
	o.Bus.PublishSync(event.Event{Type: event.ApprovalRequired, Data: event.ApprovalRequiredData{ApprovalID: id, SessionID: sessionID, Reason: reason, Tool: toolName, Args: args}})
	decision := o.Approvals.Wait(ctx, id)
	o.Bus.PublishSync(event.Event{Type: event.ApprovalResolved, Data: event.ApprovalResolvedData{ApprovalID: id, SessionID: sessionID, Decision: decision}})
	return decision
}

func (o *Orchestrator) execute(ctx context.Context, t tool.Tool, tc *tool.Context, call types.ToolCall) *tool.Result {
	res, err := t.Execute(ctx, tc, call.ArgsRaw)
	if err != nil {
		kind := errorKind(err)
		return &tool.Result{OK: false, ErrorCode: string(kind), ErrorMsg: err.Error()}
	}
	return res
}

func (o *Orchestrator) reportToolResult(req types.ChatRequest, writer *sse.Writer, fullMode bool, call types.ToolCall, res *tool.Result, prov provider.Provider) {
	ev := types.ToolResultEvent{CallID: call.CallID, Name: call.Name, OK: res.OK}
	if res.OK {
		result := map[string]any{"output": res.Output}
		for k, v := range res.Structured {
			result[k] = v
		}
		ev.Result = result
	} else {
		ev.Error = &types.ToolError{Code: res.ErrorCode, Message: res.ErrorMsg}
	}
	if fullMode {
		_ = writer.WriteEvent("tool_result", ev)
	}
	o.Bus.PublishSync(event.Event{Type: event.ToolCallResolved, Data: event.ToolResultData{SessionID: req.SessionID, CallID: call.CallID, Name: call.Name, OK: res.OK, Result: ev.Result}})

	rec := prov.BuildToolResultMessage(call.CallID, toolResultText(res), !res.OK, o.now())
	if !res.OK {
		// BuildToolResultMessage only knows the generic isError bit; replace
		// its placeholder error with the tool's actual code and message.
		rec.Error = &types.MessageError{Type: res.ErrorCode, Message: res.ErrorMsg}
	}
	if err := o.Store.AppendTranscript(req.SessionID, rec); err != nil {
		log.Error().Err(err).Str("sessionId", req.SessionID).Msg("failed to persist tool result")
	}
}

func toolResultText(res *tool.Result) string {
	if res.OK {
		return res.Output
	}
	return res.ErrorMsg
}

func decodeArgsMap(argsRaw string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(argsRaw), &m); err != nil {
		return nil
	}
	return m
}

// failMidTurn implements the "provider network failure" branch of the
// failure semantics: an assistant error record plus a visible error event,
// without aborting the session. A disconnect (ctx canceled or deadline
// exceeded) is not a provider failure: the client is already gone, so
// nothing is written to the closed stream and closeTurn runs in
// disconnected mode, matching the ctx.Err() checks elsewhere in the loop.
func (o *Orchestrator) failMidTurn(writer *sse.Writer, req types.ChatRequest, usage types.TokenUsage, cause error) {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		o.closeTurn(writer, req, usage, true)
		return
	}

	kind := errorKind(cause)
	log.Error().Err(cause).Str("sessionId", req.SessionID).Str("kind", string(kind)).Msg("turn failed mid-stream")

	_ = writer.WriteEvent("error", types.ErrorEvent{Code: string(kind), Message: cause.Error()})

	_ = o.Store.AppendTranscript(req.SessionID, &types.MessageRecord{
		Role:      "assistant",
		Timestamp: o.now(),
		Error:     &types.MessageError{Type: string(kind), Message: cause.Error()},
	})
	o.closeTurn(writer, req, usage, false)
}

// closeTurn implements step 8: append the turn marker, update meta, emit
// done (unless the client already disconnected).
func (o *Orchestrator) closeTurn(writer *sse.Writer, req types.ChatRequest, usage types.TokenUsage, disconnected bool) {
	now := o.now()

	var overrides *types.Overrides
	if req.Temperature != nil || req.TopP != nil || req.TopK != nil || req.MaxOutputTokens != nil {
		overrides = &types.Overrides{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			TopK:            req.TopK,
			MaxOutputTokens: req.MaxOutputTokens,
		}
	}

	turnUsage := usage
	_ = o.Store.AppendTurn(req.SessionID, &types.TurnRecord{
		TurnID:      o.newID(),
		Model:       req.Model,
		TokenBudget: req.ContextTokenLimit,
		UsedTokens:  turnUsage.Input + turnUsage.Output,
		Overrides:   overrides,
		Timestamp:   now,
		Usage:       &turnUsage,
	})

	_ = o.Store.UpdateMeta(req.SessionID, func(m *types.Meta) {
		m.UpdatedAt = now
		m.LastModel = req.Model
		if req.Origin != nil && m.Origin.CompatibleWith(req.Origin) {
			m.Origin = mergeOrigin(m.Origin, req.Origin)
		}
	})

	o.Approvals.CancelSession(req.SessionID)

	if disconnected {
		return
	}
	_ = writer.WriteEvent("done", types.DoneEvent{})
}
