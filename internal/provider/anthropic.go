package provider

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/eclia/gateway/internal/apperror"
	"github.com/eclia/gateway/pkg/types"
)

// anthropicProvider implements Provider against the Anthropic Messages API
// (spec §4.5's Anthropic Messages variant).
type anthropicProvider struct {
	client  sdk.Client
	modelID string
}

// NewAnthropicProvider constructs the Anthropic backend for sel.
func NewAnthropicProvider(sel types.UpstreamSelection) (Provider, error) {
	opts := []option.RequestOption{option.WithAPIKey(sel.APIKey)}
	if sel.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(sel.BaseURL))
	}
	return &anthropicProvider{
		client:  sdk.NewClient(opts...),
		modelID: sel.UpstreamModelID,
	}, nil
}

func (p *anthropicProvider) Origin() types.ProviderKind { return types.ProviderAnthropic }

func (p *anthropicProvider) BuildContext(history []types.Record, tokenBudget int) ContextResult {
	return buildContext(history, tokenBudget)
}

// encodeAnthropicMessages converts the truncated context into Anthropic's
// {role, content[]} block shape. System messages are pulled out separately
// since Anthropic carries system as a top-level field, not a message.
func encodeAnthropicMessages(msgs []ProviderMessage) ([]sdk.MessageParam, []sdk.TextBlockParam) {
	var system []sdk.TextBlockParam
	var out []sdk.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case "system":
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case "user":
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case "assistant":
			var blocks []sdk.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(tc.CallID, rawJSONOrEmpty(tc.ArgsRaw), tc.Name))
			}
			out = append(out, sdk.NewAssistantMessage(blocks...))
		case "tool":
			out = append(out, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError)))
		}
	}
	return out, system
}

func rawJSONOrEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return map[string]any{}
	}
	return sdk.RawJSON(s)
}

func (p *anthropicProvider) encodeTools(tools []ToolSchema) []sdk.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        t.Name,
				Description: sdk.String(t.Description),
				InputSchema: sdk.ToolInputSchemaParam{Properties: t.InputSchema},
			},
		})
	}
	return out
}

func (p *anthropicProvider) StreamTurn(ctx context.Context, req StreamRequest) (StreamResult, error) {
	return streamTurnWithRetry(ctx, func() (StreamResult, error) {
		return p.streamOnce(ctx, req)
	})
}

func (p *anthropicProvider) streamOnce(ctx context.Context, req StreamRequest) (StreamResult, error) {
	messages, system := encodeAnthropicMessages(req.Messages)

	maxTokens := int64(4096)
	if mo := req.Overrides.MaxOutputTokens; mo != nil {
		maxTokens = int64(*mo)
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.modelID),
		MaxTokens: maxTokens,
		Messages:  messages,
		Tools:     p.encodeTools(req.Tools),
	}
	if len(system) > 0 {
		params.System = system
	}
	if t := req.Overrides.Temperature; t != nil {
		params.Temperature = sdk.Float(*t)
	}
	if tp := req.Overrides.TopP; tp != nil {
		params.TopP = sdk.Float(*tp)
	}
	if tk := req.Overrides.TopK; tk != nil {
		params.TopK = sdk.Int(int64(*tk))
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return StreamResult{}, classifyAnthropicError(err)
	}
	defer stream.Close()

	var text string
	toolCalls := make(map[string]types.ToolCall)
	toolFragments := make(map[string]*strings.Builder)
	toolIndexByBlock := make(map[int]string)
	finishReason := ""
	var usage types.TokenUsage

	for stream.Next() {
		event := stream.Current()
		if req.DebugSink != nil {
			req.DebugSink("anthropic.event", event)
		}
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				idx := int(ev.Index)
				toolIndexByBlock[idx] = toolUse.ID
				toolFragments[toolUse.ID] = &strings.Builder{}
				i := idx
				toolCalls[toolUse.ID] = types.ToolCall{CallID: toolUse.ID, Name: toolUse.Name, Index: &i}
			}
		case sdk.ContentBlockDeltaEvent:
			idx := int(ev.Index)
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				text += delta.Text
				if req.OnDelta != nil && delta.Text != "" {
					req.OnDelta(delta.Text)
				}
			case sdk.InputJSONDelta:
				if id, ok := toolIndexByBlock[idx]; ok {
					toolFragments[id].WriteString(delta.PartialJSON)
				}
			}
		case sdk.ContentBlockStopEvent:
			idx := int(ev.Index)
			if id, ok := toolIndexByBlock[idx]; ok {
				entry := toolCalls[id]
				entry.ArgsRaw = toolFragments[id].String()
				if strings.TrimSpace(entry.ArgsRaw) == "" {
					entry.ArgsRaw = "{}"
				}
				toolCalls[id] = entry
			}
		case sdk.MessageDeltaEvent:
			finishReason = string(ev.Delta.StopReason)
			usage = types.TokenUsage{
				Input:  int(ev.Usage.InputTokens),
				Output: int(ev.Usage.OutputTokens),
				Cache: types.CacheUsage{
					Read:  int(ev.Usage.CacheReadInputTokens),
					Write: int(ev.Usage.CacheCreationInputTokens),
				},
			}
		}
	}
	if err := stream.Err(); err != nil {
		return StreamResult{}, classifyAnthropicError(err)
	}

	return StreamResult{
		AssistantText: text,
		ToolCalls:     toolCalls,
		FinishReason:  finishReason,
		Usage:         usage,
	}, nil
}

func classifyAnthropicError(err error) error {
	var apiErr *sdk.Error
	if ok := asAnthropicAPIError(err, &apiErr); ok {
		return apperror.NewUpstreamHTTPError(apiErr.StatusCode, apiErr.Error())
	}
	return apperror.Wrap(apperror.KindUpstreamNetwork, err, "anthropic stream")
}

func asAnthropicAPIError(err error, target **sdk.Error) bool {
	for err != nil {
		if e, ok := err.(*sdk.Error); ok {
			*target = e
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func (p *anthropicProvider) BuildAssistantToolCallMessage(text string, calls []types.ToolCall, ts int64) *types.MessageRecord {
	return &types.MessageRecord{Role: "assistant", Content: text, ToolCalls: calls, Timestamp: ts}
}

func (p *anthropicProvider) BuildToolResultMessage(callID string, resultText string, isError bool, ts int64) *types.MessageRecord {
	rec := &types.MessageRecord{Role: "tool", Content: resultText, ToolCallID: callID, Timestamp: ts}
	if isError {
		rec.Error = &types.MessageError{Type: "tool_error", Message: resultText}
	}
	return rec
}
