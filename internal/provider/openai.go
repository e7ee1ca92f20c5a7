package provider

import (
	"context"
	"strconv"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/eclia/gateway/internal/apperror"
	"github.com/eclia/gateway/pkg/types"
)

// openAIProvider implements Provider against any OpenAI-compatible
// "/chat/completions" endpoint (spec §4.5's OpenAI-compatible variant).
type openAIProvider struct {
	client  openai.Client
	modelID string
}

// NewOpenAIProvider constructs the OpenAI-compatible backend for sel.
func NewOpenAIProvider(sel types.UpstreamSelection) (Provider, error) {
	opts := []option.RequestOption{option.WithAPIKey(sel.APIKey)}
	if sel.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(sel.BaseURL))
	}
	return &openAIProvider{
		client:  openai.NewClient(opts...),
		modelID: sel.UpstreamModelID,
	}, nil
}

func (p *openAIProvider) Origin() types.ProviderKind { return types.ProviderOpenAICompat }

func (p *openAIProvider) BuildContext(history []types.Record, tokenBudget int) ContextResult {
	return buildContext(history, tokenBudget)
}

func (p *openAIProvider) encodeMessages(msgs []ProviderMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "user":
			out = append(out, openai.UserMessage(m.Content))
		case "tool":
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			asst := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID:   tc.CallID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.ArgsRaw,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		}
	}
	return out
}

func (p *openAIProvider) encodeTools(tools []ToolSchema) []openai.ChatCompletionToolParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

func (p *openAIProvider) StreamTurn(ctx context.Context, req StreamRequest) (StreamResult, error) {
	return streamTurnWithRetry(ctx, func() (StreamResult, error) {
		return p.streamOnce(ctx, req)
	})
}

func (p *openAIProvider) streamOnce(ctx context.Context, req StreamRequest) (StreamResult, error) {
	params := openai.ChatCompletionNewParams{
		Model:    p.modelID,
		Messages: p.encodeMessages(req.Messages),
		Tools:    p.encodeTools(req.Tools),
	}
	if t := req.Overrides.Temperature; t != nil {
		params.Temperature = openai.Float(*t)
	}
	if tp := req.Overrides.TopP; tp != nil {
		params.TopP = openai.Float(*tp)
	}
	if mo := req.Overrides.MaxOutputTokens; mo != nil {
		params.MaxCompletionTokens = openai.Int(int64(*mo))
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var text string
	toolCalls := make(map[string]types.ToolCall)
	toolCallsByIndex := make(map[int]string) // index -> callID, for arg fragments arriving without a name repeat
	finishReason := ""
	var usage types.TokenUsage

	for stream.Next() {
		chunk := stream.Current()
		if req.DebugSink != nil {
			req.DebugSink("openai.chunk", chunk)
		}
		if chunk.Usage.TotalTokens > 0 {
			usage = types.TokenUsage{
				Input:  int(chunk.Usage.PromptTokens),
				Output: int(chunk.Usage.CompletionTokens),
			}
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				text += choice.Delta.Content
				if req.OnDelta != nil {
					req.OnDelta(choice.Delta.Content)
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := int(tc.Index)
				callID, seen := toolCallsByIndex[idx]
				if !seen {
					callID = tc.ID
					if callID == "" {
						callID = "call_" + strconv.Itoa(idx)
					}
					toolCallsByIndex[idx] = callID
					i := idx
					toolCalls[callID] = types.ToolCall{CallID: callID, Name: tc.Function.Name, Index: &i}
				}
				entry := toolCalls[callID]
				if tc.Function.Name != "" {
					entry.Name = tc.Function.Name
				}
				entry.ArgsRaw += tc.Function.Arguments
				toolCalls[callID] = entry
			}
			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return StreamResult{}, classifyOpenAIError(err)
	}

	return StreamResult{
		AssistantText: text,
		ToolCalls:     toolCalls,
		FinishReason:  finishReason,
		Usage:         usage,
	}, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if ok := asOpenAIAPIError(err, &apiErr); ok {
		return apperror.NewUpstreamHTTPError(apiErr.StatusCode, apiErr.Error())
	}
	return apperror.Wrap(apperror.KindUpstreamNetwork, err, "openai stream")
}

func asOpenAIAPIError(err error, target **openai.Error) bool {
	for err != nil {
		if e, ok := err.(*openai.Error); ok {
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

func (p *openAIProvider) BuildAssistantToolCallMessage(text string, calls []types.ToolCall, ts int64) *types.MessageRecord {
	return &types.MessageRecord{Role: "assistant", Content: text, ToolCalls: calls, Timestamp: ts}
}

func (p *openAIProvider) BuildToolResultMessage(callID string, resultText string, isError bool, ts int64) *types.MessageRecord {
	rec := &types.MessageRecord{Role: "tool", Content: resultText, ToolCallID: callID, Timestamp: ts}
	if isError {
		rec.Error = &types.MessageError{Type: "tool_error", Message: resultText}
	}
	return rec
}
