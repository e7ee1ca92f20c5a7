package event

import "github.com/eclia/gateway/pkg/types"

// SessionCreatedData is the payload for session.created events.
type SessionCreatedData struct {
	Session *types.Meta `json:"session"`
}

// SessionUpdatedData is the payload for session.updated events.
type SessionUpdatedData struct {
	Session *types.Meta `json:"session"`
}

// SessionDeletedData is the payload for session.deleted events.
type SessionDeletedData struct {
	SessionID string `json:"sessionId"`
}

// TurnDeltaData carries one incremental assistant text chunk for a turn,
// mirroring the SSE delta{text} event this feeds.
type TurnDeltaData struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

// TurnAssistantEndData marks the close of a turn's streamed assistant text.
type TurnAssistantEndData struct {
	SessionID string `json:"sessionId"`
}

// ToolCallData is the payload for tool.call events, mirroring the SSE
// tool_call{callId,name,args,approval?} event.
type ToolCallData struct {
	SessionID  string         `json:"sessionId"`
	CallID     string         `json:"callId"`
	Name       string         `json:"name"`
	Args       map[string]any `json:"args"`
	ApprovalID string         `json:"approvalId,omitempty"`
}

// ToolResultData is the payload for tool.result events, mirroring the SSE
// tool_result{callId,name,ok,result} event.
type ToolResultData struct {
	SessionID string         `json:"sessionId"`
	CallID    string         `json:"callId"`
	Name      string         `json:"name"`
	OK        bool           `json:"ok"`
	Result    map[string]any `json:"result,omitempty"`
}

// ApprovalRequiredData is the payload for approval.required events.
type ApprovalRequiredData struct {
	ApprovalID string         `json:"approvalId"`
	SessionID  string         `json:"sessionId"`
	Reason     string         `json:"reason"`
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args"`
}

// ApprovalResolvedData is the payload for approval.resolved events.
type ApprovalResolvedData struct {
	ApprovalID string         `json:"approvalId"`
	SessionID  string         `json:"sessionId"`
	Decision   types.Decision `json:"decision"`
}
