package types

import "encoding/json"

// Record is one line of a session's transcript.ndjson. Kind discriminates
// between the two variants; wire format always keeps Kind as a string for
// forward compatibility.
type Record interface {
	RecordKind() string
}

// MessageRecord is a message entry: system, user, assistant, or tool.
type MessageRecord struct {
	Kind       string     `json:"kind"` // always "message"
	Role       string     `json:"role"` // "system" | "user" | "assistant" | "tool"
	Content    string     `json:"content"`
	Timestamp  int64      `json:"ts"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`  // assistant only
	ToolCallID string     `json:"toolCallId,omitempty"` // tool only
	Error      *MessageError `json:"error,omitempty"`
}

func (m *MessageRecord) RecordKind() string { return "message" }

// TurnRecord closes a logical user turn.
type TurnRecord struct {
	Kind        string      `json:"kind"` // always "turn"
	TurnID      string      `json:"turnId"`
	Model       string      `json:"model"`
	TokenBudget int         `json:"tokenBudget"`
	UsedTokens  int         `json:"usedTokens"`
	GitCommit   string      `json:"gitCommit,omitempty"`
	Overrides   *Overrides  `json:"overrides,omitempty"`
	Timestamp   int64       `json:"ts"`
	Usage       *TokenUsage `json:"usage,omitempty"`
}

func (t *TurnRecord) RecordKind() string { return "turn" }

// Overrides captures the per-request sampling overrides applied to a turn.
type Overrides struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

// rawRecord is the envelope used only to sniff Kind before full unmarshal.
type rawRecord struct {
	Kind string `json:"kind"`
}

// UnmarshalRecord decodes one NDJSON line into its concrete Record variant.
func UnmarshalRecord(data []byte) (Record, error) {
	var raw rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	switch raw.Kind {
	case "turn":
		var r TurnRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		return &r, nil
	default:
		var r MessageRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		return &r, nil
	}
}
