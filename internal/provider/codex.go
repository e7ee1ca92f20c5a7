package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclia/gateway/internal/apperror"
	"github.com/eclia/gateway/pkg/types"
)

// LoginTimeout bounds how long the Codex app-server child is kept alive
// waiting for a login to complete before it is reaped.
const LoginTimeout = 10 * time.Minute

// codexProvider implements Provider by speaking JSON-RPC 2.0 over a local
// "Codex app-server" child process (spec §4.5's Codex OAuth variant).
type codexProvider struct {
	command []string
	modelID string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   *json.Encoder
	pending map[int64]chan rpcResponse
	nextID  atomic.Int64

	// onDelta is set for the duration of one in-flight streamOnce call and
	// fed every turn/delta notification readLoop sees meanwhile. A
	// codexProvider instance is built fresh per turn (see NewCodexProvider),
	// so at most one streamOnce call is ever in flight on it at a time.
	onDelta func(string)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
	Method string          `json:"method,omitempty"` // set when this line is a notification
	Params json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewCodexProvider constructs the Codex OAuth backend for sel. The app-server
// executable path is carried in sel.BaseURL by convention (the route
// resolver populates it from the profile's "baseURL" field).
func NewCodexProvider(sel types.UpstreamSelection) (Provider, error) {
	if sel.BaseURL == "" {
		return nil, apperror.New(apperror.KindInvalidRequest, "codex-oauth profile missing app-server command")
	}
	return &codexProvider{
		command: []string{sel.BaseURL},
		modelID: sel.UpstreamModelID,
		pending: make(map[int64]chan rpcResponse),
	}, nil
}

func (p *codexProvider) Origin() types.ProviderKind { return types.ProviderCodexOAuth }

func (p *codexProvider) BuildContext(history []types.Record, tokenBudget int) ContextResult {
	return buildContext(history, tokenBudget)
}

func (p *codexProvider) ensureStarted(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return nil
	}
	cmd := exec.Command(p.command[0], p.command[1:]...)
	cmd.Env = os.Environ()
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return apperror.Wrap(apperror.KindCodexLoginFailed, err, "codex app-server stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return apperror.Wrap(apperror.KindCodexLoginFailed, err, "codex app-server stdout")
	}
	if err := cmd.Start(); err != nil {
		return apperror.Wrap(apperror.KindCodexLoginFailed, err, "codex app-server start")
	}
	p.cmd = cmd
	p.stdin = json.NewEncoder(stdin)
	go p.readLoop(bufio.NewScanner(stdout))
	return nil
}

// readLoop demultiplexes newline-delimited JSON-RPC frames to their waiting
// caller by request id, or fails every pending call when the child exits.
func (p *codexProvider) readLoop(scanner *bufio.Scanner) {
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)
	for scanner.Scan() {
		var resp rpcResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		if resp.Method != "" {
			p.handleNotification(resp)
			continue
		}
		p.mu.Lock()
		ch, ok := p.pending[resp.ID]
		if ok {
			delete(p.pending, resp.ID)
		}
		p.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
	p.mu.Lock()
	for id, ch := range p.pending {
		ch <- rpcResponse{ID: id, Error: &rpcError{Message: "codex app-server exited"}}
	}
	p.pending = make(map[int64]chan rpcResponse)
	p.mu.Unlock()
}

// handleNotification routes one turn/delta notification to the in-flight
// streamOnce call's OnDelta callback. Any other notification method, or one
// arriving with no streamOnce call in flight, is dropped.
func (p *codexProvider) handleNotification(n rpcResponse) {
	if n.Method != "turn/delta" {
		return
	}
	var params struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(n.Params, &params); err != nil || params.Text == "" {
		return
	}
	p.mu.Lock()
	onDelta := p.onDelta
	p.mu.Unlock()
	if onDelta != nil {
		onDelta(params.Text)
	}
}

func (p *codexProvider) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := p.ensureStarted(ctx); err != nil {
		return nil, err
	}
	id := p.nextID.Add(1)
	ch := make(chan rpcResponse, 1)

	p.mu.Lock()
	p.pending[id] = ch
	enc := p.stdin
	p.mu.Unlock()

	if err := enc.Encode(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, apperror.Wrap(apperror.KindUpstreamNetwork, err, "codex app-server write")
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, apperror.New(apperror.KindUpstreamHTTP, "codex app-server: %s", resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LoginStart bootstraps the ChatGPT OAuth flow and returns the URL the user
// must visit plus a loginId to correlate the completion notification.
func (p *codexProvider) LoginStart(ctx context.Context) (authURL, loginID string, err error) {
	result, err := p.call(ctx, "account/login/start", map[string]any{"type": "chatgpt"})
	if err != nil {
		return "", "", err
	}
	var parsed struct {
		AuthURL string `json:"authUrl"`
		LoginID string `json:"loginId"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", "", apperror.Wrap(apperror.KindCodexLoginFailed, err, "parse login/start result")
	}
	return parsed.AuthURL, parsed.LoginID, nil
}

// AwaitLoginCompleted sends an account/login/await request for loginID and
// blocks until the app-server answers it or LoginTimeout elapses, then the
// child is reaped either way. It does not watch for the
// account/login/completed notification itself.
func (p *codexProvider) AwaitLoginCompleted(ctx context.Context, loginID string) error {
	ctx, cancel := context.WithTimeout(ctx, LoginTimeout)
	defer cancel()
	defer p.reap()

	_, err := p.call(ctx, "account/login/await", map[string]any{"loginId": loginID})
	if err != nil {
		return apperror.Wrap(apperror.KindCodexLoginFailed, err, "login %q did not complete", loginID)
	}
	return nil
}

func (p *codexProvider) reap() {
	p.mu.Lock()
	cmd := p.cmd
	p.cmd = nil
	p.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func (p *codexProvider) StreamTurn(ctx context.Context, req StreamRequest) (StreamResult, error) {
	return streamTurnWithRetry(ctx, func() (StreamResult, error) {
		return p.streamOnce(ctx, req)
	})
}

func (p *codexProvider) streamOnce(ctx context.Context, req StreamRequest) (StreamResult, error) {
	params := map[string]any{
		"model":    p.modelID,
		"messages": req.Messages,
		"tools":    req.Tools,
	}

	p.mu.Lock()
	p.onDelta = req.OnDelta
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.onDelta = nil
		p.mu.Unlock()
	}()

	result, err := p.call(ctx, "turn/stream", params)
	if err != nil {
		return StreamResult{}, apperror.Wrap(apperror.KindUpstreamNetwork, err, "codex turn/stream")
	}

	var parsed struct {
		Text         string          `json:"text"`
		FinishReason string          `json:"finishReason"`
		ToolCalls    []types.ToolCall `json:"toolCalls"`
		Usage        types.TokenUsage `json:"usage"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return StreamResult{}, apperror.Wrap(apperror.KindUpstreamHTTP, err, "parse codex turn/stream result")
	}
	// parsed.Text is the full accumulated assistant text for the transcript
	// and StreamResult; incremental fragments were already delivered to
	// req.OnDelta via turn/delta notifications as they arrived.

	toolCalls := make(map[string]types.ToolCall, len(parsed.ToolCalls))
	for _, tc := range parsed.ToolCalls {
		toolCalls[tc.CallID] = tc
	}

	return StreamResult{
		AssistantText: parsed.Text,
		ToolCalls:     toolCalls,
		FinishReason:  parsed.FinishReason,
		Usage:         parsed.Usage,
	}, nil
}

func (p *codexProvider) BuildAssistantToolCallMessage(text string, calls []types.ToolCall, ts int64) *types.MessageRecord {
	return &types.MessageRecord{Role: "assistant", Content: text, ToolCalls: calls, Timestamp: ts}
}

func (p *codexProvider) BuildToolResultMessage(callID string, resultText string, isError bool, ts int64) *types.MessageRecord {
	rec := &types.MessageRecord{Role: "tool", Content: resultText, ToolCallID: callID, Timestamp: ts}
	if isError {
		rec.Error = &types.MessageError{Type: "tool_error", Message: resultText}
	}
	return rec
}
