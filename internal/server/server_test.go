package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eclia/gateway/internal/approval"
	"github.com/eclia/gateway/internal/event"
	"github.com/eclia/gateway/internal/orchestrator"
	"github.com/eclia/gateway/internal/provider"
	"github.com/eclia/gateway/internal/routeconfig"
	"github.com/eclia/gateway/internal/sessionlock"
	"github.com/eclia/gateway/internal/store"
	"github.com/eclia/gateway/internal/tool"
	"github.com/eclia/gateway/pkg/types"
)

// stubProvider answers every StreamTurn call with a fixed "stop" response,
// enough for exercising the HTTP layer without the tool loop itself.
type stubProvider struct {
	kind types.ProviderKind
}

func (p *stubProvider) Origin() types.ProviderKind { return p.kind }

func (p *stubProvider) BuildContext(history []types.Record, tokenBudget int) provider.ContextResult {
	return provider.ContextResult{}
}

func (p *stubProvider) StreamTurn(ctx context.Context, req provider.StreamRequest) (provider.StreamResult, error) {
	if req.OnDelta != nil {
		req.OnDelta("ok")
	}
	return provider.StreamResult{AssistantText: "ok", FinishReason: "stop"}, nil
}

func (p *stubProvider) BuildAssistantToolCallMessage(text string, calls []types.ToolCall, ts int64) *types.MessageRecord {
	return &types.MessageRecord{Role: "assistant", Content: text, Timestamp: ts, ToolCalls: calls}
}

func (p *stubProvider) BuildToolResultMessage(callID string, resultText string, isError bool, ts int64) *types.MessageRecord {
	return &types.MessageRecord{Role: "tool", Content: resultText, Timestamp: ts, ToolCallID: callID}
}

// newTestServer wires a Server over a temp-dir store with a single
// openai-compat route bound to a stub provider.
func newTestServer(t *testing.T, gatewayToken string) *Server {
	t.Helper()
	root := t.TempDir()

	st := store.New(root)
	locks := sessionlock.NewTable()

	profilesPath := root + "/profiles.toml"
	require.NoError(t, os.WriteFile(profilesPath, []byte(`
[[profile]]
scheme = "openai-compat"
id = "default"
apiKey = "sk-test"
defaultModel = "gpt-test"
`), 0o644))
	routes, err := routeconfig.Load(profilesPath, types.ProviderOpenAICompat)
	require.NoError(t, err)

	providers := provider.NewRegistry()
	providers.Register(types.ProviderOpenAICompat, func(sel types.UpstreamSelection) (provider.Provider, error) {
		return &stubProvider{kind: types.ProviderOpenAICompat}, nil
	})

	tools := tool.NewRegistry()
	approvals := approval.New(func() string { return "appr-1" }, nil)
	bus := event.NewBus()

	orch := orchestrator.New(root, st, locks, routes, providers, tools, approvals, bus)

	cfg := DefaultConfig()
	cfg.Root = root
	cfg.GatewayToken = gatewayToken
	cfg.DeleteLockWait = 50 * time.Millisecond

	return New(cfg, st, locks, approvals, orch)
}

func doRequest(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestCreateAndListSessions(t *testing.T) {
	s := newTestServer(t, "")

	rec := doRequest(s, http.MethodPost, "/api/sessions", createSessionRequest{ID: "s1", Title: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"id":"s1"`)
}

func TestCreateSessionInvalidID(t *testing.T) {
	s := newTestServer(t, "")

	rec := doRequest(s, http.MethodPost, "/api/sessions", createSessionRequest{ID: "has a space"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"code":"invalid_request"`)
}

func TestResetSession(t *testing.T) {
	s := newTestServer(t, "")
	doRequest(s, http.MethodPost, "/api/sessions", createSessionRequest{ID: "s1"})

	rec := doRequest(s, http.MethodPost, "/api/sessions/s1/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteSessionNotFound(t *testing.T) {
	s := newTestServer(t, "")

	rec := doRequest(s, http.MethodDelete, "/api/sessions/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteSessionInUseWhenLockHeld(t *testing.T) {
	s := newTestServer(t, "")
	doRequest(s, http.MethodPost, "/api/sessions", createSessionRequest{ID: "s1"})

	held := make(chan struct{})
	release, err := s.locks.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	close(held)
	defer release()

	rec := doRequest(s, http.MethodDelete, "/api/sessions/s1", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), `"code":"session_in_use"`)
}

func TestChatHappyPath(t *testing.T) {
	s := newTestServer(t, "")
	doRequest(s, http.MethodPost, "/api/sessions", createSessionRequest{ID: "s1"})

	req := types.ChatRequest{
		SessionID:      "s1",
		Model:          "openai-compat:default",
		UserText:       "hi",
		ToolAccessMode: types.ToolAccessFull,
		StreamMode:     types.StreamModeFull,
	}
	rec := doRequest(s, http.MethodPost, "/api/chat", req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "event: done")
}

func TestChatRejectsInvalidRequestBeforeStreaming(t *testing.T) {
	s := newTestServer(t, "")

	rec := doRequest(s, http.MethodPost, "/api/chat", types.ChatRequest{SessionID: "s1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecideApprovalUnknownID(t *testing.T) {
	s := newTestServer(t, "")

	rec := doRequest(s, http.MethodPost, "/api/approvals/nope", map[string]string{"decision": "approve"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDecideApprovalBadDecision(t *testing.T) {
	s := newTestServer(t, "")

	rec := doRequest(s, http.MethodPost, "/api/approvals/nope", map[string]string{"decision": "maybe"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBearerAuthRejectsMissingToken(t *testing.T) {
	s := newTestServer(t, "secret")

	rec := doRequest(s, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerAuthAcceptsValidToken(t *testing.T) {
	s := newTestServer(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBearerAuthNoopWhenUnconfigured(t *testing.T) {
	s := newTestServer(t, "")

	rec := doRequest(s, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
