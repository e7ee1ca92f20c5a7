// Package orchestrator implements the ECLIA Turn Orchestrator (spec §4.7):
// the handleChat entry point that hydrates a session, drives the
// provider/tool loop to completion, and streams the result back over SSE.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/eclia/gateway/internal/apperror"
	"github.com/eclia/gateway/internal/approval"
	"github.com/eclia/gateway/internal/event"
	"github.com/eclia/gateway/internal/provider"
	"github.com/eclia/gateway/internal/routeconfig"
	"github.com/eclia/gateway/internal/sessionlock"
	"github.com/eclia/gateway/internal/sse"
	"github.com/eclia/gateway/internal/store"
	"github.com/eclia/gateway/internal/tool"
	"github.com/eclia/gateway/pkg/types"
)

// MaxSteps is the hard backstop on tool-loop iterations within one turn.
const MaxSteps = 50

// DefaultContextTokenLimit is used when a chat request omits contextTokenLimit.
const DefaultContextTokenLimit = 100_000

// SystemPart is one priority-ordered fragment of a turn's system
// instruction. Parts are joined lowest priority first, separated by a
// blank line.
type SystemPart struct {
	Priority int
	Render   func(sessionID string) string
}

// Orchestrator wires the Session Store, Session Lock, Approval Hub, Upstream
// Providers, and Tool Subsystem together behind the single handleChat entry
// point.
type Orchestrator struct {
	Root  string
	Store *store.Store
	Locks *sessionlock.Table

	Routes    *routeconfig.Store
	Providers *provider.Registry
	Tools     *tool.Registry
	Approvals *approval.Hub
	Bus       *event.Bus

	SystemParts []SystemPart

	now   func() int64
	newID func() string
}

// New constructs an Orchestrator bound to root's on-disk layout.
func New(root string, st *store.Store, locks *sessionlock.Table, routes *routeconfig.Store, providers *provider.Registry, tools *tool.Registry, approvals *approval.Hub, bus *event.Bus) *Orchestrator {
	return &Orchestrator{
		Root:      root,
		Store:     st,
		Locks:     locks,
		Routes:    routes,
		Providers: providers,
		Tools:     tools,
		Approvals: approvals,
		Bus:       bus,
		now:       func() int64 { return time.Now().UnixMilli() },
		newID:     func() string { return strings.ToLower(ulid.Make().String()) },
	}
}

// HandleChat validates req, hydrates sessionID, and streams the turn to w.
// It returns a non-nil error for a malformed request or a response writer
// that cannot stream, before any byte is written. It also returns ctx's
// error when ctx ends while the turn waits for the session lock; by then
// the SSE headers and a 200 are already written. Failures that occur once
// the turn runs are reported as SSE events and the method returns nil.
func (o *Orchestrator) HandleChat(ctx context.Context, req types.ChatRequest, w http.ResponseWriter) error {
	if err := validateRequest(req); err != nil {
		return err
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		return err
	}

	stopHeartbeat := o.startHeartbeat(writer)
	defer stopHeartbeat()

	return o.Locks.WithLock(ctx, req.SessionID, func() error {
		o.runTurn(ctx, req, writer)
		return nil
	})
}

func validateRequest(req types.ChatRequest) error {
	if strings.TrimSpace(req.UserText) == "" {
		return apperror.New(apperror.KindInvalidRequest, "userText is required")
	}
	if !types.IsValidSessionID(req.SessionID) {
		return apperror.New(apperror.KindInvalidRequest, "invalid session id %q", req.SessionID)
	}
	if req.Model == "" {
		return apperror.New(apperror.KindInvalidRequest, "model (route key) is required")
	}
	if req.ToolAccessMode != types.ToolAccessFull && req.ToolAccessMode != types.ToolAccessSafe {
		return apperror.New(apperror.KindInvalidRequest, "toolAccessMode must be %q or %q", types.ToolAccessFull, types.ToolAccessSafe)
	}
	if req.StreamMode != types.StreamModeFull && req.StreamMode != types.StreamModeFinal {
		return apperror.New(apperror.KindInvalidRequest, "streamMode must be %q or %q", types.StreamModeFull, types.StreamModeFinal)
	}
	return nil
}

func (o *Orchestrator) startHeartbeat(writer *sse.Writer) func() {
	ticker := time.NewTicker(sse.HeartbeatInterval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				writer.Heartbeat()
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

// runTurn runs steps 1-8 of the spec'd flow. Any error from here on is
// terminal for the turn but not for the session: it is reported via SSE and
// runTurn returns, leaving the stored transcript consistent for the next
// request.
func (o *Orchestrator) runTurn(ctx context.Context, req types.ChatRequest, writer *sse.Writer) {
	now := o.now()

	_, records, err := o.hydrate(req, now)
	if err != nil {
		o.failBeforeBackend(writer, req, now, err)
		return
	}

	userRec := &types.MessageRecord{Role: "user", Content: req.UserText, Timestamp: now}
	if err := o.Store.AppendTranscript(req.SessionID, userRec); err != nil {
		o.failBeforeBackend(writer, req, now, err)
		return
	}
	records = append(records, userRec)

	sel, err := o.Routes.Resolve(req.Model)
	if err != nil {
		o.failBeforeBackend(writer, req, now, err)
		return
	}
	prov, err := o.Providers.Build(sel)
	if err != nil {
		o.failBeforeBackend(writer, req, now, err)
		return
	}

	systemText := o.renderSystemInstruction(req.SessionID)
	history := records
	if systemText != "" {
		history = append([]types.Record{&types.MessageRecord{Role: "system", Content: systemText, Timestamp: now}}, records...)
	}

	tokenLimit := req.ContextTokenLimit
	if tokenLimit <= 0 {
		tokenLimit = DefaultContextTokenLimit
	}
	ctxResult := prov.BuildContext(history, tokenLimit)

	if err := writer.WriteEvent("meta", types.MetaEvent{SessionID: req.SessionID, Model: req.Model, UsedTokens: ctxResult.UsedTokens}); err != nil {
		return
	}

	o.toolLoop(ctx, req, writer, prov, ctxResult.Messages)
}

// hydrate loads the session's transcript, derives a title for a first-ever
// turn, and merges a same-kind origin patch into meta.
func (o *Orchestrator) hydrate(req types.ChatRequest, now int64) (*types.Meta, []types.Record, error) {
	seed := &types.Meta{}
	if req.Origin != nil {
		seed.Origin = req.Origin
	}
	if _, err := o.Store.EnsureSession(req.SessionID, now, seed); err != nil {
		return nil, nil, err
	}

	meta, records, err := o.Store.ReadTranscript(req.SessionID)
	if err != nil {
		return nil, nil, err
	}

	needsMetaUpdate := false
	if meta.Title == "" && len(records) == 0 {
		meta.Title = deriveTitle(req.Origin, req.UserText)
		needsMetaUpdate = true
	}
	if req.Origin != nil && meta.Origin.CompatibleWith(req.Origin) {
		merged := mergeOrigin(meta.Origin, req.Origin)
		meta.Origin = merged
		needsMetaUpdate = true
	}
	if needsMetaUpdate {
		title, origin := meta.Title, meta.Origin
		if err := o.Store.UpdateMeta(req.SessionID, func(m *types.Meta) {
			m.Title = title
			m.Origin = origin
		}); err != nil {
			return nil, nil, err
		}
	}

	return meta, records, nil
}

func deriveTitle(origin *types.Origin, userText string) string {
	text := strings.TrimSpace(userText)
	if len(text) > 60 {
		text = text[:60]
	}
	if text != "" {
		return text
	}
	if origin != nil {
		return fmt.Sprintf("%s session", origin.Kind)
	}
	return "untitled session"
}

// mergeOrigin refines existing with patch's non-empty fields. A nil existing
// is replaced outright; CompatibleWith already guarantees same-kind when
// both are non-nil.
func mergeOrigin(existing, patch *types.Origin) *types.Origin {
	if existing == nil {
		v := *patch
		return &v
	}
	merged := *existing
	if patch.Guild != "" {
		merged.Guild = patch.Guild
	}
	if patch.Channel != "" {
		merged.Channel = patch.Channel
	}
	if patch.Thread != "" {
		merged.Thread = patch.Thread
	}
	if patch.ChatID != "" {
		merged.ChatID = patch.ChatID
	}
	if patch.UserID != "" {
		merged.UserID = patch.UserID
	}
	return &merged
}

func (o *Orchestrator) renderSystemInstruction(sessionID string) string {
	if len(o.SystemParts) == 0 {
		return ""
	}
	parts := make([]SystemPart, len(o.SystemParts))
	copy(parts, o.SystemParts)
	sort.Slice(parts, func(i, j int) bool { return parts[i].Priority < parts[j].Priority })

	var out []string
	for _, p := range parts {
		if text := strings.TrimSpace(p.Render(sessionID)); text != "" {
			out = append(out, text)
		}
	}
	return strings.Join(out, "\n\n")
}

// failBeforeBackend implements step 3's failure branch: emit meta + error +
// done, persist an assistant error record and a turn marker.
func (o *Orchestrator) failBeforeBackend(writer *sse.Writer, req types.ChatRequest, now int64, cause error) {
	kind := errorKind(cause)
	log.Error().Err(cause).Str("sessionId", req.SessionID).Str("kind", string(kind)).Msg("turn failed before backend resolution")

	_ = writer.WriteEvent("meta", types.MetaEvent{SessionID: req.SessionID, Model: req.Model, UsedTokens: 0})
	_ = writer.WriteEvent("error", types.ErrorEvent{Code: string(kind), Message: cause.Error()})
	_ = writer.WriteEvent("done", types.DoneEvent{})

	_ = o.Store.AppendTranscript(req.SessionID, &types.MessageRecord{
		Role:      "assistant",
		Timestamp: now,
		Error:     &types.MessageError{Type: string(kind), Message: cause.Error()},
	})
	_ = o.Store.AppendTurn(req.SessionID, &types.TurnRecord{
		TurnID:    o.newID(),
		Model:     req.Model,
		Timestamp: now,
	})
}

// errorKind classifies err uniformly across *apperror.Error,
// *apperror.UpstreamHTTPError, and *apperror.UpstreamNetworkError without
// the caller needing to know which one a failing call returned.
func errorKind(err error) apperror.Kind {
	return apperror.KindOf(err)
}

// toolInvocationLine matches the fallback parser's well-known invocation
// format: a line of the shape `>>> tool:<name> <json args>`, used only when
// a provider reports finish_reason=tool_calls without emitting any
// structured calls.
var toolInvocationLine = regexp.MustCompile(`(?m)^>>> tool:(\S+)\s+(\{.*\})\s*$`)

func (o *Orchestrator) fallbackParseToolCalls(sessionID, text string) []types.ToolCall {
	matches := toolInvocationLine.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	calls := make([]types.ToolCall, 0, len(matches))
	for i, m := range matches {
		idx := i
		calls = append(calls, types.ToolCall{
			CallID:  o.newID(),
			Name:    m[1],
			ArgsRaw: m[2],
			Index:   &idx,
		})
	}
	o.writeDebugWarning(sessionID, fmt.Sprintf("fallback-parsed %d tool call(s) from assistant plaintext", len(calls)))
	return calls
}

func (o *Orchestrator) writeDebugWarning(sessionID, message string) {
	dir := filepath.Join(o.Root, ".eclia", "debug", sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Error().Err(err).Msg("failed to create debug dir")
		return
	}
	line, err := json.Marshal(map[string]any{"ts": o.now(), "message": message})
	if err != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(dir, "warnings.ndjson"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Error().Err(err).Msg("failed to open warnings.ndjson")
		return
	}
	defer f.Close()
	_, _ = f.Write(append(line, '\n'))
}

func sortedToolCalls(calls map[string]types.ToolCall) []types.ToolCall {
	out := make([]types.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Index, out[j].Index
		switch {
		case a != nil && b != nil:
			return *a < *b
		case a != nil:
			return true
		case b != nil:
			return false
		default:
			return out[i].CallID < out[j].CallID
		}
	})
	return out
}

// terminalFinishReasons are finish_reason values that end a turn outright
// when no tool calls accompany them.
var terminalFinishReasons = map[string]bool{
	"stop":           true,
	"end_turn":       true,
	"length":         true,
	"content_filter": true,
	"max_tokens":     true,
}
