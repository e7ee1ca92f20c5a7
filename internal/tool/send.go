package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eclia/gateway/internal/apperror"
	"github.com/eclia/gateway/internal/artifact"
	"github.com/eclia/gateway/pkg/types"
)

// AdapterTarget is the loopback endpoint for one chat-adapter destination.
type AdapterTarget struct {
	Port int
	Key  string
}

// SendTool is the native "send" tool: delivers text + attachments to a
// destination, either back into the same SSE channel or out to a
// chat-adapter's loopback HTTP endpoint.
type SendTool struct {
	Adapters map[string]AdapterTarget // keyed by destination kind: "discord", "telegram"
	HTTP     *http.Client
}

type sendArgs struct {
	Destination string   `json:"destination,omitempty"` // "origin" | "web" | "discord" | "telegram"
	Content     string   `json:"content"`
	Refs        []string `json:"refs,omitempty"`
	Paths       []string `json:"paths,omitempty"`
}

func (t *SendTool) Name() string        { return "send" }
func (t *SendTool) Description() string { return "Delivers a message with optional attachments to a destination." }
func (t *SendTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"destination": map[string]any{"type": "string", "enum": []string{"origin", "web", "discord", "telegram"}},
			"content":     map[string]any{"type": "string"},
			"refs":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"paths":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"content"},
	}
}

// NeedsApproval reports whether this send call requires approval under
// "safe" mode: true when the resolved destination is not the request's own
// channel, or when local file paths are attached.
func (t *SendTool) NeedsApproval(args sendArgs, origin *types.Origin) bool {
	kind := resolveDestinationKind(args.Destination, origin)
	ownChannel := kind == "web" || args.Destination == "" || args.Destination == "origin"
	return !ownChannel || len(args.Paths) > 0
}

func resolveDestinationKind(destination string, origin *types.Origin) string {
	switch destination {
	case "", "origin":
		if origin == nil {
			return "web"
		}
		return origin.Kind
	default:
		return destination
	}
}

func (t *SendTool) Execute(ctx context.Context, tc *Context, argsRaw string) (*Result, error) {
	var args sendArgs
	if err := json.Unmarshal([]byte(argsRaw), &args); err != nil {
		return nil, apperror.Wrap(apperror.KindBadArgumentsJSON, err, "send: bad arguments")
	}

	artifacts, errRes := t.collectAttachments(tc, args)
	if errRes != nil {
		return errRes, nil
	}

	kind := resolveDestinationKind(args.Destination, tc.Origin)
	switch kind {
	case "web", "":
		return &Result{OK: true, Output: args.Content, Structured: map[string]any{"refs": refStrings(artifacts)}}, nil
	case "discord", "telegram":
		return t.postToAdapter(ctx, kind, tc, args, artifacts)
	default:
		return &Result{OK: false, ErrorCode: string(apperror.KindInvalidDestination), ErrorMsg: fmt.Sprintf("unknown destination %q", kind)}, nil
	}
}

// collectAttachments resolves refs[] against the artifact tree and copies
// paths[] into the session's artifact directory, returning the combined
// list of resolved artifacts. A non-nil *Result return means resolution
// failed and the caller should return it directly as the tool outcome.
func (t *SendTool) collectAttachments(tc *Context, args sendArgs) ([]types.Artifact, *Result) {
	var out []types.Artifact

	for _, ref := range args.Refs {
		rel, err := types.ParseArtifactRef(ref)
		if err != nil {
			code := apperror.KindBadArtifactRef
			if strings.HasPrefix(err.Error(), "forbidden_artifact_ref") {
				code = apperror.KindForbiddenArtifact
			}
			return nil, &Result{OK: false, ErrorCode: string(code), ErrorMsg: err.Error()}
		}
		full := filepath.Join(tc.Root, rel)
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			return nil, &Result{OK: false, ErrorCode: string(apperror.KindFileNotFound), ErrorMsg: fmt.Sprintf("artifact not found: %s", ref)}
		}
		out = append(out, types.Artifact{
			Path: rel,
			URI:  types.ArtifactURI(rel),
			Ref:  types.ArtifactRef(rel),
		})
	}

	for _, path := range args.Paths {
		if !filepath.IsAbs(path) {
			return nil, &Result{OK: false, ErrorCode: string(apperror.KindFileNotFound), ErrorMsg: fmt.Sprintf("paths must be absolute: %s", path)}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &Result{OK: false, ErrorCode: string(apperror.KindFileNotFound), ErrorMsg: fmt.Sprintf("cannot read %s: %v", path, err)}
		}
		art, err := artifact.Write(tc.Root, tc.SessionID, tc.CallID, filepath.Base(path), data)
		if err != nil {
			return nil, &Result{OK: false, ErrorCode: string(apperror.KindInternal), ErrorMsg: err.Error()}
		}
		out = append(out, art)
	}

	return out, nil
}

func refStrings(artifacts []types.Artifact) []string {
	refs := make([]string, len(artifacts))
	for i, a := range artifacts {
		refs[i] = a.Ref
	}
	return refs
}

type adapterSendBody struct {
	Origin  *types.Origin `json:"origin,omitempty"`
	Content string        `json:"content"`
	Refs    []string      `json:"refs"`
}

type adapterSendResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (t *SendTool) postToAdapter(ctx context.Context, kind string, tc *Context, args sendArgs, artifacts []types.Artifact) (*Result, error) {
	target, ok := t.Adapters[kind]
	if !ok {
		return &Result{OK: false, ErrorCode: string(apperror.KindAdapterDisabled), ErrorMsg: fmt.Sprintf("adapter %q is not configured", kind)}, nil
	}

	body, err := json.Marshal(adapterSendBody{Origin: tc.Origin, Content: args.Content, Refs: refStrings(artifacts)})
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err, "send: encode adapter request")
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/send", target.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err, "send: build adapter request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-eclia-adapter-key", target.Key)

	client := t.HTTP
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return &Result{OK: false, ErrorCode: string(apperror.KindAdapterDisabled), ErrorMsg: err.Error()}, nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var parsed adapterSendResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || !parsed.OK {
		msg := parsed.Error
		if msg == "" {
			msg = string(raw)
		}
		return &Result{OK: false, ErrorCode: string(apperror.KindAdapterDisabled), ErrorMsg: msg}, nil
	}

	return &Result{OK: true, Output: "delivered", Structured: map[string]any{"destination": kind, "refs": refStrings(artifacts)}}, nil
}
