package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eclia/gateway/internal/apperror"
)

const webSearchTimeout = 20 * time.Second

// WebSearchHit is one structured result entry returned by the configured
// search provider.
type WebSearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebTool is the native "web" tool: proxies a query to a configured
// web-search provider and returns structured hits.
type WebTool struct {
	Endpoint string // provider search endpoint, e.g. "https://api.search.example/v1/search"
	APIKey   string
	HTTP     *http.Client
}

type webArgs struct {
	Query string `json:"query"`
	Mode  string `json:"mode,omitempty"` // "search" (default) | "extract"
}

func (t *WebTool) Name() string        { return "web" }
func (t *WebTool) Description() string { return "Searches the web and returns structured hits." }
func (t *WebTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
			"mode":  map[string]any{"type": "string", "enum": []string{"search", "extract"}},
		},
		"required": []string{"query"},
	}
}

// NeedsApproval reports whether this web call requires approval under
// "safe" mode: true for mutating modes such as "extract", false for a plain
// "search".
func (t *WebTool) NeedsApproval(args webArgs) bool {
	return args.Mode != "" && args.Mode != "search"
}

func (t *WebTool) Execute(ctx context.Context, tc *Context, argsRaw string) (*Result, error) {
	var args webArgs
	if err := json.Unmarshal([]byte(argsRaw), &args); err != nil {
		return nil, apperror.Wrap(apperror.KindBadArgumentsJSON, err, "web: bad arguments")
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, apperror.New(apperror.KindBadArgumentsJSON, "web: query is required")
	}
	if args.Mode == "" {
		args.Mode = "search"
	}

	if t.Endpoint == "" {
		return &Result{OK: false, ErrorCode: string(apperror.KindAdapterDisabled), ErrorMsg: "web search provider is not configured"}, nil
	}

	hits, err := t.search(ctx, args)
	if err != nil {
		if kindErr, ok := asKinded(err); ok {
			return &Result{OK: false, ErrorCode: string(kindErr.Kind()), ErrorMsg: kindErr.Error()}, nil
		}
		return &Result{OK: false, ErrorCode: string(apperror.KindUpstreamNetwork), ErrorMsg: err.Error()}, nil
	}

	structured := make(map[string]any, 1)
	rawHits := make([]map[string]any, len(hits))
	for i, h := range hits {
		rawHits[i] = map[string]any{"title": h.Title, "url": h.URL, "snippet": h.Snippet}
	}
	structured["hits"] = rawHits

	var sb strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&sb, "%d. %s - %s\n%s\n", i+1, h.Title, h.URL, h.Snippet)
	}

	return &Result{OK: true, Output: sb.String(), Structured: structured}, nil
}

func (t *WebTool) search(ctx context.Context, args webArgs) ([]WebSearchHit, error) {
	ctx, cancel := context.WithTimeout(ctx, webSearchTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"query": args.Query, "mode": args.Mode})
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err, "web: encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err, "web: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if t.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.APIKey)
	}

	client := t.HTTP
	if client == nil {
		client = &http.Client{Timeout: webSearchTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindUpstreamNetwork, err, "web: request failed")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, apperror.NewUpstreamHTTPError(resp.StatusCode, string(raw))
	}

	var parsed struct {
		Hits []WebSearchHit `json:"hits"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apperror.Wrap(apperror.KindUpstreamNetwork, err, "web: decode response")
	}
	return parsed.Hits, nil
}
