package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eclia/gateway/pkg/types"
)

// testServerPort extracts the numeric port httptest.NewServer bound to.
func testServerPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestResolveDestinationKindDefaultsToOrigin(t *testing.T) {
	require.Equal(t, "discord", resolveDestinationKind("", &types.Origin{Kind: "discord"}))
	require.Equal(t, "web", resolveDestinationKind("", nil))
	require.Equal(t, "telegram", resolveDestinationKind("telegram", &types.Origin{Kind: "discord"}))
}

func TestSendNeedsApprovalForNonWebOrPaths(t *testing.T) {
	tool := &SendTool{}
	require.False(t, tool.NeedsApproval(sendArgs{Destination: "web"}, nil))
	require.True(t, tool.NeedsApproval(sendArgs{Destination: "discord"}, nil))
	require.True(t, tool.NeedsApproval(sendArgs{Destination: "web", Paths: []string{"/tmp/x"}}, nil))
}

func TestSendToWebReturnsInline(t *testing.T) {
	tool := &SendTool{}
	raw, _ := json.Marshal(sendArgs{Destination: "web", Content: "hello"})
	res, err := tool.Execute(context.Background(), &Context{}, string(raw))
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, "hello", res.Output)
}

func TestSendRejectsRefEscapingArtifactTree(t *testing.T) {
	tool := &SendTool{}
	raw, _ := json.Marshal(sendArgs{Destination: "web", Content: "x", Refs: []string{"<eclia://artifact/../../etc/passwd>"}})
	res, err := tool.Execute(context.Background(), &Context{Root: t.TempDir()}, string(raw))
	require.NoError(t, err)
	require.False(t, res.OK)
}

func TestSendCopiesLocalPathIntoArtifactTree(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "report.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello world"), 0o644))

	tool := &SendTool{}
	raw, _ := json.Marshal(sendArgs{Destination: "web", Content: "see attached", Paths: []string{src}})
	res, err := tool.Execute(context.Background(), &Context{Root: root, SessionID: "s1", CallID: "c1"}, string(raw))
	require.NoError(t, err)
	require.True(t, res.OK)
	refs, ok := res.Structured["refs"].([]string)
	require.True(t, ok)
	require.Len(t, refs, 1)
}

func TestSendPostsToConfiguredAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "shared-key", r.Header.Get("x-eclia-adapter-key"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tool := &SendTool{Adapters: map[string]AdapterTarget{"discord": {Port: testServerPort(t, srv), Key: "shared-key"}}}
	raw, _ := json.Marshal(sendArgs{Destination: "discord", Content: "hi"})
	res, err := tool.Execute(context.Background(), &Context{Root: t.TempDir()}, string(raw))
	require.NoError(t, err)
	require.True(t, res.OK)
}

func TestSendAdapterDisabledWhenNotConfigured(t *testing.T) {
	tool := &SendTool{}
	raw, _ := json.Marshal(sendArgs{Destination: "telegram", Content: "hi"})
	res, err := tool.Execute(context.Background(), &Context{Root: t.TempDir()}, string(raw))
	require.NoError(t, err)
	require.False(t, res.OK)
}
