package artifact

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerServesWrittenArtifact(t *testing.T) {
	root := t.TempDir()
	art, err := Write(root, "sess1", "call1", "out.txt", []byte("hello world"))
	require.NoError(t, err)

	h := Handler(root)
	req := httptest.NewRequest(http.MethodGet, "/api/artifacts?path="+art.Path, nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hello world", rec.Body.String())
	require.Contains(t, rec.Header().Get("Content-Disposition"), "inline")
}

func TestHandlerRejectsPathEscape(t *testing.T) {
	root := t.TempDir()
	h := Handler(root)
	req := httptest.NewRequest(http.MethodGet, "/api/artifacts?path=.eclia/artifacts/../../etc/passwd", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	require.NotEqual(t, http.StatusOK, rec.Code)
}

func TestHandlerMissingFileReturns404(t *testing.T) {
	root := t.TempDir()
	h := Handler(root)
	req := httptest.NewRequest(http.MethodGet, "/api/artifacts?path=.eclia/artifacts/sess1/call1/missing.txt", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerHeadReturnsSizeHeaders(t *testing.T) {
	root := t.TempDir()
	art, err := Write(root, "sess1", "call1", "out.bin", []byte("binarydata"))
	require.NoError(t, err)

	h := Handler(root)
	req := httptest.NewRequest(http.MethodHead, "/api/artifacts?path="+art.Path, nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "10", rec.Header().Get("Content-Length"))
}

func TestHandlerRejectsEmptyPath(t *testing.T) {
	h := Handler(t.TempDir())
	req := httptest.NewRequest(http.MethodGet, "/api/artifacts", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
