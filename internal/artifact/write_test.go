package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eclia/gateway/pkg/types"
)

func TestWriteProducesExpectedPath(t *testing.T) {
	root := t.TempDir()
	art, err := Write(root, "sess1", "call1", "out.txt", []byte("hello"))
	require.NoError(t, err)

	require.Equal(t, ".eclia/artifacts/sess1/call1/out.txt", art.Path)
	require.Equal(t, types.ArtifactText, art.Kind)
	require.Equal(t, int64(5), art.Bytes)
	require.Equal(t, "eclia://artifact/.eclia/artifacts/sess1/call1/out.txt", art.URI)

	data, err := os.ReadFile(filepath.Join(root, art.Path))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestWriteCollisionResolvesFilename(t *testing.T) {
	root := t.TempDir()
	first, err := Write(root, "sess1", "call1", "out.txt", []byte("a"))
	require.NoError(t, err)

	second, err := Write(root, "sess1", "call1", "out.txt", []byte("b"))
	require.NoError(t, err)

	require.NotEqual(t, first.Path, second.Path)
}

func TestWriteClassifiesImage(t *testing.T) {
	root := t.TempDir()
	art, err := Write(root, "sess1", "call1", "pic.png", []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	require.Equal(t, types.ArtifactImage, art.Kind)
}

func TestWriteComputesSHA256(t *testing.T) {
	root := t.TempDir()
	art, err := Write(root, "sess1", "call1", "out.txt", []byte("hello"))
	require.NoError(t, err)
	require.NotEmpty(t, art.SHA256)
}
