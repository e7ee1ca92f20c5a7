// Package artifact implements the ECLIA artifact tree: the write-side
// helper tools use to stash large/binary output, and (in serve.go) the
// read-only HTTP handler over ".eclia/artifacts/".
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/eclia/gateway/pkg/types"
)

// Dir returns the filesystem directory backing a session/call's artifact
// subtree: <root>/.eclia/artifacts/<sessionId>/<callId>/.
func Dir(root, sessionID, callID string) string {
	return filepath.Join(root, ".eclia", "artifacts", sessionID, callID)
}

// SessionDir returns the filesystem directory backing a whole session's
// artifact subtree, <root>/.eclia/artifacts/<sessionId>/, the parent of every
// call's Dir. Used to cascade-delete a session's artifacts.
func SessionDir(root, sessionID string) string {
	return filepath.Join(root, ".eclia", "artifacts", sessionID)
}

// Write saves data under the session/call artifact directory using a
// collision-safe filename (a short ULID suffix is appended if name is
// already taken) and returns the resulting Artifact metadata.
func Write(root, sessionID, callID, name string, data []byte) (types.Artifact, error) {
	dir := Dir(root, sessionID, callID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.Artifact{}, err
	}

	finalName := name
	if _, err := os.Stat(filepath.Join(dir, finalName)); err == nil {
		ext := filepath.Ext(name)
		base := strings.TrimSuffix(name, ext)
		id := ulid.Make().String()
		finalName = base + "-" + strings.ToLower(id[len(id)-8:]) + ext
	}

	full := filepath.Join(dir, finalName)
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return types.Artifact{}, err
	}

	root = filepath.Clean(root)
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return types.Artifact{}, err
	}
	rel = filepath.ToSlash(rel)

	sum := sha256.Sum256(data)
	mimeType := mime.TypeByExtension(filepath.Ext(finalName))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	return types.Artifact{
		Kind:   classify(mimeType),
		Path:   rel,
		URI:    types.ArtifactURI(rel),
		Ref:    types.ArtifactRef(rel),
		Bytes:  int64(len(data)),
		Mime:   mimeType,
		SHA256: hex.EncodeToString(sum[:]),
	}, nil
}

func classify(mimeType string) types.ArtifactKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return types.ArtifactImage
	case mimeType == "application/json":
		return types.ArtifactJSON
	case strings.HasPrefix(mimeType, "text/"):
		return types.ArtifactText
	default:
		return types.ArtifactFile
	}
}
