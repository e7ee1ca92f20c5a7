package types

import (
	"fmt"
	"path"
	"strings"
)

// ArtifactsPrefix is the repo-relative root all artifact paths live under.
const ArtifactsPrefix = ".eclia/artifacts/"

// ArtifactKind classifies an artifact for disposition/rendering purposes.
type ArtifactKind string

const (
	ArtifactImage ArtifactKind = "image"
	ArtifactJSON  ArtifactKind = "json"
	ArtifactText  ArtifactKind = "text"
	ArtifactFile  ArtifactKind = "file"
)

// Artifact is metadata computed on read for a file under
// <root>/.eclia/artifacts/<sessionId>/<callId>/<filename>.
type Artifact struct {
	Kind   ArtifactKind `json:"kind"`
	Path   string       `json:"path"` // repo-relative, e.g. ".eclia/artifacts/s1/c1/out.png"
	URI    string       `json:"uri"`  // "eclia://artifact/<path>"
	Ref    string       `json:"ref"`  // "<eclia://artifact/<path>>"
	Bytes  int64        `json:"bytes"`
	Mime   string       `json:"mime"`
	SHA256 string       `json:"sha256,omitempty"`
}

// ArtifactURI formats the repo-relative path as an eclia://artifact/ URI.
func ArtifactURI(relPath string) string {
	return "eclia://artifact/" + strings.TrimPrefix(relPath, "/")
}

// ArtifactRef formats the repo-relative path as the angle-bracket ref form
// accepted in text contexts.
func ArtifactRef(relPath string) string {
	return fmt.Sprintf("<%s>", ArtifactURI(relPath))
}

// ParseArtifactRef extracts the repo-relative path from any of the accepted
// forms: "<eclia://artifact/...>", "eclia://artifact/...", or a bare
// ".eclia/artifacts/..." relative path. It returns an error if the resolved
// path escapes ArtifactsPrefix.
func ParseArtifactRef(ref string) (string, error) {
	s := strings.TrimSpace(ref)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")

	switch {
	case strings.HasPrefix(s, "eclia://artifact/"):
		s = strings.TrimPrefix(s, "eclia://artifact/")
	case strings.HasPrefix(s, ArtifactsPrefix):
		// already repo-relative
	default:
		return "", fmt.Errorf("bad_artifact_ref: %q is not an artifact reference", ref)
	}

	clean := path.Clean("/" + s)[1:] // collapse ".." and "." safely
	if !strings.HasPrefix(clean, ArtifactsPrefix) {
		return "", fmt.Errorf("forbidden_artifact_ref: %q escapes %s", ref, ArtifactsPrefix)
	}
	return clean, nil
}
