package artifact

import (
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/eclia/gateway/pkg/types"
)

// Handler serves GET and HEAD for "/api/artifacts?path=<rel>": rel must
// resolve (after ".." collapsing) under root/.eclia/artifacts/, matching
// the same validation ParseArtifactRef applies to a ref in tool arguments.
func Handler(root string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		rel := r.URL.Query().Get("path")
		if rel == "" {
			http.Error(w, "invalid_request: path is required", http.StatusBadRequest)
			return
		}

		cleanRel, err := types.ParseArtifactRef(rel)
		if err != nil {
			code := http.StatusBadRequest
			if strings.HasPrefix(err.Error(), "forbidden_artifact_ref") {
				code = http.StatusForbidden
			}
			http.Error(w, err.Error(), code)
			return
		}

		full := filepath.Join(root, cleanRel)
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			http.Error(w, "file_not_found: no such artifact", http.StatusNotFound)
			return
		}

		mimeType := mime.TypeByExtension(filepath.Ext(full))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", mimeType)
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
		w.Header().Set("Content-Disposition", dispositionFor(classify(mimeType), filepath.Base(full)))

		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}

		f, err := os.Open(full)
		if err != nil {
			http.Error(w, "internal: "+err.Error(), http.StatusInternalServerError)
			return
		}
		defer f.Close()

		http.ServeContent(w, r, filepath.Base(full), info.ModTime(), f)
	}
}

// dispositionFor renders inline for browser-displayable kinds (image, text,
// json) and attachment otherwise.
func dispositionFor(kind types.ArtifactKind, filename string) string {
	switch kind {
	case types.ArtifactImage, types.ArtifactText, types.ArtifactJSON:
		return "inline; filename=\"" + filename + "\""
	default:
		return "attachment; filename=\"" + filename + "\""
	}
}
