package edge

import (
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// mountAvatarFiles serves disk-stored avatars under the configured public
// base URL. Only used with the disk store; the s3 store serves from the
// bucket's own origin.
func (a *App) mountAvatarFiles(r chi.Router) {
	prefix := avatarPathPrefix(a.cfg.Avatar.BaseURL)
	if prefix == "" {
		return
	}

	dir := a.cfg.Avatar.Dir
	r.Get(prefix+"/*", func(w http.ResponseWriter, req *http.Request) {
		rel, ok := mediaRelPath(strings.TrimPrefix(req.URL.Path, prefix))
		if !ok {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		http.ServeFile(w, req, filepath.Join(dir, filepath.FromSlash(rel)))
	})
}

// avatarPathPrefix extracts the local mount path from the avatar base URL.
// An absolute URL on another origin means nothing to mount here.
func avatarPathPrefix(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host != "" {
		return ""
	}
	return strings.TrimRight(u.Path, "/")
}

// mediaRelPath sanitizes a relative media path. It rejects traversal and
// absolute-path tricks so serving cannot escape the storage directory.
func mediaRelPath(rel string) (string, bool) {
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return "", false
	}
	if strings.IndexByte(rel, 0) != -1 {
		return "", false
	}
	if strings.Contains(rel, "\\") {
		return "", false
	}
	if strings.HasPrefix(rel, "/") {
		return "", false
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == "." || seg == ".." {
			return "", false
		}
	}
	return rel, true
}

func errAttr(err error) slog.Attr { return slog.String("err", err.Error()) }
