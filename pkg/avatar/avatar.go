// Package avatar stores profile images uploaded during onboarding and writes
// the resulting URL to the backend profile.
package avatar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/coachcall/edge/pkg/authsession"
)

// ErrTooLarge is returned when an image exceeds the size limit.
var ErrTooLarge = errors.New("avatar: image too large")

// ErrUnsupportedType is returned for non-image uploads.
var ErrUnsupportedType = errors.New("avatar: unsupported content type")

// DefaultMaxSize is the default image size limit.
const DefaultMaxSize int64 = 5 << 20

// imageExts maps accepted content types to file extensions.
var imageExts = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

// Store is the interface for avatar storage backends.
type Store interface {
	// Put stores the image under key and returns its public URL.
	Put(ctx context.Context, key string, contentType string, size int64, r io.Reader) (string, error)
}

// SessionLookup resolves the authenticated session for an upload request.
// Returns false when the request carries no session.
type SessionLookup func(r *http.Request) (*authsession.Manager, bool)

// profileImagePath is the backend endpoint updated with the stored URL.
const profileImagePath = "/profile"

// Handler returns the avatar upload endpoint. It expects a multipart form
// with a "file" field, stores the image, then writes the URL to the backend
// profile through the session's authenticated client. maxSize bounds the
// request body; 0 uses DefaultMaxSize.
func Handler(store Store, maxSize int64, sessions SessionLookup, logger *slog.Logger) http.Handler {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With(slog.String("component", "avatar"))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		m, ok := sessions(r)
		if !ok || !m.Store().IsAuthenticated() {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		user := m.Store().User()

		r.Body = http.MaxBytesReader(w, r.Body, maxSize)
		if err := r.ParseMultipartForm(maxSize); err != nil {
			http.Error(w, "image too large", http.StatusRequestEntityTooLarge)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "no file provided", http.StatusBadRequest)
			return
		}
		defer file.Close()

		contentType := header.Header.Get("Content-Type")
		if _, ok := imageExts[contentType]; !ok {
			http.Error(w, "unsupported image type", http.StatusUnsupportedMediaType)
			return
		}

		key := fmt.Sprintf("%d/%s%s", user.ID, uuid.NewString(), imageExts[contentType])
		url, err := store.Put(r.Context(), key, contentType, header.Size, file)
		if err != nil {
			if errors.Is(err, ErrTooLarge) {
				http.Error(w, "image too large", http.StatusRequestEntityTooLarge)
				return
			}
			log.Error("storing avatar", slog.String("err", err.Error()))
			http.Error(w, "upload failed", http.StatusInternalServerError)
			return
		}

		update := map[string]any{
			"profile": map[string]any{"profile_image_url": url},
		}
		if err := m.Client().Request(r.Context(), http.MethodPut, profileImagePath, update, nil); err != nil {
			log.Error("updating backend profile", slog.String("err", err.Error()))
			if authsession.IsUnauthorized(err) || errors.Is(err, authsession.ErrSessionInvalid) {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			http.Error(w, "profile update failed", http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"profile_image_url": url})
	})
}
