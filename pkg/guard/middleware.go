package guard

import (
	"context"
	"net/http"

	"github.com/coachcall/edge/pkg/authsession"
)

type sessionContextKey struct{}
type payloadContextKey struct{}

// SessionFactory builds the server-context session manager for one inbound
// page request.
type SessionFactory func(r *http.Request) (*authsession.Manager, error)

// Middleware guards server-rendered page routes. For each request it builds
// a server-context session, runs the one-shot initializer, and applies the
// decision table: redirects are served as 302s, allowed navigations proceed
// with the session manager and hydration payload stored on the request
// context for the page renderer.
func (g *Guard) Middleware(sessions SessionFactory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m, err := sessions(r)
			if err != nil {
				g.log.Error("building session manager", errAttr(err))
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			payload := m.InitializeServer(r.Context())

			target := r.URL.Path
			if r.URL.RawQuery != "" {
				target += "?" + r.URL.RawQuery
			}

			if d := g.Evaluate(m.Store(), target); !d.Allow {
				http.Redirect(w, r, d.RedirectTo, http.StatusFound)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, m)
			ctx = context.WithValue(ctx, payloadContextKey{}, payload)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext returns the request's session manager, if the guard
// middleware ran.
func SessionFromContext(ctx context.Context) (*authsession.Manager, bool) {
	m, ok := ctx.Value(sessionContextKey{}).(*authsession.Manager)
	return m, ok
}

// PayloadFromContext returns the request's hydration payload, if the guard
// middleware ran.
func PayloadFromContext(ctx context.Context) (*authsession.HydrationPayload, bool) {
	p, ok := ctx.Value(payloadContextKey{}).(*authsession.HydrationPayload)
	return p, ok
}
