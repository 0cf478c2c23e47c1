package guard

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/coachcall/edge/pkg/authsession"
)

// SessionState is the read-only view of session state the guard consumes.
// *authsession.Store satisfies it.
type SessionState interface {
	IsAuthenticated() bool
	IsInitialized() bool
	User() *authsession.UserProfile
}

// Routes names the application routes the guard reasons about.
type Routes struct {
	Login      string
	Register   string
	Landing    string
	Dashboard  string
	Onboarding string

	// Public are additional paths reachable without authentication, beyond
	// Login, Register, and Landing.
	Public []string
}

// DefaultRoutes returns the standard application route map.
func DefaultRoutes() Routes {
	return Routes{
		Login:      "/login",
		Register:   "/register",
		Landing:    "/",
		Dashboard:  "/dashboard",
		Onboarding: "/onboarding",
	}
}

// publicOnly reports whether path is only for unauthenticated visitors
// (login, register, landing). Authenticated users are bounced to the
// dashboard from these.
func (r Routes) publicOnly(path string) bool {
	return path == r.Login || path == r.Register || path == r.Landing
}

// public reports whether path is reachable without authentication.
func (r Routes) public(path string) bool {
	if r.publicOnly(path) {
		return true
	}
	for _, p := range r.Public {
		if path == p {
			return true
		}
	}
	return false
}

// RedirectParam is the query parameter carrying the originally intended
// destination through a login redirect.
const RedirectParam = "redirect"

// Decision is a navigation outcome. The guard never errors: it only allows
// or redirects.
type Decision struct {
	Allow      bool
	RedirectTo string
}

func allow() Decision             { return Decision{Allow: true} }
func redirect(to string) Decision { return Decision{RedirectTo: to} }

// Guard decides navigation outcomes from session state. The same decision
// table runs in both render contexts; the server simply evaluates it against
// whatever state the initializer established, defaulting to unauthenticated,
// which keeps server and client markup consistent.
type Guard struct {
	routes Routes
	log    *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.log = logger
	}
}

// New creates a route guard over the given route map.
func New(routes Routes, opts ...Option) *Guard {
	g := &Guard{routes: routes, log: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With(slog.String("component", "guard"))
	return g
}

// Routes returns the guard's route map.
func (g *Guard) Routes() Routes { return g.routes }

// Decide waits out transient session state, then evaluates the decision
// table for a navigation to target. On a client-context manager that has not
// yet initialized, the initializer runs first (idempotently, with a refresh
// fallback); an in-flight refresh is always awaited so the guard never rules
// on a session that is halfway through changing.
func (g *Guard) Decide(ctx context.Context, m *authsession.Manager, target string) Decision {
	if m.Context() == authsession.ContextClient && !m.Store().IsInitialized() {
		m.InitializeClient(ctx, nil)
	}
	m.WaitForRefresh(ctx)
	return g.Evaluate(m.Store(), target)
}

// Evaluate applies the decision table, in order, to the given state and
// navigation target. target may carry a query string; route matching uses
// only the path, while the full target is preserved through login redirects.
func (g *Guard) Evaluate(s SessionState, target string) Decision {
	path := pathOf(target)

	if s.IsAuthenticated() {
		user := s.User()

		// Onboarding funnel: incomplete users go to onboarding and nowhere
		// else; completed users never see it again.
		if !user.HasCompletedOnboarding && path != g.routes.Onboarding {
			g.log.Debug("redirecting to onboarding", slog.String("from", path))
			return redirect(g.routes.Onboarding)
		}
		if user.HasCompletedOnboarding && path == g.routes.Onboarding {
			return redirect(g.routes.Dashboard)
		}

		if g.routes.publicOnly(path) {
			return redirect(g.routes.Dashboard)
		}
		return allow()
	}

	if !g.routes.public(path) {
		return redirect(g.loginRedirect(target))
	}
	return allow()
}

// loginRedirect builds the login URL preserving the original target as a
// return path.
func (g *Guard) loginRedirect(target string) string {
	if target == "" || target == g.routes.Landing {
		return g.routes.Login
	}
	return g.routes.Login + "?" + RedirectParam + "=" + url.QueryEscape(target)
}

func errAttr(err error) slog.Attr { return slog.String("err", err.Error()) }

func pathOf(target string) string {
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		return target[:i]
	}
	return target
}
