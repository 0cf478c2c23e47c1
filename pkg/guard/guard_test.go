package guard_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coachcall/edge/pkg/authsession"
	"github.com/coachcall/edge/pkg/guard"
)

// fakeState is a minimal SessionState for table-driven decision tests.
type fakeState struct {
	authed      bool
	initialized bool
	user        *authsession.UserProfile
}

func (s *fakeState) IsAuthenticated() bool          { return s.authed }
func (s *fakeState) IsInitialized() bool            { return s.initialized }
func (s *fakeState) User() *authsession.UserProfile { return s.user }

func onboardedUser() *authsession.UserProfile {
	return &authsession.UserProfile{ID: 1, Email: "coach@example.com", DisplayName: "Pat", HasCompletedOnboarding: true}
}

func freshUser() *authsession.UserProfile {
	return &authsession.UserProfile{ID: 1, Email: "coach@example.com", DisplayName: "Pat", HasCompletedOnboarding: false}
}

func TestEvaluateDecisionTable(t *testing.T) {
	g := guard.New(guard.DefaultRoutes())

	tests := []struct {
		name         string
		state        *fakeState
		target       string
		wantAllow    bool
		wantRedirect string
	}{
		{
			name:         "unauthenticated private target redirects to login with return path",
			state:        &fakeState{initialized: true},
			target:       "/dashboard",
			wantRedirect: "/login?redirect=%2Fdashboard",
		},
		{
			name:         "return path preserves query string",
			state:        &fakeState{initialized: true},
			target:       "/courses?page=2",
			wantRedirect: "/login?redirect=%2Fcourses%3Fpage%3D2",
		},
		{
			name:      "unauthenticated login allowed",
			state:     &fakeState{initialized: true},
			target:    "/login",
			wantAllow: true,
		},
		{
			name:      "unauthenticated register allowed",
			state:     &fakeState{initialized: true},
			target:    "/register",
			wantAllow: true,
		},
		{
			name:      "unauthenticated landing allowed",
			state:     &fakeState{initialized: true},
			target:    "/",
			wantAllow: true,
		},
		{
			name:         "authenticated on login redirects to dashboard",
			state:        &fakeState{authed: true, initialized: true, user: onboardedUser()},
			target:       "/login",
			wantRedirect: "/dashboard",
		},
		{
			name:         "authenticated on landing redirects to dashboard",
			state:        &fakeState{authed: true, initialized: true, user: onboardedUser()},
			target:       "/",
			wantRedirect: "/dashboard",
		},
		{
			name:      "authenticated private target allowed",
			state:     &fakeState{authed: true, initialized: true, user: onboardedUser()},
			target:    "/courses/5",
			wantAllow: true,
		},
		{
			name:         "onboarding incomplete funnels from dashboard",
			state:        &fakeState{authed: true, initialized: true, user: freshUser()},
			target:       "/dashboard",
			wantRedirect: "/onboarding",
		},
		{
			name:      "onboarding incomplete allowed on onboarding route",
			state:     &fakeState{authed: true, initialized: true, user: freshUser()},
			target:    "/onboarding",
			wantAllow: true,
		},
		{
			name:         "onboarding complete bounced off onboarding route",
			state:        &fakeState{authed: true, initialized: true, user: onboardedUser()},
			target:       "/onboarding",
			wantRedirect: "/dashboard",
		},
		{
			name:         "onboarding incomplete funnels even from login",
			state:        &fakeState{authed: true, initialized: true, user: freshUser()},
			target:       "/login",
			wantRedirect: "/onboarding",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Evaluate(tt.state, tt.target)
			if d.Allow != tt.wantAllow {
				t.Fatalf("Allow = %v, want %v (redirect %q)", d.Allow, tt.wantAllow, d.RedirectTo)
			}
			if d.RedirectTo != tt.wantRedirect {
				t.Fatalf("RedirectTo = %q, want %q", d.RedirectTo, tt.wantRedirect)
			}
		})
	}
}

func TestEvaluateExtraPublicRoutes(t *testing.T) {
	routes := guard.DefaultRoutes()
	routes.Public = []string{"/about"}
	g := guard.New(routes)

	if d := g.Evaluate(&fakeState{initialized: true}, "/about"); !d.Allow {
		t.Fatalf("about page should be public, got redirect to %q", d.RedirectTo)
	}
	// Public-but-not-public-only: authenticated users may stay.
	if d := g.Evaluate(&fakeState{authed: true, initialized: true, user: onboardedUser()}, "/about"); !d.Allow {
		t.Fatalf("authenticated user bounced off public page to %q", d.RedirectTo)
	}
}

func TestDecideInitializesClientSession(t *testing.T) {
	// Backend with no valid refresh credential: the guard's initialization
	// attempt fails silently and the decision is redirect-to-login.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no cookie", http.StatusUnauthorized)
	}))
	defer srv.Close()

	m, err := authsession.NewManager(authsession.ManagerConfig{
		Context:    authsession.ContextClient,
		BackendURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}

	g := guard.New(guard.DefaultRoutes())
	d := g.Decide(context.Background(), m, "/dashboard")

	if d.Allow {
		t.Fatal("expected redirect for unauthenticated session")
	}
	if d.RedirectTo != "/login?redirect=%2Fdashboard" {
		t.Fatalf("RedirectTo = %q, want /login?redirect=%%2Fdashboard", d.RedirectTo)
	}
	if !m.Store().IsInitialized() {
		t.Fatal("Decide must leave the session initialized")
	}
}

func TestMiddlewareRedirectsUnauthenticated(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer backend.Close()

	g := guard.New(guard.DefaultRoutes())
	sessions := func(r *http.Request) (*authsession.Manager, error) {
		return authsession.NewManager(authsession.ManagerConfig{
			Context:      authsession.ContextServer,
			BackendURL:   backend.URL,
			CookieHeader: r.Header.Get("Cookie"),
		})
	}

	var sawPage bool
	h := g.Middleware(sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawPage = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if sawPage {
		t.Fatal("page handler ran despite redirect")
	}
	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rr.Code)
	}
	if got := rr.Header().Get("Location"); got != "/login?redirect=%2Fdashboard" {
		t.Fatalf("Location = %q, want /login?redirect=%%2Fdashboard", got)
	}
}

func TestMiddlewareAllowsPublicAndExposesPayload(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer backend.Close()

	g := guard.New(guard.DefaultRoutes())
	sessions := func(r *http.Request) (*authsession.Manager, error) {
		return authsession.NewManager(authsession.ManagerConfig{
			Context:    authsession.ContextServer,
			BackendURL: backend.URL,
		})
	}

	h := g.Middleware(sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, ok := guard.SessionFromContext(r.Context())
		if !ok || m == nil {
			t.Error("session manager missing from request context")
		}
		p, ok := guard.PayloadFromContext(r.Context())
		if !ok || !p.Processed {
			t.Errorf("payload = %+v, want processed", p)
		}
		fmt.Fprint(w, "ok")
	}))

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}
