package edge

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/coachcall/edge/internal/config"
	"github.com/coachcall/edge/pkg/authsession"
)

const appProfileJSON = `{
	"id": 9,
	"email": "coach@example.com",
	"fullname": "Pat Example",
	"profile": {
		"display_name": "Pat",
		"has_completed_onboarding": true
	}
}`

// appBackend fakes the backend API behind the edge.
type appBackend struct {
	mu    sync.Mutex
	paths []string

	refreshToken string
}

func (b *appBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.paths = append(b.paths, r.URL.Path)
	refreshToken := b.refreshToken
	b.mu.Unlock()

	switch r.URL.Path {
	case "/auth/refresh":
		if refreshToken == "" {
			http.Error(w, "rejected", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":%q}`, refreshToken)
	case "/auth/me":
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, appProfileJSON)
	case "/courses":
		w.Header().Set("Set-Cookie", "session=abc; Domain=backend.internal; Path=/")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":1}]`)
	default:
		http.NotFound(w, r)
	}
}

func (b *appBackend) sawPath(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.paths {
		if p == path {
			return true
		}
	}
	return false
}

func newTestApp(t *testing.T, mutate func(*config.Config)) (*App, *appBackend, *httptest.Server) {
	t.Helper()

	backend := &appBackend{refreshToken: "tok-app"}
	backendSrv := httptest.NewServer(backend)
	t.Cleanup(backendSrv.Close)

	cfg := config.New()
	cfg.BackendURL = backendSrv.URL
	cfg.Avatar.Dir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	app, err := New(cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	edgeSrv := httptest.NewServer(app)
	t.Cleanup(edgeSrv.Close)
	return app, backend, edgeSrv
}

func get(t *testing.T, url string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	_, _, srv := newTestApp(t, nil)
	resp := get(t, srv.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, srv := newTestApp(t, nil)
	resp := get(t, srv.URL+"/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("metrics output missing runtime collectors")
	}
}

func TestAPIProxyStripsPrefixAndRewritesCookies(t *testing.T) {
	_, backend, srv := newTestApp(t, nil)

	resp := get(t, srv.URL+"/api/courses", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if !backend.sawPath("/courses") {
		t.Fatalf("backend paths = %v, want /courses", backend.paths)
	}

	setCookie := resp.Header.Get("Set-Cookie")
	if strings.Contains(setCookie, "Domain=") {
		t.Errorf("Set-Cookie = %q, Domain must be stripped", setCookie)
	}
	if !strings.Contains(setCookie, "SameSite=Lax") || !strings.Contains(setCookie, "Secure") {
		t.Errorf("Set-Cookie = %q, want SameSite=Lax and Secure", setCookie)
	}
}

func TestLandingRendersShellWithHydration(t *testing.T) {
	_, backend, srv := newTestApp(t, nil)

	resp := get(t, srv.URL+"/", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("Content-Type = %q, want text/html", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), authsession.HydrationElementID) {
		t.Fatalf("shell missing hydration script element")
	}
	if !strings.Contains(string(body), `data-route="/"`) {
		t.Fatalf("shell missing route marker")
	}
	// Server renders unauthenticated by default: no backend round trips.
	if backend.sawPath("/auth/refresh") {
		t.Fatalf("server render must not refresh by default")
	}
}

func TestProtectedPageRedirectsAnonymous(t *testing.T) {
	_, _, srv := newTestApp(t, nil)

	resp := get(t, srv.URL+"/dashboard", nil)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if loc := resp.Header.Get("Location"); loc != "/login?redirect=%2Fdashboard" {
		t.Fatalf("Location = %q, want /login?redirect=%%2Fdashboard", loc)
	}
}

func TestServerRefreshEstablishesSession(t *testing.T) {
	_, backend, srv := newTestApp(t, func(c *config.Config) {
		c.ServerRefresh = true
	})

	header := http.Header{"Cookie": {"refresh_token=rt-1"}}
	resp := get(t, srv.URL+"/dashboard", header)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "tok-app") {
		t.Fatalf("shell hydration missing access token")
	}
	if !backend.sawPath("/auth/refresh") || !backend.sawPath("/auth/me") {
		t.Fatalf("backend paths = %v, want refresh and profile", backend.paths)
	}
}

func TestPageRoutesDeduplicated(t *testing.T) {
	app, _, _ := newTestApp(t, func(c *config.Config) {
		c.Routes.Public = []string{"/pricing", "/login", "/pricing"}
	})
	routes := app.pageRoutes()
	seen := make(map[string]int)
	for _, r := range routes {
		seen[r]++
	}
	if seen["/login"] != 1 || seen["/pricing"] != 1 {
		t.Fatalf("pageRoutes() = %v, want unique routes", routes)
	}
}

func TestMediaRelPath(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"7/a.png", "7/a.png", true},
		{"/7/a.png", "7/a.png", true},
		{"", "", false},
		{"../etc/passwd", "", false},
		{"7/../../x", "", false},
		{"7\\a.png", "", false},
		{"//etc/passwd", "", false},
	}
	for _, tt := range tests {
		got, ok := mediaRelPath(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("mediaRelPath(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestAvatarPathPrefix(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/media/avatars", "/media/avatars"},
		{"/media/avatars/", "/media/avatars"},
		{"https://cdn.example/avatars", ""},
	}
	for _, tt := range tests {
		if got := avatarPathPrefix(tt.in); got != tt.want {
			t.Errorf("avatarPathPrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
