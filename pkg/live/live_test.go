package live_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coachcall/edge/pkg/authsession"
	"github.com/coachcall/edge/pkg/guard"
	"github.com/coachcall/edge/pkg/live"
)

const liveProfileJSON = `{
	"id": 7,
	"email": "coach@example.com",
	"fullname": "Pat Example",
	"profile": {
		"display_name": "Pat",
		"has_completed_onboarding": true
	}
}`

const hydratedSession = `{
	"accessToken": "tok-hydrated",
	"user": {
		"id": 7,
		"email": "coach@example.com",
		"displayName": "Pat",
		"hasCompletedOnboarding": true
	},
	"processed": true
}`

// liveBackend is a minimal auth API for live connection tests.
type liveBackend struct {
	mu   sync.Mutex
	hits map[string]int

	refreshToken string // "" means refresh fails with 401
}

func newLiveBackend(t *testing.T) (*liveBackend, *httptest.Server) {
	t.Helper()
	b := &liveBackend{hits: make(map[string]int), refreshToken: "tok-fresh"}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *liveBackend) count(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

func (b *liveBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.hits[r.URL.Path]++
	refreshToken := b.refreshToken
	b.mu.Unlock()

	switch r.URL.Path {
	case "/auth/refresh":
		if refreshToken == "" {
			http.Error(w, "refresh credential rejected", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":%q}`, refreshToken)
	case "/auth/me":
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, liveProfileJSON)
	case "/auth/logout":
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLiveServer(t *testing.T, backendURL string) *httptest.Server {
	t.Helper()
	srv, err := live.NewServer(live.Config{
		Sessions: func(*http.Request) (*authsession.Manager, error) {
			return authsession.NewManager(authsession.ManagerConfig{
				Context:    authsession.ContextClient,
				BackendURL: backendURL,
				Logger:     discardLogger(),
			})
		},
		Guard:       guard.New(guard.DefaultRoutes(), guard.WithLogger(discardLogger())),
		Logger:      discardLogger(),
		CheckOrigin: func(*http.Request) bool { return true },
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMessage(t *testing.T, conn *websocket.Conn, msg live.Message) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) live.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg live.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func sendHello(t *testing.T, conn *websocket.Conn, hydration string) live.Message {
	t.Helper()
	msg := live.Message{Type: live.TypeHello}
	if hydration != "" {
		msg.Hydration = json.RawMessage(hydration)
	}
	sendMessage(t, conn, msg)
	return readMessage(t, conn)
}

func TestHandshakeAdoptsHydration(t *testing.T) {
	backend, backendSrv := newLiveBackend(t)
	ts := newLiveServer(t, backendSrv.URL)
	conn := dial(t, ts)

	welcome := sendHello(t, conn, hydratedSession)

	if welcome.Type != live.TypeWelcome {
		t.Fatalf("type = %q, want %q", welcome.Type, live.TypeWelcome)
	}
	if welcome.User == nil || welcome.User.ID != 7 {
		t.Fatalf("welcome user = %+v, want ID 7", welcome.User)
	}
	// Adopted state means no refresh round trip on connect.
	if got := backend.count("/auth/refresh"); got != 0 {
		t.Fatalf("refresh calls = %d, want 0", got)
	}
}

func TestHandshakeWithoutHydrationRefreshes(t *testing.T) {
	backend, backendSrv := newLiveBackend(t)
	ts := newLiveServer(t, backendSrv.URL)
	conn := dial(t, ts)

	welcome := sendHello(t, conn, "")

	if welcome.Type != live.TypeWelcome {
		t.Fatalf("type = %q, want %q", welcome.Type, live.TypeWelcome)
	}
	if welcome.User == nil || welcome.User.DisplayName != "Pat" {
		t.Fatalf("welcome user = %+v, want display name Pat", welcome.User)
	}
	if got := backend.count("/auth/refresh"); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}

func TestHandshakeWithFailedRefreshStaysAnonymous(t *testing.T) {
	backend, backendSrv := newLiveBackend(t)
	backend.mu.Lock()
	backend.refreshToken = ""
	backend.mu.Unlock()
	ts := newLiveServer(t, backendSrv.URL)
	conn := dial(t, ts)

	welcome := sendHello(t, conn, "")

	if welcome.Type != live.TypeWelcome {
		t.Fatalf("type = %q, want %q", welcome.Type, live.TypeWelcome)
	}
	if welcome.User != nil {
		t.Fatalf("welcome user = %+v, want nil", welcome.User)
	}
}

func TestNavigateDecisions(t *testing.T) {
	_, backendSrv := newLiveBackend(t)
	ts := newLiveServer(t, backendSrv.URL)
	conn := dial(t, ts)
	sendHello(t, conn, hydratedSession)

	tests := []struct {
		target         string
		wantAllow      bool
		wantRedirectTo string
	}{
		{"/dashboard", true, ""},
		{"/courses?page=2", true, ""},
		{"/login", false, "/dashboard"},
	}
	for _, tt := range tests {
		sendMessage(t, conn, live.Message{Type: live.TypeNavigate, Target: tt.target})
		nav := readMessage(t, conn)
		if nav.Type != live.TypeNavigation {
			t.Fatalf("%s: type = %q, want %q", tt.target, nav.Type, live.TypeNavigation)
		}
		if nav.Allow != tt.wantAllow || nav.RedirectTo != tt.wantRedirectTo {
			t.Fatalf("%s: decision = (%v, %q), want (%v, %q)",
				tt.target, nav.Allow, nav.RedirectTo, tt.wantAllow, tt.wantRedirectTo)
		}
	}
}

func TestLogoutOverSocket(t *testing.T) {
	backend, backendSrv := newLiveBackend(t)
	ts := newLiveServer(t, backendSrv.URL)
	conn := dial(t, ts)
	sendHello(t, conn, hydratedSession)

	sendMessage(t, conn, live.Message{Type: live.TypeLogout})
	msg := readMessage(t, conn)
	if msg.Type != live.TypeLoggedOut {
		t.Fatalf("type = %q, want %q", msg.Type, live.TypeLoggedOut)
	}
	if got := backend.count("/auth/logout"); got != 1 {
		t.Fatalf("logout calls = %d, want 1", got)
	}

	// The socket session is now anonymous: a protected navigation redirects.
	sendMessage(t, conn, live.Message{Type: live.TypeNavigate, Target: "/dashboard"})
	nav := readMessage(t, conn)
	if nav.Allow || !strings.HasPrefix(nav.RedirectTo, "/login") {
		t.Fatalf("decision after logout = (%v, %q), want login redirect", nav.Allow, nav.RedirectTo)
	}
}

func TestRefreshFailureMidConnectionPushesSessionExpired(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			once.Do(func() { close(started) })
			<-release
			http.Error(w, "refresh credential rejected", http.StatusUnauthorized)
		default:
			http.NotFound(w, r)
		}
	}))
	defer backendSrv.Close()

	managers := make(chan *authsession.Manager, 1)
	srv, err := live.NewServer(live.Config{
		Sessions: func(*http.Request) (*authsession.Manager, error) {
			m, err := authsession.NewManager(authsession.ManagerConfig{
				Context:    authsession.ContextClient,
				BackendURL: backendSrv.URL,
				Logger:     discardLogger(),
			})
			if err == nil {
				managers <- m
			}
			return m, err
		},
		Guard:       guard.New(guard.DefaultRoutes(), guard.WithLogger(discardLogger())),
		Logger:      discardLogger(),
		CheckOrigin: func(*http.Request) bool { return true },
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dial(t, ts)
	sendHello(t, conn, hydratedSession)
	m := <-managers

	// A data fetch elsewhere on this session hit a 401 and forced a refresh
	// the backend will reject.
	go m.RefreshToken(context.Background())
	<-started

	sendMessage(t, conn, live.Message{Type: live.TypeNavigate, Target: "/dashboard"})
	// Let the navigation reach the in-flight wait before the refresh fails.
	time.Sleep(200 * time.Millisecond)
	close(release)

	msg := readMessage(t, conn)
	if msg.Type != live.TypeSessionExpired {
		t.Fatalf("type = %q, want %q", msg.Type, live.TypeSessionExpired)
	}
	nav := readMessage(t, conn)
	if nav.Type != live.TypeNavigation {
		t.Fatalf("type = %q, want %q", nav.Type, live.TypeNavigation)
	}
	if nav.Allow || !strings.HasPrefix(nav.RedirectTo, "/login") {
		t.Fatalf("decision = (%v, %q), want login redirect", nav.Allow, nav.RedirectTo)
	}
}

func TestFirstMessageMustBeHello(t *testing.T) {
	_, backendSrv := newLiveBackend(t)
	ts := newLiveServer(t, backendSrv.URL)
	conn := dial(t, ts)

	sendMessage(t, conn, live.Message{Type: live.TypeNavigate, Target: "/dashboard"})
	msg := readMessage(t, conn)
	if msg.Type != live.TypeError {
		t.Fatalf("type = %q, want %q", msg.Type, live.TypeError)
	}

	// The server closes the connection after a bad handshake.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var discard live.Message
	if err := conn.ReadJSON(&discard); err == nil {
		t.Fatalf("ReadJSON() after bad handshake = %+v, want close", discard)
	}
}

func TestPingPong(t *testing.T) {
	_, backendSrv := newLiveBackend(t)
	ts := newLiveServer(t, backendSrv.URL)
	conn := dial(t, ts)
	sendHello(t, conn, hydratedSession)

	sendMessage(t, conn, live.Message{Type: live.TypePing})
	msg := readMessage(t, conn)
	if msg.Type != live.TypePong {
		t.Fatalf("type = %q, want %q", msg.Type, live.TypePong)
	}
}
