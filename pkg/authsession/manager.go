package authsession

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

// RenderContext identifies which execution context a manager serves. The
// server context is a one-shot render; the client context is a long-lived
// session.
type RenderContext int

const (
	// ContextServer is the one-shot server render. The initializer produces a
	// hydration payload and 401 retries are not attempted.
	ContextServer RenderContext = iota

	// ContextClient is the long-lived client session. The initializer
	// consumes the hydration payload and 401s trigger refresh-and-retry.
	ContextClient
)

func (rc RenderContext) String() string {
	if rc == ContextServer {
		return "server"
	}
	return "client"
}

// tracerName is the tracer for auth session spans.
const tracerName = "coachcall/authsession"

// ManagerConfig configures a session Manager.
type ManagerConfig struct {
	// Context selects the render context. Default: ContextServer.
	Context RenderContext

	// BackendURL is the backend API origin. Required.
	BackendURL string

	// CookieHeader is the inbound request's raw Cookie header, relayed on
	// backend calls so the refresh credential reaches the backend.
	CookieHeader string

	// HTTPClient is the underlying HTTP client for backend calls.
	// If nil, a default client is used.
	HTTPClient *http.Client

	// ServerRefresh enables the optional server-context refresh attempt.
	// When false (the default) the server renders unauthenticated and the
	// client reconciles, which avoids hydration mismatches.
	ServerRefresh bool

	// Logger is the structured logger. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Metrics records session metrics. May be nil.
	Metrics *Metrics
}

// Manager owns the session lifecycle for one render context: initialization,
// token refresh, profile fetch, login, and logout. It is the only writer of
// the Store; collaborators hold read access plus the Refresher surface.
//
// One Manager exists per server request or per live client session. It is an
// explicitly constructed singleton within that scope, never a process-wide
// global.
type Manager struct {
	store   *Store
	client  *Client
	log     *slog.Logger
	tracer  trace.Tracer
	metrics *Metrics
	rctx    RenderContext

	serverRefresh bool

	refreshFlight flight[string]
	profileFlight flight[*UserProfile]
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// NewManager creates a session manager with a fresh, empty store.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	store := NewStore()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(
		slog.String("component", "authsession"),
		slog.String("render_context", cfg.Context.String()),
	)

	client, err := NewClient(store, ClientConfig{
		BackendURL:   cfg.BackendURL,
		HTTPClient:   cfg.HTTPClient,
		CookieHeader: cfg.CookieHeader,
		Logger:       logger,
		Metrics:      cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	m := &Manager{
		store:         store,
		client:        client,
		log:           logger,
		tracer:        otel.Tracer(tracerName),
		metrics:       cfg.Metrics,
		rctx:          cfg.Context,
		serverRefresh: cfg.ServerRefresh,
	}
	client.bind(m, cfg.Context == ContextClient)
	return m, nil
}

// Store exposes the session state for read access.
func (m *Manager) Store() *Store { return m.store }

// Client returns the authenticated backend client for this session. CRUD
// collaborators issue their requests through it.
func (m *Manager) Client() *Client { return m.client }

// Context reports which render context this manager serves.
func (m *Manager) Context() RenderContext { return m.rctx }

// RefreshToken exchanges the refresh credential for a new access token.
// At most one refresh is in flight at any time; concurrent callers join the
// in-flight operation and observe its result instead of issuing a second
// network call. Any failure clears the session before returning, so callers
// always see a definitive unauthenticated state rather than a stale partial
// one.
func (m *Manager) RefreshToken(ctx context.Context) (string, error) {
	token, joined, err := m.refreshFlight.Do(ctx, m.doRefresh)
	if joined {
		m.metrics.incRefreshJoined()
	}
	return token, err
}

// WaitForRefresh blocks until an in-flight refresh completes, if there is
// one. Used by the route guard to avoid deciding against transient state.
func (m *Manager) WaitForRefresh(ctx context.Context) {
	m.refreshFlight.Join(ctx)
}

func (m *Manager) doRefresh(ctx context.Context) (_ string, err error) {
	m.store.setRefreshing(true)
	defer m.store.setRefreshing(false)

	ctx, span := m.tracer.Start(ctx, "authsession.refresh")
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	m.metrics.incRefresh()

	var out tokenResponse
	if err := m.client.Request(ctx, http.MethodPost, "/auth/refresh", nil, &out); err != nil {
		m.failRefresh(err)
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	if out.AccessToken == "" {
		m.failRefresh(nil)
		return "", fmt.Errorf("%w: no access token in response", ErrRefreshFailed)
	}

	m.store.setToken(out.AccessToken)

	if m.store.User() == nil {
		if _, err := m.FetchProfile(ctx); err != nil {
			m.failRefresh(err)
			return "", fmt.Errorf("%w: fetching profile: %v", ErrRefreshFailed, err)
		}
	}

	m.log.Debug("token refreshed")
	return out.AccessToken, nil
}

// failRefresh logs the failure and clears the session.
func (m *Manager) failRefresh(cause error) {
	m.metrics.incRefreshFailure()
	if cause != nil {
		m.log.Debug("token refresh failed", errAttr(cause))
	}
	m.store.Clear()
}

// FetchProfile retrieves and stores the authenticated user's profile.
// Requires an access token; without one it fails immediately with
// ErrAuthenticationRequired and no network call. A 401 propagates to the
// caller — refreshing on 401 is the coordinator's job, not this one's, which
// prevents double-refresh loops. Concurrent calls share one request.
func (m *Manager) FetchProfile(ctx context.Context) (*UserProfile, error) {
	if m.store.AccessToken() == "" {
		return nil, ErrAuthenticationRequired
	}
	user, _, err := m.profileFlight.Do(ctx, m.doFetchProfile)
	return user, err
}

func (m *Manager) doFetchProfile(ctx context.Context) (_ *UserProfile, err error) {
	ctx, span := m.tracer.Start(ctx, "authsession.profile_fetch")
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	m.metrics.incProfileFetch()

	var raw []byte
	if err := m.client.do(ctx, http.MethodGet, "/auth/me", nil, "", &raw); err != nil {
		m.metrics.incProfileFailure()
		return nil, err
	}

	user, err := m.store.SetUserData(raw)
	if err != nil {
		m.metrics.incProfileFailure()
		return nil, err
	}
	return user, nil
}

// Login performs the resource-owner password grant against the token
// endpoint and fetches the profile on success. The refresh credential rides
// back on the token response as an HTTP-only Set-Cookie; when login flows
// through the browser-facing proxy that cookie lands in the browser's jar,
// not here — this client holds only the in-memory access token.
func (m *Manager) Login(ctx context.Context, email, password string) (*UserProfile, error) {
	conf := &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  m.client.URL("/auth/token"),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.client.HTTPClient())

	tok, err := conf.PasswordCredentialsToken(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("authsession: login: %w", err)
	}

	m.store.setToken(tok.AccessToken)
	user, err := m.FetchProfile(ctx)
	if err != nil {
		m.store.Clear()
		return nil, err
	}
	return user, nil
}

// RegisterInput is the payload for account registration.
type RegisterInput struct {
	Fullname string `json:"fullname"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a new account. It does not establish a session: the
// caller logs in afterwards, keeping the token-and-user-together invariant
// intact.
func (m *Manager) Register(ctx context.Context, in RegisterInput) error {
	if err := m.client.Request(ctx, http.MethodPost, "/auth/register", in, nil); err != nil {
		return fmt.Errorf("authsession: register: %w", err)
	}
	return nil
}

// Logout invalidates the refresh credential server-side, then clears the
// session. Idempotent: a second call finds nothing to invalidate and does
// not error. Backend failures are logged, not surfaced — the local session
// is cleared regardless.
func (m *Manager) Logout(ctx context.Context) error {
	if m.store.AccessToken() != "" || m.store.User() != nil {
		if err := m.client.do(ctx, http.MethodPost, "/auth/logout", nil, "", nil); err != nil {
			m.log.Warn("backend logout failed", errAttr(err))
		}
	}
	m.store.Clear()
	return nil
}

// LogoutSilently clears the session without a backend call. Used when the
// session is already known to be invalid.
func (m *Manager) LogoutSilently(ctx context.Context) {
	m.store.Clear()
}

// InitializeServer runs the server-context startup sequence exactly once and
// returns the hydration payload for the page shell. By default it renders
// unauthenticated and leaves reconciliation to the client; with
// ServerRefresh enabled it attempts one refresh-plus-profile and serializes
// the outcome. The payload is always marked processed and the store always
// ends initialized, so the route guard never waits on an un-set flag.
func (m *Manager) InitializeServer(ctx context.Context) *HydrationPayload {
	if m.store.IsInitialized() {
		return m.payloadFromState()
	}
	defer m.store.markInitialized()

	if m.serverRefresh && m.client.cookieHeader != "" {
		if _, err := m.RefreshToken(ctx); err != nil {
			m.log.Debug("server-side refresh produced no session", errAttr(err))
		}
	}
	return m.payloadFromState()
}

// InitializeClient runs the client-context startup sequence exactly once.
// A valid hydration payload is adopted directly with no network call; absent
// or unauthenticated payloads fall back to one refresh attempt whose failure
// is swallowed — it means "no existing session," not an error. The store
// ends initialized unconditionally, and a second call is a no-op.
func (m *Manager) InitializeClient(ctx context.Context, payload *HydrationPayload) {
	if m.store.IsInitialized() {
		return
	}
	defer m.store.markInitialized()

	if payload.Valid() {
		m.store.Hydrate(payload.AccessToken, payload.User)
		m.log.Debug("session adopted from hydration payload")
		return
	}

	if _, err := m.RefreshToken(ctx); err != nil {
		m.log.Debug("no existing session", errAttr(err))
	}
}

func (m *Manager) payloadFromState() *HydrationPayload {
	return &HydrationPayload{
		AccessToken: m.store.AccessToken(),
		User:        m.store.User(),
		Processed:   true,
	}
}

func errAttr(err error) slog.Attr { return slog.String("err", err.Error()) }
