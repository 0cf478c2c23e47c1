package edge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coachcall/edge/internal/config"
	"github.com/coachcall/edge/pkg/authsession"
	"github.com/coachcall/edge/pkg/avatar"
	"github.com/coachcall/edge/pkg/guard"
	"github.com/coachcall/edge/pkg/live"
	"github.com/coachcall/edge/pkg/middleware"
	"github.com/coachcall/edge/pkg/proxy"
)

// App is the edge server: it renders page shells, proxies /api to the
// backend, runs live sessions over WebSocket, and stores avatar uploads.
//
//	cfg, _ := config.Load(".")
//	app, _ := edge.New(cfg)
//	app.Run(context.Background())
type App struct {
	cfg    *config.Config
	log    *slog.Logger
	router chi.Router

	guard       *guard.Guard
	proxy       *proxy.Handler
	live        *live.Server
	avatars     avatar.Store
	registry    *prometheus.Registry
	authMetrics *authsession.Metrics

	// transport overrides the backend transport, for tests.
	transport http.RoundTripper
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.log = logger }
}

// WithAvatarStore overrides the avatar store built from configuration.
func WithAvatarStore(store avatar.Store) Option {
	return func(a *App) { a.avatars = store }
}

// WithTransport overrides the transport used for backend calls.
func WithTransport(rt http.RoundTripper) Option {
	return func(a *App) { a.transport = rt }
}

// New assembles the edge server from configuration.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.New()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector())
	a.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.authMetrics = authsession.NewMetrics(
		authsession.WithMetricsNamespace(cfg.Metrics.Namespace),
		authsession.WithMetricsRegistry(a.registry),
	)

	a.guard = guard.New(cfg.GuardRoutes(), guard.WithLogger(a.log))

	p, err := proxy.New(proxy.Config{
		BackendURL: cfg.BackendURL,
		Cookies:    cfg.CookiePolicy(),
		Transport:  a.transport,
		Logger:     a.log,
		Metrics: proxy.NewMetrics(
			proxy.WithNamespace(cfg.Metrics.Namespace),
			proxy.WithRegistry(a.registry),
		),
	})
	if err != nil {
		return nil, err
	}
	a.proxy = p

	if a.avatars == nil {
		store, err := a.buildAvatarStore()
		if err != nil {
			return nil, err
		}
		a.avatars = store
	}

	ls, err := live.NewServer(live.Config{
		Sessions: a.clientSession,
		Guard:    a.guard,
		Logger:   a.log,
	})
	if err != nil {
		return nil, err
	}
	a.live = ls

	a.router = a.buildRouter()
	return a, nil
}

func (a *App) buildAvatarStore() (avatar.Store, error) {
	switch a.cfg.Avatar.Store {
	case config.AvatarStoreS3:
		return a.buildS3AvatarStore()
	default:
		return avatar.NewDiskStore(a.cfg.Avatar.Dir, a.cfg.Avatar.BaseURL, a.cfg.Avatar.MaxSizeBytes)
	}
}

// serverSession builds the per-request server-context session manager.
func (a *App) serverSession(r *http.Request) (*authsession.Manager, error) {
	return authsession.NewManager(authsession.ManagerConfig{
		Context:       authsession.ContextServer,
		BackendURL:    a.cfg.BackendURL,
		CookieHeader:  r.Header.Get("Cookie"),
		HTTPClient:    a.backendClient(),
		ServerRefresh: a.cfg.ServerRefresh,
		Logger:        a.log,
		Metrics:       a.authMetrics,
	})
}

// clientSession builds the session manager owned by a live connection. It
// relays the upgrade request's cookies so refreshes carry the credential.
func (a *App) clientSession(r *http.Request) (*authsession.Manager, error) {
	return authsession.NewManager(authsession.ManagerConfig{
		Context:      authsession.ContextClient,
		BackendURL:   a.cfg.BackendURL,
		CookieHeader: r.Header.Get("Cookie"),
		HTTPClient:   a.backendClient(),
		Logger:       a.log,
		Metrics:      a.authMetrics,
	})
}

func (a *App) backendClient() *http.Client {
	if a.transport == nil {
		return nil
	}
	return &http.Client{Transport: a.transport, Timeout: 30 * time.Second}
}

func (a *App) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.OpenTelemetry(
		middleware.WithTracerName("coachcall/edge"),
		middleware.WithFilter(func(req *http.Request) bool {
			return req.URL.Path != "/healthz" && req.URL.Path != "/metrics"
		}),
	))
	r.Use(middleware.RequestLogger(a.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	// Backend API, same origin. The proxy rewrites cookies and forwards
	// the browser's credential headers untouched.
	r.Handle("/api/*", http.StripPrefix("/api", a.proxy))

	r.Handle("/live", a.live)
	r.Method(http.MethodPost, "/avatar", avatar.Handler(a.avatars, a.cfg.Avatar.MaxSizeBytes, a.uploadSession, a.log))
	if a.cfg.Avatar.Store == config.AvatarStoreDisk {
		a.mountAvatarFiles(r)
	}

	// Page shells, guarded. Every page route renders the same shell with
	// its hydration payload; the client takes over from there.
	pages := r.With(a.guard.Middleware(a.serverSession))
	for _, route := range a.pageRoutes() {
		pages.Get(route, a.renderShell)
	}

	return r
}

// uploadSession resolves the session for an avatar upload. Uploads ride the
// page origin, so the server-context manager with a refresh attempt is used
// to authenticate the request.
func (a *App) uploadSession(r *http.Request) (*authsession.Manager, bool) {
	m, err := authsession.NewManager(authsession.ManagerConfig{
		Context:       authsession.ContextServer,
		BackendURL:    a.cfg.BackendURL,
		CookieHeader:  r.Header.Get("Cookie"),
		HTTPClient:    a.backendClient(),
		ServerRefresh: true,
		Logger:        a.log,
		Metrics:       a.authMetrics,
	})
	if err != nil {
		return nil, false
	}
	m.InitializeServer(r.Context())
	return m, true
}

// ServeHTTP serves the assembled edge routes.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// Run starts the server and blocks until the context is canceled or a
// shutdown signal arrives.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           a,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("edge server listening", slog.String("addr", a.cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
