package proxy

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the tracer for proxied requests.
const tracerName = "coachcall/proxy"

// logoutPath is the backend path whose successful responses additionally
// clear the refresh cookie.
const logoutPath = "/auth/logout"

// forwardedAuthHeader is the custom header some intermediaries use to smuggle
// the bearer token past layers that strip Authorization. The proxy maps it
// back before forwarding.
const forwardedAuthHeader = "X-Auth-Token"

// Config configures the backend proxy.
type Config struct {
	// BackendURL is the backend API origin. Required.
	BackendURL string

	// Cookies is the Set-Cookie rewriting policy.
	Cookies CookiePolicy

	// Transport is the upstream transport. If nil, http.DefaultTransport.
	Transport http.RoundTripper

	// Logger is the structured logger. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Metrics records proxy metrics. May be nil.
	Metrics *Metrics
}

// Handler relays API calls to the backend origin. Inbound headers are copied
// minus Host, the forwarded-auth header is mapped back to Authorization,
// and every backend Set-Cookie is rewritten for the proxying domain. Errors
// from the backend are relayed with their original status; bodies pass
// through unmodified. Upgrade requests (WebSocket) pass through via the
// standard library reverse proxy's upgrade handling.
//
// Mount it behind a prefix strip:
//
//	r.Handle("/api/*", http.StripPrefix("/api", proxyHandler))
type Handler struct {
	target  *url.URL
	rp      *httputil.ReverseProxy
	cookies CookiePolicy
	log     *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// New creates a backend proxy handler.
func New(cfg Config) (*Handler, error) {
	if cfg.BackendURL == "" {
		return nil, fmt.Errorf("proxy: Config.BackendURL is required")
	}
	target, err := url.Parse(cfg.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("proxy: parsing backend URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("proxy: backend URL %q needs scheme and host", cfg.BackendURL)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		target:  target,
		cookies: cfg.Cookies,
		log:     logger.With(slog.String("component", "proxy")),
		metrics: cfg.Metrics,
		tracer:  otel.Tracer(tracerName),
	}

	h.rp = &httputil.ReverseProxy{
		Transport:      cfg.Transport,
		Rewrite:        h.rewriteRequest,
		ModifyResponse: h.rewriteResponse,
		ErrorHandler:   h.upstreamError,
	}
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "proxy.forward",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
	defer span.End()

	start := time.Now()
	sw := &statusWriter{ResponseWriter: w}
	h.rp.ServeHTTP(sw, r.WithContext(ctx))

	status := sw.status
	if status == 0 {
		status = http.StatusOK
	}
	h.metrics.observeRequest(r.Method, status, time.Since(start).Seconds())
	if status >= 500 {
		span.SetStatus(codes.Error, http.StatusText(status))
	}

	h.log.Debug("proxied request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Any("cookies", cookieNames(r.Header.Get("Cookie"))),
		slog.Bool("has_authorization", r.Header.Get("Authorization") != ""),
		slog.Bool("has_forwarded_auth", r.Header.Get(forwardedAuthHeader) != ""),
	)
}

func (h *Handler) rewriteRequest(pr *httputil.ProxyRequest) {
	pr.SetURL(h.target)
	pr.SetXForwarded()

	// The backend must see its own host, not the edge's.
	pr.Out.Host = h.target.Host

	// Map the forwarded-auth header back to a standard bearer header,
	// overriding anything an intermediary injected.
	if v := pr.Out.Header.Get(forwardedAuthHeader); v != "" {
		pr.Out.Header.Set("Authorization", v)
	}

	if pr.Out.Header.Get("X-Request-ID") == "" {
		pr.Out.Header.Set("X-Request-ID", uuid.NewString())
	}
}

func (h *Handler) rewriteResponse(resp *http.Response) error {
	setCookies := resp.Header.Values("Set-Cookie")
	if len(setCookies) > 0 {
		resp.Header.Del("Set-Cookie")
		for _, c := range setCookies {
			resp.Header.Add("Set-Cookie", h.cookies.Rewrite(c))
		}
		h.metrics.addCookiesRewritten(len(setCookies))
	}

	if isLogout(resp.Request) && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		resp.Header.Add("Set-Cookie", h.cookies.Clearing())
		h.log.Debug("logout succeeded, forcing refresh cookie clearance")
	}
	return nil
}

func (h *Handler) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	h.metrics.incUpstreamError()
	h.log.Error("upstream request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("err", err.Error()),
	)
	w.WriteHeader(http.StatusBadGateway)
	fmt.Fprint(w, `{"error":"backend request failed"}`)
}

func isLogout(r *http.Request) bool {
	return r != nil && r.Method == http.MethodPost && strings.TrimSuffix(r.URL.Path, "/") == logoutPath
}

// statusWriter records the status code written by the reverse proxy.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, which
// keeps flushing and connection hijacking (upgrade pass-through) working.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
