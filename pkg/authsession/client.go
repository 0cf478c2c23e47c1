package authsession

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// maxErrorBody caps how much of an error response body is retained on a
// StatusError.
const maxErrorBody = 1 << 20

// Refresher is the narrow mutation surface the authenticated client needs
// from the session manager: trigger one refresh, or give up and clear the
// session. It never writes store fields directly.
type Refresher interface {
	RefreshToken(ctx context.Context) (string, error)
	LogoutSilently(ctx context.Context)
}

// ClientConfig configures the authenticated backend client.
type ClientConfig struct {
	// BackendURL is the backend API origin, e.g. "https://api.example.com".
	// Required.
	BackendURL string

	// HTTPClient is the underlying HTTP client. Its transport is wrapped with
	// the bearer-attaching Transport. If nil, a default client is used.
	HTTPClient *http.Client

	// CookieHeader is a raw Cookie header forwarded on backend calls. The
	// refresh credential lives in an HTTP-only cookie the edge captures from
	// the inbound request (or the WebSocket handshake) and relays here.
	CookieHeader string

	// Logger is the structured logger. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Metrics records client metrics. May be nil.
	Metrics *Metrics
}

// Client issues requests to the backend API with the session's bearer token
// attached. In the client render context a 401 triggers exactly one refresh
// and one retry of the original request; a second 401 after a successful
// refresh invalidates the session.
type Client struct {
	base         *url.URL
	httpc        *http.Client
	store        *Store
	log          *slog.Logger
	metrics      *Metrics
	cookieHeader string

	// refresher and retryOn401 are bound by the Manager. Server-context
	// managers leave retryOn401 false: server-side retries are not attempted,
	// to avoid infinite proxy loops.
	refresher  Refresher
	retryOn401 bool
}

// NewClient creates an authenticated backend client reading tokens from store.
func NewClient(store *Store, cfg ClientConfig) (*Client, error) {
	if cfg.BackendURL == "" {
		return nil, fmt.Errorf("authsession: ClientConfig.BackendURL is required")
	}
	base, err := url.Parse(cfg.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("authsession: parsing backend URL: %w", err)
	}

	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{}
	}
	// Wrap the transport so every outgoing request picks up the current
	// token, including requests issued by third-party token plumbing.
	wrapped := *httpc
	wrapped.Transport = &Transport{Store: store, Base: httpc.Transport}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		base:         base,
		httpc:        &wrapped,
		store:        store,
		log:          logger.With(slog.String("component", "authsession")),
		metrics:      cfg.Metrics,
		cookieHeader: cfg.CookieHeader,
	}, nil
}

// bind wires the client to its manager. Called once during manager setup.
func (c *Client) bind(r Refresher, retryOn401 bool) {
	c.refresher = r
	c.retryOn401 = retryOn401
}

// HTTPClient returns the underlying HTTP client, with the bearer transport
// applied. Used for token plumbing that requires an *http.Client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpc
}

// URL resolves a backend path against the configured origin.
func (c *Client) URL(path string) string {
	rel, err := url.Parse(path)
	if err != nil {
		return c.base.String() + path
	}
	return c.base.ResolveReference(rel).String()
}

// Request issues a backend request and decodes the JSON response into out.
//
// body may be nil, url.Values (form-encoded), []byte, io.Reader, or any
// JSON-marshalable value. out may be nil (response discarded), *[]byte
// (raw body), or a pointer for JSON decoding.
//
// On a 401 for a non-public path, and only when the manager runs in the
// client context, the client refreshes once and retries once.
func (c *Client) Request(ctx context.Context, method, path string, body, out any) error {
	payload, contentType, err := encodeBody(body)
	if err != nil {
		return err
	}

	reqErr := c.do(ctx, method, path, payload, contentType, out)
	if reqErr == nil || !c.retryOn401 || c.refresher == nil {
		return reqErr
	}
	if isPublicAuthPath(path) || !IsUnauthorized(reqErr) {
		return reqErr
	}

	c.log.Debug("401 received, refreshing token", slog.String("path", path))
	if _, err := c.refresher.RefreshToken(ctx); err != nil {
		// Refresh already cleared the session; surface its failure.
		return err
	}

	c.metrics.incRetryAfter401()
	retryErr := c.do(ctx, method, path, payload, contentType, out)
	if retryErr != nil && IsUnauthorized(retryErr) {
		// A second 401 after a successful refresh means the session is truly
		// invalid, not merely stale.
		c.metrics.incSessionInvalid()
		c.refresher.LogoutSilently(ctx)
		return fmt.Errorf("%w: %s %s rejected after refresh", ErrSessionInvalid, method, path)
	}
	return retryErr
}

// do issues a single request attempt with no retry logic.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("authsession: building request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.cookieHeader != "" {
		req.Header.Set("Cookie", c.cookieHeader)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("authsession: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: body}
	}

	switch v := out.(type) {
	case nil:
		io.Copy(io.Discard, resp.Body)
		return nil
	case *[]byte:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("authsession: reading response: %w", err)
		}
		*v = data
		return nil
	default:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("authsession: decoding response: %w", err)
		}
		return nil
	}
}

func encodeBody(body any) (payload []byte, contentType string, err error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case url.Values:
		return []byte(v.Encode()), "application/x-www-form-urlencoded", nil
	case []byte:
		return v, "application/json", nil
	case io.Reader:
		data, err := io.ReadAll(v)
		if err != nil {
			return nil, "", fmt.Errorf("authsession: reading request body: %w", err)
		}
		return data, "application/json", nil
	case string:
		return []byte(v), "application/json", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("authsession: encoding request body: %w", err)
		}
		return data, "application/json", nil
	}
}
