// Package authsession manages the access-token and profile lifecycle for one
// render context of the CoachCall edge: issuance, silent refresh, hydration
// handoff, and authenticated backend calls.
//
// # Render Contexts
//
// A Manager serves exactly one context. The server context is a one-shot page
// render that produces a hydration payload; the client context is a
// long-lived session that consumes it:
//
//	// per inbound page request
//	m, _ := authsession.NewManager(authsession.ManagerConfig{
//	    Context:      authsession.ContextServer,
//	    BackendURL:   cfg.BackendURL,
//	    CookieHeader: r.Header.Get("Cookie"),
//	})
//	payload := m.InitializeServer(r.Context())
//
//	// per live client session
//	m, _ := authsession.NewManager(authsession.ManagerConfig{
//	    Context:      authsession.ContextClient,
//	    BackendURL:   cfg.BackendURL,
//	    CookieHeader: handshakeCookies,
//	})
//	m.InitializeClient(ctx, payload)
//
// # Single-Flight Refresh
//
// At most one token refresh is in flight per session. Concurrent callers —
// N requests all hitting 401 at once — join the same operation and observe
// the same result; the refresh credential is never raced against itself.
// Profile fetches deduplicate the same way.
//
// # Authenticated Requests
//
// Collaborators issue backend calls through the session's Client, which
// attaches the bearer token, detects 401, refreshes once, and retries once:
//
//	var courses []Course
//	err := m.Client().Request(ctx, "GET", "/courses", nil, &courses)
//
// Failures that indicate a truly invalid session clear the store, so readers
// of Store never observe half-authenticated state.
package authsession
