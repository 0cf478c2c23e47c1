package authsession

import (
	"net/http"
	"strings"
)

// publicAuthPaths are backend endpoints that must never receive a bearer
// token: token issuance, refresh, and registration. Attaching a stale or
// absent token there is either meaningless or masks the real error.
var publicAuthPaths = map[string]struct{}{
	"/auth/token":    {},
	"/auth/refresh":  {},
	"/auth/register": {},
}

func isPublicAuthPath(path string) bool {
	_, ok := publicAuthPaths[strings.TrimSuffix(path, "/")]
	return ok
}

// Transport is an [http.RoundTripper] that attaches the session's bearer
// token to outgoing requests. Public auth endpoints are left untouched, as
// are requests that already carry an Authorization header.
type Transport struct {
	// Store supplies the current access token.
	Store *Store

	// Base is the underlying transport. If nil, http.DefaultTransport is used.
	Base http.RoundTripper
}

// RoundTrip implements [http.RoundTripper].
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token := ""
	if t.Store != nil {
		token = t.Store.AccessToken()
	}

	if token != "" && req.Header.Get("Authorization") == "" && !isPublicAuthPath(req.URL.Path) {
		// Clone so the caller's request is not mutated.
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
