package proxy

import "strings"

const (
	// DefaultRefreshCookieName is the refresh credential cookie name.
	DefaultRefreshCookieName = "refresh_token"

	// DefaultSameSite is the enforced SameSite attribute.
	DefaultSameSite = "Lax"
)

// CookiePolicy rewrites backend Set-Cookie headers for the proxying domain.
//
// The deployment topology is a same-origin proxy: the browser only ever
// talks to the edge, so cookies are pinned to SameSite=Lax and Secure.
// SameSite=None is deliberately not supported — the permissive combination
// widens CSRF exposure and nothing in a same-origin topology needs it.
type CookiePolicy struct {
	// RefreshCookieName is the refresh-credential cookie, which is
	// additionally forced HttpOnly. Default: "refresh_token".
	RefreshCookieName string

	// SameSite is the enforced SameSite attribute. Default: "Lax".
	SameSite string
}

func (p CookiePolicy) refreshName() string {
	if p.RefreshCookieName == "" {
		return DefaultRefreshCookieName
	}
	return p.RefreshCookieName
}

func (p CookiePolicy) sameSite() string {
	if p.SameSite == "" {
		return DefaultSameSite
	}
	return p.SameSite
}

// Rewrite normalizes one Set-Cookie header value: the Domain attribute is
// stripped so the browser defaults it to the proxying host, Secure and the
// configured SameSite are forced, and the refresh cookie is forced HttpOnly.
func (p CookiePolicy) Rewrite(setCookie string) string {
	parts := strings.Split(setCookie, ";")
	name := cookieName(parts[0])

	out := make([]string, 0, len(parts)+3)
	var hasSecure, hasHTTPOnly bool
	for i, part := range parts {
		trimmed := strings.TrimSpace(part)
		if i == 0 {
			out = append(out, trimmed)
			continue
		}
		key := strings.ToLower(trimmed)
		switch {
		case strings.HasPrefix(key, "domain="):
			// Dropped: the cookie belongs to the proxying host now.
		case strings.HasPrefix(key, "samesite"):
			// Replaced below with the enforced value.
		case key == "secure":
			hasSecure = true
			out = append(out, trimmed)
		case key == "httponly":
			hasHTTPOnly = true
			out = append(out, trimmed)
		case trimmed == "":
		default:
			out = append(out, trimmed)
		}
	}

	out = append(out, "SameSite="+p.sameSite())
	if !hasSecure {
		out = append(out, "Secure")
	}
	if !hasHTTPOnly && strings.EqualFold(name, p.refreshName()) {
		out = append(out, "HttpOnly")
	}
	return strings.Join(out, "; ")
}

// Clearing returns an explicit expiry directive for the refresh cookie.
// Appended on successful logout because some browser/proxy combinations do
// not reliably honor the backend's own clearing instruction.
func (p CookiePolicy) Clearing() string {
	return p.refreshName() + "=; Path=/; Max-Age=0; HttpOnly; Secure; SameSite=" + p.sameSite()
}

// cookieName extracts the cookie name from a "name=value" pair.
func cookieName(pair string) string {
	pair = strings.TrimSpace(pair)
	if i := strings.IndexByte(pair, '='); i >= 0 {
		return pair[:i]
	}
	return pair
}

// cookieNames lists the cookie names in a Cookie or Set-Cookie header value,
// for logging without exposing values.
func cookieNames(header string) []string {
	var names []string
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.IndexByte(part, '='); i >= 0 {
			names = append(names, part[:i])
		}
	}
	return names
}
