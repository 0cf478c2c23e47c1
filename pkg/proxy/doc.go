// Package proxy relays API traffic between the browser and the backend API.
//
// The edge serves the whole app from one origin; everything under /api is
// forwarded to the backend with headers intact (minus Host), which is what
// lets the HTTP-only refresh cookie travel with requests the application
// code never sees. On the way back, Set-Cookie headers are rewritten so the
// cookies belong to the proxying domain: Domain stripped, Secure and
// SameSite=Lax forced, HttpOnly forced on the refresh cookie, and an
// explicit Max-Age=0 clearing directive appended after a successful logout.
//
//	h, _ := proxy.New(proxy.Config{BackendURL: "https://api.example.com"})
//	r.Handle("/api/*", http.StripPrefix("/api", h))
package proxy
