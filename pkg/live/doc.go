// Package live runs the browser-facing live session over a WebSocket.
//
// Each connection owns a client-context session manager. The client opens
// the socket after the page renders and sends a hello message carrying the
// page's hydration payload; the connection adopts that state, so the socket
// continues the session the server-side render started instead of refreshing
// again.
//
// Navigation requests arrive as messages and are answered with guard
// decisions. When a token refresh is rejected by the backend, the client is
// pushed a session_expired message so it can return to the login page
// without polling.
package live
