// Package edge assembles the CoachCall edge server.
//
// The edge is the one origin the browser talks to. It renders page shells
// with a session hydration payload, proxies /api to the backend with cookie
// rewriting, runs live sessions over /live, and stores avatar uploads.
// Session semantics live in pkg/authsession; this package only wires the
// pieces to routes.
package edge
