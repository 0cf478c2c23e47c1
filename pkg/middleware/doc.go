// Package middleware provides HTTP middleware for the edge server: request
// logging and OpenTelemetry tracing. Both wrap standard http.Handler chains
// and compose with chi's Use.
package middleware
