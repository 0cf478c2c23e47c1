// Package config loads the edge server configuration from coachcall.json
// with COACHCALL_* environment overrides. A missing file is not an error;
// the defaults describe a local single-origin deployment proxying
// http://localhost:8000.
package config
