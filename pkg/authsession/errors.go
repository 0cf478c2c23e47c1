package authsession

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAuthenticationRequired is returned when an operation that needs an
// access token is attempted without one. It is never retried automatically.
var ErrAuthenticationRequired = errors.New("authsession: authentication required")

// ErrRefreshFailed is returned when the refresh endpoint rejects the refresh
// credential. The session is cleared before this error is returned, so the
// caller always observes a definitive unauthenticated state.
var ErrRefreshFailed = errors.New("authsession: token refresh failed")

// ErrSessionInvalid is returned when a request still receives 401 after a
// successful refresh. The session has been cleared; callers should redirect
// to login.
var ErrSessionInvalid = errors.New("authsession: session invalid")

// StatusError is a non-2xx response from the backend. It carries the status
// code so 401 detection is a typed predicate instead of ad-hoc inspection of
// transport error shapes.
type StatusError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("authsession: backend returned %s", e.Status)
}

// IsUnauthorized reports whether err is a 401 response from the backend.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}

// ProfileValidationError is returned when the backend profile response is
// missing a required field. A malformed profile is treated as unauthenticated,
// never as a partially valid user.
type ProfileValidationError struct {
	Field string
}

func (e *ProfileValidationError) Error() string {
	return fmt.Sprintf("authsession: profile missing required field %q", e.Field)
}
