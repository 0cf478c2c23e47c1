package authsession

import "sync"

// Store holds the in-memory session state: access token and authenticated
// user. It is the single piece of mutable shared state in the subsystem and
// performs no I/O. The Manager, and nothing else, writes to it; all other
// components treat it as read-only plus the narrow mutation API.
//
// Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	accessToken string
	user        *UserProfile
	initialized bool
	refreshing  bool
}

// NewStore returns an empty, uninitialized store.
func NewStore() *Store {
	return &Store{}
}

// AccessToken returns the current access token, or "" when absent.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// User returns the authenticated user profile, or nil when absent.
func (s *Store) User() *UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// IsAuthenticated reports whether both an access token and a user profile
// are present. A token without a profile (or the reverse) is not an
// authenticated session.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken != "" && s.user != nil
}

// IsInitialized reports whether the startup sequence for this session's
// render context has completed (successfully or not).
func (s *Store) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// IsRefreshing reports whether a token refresh is currently in flight.
func (s *Store) IsRefreshing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshing
}

// SetUserData validates raw backend profile data and, on success, stores the
// parsed user. On validation failure the profile is discarded and the store
// is unchanged.
func (s *Store) SetUserData(data []byte) (*UserProfile, error) {
	user, err := ParseProfile(data)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	return user, nil
}

// Hydrate adopts a token and user handed over from another render context
// (the server-to-client hydration payload). No validation is performed; the
// payload was validated when it was produced.
func (s *Store) Hydrate(token string, user *UserProfile) {
	s.mu.Lock()
	s.accessToken = token
	s.user = user
	s.mu.Unlock()
}

// Clear resets the token and user to their zero values. The initialized flag
// is preserved so an explicit logout does not re-trigger startup logic.
func (s *Store) Clear() {
	s.mu.Lock()
	s.accessToken = ""
	s.user = nil
	s.mu.Unlock()
}

func (s *Store) setToken(token string) {
	s.mu.Lock()
	s.accessToken = token
	s.mu.Unlock()
}

func (s *Store) markInitialized() {
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
}

func (s *Store) setRefreshing(v bool) {
	s.mu.Lock()
	s.refreshing = v
	s.mu.Unlock()
}
