// Package session holds the authenticated manager's session state.
package session

import (
	"sync"
)

// Store owns the session token and the identity derived from it. The token
// gates everything else in the monitoring session: while it is empty no
// connection exists and no feed receives updates.
//
// Token changes are fanned out to subscribers so the transport can tear down
// and re-key its connection. Callbacks run outside the store's lock, in
// subscription order, on the goroutine that performed the change.
type Store struct {
	mu          sync.RWMutex
	token       string
	pushToken   string
	displayName string

	nextSubID int
	subs      map[int]func(token string)
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{subs: make(map[int]func(string))}
}

// SetToken replaces the session token. Subscribers are notified only when the
// value actually changes; setting the current value is a no-op.
func (s *Store) SetToken(token string) {
	s.mu.Lock()
	if s.token == token {
		s.mu.Unlock()
		return
	}
	s.token = token
	subs := s.snapshotSubsLocked()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(token)
	}
}

// Clear drops the token and derived identity. Equivalent to SetToken("")
// plus forgetting the display name; the push token survives a logout so a
// re-login can reuse it.
func (s *Store) Clear() {
	s.mu.Lock()
	if s.token == "" {
		s.displayName = ""
		s.mu.Unlock()
		return
	}
	s.token = ""
	s.displayName = ""
	subs := s.snapshotSubsLocked()
	s.mu.Unlock()

	for _, fn := range subs {
		fn("")
	}
}

// Token returns the current session token, or "" when unauthenticated.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Active reports whether a session token is present.
func (s *Store) Active() bool {
	return s.Token() != ""
}

// SetPushToken records the device push token used as auxiliary auth metadata.
func (s *Store) SetPushToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushToken = token
}

// PushToken returns the device push token, if registered.
func (s *Store) PushToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pushToken
}

// SetDisplayName records the manager's display name.
func (s *Store) SetDisplayName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.displayName = name
}

// DisplayName returns the manager's display name, or "" when unknown.
func (s *Store) DisplayName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displayName
}

// OnTokenChange registers fn to run whenever the token value changes.
// The returned function removes the subscription; calling it twice is safe.
func (s *Store) OnTokenChange(fn func(token string)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// snapshotSubsLocked copies the subscriber list in id order so callbacks run
// outside the lock. Must be called with s.mu held.
func (s *Store) snapshotSubsLocked() []func(string) {
	out := make([]func(string), 0, len(s.subs))
	for id := 0; id < s.nextSubID; id++ {
		if fn, ok := s.subs[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}
