package auth

import (
	"context"
	"encoding/json"
	"sync"
)

// CacheKeyUser is the local cache key holding the JSON encoded user.
const CacheKeyUser = "kazini_user"

// SessionStore holds the current user and token pair. The pair is replaced
// atomically and mirrored to the local cache; it is never merged except by
// UpdateTokens.
type SessionStore struct {
	// writeMu orders mutations with their cache writes.
	writeMu sync.Mutex
	mu      sync.RWMutex
	user    *User
	session *Session
	loading int
	err     error

	cache  LocalCache
	logger Logger
}

// StoreOption customizes a SessionStore.
type StoreOption func(*SessionStore)

// WithStoreLogger sets the logger used for cache failures.
func WithStoreLogger(logger Logger) StoreOption {
	return func(s *SessionStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSessionStore returns an empty store backed by cache. A nil cache keeps
// state in memory only.
func NewSessionStore(cache LocalCache, opts ...StoreOption) *SessionStore {
	s := &SessionStore{cache: cache, logger: defaultLogger()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// User returns a copy of the current user or nil.
func (s *SessionStore) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.Clone()
}

// Session returns the current token pair or nil.
func (s *SessionStore) Session() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	c := *s.session
	return &c
}

// Loading reports whether any operation is in flight.
func (s *SessionStore) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading > 0
}

// Err returns the last error surfaced to the presentation layer.
func (s *SessionStore) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// SetError records err for display; nil clears it.
func (s *SessionStore) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// BeginLoading marks an operation in flight. The returned func must be called
// exactly once, typically deferred; extra calls are ignored.
func (s *SessionStore) BeginLoading() func() {
	s.mu.Lock()
	s.loading++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.loading > 0 {
				s.loading--
			}
			s.mu.Unlock()
		})
	}
}

// SetUser replaces the user, keeps no token pair and persists to the cache.
// Used for guests and cold-start restoration.
func (s *SessionStore) SetUser(ctx context.Context, u *User) {
	s.SetSession(ctx, u, nil)
}

// SetSession replaces user and token pair together.
func (s *SessionStore) SetSession(ctx context.Context, u *User, tokens *Session) {
	if u == nil {
		s.Clear(ctx)
		return
	}
	u = u.Clone()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.user = u
	s.session = tokens.Tokens()
	s.err = nil
	s.mu.Unlock()

	s.persist(ctx, u)
}

// UpdateTokens swaps the token pair when it belongs to the current user. It
// reports whether the store changed.
func (s *SessionStore) UpdateTokens(userID string, tokens *Session) bool {
	if tokens == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil || s.user.ID != userID {
		return false
	}
	s.session = tokens.Tokens()
	return true
}

// AccessToken returns the stored access token or "".
func (s *SessionStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.AccessToken
}

// Clear removes the user from memory and the cache. It reports whether a
// user was held.
func (s *SessionStore) Clear(ctx context.Context) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	had := s.user != nil
	s.user = nil
	s.session = nil
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Delete(ctx, CacheKeyUser); err != nil {
			s.logger.Warn("session store: failed to delete cached user", "error", err)
		}
	}
	return had
}

// Restore loads the cached user into memory. It returns nil when nothing
// usable is cached; a corrupt entry is dropped.
func (s *SessionStore) Restore(ctx context.Context) *User {
	if s.cache == nil {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	raw, err := s.cache.Get(ctx, CacheKeyUser)
	if err != nil {
		s.logger.Warn("session store: failed to read cached user", "error", err)
		return nil
	}
	if len(raw) == 0 {
		return nil
	}

	u := &User{}
	if err := json.Unmarshal(raw, u); err != nil || u.ID == "" {
		s.logger.Warn("session store: discarding unreadable cached user", "error", err)
		if derr := s.cache.Delete(ctx, CacheKeyUser); derr != nil {
			s.logger.Warn("session store: failed to delete cached user", "error", derr)
		}
		return nil
	}
	if u.Plan == "" {
		u.Plan = PlanFree
	}

	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
	return u.Clone()
}

func (s *SessionStore) persist(ctx context.Context, u *User) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(u)
	if err != nil {
		s.logger.Error("session store: failed to encode user", "error", err)
		return
	}
	if err := s.cache.Set(ctx, CacheKeyUser, raw); err != nil {
		s.logger.Warn("session store: failed to cache user", "error", err)
	}
}
