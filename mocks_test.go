package auth_test

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/kazini-app/go-kazini-auth"
	"github.com/stretchr/testify/mock"
)

// MockAuthority implements auth.AuthAuthority. Remote operations go through
// testify; state change listeners are real so tests can push notifications.
type MockAuthority struct {
	mock.Mock

	mu        sync.Mutex
	listeners map[int]auth.AuthStateListener
	next      int
}

func (m *MockAuthority) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	args := m.Called(ctx, email, password)
	s, _ := args.Get(0).(*auth.Session)
	return s, args.Error(1)
}

func (m *MockAuthority) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*auth.Identity, *auth.Session, error) {
	args := m.Called(ctx, email, password, metadata)
	i, _ := args.Get(0).(*auth.Identity)
	s, _ := args.Get(1).(*auth.Session)
	return i, s, args.Error(2)
}

func (m *MockAuthority) SignInWithOTP(ctx context.Context, req auth.OTPRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockAuthority) VerifyOTP(ctx context.Context, req auth.VerifyOTPRequest) (*auth.Session, error) {
	args := m.Called(ctx, req)
	s, _ := args.Get(0).(*auth.Session)
	return s, args.Error(1)
}

func (m *MockAuthority) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	args := m.Called(ctx, provider, redirectTo)
	return args.String(0), args.Error(1)
}

func (m *MockAuthority) GetSession(ctx context.Context) (*auth.Session, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(*auth.Session)
	return s, args.Error(1)
}

func (m *MockAuthority) SetSession(ctx context.Context, accessToken, refreshToken string) (*auth.Session, error) {
	args := m.Called(ctx, accessToken, refreshToken)
	s, _ := args.Get(0).(*auth.Session)
	return s, args.Error(1)
}

func (m *MockAuthority) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockAuthority) Resend(ctx context.Context, kind auth.ResendType, email string) error {
	args := m.Called(ctx, kind, email)
	return args.Error(0)
}

func (m *MockAuthority) OnAuthStateChange(listener auth.AuthStateListener) auth.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listeners == nil {
		m.listeners = map[int]auth.AuthStateListener{}
	}
	id := m.next
	m.next++
	m.listeners[id] = listener
	return &mockSubscription{unsubscribe: func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}}
}

// Notify delivers a state change to every registered listener.
func (m *MockAuthority) Notify(event auth.AuthEvent, session *auth.Session) {
	m.mu.Lock()
	ls := make([]auth.AuthStateListener, 0, len(m.listeners))
	for _, l := range m.listeners {
		ls = append(ls, l)
	}
	m.mu.Unlock()
	for _, l := range ls {
		l(event, session)
	}
}

func (m *MockAuthority) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

type mockSubscription struct {
	once        sync.Once
	unsubscribe func()
}

func (s *mockSubscription) Unsubscribe() {
	s.once.Do(s.unsubscribe)
}

// MockCodeAuthority adds the PKCE code exchange.
type MockCodeAuthority struct {
	MockAuthority
}

func (m *MockCodeAuthority) ExchangeCodeForSession(ctx context.Context, code string) (*auth.Session, error) {
	args := m.Called(ctx, code)
	s, _ := args.Get(0).(*auth.Session)
	return s, args.Error(1)
}

// MockProfiles implements auth.ProfileStore.
type MockProfiles struct {
	mock.Mock
}

func (m *MockProfiles) Upsert(ctx context.Context, profile *auth.Profile) (*auth.Profile, error) {
	args := m.Called(ctx, profile)
	p, _ := args.Get(0).(*auth.Profile)
	return p, args.Error(1)
}

func (m *MockProfiles) Get(ctx context.Context, id string) (*auth.Profile, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*auth.Profile)
	return p, args.Error(1)
}

// memoryProfiles is a working in-memory profile store. Like the real
// stores, an upsert on an existing row leaves plan, role, location and the
// partner flags alone.
type memoryProfiles struct {
	mu       sync.Mutex
	records  map[string]auth.Profile
	upserts  int
	afterGet func(id string)
}

func newMemoryProfiles(seed ...auth.Profile) *memoryProfiles {
	m := &memoryProfiles{records: map[string]auth.Profile{}}
	for _, p := range seed {
		m.records[p.ID] = p
	}
	return m
}

func (m *memoryProfiles) Upsert(_ context.Context, profile *auth.Profile) (*auth.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	next := *profile
	if prev, ok := m.records[profile.ID]; ok {
		next.Plan = prev.Plan
		next.Role = prev.Role
		next.Location = prev.Location
		next.IsInvitedPartner = prev.IsInvitedPartner
		next.PartnerSessionID = prev.PartnerSessionID
		next.IsCoupleModeActive = prev.IsCoupleModeActive
		next.CreatedAt = prev.CreatedAt
	}
	m.records[profile.ID] = next
	out := next
	return &out, nil
}

func (m *memoryProfiles) Get(_ context.Context, id string) (*auth.Profile, error) {
	m.mu.Lock()
	p, ok := m.records[id]
	hook := m.afterGet
	m.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	if !ok {
		return nil, auth.ErrProfileNotFound
	}
	return &p, nil
}

func (m *memoryProfiles) setPlan(id string, plan auth.Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.records[id]
	p.Plan = plan
	m.records[id] = p
}

func (m *memoryProfiles) record(id string) (auth.Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.records[id]
	return p, ok
}

// memoryCache implements auth.LocalCache.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	failSet error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSet != nil {
		return c.failSet
	}
	c.entries[key] = append([]byte(nil), value...)
	return nil
}

func (c *memoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *memoryCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// fakeLocation implements auth.Location.
type fakeLocation struct {
	mu       sync.Mutex
	current  *url.URL
	replaced int
}

func newFakeLocation(raw string) *fakeLocation {
	u, err := url.Parse(raw)
	if err != nil {
		panic(err)
	}
	return &fakeLocation{current: u}
}

func (l *fakeLocation) URL() *url.URL {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := *l.current
	return &c
}

func (l *fakeLocation) Replace(u *url.URL) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := *u
	l.current = &c
	l.replaced++
}

func (l *fakeLocation) String() string {
	return l.URL().String()
}

func (l *fakeLocation) Replaced() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.replaced
}

// signalRecorder collects emitted signals.
type signalRecorder struct {
	mu      sync.Mutex
	signals []auth.Signal
	ch      chan auth.Signal
}

func recordSignals(hub *auth.Signals) (*signalRecorder, auth.Subscription) {
	r := &signalRecorder{ch: make(chan auth.Signal, 32)}
	sub := hub.Subscribe(func(s auth.Signal) {
		r.mu.Lock()
		r.signals = append(r.signals, s)
		r.mu.Unlock()
		select {
		case r.ch <- s:
		default:
		}
	})
	return r, sub
}

func (r *signalRecorder) all() []auth.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]auth.Signal(nil), r.signals...)
}

func (r *signalRecorder) wait(timeout time.Duration) (auth.Signal, bool) {
	select {
	case s := <-r.ch:
		return s, true
	case <-time.After(timeout):
		return auth.Signal{}, false
	}
}

func confirmedIdentity(id, email string) *auth.Identity {
	confirmed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return &auth.Identity{
		ID:               id,
		Email:            email,
		EmailConfirmedAt: &confirmed,
		AppMetadata:      map[string]any{"provider": "email"},
		UserMetadata:     map[string]any{},
		CreatedAt:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func sessionFor(identity *auth.Identity, access string) *auth.Session {
	return &auth.Session{
		AccessToken:  access,
		RefreshToken: "refresh-" + access,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
		Identity:     identity,
	}
}
