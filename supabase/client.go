package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kazini-app/go-kazini-auth"
)

var (
	_ auth.AuthAuthority = (*Client)(nil)
	_ auth.CodeExchanger = (*Client)(nil)
)

// Client talks to the hosted auth REST API and keeps the current session in
// memory, mirroring it to Config.Storage when one is set.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     auth.Logger
	now        func() time.Time

	mu        sync.RWMutex
	session   *auth.Session
	loaded    bool
	listeners map[uint64]auth.AuthStateListener
	nextID    uint64
	verifier  string

	refreshMu sync.Mutex

	cronMu    sync.Mutex
	refresher *refresher
}

// New creates a client for the project at cfg.URL.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		config:     cfg,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		now:        cfg.Clock,
		listeners:  make(map[uint64]auth.AuthStateListener),
	}
}

// AccessToken returns the current access token, empty when no session is
// held. It lets the profile store act on behalf of the user.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}

// OnAuthStateChange implements auth.AuthAuthority. The new listener receives
// EventInitialSession right away when a session is already loaded.
func (c *Client) OnAuthStateChange(listener auth.AuthStateListener) auth.Subscription {
	if listener == nil {
		return &subscription{}
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = listener
	current := copySession(c.session)
	c.mu.Unlock()

	if current != nil {
		listener(auth.EventInitialSession, current)
	}

	return &subscription{cancel: func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}}
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

func (c *Client) notify(event auth.AuthEvent, session *auth.Session) {
	c.mu.RLock()
	snapshot := make([]auth.AuthStateListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		snapshot = append(snapshot, l)
	}
	c.mu.RUnlock()

	for _, l := range snapshot {
		l(event, copySession(session))
	}
}

func (c *Client) currentSession(ctx context.Context) *auth.Session {
	c.mu.RLock()
	loaded := c.loaded
	session := copySession(c.session)
	c.mu.RUnlock()
	if loaded {
		return session
	}

	restored := c.loadPersisted(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		c.loaded = true
		c.session = restored
	}
	return copySession(c.session)
}

func (c *Client) saveSession(ctx context.Context, session *auth.Session) {
	c.mu.Lock()
	c.session = copySession(session)
	c.loaded = true
	c.mu.Unlock()

	if c.config.Storage == nil {
		return
	}
	if session == nil {
		if err := c.config.Storage.Delete(ctx, defaultSessionKey); err != nil {
			c.logger.Warn("supabase session delete failed", "error", err)
		}
		return
	}
	raw, err := json.Marshal(session)
	if err != nil {
		c.logger.Warn("supabase session encode failed", "error", err)
		return
	}
	if err := c.config.Storage.Set(ctx, defaultSessionKey, raw); err != nil {
		c.logger.Warn("supabase session persist failed", "error", err)
	}
}

func (c *Client) loadPersisted(ctx context.Context) *auth.Session {
	if c.config.Storage == nil {
		return nil
	}
	raw, err := c.config.Storage.Get(ctx, defaultSessionKey)
	if err != nil || len(raw) == 0 {
		return nil
	}
	var session auth.Session
	if err := json.Unmarshal(raw, &session); err != nil || session.AccessToken == "" {
		c.logger.Warn("supabase dropping unreadable persisted session", "error", err)
		_ = c.config.Storage.Delete(ctx, defaultSessionKey)
		return nil
	}
	return &session
}

func (c *Client) expiresSoon(session *auth.Session, margin time.Duration) bool {
	if session == nil || session.ExpiresAt.IsZero() {
		return false
	}
	return !c.now().Add(margin).Before(session.ExpiresAt)
}

// tokenResponse is the session payload returned by the token, verify and
// signup endpoints.
type tokenResponse struct {
	AccessToken  string         `json:"access_token"`
	TokenType    string         `json:"token_type"`
	ExpiresIn    int64          `json:"expires_in"`
	ExpiresAt    int64          `json:"expires_at"`
	RefreshToken string         `json:"refresh_token"`
	User         *auth.Identity `json:"user"`
}

func (t tokenResponse) session(now time.Time) *auth.Session {
	if t.AccessToken == "" {
		return nil
	}
	session := &auth.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Identity:     t.User,
	}
	switch {
	case t.ExpiresAt > 0:
		session.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		session.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second)
	default:
		session.ExpiresAt = tokenExpiry(t.AccessToken)
	}
	return session
}

// tokenExpiry reads exp without verifying the signature. Verification is
// the authority's job; the client only schedules refreshes from it.
func tokenExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

type requestOptions struct {
	query  url.Values
	body   any
	bearer string
}

func (c *Client) do(ctx context.Context, operation, method, endpoint string, opts requestOptions, out any) error {
	return doJSON(ctx, c.httpClient, c.config.AnonKey, operation, method, endpoint, opts, nil, out)
}

func doJSON(ctx context.Context, client *http.Client, anonKey, operation, method, endpoint string, opts requestOptions, headers http.Header, out any) error {
	if len(opts.query) > 0 {
		endpoint += "?" + opts.query.Encode()
	}

	var body io.Reader
	if opts.body != nil {
		payload, err := json.Marshal(opts.body)
		if err != nil {
			return fmt.Errorf("supabase %s: encode body: %w", operation, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("supabase %s: build request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", anonKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	bearer := opts.bearer
	if bearer == "" {
		bearer = anonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(operation, resp.StatusCode, raw)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return invalidResponse(operation, err)
	}
	return nil
}

func copySession(s *auth.Session) *auth.Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Identity != nil {
		identity := *s.Identity
		cp.Identity = &identity
	}
	return &cp
}
