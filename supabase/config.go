package supabase

import (
	"net/http"
	"strings"
	"time"

	"github.com/kazini-app/go-kazini-auth"
)

const (
	defaultTimeout          = 10 * time.Second
	defaultRefreshSchedule  = "@every 30s"
	defaultRefreshMargin    = 90 * time.Second
	defaultSessionKey       = "kazini_auth_session"
	defaultCodeVerifierKey  = "kazini_auth_code_verifier"
	defaultProfilesTable    = "profiles"
	codeChallengeMethodS256 = "s256"
)

// Config holds the hosted project settings.
type Config struct {
	// URL is the project base URL, e.g. https://xyz.supabase.co.
	URL string
	// AnonKey is the public API key sent as apikey on every request.
	AnonKey string

	// Storage persists the session and PKCE verifier between restarts.
	// Optional.
	Storage auth.LocalCache

	// RefreshSchedule is the cron expression of the auto refresh job.
	RefreshSchedule string
	// RefreshMargin refreshes tokens that expire within this window.
	RefreshMargin time.Duration

	HTTPClient *http.Client
	Logger     auth.Logger
	Clock      func() time.Time
}

func (c Config) withDefaults() Config {
	c.URL = strings.TrimRight(c.URL, "/")
	if c.RefreshSchedule == "" {
		c.RefreshSchedule = defaultRefreshSchedule
	}
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = defaultRefreshMargin
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.Logger == nil {
		c.Logger = auth.NoopLogger{}
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

func (c Config) authURL(path string) string {
	return c.URL + "/auth/v1" + path
}

func (c Config) restURL(path string) string {
	return c.URL + "/rest/v1" + path
}
