package auth

import (
	"context"
	"net/url"
)

// Logger is the structured logger used across the package. Args are
// key/value pairs, e.g. logger.Error("sign in failed", "error", err).
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LoggerProvider hands out named loggers so each component can be scoped.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// AuthAuthority is the remote session authority. Every operation is a
// suspension point; implementations own retries and timeouts.
type AuthAuthority interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	// SignUp returns the created identity and, when the authority does not
	// require confirmation, a session.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Identity, *Session, error)
	SignInWithOTP(ctx context.Context, req OTPRequest) error
	VerifyOTP(ctx context.Context, req VerifyOTPRequest) (*Session, error)
	// SignInWithOAuth returns the provider URL the user agent must visit.
	SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error)
	// GetSession returns nil without error when no session is established.
	GetSession(ctx context.Context) (*Session, error)
	SetSession(ctx context.Context, accessToken, refreshToken string) (*Session, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(listener AuthStateListener) Subscription
	Resend(ctx context.Context, kind ResendType, email string) error
}

// OTPRequest asks the authority for a one time credential. Exactly one of
// Email or Phone is set.
type OTPRequest struct {
	Email      string
	Phone      string
	RedirectTo string
	CreateUser bool
}

// VerifyOTPRequest exchanges a one time code for a session.
type VerifyOTPRequest struct {
	Phone string
	Token string
	Type  OTPType
}

// OTPType is the verification type sent to the authority.
type OTPType string

const (
	OTPTypeSMS       OTPType = "sms"
	OTPTypeMagicLink OTPType = "magiclink"
)

// ResendType selects which message the authority resends.
type ResendType string

const (
	ResendSignup      ResendType = "signup"
	ResendEmailChange ResendType = "email_change"
)

// AuthEvent names a remote auth state change.
type AuthEvent string

const (
	EventInitialSession AuthEvent = "INITIAL_SESSION"
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

// AuthStateListener receives remote auth state changes. Session is nil for
// EventSignedOut.
type AuthStateListener func(event AuthEvent, session *Session)

// Subscription is a cancellable registration. Unsubscribe is idempotent and
// no delivery happens after it returns.
type Subscription interface {
	Unsubscribe()
}

// ProfileStore is the remote key/value profile record per user.
type ProfileStore interface {
	// Upsert creates the record or refreshes its identity fields (email,
	// phone, display name, country, language, updated_at). Plan, role,
	// location and partner fields are only written on create. The returned
	// record is the stored row.
	Upsert(ctx context.Context, profile *Profile) (*Profile, error)
	// Get returns ErrProfileNotFound when no record exists for id.
	Get(ctx context.Context, id string) (*Profile, error)
}

// LocalCache is the small persistent cache that survives restarts.
type LocalCache interface {
	// Get returns nil, nil for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Location is the navigation location magic link credentials arrive on.
type Location interface {
	URL() *url.URL
	// Replace swaps the visible location without a navigation.
	Replace(u *url.URL)
}

// CodeExchanger is implemented by authorities that complete the OAuth PKCE
// flow on the server side.
type CodeExchanger interface {
	ExchangeCodeForSession(ctx context.Context, code string) (*Session, error)
}
