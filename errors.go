package auth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// ErrorKind classifies a failed auth operation for the caller.
type ErrorKind string

const (
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindEmailUnconfirmed   ErrorKind = "email_unconfirmed"
	KindRateLimited        ErrorKind = "rate_limited"
	KindWeakPassword       ErrorKind = "weak_password"
	KindAlreadyRegistered  ErrorKind = "already_registered"
	KindInvalidToken       ErrorKind = "invalid_token"
	KindNetwork            ErrorKind = "network"
	KindProfileSync        ErrorKind = "profile_sync"
	KindValidation         ErrorKind = "validation"
	KindUnexpected         ErrorKind = "unexpected"
	// KindOther is a remote failure with no better match; its message is the
	// remote text verbatim.
	KindOther ErrorKind = "other"
)

const (
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeEmailUnconfirmed   = "EMAIL_NOT_CONFIRMED"
	TextCodeRateLimited        = "RATE_LIMITED"
	TextCodeWeakPassword       = "WEAK_PASSWORD"
	TextCodeAlreadyRegistered  = "ALREADY_REGISTERED"
	TextCodeInvalidToken       = "INVALID_TOKEN"
	TextCodeNetwork            = "NETWORK_UNAVAILABLE"
	TextCodeProfileSync        = "PROFILE_SYNC_FAILED"
	TextCodeProfileNotFound    = "PROFILE_NOT_FOUND"
	TextCodeValidation         = "VALIDATION_FAILED"
	TextCodeUnexpected         = "UNEXPECTED"
	TextCodeRemote             = "REMOTE_AUTH_ERROR"
	TextCodeInvalidTransition  = "INVALID_MAGIC_LINK_TRANSITION"
	TextCodeForbiddenRoute     = "ROUTE_NOT_IN_PLAN"
	TextCodeRoleRequired       = "ROLE_REQUIRED"
)

// User facing messages.
const (
	MsgInvalidCredentials = "Invalid email or password. Please try again."
	MsgEmailUnconfirmed   = "Please confirm your email address before signing in. Check your inbox for the confirmation link."
	MsgRateLimited        = "Too many attempts. Please wait a moment and try again."
	MsgAlreadyRegistered  = "An account with this email already exists. Please sign in instead."
	MsgWeakPassword       = "Password is too weak. Please use at least 6 characters."
	MsgInvalidCode        = "Invalid verification code. Please try again."
	MsgMagicLinkExpired   = "This magic link is invalid or has expired. Please request a new one."
	MsgMagicLinkFailed    = "We could not sign you in with this link. Please try again."
	MsgNetwork            = "Unable to reach the server. Check your connection and try again."
	MsgUnexpected         = "An unexpected error occurred. Please try again."
	MsgCheckEmail         = "Check your email to confirm your account."
	MsgMagicLinkSent      = "Check your email for the magic link to sign in."
	MsgCodeSent           = "We sent a verification code to your phone."
	MsgOAuthRedirect      = "Redirecting to the provider to complete sign in."
	MsgOAuthFailed        = "Sign in with the provider could not be completed. Please try again."
	MsgConfirmationResent = "Confirmation email sent. Check your inbox."
)

// ErrInvalidCredentials is returned when the authority rejects an email/password pair.
var ErrInvalidCredentials = goerrors.New("invalid login credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrEmailUnconfirmed is returned when the account email was never confirmed.
var ErrEmailUnconfirmed = goerrors.New("email not confirmed", goerrors.CategoryAuth).
	WithTextCode(TextCodeEmailUnconfirmed).
	WithCode(goerrors.CodeForbidden)

// ErrRateLimited is returned when the authority or the local cooldown throttles a request.
var ErrRateLimited = goerrors.New("too many requests", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeRateLimited).
	WithCode(http.StatusTooManyRequests)

// ErrWeakPassword is returned on signup when the password does not meet policy.
var ErrWeakPassword = goerrors.New("password is too weak", goerrors.CategoryValidation).
	WithTextCode(TextCodeWeakPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrAlreadyRegistered is returned on signup for an existing account.
var ErrAlreadyRegistered = goerrors.New("user already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyRegistered).
	WithCode(goerrors.CodeConflict)

// ErrInvalidToken covers expired or malformed one time codes, links and tokens.
var ErrInvalidToken = goerrors.New("invalid or expired token", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrNetwork is returned when the remote collaborator cannot be reached.
var ErrNetwork = goerrors.New("remote service unreachable", goerrors.CategoryOperation).
	WithTextCode(TextCodeNetwork).
	WithCode(http.StatusServiceUnavailable)

// ErrProfileSync is logged when the profile store rejects a read or upsert.
var ErrProfileSync = goerrors.New("profile synchronization failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeProfileSync).
	WithCode(goerrors.CodeInternal)

// ErrProfileNotFound is returned by ProfileStore.Get for unknown ids.
var ErrProfileNotFound = goerrors.New("profile not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeProfileNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrValidation is returned when input fails local validation.
var ErrValidation = goerrors.New("invalid input", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrUnexpected wraps recovered panics and anything unclassified.
var ErrUnexpected = goerrors.New("unexpected error", goerrors.CategoryInternal).
	WithTextCode(TextCodeUnexpected).
	WithCode(goerrors.CodeInternal)

// ErrRemote is a remote failure without a better classification.
var ErrRemote = goerrors.New("remote auth error", goerrors.CategoryAuth).
	WithTextCode(TextCodeRemote).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidTransition is returned when the magic link processor is asked to
// move along an edge its graph does not have.
var ErrInvalidTransition = goerrors.New("invalid magic link state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrForbiddenRoute is returned when the user's plan does not include a route.
var ErrForbiddenRoute = goerrors.New("route not available on current plan", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbiddenRoute).
	WithCode(goerrors.CodeForbidden)

// ErrRoleRequired is returned when the user lacks the role an endpoint needs.
var ErrRoleRequired = goerrors.New("role required", goerrors.CategoryAuthz).
	WithTextCode(TextCodeRoleRequired).
	WithCode(goerrors.CodeForbidden)

var kindSentinels = map[ErrorKind]*goerrors.Error{
	KindInvalidCredentials: ErrInvalidCredentials,
	KindEmailUnconfirmed:   ErrEmailUnconfirmed,
	KindRateLimited:        ErrRateLimited,
	KindWeakPassword:       ErrWeakPassword,
	KindAlreadyRegistered:  ErrAlreadyRegistered,
	KindInvalidToken:       ErrInvalidToken,
	KindNetwork:            ErrNetwork,
	KindProfileSync:        ErrProfileSync,
	KindValidation:         ErrValidation,
	KindUnexpected:         ErrUnexpected,
	KindOther:              ErrRemote,
}

// Sentinel returns the go-errors sentinel for k.
func (k ErrorKind) Sentinel() *goerrors.Error {
	if s, ok := kindSentinels[k]; ok {
		return s
	}
	return ErrUnexpected
}

// ClassifyError maps a remote error onto an ErrorKind by inspecting its
// message. Transport failures are KindNetwork.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil {
		for kind, sentinel := range kindSentinels {
			if kind != KindOther && rich.TextCode == sentinel.TextCode {
				return kind
			}
		}
	}

	if isNetworkError(err) {
		return KindNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid login credentials"):
		return KindInvalidCredentials
	case strings.Contains(msg, "email not confirmed"):
		return KindEmailUnconfirmed
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many"):
		return KindRateLimited
	case strings.Contains(msg, "already registered"), strings.Contains(msg, "already been registered"),
		strings.Contains(msg, "already exists"):
		return KindAlreadyRegistered
	case strings.Contains(msg, "password should be"), strings.Contains(msg, "weak password"),
		strings.Contains(msg, "password is too weak"):
		return KindWeakPassword
	case strings.Contains(msg, "expired"), strings.Contains(msg, "invalid token"),
		strings.Contains(msg, "invalid otp"), strings.Contains(msg, "jwt"):
		return KindInvalidToken
	}
	return KindOther
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// UserMessage is the text shown for k. KindOther surfaces the remote text.
func UserMessage(kind ErrorKind, err error) string {
	switch kind {
	case KindInvalidCredentials:
		return MsgInvalidCredentials
	case KindEmailUnconfirmed:
		return MsgEmailUnconfirmed
	case KindRateLimited:
		return MsgRateLimited
	case KindAlreadyRegistered:
		return MsgAlreadyRegistered
	case KindWeakPassword:
		return MsgWeakPassword
	case KindInvalidToken:
		return MsgInvalidCode
	case KindNetwork:
		return MsgNetwork
	case KindOther:
		if msg := remoteMessage(err); msg != "" {
			return msg
		}
	}
	return MsgUnexpected
}

func remoteMessage(err error) string {
	if err == nil {
		return ""
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil && rich.Source != nil {
		return rich.Source.Error()
	}
	return err.Error()
}

// wrapKind clones the sentinel for kind with err as its source.
func wrapKind(kind ErrorKind, err error, meta map[string]any) error {
	base := kind.Sentinel()
	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if err != nil {
		clone.Source = err
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}
