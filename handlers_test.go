package auth_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kazini-app/go-kazini-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type handlerFixture struct {
	authority *MockAuthority
	profiles  *memoryProfiles
	cache     *memoryCache
	store     *auth.SessionStore
	signals   *auth.Signals
	handlers  *auth.Handlers
	events    *[]auth.ActivityEvent
}

func newHandlerFixture(t *testing.T, opts ...auth.HandlerOption) *handlerFixture {
	t.Helper()
	f := &handlerFixture{
		authority: &MockAuthority{},
		profiles:  newMemoryProfiles(),
		cache:     newMemoryCache(),
		signals:   auth.NewSignals(),
	}
	var mu sync.Mutex
	events := []auth.ActivityEvent{}
	f.events = &events
	sink := auth.ActivitySinkFunc(func(_ context.Context, e auth.ActivityEvent) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
		return nil
	})

	f.store = auth.NewSessionStore(f.cache)
	sync := auth.NewProfileSynchronizer(f.profiles)
	base := []auth.HandlerOption{
		auth.WithCallbackURL("https://app.kazini.test/auth/callback"),
		auth.WithHandlerActivitySink(sink),
	}
	f.handlers = auth.NewHandlers(f.authority, sync, f.store, f.signals, append(base, opts...)...)
	return f
}

func TestSignInWithPasswordRoutesByRemotePlan(t *testing.T) {
	f := newHandlerFixture(t)
	f.profiles.records["u1"] = auth.Profile{ID: "u1", Plan: auth.PlanCouple, DisplayName: "Jane"}
	rec, sub := recordSignals(f.signals)
	defer sub.Unsubscribe()

	identity := confirmedIdentity("u1", "jane@example.com")
	f.authority.On("SignInWithPassword", mock.Anything, "jane@example.com", "secret").
		Return(sessionFor(identity, "tok"), nil).Once()

	res := f.handlers.SignInWithPassword(context.Background(), auth.PasswordCredentials{Email: " Jane@Example.com ", Password: "secret"})

	ok, isOK := res.(*auth.LoginOK)
	require.True(t, isOK, "got %T", res)
	assert.True(t, res.Success())
	assert.Equal(t, auth.RouteCoupleMode, ok.RedirectTo)
	assert.Equal(t, auth.AuthMethodEmail, ok.User.AuthMethod)
	assert.Equal(t, "Jane", ok.User.DisplayName)
	assert.Equal(t, "tok", f.store.AccessToken())
	assert.False(t, f.store.Loading())

	signals := rec.all()
	require.Len(t, signals, 1)
	assert.Equal(t, auth.SignalLoginRedirect, signals[0].Kind)
	assert.Equal(t, auth.RouteCoupleMode, signals[0].Route)
	f.authority.AssertExpectations(t)
}

func TestSignInWithPasswordFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     auth.ErrorKind
		message  string
	}{
		{name: "invalid credentials", err: errors.New("Invalid login credentials"), kind: auth.KindInvalidCredentials, message: auth.MsgInvalidCredentials},
		{name: "unconfirmed", err: errors.New("Email not confirmed"), kind: auth.KindEmailUnconfirmed, message: auth.MsgEmailUnconfirmed},
		{name: "rate limited", err: errors.New("Request rate limit reached"), kind: auth.KindRateLimited, message: auth.MsgRateLimited},
		{name: "other", err: errors.New("Database error querying schema"), kind: auth.KindOther, message: "Database error querying schema"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)
			f.authority.On("SignInWithPassword", mock.Anything, "a@b.co", "pw").Return(nil, tt.err).Once()

			res := f.handlers.SignInWithPassword(context.Background(), auth.PasswordCredentials{Email: "a@b.co", Password: "pw"})

			failure, ok := res.(*auth.Failure)
			require.True(t, ok, "got %T", res)
			assert.False(t, res.Success())
			assert.Equal(t, tt.kind, failure.Kind)
			assert.Equal(t, tt.message, failure.Message)
			assert.Nil(t, f.store.User())
			assert.False(t, f.store.Loading())
			assert.Equal(t, failure, f.store.Err())
		})
	}
}

func TestSignInWithPasswordUnconfirmedIdentityNeedsVerification(t *testing.T) {
	f := newHandlerFixture(t)
	identity := &auth.Identity{ID: "u1", Email: "a@b.co"}
	f.authority.On("SignInWithPassword", mock.Anything, "a@b.co", "pw").Return(sessionFor(identity, "tok"), nil).Once()

	res := f.handlers.SignInWithPassword(context.Background(), auth.PasswordCredentials{Email: "a@b.co", Password: "pw"})

	nv, ok := res.(*auth.NeedsVerification)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, "a@b.co", nv.Email)
	assert.Nil(t, f.store.User(), "store untouched")
	_, exists := f.profiles.record("u1")
	assert.False(t, exists)
}

func TestSignInWithPasswordValidation(t *testing.T) {
	f := newHandlerFixture(t)

	res := f.handlers.SignInWithPassword(context.Background(), auth.PasswordCredentials{Email: "not-an-email"})

	failure, ok := res.(*auth.Failure)
	require.True(t, ok)
	assert.Equal(t, auth.KindValidation, failure.Kind)
	f.authority.AssertNotCalled(t, "SignInWithPassword", mock.Anything, mock.Anything, mock.Anything)
}

func TestSignInWithPasswordProfileFailureStillLogsIn(t *testing.T) {
	authority := &MockAuthority{}
	profiles := &MockProfiles{}
	profiles.On("Get", mock.Anything, "u1").Return(nil, auth.ErrProfileNotFound).Once()
	profiles.On("Upsert", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()
	store := auth.NewSessionStore(newMemoryCache())
	h := auth.NewHandlers(authority, auth.NewProfileSynchronizer(profiles), store, auth.NewSignals())

	authority.On("SignInWithPassword", mock.Anything, "a@b.co", "pw").
		Return(sessionFor(confirmedIdentity("u1", "a@b.co"), "tok"), nil).Once()

	res := h.SignInWithPassword(context.Background(), auth.PasswordCredentials{Email: "a@b.co", Password: "pw"})

	ok, isOK := res.(*auth.LoginOK)
	require.True(t, isOK, "got %T", res)
	assert.Equal(t, auth.PlanFree, ok.User.Plan)
	assert.Equal(t, auth.RouteTruthTest, ok.RedirectTo)
	assert.Equal(t, "u1", store.User().ID)
	profiles.AssertExpectations(t)
}

func TestSignUp(t *testing.T) {
	t.Run("success needs verification", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.authority.On("SignUp", mock.Anything, "new@b.co", "longpassword", map[string]any{
			"full_name": "New Person",
			"country":   "US",
		}).Return(&auth.Identity{ID: "u9", Email: "new@b.co"}, nil, nil).Once()

		res := f.handlers.SignUp(context.Background(), auth.SignupPayload{
			Email:       "new@b.co",
			Password:    "longpassword",
			DisplayName: "New Person",
			Country:     "US",
		})

		nv, ok := res.(*auth.NeedsVerification)
		require.True(t, ok, "got %T", res)
		assert.Equal(t, auth.MsgCheckEmail, nv.Message)
		assert.Nil(t, f.store.User())
		f.authority.AssertExpectations(t)
	})

	t.Run("already registered", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.authority.On("SignUp", mock.Anything, "a@b.co", "pw", mock.Anything).
			Return(nil, nil, errors.New("User already registered")).Once()

		res := f.handlers.SignUp(context.Background(), auth.SignupPayload{Email: "a@b.co", Password: "pw"})
		failure := res.(*auth.Failure)
		assert.Equal(t, auth.KindAlreadyRegistered, failure.Kind)
		assert.Equal(t, auth.MsgAlreadyRegistered, failure.Message)
	})

	t.Run("weak password", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.authority.On("SignUp", mock.Anything, "a@b.co", "pw", mock.Anything).
			Return(nil, nil, errors.New("Password should be at least 6 characters.")).Once()

		res := f.handlers.SignUp(context.Background(), auth.SignupPayload{Email: "a@b.co", Password: "pw"})
		failure := res.(*auth.Failure)
		assert.Equal(t, auth.KindWeakPassword, failure.Kind)
	})
}

func TestRequestMagicLink(t *testing.T) {
	f := newHandlerFixture(t)
	f.authority.On("SignInWithOTP", mock.Anything, auth.OTPRequest{
		Email:      "a@b.co",
		RedirectTo: "https://app.kazini.test/auth/callback",
		CreateUser: true,
	}).Return(nil).Once()

	res := f.handlers.RequestMagicLink(context.Background(), auth.MagicLinkPayload{Email: "A@b.co"})

	pending, ok := res.(*auth.Pending)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, auth.MsgMagicLinkSent, pending.Message)
	assert.Empty(t, pending.RedirectURL)
	assert.Nil(t, f.store.User())
	f.authority.AssertExpectations(t)
}

func TestRequestMagicLinkCooldown(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	f := newHandlerFixture(t, auth.WithHandlerClock(func() time.Time { return now }))
	f.authority.On("SignInWithOTP", mock.Anything, mock.Anything).Return(nil).Twice()
	ctx := context.Background()

	first := f.handlers.RequestMagicLink(ctx, auth.MagicLinkPayload{Email: "a@b.co"})
	assert.True(t, first.Success())

	now = now.Add(30 * time.Second)
	second := f.handlers.RequestMagicLink(ctx, auth.MagicLinkPayload{Email: "a@b.co"})
	failure, ok := second.(*auth.Failure)
	require.True(t, ok, "got %T", second)
	assert.Equal(t, auth.KindRateLimited, failure.Kind)

	other := f.handlers.RequestMagicLink(ctx, auth.MagicLinkPayload{Email: "other@b.co"})
	assert.True(t, other.Success(), "cooldown is per destination")

	now = now.Add(31 * time.Second)
	f.authority.On("SignInWithOTP", mock.Anything, mock.Anything).Return(nil).Once()
	third := f.handlers.RequestMagicLink(ctx, auth.MagicLinkPayload{Email: "a@b.co"})
	assert.True(t, third.Success())
}

func TestRequestPhoneOTPNormalizesNumber(t *testing.T) {
	f := newHandlerFixture(t)
	f.authority.On("SignInWithOTP", mock.Anything, auth.OTPRequest{Phone: "+15551234567", CreateUser: true}).Return(nil).Once()

	res := f.handlers.RequestPhoneOTP(context.Background(), auth.PhoneOTPPayload{Phone: "(555) 123-4567"})

	pending, ok := res.(*auth.Pending)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, auth.MsgCodeSent, pending.Message)
	f.authority.AssertExpectations(t)
}

func TestVerifyPhoneOTP(t *testing.T) {
	t.Run("any failure is the generic invalid code message", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.authority.On("VerifyOTP", mock.Anything, mock.Anything).Return(nil, errors.New("Token has expired or is invalid")).Once()

		res := f.handlers.VerifyPhoneOTP(context.Background(), auth.VerifyOTPPayload{Phone: "5551234567", Code: "123456"})
		failure, ok := res.(*auth.Failure)
		require.True(t, ok)
		assert.Equal(t, auth.MsgInvalidCode, failure.Message)
		assert.Nil(t, f.store.User())
	})

	t.Run("success enriches and routes", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.profiles.records["p1"] = auth.Profile{ID: "p1", Plan: auth.PlanPro}
		identity := &auth.Identity{ID: "p1", Phone: "+15551234567", AppMetadata: map[string]any{"provider": "phone"}}
		f.authority.On("VerifyOTP", mock.Anything, auth.VerifyOTPRequest{
			Phone: "+15551234567",
			Token: "123456",
			Type:  auth.OTPTypeSMS,
		}).Return(sessionFor(identity, "tok"), nil).Once()

		res := f.handlers.VerifyPhoneOTP(context.Background(), auth.VerifyOTPPayload{Phone: "555-123-4567", Code: " 123456 "})
		ok, isOK := res.(*auth.LoginOK)
		require.True(t, isOK, "got %T", res)
		assert.Equal(t, auth.RouteDashboard, ok.RedirectTo)
		assert.Equal(t, auth.AuthMethodPhone, ok.User.AuthMethod)
		assert.Equal(t, "User", ok.User.DisplayName)
	})
}

func TestSignInWithOAuth(t *testing.T) {
	f := newHandlerFixture(t)
	f.authority.On("SignInWithOAuth", mock.Anything, "google", "https://app.kazini.test/auth/callback").
		Return("https://auth.example/authorize?provider=google", nil).Once()

	res := f.handlers.SignInWithOAuth(context.Background(), auth.OAuthPayload{Provider: "Google"})

	pending, ok := res.(*auth.Pending)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, "https://auth.example/authorize?provider=google", pending.RedirectURL)
	assert.Nil(t, f.store.User())
}

func TestCompleteOAuth(t *testing.T) {
	authority := &MockCodeAuthority{}
	store := auth.NewSessionStore(nil)
	h := auth.NewHandlers(authority, auth.NewProfileSynchronizer(newMemoryProfiles()), store, auth.NewSignals())

	identity := confirmedIdentity("o1", "o@b.co")
	identity.AppMetadata = map[string]any{"provider": "google"}
	identity.UserMetadata = map[string]any{"full_name": "Oauth Person"}
	authority.On("ExchangeCodeForSession", mock.Anything, "code-123").Return(sessionFor(identity, "tok"), nil).Once()

	res := h.CompleteOAuth(context.Background(), "code-123")
	ok, isOK := res.(*auth.LoginOK)
	require.True(t, isOK, "got %T", res)
	assert.Equal(t, auth.AuthMethodOAuth, ok.User.AuthMethod)
	assert.Equal(t, "Oauth Person", ok.User.DisplayName)

	t.Run("authority without code exchange", func(t *testing.T) {
		plain := auth.NewHandlers(&MockAuthority{}, nil, auth.NewSessionStore(nil), nil)
		res := plain.CompleteOAuth(context.Background(), "code")
		assert.False(t, res.Success())
	})
}

func TestContinueAsGuest(t *testing.T) {
	f := newHandlerFixture(t)
	rec, sub := recordSignals(f.signals)
	defer sub.Unsubscribe()
	ctx := context.Background()

	first := f.handlers.ContinueAsGuest(ctx).(*auth.LoginOK)
	second := f.handlers.ContinueAsGuest(ctx).(*auth.LoginOK)

	for _, res := range []*auth.LoginOK{first, second} {
		assert.True(t, strings.HasPrefix(res.User.ID, "guest_"))
		assert.Equal(t, auth.PlanFree, res.User.Plan)
		assert.Equal(t, auth.AuthMethodGuest, res.User.AuthMethod)
		assert.True(t, res.User.EmailConfirmed)
		assert.Equal(t, auth.RouteTruthTest, res.RedirectTo)
	}
	assert.NotEqual(t, first.User.ID, second.User.ID)
	assert.Equal(t, second.User.ID, f.store.User().ID)
	assert.Len(t, rec.all(), 2)

	assert.Empty(t, f.profiles.records, "guests never get a profile")
	f.authority.AssertNotCalled(t, "SignInWithPassword", mock.Anything, mock.Anything, mock.Anything)
}

func TestResendConfirmation(t *testing.T) {
	f := newHandlerFixture(t)
	f.authority.On("Resend", mock.Anything, auth.ResendSignup, "a@b.co").Return(nil).Once()

	res := f.handlers.ResendConfirmation(context.Background(), auth.ResendPayload{Email: "a@b.co"})
	assert.IsType(t, &auth.Pending{}, res)

	again := f.handlers.ResendConfirmation(context.Background(), auth.ResendPayload{Email: "a@b.co"})
	assert.Equal(t, auth.KindRateLimited, again.(*auth.Failure).Kind)
	f.authority.AssertExpectations(t)
}

func TestHandlersRecoverFromPanics(t *testing.T) {
	f := newHandlerFixture(t)
	f.authority.On("SignInWithPassword", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("boom") }).Once()

	var res auth.Result
	assert.NotPanics(t, func() {
		res = f.handlers.SignInWithPassword(context.Background(), auth.PasswordCredentials{Email: "a@b.co", Password: "pw"})
	})
	failure, ok := res.(*auth.Failure)
	require.True(t, ok)
	assert.Equal(t, auth.KindUnexpected, failure.Kind)
	assert.Equal(t, auth.MsgUnexpected, failure.Message)
	assert.False(t, f.store.Loading(), "loading is released on panic")
	assert.False(t, f.handlers.ManualLoginInFlight())
}

func TestHandlersRecordActivity(t *testing.T) {
	f := newHandlerFixture(t)
	f.authority.On("SignInWithPassword", mock.Anything, "a@b.co", "pw").
		Return(sessionFor(confirmedIdentity("u1", "a@b.co"), "tok"), nil).Once()

	f.handlers.SignInWithPassword(context.Background(), auth.PasswordCredentials{Email: "a@b.co", Password: "pw"})

	require.Len(t, *f.events, 1)
	assert.Equal(t, auth.ActivityEventLoginSuccess, (*f.events)[0].EventType)
	assert.Equal(t, "u1", (*f.events)[0].UserID)
}
