package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// DefaultCooldown spaces repeated OTP, magic link and resend requests to
	// the same destination.
	DefaultCooldown = 60 * time.Second
	guestIDPrefix   = "guest_"
	guestName       = "Guest"
)

// Handlers implements the login methods. Every method returns exactly one
// Result and never panics.
type Handlers struct {
	authority   AuthAuthority
	sync        *ProfileSynchronizer
	store       *SessionStore
	signals     *Signals
	route       RoutingPolicy
	callbackURL string
	cooldown    *cooldown
	activity    ActivitySink
	logger      Logger
	now         func() time.Time
	newGuestID  func() string
	inflight    *loginTracker
}

// HandlerOption customizes Handlers.
type HandlerOption func(*Handlers)

// WithCallbackURL sets the fixed location magic links and OAuth return to.
func WithCallbackURL(u string) HandlerOption {
	return func(h *Handlers) {
		h.callbackURL = u
	}
}

// WithRoutingPolicy overrides RouteForPlan.
func WithRoutingPolicy(policy RoutingPolicy) HandlerOption {
	return func(h *Handlers) {
		if policy != nil {
			h.route = policy
		}
	}
}

// WithCooldown sets the minimum spacing between requests to one destination.
// Zero disables the cooldown.
func WithCooldown(interval time.Duration) HandlerOption {
	return func(h *Handlers) {
		h.cooldown = newCooldown(interval)
	}
}

// WithHandlerActivitySink sets the ActivitySink used to publish login events.
func WithHandlerActivitySink(sink ActivitySink) HandlerOption {
	return func(h *Handlers) {
		h.activity = normalizeActivitySink(sink)
	}
}

// WithHandlerLogger overrides the handler logger.
func WithHandlerLogger(logger Logger) HandlerOption {
	return func(h *Handlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHandlerClock injects a custom clock (useful for tests).
func WithHandlerClock(clock func() time.Time) HandlerOption {
	return func(h *Handlers) {
		if clock != nil {
			h.now = clock
		}
	}
}

// WithGuestIDGenerator overrides the guest id source.
func WithGuestIDGenerator(gen func() string) HandlerOption {
	return func(h *Handlers) {
		if gen != nil {
			h.newGuestID = gen
		}
	}
}

// NewHandlers wires the login methods to their collaborators.
func NewHandlers(authority AuthAuthority, sync *ProfileSynchronizer, store *SessionStore, signals *Signals, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		authority:  authority,
		sync:       sync,
		store:      store,
		signals:    signals,
		route:      RouteForPlan,
		cooldown:   newCooldown(DefaultCooldown),
		activity:   noopActivitySink{},
		logger:     defaultLogger(),
		now:        time.Now,
		newGuestID: newGuestID,
		inflight:   &loginTracker{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.sync == nil {
		h.sync = NewProfileSynchronizer(nil, WithSyncLogger(h.logger))
	}
	if h.signals == nil {
		h.signals = NewSignals()
	}
	return h
}

// ManualLoginInFlight reports whether a handler is between the remote call
// and the store update.
func (h *Handlers) ManualLoginInFlight() bool {
	return h.inflight.active()
}

// SignInWithPassword authenticates with email and password.
func (h *Handlers) SignInWithPassword(ctx context.Context, creds PasswordCredentials) (res Result) {
	defer h.recoverResult("password", &res)

	creds.Email = normalizeEmail(creds.Email)
	if err := creds.Validate(); err != nil {
		return validationFailure(err)
	}

	done := h.store.BeginLoading()
	defer done()
	release := h.inflight.begin()
	defer release()

	session, err := h.authority.SignInWithPassword(ctx, creds.Email, creds.Password)
	if err != nil {
		kind := ClassifyError(err)
		switch kind {
		case KindInvalidCredentials, KindEmailUnconfirmed, KindRateLimited, KindNetwork:
		default:
			kind = KindOther
		}
		return h.failed(ctx, AuthMethodEmail, fail(kind, err))
	}
	if !session.HasIdentity() {
		return h.failed(ctx, AuthMethodEmail, fail(KindUnexpected, wrapKind(KindUnexpected, nil, map[string]any{
			"reason": "session without user",
		})))
	}
	if !session.Identity.EmailConfirmed() {
		return &NeedsVerification{Email: creds.Email, Message: MsgEmailUnconfirmed}
	}

	return h.completeLogin(ctx, session, AuthMethodEmail)
}

// SignUp registers a new account. Success always requires confirmation.
func (h *Handlers) SignUp(ctx context.Context, payload SignupPayload) (res Result) {
	defer h.recoverResult("signup", &res)

	payload.Email = normalizeEmail(payload.Email)
	if err := payload.Validate(); err != nil {
		return validationFailure(err)
	}

	done := h.store.BeginLoading()
	defer done()

	metadata := map[string]any{}
	if name := strings.TrimSpace(payload.DisplayName); name != "" {
		metadata["full_name"] = name
	}
	if payload.Country != "" {
		metadata["country"] = payload.Country
	}
	if payload.Language != "" {
		metadata["language"] = payload.Language
	}

	identity, _, err := h.authority.SignUp(ctx, payload.Email, payload.Password, metadata)
	if err != nil {
		kind := ClassifyError(err)
		switch kind {
		case KindAlreadyRegistered, KindWeakPassword, KindRateLimited, KindNetwork:
		default:
			kind = KindOther
		}
		return h.failed(ctx, AuthMethodEmail, fail(kind, err))
	}

	event := ActivityEvent{EventType: ActivityEventSignup, AuthMethod: AuthMethodEmail}
	if identity != nil {
		event.UserID = identity.ID
	}
	recordActivity(ctx, h.activity, h.logger, h.now, event)

	return &NeedsVerification{Email: payload.Email, Message: MsgCheckEmail}
}

// RequestMagicLink emails a sign in link that returns to the callback URL.
func (h *Handlers) RequestMagicLink(ctx context.Context, payload MagicLinkPayload) (res Result) {
	defer h.recoverResult("magic_link", &res)

	payload.Email = normalizeEmail(payload.Email)
	if err := payload.Validate(); err != nil {
		return validationFailure(err)
	}
	if f := h.throttle("email:" + payload.Email); f != nil {
		return f
	}

	done := h.store.BeginLoading()
	defer done()

	err := h.authority.SignInWithOTP(ctx, OTPRequest{
		Email:      payload.Email,
		RedirectTo: h.callbackURL,
		CreateUser: true,
	})
	if err != nil {
		return h.failed(ctx, AuthMethodMagicLink, fail(requestKind(err), err))
	}

	recordActivity(ctx, h.activity, h.logger, h.now, ActivityEvent{
		EventType:  ActivityEventMagicLinkRequested,
		AuthMethod: AuthMethodMagicLink,
	})
	return &Pending{Message: MsgMagicLinkSent}
}

// RequestPhoneOTP normalizes the number and asks for an SMS code.
func (h *Handlers) RequestPhoneOTP(ctx context.Context, payload PhoneOTPPayload) (res Result) {
	defer h.recoverResult("phone_otp", &res)

	if err := payload.Validate(); err != nil {
		return validationFailure(err)
	}
	phone := NormalizePhone(payload.Phone)
	if f := h.throttle("phone:" + phone); f != nil {
		return f
	}

	done := h.store.BeginLoading()
	defer done()

	if err := h.authority.SignInWithOTP(ctx, OTPRequest{Phone: phone, CreateUser: true}); err != nil {
		return h.failed(ctx, AuthMethodPhone, fail(requestKind(err), err))
	}

	recordActivity(ctx, h.activity, h.logger, h.now, ActivityEvent{
		EventType:  ActivityEventOTPRequested,
		AuthMethod: AuthMethodPhone,
	})
	return &Pending{Message: MsgCodeSent}
}

// VerifyPhoneOTP exchanges an SMS code for a session. Any failure reports
// the generic invalid code message.
func (h *Handlers) VerifyPhoneOTP(ctx context.Context, payload VerifyOTPPayload) (res Result) {
	defer h.recoverResult("phone_verify", &res)

	payload.Code = strings.TrimSpace(payload.Code)
	if err := payload.Validate(); err != nil {
		return validationFailure(err)
	}

	done := h.store.BeginLoading()
	defer done()
	release := h.inflight.begin()
	defer release()

	session, err := h.authority.VerifyOTP(ctx, VerifyOTPRequest{
		Phone: NormalizePhone(payload.Phone),
		Token: payload.Code,
		Type:  OTPTypeSMS,
	})
	if err == nil && !session.HasIdentity() {
		err = wrapKind(KindInvalidToken, nil, map[string]any{"reason": "session without user"})
	}
	if err != nil {
		return h.failed(ctx, AuthMethodPhone, &Failure{
			Kind:    KindInvalidToken,
			Message: MsgInvalidCode,
			Err:     err,
		})
	}

	return h.completeLogin(ctx, session, AuthMethodPhone)
}

// SignInWithOAuth starts the provider redirect. The session arrives later
// through the callback and the reconciler.
func (h *Handlers) SignInWithOAuth(ctx context.Context, payload OAuthPayload) (res Result) {
	defer h.recoverResult("oauth", &res)

	payload.Provider = strings.ToLower(strings.TrimSpace(payload.Provider))
	if err := payload.Validate(); err != nil {
		return validationFailure(err)
	}

	done := h.store.BeginLoading()
	defer done()

	redirect, err := h.authority.SignInWithOAuth(ctx, payload.Provider, h.callbackURL)
	if err != nil {
		return h.failed(ctx, AuthMethodOAuth, fail(requestKind(err), err))
	}
	return &Pending{Message: MsgOAuthRedirect, RedirectURL: redirect}
}

// CompleteOAuth exchanges the provider callback code for a session when the
// authority supports it.
func (h *Handlers) CompleteOAuth(ctx context.Context, code string) (res Result) {
	defer h.recoverResult("oauth_callback", &res)

	exchanger, ok := h.authority.(CodeExchanger)
	if !ok {
		return fail(KindUnexpected, wrapKind(KindUnexpected, nil, map[string]any{
			"reason": "authority does not exchange codes",
		}))
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return h.failed(ctx, AuthMethodOAuth, &Failure{
			Kind:    KindInvalidToken,
			Message: MsgOAuthFailed,
			Err:     wrapKind(KindInvalidToken, nil, map[string]any{"reason": "missing code"}),
		})
	}

	done := h.store.BeginLoading()
	defer done()
	release := h.inflight.begin()
	defer release()

	session, err := exchanger.ExchangeCodeForSession(ctx, code)
	if err == nil && !session.HasIdentity() {
		err = wrapKind(KindInvalidToken, nil, map[string]any{"reason": "session without user"})
	}
	if err != nil {
		kind := ClassifyError(err)
		if kind != KindNetwork && kind != KindRateLimited {
			kind = KindInvalidToken
		}
		return h.failed(ctx, AuthMethodOAuth, &Failure{Kind: kind, Message: oauthMessage(kind), Err: err})
	}
	return h.completeLogin(ctx, session, AuthMethodOAuth)
}

func oauthMessage(kind ErrorKind) string {
	if kind == KindInvalidToken {
		return MsgOAuthFailed
	}
	return UserMessage(kind, nil)
}

// ContinueAsGuest creates a local user with no remote counterpart.
func (h *Handlers) ContinueAsGuest(ctx context.Context) (res Result) {
	defer h.recoverResult("guest", &res)

	user := &User{
		ID:             h.newGuestID(),
		DisplayName:    guestName,
		Plan:           PlanFree,
		AuthMethod:     AuthMethodGuest,
		EmailConfirmed: true,
	}
	h.store.SetUser(ctx, user)

	route := h.route(user.Plan)
	h.signals.Emit(Signal{Kind: SignalLoginRedirect, Route: route, User: user.Clone()})
	recordActivity(ctx, h.activity, h.logger, h.now, ActivityEvent{
		EventType:  ActivityEventGuestStarted,
		UserID:     user.ID,
		AuthMethod: AuthMethodGuest,
	})
	return &LoginOK{User: user, RedirectTo: route}
}

// ResendConfirmation sends the signup confirmation email again.
func (h *Handlers) ResendConfirmation(ctx context.Context, payload ResendPayload) (res Result) {
	defer h.recoverResult("resend", &res)

	payload.Email = normalizeEmail(payload.Email)
	if err := payload.Validate(); err != nil {
		return validationFailure(err)
	}
	if f := h.throttle("resend:" + payload.Email); f != nil {
		return f
	}

	done := h.store.BeginLoading()
	defer done()

	if err := h.authority.Resend(ctx, ResendSignup, payload.Email); err != nil {
		return h.failed(ctx, AuthMethodEmail, fail(requestKind(err), err))
	}
	return &Pending{Message: MsgConfirmationResent}
}

func (h *Handlers) completeLogin(ctx context.Context, session *Session, method AuthMethod) *LoginOK {
	user := h.sync.Sync(ctx, session.Identity, method, h.store.User())
	h.store.SetSession(ctx, user, session)

	route := h.route(user.Plan)
	h.signals.Emit(Signal{Kind: SignalLoginRedirect, Route: route, User: user.Clone()})
	recordActivity(ctx, h.activity, h.logger, h.now, ActivityEvent{
		EventType:  ActivityEventLoginSuccess,
		UserID:     user.ID,
		AuthMethod: method,
		Metadata:   map[string]any{"plan": user.Plan, "route": route},
	})
	return &LoginOK{User: user, RedirectTo: route}
}

func (h *Handlers) failed(ctx context.Context, method AuthMethod, f *Failure) *Failure {
	h.store.SetError(f)
	h.logger.Warn("auth request failed", "method", method, "kind", f.Kind, "error", f.Err)
	recordActivity(ctx, h.activity, h.logger, h.now, ActivityEvent{
		EventType:  ActivityEventLoginFailure,
		AuthMethod: method,
		Metadata:   map[string]any{"kind": f.Kind},
	})
	return f
}

func (h *Handlers) throttle(key string) *Failure {
	if h.cooldown.allow(key, h.now()) {
		return nil
	}
	return &Failure{
		Kind:    KindRateLimited,
		Message: MsgRateLimited,
		Err:     wrapKind(KindRateLimited, nil, map[string]any{"destination": key}),
	}
}

func (h *Handlers) recoverResult(op string, res *Result) {
	r := recover()
	if r == nil {
		return
	}
	h.logger.Error("auth handler panicked", "operation", op, "panic", r)
	err := wrapKind(KindUnexpected, fmt.Errorf("panic: %v", r), map[string]any{"operation": op})
	f := &Failure{Kind: KindUnexpected, Message: MsgUnexpected, Err: err}
	h.store.SetError(f)
	*res = f
}

// requestKind narrows classification for requests that only send messages.
func requestKind(err error) ErrorKind {
	switch kind := ClassifyError(err); kind {
	case KindRateLimited, KindNetwork:
		return kind
	default:
		return KindOther
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newGuestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return guestIDPrefix + id.String()
}

// cooldown keeps one token bucket per destination.
type cooldown struct {
	mu       sync.Mutex
	interval time.Duration
	limiters map[string]*cooldownEntry
}

type cooldownEntry struct {
	limiter *rate.Limiter
	last    time.Time
}

func newCooldown(interval time.Duration) *cooldown {
	return &cooldown{interval: interval, limiters: map[string]*cooldownEntry{}}
}

func (c *cooldown) allow(key string, now time.Time) bool {
	if c == nil || c.interval <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.limiters {
		if now.Sub(e.last) > c.interval {
			delete(c.limiters, k)
		}
	}

	e, ok := c.limiters[key]
	if !ok {
		e = &cooldownEntry{limiter: rate.NewLimiter(rate.Every(c.interval), 1)}
		c.limiters[key] = e
	}
	if !e.limiter.AllowN(now, 1) {
		return false
	}
	e.last = now
	return true
}
