package auth

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// MagicLinkState is the processor lifecycle.
type MagicLinkState string

const (
	MagicLinkIdle       MagicLinkState = "idle"
	MagicLinkProcessing MagicLinkState = "processing"
	MagicLinkSuccess    MagicLinkState = "success"
	MagicLinkError      MagicLinkState = "error"
)

// DefaultMagicLinkDelay is how long the success state is shown before the
// user is emitted.
const DefaultMagicLinkDelay = 1500 * time.Millisecond

var magicLinkCredentialParams = []string{
	"access_token",
	"refresh_token",
	"type",
	"expires_at",
	"expires_in",
	"token_type",
	"provider_token",
}

// MagicLinkOutcome is what Process observed.
type MagicLinkOutcome struct {
	State      MagicLinkState
	Message    string
	User       *User
	RedirectTo string
}

// MagicLinkProcessor completes a magic link sign in from credentials carried
// on the landing location. One processor serves one landing: it runs once
// and later calls return the first outcome.
type MagicLinkProcessor struct {
	authority    AuthAuthority
	sync         *ProfileSynchronizer
	store        *SessionStore
	signals      *Signals
	route        RoutingPolicy
	delay        time.Duration
	scrubOnError bool
	activity     ActivitySink
	logger       Logger
	now          func() time.Time
	inflight     *loginTracker

	transitions map[MagicLinkState]map[MagicLinkState]struct{}

	mu      sync.Mutex
	outcome MagicLinkOutcome

	alive    atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	emitted  chan struct{}
}

// MagicLinkOption customizes a MagicLinkProcessor.
type MagicLinkOption func(*MagicLinkProcessor)

// WithMagicLinkDelay sets the delay before the user is emitted.
func WithMagicLinkDelay(d time.Duration) MagicLinkOption {
	return func(p *MagicLinkProcessor) {
		if d >= 0 {
			p.delay = d
		}
	}
}

// WithScrubOnError also removes credentials from the location when the link
// is rejected.
func WithScrubOnError(enabled bool) MagicLinkOption {
	return func(p *MagicLinkProcessor) {
		p.scrubOnError = enabled
	}
}

// WithMagicLinkRoutingPolicy overrides RouteForPlan.
func WithMagicLinkRoutingPolicy(policy RoutingPolicy) MagicLinkOption {
	return func(p *MagicLinkProcessor) {
		if policy != nil {
			p.route = policy
		}
	}
}

// WithMagicLinkLogger overrides the processor logger.
func WithMagicLinkLogger(logger Logger) MagicLinkOption {
	return func(p *MagicLinkProcessor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMagicLinkActivitySink sets the sink for completion events.
func WithMagicLinkActivitySink(sink ActivitySink) MagicLinkOption {
	return func(p *MagicLinkProcessor) {
		p.activity = normalizeActivitySink(sink)
	}
}

// NewMagicLinkProcessor returns an idle processor.
func NewMagicLinkProcessor(authority AuthAuthority, sync *ProfileSynchronizer, store *SessionStore, signals *Signals, opts ...MagicLinkOption) *MagicLinkProcessor {
	p := &MagicLinkProcessor{
		authority: authority,
		sync:      sync,
		store:     store,
		signals:   signals,
		route:     RouteForPlan,
		delay:     DefaultMagicLinkDelay,
		activity:  noopActivitySink{},
		logger:    defaultLogger(),
		now:       time.Now,
		inflight:  &loginTracker{},
		transitions: map[MagicLinkState]map[MagicLinkState]struct{}{
			MagicLinkIdle: {
				MagicLinkProcessing: {},
			},
			MagicLinkProcessing: {
				MagicLinkSuccess: {},
				MagicLinkError:   {},
			},
		},
		outcome: MagicLinkOutcome{State: MagicLinkIdle},
		stop:    make(chan struct{}),
		emitted: make(chan struct{}),
	}
	p.alive.Store(true)
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.sync == nil {
		p.sync = NewProfileSynchronizer(nil, WithSyncLogger(p.logger))
	}
	if p.signals == nil {
		p.signals = NewSignals()
	}
	return p
}

// State returns the current lifecycle state.
func (p *MagicLinkProcessor) State() MagicLinkState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome.State
}

// Outcome returns a snapshot of the last observed outcome.
func (p *MagicLinkProcessor) Outcome() MagicLinkOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.outcome
	out.User = out.User.Clone()
	return out
}

// Emitted is closed once the signed in user has been emitted.
func (p *MagicLinkProcessor) Emitted() <-chan struct{} {
	return p.emitted
}

// Stopped is closed once Stop has been called.
func (p *MagicLinkProcessor) Stopped() <-chan struct{} {
	return p.stop
}

// Stop cancels a pending emission. No mutation happens after it returns.
func (p *MagicLinkProcessor) Stop() {
	p.stopOnce.Do(func() {
		p.alive.Store(false)
		close(p.stop)
	})
}

// Process inspects loc for magic link credentials and completes the sign
// in. Locations without credentials leave the processor idle. It never
// panics.
func (p *MagicLinkProcessor) Process(ctx context.Context, loc Location) (out MagicLinkOutcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("magic link processing panicked", "panic", r)
			out = p.finishError(loc, MsgMagicLinkFailed, wrapKind(KindUnexpected, fmt.Errorf("panic: %v", r), nil))
		}
	}()

	if loc == nil {
		return p.Outcome()
	}
	creds, ok := magicLinkCredentials(loc.URL())
	if !ok {
		return p.Outcome()
	}
	if err := p.transition(MagicLinkProcessing); err != nil {
		// Already ran.
		return p.Outcome()
	}

	done := p.store.BeginLoading()
	defer done()
	release := p.inflight.begin()
	defer release()

	session, err := p.authority.GetSession(ctx)
	if err != nil {
		p.logger.Debug("magic link: no existing session", "error", err)
		session = nil
	}

	if !session.HasIdentity() {
		session, err = p.authority.SetSession(ctx, creds.access, creds.refresh)
		if err == nil && !session.HasIdentity() {
			err = wrapKind(KindInvalidToken, nil, map[string]any{"reason": "session without user"})
		}
		if err != nil {
			msg := MsgMagicLinkFailed
			if ClassifyError(err) == KindInvalidToken {
				msg = MsgMagicLinkExpired
			}
			return p.finishError(loc, msg, err)
		}
	}

	if !p.alive.Load() || ctx.Err() != nil {
		return p.finishError(loc, MsgMagicLinkFailed, wrapKind(KindUnexpected, context.Cause(ctx), nil))
	}

	user := p.sync.Sync(ctx, session.Identity, AuthMethodMagicLink, p.store.User())
	user.EmailConfirmed = true
	p.store.SetSession(ctx, user, session)
	route := p.route(user.Plan)

	p.mu.Lock()
	if err := p.transitionLocked(MagicLinkSuccess); err != nil {
		p.mu.Unlock()
		return p.Outcome()
	}
	p.outcome.User = user.Clone()
	p.outcome.RedirectTo = route
	p.outcome.Message = ""
	p.mu.Unlock()

	scrubCredentials(loc)
	recordActivity(ctx, p.activity, p.logger, p.now, ActivityEvent{
		EventType:  ActivityEventMagicLinkCompleted,
		UserID:     user.ID,
		AuthMethod: AuthMethodMagicLink,
	})

	go p.emitAfterDelay(Signal{Kind: SignalLoginRedirect, Route: route, User: user.Clone()})
	return p.Outcome()
}

func (p *MagicLinkProcessor) emitAfterDelay(sig Signal) {
	timer := time.NewTimer(p.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-p.stop:
		return
	}
	if !p.alive.Load() {
		return
	}
	p.signals.Emit(sig)
	close(p.emitted)
}

func (p *MagicLinkProcessor) finishError(loc Location, msg string, err error) MagicLinkOutcome {
	p.mu.Lock()
	if p.outcome.State == MagicLinkIdle {
		p.outcome.State = MagicLinkProcessing
	}
	if terr := p.transitionLocked(MagicLinkError); terr != nil {
		p.mu.Unlock()
		return p.Outcome()
	}
	p.outcome.Message = msg
	p.mu.Unlock()

	p.logger.Warn("magic link sign in failed", "error", err)
	p.store.SetError(&Failure{Kind: ClassifyError(err), Message: msg, Err: err})
	if p.scrubOnError && loc != nil {
		scrubCredentials(loc)
	}
	return p.Outcome()
}

func (p *MagicLinkProcessor) transition(to MagicLinkState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transitionLocked(to)
}

func (p *MagicLinkProcessor) transitionLocked(to MagicLinkState) error {
	from := p.outcome.State
	allowed, ok := p.transitions[from]
	if ok {
		if _, ok = allowed[to]; ok {
			p.outcome.State = to
			return nil
		}
	}
	clone := ErrInvalidTransition.Clone()
	if clone == nil {
		clone = ErrInvalidTransition
	}
	clone.WithMetadata(map[string]any{
		"from": from,
		"to":   to,
	})
	return clone
}

type linkCredentials struct {
	access  string
	refresh string
}

func magicLinkCredentials(u *url.URL) (linkCredentials, bool) {
	if u == nil {
		return linkCredentials{}, false
	}
	values := url.Values{}
	if u.Fragment != "" {
		if frag, err := url.ParseQuery(u.Fragment); err == nil {
			values = frag
		}
	}
	query := u.Query()
	get := func(key string) string {
		if v := values.Get(key); v != "" {
			return v
		}
		return query.Get(key)
	}

	creds := linkCredentials{access: get("access_token"), refresh: get("refresh_token")}
	if creds.access == "" || get("type") != string(OTPTypeMagicLink) {
		return linkCredentials{}, false
	}
	return creds, true
}

func scrubCredentials(loc Location) {
	u := loc.URL()
	if u == nil {
		return
	}
	clean := *u

	query := clean.Query()
	for _, k := range magicLinkCredentialParams {
		query.Del(k)
	}
	clean.RawQuery = query.Encode()

	if clean.Fragment != "" {
		if frag, err := url.ParseQuery(clean.Fragment); err == nil {
			for _, k := range magicLinkCredentialParams {
				frag.Del(k)
			}
			clean.Fragment = frag.Encode()
		} else {
			clean.Fragment = ""
		}
	}
	clean.RawFragment = ""
	loc.Replace(&clean)
}
