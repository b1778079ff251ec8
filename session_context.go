package auth

import (
	"context"
	"sync"
	"time"
)

// SessionContext owns the session store, signal hub, handlers and
// reconciler for one process, and hands out a fresh magic link processor for
// every landing. Create it with New, call Init once at startup and Close on
// shutdown.
type SessionContext struct {
	authority  AuthAuthority
	store      *SessionStore
	signals    *Signals
	sync       *ProfileSynchronizer
	handlers   *Handlers
	reconciler *SessionReconciler
	activity   ActivitySink
	logger     Logger
	now        func() time.Time

	magicLinkOpts []MagicLinkOption

	// mlMu guards the processors whose emission may still be pending.
	mlMu       sync.Mutex
	magicLinks map[*MagicLinkProcessor]struct{}
	closed     bool

	initOnce  sync.Once
	closeOnce sync.Once
}

type options struct {
	logger         Logger
	loggerProvider LoggerProvider
	activity       ActivitySink
	clock          func() time.Time
	handlerOpts    []HandlerOption
	magicLinkOpts  []MagicLinkOption
	reconcilerOpts []ReconcilerOption
	syncOpts       []SyncOption
}

// Option customizes a SessionContext.
type Option func(*options)

// WithLogger sets the fallback logger for every component.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLoggerProvider hands each component a named logger.
func WithLoggerProvider(provider LoggerProvider) Option {
	return func(o *options) {
		o.loggerProvider = provider
	}
}

// WithActivitySink sets the sink shared by every component.
func WithActivitySink(sink ActivitySink) Option {
	return func(o *options) {
		o.activity = sink
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithHandlerOptions forwards options to the login handlers.
func WithHandlerOptions(opts ...HandlerOption) Option {
	return func(o *options) {
		o.handlerOpts = append(o.handlerOpts, opts...)
	}
}

// WithMagicLinkOptions forwards options to the magic link processor.
func WithMagicLinkOptions(opts ...MagicLinkOption) Option {
	return func(o *options) {
		o.magicLinkOpts = append(o.magicLinkOpts, opts...)
	}
}

// WithReconcilerOptions forwards options to the session reconciler.
func WithReconcilerOptions(opts ...ReconcilerOption) Option {
	return func(o *options) {
		o.reconcilerOpts = append(o.reconcilerOpts, opts...)
	}
}

// WithSyncOptions forwards options to the profile synchronizer.
func WithSyncOptions(opts ...SyncOption) Option {
	return func(o *options) {
		o.syncOpts = append(o.syncOpts, opts...)
	}
}

// New wires a SessionContext. profiles and cache may be nil.
func New(authority AuthAuthority, profiles ProfileStore, cache LocalCache, opts ...Option) *SessionContext {
	o := &options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	logger := func(name string) Logger {
		return ResolveLogger(name, o.loggerProvider, o.logger)
	}
	activity := normalizeActivitySink(o.activity)

	sc := &SessionContext{
		authority:  authority,
		signals:    NewSignals(),
		activity:   activity,
		logger:     logger("auth.session"),
		now:        o.clock,
		magicLinks: map[*MagicLinkProcessor]struct{}{},
	}
	sc.store = NewSessionStore(cache, WithStoreLogger(logger("auth.store")))
	sc.sync = NewProfileSynchronizer(profiles, append([]SyncOption{
		WithSyncLogger(logger("auth.profile_sync")),
		WithSyncClock(o.clock),
	}, o.syncOpts...)...)

	sc.handlers = NewHandlers(authority, sc.sync, sc.store, sc.signals, append([]HandlerOption{
		WithHandlerLogger(logger("auth.handlers")),
		WithHandlerActivitySink(activity),
		WithHandlerClock(o.clock),
	}, o.handlerOpts...)...)

	sc.magicLinkOpts = append([]MagicLinkOption{
		WithMagicLinkLogger(logger("auth.magic_link")),
		WithMagicLinkActivitySink(activity),
		WithMagicLinkRoutingPolicy(sc.handlers.route),
	}, o.magicLinkOpts...)

	sc.reconciler = NewSessionReconciler(authority, sc.sync, sc.store, sc.signals, append([]ReconcilerOption{
		WithReconcilerLogger(logger("auth.reconciler")),
		WithReconcilerRoutingPolicy(sc.handlers.route),
	}, o.reconcilerOpts...)...)
	sc.reconciler.inflight = sc.handlers.inflight

	return sc
}

// Store returns the session store.
func (sc *SessionContext) Store() *SessionStore { return sc.store }

// Signals returns the routing signal hub.
func (sc *SessionContext) Signals() *Signals { return sc.signals }

// Handlers returns the login methods.
func (sc *SessionContext) Handlers() *Handlers { return sc.handlers }

// NewMagicLink returns an idle processor bound to this context. Each landing
// gets its own; Close stops the ones still pending.
func (sc *SessionContext) NewMagicLink() *MagicLinkProcessor {
	p := NewMagicLinkProcessor(sc.authority, sc.sync, sc.store, sc.signals, sc.magicLinkOpts...)
	p.inflight = sc.handlers.inflight

	sc.mlMu.Lock()
	defer sc.mlMu.Unlock()
	if sc.closed {
		p.Stop()
		return p
	}
	sc.magicLinks[p] = struct{}{}
	go sc.forgetMagicLink(p)
	return p
}

func (sc *SessionContext) forgetMagicLink(p *MagicLinkProcessor) {
	select {
	case <-p.Emitted():
	case <-p.Stopped():
	}
	sc.mlMu.Lock()
	delete(sc.magicLinks, p)
	sc.mlMu.Unlock()
}

// User returns the current user or nil.
func (sc *SessionContext) User() *User { return sc.store.User() }

// Init restores the cached user, starts the reconciler and re-enriches the
// remote session. It runs once; the returned user is the one held afterwards.
func (sc *SessionContext) Init(ctx context.Context) *User {
	sc.initOnce.Do(func() {
		sc.restore(ctx)
	})
	return sc.store.User()
}

func (sc *SessionContext) restore(ctx context.Context) {
	done := sc.store.BeginLoading()
	defer done()
	release := sc.handlers.inflight.begin()
	defer release()

	cached := sc.store.Restore(ctx)
	sc.reconciler.Start(ctx)

	session, err := sc.authority.GetSession(ctx)
	if err != nil {
		if ClassifyError(err) == KindNetwork {
			sc.logger.Warn("session restore: authority unreachable, keeping cached user", "error", err)
			return
		}
		sc.logger.Warn("session restore: failed to read session", "error", err)
		if cached != nil && !cached.IsGuest() {
			sc.store.Clear(ctx)
		}
		return
	}

	if !session.HasIdentity() || session.Identity.AwaitingEmailConfirmation() {
		if cached != nil && !cached.IsGuest() {
			sc.logger.Info("session restore: no remote session, clearing cached user", "user_id", cached.ID)
			sc.store.Clear(ctx)
		}
		return
	}

	method := methodForIdentity(session.Identity, cached)
	user := sc.sync.Sync(ctx, session.Identity, method, cached)
	if ctx.Err() != nil {
		return
	}
	sc.store.SetSession(ctx, user, session)
	recordActivity(ctx, sc.activity, sc.logger, sc.now, ActivityEvent{
		EventType:  ActivityEventSessionRestored,
		UserID:     user.ID,
		AuthMethod: method,
	})
}

// ProcessMagicLink completes a magic link landing on loc with a fresh
// processor, so every landing starts idle.
func (sc *SessionContext) ProcessMagicLink(ctx context.Context, loc Location) MagicLinkOutcome {
	p := sc.NewMagicLink()
	out := p.Process(ctx, loc)
	if out.State != MagicLinkSuccess {
		p.Stop()
	}
	return out
}

// SignOut ends the session. Guests never reach the authority and a remote
// failure is logged; local state is cleared either way.
func (sc *SessionContext) SignOut(ctx context.Context) {
	done := sc.store.BeginLoading()
	defer done()

	user := sc.store.User()
	if !user.IsGuest() && (user != nil || sc.store.Session() != nil) {
		if err := sc.authority.SignOut(ctx); err != nil {
			sc.logger.Warn("remote sign out failed, clearing local session", "error", err)
		}
	}

	if sc.store.Clear(ctx) {
		sc.signals.Emit(Signal{Kind: SignalSignedOut})
	}

	event := ActivityEvent{EventType: ActivityEventSignedOut}
	if user != nil {
		event.UserID = user.ID
		event.AuthMethod = user.AuthMethod
	}
	recordActivity(ctx, sc.activity, sc.logger, sc.now, event)
}

// RequestAuth asks the presentation layer to show the login surface.
func (sc *SessionContext) RequestAuth() {
	sc.signals.Emit(Signal{Kind: SignalRequestAuth})
}

// Close stops the reconciler and every pending magic link emission.
func (sc *SessionContext) Close() {
	sc.closeOnce.Do(func() {
		sc.reconciler.Stop()

		sc.mlMu.Lock()
		sc.closed = true
		pending := make([]*MagicLinkProcessor, 0, len(sc.magicLinks))
		for p := range sc.magicLinks {
			pending = append(pending, p)
		}
		sc.magicLinks = map[*MagicLinkProcessor]struct{}{}
		sc.mlMu.Unlock()

		for _, p := range pending {
			p.Stop()
		}
	})
}
