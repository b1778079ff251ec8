package auth

import (
	"context"
	"sync"
	"sync/atomic"
)

// loginTracker counts logins that are between the remote call and the
// store update.
type loginTracker struct {
	n atomic.Int32
}

func (t *loginTracker) begin() func() {
	t.n.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { t.n.Add(-1) })
	}
}

func (t *loginTracker) active() bool {
	return t != nil && t.n.Load() > 0
}

type authNotification struct {
	event   AuthEvent
	session *Session
}

// SessionReconciler applies remote auth state notifications to the store.
// Notifications are queued and handled one at a time on a single goroutine.
type SessionReconciler struct {
	authority AuthAuthority
	sync      *ProfileSynchronizer
	store     *SessionStore
	signals   *Signals
	route     RoutingPolicy
	logger    Logger
	inflight  *loginTracker

	// mutMu pairs the liveness check with each store mutation.
	mutMu sync.Mutex
	alive atomic.Bool

	qmu     sync.Mutex
	pending []authNotification
	wake    chan struct{}

	sub       Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// ReconcilerOption customizes a SessionReconciler.
type ReconcilerOption func(*SessionReconciler)

// WithReconcilerLogger overrides the reconciler logger.
func WithReconcilerLogger(logger Logger) ReconcilerOption {
	return func(r *SessionReconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReconcilerRoutingPolicy overrides RouteForPlan.
func WithReconcilerRoutingPolicy(policy RoutingPolicy) ReconcilerOption {
	return func(r *SessionReconciler) {
		if policy != nil {
			r.route = policy
		}
	}
}

// NewSessionReconciler returns a stopped reconciler; call Start to subscribe.
func NewSessionReconciler(authority AuthAuthority, sync *ProfileSynchronizer, store *SessionStore, signals *Signals, opts ...ReconcilerOption) *SessionReconciler {
	r := &SessionReconciler{
		authority: authority,
		sync:      sync,
		store:     store,
		signals:   signals,
		route:     RouteForPlan,
		logger:    defaultLogger(),
		inflight:  &loginTracker{},
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.sync == nil {
		r.sync = NewProfileSynchronizer(nil, WithSyncLogger(r.logger))
	}
	if r.signals == nil {
		r.signals = NewSignals()
	}
	return r
}

// Start subscribes to the authority. Later calls are no-ops.
func (r *SessionReconciler) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
		r.alive.Store(true)
		r.sub = r.authority.OnAuthStateChange(r.enqueue)
		go r.run()
	})
}

// Stop unsubscribes. Once it returns the store is no longer mutated.
func (r *SessionReconciler) Stop() {
	r.stopOnce.Do(func() {
		r.mutMu.Lock()
		r.alive.Store(false)
		r.mutMu.Unlock()

		if r.sub != nil {
			r.sub.Unsubscribe()
		}
		if r.cancel != nil {
			r.cancel()
		}
		select {
		case r.wake <- struct{}{}:
		default:
		}
	})
}

// Done is closed when the worker goroutine exits.
func (r *SessionReconciler) Done() <-chan struct{} {
	return r.done
}

func (r *SessionReconciler) enqueue(event AuthEvent, session *Session) {
	if !r.alive.Load() {
		return
	}
	r.qmu.Lock()
	r.pending = append(r.pending, authNotification{event: event, session: session})
	r.qmu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *SessionReconciler) run() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.wake:
		}

		for {
			r.qmu.Lock()
			if len(r.pending) == 0 {
				r.qmu.Unlock()
				break
			}
			next := r.pending[0]
			r.pending = r.pending[1:]
			r.qmu.Unlock()

			if !r.alive.Load() {
				return
			}
			r.handle(next)
		}
	}
}

func (r *SessionReconciler) handle(n authNotification) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("session reconciler panicked", "event", n.event, "panic", rec)
		}
	}()

	switch n.event {
	case EventSignedOut:
		var cleared bool
		if !r.mutate(func() { cleared = r.store.Clear(r.ctx) }) {
			return
		}
		if cleared {
			r.signals.Emit(Signal{Kind: SignalSignedOut})
		}

	case EventTokenRefreshed:
		if !n.session.HasIdentity() {
			return
		}
		r.mutate(func() {
			if !r.store.UpdateTokens(n.session.Identity.ID, n.session) {
				r.logger.Debug("token refresh for a different user ignored", "user_id", n.session.Identity.ID)
			}
		})

	case EventSignedIn, EventInitialSession, EventUserUpdated:
		r.applySignIn(n)

	default:
		r.logger.Debug("ignoring auth event", "event", n.event)
	}
}

func (r *SessionReconciler) applySignIn(n authNotification) {
	if !n.session.HasIdentity() {
		return
	}
	if n.session.Identity.AwaitingEmailConfirmation() {
		r.logger.Debug("identity awaiting email confirmation, skipping notification", "event", n.event, "user_id", n.session.Identity.ID)
		return
	}
	if r.inflight.active() {
		r.logger.Debug("manual login in flight, skipping notification", "event", n.event)
		return
	}
	if n.event != EventUserUpdated && n.session.AccessToken != "" && n.session.AccessToken == r.store.AccessToken() {
		return
	}

	known := r.store.User()
	method := methodForIdentity(n.session.Identity, known)
	user := r.sync.Sync(r.ctx, n.session.Identity, method, known)
	if user == nil {
		return
	}

	applied := r.mutate(func() { r.store.SetSession(r.ctx, user, n.session) })
	if !applied {
		return
	}
	r.signals.Emit(Signal{Kind: SignalSessionChanged, Route: r.route(user.Plan), User: user.Clone()})
}

// mutate runs fn unless the reconciler was stopped.
func (r *SessionReconciler) mutate(fn func()) bool {
	r.mutMu.Lock()
	defer r.mutMu.Unlock()
	if !r.alive.Load() {
		return false
	}
	fn()
	return true
}

// methodForIdentity keeps the method of the user already held for the same
// id, otherwise derives it from the provider the authority recorded.
func methodForIdentity(identity *Identity, known *User) AuthMethod {
	if known != nil && known.ID == identity.ID && known.AuthMethod != "" && !known.IsGuest() {
		return known.AuthMethod
	}
	switch identity.Provider() {
	case "", "email":
		return AuthMethodEmail
	case "phone":
		return AuthMethodPhone
	default:
		return AuthMethodOAuth
	}
}
