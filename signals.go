package auth

import "sync"

// SignalKind names a routing notification for the presentation layer.
type SignalKind string

const (
	// SignalLoginRedirect follows a direct login through a handler.
	SignalLoginRedirect SignalKind = "login_redirect"
	// SignalSessionChanged follows a session delivered by a remote notification.
	SignalSessionChanged SignalKind = "session_changed"
	// SignalRequestAuth asks the presentation layer to show the login surface.
	SignalRequestAuth SignalKind = "request_auth"
	SignalSignedOut   SignalKind = "signed_out"
)

// Signal is delivered to every subscriber of a Signals hub.
type Signal struct {
	Kind  SignalKind `json:"kind"`
	Route string     `json:"route,omitempty"`
	User  *User      `json:"user,omitempty"`
}

// Signals is a small fan-out hub. Subscribers run synchronously on the
// emitting goroutine and must not block.
type Signals struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Signal)
}

// NewSignals returns an empty hub.
func NewSignals() *Signals {
	return &Signals{subs: map[int]func(Signal){}}
}

// Subscribe registers fn until the returned handle is unsubscribed.
func (s *Signals) Subscribe(fn func(Signal)) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return &signalSubscription{hub: s, id: id}
}

// Emit delivers sig to a snapshot of current subscribers.
func (s *Signals) Emit(sig Signal) {
	s.mu.RLock()
	fns := make([]func(Signal), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(sig)
	}
}

func (s *Signals) remove(id int) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

type signalSubscription struct {
	hub  *Signals
	id   int
	once sync.Once
}

func (s *signalSubscription) Unsubscribe() {
	s.once.Do(func() { s.hub.remove(s.id) })
}
