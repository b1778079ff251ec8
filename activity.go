package auth

import (
	"context"
	"time"
)

// ActivityEventType names what happened.
type ActivityEventType string

const (
	ActivityEventLoginSuccess       ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure       ActivityEventType = "auth.login.failure"
	ActivityEventSignup             ActivityEventType = "auth.signup"
	ActivityEventGuestStarted       ActivityEventType = "auth.guest.started"
	ActivityEventOTPRequested       ActivityEventType = "auth.otp.requested"
	ActivityEventMagicLinkRequested ActivityEventType = "auth.magic_link.requested"
	ActivityEventMagicLinkCompleted ActivityEventType = "auth.magic_link.completed"
	ActivityEventSessionRestored    ActivityEventType = "auth.session.restored"
	ActivityEventSignedOut          ActivityEventType = "auth.signed_out"
)

// ActivityEvent is one auditable step of a sign in flow.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	AuthMethod AuthMethod
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink receives activity events. Errors never fail the flow that
// produced the event.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc lets a plain function act as a sink.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity is best effort: sink failures are logged and dropped.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, now func() time.Time, event ActivityEvent) {
	if sink == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now()
	}
	if err := sink.Record(ctx, event); err != nil && logger != nil {
		logger.Warn("activity sink failed", "event", event.EventType, "error", err)
	}
}
