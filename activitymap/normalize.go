// Package activitymap turns auth activity events into a flat record that
// audit pipelines and log sinks can consume.
package activitymap

import (
	"context"
	"strings"
	"time"

	"github.com/kazini-app/go-kazini-auth"
)

// MetadataKeyAuthMethod stores the sign in method of the event.
const MetadataKeyAuthMethod = "auth_method"

const (
	defaultChannel    = "auth"
	defaultObjectType = "session"
	defaultActorID    = "anonymous"
)

// Normalized is the flat activity shape.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	objectType    string
	actorFallback string
	now           func() time.Time
}

// Normalize converts event. Events without a user are attributed to the
// actor fallback.
func Normalize(event auth.ActivityEvent, opts ...Option) Normalized {
	options := normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	userID := strings.TrimSpace(event.UserID)
	actorID := userID
	if actorID == "" {
		actorID = options.actorFallback
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = options.now()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: options.objectType,
		ObjectID:   userID,
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt.UTC(),
	}
}

// WithChannel sets the channel of normalized records.
func WithChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithObjectType sets the object type of normalized records.
func WithObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithActorFallback names the actor of events that carry no user.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if actorID = strings.TrimSpace(actorID); actorID != "" {
			opts.actorFallback = actorID
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if now != nil {
			opts.now = now
		}
	}
}

func normalizeMetadata(event auth.ActivityEvent) map[string]any {
	var metadata map[string]any
	if len(event.Metadata) > 0 {
		metadata = make(map[string]any, len(event.Metadata)+1)
		for key, value := range event.Metadata {
			metadata[key] = value
		}
	}
	if event.AuthMethod != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[MetadataKeyAuthMethod]; !exists {
			metadata[MetadataKeyAuthMethod] = string(event.AuthMethod)
		}
	}
	return metadata
}

// LogSink records normalized events through a Logger.
type LogSink struct {
	logger auth.Logger
	opts   []Option
}

var _ auth.ActivitySink = (*LogSink)(nil)

// NewLogSink creates a sink writing to logger.
func NewLogSink(logger auth.Logger, opts ...Option) *LogSink {
	if logger == nil {
		logger = auth.NoopLogger{}
	}
	return &LogSink{logger: logger, opts: opts}
}

// Record implements auth.ActivitySink.
func (s *LogSink) Record(_ context.Context, event auth.ActivityEvent) error {
	n := Normalize(event, s.opts...)
	s.logger.Info("activity",
		"verb", n.Verb,
		"actor_id", n.ActorID,
		"object_type", n.ObjectType,
		"object_id", n.ObjectID,
		"channel", n.Channel,
		"metadata", n.Metadata,
		"occurred_at", n.OccurredAt,
	)
	return nil
}
