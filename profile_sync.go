package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// ProfileSynchronizer merges a remote identity with its profile record and
// keeps the record up to date. It never fails: when the profile store is
// unreachable the user is built from local data.
type ProfileSynchronizer struct {
	profiles ProfileStore
	logger   Logger
	now      func() time.Time
}

// SyncOption customizes a ProfileSynchronizer.
type SyncOption func(*ProfileSynchronizer)

// WithSyncLogger sets the logger for swallowed store failures.
func WithSyncLogger(logger Logger) SyncOption {
	return func(p *ProfileSynchronizer) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithSyncClock injects the clock used for timestamps.
func WithSyncClock(clock func() time.Time) SyncOption {
	return func(p *ProfileSynchronizer) {
		if clock != nil {
			p.now = clock
		}
	}
}

// NewProfileSynchronizer returns a synchronizer over profiles. A nil store
// disables remote reads and writes.
func NewProfileSynchronizer(profiles ProfileStore, opts ...SyncOption) *ProfileSynchronizer {
	p := &ProfileSynchronizer{
		profiles: profiles,
		logger:   defaultLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Sync returns the user for identity authenticated with method. known is the
// user currently held in memory, used for the fallback plan when the store
// cannot be read.
func (p *ProfileSynchronizer) Sync(ctx context.Context, identity *Identity, method AuthMethod, known *User) *User {
	if identity == nil {
		return nil
	}

	if p.profiles == nil {
		return p.fallback(identity, method, known)
	}

	existing, err := p.profiles.Get(ctx, identity.ID)
	switch {
	case err == nil:
	case isProfileNotFound(err):
		existing = nil
	default:
		// The upsert is skipped so a fallback plan never overwrites the
		// remote value.
		p.logFailure("read", identity.ID, err)
		return p.fallback(identity, method, known)
	}

	record := p.buildRecord(identity, existing)
	saved, err := p.profiles.Upsert(ctx, record)
	if err != nil {
		p.logFailure("upsert", identity.ID, err)
		saved = record
	} else if saved == nil {
		saved = record
	}

	return mergeUser(identity, method, saved)
}

func (p *ProfileSynchronizer) buildRecord(identity *Identity, existing *Profile) *Profile {
	now := p.now().UTC()
	record := &Profile{
		ID:          identity.ID,
		Email:       identity.Email,
		Phone:       identity.Phone,
		DisplayName: deriveDisplayName(identity, ""),
		Country:     identity.metadata("country"),
		Language:    identity.metadata("language"),
		Plan:        PlanFree,
		CreatedAt:   identity.CreatedAt.UTC(),
		UpdatedAt:   now,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if existing == nil {
		return record
	}

	if existing.Email != "" && record.Email == "" {
		record.Email = existing.Email
	}
	if existing.Phone != "" && record.Phone == "" {
		record.Phone = existing.Phone
	}
	if existing.DisplayName != "" {
		record.DisplayName = existing.DisplayName
	}
	if existing.Country != "" {
		record.Country = existing.Country
	}
	if existing.Language != "" {
		record.Language = existing.Language
	}
	if existing.Plan != "" {
		record.Plan = existing.Plan
	}
	if !existing.CreatedAt.IsZero() {
		record.CreatedAt = existing.CreatedAt
	}
	record.Role = existing.Role
	record.Location = existing.Location
	record.IsInvitedPartner = existing.IsInvitedPartner
	record.PartnerSessionID = existing.PartnerSessionID
	record.IsCoupleModeActive = existing.IsCoupleModeActive
	return record
}

func (p *ProfileSynchronizer) fallback(identity *Identity, method AuthMethod, known *User) *User {
	u := mergeUser(identity, method, nil)
	if known != nil && known.ID == identity.ID {
		u.Plan = ParsePlan(string(known.Plan))
		u.Role = known.Role
		u.Location = known.Location
		u.IsInvitedPartner = known.IsInvitedPartner
		u.PartnerSessionID = known.PartnerSessionID
		u.IsCoupleModeActive = known.IsCoupleModeActive
		if known.DisplayName != "" && identity.metadata("full_name", "name") == "" {
			u.DisplayName = known.DisplayName
		}
	}
	return u
}

func (p *ProfileSynchronizer) logFailure(op, userID string, err error) {
	meta := map[string]any{
		"operation": op,
		"user_id":   userID,
	}
	p.logger.Warn("profile sync failed, continuing with local data",
		"error", wrapKind(KindProfileSync, err, meta),
		"details", print.MaybePrettyJSON(meta),
	)
}

func mergeUser(identity *Identity, method AuthMethod, profile *Profile) *User {
	u := &User{
		ID:             identity.ID,
		Email:          identity.Email,
		Phone:          identity.Phone,
		AuthMethod:     method,
		Plan:           PlanFree,
		EmailConfirmed: method == AuthMethodMagicLink || identity.EmailConfirmed(),
	}

	var profileName string
	if profile != nil {
		profileName = profile.DisplayName
		u.Plan = ParsePlan(string(profile.Plan))
		u.Role = profile.Role
		u.Location = profile.Location
		u.IsInvitedPartner = profile.IsInvitedPartner
		u.PartnerSessionID = profile.PartnerSessionID
		u.IsCoupleModeActive = profile.IsCoupleModeActive
		if u.Email == "" {
			u.Email = profile.Email
		}
		if u.Phone == "" {
			u.Phone = profile.Phone
		}
	}
	u.DisplayName = deriveDisplayName(identity, profileName)
	return u
}

// deriveDisplayName applies the precedence profile name, metadata full_name
// or name, email local part, then "User".
func deriveDisplayName(identity *Identity, profileName string) string {
	if name := strings.TrimSpace(profileName); name != "" {
		return name
	}
	if name := identity.metadata("full_name", "name"); name != "" {
		return name
	}
	if identity != nil && identity.Email != "" {
		if local, _, ok := strings.Cut(identity.Email, "@"); ok && local != "" {
			return local
		}
	}
	return "User"
}

func isProfileNotFound(err error) bool {
	return errors.Is(err, ErrProfileNotFound) || goerrors.IsNotFound(err)
}
