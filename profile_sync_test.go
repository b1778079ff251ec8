package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kazini-app/go-kazini-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestProfileSynchronizerCreatesProfileForNewUser(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	profiles := newMemoryProfiles()
	sync := auth.NewProfileSynchronizer(profiles, auth.WithSyncClock(func() time.Time { return now }))

	identity := confirmedIdentity("u1", "jane.doe@example.com")
	identity.UserMetadata = map[string]any{"country": "KE", "language": "sw"}

	user := sync.Sync(context.Background(), identity, auth.AuthMethodEmail, nil)
	require.NotNil(t, user)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, auth.PlanFree, user.Plan)
	assert.Equal(t, "jane.doe", user.DisplayName)
	assert.True(t, user.EmailConfirmed)
	assert.Equal(t, auth.AuthMethodEmail, user.AuthMethod)

	record, ok := profiles.record("u1")
	require.True(t, ok)
	assert.Equal(t, "KE", record.Country)
	assert.Equal(t, "sw", record.Language)
	assert.Equal(t, auth.PlanFree, record.Plan)
	assert.Equal(t, now, record.UpdatedAt)
	assert.Equal(t, identity.CreatedAt, record.CreatedAt)
}

func TestProfileSynchronizerRemotePlanWins(t *testing.T) {
	profiles := newMemoryProfiles(auth.Profile{
		ID:          "u1",
		DisplayName: "Jane",
		Plan:        auth.PlanPremium,
		Role:        "member",
		CreatedAt:   time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	sync := auth.NewProfileSynchronizer(profiles)

	stale := &auth.User{ID: "u1", Plan: auth.PlanFree}
	user := sync.Sync(context.Background(), confirmedIdentity("u1", "jane@example.com"), auth.AuthMethodEmail, stale)

	assert.Equal(t, auth.PlanPremium, user.Plan)
	assert.Equal(t, "Jane", user.DisplayName)
	assert.Equal(t, "member", user.Role)

	record, _ := profiles.record("u1")
	assert.Equal(t, auth.PlanPremium, record.Plan, "upsert must not clobber the remote plan")
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), record.CreatedAt)
}

func TestProfileSynchronizerKeepsPlanChangedDuringSync(t *testing.T) {
	profiles := newMemoryProfiles(auth.Profile{ID: "u1", Plan: auth.PlanFree})
	profiles.afterGet = func(id string) {
		profiles.setPlan(id, auth.PlanCouple)
	}
	sync := auth.NewProfileSynchronizer(profiles)

	user := sync.Sync(context.Background(), confirmedIdentity("u1", "jane@example.com"), auth.AuthMethodEmail, nil)

	assert.Equal(t, auth.PlanCouple, user.Plan)
	record, _ := profiles.record("u1")
	assert.Equal(t, auth.PlanCouple, record.Plan)
}

func TestProfileSynchronizerIsIdempotent(t *testing.T) {
	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	profiles := newMemoryProfiles()
	sync := auth.NewProfileSynchronizer(profiles, auth.WithSyncClock(func() time.Time { return clock }))
	identity := confirmedIdentity("u1", "jane@example.com")

	sync.Sync(context.Background(), identity, auth.AuthMethodEmail, nil)
	first, _ := profiles.record("u1")

	clock = clock.Add(time.Hour)
	sync.Sync(context.Background(), identity, auth.AuthMethodEmail, nil)
	second, _ := profiles.record("u1")

	assert.NotEqual(t, first.UpdatedAt, second.UpdatedAt)
	first.UpdatedAt = second.UpdatedAt
	assert.Equal(t, first, second)
}

func TestProfileSynchronizerDisplayNamePrecedence(t *testing.T) {
	tests := []struct {
		name     string
		profile  string
		metadata map[string]any
		email    string
		expected string
	}{
		{name: "profile name", profile: "Profile Name", metadata: map[string]any{"full_name": "Meta"}, email: "x@y.z", expected: "Profile Name"},
		{name: "full name", metadata: map[string]any{"full_name": "Full Name", "name": "Short"}, email: "x@y.z", expected: "Full Name"},
		{name: "name", metadata: map[string]any{"name": "Short"}, email: "x@y.z", expected: "Short"},
		{name: "email local part", email: "local.part@y.z", expected: "local.part"},
		{name: "fallback", expected: "User"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seed []auth.Profile
			if tt.profile != "" {
				seed = append(seed, auth.Profile{ID: "u1", DisplayName: tt.profile})
			}
			sync := auth.NewProfileSynchronizer(newMemoryProfiles(seed...))
			identity := &auth.Identity{ID: "u1", Email: tt.email, UserMetadata: tt.metadata}

			user := sync.Sync(context.Background(), identity, auth.AuthMethodPhone, nil)
			assert.Equal(t, tt.expected, user.DisplayName)
		})
	}
}

func TestProfileSynchronizerReadFailureFallsBack(t *testing.T) {
	profiles := &MockProfiles{}
	profiles.On("Get", mock.Anything, "u1").Return(nil, errors.New("connection reset")).Once()
	sync := auth.NewProfileSynchronizer(profiles)

	t.Run("keeps the known plan of the same user", func(t *testing.T) {
		known := &auth.User{ID: "u1", Plan: auth.PlanCouple}
		user := sync.Sync(context.Background(), confirmedIdentity("u1", "a@b.co"), auth.AuthMethodEmail, known)
		assert.Equal(t, auth.PlanCouple, user.Plan)
	})

	profiles.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)

	t.Run("other users default to free", func(t *testing.T) {
		profiles.On("Get", mock.Anything, "u2").Return(nil, errors.New("connection reset")).Once()
		known := &auth.User{ID: "u1", Plan: auth.PlanCouple}
		user := sync.Sync(context.Background(), confirmedIdentity("u2", "b@b.co"), auth.AuthMethodEmail, known)
		assert.Equal(t, auth.PlanFree, user.Plan)
	})

	profiles.AssertExpectations(t)
}

func TestProfileSynchronizerUpsertFailureKeepsReadPlan(t *testing.T) {
	profiles := &MockProfiles{}
	profiles.On("Get", mock.Anything, "u1").Return(&auth.Profile{ID: "u1", Plan: auth.PlanPro}, nil).Once()
	profiles.On("Upsert", mock.Anything, mock.AnythingOfType("*auth.Profile")).Return(nil, errors.New("permission denied")).Once()

	sync := auth.NewProfileSynchronizer(profiles)
	user := sync.Sync(context.Background(), confirmedIdentity("u1", "a@b.co"), auth.AuthMethodEmail, nil)

	require.NotNil(t, user)
	assert.Equal(t, auth.PlanPro, user.Plan)
	profiles.AssertExpectations(t)
}

func TestProfileSynchronizerMagicLinkIsConfirmed(t *testing.T) {
	sync := auth.NewProfileSynchronizer(nil)
	identity := &auth.Identity{ID: "u1", Email: "a@b.co"}

	user := sync.Sync(context.Background(), identity, auth.AuthMethodMagicLink, nil)
	assert.True(t, user.EmailConfirmed)

	user = sync.Sync(context.Background(), identity, auth.AuthMethodEmail, nil)
	assert.False(t, user.EmailConfirmed)
}
