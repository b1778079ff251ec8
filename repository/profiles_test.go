package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kazini-app/go-kazini-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupManager(t *testing.T) *Manager {
	t.Helper()
	m, err := Open(context.Background(), DialectSQLite, "file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	m.MustValidate()
	return m
}

func TestProfileRepositoryGetMissing(t *testing.T) {
	repo := setupManager(t).Profiles()

	_, err := repo.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, auth.ErrProfileNotFound)

	_, err = repo.Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, auth.ErrProfileNotFound)
}

func TestProfileRepositoryUpsertAndGet(t *testing.T) {
	repo := setupManager(t).Profiles()
	ctx := context.Background()
	id := uuid.NewString()

	saved, err := repo.Upsert(ctx, &auth.Profile{
		ID:               id,
		Email:            "a@b.co",
		DisplayName:      "Ada",
		Country:          "KE",
		Plan:             auth.PlanCouple,
		IsInvitedPartner: true,
	})
	require.NoError(t, err)
	assert.Equal(t, id, saved.ID)
	assert.Equal(t, "Ada", saved.DisplayName)
	assert.Equal(t, auth.PlanCouple, saved.Plan)
	assert.True(t, saved.IsInvitedPartner)
	assert.False(t, saved.CreatedAt.IsZero())

	found, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "KE", found.Country)
	assert.Equal(t, "a@b.co", found.Email)
}

func TestProfileRepositoryUpsertRefreshesIdentityFieldsOnly(t *testing.T) {
	repo := setupManager(t).Profiles()
	ctx := context.Background()
	id := uuid.NewString()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	_, err := repo.Upsert(ctx, &auth.Profile{
		ID:          id,
		DisplayName: "Ada",
		Plan:        auth.PlanCouple,
		Role:        "admin",
		CreatedAt:   created,
		UpdatedAt:   created,
	})
	require.NoError(t, err)

	later := created.Add(48 * time.Hour)
	updated, err := repo.Upsert(ctx, &auth.Profile{
		ID:          id,
		DisplayName: "Ada L.",
		Plan:        auth.PlanFree,
		CreatedAt:   later,
		UpdatedAt:   later,
	})
	require.NoError(t, err)

	assert.Equal(t, "Ada L.", updated.DisplayName)
	assert.Equal(t, auth.PlanCouple, updated.Plan, "plan is only written on insert")
	assert.Equal(t, "admin", updated.Role)
	assert.True(t, created.Equal(updated.CreatedAt), "created_at is not overwritten")
	assert.True(t, later.Equal(updated.UpdatedAt))
}

// planRaceStore upgrades the stored plan right after the synchronizer read
// it, the way a payment webhook could.
type planRaceStore struct {
	*ProfileRepository
	t *testing.T
}

func (s planRaceStore) Get(ctx context.Context, id string) (*auth.Profile, error) {
	read, err := s.ProfileRepository.Get(ctx, id)
	_, uerr := s.db.NewRaw(`UPDATE "profiles" SET "plan" = ? WHERE "id" = ?`, string(auth.PlanPremium), id).Exec(ctx)
	require.NoError(s.t, uerr)
	return read, err
}

func TestProfileSyncKeepsPlanWrittenAfterRead(t *testing.T) {
	repo := setupManager(t).Profiles()
	ctx := context.Background()
	id := uuid.NewString()
	_, err := repo.Upsert(ctx, &auth.Profile{ID: id, Email: "a@b.co", Plan: auth.PlanFree})
	require.NoError(t, err)

	confirmed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	identity := &auth.Identity{ID: id, Email: "a@b.co", EmailConfirmedAt: &confirmed}
	sync := auth.NewProfileSynchronizer(planRaceStore{ProfileRepository: repo, t: t})

	user := sync.Sync(ctx, identity, auth.AuthMethodEmail, nil)

	require.NotNil(t, user)
	assert.Equal(t, auth.PlanPremium, user.Plan)
	stored, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, auth.PlanPremium, stored.Plan)
}

func TestProfileRepositoryEmptyPlanDefaultsToFree(t *testing.T) {
	repo := setupManager(t).Profiles()

	saved, err := repo.Upsert(context.Background(), &auth.Profile{ID: uuid.NewString()})
	require.NoError(t, err)
	assert.Equal(t, auth.PlanFree, saved.Plan)
}

func TestProfileRepositoryRejectsBadID(t *testing.T) {
	repo := setupManager(t).Profiles()

	_, err := repo.Upsert(context.Background(), &auth.Profile{})
	assert.ErrorIs(t, err, auth.ErrValidation)

	_, err = repo.Upsert(context.Background(), &auth.Profile{ID: "u1"})
	assert.ErrorIs(t, err, auth.ErrValidation)
}

func TestProfileRepositoryCountByPlan(t *testing.T) {
	repo := setupManager(t).Profiles()
	ctx := context.Background()
	for _, plan := range []auth.Plan{auth.PlanPro, auth.PlanPro, auth.PlanCouple} {
		_, err := repo.Upsert(ctx, &auth.Profile{ID: uuid.NewString(), Plan: plan})
		require.NoError(t, err)
	}

	counts, err := repo.CountByPlan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[auth.PlanPro])
	assert.Equal(t, 1, counts[auth.PlanCouple])
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	_, err := Open(context.Background(), Dialect("oracle"), "")
	assert.Error(t, err)
}
