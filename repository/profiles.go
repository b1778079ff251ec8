package repository

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/kazini-app/go-kazini-auth"
	"github.com/uptrace/bun"
)

// UpsertProfileSQL inserts a full profile row. On conflict only the fields
// derived from the identity are refreshed; plan, role and the partner flags
// belong to other writers and are never overwritten by a sign in.
var UpsertProfileSQL = `INSERT INTO "profiles" (
	"id", "email", "phone", "display_name", "country", "language", "plan", "role", "location",
	"is_invited_partner", "partner_session_id", "is_couple_mode_active", "created_at", "updated_at"
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT ("id") DO UPDATE SET
	"email" = EXCLUDED."email",
	"phone" = EXCLUDED."phone",
	"display_name" = EXCLUDED."display_name",
	"country" = EXCLUDED."country",
	"language" = EXCLUDED."language",
	"updated_at" = EXCLUDED."updated_at"
RETURNING *;`

var CountProfilesByPlanSQL = `SELECT "plan", COUNT(*) AS "count" FROM "profiles" GROUP BY "plan";`

var _ auth.ProfileStore = (*ProfileRepository)(nil)

// ProfileModel is the Bun model for profiles.
type ProfileModel struct {
	bun.BaseModel `bun:"table:profiles"`

	ID                 uuid.UUID `bun:"id,pk"`
	Email              string    `bun:"email,notnull"`
	Phone              string    `bun:"phone,notnull"`
	DisplayName        string    `bun:"display_name,notnull"`
	Country            string    `bun:"country,notnull"`
	Language           string    `bun:"language,notnull"`
	Plan               string    `bun:"plan,notnull"`
	Role               string    `bun:"role,notnull"`
	Location           string    `bun:"location,notnull"`
	IsInvitedPartner   bool      `bun:"is_invited_partner,notnull"`
	PartnerSessionID   string    `bun:"partner_session_id,notnull"`
	IsCoupleModeActive bool      `bun:"is_couple_mode_active,notnull"`
	CreatedAt          time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// ProfileRepository implements auth.ProfileStore on top of the generic Bun
// repository.
type ProfileRepository struct {
	repo repository.Repository[*ProfileModel]
	db   *bun.DB
	now  func() time.Time
}

// NewProfileRepository creates a new repository.
func NewProfileRepository(db *bun.DB) *ProfileRepository {
	repo := repository.NewRepository[*ProfileModel](db, repository.ModelHandlers[*ProfileModel]{
		NewRecord: func() *ProfileModel { return &ProfileModel{} },
		GetID: func(m *ProfileModel) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return m.ID
		},
		SetID: func(m *ProfileModel, id uuid.UUID) {
			if m != nil {
				m.ID = id
			}
		},
	})
	return &ProfileRepository{
		repo: repo,
		db:   db,
		now:  time.Now,
	}
}

// Get implements auth.ProfileStore. Ids that are not UUIDs can never match a
// row and report ErrProfileNotFound.
func (r *ProfileRepository) Get(ctx context.Context, id string) (*auth.Profile, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, auth.ErrProfileNotFound
	}
	model, err := r.repo.GetByID(ctx, id)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, auth.ErrProfileNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "profile lookup failed").
			WithMetadata(map[string]any{"profile_id": id})
	}
	return toProfile(model), nil
}

// Upsert implements auth.ProfileStore.
func (r *ProfileRepository) Upsert(ctx context.Context, profile *auth.Profile) (*auth.Profile, error) {
	return r.upsert(ctx, r.db, profile)
}

// upsert runs as a single statement so a concurrent plan change is never
// lost.
func (r *ProfileRepository) upsert(ctx context.Context, tx bun.IDB, profile *auth.Profile) (*auth.Profile, error) {
	model, err := fromProfile(profile)
	if err != nil {
		return nil, err
	}
	if model.UpdatedAt.IsZero() {
		model.UpdatedAt = r.now().UTC()
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = model.UpdatedAt
	}

	rows, err := r.repo.RawTx(ctx, tx, UpsertProfileSQL,
		model.ID.String(), model.Email, model.Phone, model.DisplayName, model.Country, model.Language,
		model.Plan, model.Role, model.Location, model.IsInvitedPartner, model.PartnerSessionID,
		model.IsCoupleModeActive, model.CreatedAt, model.UpdatedAt,
	)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "profile upsert failed").
			WithMetadata(map[string]any{"profile_id": profile.ID})
	}
	if len(rows) == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{"profile_id": profile.ID})
	}
	return toProfile(rows[0]), nil
}

// CountByPlan returns how many profiles hold each plan.
func (r *ProfileRepository) CountByPlan(ctx context.Context) (map[auth.Plan]int, error) {
	var rows []struct {
		Plan  string `bun:"plan"`
		Count int    `bun:"count"`
	}
	if err := r.db.NewRaw(CountProfilesByPlanSQL).Scan(ctx, &rows); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "profile count failed")
	}

	counts := make(map[auth.Plan]int, len(rows))
	for _, row := range rows {
		counts[auth.ParsePlan(row.Plan)] += row.Count
	}
	return counts, nil
}

func toProfile(m *ProfileModel) *auth.Profile {
	return &auth.Profile{
		ID:                 m.ID.String(),
		Email:              m.Email,
		Phone:              m.Phone,
		DisplayName:        m.DisplayName,
		Country:            m.Country,
		Language:           m.Language,
		Plan:               auth.ParsePlan(m.Plan),
		Role:               m.Role,
		Location:           m.Location,
		IsInvitedPartner:   m.IsInvitedPartner,
		PartnerSessionID:   m.PartnerSessionID,
		IsCoupleModeActive: m.IsCoupleModeActive,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func fromProfile(p *auth.Profile) (*ProfileModel, error) {
	if p == nil || p.ID == "" {
		return nil, auth.ErrValidation
	}
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return nil, auth.ErrValidation
	}
	plan := p.Plan
	if plan == "" {
		plan = auth.PlanFree
	}
	return &ProfileModel{
		ID:                 id,
		Email:              p.Email,
		Phone:              p.Phone,
		DisplayName:        p.DisplayName,
		Country:            p.Country,
		Language:           p.Language,
		Plan:               string(plan),
		Role:               p.Role,
		Location:           p.Location,
		IsInvitedPartner:   p.IsInvitedPartner,
		PartnerSessionID:   p.PartnerSessionID,
		IsCoupleModeActive: p.IsCoupleModeActive,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}, nil
}
