package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/kazini-app/go-kazini-auth"
)

var _ auth.ProfileStore = (*SQLProfileRepository)(nil)

const profileColumns = `id, email, phone, display_name, country, language, plan, role, location,
    is_invited_partner, partner_session_id, is_couple_mode_active, created_at, updated_at`

const selectProfileSQL = `SELECT ` + profileColumns + `
FROM profiles
WHERE id = $1`

const upsertProfileSQL = `INSERT INTO profiles (` + profileColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
    email = EXCLUDED.email,
    phone = EXCLUDED.phone,
    display_name = EXCLUDED.display_name,
    country = EXCLUDED.country,
    language = EXCLUDED.language,
    updated_at = EXCLUDED.updated_at
RETURNING ` + profileColumns

// SQLProfileRepository implements auth.ProfileStore with plain SQL against
// PostgreSQL through the pgx stdlib driver.
type SQLProfileRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLProfileRepository creates a repository on an open *sql.DB.
func NewSQLProfileRepository(db *sql.DB) *SQLProfileRepository {
	return &SQLProfileRepository{db: db, now: time.Now}
}

// OpenSQLProfiles connects to a PostgreSQL dsn through pgx, applies the
// migrations and returns the repository. The caller closes the *sql.DB.
func OpenSQLProfiles(ctx context.Context, dsn string) (*SQLProfileRepository, *sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("db ping error: %w", err)
	}
	if err := Migrate(ctx, db, DialectPostgres); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migration error: %w", err)
	}
	return NewSQLProfileRepository(db), db, nil
}

// Get implements auth.ProfileStore.
func (r *SQLProfileRepository) Get(ctx context.Context, id string) (*auth.Profile, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, auth.ErrProfileNotFound
	}
	profile, err := scanProfile(r.db.QueryRowContext(ctx, selectProfileSQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrProfileNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "profile lookup failed").
			WithMetadata(map[string]any{"profile_id": id})
	}
	return profile, nil
}

// Upsert implements auth.ProfileStore. An existing row keeps its plan, role
// and partner flags.
func (r *SQLProfileRepository) Upsert(ctx context.Context, profile *auth.Profile) (*auth.Profile, error) {
	m, err := fromProfile(profile)
	if err != nil {
		return nil, err
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = r.now()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = m.UpdatedAt
	}

	row := r.db.QueryRowContext(ctx, upsertProfileSQL,
		m.ID.String(), m.Email, m.Phone, m.DisplayName, m.Country, m.Language, m.Plan, m.Role, m.Location,
		m.IsInvitedPartner, m.PartnerSessionID, m.IsCoupleModeActive, m.CreatedAt, m.UpdatedAt,
	)
	saved, err := scanProfile(row)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "profile upsert failed").
			WithMetadata(map[string]any{"profile_id": profile.ID})
	}
	return saved, nil
}

func scanProfile(row *sql.Row) (*auth.Profile, error) {
	var m ProfileModel
	err := row.Scan(
		&m.ID, &m.Email, &m.Phone, &m.DisplayName, &m.Country, &m.Language, &m.Plan, &m.Role, &m.Location,
		&m.IsInvitedPartner, &m.PartnerSessionID, &m.IsCoupleModeActive, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return toProfile(&m), nil
}
