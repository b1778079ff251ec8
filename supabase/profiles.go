package supabase

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/kazini-app/go-kazini-auth"
)

var _ auth.ProfileStore = (*ProfileStore)(nil)

// TokenSource yields the bearer used for row level security. Client
// satisfies it.
type TokenSource interface {
	AccessToken() string
}

// ProfileStore reads and upserts rows of the profiles table through the
// REST interface.
type ProfileStore struct {
	config Config
	table  string
	tokens TokenSource
	http   *http.Client
	now    func() time.Time
}

// ProfileStoreOption customizes a ProfileStore.
type ProfileStoreOption func(*ProfileStore)

// WithProfilesTable overrides the table name.
func WithProfilesTable(table string) ProfileStoreOption {
	return func(s *ProfileStore) {
		if table != "" {
			s.table = table
		}
	}
}

// WithTokenSource sends the signed in user's token instead of the anon key.
func WithTokenSource(tokens TokenSource) ProfileStoreOption {
	return func(s *ProfileStore) {
		s.tokens = tokens
	}
}

// NewProfileStore creates a store against the project at cfg.URL.
func NewProfileStore(cfg Config, opts ...ProfileStoreOption) *ProfileStore {
	cfg = cfg.withDefaults()
	store := &ProfileStore{
		config: cfg,
		table:  defaultProfilesTable,
		http:   cfg.HTTPClient,
		now:    cfg.Clock,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Get implements auth.ProfileStore.
func (s *ProfileStore) Get(ctx context.Context, id string) (*auth.Profile, error) {
	var rows []auth.Profile
	err := s.request(ctx, "get_profile", http.MethodGet, requestOptions{
		query: url.Values{"id": {"eq." + id}, "select": {"*"}, "limit": {"1"}},
	}, nil, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, auth.ErrProfileNotFound
	}
	return &rows[0], nil
}

// identityFields is the part of a profile a sign in refreshes.
type identityFields struct {
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Country     string    `json:"country,omitempty"`
	Language    string    `json:"language,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Upsert implements auth.ProfileStore. The full row is inserted only when
// none exists; an existing row gets its identity fields patched, so a plan
// written by another party in the meantime is kept.
func (s *ProfileStore) Upsert(ctx context.Context, profile *auth.Profile) (*auth.Profile, error) {
	if profile == nil || profile.ID == "" {
		return nil, auth.ErrValidation
	}
	record := *profile
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = s.now()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = record.UpdatedAt
	}

	insert := http.Header{}
	insert.Set("Prefer", "resolution=ignore-duplicates,return=minimal")
	err := s.request(ctx, "insert_profile", http.MethodPost, requestOptions{
		query: url.Values{"on_conflict": {"id"}},
		body:  []auth.Profile{record},
	}, insert, nil)
	if err != nil {
		return nil, err
	}

	patch := http.Header{}
	patch.Set("Prefer", "return=representation")
	var rows []auth.Profile
	err = s.request(ctx, "update_profile", http.MethodPatch, requestOptions{
		query: url.Values{"id": {"eq." + record.ID}},
		body: identityFields{
			Email:       record.Email,
			Phone:       record.Phone,
			DisplayName: record.DisplayName,
			Country:     record.Country,
			Language:    record.Language,
			UpdatedAt:   record.UpdatedAt,
		},
	}, patch, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &record, nil
	}
	return &rows[0], nil
}

func (s *ProfileStore) request(ctx context.Context, operation, method string, opts requestOptions, headers http.Header, out any) error {
	if s.tokens != nil {
		opts.bearer = s.tokens.AccessToken()
	}
	return doJSON(ctx, s.http, s.config.AnonKey, operation, method, s.config.restURL("/"+s.table), opts, headers, out)
}
