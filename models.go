package auth

import (
	"strings"
	"time"
)

// Plan is the subscription tier.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanCouple     Plan = "couple"
	PlanPremium    Plan = "premium"
	PlanEnterprise Plan = "enterprise"
)

// ParsePlan normalizes a remote plan value. Empty input is free; unknown
// values are kept so routing can treat them as free without losing them.
func ParsePlan(s string) Plan {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PlanFree
	}
	return Plan(s)
}

// Known reports whether p is one of the enumerated tiers.
func (p Plan) Known() bool {
	switch p {
	case PlanFree, PlanPro, PlanCouple, PlanPremium, PlanEnterprise:
		return true
	}
	return false
}

// AuthMethod records how the current user authenticated.
type AuthMethod string

const (
	AuthMethodEmail     AuthMethod = "email"
	AuthMethodMagicLink AuthMethod = "magic_link"
	AuthMethodPhone     AuthMethod = "phone"
	AuthMethodOAuth     AuthMethod = "oauth"
	AuthMethodGuest     AuthMethod = "guest"
)

// User is the in-memory user, mirrored to the local cache.
type User struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email,omitempty"`
	Phone              string     `json:"phone,omitempty"`
	DisplayName        string     `json:"name"`
	Plan               Plan       `json:"plan"`
	AuthMethod         AuthMethod `json:"authMethod"`
	EmailConfirmed     bool       `json:"emailConfirmed"`
	Role               string     `json:"role,omitempty"`
	IsInvitedPartner   bool       `json:"isInvitedPartner,omitempty"`
	PartnerSessionID   string     `json:"partnerSessionId,omitempty"`
	IsCoupleModeActive bool       `json:"isCoupleModeActive,omitempty"`
	Location           string     `json:"location,omitempty"`
}

// IsGuest reports whether the user was synthesized locally.
func (u *User) IsGuest() bool {
	return u != nil && u.AuthMethod == AuthMethodGuest
}

// Clone returns a copy safe to hand to callers.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// Identity is the raw identity record returned by the auth authority.
type Identity struct {
	ID               string         `json:"id"`
	Email            string         `json:"email,omitempty"`
	Phone            string         `json:"phone,omitempty"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	PhoneConfirmedAt *time.Time     `json:"phone_confirmed_at,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
	AppMetadata      map[string]any `json:"app_metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// EmailConfirmed reports whether the authority recorded an email confirmation.
func (i *Identity) EmailConfirmed() bool {
	return i != nil && i.EmailConfirmedAt != nil && !i.EmailConfirmedAt.IsZero()
}

// AwaitingEmailConfirmation reports whether an email identity has not
// confirmed its address yet. Such identities never populate the store.
func (i *Identity) AwaitingEmailConfirmation() bool {
	if i == nil || i.Email == "" || i.EmailConfirmed() {
		return false
	}
	switch i.Provider() {
	case "", "email":
		return true
	}
	return false
}

// Provider returns the identity provider recorded by the authority, such
// as "email", "phone" or "google".
func (i *Identity) Provider() string {
	if i == nil {
		return ""
	}
	return metadataString(i.AppMetadata, "provider")
}

func (i *Identity) metadata(keys ...string) string {
	if i == nil {
		return ""
	}
	for _, k := range keys {
		if v := metadataString(i.UserMetadata, k); v != "" {
			return v
		}
	}
	return ""
}

// Session is a token pair issued by the authority plus its identity.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Identity     *Identity `json:"user,omitempty"`
}

// HasIdentity reports whether the session carries a user.
func (s *Session) HasIdentity() bool {
	return s != nil && s.Identity != nil && s.Identity.ID != ""
}

// Tokens strips the identity, keeping only what the store owns.
func (s *Session) Tokens() *Session {
	if s == nil {
		return nil
	}
	return &Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresAt:    s.ExpiresAt,
	}
}

// Profile is the remote profile record keyed by user id.
type Profile struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email,omitempty"`
	Phone              string    `json:"phone,omitempty"`
	DisplayName        string    `json:"display_name,omitempty"`
	Country            string    `json:"country,omitempty"`
	Language           string    `json:"language,omitempty"`
	Plan               Plan      `json:"plan,omitempty"`
	Role               string    `json:"role,omitempty"`
	Location           string    `json:"location,omitempty"`
	IsInvitedPartner   bool      `json:"is_invited_partner,omitempty"`
	PartnerSessionID   string    `json:"partner_session_id,omitempty"`
	IsCoupleModeActive bool      `json:"is_couple_mode_active,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func metadataString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
