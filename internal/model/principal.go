package model

import (
	"time"
)

// Principal is an authenticated identity.
type Principal struct {
	ID              string     `db:"id" json:"id"`
	Email           string     `db:"email" json:"email"`
	DisplayName     string     `db:"display_name" json:"displayName"`
	PasswordHash    *string    `db:"password_hash" json:"-"` // Nullable for federated-only accounts
	PhotoURL        *string    `db:"photo_url" json:"photoURL,omitempty"`
	Provider        string     `db:"provider" json:"provider"`
	EmailVerifiedAt *time.Time `db:"email_verified_at" json:"emailVerifiedAt,omitempty"`
	DisabledAt      *time.Time `db:"disabled_at" json:"-"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	LastLoginAt     *time.Time `db:"last_login_at" json:"lastLoginAt,omitempty"`
}

const (
	ProviderPassword = "password"
	ProviderGoogle   = "google"
	ProviderGitHub   = "github"
)

func (p *Principal) HasPassword() bool {
	return p.PasswordHash != nil && *p.PasswordHash != ""
}

func (p *Principal) IsDisabled() bool {
	return p.DisabledAt != nil
}

// Name returns the display name, falling back to the email local part.
func (p *Principal) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	for i := 0; i < len(p.Email); i++ {
		if p.Email[i] == '@' {
			return p.Email[:i]
		}
	}
	return p.Email
}
