package model

import (
	"time"
)

type Token struct {
	ID          string     `db:"id"`
	PrincipalID string     `db:"principal_id"`
	Type        string     `db:"type"`
	Token       string     `db:"token"`
	ExpiresAt   time.Time  `db:"expires_at"`
	UsedAt      *time.Time `db:"used_at"`
	CreatedAt   time.Time  `db:"created_at"`
}

const (
	TokenTypePasswordReset = "password_reset"
)

func (t *Token) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

func (t *Token) IsUsed() bool {
	return t.UsedAt != nil
}

func (t *Token) IsValid(now time.Time) bool {
	return !t.IsExpired(now) && !t.IsUsed()
}
