package model

import (
	"time"
)

// SessionStamps are the persisted timestamps of one browsing context's
// session. LastActivity is never before SessionStart.
type SessionStamps struct {
	ContextID    string    `db:"context_id" json:"contextId"`
	PrincipalID  string    `db:"principal_id" json:"principalId"`
	SessionStart time.Time `db:"session_start" json:"sessionStart"`
	LastActivity time.Time `db:"last_activity" json:"lastActivity"`
}
