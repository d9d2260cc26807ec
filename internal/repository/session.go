package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/templui/tracker/internal/model"
	"github.com/templui/tracker/internal/session"
)

// SessionRepository persists session stamps per browsing context. It is
// the engine's StampStore and is not written by anything else.
type SessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Load(ctx context.Context, contextID string) (*model.SessionStamps, error) {
	stamps := &model.SessionStamps{}
	query := `SELECT * FROM session_stamps WHERE context_id = $1`

	err := r.db.GetContext(ctx, stamps, query, contextID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNoStamps
	}
	if err != nil {
		return nil, err
	}

	return stamps, nil
}

func (r *SessionRepository) Save(ctx context.Context, stamps *model.SessionStamps) error {
	query := `
		INSERT INTO session_stamps (context_id, principal_id, session_start, last_activity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (context_id) DO UPDATE
		SET principal_id = excluded.principal_id,
		    session_start = excluded.session_start,
		    last_activity = excluded.last_activity
	`
	_, err := r.db.ExecContext(ctx, query,
		stamps.ContextID,
		stamps.PrincipalID,
		stamps.SessionStart,
		stamps.LastActivity,
	)
	return err
}

func (r *SessionRepository) Delete(ctx context.Context, contextID string) error {
	query := `DELETE FROM session_stamps WHERE context_id = $1`
	_, err := r.db.ExecContext(ctx, query, contextID)
	return err
}

// DeleteByPrincipal drops the stamps of every context of a principal.
func (r *SessionRepository) DeleteByPrincipal(ctx context.Context, principalID string) error {
	query := `DELETE FROM session_stamps WHERE principal_id = $1`
	_, err := r.db.ExecContext(ctx, query, principalID)
	return err
}

var _ session.StampStore = (*SessionRepository)(nil)
