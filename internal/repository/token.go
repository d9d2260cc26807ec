package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/templui/tracker/internal/model"
)

var ErrTokenNotFound = errors.New("token not found")

// TokenRepository stores single-use tokens such as password reset links.
type TokenRepository interface {
	// Issue stores t and revokes every unused token of the same type the
	// principal still holds, so only the newest link works.
	Issue(ctx context.Context, t *model.Token) error
	// Consume redeems an unused, unexpired token of the given type.
	Consume(ctx context.Context, token, tokenType string, now time.Time) (*model.Token, error)
}

type tokenRepository struct {
	db *sqlx.DB
}

func NewTokenRepository(db *sqlx.DB) TokenRepository {
	return &tokenRepository{db: db}
}

func (r *tokenRepository) Issue(ctx context.Context, t *model.Token) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM tokens WHERE principal_id = $1 AND type = $2 AND used_at IS NULL`,
		t.PrincipalID, t.Type)
	if err != nil {
		return fmt.Errorf("revoke outstanding tokens: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tokens (id, principal_id, type, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.PrincipalID, t.Type, t.Token, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return tx.Commit()
}

// Consume marks the token used and returns it in one statement; of two
// concurrent redemptions only one gets a row back.
func (r *tokenRepository) Consume(ctx context.Context, token, tokenType string, now time.Time) (*model.Token, error) {
	var t model.Token
	err := r.db.GetContext(ctx, &t, `
		UPDATE tokens
		SET used_at = $1
		WHERE token = $2 AND type = $3
		AND used_at IS NULL
		AND expires_at > $4
		RETURNING *`,
		now, token, tokenType, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
