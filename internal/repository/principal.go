package repository

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/templui/tracker/internal/model"
)

var (
	ErrPrincipalNotFound = errors.New("principal not found")
	ErrDuplicateEmail    = errors.New("email already exists")
)

type PrincipalRepository interface {
	Create(principal *model.Principal) error
	ByID(id string) (*model.Principal, error)
	ByEmail(email string) (*model.Principal, error)
	Update(principal *model.Principal) error
	TouchLastLogin(id string, at time.Time) error
	Delete(id string) error
}

type principalRepository struct {
	db *sqlx.DB
}

func NewPrincipalRepository(db *sqlx.DB) PrincipalRepository {
	return &principalRepository{db: db}
}

func (r *principalRepository) Create(principal *model.Principal) error {
	query := `INSERT INTO principals (id, email, display_name, password_hash, photo_url, provider, email_verified_at, created_at, last_login_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(query,
		principal.ID,
		principal.Email,
		principal.DisplayName,
		principal.PasswordHash,
		principal.PhotoURL,
		principal.Provider,
		principal.EmailVerifiedAt,
		principal.CreatedAt,
		principal.LastLoginAt,
	)
	if err != nil {
		// Check for unique constraint violation (works for both SQLite and PostgreSQL)
		errStr := err.Error()
		if strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "duplicate key value") {
			return ErrDuplicateEmail
		}
		return err
	}

	return nil
}

func (r *principalRepository) ByID(id string) (*model.Principal, error) {
	principal := &model.Principal{}
	query := `SELECT * FROM principals WHERE id = $1`

	err := r.db.Get(principal, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrPrincipalNotFound
	}

	return principal, err
}

func (r *principalRepository) ByEmail(email string) (*model.Principal, error) {
	principal := &model.Principal{}
	query := `SELECT * FROM principals WHERE email = $1`

	err := r.db.Get(principal, query, strings.ToLower(email))
	if err == sql.ErrNoRows {
		return nil, ErrPrincipalNotFound
	}

	return principal, err
}

func (r *principalRepository) Update(principal *model.Principal) error {
	query := `UPDATE principals
	          SET display_name = $1, password_hash = $2, photo_url = $3, email_verified_at = $4, disabled_at = $5
	          WHERE id = $6`

	result, err := r.db.Exec(query,
		principal.DisplayName,
		principal.PasswordHash,
		principal.PhotoURL,
		principal.EmailVerifiedAt,
		principal.DisabledAt,
		principal.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPrincipalNotFound
	}

	return nil
}

func (r *principalRepository) TouchLastLogin(id string, at time.Time) error {
	query := `UPDATE principals SET last_login_at = $1 WHERE id = $2`

	_, err := r.db.Exec(query, at, id)
	return err
}

func (r *principalRepository) Delete(id string) error {
	query := `DELETE FROM principals WHERE id = $1`

	result, err := r.db.Exec(query, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrPrincipalNotFound
	}

	return nil
}
