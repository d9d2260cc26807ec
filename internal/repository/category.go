package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/templui/tracker/internal/model"
)

var (
	ErrCategoryNotFound = errors.New("category not found")
)

type CategoryRepository interface {
	Create(category *model.Category) error
	ByID(principalID, id string) (*model.Category, error)
	Categories(principalID string) ([]*model.Category, error)
	Update(category *model.Category) error
	Delete(principalID, id string) error
}

type categoryRepository struct {
	db *sqlx.DB
}

func NewCategoryRepository(db *sqlx.DB) CategoryRepository {
	return &categoryRepository{db: db}
}

func (r *categoryRepository) Create(category *model.Category) error {
	query := `INSERT INTO categories (id, principal_id, name, description, role, color, icon, templates, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(query,
		category.ID,
		category.PrincipalID,
		category.Name,
		category.Description,
		category.Role,
		category.Color,
		category.Icon,
		category.Templates,
		category.CreatedAt,
	)
	return err
}

func (r *categoryRepository) ByID(principalID, id string) (*model.Category, error) {
	category := &model.Category{}
	query := `SELECT * FROM categories WHERE id = $1 AND principal_id = $2`

	err := r.db.Get(category, query, id, principalID)
	if err == sql.ErrNoRows {
		return nil, ErrCategoryNotFound
	}

	return category, err
}

func (r *categoryRepository) Categories(principalID string) ([]*model.Category, error) {
	var categories []*model.Category
	query := `SELECT * FROM categories WHERE principal_id = $1 ORDER BY created_at ASC`

	err := r.db.Select(&categories, query, principalID)
	if err != nil {
		return nil, err
	}

	return categories, nil
}

func (r *categoryRepository) Update(category *model.Category) error {
	query := `UPDATE categories
	          SET name = $1, description = $2, role = $3, color = $4, icon = $5, templates = $6, updated_at = $7
	          WHERE id = $8 AND principal_id = $9`

	result, err := r.db.Exec(query,
		category.Name,
		category.Description,
		category.Role,
		category.Color,
		category.Icon,
		category.Templates,
		time.Now(),
		category.ID,
		category.PrincipalID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrCategoryNotFound
	}

	return nil
}

func (r *categoryRepository) Delete(principalID, id string) error {
	query := `DELETE FROM categories WHERE id = $1 AND principal_id = $2`

	result, err := r.db.Exec(query, id, principalID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrCategoryNotFound
	}

	return nil
}
