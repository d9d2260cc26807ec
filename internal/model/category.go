package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const (
	RoleDeveloper = "developer"
	RoleStudent   = "student"
	RoleGeneric   = "generic"
)

type Category struct {
	ID          string     `db:"id" json:"id"`
	PrincipalID *string    `db:"principal_id" json:"createdBy,omitempty"` // Nil for built-ins
	Name        string     `db:"name" json:"name"`
	Description string     `db:"description" json:"description"`
	Role        string     `db:"role" json:"role"`
	Color       string     `db:"color" json:"color"`
	Icon        string     `db:"icon" json:"icon"`
	Templates   StringList `db:"templates" json:"templates"`
	BuiltIn     bool       `db:"-" json:"isDefault"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   *time.Time `db:"updated_at" json:"updatedAt,omitempty"`
}

func (c *Category) HasTemplate(name string) bool {
	for _, t := range c.Templates {
		if t == name {
			return true
		}
	}
	return false
}

// StringList is stored as a JSON array in a text column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported type for StringList: %T", src)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(l))
}
