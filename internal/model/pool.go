package model

import (
	"time"
)

// UserPool is a named set of users used as the target of bulk assignment.
type UserPool struct {
	ID          string    `db:"pool_id" json:"pool_id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description,omitempty"`
	CreatedBy   string    `db:"created_by" json:"created_by"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`

	// UserIDs in the order they joined the pool.
	UserIDs []string `db:"-" json:"user_ids"`
}
