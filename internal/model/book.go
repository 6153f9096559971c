package model

import (
	"time"
)

// Book is a named collection of coupon codes sharing one redemption policy
type Book struct {
	ID          string     `db:"book_id" json:"book_id"`
	Name        string     `db:"name" json:"name"`
	Description string     `db:"description" json:"description,omitempty"`
	OwnerID     string     `db:"owner_id" json:"owner_id"`
	ExpiresAt   *time.Time `db:"expiration_date" json:"expiration_date,omitempty"`

	AllowMultiRedemption bool `db:"allow_multi_redemption" json:"allow_multi_redemption"`
	// nil means unbounded
	MaxRedemptionsPerUser *int `db:"max_redemptions_per_user" json:"max_redemptions_per_user,omitempty"`
	// nil means unbounded
	MaxAssignmentsPerUser *int `db:"max_assignments_per_user" json:"max_assignments_per_user,omitempty"`

	CodePattern    string    `db:"code_pattern" json:"code_pattern,omitempty"`
	TotalCodeCount int       `db:"total_code_count" json:"total_code_count"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Expired reports whether the book's expiration date lies before now.
func (b *Book) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && b.ExpiresAt.Before(now)
}

// AssignmentSlots returns how many more codes a user holding current codes
// may receive. ok is false when the book has no assignment cap.
func (b *Book) AssignmentSlots(current int) (slots int, ok bool) {
	if b.MaxAssignmentsPerUser == nil {
		return 0, false
	}
	return *b.MaxAssignmentsPerUser - current, true
}
