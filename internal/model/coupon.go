package model

import (
	"time"
)

// Coupon is one redeemable code. The code itself is the primary key.
type Coupon struct {
	Code           string  `db:"code" json:"code"`
	BookID         string  `db:"book_id" json:"book_id"`
	AssignedUserID *string `db:"assigned_user_id" json:"assigned_user_id,omitempty"`
	State          State   `db:"state" json:"state"`

	RedemptionCount int `db:"redemption_count" json:"redemption_count"`
	MaxRedemptions  int `db:"max_redemptions" json:"max_redemptions"`

	// Lock flags mirror the named mutex for visibility; the mutex is the
	// source of truth for exclusion.
	IsLocked    bool       `db:"is_locked" json:"is_locked"`
	LockedUntil *time.Time `db:"locked_until" json:"locked_until,omitempty"`
	LockedBy    *string    `db:"locked_by" json:"locked_by,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HasRedemptionsRemaining reports redemption_count < max_redemptions.
func (c *Coupon) HasRedemptionsRemaining() bool {
	return c.RedemptionCount < c.MaxRedemptions
}

// RemainingRedemptions returns max(0, max_redemptions - redemption_count).
func (c *Coupon) RemainingRedemptions() int {
	if n := c.MaxRedemptions - c.RedemptionCount; n > 0 {
		return n
	}
	return 0
}

// LockActive reports whether the coupon carries a time lock that has not
// run out at now.
func (c *Coupon) LockActive(now time.Time) bool {
	return c.IsLocked && c.LockedUntil != nil && c.LockedUntil.After(now)
}

// IdleState is the state a coupon returns to when its lock is dropped.
func (c *Coupon) IdleState() State {
	if c.AssignedUserID != nil && *c.AssignedUserID != "" {
		return StateAssigned
	}
	return StateUnassigned
}

// ClearLock resets the lock flags.
func (c *Coupon) ClearLock() {
	c.IsLocked = false
	c.LockedUntil = nil
	c.LockedBy = nil
}

// AssignTo marks the coupon ASSIGNED to userID.
func (c *Coupon) AssignTo(userID string) {
	c.AssignedUserID = &userID
	c.State = StateAssigned
}
