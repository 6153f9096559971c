// Package couponrpc defines the wire messages of the couponbook.v1
// CouponService together with its connect handler and client.
package couponrpc

import "time"

// Book is the wire form of a coupon book.
type Book struct {
	ID                    string     `json:"id"`
	Name                  string     `json:"name"`
	Description           string     `json:"description,omitempty"`
	OwnerID               string     `json:"owner_id"`
	ExpiresAt             *time.Time `json:"expiration_date,omitempty"`
	AllowMultiRedemption  bool       `json:"allow_multi_redemption"`
	MaxRedemptionsPerUser *int       `json:"max_redemptions_per_user,omitempty"`
	MaxAssignmentsPerUser *int       `json:"max_assignments_per_user,omitempty"`
	CodePattern           string     `json:"code_pattern,omitempty"`
	TotalCodeCount        int        `json:"total_code_count"`
	IsActive              bool       `json:"is_active"`
	CreatedAt             time.Time  `json:"created_at"`
}

// Coupon is the wire form of a coupon.
type Coupon struct {
	Code                 string     `json:"code"`
	BookID               string     `json:"book_id"`
	AssignedUserID       string     `json:"assigned_user_id,omitempty"`
	State                string     `json:"state"`
	RedemptionCount      int        `json:"redemption_count"`
	MaxRedemptions       int        `json:"max_redemptions"`
	RemainingRedemptions int        `json:"remaining_redemptions"`
	IsLocked             bool       `json:"is_locked"`
	LockedUntil          *time.Time `json:"locked_until,omitempty"`
	LockedBy             string     `json:"locked_by,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Redemption is one entry of a coupon's audit trail.
type Redemption struct {
	ID         string         `json:"id"`
	Code       string         `json:"code"`
	UserID     string         `json:"user_id"`
	BookID     string         `json:"book_id"`
	RedeemedAt time.Time      `json:"redeemed_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// UserPool is the wire form of a user pool.
type UserPool struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by"`
	IsActive    bool      `json:"is_active"`
	UserIDs     []string  `json:"user_ids"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type CreateBookRequest struct {
	Name                  string     `json:"name"`
	Description           string     `json:"description,omitempty"`
	OwnerID               string     `json:"owner_id"`
	ExpiresAt             *time.Time `json:"expiration_date,omitempty"`
	AllowMultiRedemption  bool       `json:"allow_multi_redemption"`
	MaxRedemptionsPerUser *int       `json:"max_redemptions_per_user,omitempty"`
	MaxAssignmentsPerUser *int       `json:"max_assignments_per_user,omitempty"`
	CodePattern           string     `json:"code_pattern,omitempty"`
	IsActive              *bool      `json:"is_active,omitempty"`
}

type CreateBookResponse struct {
	Book *Book `json:"book"`
}

type GetBookRequest struct {
	BookID string `json:"book_id"`
}

type GetBookResponse struct {
	Book *Book `json:"book"`
}

type ListBooksRequest struct {
	OwnerID string `json:"owner_id,omitempty"`
	Active  *bool  `json:"active,omitempty"`
	Offset  int    `json:"offset,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type ListBooksResponse struct {
	Books []*Book `json:"books"`
}

type GenerateCodesRequest struct {
	BookID         string `json:"book_id"`
	Count          int    `json:"count"`
	Pattern        string `json:"pattern,omitempty"`
	Length         int    `json:"length,omitempty"`
	MaxRedemptions int    `json:"max_redemptions,omitempty"`
	// IncludeCodes returns the generated codes in the response.
	IncludeCodes bool `json:"include_codes,omitempty"`
}

type GenerateCodesResponse struct {
	BookID  string   `json:"book_id"`
	Created int      `json:"created"`
	Codes   []string `json:"codes,omitempty"`
}

type UploadCodesRequest struct {
	BookID         string   `json:"book_id"`
	Codes          []string `json:"codes"`
	MaxRedemptions int      `json:"max_redemptions,omitempty"`
}

type UploadCodesResponse struct {
	BookID  string `json:"book_id"`
	Created int    `json:"created"`
}

type GetCouponRequest struct {
	Code string `json:"code"`
}

type GetCouponResponse struct {
	Coupon *Coupon `json:"coupon"`
}

type ListRedemptionsRequest struct {
	Code string `json:"code"`
}

type ListRedemptionsResponse struct {
	Redemptions []*Redemption `json:"redemptions"`
}

type AssignRandomRequest struct {
	BookID string `json:"book_id"`
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

type AssignRandomResponse struct {
	Coupons []*Coupon `json:"coupons"`
}

type AssignSpecificRequest struct {
	Code   string `json:"code"`
	UserID string `json:"user_id"`
}

type AssignSpecificResponse struct {
	Coupon *Coupon `json:"coupon"`
}

type LockCouponRequest struct {
	Code   string `json:"code"`
	UserID string `json:"user_id"`
	// DurationSeconds falls back to the server default when zero.
	DurationSeconds int `json:"duration_seconds,omitempty"`
}

type LockCouponResponse struct {
	Coupon *Coupon `json:"coupon"`
}

type UnlockCouponRequest struct {
	Code string `json:"code"`
}

type UnlockCouponResponse struct {
	Coupon *Coupon `json:"coupon"`
}

type RedeemCouponRequest struct {
	Code     string         `json:"code"`
	UserID   string         `json:"user_id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type RedeemCouponResponse struct {
	Coupon     *Coupon     `json:"coupon"`
	Redemption *Redemption `json:"redemption"`
}

type CreatePoolRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	CreatedBy   string   `json:"created_by"`
	UserIDs     []string `json:"user_ids,omitempty"`
}

type CreatePoolResponse struct {
	Pool *UserPool `json:"pool"`
}

type GetPoolRequest struct {
	PoolID string `json:"pool_id"`
}

type GetPoolResponse struct {
	Pool *UserPool `json:"pool"`
}

type AddPoolUsersRequest struct {
	PoolID  string   `json:"pool_id"`
	UserIDs []string `json:"user_ids"`
}

type AddPoolUsersResponse struct {
	Pool *UserPool `json:"pool"`
}

type RemovePoolUsersRequest struct {
	PoolID  string   `json:"pool_id"`
	UserIDs []string `json:"user_ids"`
}

type RemovePoolUsersResponse struct {
	Pool *UserPool `json:"pool"`
}

type DeletePoolRequest struct {
	PoolID string `json:"pool_id"`
}

type DeletePoolResponse struct{}

type BulkAssignRequest struct {
	BookID string `json:"book_id"`
	PoolID string `json:"pool_id"`
	// Mode is "equal" or "random".
	Mode           string `json:"distribution_mode"`
	CouponsPerUser int    `json:"coupons_per_user,omitempty"`
}

type BulkAssignResponse struct {
	TotalAssigned int                 `json:"total_assigned"`
	Assignments   map[string][]string `json:"assignments"`
	Errors        []string            `json:"errors,omitempty"`
}
