package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/kkkkikiki/couponbook/internal/apperr"
	"github.com/kkkkikiki/couponbook/internal/model"
)

const couponColumns = `code, book_id, assigned_user_id, state, redemption_count, max_redemptions,
	is_locked, locked_until, locked_by, created_at, updated_at`

// insertBatchSize keeps a batch insert under PostgreSQL's parameter limit
const insertBatchSize = 1000

// CouponRepository handles coupon data operations
type CouponRepository struct{}

// NewCouponRepository creates a new coupon repository
func NewCouponRepository() *CouponRepository {
	return &CouponRepository{}
}

// GetCoupon retrieves a coupon without locking it
func (r *CouponRepository) GetCoupon(ctx context.Context, db DBExecutor, code string) (*model.Coupon, error) {
	return r.getCoupon(ctx, db, code, "")
}

// GetCouponForUpdate retrieves a coupon with an exclusive row lock, waiting
// for any transaction that already holds it
func (r *CouponRepository) GetCouponForUpdate(ctx context.Context, db DBExecutor, code string) (*model.Coupon, error) {
	return r.getCoupon(ctx, db, code, "FOR UPDATE")
}

func (r *CouponRepository) getCoupon(ctx context.Context, db DBExecutor, code, lock string) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1 ` + lock

	var coupon model.Coupon
	if err := db.GetContext(ctx, &coupon, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "coupon %q not found", code)
		}
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	return &coupon, nil
}

// UpdateCoupon writes back every mutable column of a coupon
func (r *CouponRepository) UpdateCoupon(ctx context.Context, db DBExecutor, coupon *model.Coupon) error {
	query := `
		UPDATE coupons
		SET assigned_user_id = $2, state = $3, redemption_count = $4, max_redemptions = $5,
			is_locked = $6, locked_until = $7, locked_by = $8, updated_at = $9
		WHERE code = $1
	`

	coupon.UpdatedAt = time.Now()
	result, err := db.ExecContext(ctx, query,
		coupon.Code, coupon.AssignedUserID, coupon.State, coupon.RedemptionCount, coupon.MaxRedemptions,
		coupon.IsLocked, coupon.LockedUntil, coupon.LockedBy, coupon.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update coupon: %w", err)
	}
	return expectRow(result, apperr.New(apperr.NotFound, "coupon %q not found", coupon.Code))
}

// ClaimCoupon updates coupon state from UNASSIGNED to ASSIGNED for userID.
// It reports false when the coupon was no longer unassigned.
func (r *CouponRepository) ClaimCoupon(ctx context.Context, db DBExecutor, code, userID string) (bool, error) {
	query := `
		UPDATE coupons
		SET state = 'ASSIGNED', assigned_user_id = $2, updated_at = $3
		WHERE code = $1 AND state = 'UNASSIGNED'
	`

	result, err := db.ExecContext(ctx, query, code, userID, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to claim coupon: %w", err)
	}

	// Check if any row was actually updated
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// ReserveUnassigned picks random unassigned coupons using SELECT FOR UPDATE
// SKIP LOCKED so that concurrent assigners never wait on each other
func (r *CouponRepository) ReserveUnassigned(ctx context.Context, db DBExecutor, bookID string, limit int) ([]model.Coupon, error) {
	query := `
		SELECT ` + couponColumns + `
		FROM coupons
		WHERE book_id = $1 AND state = 'UNASSIGNED'
		ORDER BY random()
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	coupons := []model.Coupon{}
	if err := db.SelectContext(ctx, &coupons, query, bookID, limit); err != nil {
		return nil, fmt.Errorf("failed to reserve coupons: %w", err)
	}
	return coupons, nil
}

// ReserveExpiredLocks picks LOCKED coupons whose lease ended before now
func (r *CouponRepository) ReserveExpiredLocks(ctx context.Context, db DBExecutor, now time.Time, limit int) ([]model.Coupon, error) {
	query := `
		SELECT ` + couponColumns + `
		FROM coupons
		WHERE state = 'LOCKED' AND locked_until < $1
		ORDER BY locked_until ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	coupons := []model.Coupon{}
	if err := db.SelectContext(ctx, &coupons, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to reserve expired locks: %w", err)
	}
	return coupons, nil
}

// ListUnassignedCodes returns the unassigned codes of a book in code order
func (r *CouponRepository) ListUnassignedCodes(ctx context.Context, db DBExecutor, bookID string) ([]string, error) {
	codes := []string{}
	err := db.SelectContext(ctx, &codes,
		`SELECT code FROM coupons WHERE book_id = $1 AND state = 'UNASSIGNED' ORDER BY code`, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unassigned coupons: %w", err)
	}
	return codes, nil
}

// BookCodes returns every code of a book
func (r *CouponRepository) BookCodes(ctx context.Context, db DBExecutor, bookID string) ([]string, error) {
	codes := []string{}
	if err := db.SelectContext(ctx, &codes, `SELECT code FROM coupons WHERE book_id = $1`, bookID); err != nil {
		return nil, fmt.Errorf("failed to list book codes: %w", err)
	}
	return codes, nil
}

// ExistingCodes returns which of codes are already stored, in any book
func (r *CouponRepository) ExistingCodes(ctx context.Context, db DBExecutor, codes []string) ([]string, error) {
	existing := []string{}
	if len(codes) == 0 {
		return existing, nil
	}
	err := db.SelectContext(ctx, &existing,
		`SELECT code FROM coupons WHERE code = ANY($1) ORDER BY code`, pq.Array(codes))
	if err != nil {
		return nil, fmt.Errorf("failed to look up existing codes: %w", err)
	}
	return existing, nil
}

// CountAssignments counts the codes of a book held by a user
func (r *CouponRepository) CountAssignments(ctx context.Context, db DBExecutor, bookID, userID string) (int, error) {
	var n int
	err := db.GetContext(ctx, &n,
		`SELECT count(*) FROM coupons WHERE book_id = $1 AND assigned_user_id = $2`, bookID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count assignments: %w", err)
	}
	return n, nil
}

// InsertCoupons creates coupons in batches within the caller's transaction
func (r *CouponRepository) InsertCoupons(ctx context.Context, db DBExecutor, coupons []model.Coupon) error {
	for i := 0; i < len(coupons); i += insertBatchSize {
		end := i + insertBatchSize
		if end > len(coupons) {
			end = len(coupons)
		}

		if err := r.insertCouponBatch(ctx, db, coupons[i:end]); err != nil {
			return err
		}
	}

	return nil
}

// insertCouponBatch inserts a batch of coupons using a single query
func (r *CouponRepository) insertCouponBatch(ctx context.Context, db DBExecutor, coupons []model.Coupon) error {
	if len(coupons) == 0 {
		return nil
	}

	const cols = 5
	valuesClause := make([]string, len(coupons))
	args := make([]interface{}, 0, len(coupons)*cols)

	for i, c := range coupons {
		base := i * cols
		valuesClause[i] = fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+5)
		args = append(args, c.Code, c.BookID, c.State, c.MaxRedemptions, c.CreatedAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO coupons (code, book_id, state, max_redemptions, created_at, updated_at)
		VALUES %s
	`, strings.Join(valuesClause, ", "))

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.Conflict, "one or more codes already exist")
		}
		return fmt.Errorf("failed to execute batch insert: %w", err)
	}

	return nil
}
