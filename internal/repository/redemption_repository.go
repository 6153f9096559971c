package repository

import (
	"context"
	"fmt"

	"github.com/kkkkikiki/couponbook/internal/model"
)

// RedemptionRepository handles the redemption audit trail
type RedemptionRepository struct{}

// NewRedemptionRepository creates a new redemption repository
func NewRedemptionRepository() *RedemptionRepository {
	return &RedemptionRepository{}
}

// CountRedemptions counts how often userID redeemed code
func (r *RedemptionRepository) CountRedemptions(ctx context.Context, db DBExecutor, code, userID string) (int, error) {
	var n int
	err := db.GetContext(ctx, &n,
		`SELECT count(*) FROM redemption_history WHERE code = $1 AND user_id = $2`, code, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count redemptions: %w", err)
	}
	return n, nil
}

// AppendRedemption records one redemption
func (r *RedemptionRepository) AppendRedemption(ctx context.Context, db DBExecutor, entry *model.RedemptionHistory) error {
	query := `
		INSERT INTO redemption_history (history_id, code, user_id, book_id, redeemed_at, redemption_metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := db.ExecContext(ctx, query,
		entry.ID, entry.Code, entry.UserID, entry.BookID, entry.RedeemedAt, entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to append redemption history: %w", err)
	}
	return nil
}

// ListRedemptions returns the audit trail of a coupon, newest first
func (r *RedemptionRepository) ListRedemptions(ctx context.Context, db DBExecutor, code string) ([]model.RedemptionHistory, error) {
	query := `
		SELECT history_id, code, user_id, book_id, redeemed_at, redemption_metadata
		FROM redemption_history
		WHERE code = $1
		ORDER BY redeemed_at DESC, history_id
	`
	entries := []model.RedemptionHistory{}
	if err := db.SelectContext(ctx, &entries, query, code); err != nil {
		return nil, fmt.Errorf("failed to list redemption history: %w", err)
	}
	return entries, nil
}
