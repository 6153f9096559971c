package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kkkkikiki/couponbook/internal/apperr"
	"github.com/kkkkikiki/couponbook/internal/model"
)

// PoolRepository handles user pools and their membership
type PoolRepository struct{}

// NewPoolRepository creates a new pool repository
func NewPoolRepository() *PoolRepository {
	return &PoolRepository{}
}

// CreatePool inserts a pool together with its initial members
func (r *PoolRepository) CreatePool(ctx context.Context, db DBExecutor, pool *model.UserPool) error {
	query := `
		INSERT INTO user_pools (pool_id, name, description, created_by, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := db.ExecContext(ctx, query,
		pool.ID, pool.Name, pool.Description, pool.CreatedBy, pool.IsActive, pool.CreatedAt, pool.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	return r.insertMembers(ctx, db, pool.ID, pool.UserIDs)
}

// GetPool retrieves a pool and its members in join order
func (r *PoolRepository) GetPool(ctx context.Context, db DBExecutor, poolID string) (*model.UserPool, error) {
	query := `
		SELECT pool_id, name, description, created_by, is_active, created_at, updated_at
		FROM user_pools
		WHERE pool_id = $1
	`

	var pool model.UserPool
	if err := db.GetContext(ctx, &pool, query, poolID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "pool %q not found", poolID)
		}
		return nil, fmt.Errorf("failed to get pool: %w", err)
	}

	pool.UserIDs = []string{}
	err := db.SelectContext(ctx, &pool.UserIDs,
		`SELECT user_id FROM pool_users WHERE pool_id = $1 ORDER BY seq`, poolID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pool users: %w", err)
	}
	return &pool, nil
}

// AddPoolUsers adds members, ignoring users already in the pool
func (r *PoolRepository) AddPoolUsers(ctx context.Context, db DBExecutor, poolID string, userIDs []string) error {
	if err := r.touch(ctx, db, poolID); err != nil {
		return err
	}
	return r.insertMembers(ctx, db, poolID, userIDs)
}

// RemovePoolUsers removes members from a pool
func (r *PoolRepository) RemovePoolUsers(ctx context.Context, db DBExecutor, poolID string, userIDs []string) error {
	if err := r.touch(ctx, db, poolID); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx,
		`DELETE FROM pool_users WHERE pool_id = $1 AND user_id = ANY($2)`, poolID, pq.Array(userIDs))
	if err != nil {
		return fmt.Errorf("failed to remove pool users: %w", err)
	}
	return nil
}

// DeletePool deletes a pool; membership rows cascade
func (r *PoolRepository) DeletePool(ctx context.Context, db DBExecutor, poolID string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM user_pools WHERE pool_id = $1`, poolID)
	if err != nil {
		return fmt.Errorf("failed to delete pool: %w", err)
	}
	return expectRow(result, apperr.New(apperr.NotFound, "pool %q not found", poolID))
}

func (r *PoolRepository) touch(ctx context.Context, db DBExecutor, poolID string) error {
	result, err := db.ExecContext(ctx, `UPDATE user_pools SET updated_at = $2 WHERE pool_id = $1`, poolID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update pool: %w", err)
	}
	return expectRow(result, apperr.New(apperr.NotFound, "pool %q not found", poolID))
}

func (r *PoolRepository) insertMembers(ctx context.Context, db DBExecutor, poolID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	query := `
		INSERT INTO pool_users (pool_id, user_id, added_at)
		SELECT $1, u.user_id, $3
		FROM unnest($2::text[]) WITH ORDINALITY AS u(user_id, ord)
		ORDER BY u.ord
		ON CONFLICT (pool_id, user_id) DO NOTHING
	`
	if _, err := db.ExecContext(ctx, query, poolID, pq.Array(userIDs), time.Now()); err != nil {
		return fmt.Errorf("failed to add pool users: %w", err)
	}
	return nil
}
