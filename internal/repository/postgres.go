package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kkkkikiki/couponbook/internal/model"
)

// PostgresStore is the Store backed by PostgreSQL
type PostgresStore struct {
	db          *sqlx.DB
	books       *BookRepository
	coupons     *CouponRepository
	redemptions *RedemptionRepository
	pools       *PoolRepository
}

// NewPostgresStore creates a Store on top of an open connection pool
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		db:          db,
		books:       NewBookRepository(),
		coupons:     NewCouponRepository(),
		redemptions: NewRedemptionRepository(),
		pools:       NewPoolRepository(),
	}
}

// WithTx implements Store.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{store: s, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// pgTx binds the stateless repositories to one *sqlx.Tx
type pgTx struct {
	store *PostgresStore
	tx    *sqlx.Tx
}

var _ Tx = (*pgTx)(nil)

func (t *pgTx) CreateBook(ctx context.Context, book *model.Book) error {
	return t.store.books.CreateBook(ctx, t.tx, book)
}

func (t *pgTx) GetBook(ctx context.Context, bookID string) (*model.Book, error) {
	return t.store.books.GetBook(ctx, t.tx, bookID)
}

func (t *pgTx) GetBookForUpdate(ctx context.Context, bookID string) (*model.Book, error) {
	return t.store.books.GetBookForUpdate(ctx, t.tx, bookID)
}

func (t *pgTx) ListBooks(ctx context.Context, filter BookFilter) ([]model.Book, error) {
	return t.store.books.ListBooks(ctx, t.tx, filter)
}

func (t *pgTx) AddBookCodeCount(ctx context.Context, bookID string, delta int) error {
	return t.store.books.AddBookCodeCount(ctx, t.tx, bookID, delta)
}

func (t *pgTx) InsertCoupons(ctx context.Context, coupons []model.Coupon) error {
	return t.store.coupons.InsertCoupons(ctx, t.tx, coupons)
}

func (t *pgTx) GetCoupon(ctx context.Context, code string) (*model.Coupon, error) {
	return t.store.coupons.GetCoupon(ctx, t.tx, code)
}

func (t *pgTx) GetCouponForUpdate(ctx context.Context, code string) (*model.Coupon, error) {
	return t.store.coupons.GetCouponForUpdate(ctx, t.tx, code)
}

func (t *pgTx) UpdateCoupon(ctx context.Context, coupon *model.Coupon) error {
	return t.store.coupons.UpdateCoupon(ctx, t.tx, coupon)
}

func (t *pgTx) ClaimCoupon(ctx context.Context, code, userID string) (bool, error) {
	return t.store.coupons.ClaimCoupon(ctx, t.tx, code, userID)
}

func (t *pgTx) BookCodes(ctx context.Context, bookID string) ([]string, error) {
	return t.store.coupons.BookCodes(ctx, t.tx, bookID)
}

func (t *pgTx) ExistingCodes(ctx context.Context, codes []string) ([]string, error) {
	return t.store.coupons.ExistingCodes(ctx, t.tx, codes)
}

func (t *pgTx) ListUnassignedCodes(ctx context.Context, bookID string) ([]string, error) {
	return t.store.coupons.ListUnassignedCodes(ctx, t.tx, bookID)
}

func (t *pgTx) CountAssignments(ctx context.Context, bookID, userID string) (int, error) {
	return t.store.coupons.CountAssignments(ctx, t.tx, bookID, userID)
}

func (t *pgTx) ReserveUnassigned(ctx context.Context, bookID string, limit int) ([]model.Coupon, error) {
	return t.store.coupons.ReserveUnassigned(ctx, t.tx, bookID, limit)
}

func (t *pgTx) ReserveExpiredLocks(ctx context.Context, now time.Time, limit int) ([]model.Coupon, error) {
	return t.store.coupons.ReserveExpiredLocks(ctx, t.tx, now, limit)
}

func (t *pgTx) CountRedemptions(ctx context.Context, code, userID string) (int, error) {
	return t.store.redemptions.CountRedemptions(ctx, t.tx, code, userID)
}

func (t *pgTx) AppendRedemption(ctx context.Context, entry *model.RedemptionHistory) error {
	return t.store.redemptions.AppendRedemption(ctx, t.tx, entry)
}

func (t *pgTx) ListRedemptions(ctx context.Context, code string) ([]model.RedemptionHistory, error) {
	return t.store.redemptions.ListRedemptions(ctx, t.tx, code)
}

func (t *pgTx) CreatePool(ctx context.Context, pool *model.UserPool) error {
	return t.store.pools.CreatePool(ctx, t.tx, pool)
}

func (t *pgTx) GetPool(ctx context.Context, poolID string) (*model.UserPool, error) {
	return t.store.pools.GetPool(ctx, t.tx, poolID)
}

func (t *pgTx) AddPoolUsers(ctx context.Context, poolID string, userIDs []string) error {
	return t.store.pools.AddPoolUsers(ctx, t.tx, poolID, userIDs)
}

func (t *pgTx) RemovePoolUsers(ctx context.Context, poolID string, userIDs []string) error {
	return t.store.pools.RemovePoolUsers(ctx, t.tx, poolID, userIDs)
}

func (t *pgTx) DeletePool(ctx context.Context, poolID string) error {
	return t.store.pools.DeletePool(ctx, t.tx, poolID)
}

// expectRow returns notFound when an UPDATE or DELETE touched no row
func expectRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
