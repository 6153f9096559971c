package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/kkkkikiki/couponbook/internal/model"
)

// DBExecutor interface for database operations (can be *sqlx.DB or *sqlx.Tx)
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Store runs units of work against the coupon database.
type Store interface {
	// WithTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// BookFilter narrows ListBooks.
type BookFilter struct {
	OwnerID string
	Active  *bool
	Offset  int
	Limit   int
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	CreateBook(ctx context.Context, book *model.Book) error
	GetBook(ctx context.Context, bookID string) (*model.Book, error)
	// GetBookForUpdate locks the book row until the transaction ends.
	GetBookForUpdate(ctx context.Context, bookID string) (*model.Book, error)
	ListBooks(ctx context.Context, filter BookFilter) ([]model.Book, error)
	AddBookCodeCount(ctx context.Context, bookID string, delta int) error

	InsertCoupons(ctx context.Context, coupons []model.Coupon) error
	GetCoupon(ctx context.Context, code string) (*model.Coupon, error)
	// GetCouponForUpdate waits for and holds the coupon's row lock.
	GetCouponForUpdate(ctx context.Context, code string) (*model.Coupon, error)
	UpdateCoupon(ctx context.Context, coupon *model.Coupon) error
	// ClaimCoupon assigns code to userID only if it is still UNASSIGNED.
	ClaimCoupon(ctx context.Context, code, userID string) (bool, error)
	BookCodes(ctx context.Context, bookID string) ([]string, error)
	ExistingCodes(ctx context.Context, codes []string) ([]string, error)
	ListUnassignedCodes(ctx context.Context, bookID string) ([]string, error)
	CountAssignments(ctx context.Context, bookID, userID string) (int, error)
	// ReserveUnassigned locks up to limit random UNASSIGNED coupons of a book,
	// skipping rows locked by other transactions.
	ReserveUnassigned(ctx context.Context, bookID string, limit int) ([]model.Coupon, error)
	// ReserveExpiredLocks locks up to limit LOCKED coupons whose lease ended
	// before now, skipping rows locked by other transactions.
	ReserveExpiredLocks(ctx context.Context, now time.Time, limit int) ([]model.Coupon, error)

	CountRedemptions(ctx context.Context, code, userID string) (int, error)
	AppendRedemption(ctx context.Context, entry *model.RedemptionHistory) error
	ListRedemptions(ctx context.Context, code string) ([]model.RedemptionHistory, error)

	CreatePool(ctx context.Context, pool *model.UserPool) error
	GetPool(ctx context.Context, poolID string) (*model.UserPool, error)
	AddPoolUsers(ctx context.Context, poolID string, userIDs []string) error
	RemovePoolUsers(ctx context.Context, poolID string, userIDs []string) error
	DeletePool(ctx context.Context, poolID string) error
}
