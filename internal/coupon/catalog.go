package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kkkkikiki/couponbook/internal/apperr"
	"github.com/kkkkikiki/couponbook/internal/clock"
	"github.com/kkkkikiki/couponbook/internal/codegen"
	"github.com/kkkkikiki/couponbook/internal/model"
	"github.com/kkkkikiki/couponbook/internal/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
	maxCodeLength    = 50
	// collisionRounds bounds regeneration when fresh codes clash with codes
	// of other books.
	collisionRounds = 3
)

// Catalog administers books, their codes and user pools.
type Catalog struct {
	store         repository.Store
	gen           *codegen.Generator
	clock         clock.Clock
	logger        *zap.Logger
	defaultLength int
}

// NewCatalog creates a Catalog. defaultLength is the random part length used
// when a generate request leaves it out.
func NewCatalog(store repository.Store, gen *codegen.Generator, clk clock.Clock, logger *zap.Logger, defaultLength int) *Catalog {
	if defaultLength <= 0 {
		defaultLength = 8
	}
	return &Catalog{
		store:         store,
		gen:           gen,
		clock:         clk,
		logger:        logger.Named("catalog"),
		defaultLength: defaultLength,
	}
}

// NewBook describes a book to create.
type NewBook struct {
	Name                  string
	Description           string
	OwnerID               string
	ExpiresAt             *time.Time
	AllowMultiRedemption  bool
	MaxRedemptionsPerUser *int
	MaxAssignmentsPerUser *int
	CodePattern           string
	// IsActive defaults to true.
	IsActive *bool
}

func positiveOrNil(name string, v *int) error {
	if v != nil && *v <= 0 {
		return apperr.New(apperr.InvalidArgument, "%s must be positive, got %d", name, *v)
	}
	return nil
}

// CreateBook validates and stores a new book.
func (c *Catalog) CreateBook(ctx context.Context, nb NewBook) (*model.Book, error) {
	if strings.TrimSpace(nb.Name) == "" {
		return nil, apperr.New(apperr.InvalidArgument, "book name is required")
	}
	if nb.OwnerID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "owner id is required")
	}
	if err := positiveOrNil("max_redemptions_per_user", nb.MaxRedemptionsPerUser); err != nil {
		return nil, err
	}
	if err := positiveOrNil("max_assignments_per_user", nb.MaxAssignmentsPerUser); err != nil {
		return nil, err
	}
	if !codegen.ValidatePattern(nb.CodePattern) {
		return nil, apperr.New(apperr.InvalidArgument, "invalid code pattern %q", nb.CodePattern)
	}

	book := &model.Book{
		ID:                    uuid.NewString(),
		Name:                  nb.Name,
		Description:           nb.Description,
		OwnerID:               nb.OwnerID,
		ExpiresAt:             nb.ExpiresAt,
		AllowMultiRedemption:  nb.AllowMultiRedemption,
		MaxRedemptionsPerUser: nb.MaxRedemptionsPerUser,
		MaxAssignmentsPerUser: nb.MaxAssignmentsPerUser,
		CodePattern:           nb.CodePattern,
		IsActive:              nb.IsActive == nil || *nb.IsActive,
		CreatedAt:             c.clock.Now(),
	}
	err := c.store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.CreateBook(ctx, book)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("book created", zap.String("book_id", book.ID), zap.String("owner_id", book.OwnerID))
	return book, nil
}

// GetBook returns one book.
func (c *Catalog) GetBook(ctx context.Context, bookID string) (*model.Book, error) {
	var book *model.Book
	err := c.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		book, err = tx.GetBook(ctx, bookID)
		return err
	})
	return book, err
}

// ListBooks pages through books, newest first. The limit defaults to 50 and
// is clamped to 100.
func (c *Catalog) ListBooks(ctx context.Context, filter repository.BookFilter) ([]model.Book, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}
	filter.Offset = max(filter.Offset, 0)

	var books []model.Book
	err := c.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		books, err = tx.ListBooks(ctx, filter)
		return err
	})
	return books, err
}

// GenerateRequest asks for fresh random codes in a book.
type GenerateRequest struct {
	Count int
	// Pattern overrides the book's code pattern when set.
	Pattern string
	// Length of the random part, the catalog default when zero.
	Length int
	// MaxRedemptions per coupon, 1 when zero.
	MaxRedemptions int
}

// CodesResult reports codes added to a book.
type CodesResult struct {
	BookID  string
	Created int
	Codes   []string
}

// GenerateCodes adds req.Count new UNASSIGNED coupons to bookID.
func (c *Catalog) GenerateCodes(ctx context.Context, bookID string, req GenerateRequest) (*CodesResult, error) {
	if req.Length == 0 {
		req.Length = c.defaultLength
	}
	if req.MaxRedemptions == 0 {
		req.MaxRedemptions = 1
	}
	if req.MaxRedemptions < 0 {
		return nil, apperr.New(apperr.InvalidArgument, "max redemptions must be positive, got %d", req.MaxRedemptions)
	}
	if !codegen.ValidatePattern(req.Pattern) {
		return nil, apperr.New(apperr.InvalidArgument, "invalid code pattern %q", req.Pattern)
	}

	var codes []string
	err := c.store.WithTx(ctx, func(tx repository.Tx) error {
		book, err := tx.GetBookForUpdate(ctx, bookID)
		if err != nil {
			return err
		}
		pattern := req.Pattern
		if pattern == "" {
			pattern = book.CodePattern
		}
		if n := codegen.CodeLength(pattern, req.Length); n > maxCodeLength {
			return apperr.New(apperr.InvalidArgument,
				"pattern %q with length %d makes %d-character codes, max is %d", pattern, req.Length, n, maxCodeLength)
		}

		current, err := tx.BookCodes(ctx, bookID)
		if err != nil {
			return err
		}
		exclude := make(map[string]struct{}, len(current))
		for _, code := range current {
			exclude[code] = struct{}{}
		}

		for round := 1; ; round++ {
			codes, err = c.gen.Generate(req.Count, pattern, req.Length, exclude)
			if err != nil {
				return err
			}
			taken, err := tx.ExistingCodes(ctx, codes)
			if err != nil {
				return err
			}
			if len(taken) == 0 {
				break
			}
			if round == collisionRounds {
				return apperr.New(apperr.Conflict,
					"generated codes keep colliding with existing codes; use a longer length or a distinct pattern")
			}
			for _, code := range taken {
				exclude[code] = struct{}{}
			}
		}

		if err := tx.InsertCoupons(ctx, c.newCoupons(bookID, codes, req.MaxRedemptions)); err != nil {
			return err
		}
		return tx.AddBookCodeCount(ctx, bookID, len(codes))
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("codes generated", zap.String("book_id", bookID), zap.Int("count", len(codes)))
	return &CodesResult{BookID: bookID, Created: len(codes), Codes: codes}, nil
}

// UploadCodes adds caller-supplied codes to bookID. The upload fails as a
// whole when a code repeats or already exists in any book.
func (c *Catalog) UploadCodes(ctx context.Context, bookID string, codes []string, maxRedemptions int) (*CodesResult, error) {
	if len(codes) == 0 {
		return nil, apperr.New(apperr.InvalidArgument, "no codes to upload")
	}
	if maxRedemptions == 0 {
		maxRedemptions = 1
	}
	if maxRedemptions < 0 {
		return nil, apperr.New(apperr.InvalidArgument, "max redemptions must be positive, got %d", maxRedemptions)
	}

	seen := make(map[string]struct{}, len(codes))
	var dups []string
	for _, code := range codes {
		if code == "" || len(code) > maxCodeLength {
			return nil, apperr.New(apperr.InvalidArgument, "code %q must be 1 to %d characters", code, maxCodeLength)
		}
		if _, ok := seen[code]; ok {
			dups = append(dups, code)
			continue
		}
		seen[code] = struct{}{}
	}
	if len(dups) > 0 {
		return nil, apperr.New(apperr.InvalidArgument, "duplicate codes in upload: %s", sample(dups))
	}

	err := c.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetBookForUpdate(ctx, bookID); err != nil {
			return err
		}
		taken, err := tx.ExistingCodes(ctx, codes)
		if err != nil {
			return err
		}
		if len(taken) > 0 {
			return apperr.New(apperr.Conflict, "codes already exist: %s", sample(taken))
		}
		if err := tx.InsertCoupons(ctx, c.newCoupons(bookID, codes, maxRedemptions)); err != nil {
			return err
		}
		return tx.AddBookCodeCount(ctx, bookID, len(codes))
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("codes uploaded", zap.String("book_id", bookID), zap.Int("count", len(codes)))
	return &CodesResult{BookID: bookID, Created: len(codes), Codes: codes}, nil
}

// sample joins the first few codes for an error message.
func sample(codes []string) string {
	const show = 5
	if len(codes) <= show {
		return strings.Join(codes, ", ")
	}
	return strings.Join(codes[:show], ", ") + ", ..."
}

func (c *Catalog) newCoupons(bookID string, codes []string, maxRedemptions int) []model.Coupon {
	now := c.clock.Now()
	coupons := make([]model.Coupon, len(codes))
	for i, code := range codes {
		coupons[i] = model.Coupon{
			Code:           code,
			BookID:         bookID,
			State:          model.StateUnassigned,
			MaxRedemptions: maxRedemptions,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}
	return coupons
}

// GetCoupon returns one coupon.
func (c *Catalog) GetCoupon(ctx context.Context, code string) (*model.Coupon, error) {
	var coupon *model.Coupon
	err := c.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		coupon, err = tx.GetCoupon(ctx, code)
		return err
	})
	return coupon, err
}

// ListRedemptions returns the audit trail of code, newest first.
func (c *Catalog) ListRedemptions(ctx context.Context, code string) ([]model.RedemptionHistory, error) {
	var entries []model.RedemptionHistory
	err := c.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetCoupon(ctx, code); err != nil {
			return err
		}
		var err error
		entries, err = tx.ListRedemptions(ctx, code)
		return err
	})
	return entries, err
}

// NewPool describes a user pool to create.
type NewPool struct {
	Name        string
	Description string
	CreatedBy   string
	UserIDs     []string
}

func checkUserIDs(userIDs []string) error {
	for _, id := range userIDs {
		if strings.TrimSpace(id) == "" {
			return apperr.New(apperr.InvalidArgument, "user ids must not be blank")
		}
	}
	return nil
}

// CreatePool stores a new active pool with its initial members.
func (c *Catalog) CreatePool(ctx context.Context, np NewPool) (*model.UserPool, error) {
	if strings.TrimSpace(np.Name) == "" {
		return nil, apperr.New(apperr.InvalidArgument, "pool name is required")
	}
	if np.CreatedBy == "" {
		return nil, apperr.New(apperr.InvalidArgument, "pool creator is required")
	}
	if err := checkUserIDs(np.UserIDs); err != nil {
		return nil, err
	}

	now := c.clock.Now()
	pool := &model.UserPool{
		ID:          uuid.NewString(),
		Name:        np.Name,
		Description: np.Description,
		CreatedBy:   np.CreatedBy,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var created *model.UserPool
	err := c.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.CreatePool(ctx, pool); err != nil {
			return err
		}
		if len(np.UserIDs) > 0 {
			if err := tx.AddPoolUsers(ctx, pool.ID, np.UserIDs); err != nil {
				return err
			}
		}
		var err error
		created, err = tx.GetPool(ctx, pool.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("user pool created", zap.String("pool_id", created.ID), zap.Int("users", len(created.UserIDs)))
	return created, nil
}

// GetPool returns a pool with its members.
func (c *Catalog) GetPool(ctx context.Context, poolID string) (*model.UserPool, error) {
	var pool *model.UserPool
	err := c.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		pool, err = tx.GetPool(ctx, poolID)
		return err
	})
	return pool, err
}

// AddPoolUsers adds members to a pool. Existing members are left as they are.
func (c *Catalog) AddPoolUsers(ctx context.Context, poolID string, userIDs []string) (*model.UserPool, error) {
	return c.changeMembers(ctx, poolID, userIDs, repository.Tx.AddPoolUsers)
}

// RemovePoolUsers removes members from a pool. Unknown ids are ignored.
func (c *Catalog) RemovePoolUsers(ctx context.Context, poolID string, userIDs []string) (*model.UserPool, error) {
	return c.changeMembers(ctx, poolID, userIDs, repository.Tx.RemovePoolUsers)
}

func (c *Catalog) changeMembers(
	ctx context.Context,
	poolID string,
	userIDs []string,
	change func(repository.Tx, context.Context, string, []string) error,
) (*model.UserPool, error) {
	if len(userIDs) == 0 {
		return nil, apperr.New(apperr.InvalidArgument, "no user ids given")
	}
	if err := checkUserIDs(userIDs); err != nil {
		return nil, err
	}

	var pool *model.UserPool
	err := c.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetPool(ctx, poolID); err != nil {
			return err
		}
		if err := change(tx, ctx, poolID, userIDs); err != nil {
			return err
		}
		var err error
		pool, err = tx.GetPool(ctx, poolID)
		return err
	})
	return pool, err
}

// DeletePool removes a pool and its memberships.
func (c *Catalog) DeletePool(ctx context.Context, poolID string) error {
	return c.store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.DeletePool(ctx, poolID)
	})
}
