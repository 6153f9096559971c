package coupon

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kkkkikiki/couponbook/internal/apperr"
	"github.com/kkkkikiki/couponbook/internal/metrics"
	"github.com/kkkkikiki/couponbook/internal/model"
	"github.com/kkkkikiki/couponbook/internal/repository"
)

// Assigner hands UNASSIGNED coupons to users.
type Assigner struct {
	store  repository.Store
	logger *zap.Logger
}

// NewAssigner creates an Assigner.
func NewAssigner(store repository.Store, logger *zap.Logger) *Assigner {
	return &Assigner{store: store, logger: logger.Named("assigner")}
}

// checkCap fails when giving userID n more codes of book would exceed the
// book's per-user assignment cap.
func checkCap(ctx context.Context, tx repository.Tx, book *model.Book, userID string, n int) error {
	if book.MaxAssignmentsPerUser == nil {
		return nil
	}
	current, err := tx.CountAssignments(ctx, book.ID, userID)
	if err != nil {
		return err
	}
	if slots, _ := book.AssignmentSlots(current); n > slots {
		return apperr.New(apperr.CapacityExceeded,
			"user %q has %d coupons of book %q; assigning %d more exceeds the limit of %d",
			userID, current, book.ID, n, *book.MaxAssignmentsPerUser)
	}
	return nil
}

// AssignRandom assigns count random UNASSIGNED coupons of bookID to userID.
// Either all count coupons are assigned or none are.
func (a *Assigner) AssignRandom(ctx context.Context, bookID, userID string, count int) ([]model.Coupon, error) {
	if userID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "user id is required")
	}
	if count <= 0 {
		return nil, apperr.New(apperr.InvalidArgument, "count must be positive, got %d", count)
	}

	var assigned []model.Coupon
	err := a.store.WithTx(ctx, func(tx repository.Tx) error {
		book, err := tx.GetBook(ctx, bookID)
		if err != nil {
			return err
		}
		if err := checkCap(ctx, tx, book, userID, count); err != nil {
			return err
		}

		coupons, err := tx.ReserveUnassigned(ctx, bookID, count)
		if err != nil {
			return err
		}
		if len(coupons) < count {
			return apperr.New(apperr.Exhausted,
				"not enough unassigned coupons in book %q: requested %d, available %d",
				bookID, count, len(coupons))
		}

		for i := range coupons {
			coupons[i].AssignTo(userID)
			if err := tx.UpdateCoupon(ctx, &coupons[i]); err != nil {
				return err
			}
		}
		assigned = coupons
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordAssigned("random", len(assigned))
	a.logger.Debug("assigned random coupons",
		zap.String("book_id", bookID),
		zap.String("user_id", userID),
		zap.Int("count", len(assigned)))
	return assigned, nil
}

// AssignSpecific assigns the coupon code to userID. The coupon must be
// UNASSIGNED.
func (a *Assigner) AssignSpecific(ctx context.Context, code, userID string) (*model.Coupon, error) {
	if userID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "user id is required")
	}

	var assigned *model.Coupon
	err := a.store.WithTx(ctx, func(tx repository.Tx) error {
		coupon, err := tx.GetCouponForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if coupon.State != model.StateUnassigned {
			return apperr.New(apperr.InvalidTransition,
				"coupon %q is not available for assignment (state: %s)", code, coupon.State)
		}

		book, err := tx.GetBook(ctx, coupon.BookID)
		if err != nil {
			return err
		}
		if err := checkCap(ctx, tx, book, userID, 1); err != nil {
			return err
		}

		coupon.AssignTo(userID)
		if err := tx.UpdateCoupon(ctx, coupon); err != nil {
			return err
		}
		assigned = coupon
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordAssigned("specific", 1)
	return assigned, nil
}

// BulkRequest asks for the codes of a book to be spread over a user pool.
type BulkRequest struct {
	BookID string
	PoolID string
	Mode   Mode
	// CouponsPerUser is the per-user quota in equal mode.
	CouponsPerUser int
}

// BulkResult reports what BulkAssign committed. Errors lists users or codes
// that were skipped; they do not undo the assignments that succeeded.
type BulkResult struct {
	TotalAssigned int
	Assignments   map[string][]string
	Errors        []string
}

// BulkAssign distributes the book's UNASSIGNED coupons over the pool's users.
//
// The plan is computed from one snapshot, then committed one user at a time.
// Each code is claimed only if still UNASSIGNED and the user's cap is checked
// again, so a concurrent assignment turns into an entry in Errors rather than
// a double assignment. A store failure stops the run and is returned along
// with what was committed so far.
func (a *Assigner) BulkAssign(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	if !req.Mode.Valid() {
		return nil, apperr.New(apperr.InvalidArgument, "invalid distribution mode %q, must be %q or %q",
			req.Mode, ModeEqual, ModeRandom)
	}
	if req.Mode == ModeEqual && req.CouponsPerUser <= 0 {
		return nil, apperr.New(apperr.InvalidArgument, "coupons per user must be positive in equal mode, got %d",
			req.CouponsPerUser)
	}

	var (
		book *model.Book
		snap = Snapshot{Mode: req.Mode, PerUser: req.CouponsPerUser}
	)
	err := a.store.WithTx(ctx, func(tx repository.Tx) error {
		pool, err := tx.GetPool(ctx, req.PoolID)
		if err != nil {
			return err
		}
		if !pool.IsActive {
			return apperr.New(apperr.InvalidArgument, "user pool %q is inactive", req.PoolID)
		}
		if len(pool.UserIDs) == 0 {
			return apperr.New(apperr.InvalidArgument, "user pool %q has no users", req.PoolID)
		}

		book, err = tx.GetBook(ctx, req.BookID)
		if err != nil {
			return err
		}

		codes, err := tx.ListUnassignedCodes(ctx, req.BookID)
		if err != nil {
			return err
		}
		if len(codes) == 0 {
			return apperr.New(apperr.Exhausted, "no unassigned coupons available in book %q", req.BookID)
		}

		snap.Users = pool.UserIDs
		snap.Codes = codes
		snap.Cap = book.MaxAssignmentsPerUser
		if snap.Cap != nil {
			snap.Current = make(map[string]int, len(pool.UserIDs))
			for _, user := range pool.UserIDs {
				n, err := tx.CountAssignments(ctx, req.BookID, user)
				if err != nil {
					return err
				}
				snap.Current[user] = n
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	plan := Distribute(snap)
	result := &BulkResult{
		Assignments: make(map[string][]string),
		Errors:      plan.Errors,
	}

	for _, user := range snap.Users {
		codes := plan.Assignments[user]
		if len(codes) == 0 {
			continue
		}
		claimed, problems, err := a.commitUser(ctx, book, user, codes)
		if err != nil {
			return result, fmt.Errorf("failed to assign coupons to user %s: %w", user, err)
		}
		if len(claimed) > 0 {
			result.Assignments[user] = claimed
			result.TotalAssigned += len(claimed)
		}
		result.Errors = append(result.Errors, problems...)
	}

	metrics.RecordAssigned("bulk_"+string(req.Mode), result.TotalAssigned)
	a.logger.Info("bulk assignment finished",
		zap.String("book_id", req.BookID),
		zap.String("pool_id", req.PoolID),
		zap.String("mode", string(req.Mode)),
		zap.Int("assigned", result.TotalAssigned),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

// commitUser claims codes for user in one transaction.
func (a *Assigner) commitUser(ctx context.Context, book *model.Book, user string, codes []string) ([]string, []string, error) {
	var claimed, problems []string
	err := a.store.WithTx(ctx, func(tx repository.Tx) error {
		claimed, problems = nil, nil

		want := codes
		if book.MaxAssignmentsPerUser != nil {
			current, err := tx.CountAssignments(ctx, book.ID, user)
			if err != nil {
				return err
			}
			slots, _ := book.AssignmentSlots(current)
			slots = max(slots, 0)
			if slots < len(want) {
				problems = append(problems, fmt.Sprintf(
					"user %s reached max assignments (%d) during bulk assignment; %d coupons not assigned",
					user, *book.MaxAssignmentsPerUser, len(want)-slots))
				want = want[:slots]
			}
		}

		for _, code := range want {
			ok, err := tx.ClaimCoupon(ctx, code, user)
			if err != nil {
				return err
			}
			if !ok {
				problems = append(problems, fmt.Sprintf("coupon %s was assigned concurrently; skipped for user %s", code, user))
				continue
			}
			claimed = append(claimed, code)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return claimed, problems, nil
}
