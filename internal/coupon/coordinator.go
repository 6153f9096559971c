// Package coupon implements the coupon lifecycle: the lock and redemption
// protocol, assignment of codes to users, and book/pool administration.
package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kkkkikiki/couponbook/internal/apperr"
	"github.com/kkkkikiki/couponbook/internal/clock"
	"github.com/kkkkikiki/couponbook/internal/lockmgr"
	"github.com/kkkkikiki/couponbook/internal/metrics"
	"github.com/kkkkikiki/couponbook/internal/model"
	"github.com/kkkkikiki/couponbook/internal/repository"
)

// Coordinator runs the state-changing operations on a single coupon under the
// coupon's named lock.
type Coordinator struct {
	store  repository.Store
	locks  lockmgr.Manager
	clock  clock.Clock
	logger *zap.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store repository.Store, locks lockmgr.Manager, clk clock.Clock, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		locks:  locks,
		clock:  clk,
		logger: logger.Named("coordinator"),
	}
}

// lockHolder names the holder of a lock taken by Lock on behalf of userID.
// Unlock rebuilds it from the coupon's locked_by column.
func lockHolder(userID string) string {
	return "lock/" + userID
}

// Lock marks an ASSIGNED coupon LOCKED for duration and keeps the coupon's
// named lock held until Unlock, or until the lease is reclaimed.
//
// The named lock is taken before the row is read, so the row seen here is
// the one left by the last holder.
func (c *Coordinator) Lock(ctx context.Context, code, userID string, duration time.Duration) (*model.Coupon, error) {
	if userID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "user id is required")
	}
	if duration <= 0 {
		return nil, apperr.New(apperr.InvalidArgument, "lock duration must be positive, got %s", duration)
	}

	holder := lockHolder(userID)
	if err := c.acquire(ctx, code, holder, "lock"); err != nil {
		return nil, err
	}

	var locked *model.Coupon
	err := c.store.WithTx(ctx, func(tx repository.Tx) error {
		coupon, err := tx.GetCouponForUpdate(ctx, code)
		if err != nil {
			return err
		}

		now := c.clock.Now()
		if coupon.State == model.StateLocked {
			if coupon.LockActive(now) {
				return apperr.New(apperr.Locked, "coupon %q is locked until %s", code, coupon.LockedUntil.Format(time.RFC3339))
			}
			// the lease ran out and its holder no longer has the named lock
			if err := c.expireLease(ctx, tx, coupon); err != nil {
				return err
			}
		}

		if err := model.ValidateTransition(coupon.State, model.StateLocked); err != nil {
			return err
		}

		until := now.Add(duration)
		coupon.State = model.StateLocked
		coupon.IsLocked = true
		coupon.LockedUntil = &until
		coupon.LockedBy = &userID
		if err := tx.UpdateCoupon(ctx, coupon); err != nil {
			return err
		}
		locked = coupon
		return nil
	})
	if err != nil {
		c.release(ctx, code, holder)
		return nil, err
	}

	c.logger.Debug("coupon locked",
		zap.String("code", code),
		zap.String("user_id", userID),
		zap.Time("locked_until", *locked.LockedUntil))
	return locked, nil
}

// Unlock releases the lease on a LOCKED coupon and moves it back to ASSIGNED
// (or UNASSIGNED when nobody holds it).
//
// The named lock is released before the row is updated. If another user
// locks the coupon in between, the row belongs to that user and is returned
// untouched.
func (c *Coordinator) Unlock(ctx context.Context, code string) (*model.Coupon, error) {
	var current *model.Coupon
	err := c.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		current, err = tx.GetCoupon(ctx, code)
		return err
	})
	if err != nil {
		return nil, err
	}

	switch {
	case current.State.Terminal():
		return nil, model.TransitionError(current.State, string(current.IdleState()))
	case current.State != model.StateLocked && !current.IsLocked && current.LockedBy == nil:
		return current, nil
	}

	owner := lockOwner(current)
	released := false
	if owner != "" {
		if released, err = c.locks.Release(ctx, code, lockHolder(owner)); err != nil {
			return nil, fmt.Errorf("failed to release coupon lock: %w", err)
		}
	}
	if !released {
		// The lease holder's lock is gone or held elsewhere. Only touch the
		// row while holding the named lock ourselves.
		guard := "unlock/" + uuid.NewString()
		if err := c.acquireOrForce(ctx, code, guard); err != nil {
			return nil, err
		}
		defer c.release(ctx, code, guard)
	}

	var unlocked *model.Coupon
	err = c.store.WithTx(ctx, func(tx repository.Tx) error {
		coupon, err := tx.GetCouponForUpdate(ctx, code)
		if err != nil {
			return err
		}

		idle := coupon.IdleState()
		switch {
		case coupon.State.Terminal():
			return model.TransitionError(coupon.State, string(idle))
		case lockOwner(coupon) != owner:
			c.logger.Info("coupon lease changed hands before unlock finished",
				zap.String("code", code),
				zap.String("released_owner", owner),
				zap.String("locked_by", lockOwner(coupon)))
			unlocked = coupon
			return nil
		case coupon.State == model.StateLocked:
			if err := model.ValidateTransition(coupon.State, idle); err != nil {
				return err
			}
			coupon.State = idle
		case !coupon.IsLocked && coupon.LockedBy == nil:
			// nothing to undo
			unlocked = coupon
			return nil
		}

		coupon.ClearLock()
		if err := tx.UpdateCoupon(ctx, coupon); err != nil {
			return err
		}
		unlocked = coupon
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("coupon unlocked", zap.String("code", code), zap.String("state", string(unlocked.State)))
	return unlocked, nil
}

// RedeemResult is the outcome of a successful redemption.
type RedeemResult struct {
	Coupon  *model.Coupon
	History *model.RedemptionHistory
}

// Redeem consumes one redemption of code for userID. The coupon's named lock
// is held for the whole call and released on every return path.
func (c *Coordinator) Redeem(ctx context.Context, code, userID string, metadata model.Metadata) (*RedeemResult, error) {
	if userID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "user id is required")
	}

	holder := "redeem/" + uuid.NewString()
	if err := c.acquire(ctx, code, holder, "redeem"); err != nil {
		return nil, err
	}
	defer c.release(ctx, code, holder)

	var (
		result  *RedeemResult
		expired bool
	)
	err := c.store.WithTx(ctx, func(tx repository.Tx) error {
		coupon, err := tx.GetCouponForUpdate(ctx, code)
		if err != nil {
			return err
		}

		book, err := tx.GetBook(ctx, coupon.BookID)
		if err != nil {
			return err
		}

		now := c.clock.Now()
		if coupon.State == model.StateLocked && !coupon.LockActive(now) {
			if err := c.expireLease(ctx, tx, coupon); err != nil {
				return err
			}
		}
		if book.Expired(now) {
			// commit the expiry, report it after the transaction
			expired = true
			if !model.CanTransition(coupon.State, model.StateExpired) {
				return nil
			}
			coupon.State = model.StateExpired
			coupon.ClearLock()
			return tx.UpdateCoupon(ctx, coupon)
		}

		if !coupon.HasRedemptionsRemaining() {
			return apperr.New(apperr.Exhausted, "coupon %q has no remaining redemptions (%d/%d)",
				code, coupon.RedemptionCount, coupon.MaxRedemptions)
		}

		if err := checkRedeemable(coupon.State, book.AllowMultiRedemption); err != nil {
			return err
		}

		if book.MaxRedemptionsPerUser != nil {
			n, err := tx.CountRedemptions(ctx, code, userID)
			if err != nil {
				return err
			}
			if n >= *book.MaxRedemptionsPerUser {
				return apperr.New(apperr.Exhausted, "user %q has reached max redemptions (%d) for coupon %q",
					userID, *book.MaxRedemptionsPerUser, code)
			}
		}

		coupon.RedemptionCount++
		// REDEEMED covers both partially used and exhausted coupons; remaining
		// capacity is redemption_count vs max_redemptions.
		coupon.State = model.StateRedeemed
		coupon.ClearLock()
		if err := tx.UpdateCoupon(ctx, coupon); err != nil {
			return err
		}

		history := &model.RedemptionHistory{
			ID:         uuid.NewString(),
			Code:       code,
			UserID:     userID,
			BookID:     coupon.BookID,
			RedeemedAt: now,
			Metadata:   metadata,
		}
		if err := tx.AppendRedemption(ctx, history); err != nil {
			return err
		}

		result = &RedeemResult{Coupon: coupon, History: history}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, apperr.New(apperr.Expired, "coupon %q has expired", code)
	}

	c.logger.Info("coupon redeemed",
		zap.String("code", code),
		zap.String("user_id", userID),
		zap.Int("redemption_count", result.Coupon.RedemptionCount),
		zap.Int("max_redemptions", result.Coupon.MaxRedemptions))
	return result, nil
}

// checkRedeemable enforces the source states a redemption may start from:
// ASSIGNED, plus REDEEMED for multi-redemption books.
func checkRedeemable(state model.State, allowMulti bool) error {
	switch {
	case state == model.StateAssigned:
		return nil
	case state == model.StateRedeemed && allowMulti:
		return nil
	case state == model.StateLocked:
		return model.TransitionError(state, string(model.StateRedeemed)+" - unlock the coupon first")
	default:
		return model.TransitionError(state, string(model.StateRedeemed))
	}
}

// ReleaseExpiredLocks reclaims up to limit LOCKED coupons whose lease ran out:
// their named lock is force-released and they return to their idle state.
// Coupons whose named lock cannot be freed stay LOCKED and are not counted.
func (c *Coordinator) ReleaseExpiredLocks(ctx context.Context, limit int) (int, error) {
	reclaimed := 0
	err := c.store.WithTx(ctx, func(tx repository.Tx) error {
		stale, err := tx.ReserveExpiredLocks(ctx, c.clock.Now(), limit)
		if err != nil {
			return err
		}
		for i := range stale {
			ok, err := c.reclaim(ctx, tx, &stale[i])
			if err != nil {
				return err
			}
			if ok {
				reclaimed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reclaimed, nil
}

// acquire takes code's named lock for holder. When the lock is taken it
// reclaims an expired lease standing in the way and tries once more.
func (c *Coordinator) acquire(ctx context.Context, code, holder, op string) error {
	ok, err := c.locks.TryAcquire(ctx, code, holder)
	if err == nil && !ok {
		var reclaimed bool
		if reclaimed, err = c.reclaimIfStale(ctx, code); err == nil && reclaimed {
			ok, err = c.locks.TryAcquire(ctx, code, holder)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to acquire coupon lock: %w", err)
	}
	if !ok {
		metrics.RecordLockContention(op)
		return apperr.New(apperr.Locked, "could not acquire lock on coupon %q - concurrent access", code)
	}
	return nil
}

// acquireOrForce takes code's named lock for holder, forcing out whoever
// holds it first. The row stays authoritative: every holder re-reads it under
// its row lock before writing.
func (c *Coordinator) acquireOrForce(ctx context.Context, code, holder string) error {
	ok, err := c.locks.TryAcquire(ctx, code, holder)
	if err == nil && !ok {
		if _, err = c.locks.ForceRelease(ctx, code); err == nil {
			ok, err = c.locks.TryAcquire(ctx, code, holder)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to acquire coupon lock: %w", err)
	}
	if !ok {
		metrics.RecordLockContention("unlock")
		return apperr.New(apperr.Locked, "could not acquire lock on coupon %q - concurrent access", code)
	}
	return nil
}

// reclaimIfStale reclaims code when it is LOCKED past its lease.
func (c *Coordinator) reclaimIfStale(ctx context.Context, code string) (bool, error) {
	reclaimed := false
	err := c.store.WithTx(ctx, func(tx repository.Tx) error {
		coupon, err := tx.GetCouponForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if coupon.State != model.StateLocked || coupon.LockActive(c.clock.Now()) {
			return nil
		}
		reclaimed, err = c.reclaim(ctx, tx, coupon)
		return err
	})
	if err != nil {
		return false, err
	}
	return reclaimed, nil
}

// reclaim drops an expired lease on coupon inside tx. The row is reverted
// only once the named lock is known to be free; otherwise it reports false
// and leaves the coupon LOCKED.
func (c *Coordinator) reclaim(ctx context.Context, tx repository.Tx, coupon *model.Coupon) (bool, error) {
	freed, err := c.locks.ForceRelease(ctx, coupon.Code)
	if err != nil {
		return false, fmt.Errorf("failed to release stale coupon lock: %w", err)
	}
	if !freed {
		// nothing was released: the lock is either free or held somewhere
		// this process cannot reach
		guard := "reclaim/" + uuid.NewString()
		ok, err := c.locks.TryAcquire(ctx, coupon.Code, guard)
		if err != nil {
			return false, fmt.Errorf("failed to verify stale coupon lock: %w", err)
		}
		if !ok {
			c.logger.Warn("expired coupon lease is still held elsewhere",
				zap.String("code", coupon.Code),
				zap.String("locked_by", lockOwner(coupon)))
			return false, nil
		}
		defer c.release(ctx, coupon.Code, guard)
	}
	return true, c.expireLease(ctx, tx, coupon)
}

// expireLease moves a LOCKED coupon whose lease ran out back to its idle
// state. The caller must hold or have freed the coupon's named lock.
func (c *Coordinator) expireLease(ctx context.Context, tx repository.Tx, coupon *model.Coupon) error {
	lockedBy := lockOwner(coupon)
	coupon.State = coupon.IdleState()
	coupon.ClearLock()
	if err := tx.UpdateCoupon(ctx, coupon); err != nil {
		return err
	}

	metrics.RecordLocksReclaimed(1)
	c.logger.Warn("reclaimed expired coupon lock",
		zap.String("code", coupon.Code),
		zap.String("locked_by", lockedBy))
	return nil
}

// lockOwner returns the user holding coupon's lease, or "".
func lockOwner(coupon *model.Coupon) string {
	if coupon.LockedBy == nil {
		return ""
	}
	return *coupon.LockedBy
}

// release frees a lock taken by this process. Failures are logged; the lock
// backend drops the lock with its session in the worst case.
func (c *Coordinator) release(ctx context.Context, code, holder string) {
	if _, err := c.locks.Release(context.WithoutCancel(ctx), code, holder); err != nil {
		c.logger.Error("failed to release coupon lock",
			zap.String("code", code),
			zap.String("holder", holder),
			zap.Error(err))
	}
}
