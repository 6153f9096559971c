package coupon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/couponbook/internal/apperr"
	"github.com/kkkkikiki/couponbook/internal/model"
)

func TestRedeemSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.assigned(t, NewBook{}, 1, "alice")

	res, err := h.coordinator.Redeem(ctx, code, "alice", model.Metadata{"order_id": "o-1"})
	require.NoError(t, err)
	assert.Equal(t, model.StateRedeemed, res.Coupon.State)
	assert.Equal(t, 1, res.Coupon.RedemptionCount)
	assert.Equal(t, "alice", res.History.UserID)
	assert.True(t, epoch.Equal(res.History.RedeemedAt))

	_, err = h.coordinator.Redeem(ctx, code, "alice", nil)
	assert.ErrorIs(t, err, apperr.ErrExhausted)

	history, err := h.catalog.ListRedemptions(ctx, code)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "o-1", history[0].Metadata["order_id"])

	_, held := h.locks.Holder(code)
	assert.False(t, held, "redeem must release the coupon mutex")
}

func TestRedeemMultiRedemption(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.assigned(t, NewBook{AllowMultiRedemption: true}, 3, "alice")

	for i := 1; i <= 3; i++ {
		res, err := h.coordinator.Redeem(ctx, code, "alice", nil)
		require.NoError(t, err)
		assert.Equal(t, i, res.Coupon.RedemptionCount)
		assert.Equal(t, model.StateRedeemed, res.Coupon.State)
	}

	_, err := h.coordinator.Redeem(ctx, code, "alice", nil)
	assert.ErrorIs(t, err, apperr.ErrExhausted)
	assert.Equal(t, 3, h.coupon(t, code).RedemptionCount)
}

func TestRedeemAgainWithoutMultiRedemption(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.assigned(t, NewBook{}, 2, "alice")

	_, err := h.coordinator.Redeem(ctx, code, "alice", nil)
	require.NoError(t, err)

	_, err = h.coordinator.Redeem(ctx, code, "alice", nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestRedeemPerUserLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.assigned(t, NewBook{AllowMultiRedemption: true, MaxRedemptionsPerUser: intPtr(1)}, 5, "alice")

	_, err := h.coordinator.Redeem(ctx, code, "alice", nil)
	require.NoError(t, err)

	_, err = h.coordinator.Redeem(ctx, code, "alice", nil)
	assert.ErrorIs(t, err, apperr.ErrExhausted)

	res, err := h.coordinator.Redeem(ctx, code, "bob", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Coupon.RedemptionCount)
}

func TestRedeemRejectsUnassigned(t *testing.T) {
	h := newHarness(t)
	_, codes := h.book(t, NewBook{}, 1, 1)

	_, err := h.coordinator.Redeem(context.Background(), codes[0], "alice", nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.Equal(t, model.StateUnassigned, h.coupon(t, codes[0]).State)
}

func TestRedeemUnknownCoupon(t *testing.T) {
	h := newHarness(t)
	_, err := h.coordinator.Redeem(context.Background(), "NOPE", "alice", nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = h.coordinator.Redeem(context.Background(), "NOPE", "", nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestRedeemExpiredBookCommitsExpiry(t *testing.T) {
	h := newHarness(t)
	expires := epoch.Add(time.Hour)
	code := h.assigned(t, NewBook{ExpiresAt: &expires}, 1, "alice")

	h.clock.Advance(2 * time.Hour)
	_, err := h.coordinator.Redeem(context.Background(), code, "alice", nil)
	assert.ErrorIs(t, err, apperr.ErrExpired)

	c := h.coupon(t, code)
	assert.Equal(t, model.StateExpired, c.State)
	assert.Zero(t, c.RedemptionCount)
}

func TestRedeemWhileLocked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.assigned(t, NewBook{}, 1, "alice")

	_, err := h.coordinator.Lock(ctx, code, "alice", time.Minute)
	require.NoError(t, err)

	_, err = h.coordinator.Redeem(ctx, code, "alice", nil)
	assert.ErrorIs(t, err, apperr.ErrLocked)
	assert.Equal(t, model.StateLocked, h.coupon(t, code).State)

	_, err = h.coordinator.Unlock(ctx, code)
	require.NoError(t, err)
	_, err = h.coordinator.Redeem(ctx, code, "alice", nil)
	assert.NoError(t, err)
}

func TestRedeemReclaimsExpiredLease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.assigned(t, NewBook{}, 1, "alice")

	_, err := h.coordinator.Lock(ctx, code, "alice", time.Minute)
	require.NoError(t, err)
	h.clock.Advance(2 * time.Minute)

	res, err := h.coordinator.Redeem(ctx, code, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StateRedeemed, res.Coupon.State)
	assert.False(t, res.Coupon.IsLocked)
}

func TestLockAndUnlock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.assigned(t, NewBook{}, 1, "alice")

	locked, err := h.coordinator.Lock(ctx, code, "alice", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, model.StateLocked, locked.State)
	assert.True(t, locked.IsLocked)
	require.NotNil(t, locked.LockedUntil)
	assert.True(t, epoch.Add(5*time.Minute).Equal(*locked.LockedUntil))
	require.NotNil(t, locked.LockedBy)
	assert.Equal(t, "alice", *locked.LockedBy)

	holder, held := h.locks.Holder(code)
	assert.True(t, held)
	assert.Equal(t, lockHolder("alice"), holder)

	_, err = h.coordinator.Lock(ctx, code, "bob", time.Minute)
	assert.ErrorIs(t, err, apperr.ErrLocked)

	unlocked, err := h.coordinator.Unlock(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, model.StateAssigned, unlocked.State)
	assert.False(t, unlocked.IsLocked)
	assert.Nil(t, unlocked.LockedUntil)
	assert.Nil(t, unlocked.LockedBy)

	_, held = h.locks.Holder(code)
	assert.False(t, held)
}

func TestLockValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, codes := h.book(t, NewBook{}, 1, 1)

	_, err := h.coordinator.Lock(ctx, codes[0], "alice", time.Minute)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "unassigned coupons cannot be locked")

	_, err = h.coordinator.Lock(ctx, codes[0], "alice", 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = h.coordinator.Lock(ctx, "NOPE", "alice", time.Minute)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, held := h.locks.Holder(codes[0])
	assert.False(t, held, "failed lock attempts must not leave the mutex held")
}

func TestLockReclaimsExpiredLease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.assigned(t, NewBook{}, 1, "alice")

	_, err := h.coordinator.Lock(ctx, code, "alice", time.Minute)
	require.NoError(t, err)

	h.clock.Advance(30 * time.Second)
	_, err = h.coordinator.Lock(ctx, code, "bob", time.Minute)
	assert.ErrorIs(t, err, apperr.ErrLocked)

	h.clock.Advance(time.Minute)
	locked, err := h.coordinator.Lock(ctx, code, "bob", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "bob", *locked.LockedBy)

	holder, _ := h.locks.Holder(code)
	assert.Equal(t, lockHolder("bob"), holder)
}

func TestUnlockIdleCouponIsNoop(t *testing.T) {
	h := newHarness(t)
	code := h.assigned(t, NewBook{}, 1, "alice")

	c, err := h.coordinator.Unlock(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, model.StateAssigned, c.State)
}

func TestUnlockRedeemedCouponFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.assigned(t, NewBook{}, 1, "alice")
	_, err := h.coordinator.Redeem(ctx, code, "alice", nil)
	require.NoError(t, err)

	_, err = h.coordinator.Unlock(ctx, code)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestReleaseExpiredLocks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	short := h.assigned(t, NewBook{}, 1, "alice")
	long := h.assigned(t, NewBook{}, 1, "bob")

	_, err := h.coordinator.Lock(ctx, short, "alice", time.Minute)
	require.NoError(t, err)
	_, err = h.coordinator.Lock(ctx, long, "bob", time.Hour)
	require.NoError(t, err)

	n, err := h.coordinator.ReleaseExpiredLocks(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(2 * time.Minute)
	n, err = h.coordinator.ReleaseExpiredLocks(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, model.StateAssigned, h.coupon(t, short).State)
	assert.Equal(t, model.StateLocked, h.coupon(t, long).State)
	_, held := h.locks.Holder(short)
	assert.False(t, held)
	_, held = h.locks.Holder(long)
	assert.True(t, held)
}

func TestLockAfterRedeemSeesRedeemedRow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.assigned(t, NewBook{}, 1, "alice")

	locks := &hookedLocks{Table: h.locks}
	coord := h.coordinatorWith(locks)

	// a redemption commits right before Lock takes the mutex
	fired := false
	locks.beforeAcquire = func(_, holder string) {
		if fired || holder != lockHolder("alice") {
			return
		}
		fired = true
		_, err := coord.Redeem(ctx, code, "alice", nil)
		require.NoError(t, err)
	}

	_, err := coord.Lock(ctx, code, "alice", time.Minute)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	require.True(t, fired)

	c := h.coupon(t, code)
	assert.Equal(t, model.StateRedeemed, c.State)
	assert.Equal(t, 1, c.RedemptionCount)
	_, held := h.locks.Holder(code)
	assert.False(t, held)

	_, err = coord.Redeem(ctx, code, "alice", nil)
	assert.ErrorIs(t, err, apperr.ErrExhausted)
	history, err := h.catalog.ListRedemptions(ctx, code)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestUnlockLeavesLeaseTakenInBetween(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.assigned(t, NewBook{}, 1, "alice")

	locks := &hookedLocks{Table: h.locks}
	coord := h.coordinatorWith(locks)

	_, err := coord.Lock(ctx, code, "alice", time.Minute)
	require.NoError(t, err)
	h.clock.Advance(2 * time.Minute)

	// bob locks the coupon between Unlock's release and its row update
	fired := false
	locks.afterRelease = func(_, holder string) {
		if fired || holder != lockHolder("alice") {
			return
		}
		fired = true
		_, err := coord.Lock(ctx, code, "bob", time.Minute)
		require.NoError(t, err)
	}

	c, err := coord.Unlock(ctx, code)
	require.NoError(t, err)
	require.True(t, fired)
	assert.Equal(t, model.StateLocked, c.State)
	require.NotNil(t, c.LockedBy)
	assert.Equal(t, "bob", *c.LockedBy)

	holder, held := h.locks.Holder(code)
	assert.True(t, held)
	assert.Equal(t, lockHolder("bob"), holder)

	c, err = coord.Unlock(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, model.StateAssigned, c.State)
	_, held = h.locks.Holder(code)
	assert.False(t, held)

	_, err = coord.Redeem(ctx, code, "alice", nil)
	assert.NoError(t, err)
}

func TestReclaimSkipsLeaseHeldElsewhere(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.assigned(t, NewBook{}, 1, "alice")

	locks := &hookedLocks{Table: h.locks, elsewhere: map[string]bool{}}
	coord := h.coordinatorWith(locks)

	_, err := coord.Lock(ctx, code, "alice", time.Minute)
	require.NoError(t, err)
	locks.elsewhere[code] = true
	h.clock.Advance(2 * time.Minute)

	n, err := coord.ReleaseExpiredLocks(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, model.StateLocked, h.coupon(t, code).State)

	_, err = coord.Redeem(ctx, code, "alice", nil)
	assert.ErrorIs(t, err, apperr.ErrLocked)
	assert.Equal(t, model.StateLocked, h.coupon(t, code).State)

	// the other process goes away and its lock with it
	delete(locks.elsewhere, code)
	_, err = h.locks.ForceRelease(ctx, code)
	require.NoError(t, err)

	n, err = coord.ReleaseExpiredLocks(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.StateAssigned, h.coupon(t, code).State)
	_, held := h.locks.Holder(code)
	assert.False(t, held)
}

func TestOrphanedLeaseWithoutMutex(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.assigned(t, NewBook{}, 1, "alice")

	_, err := h.coordinator.Lock(ctx, code, "alice", time.Minute)
	require.NoError(t, err)
	// the mutex is lost, as after a restart with an in-process table
	_, err = h.locks.ForceRelease(ctx, code)
	require.NoError(t, err)

	_, err = h.coordinator.Lock(ctx, code, "bob", time.Minute)
	assert.ErrorIs(t, err, apperr.ErrLocked, "an active lease is honoured without its mutex")
	_, err = h.coordinator.Redeem(ctx, code, "alice", nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	_, held := h.locks.Holder(code)
	assert.False(t, held)

	c, err := h.coordinator.Unlock(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, model.StateAssigned, c.State)
	_, held = h.locks.Holder(code)
	assert.False(t, held)
}

func TestRedeemExpiresOrphanedLease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.assigned(t, NewBook{}, 1, "alice")

	_, err := h.coordinator.Lock(ctx, code, "alice", time.Minute)
	require.NoError(t, err)
	_, err = h.locks.ForceRelease(ctx, code)
	require.NoError(t, err)
	h.clock.Advance(2 * time.Minute)

	res, err := h.coordinator.Redeem(ctx, code, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StateRedeemed, res.Coupon.State)
	assert.Nil(t, res.Coupon.LockedBy)
}

func TestConcurrentRedeemSingleWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.assigned(t, NewBook{}, 1, "alice")

	const workers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.coordinator.Redeem(ctx, code, "alice", nil)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			kind := apperr.KindOf(err)
			assert.Contains(t, []apperr.Kind{apperr.Locked, apperr.Exhausted}, kind, err.Error())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	c := h.coupon(t, code)
	assert.Equal(t, 1, c.RedemptionCount)
	history, err := h.catalog.ListRedemptions(ctx, code)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestConcurrentMultiRedeemRespectsMax(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.assigned(t, NewBook{AllowMultiRedemption: true}, 5, "alice")

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := h.coordinator.Redeem(ctx, code, "alice", nil)
				if errors.Is(err, apperr.ErrLocked) {
					continue
				}
				if err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, apperr.ErrExhausted)
				}
				return
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, successes)
	assert.Equal(t, 5, h.coupon(t, code).RedemptionCount)
}
