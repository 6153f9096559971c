package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedemptionsRemaining(t *testing.T) {
	c := Coupon{MaxRedemptions: 3, RedemptionCount: 2}
	assert.True(t, c.HasRedemptionsRemaining())
	assert.Equal(t, 1, c.RemainingRedemptions())

	c.RedemptionCount = 3
	assert.False(t, c.HasRedemptionsRemaining())
	assert.Equal(t, 0, c.RemainingRedemptions())

	c.RedemptionCount = 5
	assert.Equal(t, 0, c.RemainingRedemptions())
}

func TestLockActive(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Minute)
	earlier := now.Add(-time.Minute)

	assert.True(t, (&Coupon{IsLocked: true, LockedUntil: &later}).LockActive(now))
	assert.False(t, (&Coupon{IsLocked: true, LockedUntil: &earlier}).LockActive(now))
	assert.False(t, (&Coupon{IsLocked: false, LockedUntil: &later}).LockActive(now))
	assert.False(t, (&Coupon{IsLocked: true}).LockActive(now))
}

func TestIdleState(t *testing.T) {
	c := Coupon{State: StateLocked}
	assert.Equal(t, StateUnassigned, c.IdleState())

	c.AssignTo("u1")
	assert.Equal(t, StateAssigned, c.State)
	assert.Equal(t, StateAssigned, c.IdleState())
}

func TestBookPolicy(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	limit := 3

	b := Book{ExpiresAt: &past, MaxAssignmentsPerUser: &limit}
	assert.True(t, b.Expired(now))

	slots, ok := b.AssignmentSlots(1)
	assert.True(t, ok)
	assert.Equal(t, 2, slots)

	_, ok = (&Book{}).AssignmentSlots(10)
	assert.False(t, ok)
	assert.False(t, (&Book{}).Expired(now))
}

func TestMetadataRoundTripsThroughDriver(t *testing.T) {
	m := Metadata{"order_id": "o-1", "amount": 12.5}
	v, err := m.Value()
	require.NoError(t, err)

	var got Metadata
	require.NoError(t, got.Scan(v))
	assert.Equal(t, "o-1", got["order_id"])

	require.NoError(t, got.Scan(nil))
	assert.Nil(t, got)
}
