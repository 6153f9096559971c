package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kkkkikiki/couponbook/internal/apperr"
)

func TestSentinelMatchesKind(t *testing.T) {
	err := apperr.New(apperr.Locked, "coupon %q is locked", "ABC")

	assert.ErrorIs(t, err, apperr.ErrLocked)
	assert.NotErrorIs(t, err, apperr.ErrNotFound)
	assert.EqualError(t, err, `coupon "ABC" is locked`)
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("redeem: %w", apperr.New(apperr.Exhausted, "none left"))

	assert.Equal(t, apperr.Exhausted, apperr.KindOf(err))
	assert.Equal(t, apperr.Unknown, apperr.KindOf(errors.New("boom")))
	assert.Equal(t, apperr.Unknown, apperr.KindOf(nil))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "capacity exceeded", apperr.CapacityExceeded.String())
	assert.Equal(t, "kind(200)", apperr.Kind(200).String())
	assert.Equal(t, "expired", apperr.ErrExpired.Error())
}
