package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/couponbook/internal/apperr"
)

func TestCanTransitionTable(t *testing.T) {
	allowed := map[State][]State{
		StateUnassigned: {StateAssigned, StateExpired},
		StateAssigned:   {StateLocked, StateRedeemed, StateExpired},
		StateLocked:     {StateAssigned, StateExpired},
	}

	for _, from := range States {
		for _, to := range States {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatesHaveNoTransitions(t *testing.T) {
	for _, from := range []State{StateRedeemed, StateExpired} {
		assert.True(t, from.Terminal())
		for _, to := range States {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.False(t, StateAssigned.Terminal())
}

func TestLockedCannotRedeem(t *testing.T) {
	err := ValidateTransition(StateLocked, StateRedeemed)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.Contains(t, err.Error(), `"LOCKED"`)
	assert.NoError(t, ValidateTransition(StateAssigned, StateRedeemed))
}

func TestUnknownStateHasNoTransitions(t *testing.T) {
	bogus := State("BOGUS")

	assert.False(t, bogus.Valid())
	assert.False(t, CanTransition(bogus, StateAssigned))
	assert.Empty(t, bogus.Next())
}

func TestStateScan(t *testing.T) {
	var s State
	require.NoError(t, s.Scan([]byte("LOCKED")))
	assert.Equal(t, StateLocked, s)

	assert.Error(t, s.Scan("NOPE"))
	assert.Error(t, s.Scan(42))
}
