package model

import (
	"database/sql/driver"
	"fmt"

	"github.com/kkkkikiki/couponbook/internal/apperr"
)

// State is the lifecycle state of a coupon.
type State string

const (
	StateUnassigned State = "UNASSIGNED"
	StateAssigned   State = "ASSIGNED"
	StateLocked     State = "LOCKED"
	StateRedeemed   State = "REDEEMED"
	StateExpired    State = "EXPIRED"
)

// States lists every state in lifecycle order.
var States = []State{StateUnassigned, StateAssigned, StateLocked, StateRedeemed, StateExpired}

// transitions is the complete transition table. A state missing from the map
// has no outgoing transitions.
//
// LOCKED cannot move to REDEEMED: a locked coupon has to be unlocked first.
var transitions = map[State][]State{
	StateUnassigned: {StateAssigned, StateExpired},
	StateAssigned:   {StateLocked, StateRedeemed, StateExpired},
	StateLocked:     {StateAssigned, StateExpired},
	StateRedeemed:   nil,
	StateExpired:    nil,
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether s has no outgoing transitions.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Next returns the states reachable from s.
func (s State) Next() []State {
	return append([]State(nil), transitions[s]...)
}

// CanTransition reports whether moving from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an InvalidTransition error when from -> to is
// not allowed.
func ValidateTransition(from, to State) error {
	if CanTransition(from, to) {
		return nil
	}
	return TransitionError(from, string(to))
}

// TransitionError builds the InvalidTransition error for a rejected move.
// target is free text so callers can append a hint.
func TransitionError(from State, target string) error {
	return apperr.New(apperr.InvalidTransition, "invalid state transition from %q to %q", from, target)
}

// Value implements driver.Valuer.
func (s State) Value() (driver.Value, error) {
	return string(s), nil
}

// Scan implements sql.Scanner.
func (s *State) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*s = State(v)
	case []byte:
		*s = State(v)
	default:
		return fmt.Errorf("cannot scan %T into State", src)
	}
	if !s.Valid() {
		return fmt.Errorf("unknown coupon state %q", *s)
	}
	return nil
}
