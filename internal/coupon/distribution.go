package coupon

import (
	"fmt"
	"math/rand/v2"
)

// Mode selects how BulkAssign spreads codes over a pool.
type Mode string

const (
	// ModeEqual gives every user the same quota, in pool order.
	ModeEqual Mode = "equal"
	// ModeRandom shuffles the codes and deals them round-robin until none
	// are left.
	ModeRandom Mode = "random"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeEqual || m == ModeRandom
}

// skipFactor bounds consecutive capped users skipped in random mode, as a
// multiple of the pool size.
const skipFactor = 10

// Snapshot is the input of Distribute.
type Snapshot struct {
	Users []string
	Codes []string
	// Current holds how many codes of the book each user already has. Only
	// consulted when Cap is set.
	Current map[string]int
	// Cap is the book's max_assignments_per_user, nil when unbounded.
	Cap     *int
	Mode    Mode
	PerUser int
	// Shuffle permutes the codes in random mode. Defaults to math/rand.
	Shuffle func(n int, swap func(i, j int))
}

// Plan is the outcome of Distribute: the codes meant for each user plus the
// reasons some users or codes were left out.
type Plan struct {
	Assignments map[string][]string
	Errors      []string
}

// Total returns the number of codes in the plan.
func (p Plan) Total() int {
	n := 0
	for _, codes := range p.Assignments {
		n += len(codes)
	}
	return n
}

// Distribute decides which codes go to which users. It never hands a code to
// two users and never pushes a user over Cap.
func Distribute(s Snapshot) Plan {
	plan := Plan{Assignments: make(map[string][]string)}
	if len(s.Users) == 0 || len(s.Codes) == 0 {
		return plan
	}

	switch s.Mode {
	case ModeEqual:
		distributeEqual(s, &plan)
	case ModeRandom:
		distributeRandom(s, &plan)
	default:
		plan.Errors = append(plan.Errors, fmt.Sprintf("unknown distribution mode %q", s.Mode))
	}
	return plan
}

func slotsFor(s Snapshot, user string) (int, bool) {
	if s.Cap == nil {
		return 0, false
	}
	return *s.Cap - s.Current[user], true
}

func distributeEqual(s Snapshot, plan *Plan) {
	if needed := len(s.Users) * s.PerUser; len(s.Codes) < needed {
		plan.Errors = append(plan.Errors,
			fmt.Sprintf("not enough coupons: need %d, have %d", needed, len(s.Codes)))
	}

	next := 0
	for _, user := range s.Users {
		if next >= len(s.Codes) {
			break
		}
		quota := s.PerUser
		if slots, capped := slotsFor(s, user); capped {
			if slots <= 0 {
				plan.Errors = append(plan.Errors,
					fmt.Sprintf("user %s has reached max assignments (%d)", user, *s.Cap))
				continue
			}
			quota = min(quota, slots)
		}
		end := min(next+quota, len(s.Codes))
		plan.Assignments[user] = append(plan.Assignments[user], s.Codes[next:end]...)
		next = end
	}
}

func distributeRandom(s Snapshot, plan *Plan) {
	codes := append([]string(nil), s.Codes...)
	shuffle := s.Shuffle
	if shuffle == nil {
		shuffle = rand.Shuffle
	}
	shuffle(len(codes), func(i, j int) { codes[i], codes[j] = codes[j], codes[i] })

	n := len(s.Users)
	user, skips, next := 0, 0, 0
	for next < len(codes) {
		id := s.Users[user%n]
		user++
		if slots, capped := slotsFor(s, id); capped && slots-len(plan.Assignments[id]) <= 0 {
			skips++
			if skips >= skipFactor*n {
				break
			}
			continue
		}
		plan.Assignments[id] = append(plan.Assignments[id], codes[next])
		next++
		skips = 0
	}

	if left := len(codes) - next; left > 0 {
		plan.Errors = append(plan.Errors,
			fmt.Sprintf("%d coupons left unassigned: every pool user reached max assignments", left))
	}
}
