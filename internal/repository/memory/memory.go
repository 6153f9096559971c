// Package memory is an in-process repository.Store.
//
// A transaction holds the store mutex from start to finish, so transactions
// are fully serialized: row locks are implied and skip-locked selections
// never see a contended row. Writes are journaled and undone on rollback.
package memory

import (
	"context"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kkkkikiki/couponbook/internal/apperr"
	"github.com/kkkkikiki/couponbook/internal/model"
	"github.com/kkkkikiki/couponbook/internal/repository"
)

// Store keeps books, coupons, audit entries and pools in maps.
type Store struct {
	mu          sync.Mutex
	books       map[string]model.Book
	coupons     map[string]model.Coupon
	redemptions []model.RedemptionHistory
	pools       map[string]model.UserPool
}

var _ repository.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		books:   make(map[string]model.Book),
		coupons: make(map[string]model.Coupon),
		pools:   make(map[string]model.UserPool),
	}
}

// WithTx implements repository.Store.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

type memTx struct {
	s    *Store
	undo []func()
}

var _ repository.Tx = (*memTx)(nil)

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) putCoupon(c model.Coupon) {
	prev, existed := t.s.coupons[c.Code]
	t.undo = append(t.undo, func() {
		if existed {
			t.s.coupons[c.Code] = prev
		} else {
			delete(t.s.coupons, c.Code)
		}
	})
	t.s.coupons[c.Code] = c
}

func (t *memTx) putBook(b model.Book) {
	prev, existed := t.s.books[b.ID]
	t.undo = append(t.undo, func() {
		if existed {
			t.s.books[b.ID] = prev
		} else {
			delete(t.s.books, b.ID)
		}
	})
	t.s.books[b.ID] = b
}

func (t *memTx) putPool(p model.UserPool) {
	prev, existed := t.s.pools[p.ID]
	t.undo = append(t.undo, func() {
		if existed {
			t.s.pools[p.ID] = prev
		} else {
			delete(t.s.pools, p.ID)
		}
	})
	p.UserIDs = slices.Clone(p.UserIDs)
	t.s.pools[p.ID] = p
}

func (t *memTx) CreateBook(_ context.Context, book *model.Book) error {
	if _, ok := t.s.books[book.ID]; ok {
		return apperr.New(apperr.Conflict, "book %q already exists", book.ID)
	}
	t.putBook(*book)
	return nil
}

func (t *memTx) GetBook(_ context.Context, bookID string) (*model.Book, error) {
	b, ok := t.s.books[bookID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "book %q not found", bookID)
	}
	return &b, nil
}

func (t *memTx) GetBookForUpdate(ctx context.Context, bookID string) (*model.Book, error) {
	return t.GetBook(ctx, bookID)
}

func (t *memTx) ListBooks(_ context.Context, filter repository.BookFilter) ([]model.Book, error) {
	books := []model.Book{}
	for _, b := range t.s.books {
		if filter.OwnerID != "" && b.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Active != nil && b.IsActive != *filter.Active {
			continue
		}
		books = append(books, b)
	}
	sort.Slice(books, func(i, j int) bool {
		if !books[i].CreatedAt.Equal(books[j].CreatedAt) {
			return books[i].CreatedAt.After(books[j].CreatedAt)
		}
		return books[i].ID < books[j].ID
	})

	if filter.Offset >= len(books) {
		return []model.Book{}, nil
	}
	books = books[filter.Offset:]
	if filter.Limit < len(books) {
		books = books[:filter.Limit]
	}
	return books, nil
}

func (t *memTx) AddBookCodeCount(_ context.Context, bookID string, delta int) error {
	b, ok := t.s.books[bookID]
	if !ok {
		return apperr.New(apperr.NotFound, "book %q not found", bookID)
	}
	b.TotalCodeCount += delta
	t.putBook(b)
	return nil
}

func (t *memTx) InsertCoupons(_ context.Context, coupons []model.Coupon) error {
	for _, c := range coupons {
		if _, ok := t.s.coupons[c.Code]; ok {
			return apperr.New(apperr.Conflict, "one or more codes already exist")
		}
		if _, ok := t.s.books[c.BookID]; !ok {
			return apperr.New(apperr.NotFound, "book %q not found", c.BookID)
		}
		c.UpdatedAt = c.CreatedAt
		t.putCoupon(c)
	}
	return nil
}

func (t *memTx) GetCoupon(_ context.Context, code string) (*model.Coupon, error) {
	c, ok := t.s.coupons[code]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "coupon %q not found", code)
	}
	return &c, nil
}

func (t *memTx) GetCouponForUpdate(ctx context.Context, code string) (*model.Coupon, error) {
	return t.GetCoupon(ctx, code)
}

func (t *memTx) UpdateCoupon(_ context.Context, coupon *model.Coupon) error {
	if _, ok := t.s.coupons[coupon.Code]; !ok {
		return apperr.New(apperr.NotFound, "coupon %q not found", coupon.Code)
	}
	coupon.UpdatedAt = time.Now()
	t.putCoupon(*coupon)
	return nil
}

func (t *memTx) ClaimCoupon(_ context.Context, code, userID string) (bool, error) {
	c, ok := t.s.coupons[code]
	if !ok || c.State != model.StateUnassigned {
		return false, nil
	}
	c.AssignTo(userID)
	c.UpdatedAt = time.Now()
	t.putCoupon(c)
	return true, nil
}

func (t *memTx) BookCodes(_ context.Context, bookID string) ([]string, error) {
	codes := []string{}
	for code, c := range t.s.coupons {
		if c.BookID == bookID {
			codes = append(codes, code)
		}
	}
	return codes, nil
}

func (t *memTx) ExistingCodes(_ context.Context, codes []string) ([]string, error) {
	existing := []string{}
	for _, code := range codes {
		if _, ok := t.s.coupons[code]; ok {
			existing = append(existing, code)
		}
	}
	slices.Sort(existing)
	return slices.Compact(existing), nil
}

func (t *memTx) ListUnassignedCodes(_ context.Context, bookID string) ([]string, error) {
	codes := []string{}
	for code, c := range t.s.coupons {
		if c.BookID == bookID && c.State == model.StateUnassigned {
			codes = append(codes, code)
		}
	}
	slices.Sort(codes)
	return codes, nil
}

func (t *memTx) CountAssignments(_ context.Context, bookID, userID string) (int, error) {
	n := 0
	for _, c := range t.s.coupons {
		if c.BookID == bookID && c.AssignedUserID != nil && *c.AssignedUserID == userID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) ReserveUnassigned(ctx context.Context, bookID string, limit int) ([]model.Coupon, error) {
	codes, _ := t.ListUnassignedCodes(ctx, bookID)
	rand.Shuffle(len(codes), func(i, j int) { codes[i], codes[j] = codes[j], codes[i] })
	if limit < len(codes) {
		codes = codes[:limit]
	}

	coupons := make([]model.Coupon, 0, len(codes))
	for _, code := range codes {
		coupons = append(coupons, t.s.coupons[code])
	}
	return coupons, nil
}

func (t *memTx) ReserveExpiredLocks(_ context.Context, now time.Time, limit int) ([]model.Coupon, error) {
	coupons := []model.Coupon{}
	for _, c := range t.s.coupons {
		if c.State == model.StateLocked && c.LockedUntil != nil && c.LockedUntil.Before(now) {
			coupons = append(coupons, c)
		}
	}
	sort.Slice(coupons, func(i, j int) bool { return coupons[i].LockedUntil.Before(*coupons[j].LockedUntil) })
	if limit < len(coupons) {
		coupons = coupons[:limit]
	}
	return coupons, nil
}

func (t *memTx) CountRedemptions(_ context.Context, code, userID string) (int, error) {
	n := 0
	for _, r := range t.s.redemptions {
		if r.Code == code && r.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) AppendRedemption(_ context.Context, entry *model.RedemptionHistory) error {
	if _, ok := t.s.coupons[entry.Code]; !ok {
		return apperr.New(apperr.NotFound, "coupon %q not found", entry.Code)
	}
	n := len(t.s.redemptions)
	t.undo = append(t.undo, func() { t.s.redemptions = t.s.redemptions[:n] })
	t.s.redemptions = append(t.s.redemptions, *entry)
	return nil
}

func (t *memTx) ListRedemptions(_ context.Context, code string) ([]model.RedemptionHistory, error) {
	entries := []model.RedemptionHistory{}
	for i := len(t.s.redemptions) - 1; i >= 0; i-- {
		if r := t.s.redemptions[i]; r.Code == code {
			entries = append(entries, r)
		}
	}
	return entries, nil
}

func (t *memTx) CreatePool(_ context.Context, pool *model.UserPool) error {
	if _, ok := t.s.pools[pool.ID]; ok {
		return apperr.New(apperr.Conflict, "pool %q already exists", pool.ID)
	}
	p := *pool
	p.UserIDs = appendMissing(nil, pool.UserIDs)
	t.putPool(p)
	return nil
}

func (t *memTx) GetPool(_ context.Context, poolID string) (*model.UserPool, error) {
	p, ok := t.s.pools[poolID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "pool %q not found", poolID)
	}
	p.UserIDs = slices.Clone(p.UserIDs)
	if p.UserIDs == nil {
		p.UserIDs = []string{}
	}
	return &p, nil
}

func (t *memTx) AddPoolUsers(_ context.Context, poolID string, userIDs []string) error {
	p, ok := t.s.pools[poolID]
	if !ok {
		return apperr.New(apperr.NotFound, "pool %q not found", poolID)
	}
	p.UserIDs = appendMissing(slices.Clone(p.UserIDs), userIDs)
	p.UpdatedAt = time.Now()
	t.putPool(p)
	return nil
}

func (t *memTx) RemovePoolUsers(_ context.Context, poolID string, userIDs []string) error {
	p, ok := t.s.pools[poolID]
	if !ok {
		return apperr.New(apperr.NotFound, "pool %q not found", poolID)
	}
	p.UserIDs = slices.DeleteFunc(slices.Clone(p.UserIDs), func(u string) bool {
		return slices.Contains(userIDs, u)
	})
	p.UpdatedAt = time.Now()
	t.putPool(p)
	return nil
}

func (t *memTx) DeletePool(_ context.Context, poolID string) error {
	prev, ok := t.s.pools[poolID]
	if !ok {
		return apperr.New(apperr.NotFound, "pool %q not found", poolID)
	}
	t.undo = append(t.undo, func() { t.s.pools[poolID] = prev })
	delete(t.s.pools, poolID)
	return nil
}

func appendMissing(dst, add []string) []string {
	for _, u := range add {
		if !slices.Contains(dst, u) {
			dst = append(dst, u)
		}
	}
	return dst
}
