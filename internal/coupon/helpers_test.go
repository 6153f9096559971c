package coupon

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kkkkikiki/couponbook/internal/clock"
	"github.com/kkkkikiki/couponbook/internal/codegen"
	"github.com/kkkkikiki/couponbook/internal/lockmgr"
	"github.com/kkkkikiki/couponbook/internal/model"
	"github.com/kkkkikiki/couponbook/internal/repository/memory"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store       *memory.Store
	locks       *lockmgr.Table
	clock       *clock.Manual
	coordinator *Coordinator
	assigner    *Assigner
	catalog     *Catalog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	h := &harness{
		store: memory.New(),
		locks: lockmgr.NewTable(0),
		clock: clock.NewManual(epoch),
	}
	h.coordinator = NewCoordinator(h.store, h.locks, h.clock, logger)
	h.assigner = NewAssigner(h.store, logger)
	h.catalog = NewCatalog(h.store, codegen.New(""), h.clock, logger, 8)
	return h
}

func intPtr(v int) *int { return &v }

// book creates a book and uploads n codes named PREFIX-000 ... with
// maxRedemptions each.
func (h *harness) book(t *testing.T, nb NewBook, n, maxRedemptions int) (*model.Book, []string) {
	t.Helper()
	ctx := context.Background()
	if nb.Name == "" {
		nb.Name = "spring sale"
	}
	if nb.OwnerID == "" {
		nb.OwnerID = "owner-1"
	}
	book, err := h.catalog.CreateBook(ctx, nb)
	require.NoError(t, err)

	codes := make([]string, n)
	for i := range codes {
		codes[i] = fmt.Sprintf("%s-%03d", book.ID[:8], i)
	}
	if n > 0 {
		_, err = h.catalog.UploadCodes(ctx, book.ID, codes, maxRedemptions)
		require.NoError(t, err)
	}
	return book, codes
}

// assigned creates a single-code book whose coupon is ASSIGNED to userID.
func (h *harness) assigned(t *testing.T, nb NewBook, maxRedemptions int, userID string) string {
	t.Helper()
	_, codes := h.book(t, nb, 1, maxRedemptions)
	_, err := h.assigner.AssignSpecific(context.Background(), codes[0], userID)
	require.NoError(t, err)
	return codes[0]
}

func (h *harness) coupon(t *testing.T, code string) *model.Coupon {
	t.Helper()
	c, err := h.catalog.GetCoupon(context.Background(), code)
	require.NoError(t, err)
	return c
}

// coordinator builds a Coordinator over the harness store with another lock
// manager.
func (h *harness) coordinatorWith(locks lockmgr.Manager) *Coordinator {
	return NewCoordinator(h.store, locks, h.clock, zap.NewNop())
}

// hookedLocks wraps a Table so tests can run code between a caller's lock
// operations. Keys in elsewhere behave as if pinned by another process: they
// cannot be acquired, released or forced from here.
type hookedLocks struct {
	*lockmgr.Table
	beforeAcquire func(key, holder string)
	afterRelease  func(key, holder string)
	elsewhere     map[string]bool
}

func (l *hookedLocks) TryAcquire(ctx context.Context, key, holder string) (bool, error) {
	if l.beforeAcquire != nil {
		l.beforeAcquire(key, holder)
	}
	if l.elsewhere[key] {
		return false, nil
	}
	return l.Table.TryAcquire(ctx, key, holder)
}

func (l *hookedLocks) Release(ctx context.Context, key, holder string) (bool, error) {
	if l.elsewhere[key] {
		return false, nil
	}
	ok, err := l.Table.Release(ctx, key, holder)
	if ok && l.afterRelease != nil {
		l.afterRelease(key, holder)
	}
	return ok, err
}

func (l *hookedLocks) ForceRelease(ctx context.Context, key string) (bool, error) {
	if l.elsewhere[key] {
		return false, nil
	}
	return l.Table.ForceRelease(ctx, key)
}
