package coupon

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/couponbook/internal/apperr"
	"github.com/kkkkikiki/couponbook/internal/model"
	"github.com/kkkkikiki/couponbook/internal/repository"
)

func TestCreateBook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	book, err := h.catalog.CreateBook(ctx, NewBook{Name: "summer", OwnerID: "shop-1", CodePattern: "SUM-{}"})
	require.NoError(t, err)
	assert.NotEmpty(t, book.ID)
	assert.True(t, book.IsActive)
	assert.Nil(t, book.MaxRedemptionsPerUser)
	assert.True(t, epoch.Equal(book.CreatedAt))

	got, err := h.catalog.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, "SUM-{}", got.CodePattern)

	_, err = h.catalog.GetBook(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateBookValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := map[string]NewBook{
		"no name":        {OwnerID: "o"},
		"no owner":       {Name: "n"},
		"zero user cap":  {Name: "n", OwnerID: "o", MaxRedemptionsPerUser: intPtr(0)},
		"negative cap":   {Name: "n", OwnerID: "o", MaxAssignmentsPerUser: intPtr(-1)},
		"bad pattern":    {Name: "n", OwnerID: "o", CodePattern: "SALE {}!"},
		"pattern length": {Name: "n", OwnerID: "o", CodePattern: strings.Repeat("A", 41)},
	}
	for name, nb := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.catalog.CreateBook(ctx, nb)
			assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
		})
	}
}

func TestListBooksPaging(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for range 3 {
		h.book(t, NewBook{OwnerID: "a"}, 0, 1)
	}
	h.book(t, NewBook{OwnerID: "b"}, 0, 1)

	books, err := h.catalog.ListBooks(ctx, repository.BookFilter{OwnerID: "a"})
	require.NoError(t, err)
	assert.Len(t, books, 3)

	books, err = h.catalog.ListBooks(ctx, repository.BookFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, books, 2)

	books, err = h.catalog.ListBooks(ctx, repository.BookFilter{Limit: 1000, Offset: -5})
	require.NoError(t, err)
	assert.Len(t, books, 4)
}

func TestGenerateCodes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	book, err := h.catalog.CreateBook(ctx, NewBook{Name: "gen", OwnerID: "o", CodePattern: "GEN-{}"})
	require.NoError(t, err)

	res, err := h.catalog.GenerateCodes(ctx, book.ID, GenerateRequest{Count: 50, Length: 6})
	require.NoError(t, err)
	assert.Equal(t, 50, res.Created)

	seen := map[string]bool{}
	for _, code := range res.Codes {
		assert.Regexp(t, `^GEN-[A-Z0-9]{6}$`, code)
		assert.False(t, seen[code])
		seen[code] = true
	}

	res, err = h.catalog.GenerateCodes(ctx, book.ID, GenerateRequest{Count: 10, Pattern: "X{}X", MaxRedemptions: 3})
	require.NoError(t, err)
	c := h.coupon(t, res.Codes[0])
	assert.Equal(t, model.StateUnassigned, c.State)
	assert.Equal(t, 3, c.MaxRedemptions)
	assert.Len(t, c.Code, 10)

	got, err := h.catalog.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, got.TotalCodeCount)
}

func TestGenerateCodesErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	book, _ := h.book(t, NewBook{}, 0, 1)

	_, err := h.catalog.GenerateCodes(ctx, "missing", GenerateRequest{Count: 1})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = h.catalog.GenerateCodes(ctx, book.ID, GenerateRequest{Count: 0})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	// 36 possible one-character codes cannot yield 100 distinct ones
	_, err = h.catalog.GenerateCodes(ctx, book.ID, GenerateRequest{Count: 100, Length: 1})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	// codes must fit the 50-character column
	_, err = h.catalog.GenerateCodes(ctx, book.ID, GenerateRequest{Count: 1, Pattern: "SUMMER-{}", Length: 44})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = h.catalog.GenerateCodes(ctx, book.ID, GenerateRequest{Count: 1, Pattern: "SUMMER-{}", Length: 43})
	require.NoError(t, err)

	got, err := h.catalog.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalCodeCount)
}

func TestUploadCodes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	book, _ := h.book(t, NewBook{}, 0, 1)
	other, _ := h.book(t, NewBook{}, 0, 1)

	res, err := h.catalog.UploadCodes(ctx, book.ID, []string{"WELCOME1", "WELCOME2"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, h.coupon(t, "WELCOME1").MaxRedemptions)

	_, err = h.catalog.UploadCodes(ctx, other.ID, []string{"NEW1", "WELCOME2"}, 1)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = h.catalog.GetCoupon(ctx, "NEW1")
	assert.ErrorIs(t, err, apperr.ErrNotFound, "a rejected upload inserts nothing")

	_, err = h.catalog.UploadCodes(ctx, other.ID, []string{"DUP", "DUP"}, 1)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = h.catalog.UploadCodes(ctx, other.ID, []string{strings.Repeat("Z", 51)}, 1)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = h.catalog.UploadCodes(ctx, other.ID, nil, 1)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestListRedemptionsUnknownCoupon(t *testing.T) {
	h := newHarness(t)
	_, err := h.catalog.ListRedemptions(context.Background(), "NOPE")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPoolMembership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pool, err := h.catalog.CreatePool(ctx, NewPool{Name: "vip", CreatedBy: "admin", UserIDs: []string{"u1", "u2"}})
	require.NoError(t, err)
	assert.True(t, pool.IsActive)
	assert.Equal(t, []string{"u1", "u2"}, pool.UserIDs)

	pool, err = h.catalog.AddPoolUsers(ctx, pool.ID, []string{"u2", "u3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3"}, pool.UserIDs)

	pool, err = h.catalog.RemovePoolUsers(ctx, pool.ID, []string{"u1", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u3"}, pool.UserIDs)

	_, err = h.catalog.AddPoolUsers(ctx, pool.ID, []string{" "})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	require.NoError(t, h.catalog.DeletePool(ctx, pool.ID))
	_, err = h.catalog.GetPool(ctx, pool.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, h.catalog.DeletePool(ctx, pool.ID), apperr.ErrNotFound)
}

func TestCreatePoolValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.catalog.CreatePool(ctx, NewPool{CreatedBy: "admin"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = h.catalog.CreatePool(ctx, NewPool{Name: "vip"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = h.catalog.AddPoolUsers(ctx, "missing", []string{"u1"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
