package service

import (
	"context"
	"errors"
	"time"

	"connectrpc.com/connect"
	"go.uber.org/zap"

	"github.com/kkkkikiki/couponbook/internal/apperr"
	"github.com/kkkkikiki/couponbook/internal/coupon"
	rpc "github.com/kkkkikiki/couponbook/internal/couponrpc"
	"github.com/kkkkikiki/couponbook/internal/metrics"
	"github.com/kkkkikiki/couponbook/internal/model"
	"github.com/kkkkikiki/couponbook/internal/repository"
)

// CouponServer implements the coupon service
type CouponServer struct {
	catalog      *coupon.Catalog
	coordinator  *coupon.Coordinator
	assigner     *coupon.Assigner
	lockDuration time.Duration
	logger       *zap.Logger
}

var _ rpc.CouponServiceHandler = (*CouponServer)(nil)

// NewCouponServer creates a new CouponServer instance. lockDuration is used
// for lock requests that do not name a duration.
func NewCouponServer(
	catalog *coupon.Catalog,
	coordinator *coupon.Coordinator,
	assigner *coupon.Assigner,
	lockDuration time.Duration,
	logger *zap.Logger,
) *CouponServer {
	return &CouponServer{
		catalog:      catalog,
		coordinator:  coordinator,
		assigner:     assigner,
		lockDuration: lockDuration,
		logger:       logger.Named("service"),
	}
}

// observe records the duration of operation under the connect code of *err.
// It is deferred with a pointer to the handler's named error result.
func observe(operation string, start time.Time, err *error) {
	status := "success"
	if *err != nil {
		status = connect.CodeOf(*err).String()
	}
	metrics.RecordOperationDuration(operation, status, time.Since(start).Seconds())
}

// toConnectError maps domain errors to connect codes. Anything that is not a
// domain error is an infrastructure failure and surfaces as Internal.
func (s *CouponServer) toConnectError(operation string, err error) error {
	var code connect.Code
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		code = connect.CodeNotFound
	case apperr.InvalidArgument:
		code = connect.CodeInvalidArgument
	case apperr.InvalidTransition, apperr.Expired, apperr.CapacityExceeded:
		code = connect.CodeFailedPrecondition
	case apperr.Locked:
		code = connect.CodeAborted
	case apperr.Conflict:
		code = connect.CodeAlreadyExists
	case apperr.Exhausted:
		code = connect.CodeResourceExhausted
	default:
		switch {
		case errors.Is(err, context.Canceled):
			code = connect.CodeCanceled
		case errors.Is(err, context.DeadlineExceeded):
			code = connect.CodeDeadlineExceeded
		default:
			code = connect.CodeInternal
			s.logger.Error("operation failed", zap.String("operation", operation), zap.Error(err))
		}
	}
	return connect.NewError(code, err)
}

// CreateBook creates a new coupon book
func (s *CouponServer) CreateBook(
	ctx context.Context,
	req *connect.Request[rpc.CreateBookRequest],
) (_ *connect.Response[rpc.CreateBookResponse], err error) {
	defer observe("create_book", time.Now(), &err)

	book, err := s.catalog.CreateBook(ctx, coupon.NewBook{
		Name:                  req.Msg.Name,
		Description:           req.Msg.Description,
		OwnerID:               req.Msg.OwnerID,
		ExpiresAt:             req.Msg.ExpiresAt,
		AllowMultiRedemption:  req.Msg.AllowMultiRedemption,
		MaxRedemptionsPerUser: req.Msg.MaxRedemptionsPerUser,
		MaxAssignmentsPerUser: req.Msg.MaxAssignmentsPerUser,
		CodePattern:           req.Msg.CodePattern,
		IsActive:              req.Msg.IsActive,
	})
	if err != nil {
		return nil, s.toConnectError("create_book", err)
	}
	return connect.NewResponse(&rpc.CreateBookResponse{Book: toBook(book)}), nil
}

// GetBook gets one book
func (s *CouponServer) GetBook(
	ctx context.Context,
	req *connect.Request[rpc.GetBookRequest],
) (_ *connect.Response[rpc.GetBookResponse], err error) {
	defer observe("get_book", time.Now(), &err)

	book, err := s.catalog.GetBook(ctx, req.Msg.BookID)
	if err != nil {
		return nil, s.toConnectError("get_book", err)
	}
	return connect.NewResponse(&rpc.GetBookResponse{Book: toBook(book)}), nil
}

// ListBooks pages through books
func (s *CouponServer) ListBooks(
	ctx context.Context,
	req *connect.Request[rpc.ListBooksRequest],
) (_ *connect.Response[rpc.ListBooksResponse], err error) {
	defer observe("list_books", time.Now(), &err)

	books, err := s.catalog.ListBooks(ctx, repository.BookFilter{
		OwnerID: req.Msg.OwnerID,
		Active:  req.Msg.Active,
		Offset:  req.Msg.Offset,
		Limit:   req.Msg.Limit,
	})
	if err != nil {
		return nil, s.toConnectError("list_books", err)
	}

	out := make([]*rpc.Book, len(books))
	for i := range books {
		out[i] = toBook(&books[i])
	}
	return connect.NewResponse(&rpc.ListBooksResponse{Books: out}), nil
}

// GenerateCodes adds random codes to a book
func (s *CouponServer) GenerateCodes(
	ctx context.Context,
	req *connect.Request[rpc.GenerateCodesRequest],
) (_ *connect.Response[rpc.GenerateCodesResponse], err error) {
	defer observe("generate_codes", time.Now(), &err)

	res, err := s.catalog.GenerateCodes(ctx, req.Msg.BookID, coupon.GenerateRequest{
		Count:          req.Msg.Count,
		Pattern:        req.Msg.Pattern,
		Length:         req.Msg.Length,
		MaxRedemptions: req.Msg.MaxRedemptions,
	})
	if err != nil {
		return nil, s.toConnectError("generate_codes", err)
	}

	out := &rpc.GenerateCodesResponse{BookID: res.BookID, Created: res.Created}
	if req.Msg.IncludeCodes {
		out.Codes = res.Codes
	}
	return connect.NewResponse(out), nil
}

// UploadCodes adds caller-supplied codes to a book
func (s *CouponServer) UploadCodes(
	ctx context.Context,
	req *connect.Request[rpc.UploadCodesRequest],
) (_ *connect.Response[rpc.UploadCodesResponse], err error) {
	defer observe("upload_codes", time.Now(), &err)

	res, err := s.catalog.UploadCodes(ctx, req.Msg.BookID, req.Msg.Codes, req.Msg.MaxRedemptions)
	if err != nil {
		return nil, s.toConnectError("upload_codes", err)
	}
	return connect.NewResponse(&rpc.UploadCodesResponse{BookID: res.BookID, Created: res.Created}), nil
}

// GetCoupon gets one coupon
func (s *CouponServer) GetCoupon(
	ctx context.Context,
	req *connect.Request[rpc.GetCouponRequest],
) (_ *connect.Response[rpc.GetCouponResponse], err error) {
	defer observe("get_coupon", time.Now(), &err)

	c, err := s.catalog.GetCoupon(ctx, req.Msg.Code)
	if err != nil {
		return nil, s.toConnectError("get_coupon", err)
	}
	return connect.NewResponse(&rpc.GetCouponResponse{Coupon: toCoupon(c)}), nil
}

// ListRedemptions gets the redemption history of a coupon
func (s *CouponServer) ListRedemptions(
	ctx context.Context,
	req *connect.Request[rpc.ListRedemptionsRequest],
) (_ *connect.Response[rpc.ListRedemptionsResponse], err error) {
	defer observe("list_redemptions", time.Now(), &err)

	entries, err := s.catalog.ListRedemptions(ctx, req.Msg.Code)
	if err != nil {
		return nil, s.toConnectError("list_redemptions", err)
	}

	out := make([]*rpc.Redemption, len(entries))
	for i := range entries {
		out[i] = toRedemption(&entries[i])
	}
	return connect.NewResponse(&rpc.ListRedemptionsResponse{Redemptions: out}), nil
}

// AssignRandom assigns random unassigned coupons of a book to a user
func (s *CouponServer) AssignRandom(
	ctx context.Context,
	req *connect.Request[rpc.AssignRandomRequest],
) (_ *connect.Response[rpc.AssignRandomResponse], err error) {
	defer observe("assign_random", time.Now(), &err)

	coupons, err := s.assigner.AssignRandom(ctx, req.Msg.BookID, req.Msg.UserID, req.Msg.Count)
	if err != nil {
		return nil, s.toConnectError("assign_random", err)
	}

	out := make([]*rpc.Coupon, len(coupons))
	for i := range coupons {
		out[i] = toCoupon(&coupons[i])
	}
	return connect.NewResponse(&rpc.AssignRandomResponse{Coupons: out}), nil
}

// AssignSpecific assigns one coupon to a user
func (s *CouponServer) AssignSpecific(
	ctx context.Context,
	req *connect.Request[rpc.AssignSpecificRequest],
) (_ *connect.Response[rpc.AssignSpecificResponse], err error) {
	defer observe("assign_specific", time.Now(), &err)

	c, err := s.assigner.AssignSpecific(ctx, req.Msg.Code, req.Msg.UserID)
	if err != nil {
		return nil, s.toConnectError("assign_specific", err)
	}
	return connect.NewResponse(&rpc.AssignSpecificResponse{Coupon: toCoupon(c)}), nil
}

// LockCoupon locks an assigned coupon
func (s *CouponServer) LockCoupon(
	ctx context.Context,
	req *connect.Request[rpc.LockCouponRequest],
) (_ *connect.Response[rpc.LockCouponResponse], err error) {
	defer observe("lock", time.Now(), &err)

	duration := s.lockDuration
	if req.Msg.DurationSeconds != 0 {
		duration = time.Duration(req.Msg.DurationSeconds) * time.Second
	}

	c, err := s.coordinator.Lock(ctx, req.Msg.Code, req.Msg.UserID, duration)
	if err != nil {
		return nil, s.toConnectError("lock", err)
	}
	return connect.NewResponse(&rpc.LockCouponResponse{Coupon: toCoupon(c)}), nil
}

// UnlockCoupon releases a coupon lock
func (s *CouponServer) UnlockCoupon(
	ctx context.Context,
	req *connect.Request[rpc.UnlockCouponRequest],
) (_ *connect.Response[rpc.UnlockCouponResponse], err error) {
	defer observe("unlock", time.Now(), &err)

	c, err := s.coordinator.Unlock(ctx, req.Msg.Code)
	if err != nil {
		return nil, s.toConnectError("unlock", err)
	}
	return connect.NewResponse(&rpc.UnlockCouponResponse{Coupon: toCoupon(c)}), nil
}

// RedeemCoupon redeems a coupon
func (s *CouponServer) RedeemCoupon(
	ctx context.Context,
	req *connect.Request[rpc.RedeemCouponRequest],
) (_ *connect.Response[rpc.RedeemCouponResponse], err error) {
	defer observe("redeem", time.Now(), &err)

	res, err := s.coordinator.Redeem(ctx, req.Msg.Code, req.Msg.UserID, model.Metadata(req.Msg.Metadata))
	if err != nil {
		return nil, s.toConnectError("redeem", err)
	}
	return connect.NewResponse(&rpc.RedeemCouponResponse{
		Coupon:     toCoupon(res.Coupon),
		Redemption: toRedemption(res.History),
	}), nil
}

// CreatePool creates a user pool
func (s *CouponServer) CreatePool(
	ctx context.Context,
	req *connect.Request[rpc.CreatePoolRequest],
) (_ *connect.Response[rpc.CreatePoolResponse], err error) {
	defer observe("create_pool", time.Now(), &err)

	pool, err := s.catalog.CreatePool(ctx, coupon.NewPool{
		Name:        req.Msg.Name,
		Description: req.Msg.Description,
		CreatedBy:   req.Msg.CreatedBy,
		UserIDs:     req.Msg.UserIDs,
	})
	if err != nil {
		return nil, s.toConnectError("create_pool", err)
	}
	return connect.NewResponse(&rpc.CreatePoolResponse{Pool: toPool(pool)}), nil
}

// GetPool gets a user pool
func (s *CouponServer) GetPool(
	ctx context.Context,
	req *connect.Request[rpc.GetPoolRequest],
) (_ *connect.Response[rpc.GetPoolResponse], err error) {
	defer observe("get_pool", time.Now(), &err)

	pool, err := s.catalog.GetPool(ctx, req.Msg.PoolID)
	if err != nil {
		return nil, s.toConnectError("get_pool", err)
	}
	return connect.NewResponse(&rpc.GetPoolResponse{Pool: toPool(pool)}), nil
}

// AddPoolUsers adds users to a pool
func (s *CouponServer) AddPoolUsers(
	ctx context.Context,
	req *connect.Request[rpc.AddPoolUsersRequest],
) (_ *connect.Response[rpc.AddPoolUsersResponse], err error) {
	defer observe("add_pool_users", time.Now(), &err)

	pool, err := s.catalog.AddPoolUsers(ctx, req.Msg.PoolID, req.Msg.UserIDs)
	if err != nil {
		return nil, s.toConnectError("add_pool_users", err)
	}
	return connect.NewResponse(&rpc.AddPoolUsersResponse{Pool: toPool(pool)}), nil
}

// RemovePoolUsers removes users from a pool
func (s *CouponServer) RemovePoolUsers(
	ctx context.Context,
	req *connect.Request[rpc.RemovePoolUsersRequest],
) (_ *connect.Response[rpc.RemovePoolUsersResponse], err error) {
	defer observe("remove_pool_users", time.Now(), &err)

	pool, err := s.catalog.RemovePoolUsers(ctx, req.Msg.PoolID, req.Msg.UserIDs)
	if err != nil {
		return nil, s.toConnectError("remove_pool_users", err)
	}
	return connect.NewResponse(&rpc.RemovePoolUsersResponse{Pool: toPool(pool)}), nil
}

// DeletePool deletes a user pool
func (s *CouponServer) DeletePool(
	ctx context.Context,
	req *connect.Request[rpc.DeletePoolRequest],
) (_ *connect.Response[rpc.DeletePoolResponse], err error) {
	defer observe("delete_pool", time.Now(), &err)

	if err := s.catalog.DeletePool(ctx, req.Msg.PoolID); err != nil {
		return nil, s.toConnectError("delete_pool", err)
	}
	return connect.NewResponse(&rpc.DeletePoolResponse{}), nil
}

// BulkAssign distributes a book's coupons over a user pool
func (s *CouponServer) BulkAssign(
	ctx context.Context,
	req *connect.Request[rpc.BulkAssignRequest],
) (_ *connect.Response[rpc.BulkAssignResponse], err error) {
	defer observe("bulk_assign", time.Now(), &err)

	res, err := s.assigner.BulkAssign(ctx, coupon.BulkRequest{
		BookID:         req.Msg.BookID,
		PoolID:         req.Msg.PoolID,
		Mode:           coupon.Mode(req.Msg.Mode),
		CouponsPerUser: req.Msg.CouponsPerUser,
	})
	if err != nil {
		return nil, s.toConnectError("bulk_assign", err)
	}
	return connect.NewResponse(&rpc.BulkAssignResponse{
		TotalAssigned: res.TotalAssigned,
		Assignments:   res.Assignments,
		Errors:        res.Errors,
	}), nil
}
