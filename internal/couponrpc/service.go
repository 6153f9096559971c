package couponrpc

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// CouponServiceName is the fully-qualified name of the CouponService.
const CouponServiceName = "couponbook.v1.CouponService"

// Procedure names of the CouponService.
const (
	CouponServiceCreateBookProcedure      = "/couponbook.v1.CouponService/CreateBook"
	CouponServiceGetBookProcedure         = "/couponbook.v1.CouponService/GetBook"
	CouponServiceListBooksProcedure       = "/couponbook.v1.CouponService/ListBooks"
	CouponServiceGenerateCodesProcedure   = "/couponbook.v1.CouponService/GenerateCodes"
	CouponServiceUploadCodesProcedure     = "/couponbook.v1.CouponService/UploadCodes"
	CouponServiceGetCouponProcedure       = "/couponbook.v1.CouponService/GetCoupon"
	CouponServiceListRedemptionsProcedure = "/couponbook.v1.CouponService/ListRedemptions"
	CouponServiceAssignRandomProcedure    = "/couponbook.v1.CouponService/AssignRandom"
	CouponServiceAssignSpecificProcedure  = "/couponbook.v1.CouponService/AssignSpecific"
	CouponServiceLockCouponProcedure      = "/couponbook.v1.CouponService/LockCoupon"
	CouponServiceUnlockCouponProcedure    = "/couponbook.v1.CouponService/UnlockCoupon"
	CouponServiceRedeemCouponProcedure    = "/couponbook.v1.CouponService/RedeemCoupon"
	CouponServiceCreatePoolProcedure      = "/couponbook.v1.CouponService/CreatePool"
	CouponServiceGetPoolProcedure         = "/couponbook.v1.CouponService/GetPool"
	CouponServiceAddPoolUsersProcedure    = "/couponbook.v1.CouponService/AddPoolUsers"
	CouponServiceRemovePoolUsersProcedure = "/couponbook.v1.CouponService/RemovePoolUsers"
	CouponServiceDeletePoolProcedure      = "/couponbook.v1.CouponService/DeletePool"
	CouponServiceBulkAssignProcedure      = "/couponbook.v1.CouponService/BulkAssign"
)

// CouponServiceHandler is implemented by the coupon service server.
type CouponServiceHandler interface {
	CreateBook(context.Context, *connect.Request[CreateBookRequest]) (*connect.Response[CreateBookResponse], error)
	GetBook(context.Context, *connect.Request[GetBookRequest]) (*connect.Response[GetBookResponse], error)
	ListBooks(context.Context, *connect.Request[ListBooksRequest]) (*connect.Response[ListBooksResponse], error)
	GenerateCodes(context.Context, *connect.Request[GenerateCodesRequest]) (*connect.Response[GenerateCodesResponse], error)
	UploadCodes(context.Context, *connect.Request[UploadCodesRequest]) (*connect.Response[UploadCodesResponse], error)
	GetCoupon(context.Context, *connect.Request[GetCouponRequest]) (*connect.Response[GetCouponResponse], error)
	ListRedemptions(context.Context, *connect.Request[ListRedemptionsRequest]) (*connect.Response[ListRedemptionsResponse], error)
	AssignRandom(context.Context, *connect.Request[AssignRandomRequest]) (*connect.Response[AssignRandomResponse], error)
	AssignSpecific(context.Context, *connect.Request[AssignSpecificRequest]) (*connect.Response[AssignSpecificResponse], error)
	LockCoupon(context.Context, *connect.Request[LockCouponRequest]) (*connect.Response[LockCouponResponse], error)
	UnlockCoupon(context.Context, *connect.Request[UnlockCouponRequest]) (*connect.Response[UnlockCouponResponse], error)
	RedeemCoupon(context.Context, *connect.Request[RedeemCouponRequest]) (*connect.Response[RedeemCouponResponse], error)
	CreatePool(context.Context, *connect.Request[CreatePoolRequest]) (*connect.Response[CreatePoolResponse], error)
	GetPool(context.Context, *connect.Request[GetPoolRequest]) (*connect.Response[GetPoolResponse], error)
	AddPoolUsers(context.Context, *connect.Request[AddPoolUsersRequest]) (*connect.Response[AddPoolUsersResponse], error)
	RemovePoolUsers(context.Context, *connect.Request[RemovePoolUsersRequest]) (*connect.Response[RemovePoolUsersResponse], error)
	DeletePool(context.Context, *connect.Request[DeletePoolRequest]) (*connect.Response[DeletePoolResponse], error)
	BulkAssign(context.Context, *connect.Request[BulkAssignRequest]) (*connect.Response[BulkAssignResponse], error)
}

// NewCouponServiceHandler builds an HTTP handler serving every CouponService
// procedure. It returns the path prefix to mount the handler on. The JSON
// codec is always installed.
func NewCouponServiceHandler(svc CouponServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)
	handlers := map[string]http.Handler{
		CouponServiceCreateBookProcedure:      connect.NewUnaryHandler(CouponServiceCreateBookProcedure, svc.CreateBook, opts...),
		CouponServiceGetBookProcedure:         connect.NewUnaryHandler(CouponServiceGetBookProcedure, svc.GetBook, opts...),
		CouponServiceListBooksProcedure:       connect.NewUnaryHandler(CouponServiceListBooksProcedure, svc.ListBooks, opts...),
		CouponServiceGenerateCodesProcedure:   connect.NewUnaryHandler(CouponServiceGenerateCodesProcedure, svc.GenerateCodes, opts...),
		CouponServiceUploadCodesProcedure:     connect.NewUnaryHandler(CouponServiceUploadCodesProcedure, svc.UploadCodes, opts...),
		CouponServiceGetCouponProcedure:       connect.NewUnaryHandler(CouponServiceGetCouponProcedure, svc.GetCoupon, opts...),
		CouponServiceListRedemptionsProcedure: connect.NewUnaryHandler(CouponServiceListRedemptionsProcedure, svc.ListRedemptions, opts...),
		CouponServiceAssignRandomProcedure:    connect.NewUnaryHandler(CouponServiceAssignRandomProcedure, svc.AssignRandom, opts...),
		CouponServiceAssignSpecificProcedure:  connect.NewUnaryHandler(CouponServiceAssignSpecificProcedure, svc.AssignSpecific, opts...),
		CouponServiceLockCouponProcedure:      connect.NewUnaryHandler(CouponServiceLockCouponProcedure, svc.LockCoupon, opts...),
		CouponServiceUnlockCouponProcedure:    connect.NewUnaryHandler(CouponServiceUnlockCouponProcedure, svc.UnlockCoupon, opts...),
		CouponServiceRedeemCouponProcedure:    connect.NewUnaryHandler(CouponServiceRedeemCouponProcedure, svc.RedeemCoupon, opts...),
		CouponServiceCreatePoolProcedure:      connect.NewUnaryHandler(CouponServiceCreatePoolProcedure, svc.CreatePool, opts...),
		CouponServiceGetPoolProcedure:         connect.NewUnaryHandler(CouponServiceGetPoolProcedure, svc.GetPool, opts...),
		CouponServiceAddPoolUsersProcedure:    connect.NewUnaryHandler(CouponServiceAddPoolUsersProcedure, svc.AddPoolUsers, opts...),
		CouponServiceRemovePoolUsersProcedure: connect.NewUnaryHandler(CouponServiceRemovePoolUsersProcedure, svc.RemovePoolUsers, opts...),
		CouponServiceDeletePoolProcedure:      connect.NewUnaryHandler(CouponServiceDeletePoolProcedure, svc.DeletePool, opts...),
		CouponServiceBulkAssignProcedure:      connect.NewUnaryHandler(CouponServiceBulkAssignProcedure, svc.BulkAssign, opts...),
	}
	return "/" + CouponServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := handlers[r.URL.Path]; ok {
			h.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

// CouponServiceClient calls a CouponService over connect.
type CouponServiceClient struct {
	createBook      *connect.Client[CreateBookRequest, CreateBookResponse]
	getBook         *connect.Client[GetBookRequest, GetBookResponse]
	listBooks       *connect.Client[ListBooksRequest, ListBooksResponse]
	generateCodes   *connect.Client[GenerateCodesRequest, GenerateCodesResponse]
	uploadCodes     *connect.Client[UploadCodesRequest, UploadCodesResponse]
	getCoupon       *connect.Client[GetCouponRequest, GetCouponResponse]
	listRedemptions *connect.Client[ListRedemptionsRequest, ListRedemptionsResponse]
	assignRandom    *connect.Client[AssignRandomRequest, AssignRandomResponse]
	assignSpecific  *connect.Client[AssignSpecificRequest, AssignSpecificResponse]
	lockCoupon      *connect.Client[LockCouponRequest, LockCouponResponse]
	unlockCoupon    *connect.Client[UnlockCouponRequest, UnlockCouponResponse]
	redeemCoupon    *connect.Client[RedeemCouponRequest, RedeemCouponResponse]
	createPool      *connect.Client[CreatePoolRequest, CreatePoolResponse]
	getPool         *connect.Client[GetPoolRequest, GetPoolResponse]
	addPoolUsers    *connect.Client[AddPoolUsersRequest, AddPoolUsersResponse]
	removePoolUsers *connect.Client[RemovePoolUsersRequest, RemovePoolUsersResponse]
	deletePool      *connect.Client[DeletePoolRequest, DeletePoolResponse]
	bulkAssign      *connect.Client[BulkAssignRequest, BulkAssignResponse]
}

// NewCouponServiceClient creates a client for the service at baseURL, for
// example http://localhost:8080.
func NewCouponServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *CouponServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
	return &CouponServiceClient{
		createBook:      connect.NewClient[CreateBookRequest, CreateBookResponse](httpClient, baseURL+CouponServiceCreateBookProcedure, opts...),
		getBook:         connect.NewClient[GetBookRequest, GetBookResponse](httpClient, baseURL+CouponServiceGetBookProcedure, opts...),
		listBooks:       connect.NewClient[ListBooksRequest, ListBooksResponse](httpClient, baseURL+CouponServiceListBooksProcedure, opts...),
		generateCodes:   connect.NewClient[GenerateCodesRequest, GenerateCodesResponse](httpClient, baseURL+CouponServiceGenerateCodesProcedure, opts...),
		uploadCodes:     connect.NewClient[UploadCodesRequest, UploadCodesResponse](httpClient, baseURL+CouponServiceUploadCodesProcedure, opts...),
		getCoupon:       connect.NewClient[GetCouponRequest, GetCouponResponse](httpClient, baseURL+CouponServiceGetCouponProcedure, opts...),
		listRedemptions: connect.NewClient[ListRedemptionsRequest, ListRedemptionsResponse](httpClient, baseURL+CouponServiceListRedemptionsProcedure, opts...),
		assignRandom:    connect.NewClient[AssignRandomRequest, AssignRandomResponse](httpClient, baseURL+CouponServiceAssignRandomProcedure, opts...),
		assignSpecific:  connect.NewClient[AssignSpecificRequest, AssignSpecificResponse](httpClient, baseURL+CouponServiceAssignSpecificProcedure, opts...),
		lockCoupon:      connect.NewClient[LockCouponRequest, LockCouponResponse](httpClient, baseURL+CouponServiceLockCouponProcedure, opts...),
		unlockCoupon:    connect.NewClient[UnlockCouponRequest, UnlockCouponResponse](httpClient, baseURL+CouponServiceUnlockCouponProcedure, opts...),
		redeemCoupon:    connect.NewClient[RedeemCouponRequest, RedeemCouponResponse](httpClient, baseURL+CouponServiceRedeemCouponProcedure, opts...),
		createPool:      connect.NewClient[CreatePoolRequest, CreatePoolResponse](httpClient, baseURL+CouponServiceCreatePoolProcedure, opts...),
		getPool:         connect.NewClient[GetPoolRequest, GetPoolResponse](httpClient, baseURL+CouponServiceGetPoolProcedure, opts...),
		addPoolUsers:    connect.NewClient[AddPoolUsersRequest, AddPoolUsersResponse](httpClient, baseURL+CouponServiceAddPoolUsersProcedure, opts...),
		removePoolUsers: connect.NewClient[RemovePoolUsersRequest, RemovePoolUsersResponse](httpClient, baseURL+CouponServiceRemovePoolUsersProcedure, opts...),
		deletePool:      connect.NewClient[DeletePoolRequest, DeletePoolResponse](httpClient, baseURL+CouponServiceDeletePoolProcedure, opts...),
		bulkAssign:      connect.NewClient[BulkAssignRequest, BulkAssignResponse](httpClient, baseURL+CouponServiceBulkAssignProcedure, opts...),
	}
}

// CreateBook calls couponbook.v1.CouponService.CreateBook.
func (c *CouponServiceClient) CreateBook(ctx context.Context, req *connect.Request[CreateBookRequest]) (*connect.Response[CreateBookResponse], error) {
	return c.createBook.CallUnary(ctx, req)
}

// GetBook calls couponbook.v1.CouponService.GetBook.
func (c *CouponServiceClient) GetBook(ctx context.Context, req *connect.Request[GetBookRequest]) (*connect.Response[GetBookResponse], error) {
	return c.getBook.CallUnary(ctx, req)
}

// ListBooks calls couponbook.v1.CouponService.ListBooks.
func (c *CouponServiceClient) ListBooks(ctx context.Context, req *connect.Request[ListBooksRequest]) (*connect.Response[ListBooksResponse], error) {
	return c.listBooks.CallUnary(ctx, req)
}

// GenerateCodes calls couponbook.v1.CouponService.GenerateCodes.
func (c *CouponServiceClient) GenerateCodes(ctx context.Context, req *connect.Request[GenerateCodesRequest]) (*connect.Response[GenerateCodesResponse], error) {
	return c.generateCodes.CallUnary(ctx, req)
}

// UploadCodes calls couponbook.v1.CouponService.UploadCodes.
func (c *CouponServiceClient) UploadCodes(ctx context.Context, req *connect.Request[UploadCodesRequest]) (*connect.Response[UploadCodesResponse], error) {
	return c.uploadCodes.CallUnary(ctx, req)
}

// GetCoupon calls couponbook.v1.CouponService.GetCoupon.
func (c *CouponServiceClient) GetCoupon(ctx context.Context, req *connect.Request[GetCouponRequest]) (*connect.Response[GetCouponResponse], error) {
	return c.getCoupon.CallUnary(ctx, req)
}

// ListRedemptions calls couponbook.v1.CouponService.ListRedemptions.
func (c *CouponServiceClient) ListRedemptions(ctx context.Context, req *connect.Request[ListRedemptionsRequest]) (*connect.Response[ListRedemptionsResponse], error) {
	return c.listRedemptions.CallUnary(ctx, req)
}

// AssignRandom calls couponbook.v1.CouponService.AssignRandom.
func (c *CouponServiceClient) AssignRandom(ctx context.Context, req *connect.Request[AssignRandomRequest]) (*connect.Response[AssignRandomResponse], error) {
	return c.assignRandom.CallUnary(ctx, req)
}

// AssignSpecific calls couponbook.v1.CouponService.AssignSpecific.
func (c *CouponServiceClient) AssignSpecific(ctx context.Context, req *connect.Request[AssignSpecificRequest]) (*connect.Response[AssignSpecificResponse], error) {
	return c.assignSpecific.CallUnary(ctx, req)
}

// LockCoupon calls couponbook.v1.CouponService.LockCoupon.
func (c *CouponServiceClient) LockCoupon(ctx context.Context, req *connect.Request[LockCouponRequest]) (*connect.Response[LockCouponResponse], error) {
	return c.lockCoupon.CallUnary(ctx, req)
}

// UnlockCoupon calls couponbook.v1.CouponService.UnlockCoupon.
func (c *CouponServiceClient) UnlockCoupon(ctx context.Context, req *connect.Request[UnlockCouponRequest]) (*connect.Response[UnlockCouponResponse], error) {
	return c.unlockCoupon.CallUnary(ctx, req)
}

// RedeemCoupon calls couponbook.v1.CouponService.RedeemCoupon.
func (c *CouponServiceClient) RedeemCoupon(ctx context.Context, req *connect.Request[RedeemCouponRequest]) (*connect.Response[RedeemCouponResponse], error) {
	return c.redeemCoupon.CallUnary(ctx, req)
}

// CreatePool calls couponbook.v1.CouponService.CreatePool.
func (c *CouponServiceClient) CreatePool(ctx context.Context, req *connect.Request[CreatePoolRequest]) (*connect.Response[CreatePoolResponse], error) {
	return c.createPool.CallUnary(ctx, req)
}

// GetPool calls couponbook.v1.CouponService.GetPool.
func (c *CouponServiceClient) GetPool(ctx context.Context, req *connect.Request[GetPoolRequest]) (*connect.Response[GetPoolResponse], error) {
	return c.getPool.CallUnary(ctx, req)
}

// AddPoolUsers calls couponbook.v1.CouponService.AddPoolUsers.
func (c *CouponServiceClient) AddPoolUsers(ctx context.Context, req *connect.Request[AddPoolUsersRequest]) (*connect.Response[AddPoolUsersResponse], error) {
	return c.addPoolUsers.CallUnary(ctx, req)
}

// RemovePoolUsers calls couponbook.v1.CouponService.RemovePoolUsers.
func (c *CouponServiceClient) RemovePoolUsers(ctx context.Context, req *connect.Request[RemovePoolUsersRequest]) (*connect.Response[RemovePoolUsersResponse], error) {
	return c.removePoolUsers.CallUnary(ctx, req)
}

// DeletePool calls couponbook.v1.CouponService.DeletePool.
func (c *CouponServiceClient) DeletePool(ctx context.Context, req *connect.Request[DeletePoolRequest]) (*connect.Response[DeletePoolResponse], error) {
	return c.deletePool.CallUnary(ctx, req)
}

// BulkAssign calls couponbook.v1.CouponService.BulkAssign.
func (c *CouponServiceClient) BulkAssign(ctx context.Context, req *connect.Request[BulkAssignRequest]) (*connect.Response[BulkAssignResponse], error) {
	return c.bulkAssign.CallUnary(ctx, req)
}
