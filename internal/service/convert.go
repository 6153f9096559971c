package service

import (
	rpc "github.com/kkkkikiki/couponbook/internal/couponrpc"
	"github.com/kkkkikiki/couponbook/internal/model"
)

func toBook(b *model.Book) *rpc.Book {
	return &rpc.Book{
		ID:                    b.ID,
		Name:                  b.Name,
		Description:           b.Description,
		OwnerID:               b.OwnerID,
		ExpiresAt:             b.ExpiresAt,
		AllowMultiRedemption:  b.AllowMultiRedemption,
		MaxRedemptionsPerUser: b.MaxRedemptionsPerUser,
		MaxAssignmentsPerUser: b.MaxAssignmentsPerUser,
		CodePattern:           b.CodePattern,
		TotalCodeCount:        b.TotalCodeCount,
		IsActive:              b.IsActive,
		CreatedAt:             b.CreatedAt,
	}
}

func toCoupon(c *model.Coupon) *rpc.Coupon {
	out := &rpc.Coupon{
		Code:                 c.Code,
		BookID:               c.BookID,
		State:                string(c.State),
		RedemptionCount:      c.RedemptionCount,
		MaxRedemptions:       c.MaxRedemptions,
		RemainingRedemptions: c.RemainingRedemptions(),
		IsLocked:             c.IsLocked,
		LockedUntil:          c.LockedUntil,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}
	if c.AssignedUserID != nil {
		out.AssignedUserID = *c.AssignedUserID
	}
	if c.LockedBy != nil {
		out.LockedBy = *c.LockedBy
	}
	return out
}

func toRedemption(h *model.RedemptionHistory) *rpc.Redemption {
	return &rpc.Redemption{
		ID:         h.ID,
		Code:       h.Code,
		UserID:     h.UserID,
		BookID:     h.BookID,
		RedeemedAt: h.RedeemedAt,
		Metadata:   h.Metadata,
	}
}

func toPool(p *model.UserPool) *rpc.UserPool {
	return &rpc.UserPool{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		CreatedBy:   p.CreatedBy,
		IsActive:    p.IsActive,
		UserIDs:     p.UserIDs,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}
