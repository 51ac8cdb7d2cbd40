package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"referral-coupons-api/internal/cache"
	"referral-coupons-api/internal/codegen"
	"referral-coupons-api/internal/models"
	"referral-coupons-api/internal/validation"
)

// ListCoupons returns every coupon, newest first, with owner, inviter and
// invitee names resolved.
func (s *Service) ListCoupons(ctx context.Context) (coupons []models.CouponView, err error) {
	ctx, span := startSpan(ctx, "ListCoupons")
	defer func() { endSpan(span, err) }()

	var gen uint64
	if s.cache != nil {
		gen = s.couponListGen()

		var cached []models.CouponView
		err := cache.GetJSON(ctx, s.cache, cache.CouponListKey, &cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			s.logger.Warn("failed to read coupon list cache", zap.Error(err))
		}
	}

	coupons, err = s.store.ListCouponsWithOwnerNames(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.fillCouponList(ctx, gen, coupons)
	}

	return coupons, nil
}

// DeleteCoupon removes a coupon. It reports false when no coupon has that
// code. Referrals and purchases that mention the code are left as they are.
func (s *Service) DeleteCoupon(ctx context.Context, code string) (deleted bool, err error) {
	ctx, span := startSpan(ctx, "DeleteCoupon")
	defer func() { endSpan(span, err) }()

	code = codegen.Normalize(code)
	deleted, err = s.store.DeleteCoupon(ctx, code)
	if err != nil {
		return false, err
	}
	if !deleted {
		return false, nil
	}

	s.invalidateCouponList(ctx)
	s.events.PublishCouponDeleted(ctx, code)
	s.logger.Info("coupon deleted", zap.String("code", code))
	return true, nil
}

// GetReferral returns the referral whose invitee coupon is code. The code
// is matched case-insensitively.
func (s *Service) GetReferral(ctx context.Context, code string) (models.Referral, error) {
	return s.store.GetReferralByInvitedCoupon(ctx, codegen.Normalize(code))
}

// GetUser returns a user with its counters.
func (s *Service) GetUser(ctx context.Context, tgID string) (models.User, error) {
	tgID = validation.SanitizeString(tgID)
	if err := validation.ValidateTgID(tgID, "tg_id"); err != nil {
		return models.User{}, err
	}
	return s.store.GetUser(ctx, tgID)
}

// ListPurchases returns the purchases of a buyer, oldest first.
func (s *Service) ListPurchases(ctx context.Context, buyerID string) ([]models.Purchase, error) {
	buyerID = validation.SanitizeString(buyerID)
	if err := validation.ValidateTgID(buyerID, "buyer_id"); err != nil {
		return nil, err
	}
	return s.store.ListPurchasesByBuyer(ctx, buyerID)
}
