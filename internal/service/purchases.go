package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"referral-coupons-api/internal/codegen"
	"referral-coupons-api/internal/database"
	"referral-coupons-api/internal/models"
	"referral-coupons-api/internal/validation"
)

var hundred = decimal.NewFromInt(100)

// PurchaseResult is the outcome of CompletePurchase. When OK is false,
// Reason names the redemption rejection and nothing was recorded.
type PurchaseResult struct {
	OK                  bool
	Reason              Rejection
	StarsCount          int
	UsedDiscountPercent int
	FinalStars          decimal.Decimal
	Purchase            models.Purchase
}

// Response converts the result into its wire form.
func (r PurchaseResult) Response() models.PurchaseResponse {
	if !r.OK {
		return models.PurchaseResponse{OK: false, Reason: string(r.Reason)}
	}
	return models.PurchaseResponse{
		OK:                  true,
		StarsCount:          r.StarsCount,
		UsedDiscountPercent: r.UsedDiscountPercent,
		FinalStars:          r.FinalStars.StringFixed(2),
	}
}

// FinalStars applies a percentage discount to stars. The result is never
// negative and is rounded to two places.
func FinalStars(stars, discountPercent int) decimal.Decimal {
	total := decimal.NewFromInt(int64(stars))
	off := total.Mul(decimal.NewFromInt(int64(discountPercent))).Div(hundred)
	final := total.Sub(off)
	if final.IsNegative() {
		return decimal.Zero
	}
	return final.Round(2)
}

// CompletePurchase records a purchase by buyerID, redeeming couponCode
// first when one is given. stars_count is not checked against the coupon.
func (s *Service) CompletePurchase(ctx context.Context, buyerID string, starsCount int, couponCode string) (result PurchaseResult, err error) {
	ctx, span := startSpan(ctx, "CompletePurchase")
	defer func() { endSpan(span, err) }()

	buyerID = validation.SanitizeString(buyerID)
	if err := validation.ValidateTgID(buyerID, "buyer_id"); err != nil {
		return PurchaseResult{}, err
	}
	code := codegen.Normalize(couponCode)
	span.SetAttributes(
		attribute.String("purchase.buyer", buyerID),
		attribute.Int("purchase.stars", starsCount),
		attribute.String("coupon.code", code),
	)

	now := s.now()

	// The buyer is registered even when the coupon is rejected.
	if err := s.store.UpsertUser(ctx, buyerID, "", now); err != nil {
		return PurchaseResult{}, fmt.Errorf("failed to upsert buyer: %w", err)
	}

	var (
		redemption Redemption
		completed  int64
		purchase   models.Purchase
	)

	err = s.store.InTx(ctx, func(repo database.Repository) error {
		if code != "" {
			r, err := s.redeemCoupon(ctx, repo, code, buyerID, now)
			if err != nil {
				return err
			}
			redemption = r
			if !r.OK() {
				return nil
			}

			completed, err = s.completeOnRedeem(ctx, repo, code, now)
			if err != nil {
				return err
			}
		}

		purchase = models.Purchase{
			ID:              uuid.New().String(),
			BuyerTgID:       buyerID,
			StarsCount:      starsCount,
			DiscountPercent: redemption.DiscountPercent,
			CreatedAt:       now,
		}
		if code != "" {
			c := code
			purchase.CouponCode = &c
		}
		if err := repo.InsertPurchase(ctx, purchase); err != nil {
			return fmt.Errorf("failed to record purchase: %w", err)
		}

		return repo.IncrementUserCounter(ctx, buyerID, models.CounterTotalPurchases)
	})
	if err != nil {
		s.logger.Error("failed to complete purchase",
			zap.String("buyer_id", buyerID),
			zap.String("coupon", code),
			zap.Error(err),
		)
		return PurchaseResult{}, err
	}

	if !redemption.OK() {
		return PurchaseResult{OK: false, Reason: redemption.Rejection}, nil
	}

	if code != "" {
		s.afterRedeem(ctx, redemption, completed)
	}
	s.events.PublishPurchaseCompleted(ctx, purchase)
	s.logger.Info("purchase completed",
		zap.String("purchase_id", purchase.ID),
		zap.String("buyer_id", buyerID),
		zap.Int("stars_count", starsCount),
		zap.Int("discount_percent", purchase.DiscountPercent),
	)

	return PurchaseResult{
		OK:                  true,
		StarsCount:          starsCount,
		UsedDiscountPercent: purchase.DiscountPercent,
		FinalStars:          FinalStars(starsCount, purchase.DiscountPercent),
		Purchase:            purchase,
	}, nil
}
