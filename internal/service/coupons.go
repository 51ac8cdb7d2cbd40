package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"referral-coupons-api/internal/codegen"
	"referral-coupons-api/internal/database"
	"referral-coupons-api/internal/models"
)

// maxCodeAttempts bounds retries when a generated code is already taken.
const maxCodeAttempts = 10

// Rejection is the reason a coupon could not be redeemed.
type Rejection string

const (
	RejectionNone            Rejection = ""
	RejectionCouponNotFound  Rejection = "coupon_not_found"
	RejectionCouponNotActive Rejection = "coupon_not_active"
	RejectionCouponExpired   Rejection = "coupon_expired"
	RejectionWrongOwner      Rejection = "coupon_belongs_to_another_user"
)

// Redemption is the outcome of a redemption attempt. Rejection is empty
// on success.
type Redemption struct {
	Coupon          models.Coupon
	DiscountPercent int
	Rejection       Rejection
}

// OK reports whether the coupon was redeemed.
func (r Redemption) OK() bool {
	return r.Rejection == RejectionNone
}

// IssueParams describes a coupon to issue. Discount and star values are
// stored as given.
type IssueParams struct {
	Type            models.CouponType
	DiscountPercent int
	StarsCount      int
	MinStars        int
	OwnerTgID       string
	InviterTgID     string
	InvitedTgID     string
	// ValidityDays defaults to the service setting when zero.
	ValidityDays int
}

// IssueCoupon creates an active coupon and returns its code.
func (s *Service) IssueCoupon(ctx context.Context, p IssueParams) (code string, err error) {
	ctx, span := startSpan(ctx, "IssueCoupon")
	defer func() { endSpan(span, err) }()

	coupon, err := s.issueCoupon(ctx, s.store, p, s.now())
	if err != nil {
		return "", err
	}

	s.invalidateCouponList(ctx)
	return coupon.Code, nil
}

// issueCoupon inserts a coupon through repo, retrying on code collisions.
func (s *Service) issueCoupon(ctx context.Context, repo database.Repository, p IssueParams, now time.Time) (models.Coupon, error) {
	validityDays := p.ValidityDays
	if validityDays == 0 {
		validityDays = s.validityDays
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		coupon := models.Coupon{
			Code:            s.newCode(),
			Type:            p.Type,
			DiscountPercent: p.DiscountPercent,
			StarsCount:      p.StarsCount,
			MinStars:        p.MinStars,
			OwnerTgID:       p.OwnerTgID,
			InviterTgID:     p.InviterTgID,
			InvitedTgID:     p.InvitedTgID,
			Status:          models.CouponStatusActive,
			CreatedAt:       now,
			ExpiresAt:       now.AddDate(0, 0, validityDays),
		}

		err := repo.InsertCoupon(ctx, coupon)
		if errors.Is(err, database.ErrDuplicateCode) {
			s.logger.Debug("coupon code collision",
				zap.String("code", coupon.Code),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return models.Coupon{}, fmt.Errorf("failed to issue %s coupon: %w", p.Type, err)
		}

		s.logger.Info("coupon issued",
			zap.String("code", coupon.Code),
			zap.String("type", string(coupon.Type)),
			zap.String("tg_id", coupon.OwnerTgID),
			zap.Int("discount_percent", coupon.DiscountPercent),
		)
		return coupon, nil
	}

	return models.Coupon{}, fmt.Errorf("failed to generate a unique coupon code after %d attempts", maxCodeAttempts)
}

// RedeemCoupon redeems code for redeemerID at now and completes the
// referral it belongs to, as one transaction.
func (s *Service) RedeemCoupon(ctx context.Context, code, redeemerID string, now time.Time) (redemption Redemption, err error) {
	ctx, span := startSpan(ctx, "RedeemCoupon")
	defer func() { endSpan(span, err) }()

	code = codegen.Normalize(code)
	span.SetAttributes(attribute.String("coupon.code", code))

	var completed int64
	err = s.store.InTx(ctx, func(repo database.Repository) error {
		r, err := s.redeemCoupon(ctx, repo, code, redeemerID, now)
		if err != nil {
			return err
		}
		redemption = r
		if !r.OK() {
			return nil
		}

		completed, err = s.completeOnRedeem(ctx, repo, code, now)
		return err
	})
	if err != nil {
		return Redemption{}, err
	}

	if redemption.OK() {
		s.afterRedeem(ctx, redemption, completed)
	}
	return redemption, nil
}

// redeemCoupon applies the redemption checks in a fixed order: not found,
// not active, expired, wrong owner. A rejection writes nothing.
func (s *Service) redeemCoupon(ctx context.Context, repo database.Repository, code, redeemerID string, now time.Time) (Redemption, error) {
	coupon, err := repo.GetCoupon(ctx, code)
	if errors.Is(err, database.ErrNotFound) {
		return s.reject(code, redeemerID, RejectionCouponNotFound), nil
	}
	if err != nil {
		return Redemption{}, err
	}

	if coupon.Status != models.CouponStatusActive {
		return s.reject(code, redeemerID, RejectionCouponNotActive), nil
	}

	if coupon.ExpiredAt(now) {
		return s.reject(code, redeemerID, RejectionCouponExpired), nil
	}

	if coupon.OwnerTgID != redeemerID {
		return s.reject(code, redeemerID, RejectionWrongOwner), nil
	}

	swapped, err := repo.MarkCouponUsed(ctx, code, now)
	if err != nil {
		return Redemption{}, err
	}
	if !swapped {
		// Another redemption committed between the read and the write.
		return s.reject(code, redeemerID, RejectionCouponNotActive), nil
	}

	usedAt := now
	coupon.Status = models.CouponStatusUsed
	coupon.UsedAt = &usedAt

	return Redemption{
		Coupon:          coupon,
		DiscountPercent: coupon.DiscountPercent,
	}, nil
}

func (s *Service) reject(code, redeemerID string, reason Rejection) Redemption {
	s.logger.Info("coupon redemption rejected",
		zap.String("code", code),
		zap.String("tg_id", redeemerID),
		zap.String("reason", string(reason)),
	)
	return Redemption{Rejection: reason}
}

// afterRedeem runs the post-commit side effects of a successful redemption.
func (s *Service) afterRedeem(ctx context.Context, r Redemption, completedReferrals int64) {
	s.logger.Info("coupon redeemed",
		zap.String("code", r.Coupon.Code),
		zap.String("tg_id", r.Coupon.OwnerTgID),
		zap.Int("discount_percent", r.DiscountPercent),
	)

	s.invalidateCouponList(ctx)
	s.events.PublishCouponRedeemed(ctx, r.Coupon.Code, r.Coupon.OwnerTgID, r.DiscountPercent)
	if completedReferrals > 0 {
		s.events.PublishReferralCompleted(ctx, r.Coupon.Code, completedReferrals)
	}
}
