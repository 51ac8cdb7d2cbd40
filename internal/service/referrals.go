package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"referral-coupons-api/internal/database"
	"referral-coupons-api/internal/models"
	"referral-coupons-api/internal/validation"
)

// Fixed star values of the two referral coupons.
const (
	invitedStars = 10
	inviterStars = 1
)

// CreateReferral registers inviter and invitee, issues one coupon to each
// and records a pending referral linking them. All writes commit together.
func (s *Service) CreateReferral(ctx context.Context, req models.CreateReferralRequest) (result models.ReferralCoupons, err error) {
	ctx, span := startSpan(ctx, "CreateReferral")
	defer func() { endSpan(span, err) }()

	inviterID := validation.SanitizeString(req.InviterID)
	invitedID := validation.SanitizeString(req.InvitedID)
	span.SetAttributes(
		attribute.String("referral.inviter", inviterID),
		attribute.String("referral.invited", invitedID),
	)

	if err := validation.ValidateReferralParties(inviterID, invitedID); err != nil {
		return models.ReferralCoupons{}, err
	}

	now := s.now()
	var referral models.Referral

	err = s.store.InTx(ctx, func(repo database.Repository) error {
		if err := repo.UpsertUser(ctx, inviterID, validation.SanitizeUsername(req.InviterUsername), now); err != nil {
			return fmt.Errorf("failed to upsert inviter: %w", err)
		}
		if err := repo.UpsertUser(ctx, invitedID, validation.SanitizeUsername(req.InvitedUsername), now); err != nil {
			return fmt.Errorf("failed to upsert invitee: %w", err)
		}

		invited, err := s.issueCoupon(ctx, repo, IssueParams{
			Type:            models.CouponTypeInvitedDiscount,
			DiscountPercent: req.InvitedDiscount,
			StarsCount:      invitedStars,
			MinStars:        invitedStars,
			OwnerTgID:       invitedID,
			InviterTgID:     inviterID,
			InvitedTgID:     invitedID,
		}, now)
		if err != nil {
			return err
		}

		inviter, err := s.issueCoupon(ctx, repo, IssueParams{
			Type:            models.CouponTypeInviterReward,
			DiscountPercent: req.InviterReward,
			StarsCount:      inviterStars,
			MinStars:        inviterStars,
			OwnerTgID:       inviterID,
			InviterTgID:     inviterID,
			InvitedTgID:     invitedID,
		}, now)
		if err != nil {
			return err
		}

		referral = models.Referral{
			ID:                uuid.New().String(),
			InviterTgID:       inviterID,
			InvitedTgID:       invitedID,
			InviterCouponCode: inviter.Code,
			InvitedCouponCode: invited.Code,
			Status:            models.ReferralStatusPending,
			CreatedAt:         now,
		}
		if err := repo.InsertReferral(ctx, referral); err != nil {
			return fmt.Errorf("failed to record referral: %w", err)
		}

		return repo.IncrementUserCounter(ctx, inviterID, models.CounterTotalInvites)
	})
	if err != nil {
		s.logger.Error("failed to create referral",
			zap.String("inviter_id", inviterID),
			zap.String("invited_id", invitedID),
			zap.Error(err),
		)
		return models.ReferralCoupons{}, err
	}

	s.invalidateCouponList(ctx)
	s.events.PublishReferralCreated(ctx, referral)
	s.logger.Info("referral created",
		zap.String("referral_id", referral.ID),
		zap.String("inviter_id", inviterID),
		zap.String("invited_id", invitedID),
	)

	return models.ReferralCoupons{
		InviterCoupon: referral.InviterCouponCode,
		InvitedCoupon: referral.InvitedCouponCode,
	}, nil
}

// completeOnRedeem completes the referral whose invited coupon is code.
// Redeeming an inviter reward coupon matches no referral.
func (s *Service) completeOnRedeem(ctx context.Context, repo database.Repository, code string, now time.Time) (int64, error) {
	n, err := repo.MarkReferralCompleted(ctx, code, now)
	if err != nil {
		return 0, fmt.Errorf("failed to complete referral: %w", err)
	}
	if n > 0 {
		s.logger.Info("referral completed", zap.String("invited_coupon", code))
	}
	return n, nil
}
