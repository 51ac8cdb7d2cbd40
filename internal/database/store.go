package database

import (
	"context"
	"errors"
	"time"

	"referral-coupons-api/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("database: not found")
	// ErrDuplicateCode is returned when a coupon code is already taken.
	ErrDuplicateCode = errors.New("database: duplicate coupon code")
)

// Repository is the row-level access used by the coupon service.
type Repository interface {
	// UpsertUser creates the user if absent. A non-empty username overwrites
	// the stored one; an empty username never clears it.
	UpsertUser(ctx context.Context, tgID, username string, now time.Time) error
	GetUser(ctx context.Context, tgID string) (models.User, error)
	IncrementUserCounter(ctx context.Context, tgID string, counter models.UserCounter) error

	GetCoupon(ctx context.Context, code string) (models.Coupon, error)
	InsertCoupon(ctx context.Context, coupon models.Coupon) error
	// MarkCouponUsed moves an active coupon to used. It reports false when
	// the coupon was not active anymore.
	MarkCouponUsed(ctx context.Context, code string, usedAt time.Time) (bool, error)
	ListCouponsWithOwnerNames(ctx context.Context) ([]models.CouponView, error)
	DeleteCoupon(ctx context.Context, code string) (bool, error)

	InsertReferral(ctx context.Context, referral models.Referral) error
	GetReferralByInvitedCoupon(ctx context.Context, code string) (models.Referral, error)
	// MarkReferralCompleted completes every referral whose invited coupon is
	// code and returns how many rows changed.
	MarkReferralCompleted(ctx context.Context, invitedCouponCode string, completedAt time.Time) (int64, error)

	InsertPurchase(ctx context.Context, purchase models.Purchase) error
	ListPurchasesByBuyer(ctx context.Context, buyerTgID string) ([]models.Purchase, error)
}

// Store is a Repository that can run a function as one atomic unit.
type Store interface {
	Repository
	// InTx runs fn inside a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(repo Repository) error) error
}
