package models

import "time"

// CouponType distinguishes the two coupons issued for a referral.
type CouponType string

const (
	CouponTypeInvitedDiscount CouponType = "invited_discount"
	CouponTypeInviterReward   CouponType = "inviter_reward"
)

// CouponStatus is the stored lifecycle state of a coupon.
// Expiry is computed at redemption time and never written.
type CouponStatus string

const (
	CouponStatusActive  CouponStatus = "active"
	CouponStatusUsed    CouponStatus = "used"
	CouponStatusExpired CouponStatus = "expired"
)

// ReferralStatus is the state of a referral pairing.
type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusCompleted ReferralStatus = "completed"
)

// UserCounter names an aggregate counter kept on the user row.
type UserCounter string

const (
	CounterTotalInvites   UserCounter = "total_invites"
	CounterTotalPurchases UserCounter = "total_purchases"
)

// User is a Telegram user known to the referral program.
type User struct {
	TgID           string    `json:"tg_id"`
	Username       string    `json:"username,omitempty"`
	TotalInvites   int       `json:"total_invites"`
	TotalPurchases int       `json:"total_purchases"`
	CreatedAt      time.Time `json:"created_at"`
}

// Coupon is a single-use percentage discount owned by one user.
type Coupon struct {
	Code            string       `json:"code"`
	Type            CouponType   `json:"coupon_type"`
	DiscountPercent int          `json:"discount_percent"` // 1-99 expected, not enforced
	StarsCount      int          `json:"stars_count"`      // informational
	MinStars        int          `json:"min_stars"`        // informational, not enforced
	OwnerTgID       string       `json:"owner_tg_id"`
	InviterTgID     string       `json:"inviter_tg_id"`
	InvitedTgID     string       `json:"invited_tg_id"`
	Status          CouponStatus `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	ExpiresAt       time.Time    `json:"expires_at"`
	UsedAt          *time.Time   `json:"used_at,omitempty"`
}

// ExpiredAt reports whether the coupon's validity window has passed at now.
func (c Coupon) ExpiredAt(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Referral links an inviter, an invitee and their two coupons.
type Referral struct {
	ID                string         `json:"id"` // uuid
	InviterTgID       string         `json:"inviter_tg_id"`
	InvitedTgID       string         `json:"invited_tg_id"`
	InviterCouponCode string         `json:"inviter_coupon_code"`
	InvitedCouponCode string         `json:"invited_coupon_code"`
	Status            ReferralStatus `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
}

// Purchase is an append-only record of a completed purchase.
type Purchase struct {
	ID              string    `json:"id"` // uuid
	BuyerTgID       string    `json:"buyer_tg_id"`
	StarsCount      int       `json:"stars_count"`
	CouponCode      *string   `json:"coupon_code"`
	DiscountPercent int       `json:"discount_percent"`
	CreatedAt       time.Time `json:"created_at"`
}

// CouponView is a coupon joined with the display names of the users it references.
type CouponView struct {
	Coupon
	OwnerUsername   string `json:"owner_username,omitempty"`
	InviterUsername string `json:"inviter_username,omitempty"`
	InvitedUsername string `json:"invited_username,omitempty"`
}

// ReferralCoupons is the pair of codes issued by a referral.
type ReferralCoupons struct {
	InviterCoupon string `json:"inviter_coupon"`
	InvitedCoupon string `json:"invited_coupon"`
}

// CreateReferralRequest represents the request body for creating a referral.
type CreateReferralRequest struct {
	InviterID       string `json:"inviter_id"`
	InvitedID       string `json:"invited_id"`
	InvitedDiscount int    `json:"invited_discount"`
	InviterReward   int    `json:"inviter_reward"`
	InviterUsername string `json:"inviter_username,omitempty"`
	InvitedUsername string `json:"invited_username,omitempty"`
}

// CompletePurchaseRequest represents the request body for a purchase.
type CompletePurchaseRequest struct {
	BuyerID    string `json:"buyer_id"`
	StarsCount int    `json:"stars_count"`
	Coupon     string `json:"coupon,omitempty"`
}

// PurchaseResponse is the outcome of a purchase attempt.
type PurchaseResponse struct {
	OK                  bool   `json:"ok"`
	Reason              string `json:"reason,omitempty"`
	StarsCount          int    `json:"stars_count,omitempty"`
	UsedDiscountPercent int    `json:"used_discount_percent"`
	FinalStars          string `json:"final_stars,omitempty"` // decimal string
}

// DeleteCouponResponse is the outcome of an administrative delete.
type DeleteCouponResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
