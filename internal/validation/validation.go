package validation

import (
	"fmt"
	"strings"
	"unicode"

	"referral-coupons-api/internal/codegen"
	"referral-coupons-api/internal/models"
)

const (
	maxTgIDLength     = 64
	maxUsernameLength = 64
	minDiscount       = 1
	maxDiscount       = 99
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateReferralParties checks both ids and rejects self-referral.
func ValidateReferralParties(inviterID, invitedID string) error {
	if err := ValidateTgID(inviterID, "inviter_id"); err != nil {
		return err
	}

	if err := ValidateTgID(invitedID, "invited_id"); err != nil {
		return err
	}

	if inviterID == invitedID {
		return &ValidationError{
			Field:   "invited_id",
			Message: "inviter and invited ids cannot be the same",
		}
	}

	return nil
}

// ValidateCreateReferralRequest applies the form rules of the referral endpoint.
func ValidateCreateReferralRequest(req models.CreateReferralRequest) error {
	if err := ValidateReferralParties(req.InviterID, req.InvitedID); err != nil {
		return err
	}

	if err := ValidateDiscountPercent(req.InvitedDiscount, "invited_discount"); err != nil {
		return err
	}

	if err := ValidateDiscountPercent(req.InviterReward, "inviter_reward"); err != nil {
		return err
	}

	if err := validateUsername(req.InviterUsername, "inviter_username"); err != nil {
		return err
	}

	return validateUsername(req.InvitedUsername, "invited_username")
}

// ValidateCompletePurchaseRequest applies the form rules of the purchase endpoint.
func ValidateCompletePurchaseRequest(req models.CompletePurchaseRequest) error {
	if err := ValidateTgID(req.BuyerID, "buyer_id"); err != nil {
		return err
	}

	if req.StarsCount <= 0 {
		return &ValidationError{
			Field:   "stars_count",
			Message: "must be positive",
		}
	}

	if req.Coupon != "" {
		return ValidateCouponCode(req.Coupon)
	}

	return nil
}

func ValidateDiscountPercent(percent int, fieldName string) error {
	if percent < minDiscount || percent > maxDiscount {
		return &ValidationError{
			Field:   fieldName,
			Message: fmt.Sprintf("must be between %d and %d", minDiscount, maxDiscount),
		}
	}
	return nil
}

func ValidateTgID(id, fieldName string) error {
	id = SanitizeString(id)

	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	if len(id) > maxTgIDLength {
		return &ValidationError{
			Field:   fieldName,
			Message: fmt.Sprintf("cannot exceed %d characters", maxTgIDLength),
		}
	}

	if strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return &ValidationError{
			Field:   fieldName,
			Message: "cannot contain whitespace",
		}
	}

	return nil
}

// ValidateCouponCode checks the shape of a caller-supplied code. The code is
// normalized first, so lower case input is accepted.
func ValidateCouponCode(code string) error {
	code = codegen.Normalize(code)

	if code == "" {
		return &ValidationError{
			Field:   "coupon",
			Message: "is required",
		}
	}

	if !codegen.Valid(code) {
		return &ValidationError{
			Field:   "coupon",
			Message: fmt.Sprintf("must be %d characters from %s", codegen.DefaultLength, codegen.Alphabet),
		}
	}

	return nil
}

func validateUsername(name, fieldName string) error {
	if len(SanitizeString(name)) > maxUsernameLength {
		return &ValidationError{
			Field:   fieldName,
			Message: fmt.Sprintf("cannot exceed %d characters", maxUsernameLength),
		}
	}
	return nil
}

// SanitizeUsername strips control characters, whitespace and a leading '@'.
func SanitizeUsername(name string) string {
	return strings.TrimPrefix(SanitizeString(name), "@")
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}
