package handler

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"referral-coupons-api/internal/models"
	"referral-coupons-api/internal/validation"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

// dashboardPurchaseStars is the fixed star count of dashboard purchases.
const dashboardPurchaseStars = 1

const displayTimeLayout = "2006-01-02 15:04:05"

type couponRow struct {
	Code            string
	Type            string
	DiscountPercent int
	Owner           string
	Inviter         string
	Invited         string
	Status          string
	Created         string
	Expires         string
	Used            string
}

type dashboardPage struct {
	Coupons []couponRow
}

type resultPage struct {
	Title   string
	IsError bool
	Lines   []resultLine
}

type resultLine struct {
	Label string
	Value string
}

// Dashboard handles GET /
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.service.ListCoupons(r.Context())
	if err != nil {
		h.logger.Error("failed to list coupons", zap.Error(err))
		h.renderResult(w, http.StatusInternalServerError, "Unexpected error", true,
			resultLine{Label: "Error", Value: "could not load coupons"})
		return
	}

	now := time.Now().UTC()
	page := dashboardPage{Coupons: make([]couponRow, 0, len(coupons))}
	for _, c := range coupons {
		page.Coupons = append(page.Coupons, newCouponRow(c, now))
	}

	h.render(w, http.StatusOK, "dashboard.html", page)
}

// InviteForm handles POST /invite
func (h *Handler) InviteForm(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}

	invitedDiscount, err1 := strconv.Atoi(r.PostFormValue("invited_discount"))
	inviterReward, err2 := strconv.Atoi(r.PostFormValue("inviter_reward"))
	if err := errors.Join(err1, err2); err != nil {
		h.renderResult(w, http.StatusBadRequest, "Error", true,
			resultLine{Label: "Could not create invite", Value: "discounts must be whole numbers"})
		return
	}

	req := models.CreateReferralRequest{
		InviterID:       validation.SanitizeString(r.PostFormValue("inviter_id")),
		InvitedID:       validation.SanitizeString(r.PostFormValue("invited_id")),
		InvitedDiscount: invitedDiscount,
		InviterReward:   inviterReward,
		InviterUsername: r.PostFormValue("inviter_username"),
		InvitedUsername: r.PostFormValue("invited_username"),
	}

	if err := validation.ValidateCreateReferralRequest(req); err != nil {
		h.renderResult(w, http.StatusBadRequest, "Error", true,
			resultLine{Label: "Could not create invite", Value: err.Error()})
		return
	}

	coupons, err := h.service.CreateReferral(r.Context(), req)
	if err != nil {
		h.logger.Error("dashboard invite failed", zap.Error(err))
		h.renderResult(w, http.StatusInternalServerError, "Error", true,
			resultLine{Label: "Could not create invite", Value: "internal error"})
		return
	}

	h.renderResult(w, http.StatusOK, "Success", false,
		resultLine{Label: fmt.Sprintf("Inviter coupon (%d%%)", inviterReward), Value: coupons.InviterCoupon},
		resultLine{Label: fmt.Sprintf("Invited coupon (%d%%)", invitedDiscount), Value: coupons.InvitedCoupon},
	)
}

// PurchaseForm handles POST /purchase. Any coupon text is passed through,
// so an unknown code is reported as coupon_not_found.
func (h *Handler) PurchaseForm(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}

	buyerID := validation.SanitizeString(r.PostFormValue("buyer_id"))
	coupon := validation.SanitizeString(r.PostFormValue("coupon"))

	result, err := h.service.CompletePurchase(r.Context(), buyerID, dashboardPurchaseStars, coupon)
	if err != nil {
		var verr *validation.ValidationError
		if errors.As(err, &verr) {
			h.renderResult(w, http.StatusBadRequest, "Purchase failed", true,
				resultLine{Label: "Error", Value: verr.Error()})
			return
		}
		h.logger.Error("dashboard purchase failed", zap.Error(err))
		h.renderResult(w, http.StatusInternalServerError, "Unexpected error", true,
			resultLine{Label: "Error", Value: "internal error"})
		return
	}

	if !result.OK {
		h.renderResult(w, http.StatusUnprocessableEntity, "Purchase failed", true,
			resultLine{Label: "Reason", Value: string(result.Reason)})
		return
	}

	h.renderResult(w, http.StatusOK, "Purchase completed", false,
		resultLine{Label: "Discount applied", Value: fmt.Sprintf("%d%%", result.UsedDiscountPercent)},
		resultLine{Label: "Stars to pay", Value: result.FinalStars.StringFixed(2)},
	)
}

// DeleteCouponForm handles DELETE /coupon/{code}. Unlike the API route it
// always answers 200 and reports the outcome in the body.
func (h *Handler) DeleteCouponForm(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.service.DeleteCoupon(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	resp := models.DeleteCouponResponse{OK: deleted, Message: msgCouponDeleted}
	if !deleted {
		resp.Message = msgCouponNotFound
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := r.ParseForm(); err != nil {
		h.renderResult(w, http.StatusBadRequest, "Error", true,
			resultLine{Label: "Error", Value: "invalid form submission"})
		return false
	}
	return true
}

func (h *Handler) renderResult(w http.ResponseWriter, status int, title string, isError bool, lines ...resultLine) {
	h.render(w, status, "result.html", resultPage{Title: title, IsError: isError, Lines: lines})
}

func (h *Handler) render(w http.ResponseWriter, status int, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		h.logger.Error("failed to render template", zap.String("template", name), zap.Error(err))
	}
}

// newCouponRow formats a coupon for display. An active coupon past its
// expiry is shown as expired; storage keeps it active.
func newCouponRow(c models.CouponView, now time.Time) couponRow {
	status := string(c.Status)
	if c.Status == models.CouponStatusActive && c.ExpiredAt(now) {
		status = string(models.CouponStatusExpired)
	}

	used := "-"
	if c.UsedAt != nil {
		used = c.UsedAt.Format(displayTimeLayout)
	}

	return couponRow{
		Code:            c.Code,
		Type:            string(c.Type),
		DiscountPercent: c.DiscountPercent,
		Owner:           formatUser(c.OwnerTgID, c.OwnerUsername),
		Inviter:         formatUser(c.InviterTgID, c.InviterUsername),
		Invited:         formatUser(c.InvitedTgID, c.InvitedUsername),
		Status:          status,
		Created:         c.CreatedAt.Format(displayTimeLayout),
		Expires:         c.ExpiresAt.Format(displayTimeLayout),
		Used:            used,
	}
}

func formatUser(tgID, username string) string {
	if tgID == "" {
		return "-"
	}
	if username == "" {
		return tgID + " / -"
	}
	return tgID + " / @" + username
}
