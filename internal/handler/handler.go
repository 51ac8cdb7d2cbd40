package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"referral-coupons-api/internal/database"
	"referral-coupons-api/internal/models"
	"referral-coupons-api/internal/service"
	"referral-coupons-api/internal/validation"
)

const (
	msgCouponDeleted  = "Coupon deleted"
	msgCouponNotFound = "Coupon not found"
)

// Handler provides HTTP handlers for the API and the dashboard.
type Handler struct {
	service     *service.Service
	logger      *zap.Logger
	maxBodySize int64
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	Logger      *zap.Logger
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 1 << 20, // 1MB default
		Logger:      zap.NewNop(),
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultHandlerOptions().MaxBodySize
	}
	return &Handler{
		service:     svc,
		logger:      opts.Logger,
		maxBodySize: opts.MaxBodySize,
	}
}

// CreateReferral handles POST /api/referrals
func (h *Handler) CreateReferral(w http.ResponseWriter, r *http.Request) {
	var req models.CreateReferralRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	req.InviterID = validation.SanitizeString(req.InviterID)
	req.InvitedID = validation.SanitizeString(req.InvitedID)

	if err := validation.ValidateCreateReferralRequest(req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	coupons, err := h.service.CreateReferral(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, coupons)
}

// CompletePurchase handles POST /api/purchases
func (h *Handler) CompletePurchase(w http.ResponseWriter, r *http.Request) {
	var req models.CompletePurchaseRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	req.BuyerID = validation.SanitizeString(req.BuyerID)
	req.Coupon = validation.SanitizeString(req.Coupon)
	if req.StarsCount == 0 {
		req.StarsCount = 1
	}

	if err := validation.ValidateCompletePurchaseRequest(req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.CompletePurchase(r.Context(), req.BuyerID, req.StarsCount, req.Coupon)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if !result.OK {
		status = http.StatusUnprocessableEntity
	}
	h.respondJSON(w, status, result.Response())
}

// ListCoupons handles GET /api/coupons
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.service.ListCoupons(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, coupons)
}

// DeleteCoupon handles DELETE /api/coupons/{code}
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.service.DeleteCoupon(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	if !deleted {
		h.respondJSON(w, http.StatusNotFound, models.DeleteCouponResponse{OK: false, Message: msgCouponNotFound})
		return
	}
	h.respondJSON(w, http.StatusOK, models.DeleteCouponResponse{OK: true, Message: msgCouponDeleted})
}

// GetReferral handles GET /api/referrals/{code}
func (h *Handler) GetReferral(w http.ResponseWriter, r *http.Request) {
	referral, err := h.service.GetReferral(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, referral)
}

// GetUser handles GET /api/users/{tg_id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUser(r.Context(), chi.URLParam(r, "tg_id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, user)
}

// ListPurchases handles GET /api/users/{tg_id}/purchases
func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	purchases, err := h.service.ListPurchases(r.Context(), chi.URLParam(r, "tg_id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, purchases)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// decodeJSON reads a size-limited JSON body into dest. It writes the error
// response itself and reports whether decoding succeeded.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			h.respondError(w, http.StatusBadRequest, "request body is required")
		case errors.As(err, &maxErr):
			h.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		default:
			h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		}
		return false
	}
	return true
}

// respondServiceError maps a service error to a status code.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.ValidationError
	switch {
	case errors.As(err, &verr):
		h.respondError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, database.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "not found")
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		h.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
