package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"referral-coupons-api/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventReferralCreated is emitted after a referral and its two coupons are stored
	EventReferralCreated EventType = "referral.created"
	// EventCouponRedeemed is emitted when a coupon transitions to used
	EventCouponRedeemed EventType = "coupon.redeemed"
	// EventReferralCompleted is emitted when an invitee coupon completes a referral
	EventReferralCompleted EventType = "referral.completed"
	// EventPurchaseCompleted is emitted after a purchase row is recorded
	EventPurchaseCompleted EventType = "purchase.completed"
	// EventCouponDeleted is emitted after an administrative delete
	EventCouponDeleted EventType = "coupon.deleted"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// ReferralCreatedData contains data for referral created events.
type ReferralCreatedData struct {
	Referral models.Referral
}

// CouponRedeemedData contains data for coupon redeemed events.
type CouponRedeemedData struct {
	Code            string
	OwnerTgID       string
	DiscountPercent int
}

// ReferralCompletedData contains data for referral completed events.
type ReferralCompletedData struct {
	InvitedCouponCode string
	Completed         int64
}

// PurchaseCompletedData contains data for purchase completed events.
type PurchaseCompletedData struct {
	Purchase models.Purchase
}

// CouponDeletedData contains data for coupon deleted events.
type CouponDeletedData struct {
	Code string
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	wg       sync.WaitGroup
	handlers map[EventType][]Handler
	enabled  bool
	logger   *zap.Logger
}

// NewManager creates a new event manager.
func NewManager(enabled bool, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
		logger:   logger,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers. Handlers run
// asynchronously and never see the request's cancellation.
//
// The read lock is held until every handler is counted, so Shutdown
// cannot start waiting while a publish is still adding to the group.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	handlers := m.handlers[eventType]
	if !m.enabled || len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	ctx = context.WithoutCancel(ctx)
	for _, handler := range handlers {
		m.wg.Add(1)
		go func(h Handler) {
			defer m.wg.Done()
			if err := h(ctx, event); err != nil {
				m.logger.Warn("event handler failed",
					zap.String("event", string(event.Type)),
					zap.Error(err),
				)
			}
		}(handler)
	}
}

// PublishReferralCreated publishes a referral created event.
func (m *Manager) PublishReferralCreated(ctx context.Context, referral models.Referral) {
	m.Publish(ctx, EventReferralCreated, ReferralCreatedData{Referral: referral})
}

// PublishCouponRedeemed publishes a coupon redeemed event.
func (m *Manager) PublishCouponRedeemed(ctx context.Context, code, ownerTgID string, discountPercent int) {
	m.Publish(ctx, EventCouponRedeemed, CouponRedeemedData{
		Code:            code,
		OwnerTgID:       ownerTgID,
		DiscountPercent: discountPercent,
	})
}

// PublishReferralCompleted publishes a referral completed event.
func (m *Manager) PublishReferralCompleted(ctx context.Context, invitedCouponCode string, completed int64) {
	m.Publish(ctx, EventReferralCompleted, ReferralCompletedData{
		InvitedCouponCode: invitedCouponCode,
		Completed:         completed,
	})
}

// PublishPurchaseCompleted publishes a purchase completed event.
func (m *Manager) PublishPurchaseCompleted(ctx context.Context, purchase models.Purchase) {
	m.Publish(ctx, EventPurchaseCompleted, PurchaseCompletedData{Purchase: purchase})
}

// PublishCouponDeleted publishes a coupon deleted event.
func (m *Manager) PublishCouponDeleted(ctx context.Context, code string) {
	m.Publish(ctx, EventCouponDeleted, CouponDeletedData{Code: code})
}

// Wait blocks until every in-flight handler has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown disables publishing and waits for in-flight handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.wg.Wait()
}

// LogHandler returns a handler that records every event at info level.
func LogHandler(logger *zap.Logger) Handler {
	return func(_ context.Context, event Event) error {
		logger.Info("event",
			zap.String("type", string(event.Type)),
			zap.Time("timestamp", event.Timestamp),
			zap.Any("data", event.Data),
		)
		return nil
	}
}
