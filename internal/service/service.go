package service

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"referral-coupons-api/internal/cache"
	"referral-coupons-api/internal/codegen"
	"referral-coupons-api/internal/database"
	"referral-coupons-api/internal/events"
	"referral-coupons-api/internal/models"
	"referral-coupons-api/internal/tracing"
)

const (
	defaultValidityDays = 30
	defaultCacheTTL     = 30 * time.Second
)

// Service provides the coupon lifecycle, referral and purchase logic.
// It holds no domain state between calls; every operation reads what it
// needs from the store.
type Service struct {
	store        database.Store
	logger       *zap.Logger
	events       *events.Manager
	cache        cache.Cache
	cacheTTL     time.Duration
	validityDays int
	now          func() time.Time
	newCode      func() string

	// listMu orders cache fills against invalidations. listGen moves on
	// every invalidation so a fill started before it is discarded.
	listMu  sync.Mutex
	listGen uint64
}

// Options holds optional collaborators of the service.
type Options struct {
	Logger *zap.Logger
	Events *events.Manager
	// Cache holds the admin coupon listing; nil disables caching.
	Cache        cache.Cache
	CacheTTL     time.Duration
	ValidityDays int
	Clock        func() time.Time
	// CodeGenerator overrides codegen.Generate.
	CodeGenerator func() string
}

// DefaultOptions returns default service options.
func DefaultOptions() Options {
	return Options{
		Logger:       zap.NewNop(),
		CacheTTL:     defaultCacheTTL,
		ValidityDays: defaultValidityDays,
		Clock:        func() time.Time { return time.Now().UTC() },
		CodeGenerator: func() string {
			return codegen.Generate(codegen.DefaultLength)
		},
	}
}

// NewService creates a new service instance.
func NewService(store database.Store) *Service {
	return NewServiceWithOptions(store, DefaultOptions())
}

// NewServiceWithOptions creates a new service instance with custom options.
// Zero-valued options fall back to DefaultOptions.
func NewServiceWithOptions(store database.Store, opts Options) *Service {
	defaults := DefaultOptions()
	if opts.Logger == nil {
		opts.Logger = defaults.Logger
	}
	if opts.Events == nil {
		opts.Events = events.NewManager(false, opts.Logger)
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaults.CacheTTL
	}
	if opts.ValidityDays <= 0 {
		opts.ValidityDays = defaults.ValidityDays
	}
	if opts.Clock == nil {
		opts.Clock = defaults.Clock
	}
	if opts.CodeGenerator == nil {
		opts.CodeGenerator = defaults.CodeGenerator
	}

	return &Service{
		store:        store,
		logger:       opts.Logger,
		events:       opts.Events,
		cache:        opts.Cache,
		cacheTTL:     opts.CacheTTL,
		validityDays: opts.ValidityDays,
		now:          opts.Clock,
		newCode:      opts.CodeGenerator,
	}
}

// startSpan opens a span named after the service operation.
func startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracing.GetTracer().StartSpan(ctx, "service."+op)
}

// endSpan records err on span, if any, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// invalidateCouponList drops the cached admin listing after a mutation.
func (s *Service) invalidateCouponList(ctx context.Context) {
	if s.cache == nil {
		return
	}

	s.listMu.Lock()
	defer s.listMu.Unlock()

	s.listGen++
	if err := s.cache.Delete(ctx, cache.CouponListKey); err != nil {
		s.logger.Warn("failed to invalidate coupon list cache", zap.Error(err))
	}
}

// couponListGen returns the current invalidation generation.
func (s *Service) couponListGen() uint64 {
	s.listMu.Lock()
	defer s.listMu.Unlock()
	return s.listGen
}

// fillCouponList caches coupons unless an invalidation happened since gen
// was taken. A skipped fill leaves the next read to go to the store.
func (s *Service) fillCouponList(ctx context.Context, gen uint64, coupons []models.CouponView) {
	s.listMu.Lock()
	defer s.listMu.Unlock()

	if s.listGen != gen {
		s.logger.Debug("skipping stale coupon list cache fill")
		return
	}
	if err := cache.SetJSON(ctx, s.cache, cache.CouponListKey, coupons, s.cacheTTL); err != nil {
		s.logger.Warn("failed to cache coupon list", zap.Error(err))
	}
}
