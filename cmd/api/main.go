package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"referral-coupons-api/internal/cache"
	"referral-coupons-api/internal/config"
	"referral-coupons-api/internal/database"
	"referral-coupons-api/internal/events"
	"referral-coupons-api/internal/features"
	"referral-coupons-api/internal/handler"
	"referral-coupons-api/internal/logging"
	"referral-coupons-api/internal/middleware"
	"referral-coupons-api/internal/service"
	"referral-coupons-api/internal/tracing"
)

const redisKeyPrefix = "referral:"

func main() {
	configFile := flag.String("config", "", "Path to a JSON config file")
	envFile := flag.String("env", ".env", "Path to a .env file (optional)")
	flag.Parse()

	if err := run(*configFile, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "referral-coupons-api: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, envFile string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Production)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
	}); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	flags := features.Defaults(cfg.Cache.Enabled, cfg.Features.EventHooks, cfg.Features.Dashboard)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	couponCache, closeCache := newCache(ctx, cfg, flags, logger)
	defer closeCache()

	for name, f := range flags.GetAll() {
		logger.Info("feature flag", zap.String("name", name), zap.Bool("enabled", f.Enabled))
	}

	eventManager := events.NewManager(flags.IsEnabled(features.FeatureEventHooks), logger)
	logHook := events.LogHandler(logger)
	for _, et := range []events.EventType{
		events.EventReferralCreated,
		events.EventCouponRedeemed,
		events.EventReferralCompleted,
		events.EventPurchaseCompleted,
		events.EventCouponDeleted,
	} {
		eventManager.Subscribe(et, logHook)
	}
	defer eventManager.Shutdown()

	opts := service.DefaultOptions()
	opts.Logger = logger
	opts.Events = eventManager
	opts.Cache = couponCache
	opts.CacheTTL = cfg.Cache.TTLDuration()
	opts.ValidityDays = cfg.Coupons.ValidityDays
	svc := service.NewServiceWithOptions(db, opts)

	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
		Logger:      logger,
	})

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware(tracing.ServiceName))

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer rateLimiter.Stop()
		r.Use(middleware.RateLimitMiddleware(rateLimiter, logger))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Security.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h.Mount(r, flags.IsEnabled(features.FeatureDashboard))

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	logger.Info("starting server",
		zap.String("addr", server.Addr),
		zap.String("database", cfg.Database.Path),
		zap.Int("rate_limit", cfg.RateLimit.Rate),
		zap.Int("rate_window_seconds", cfg.RateLimit.Window),
	)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// newCache picks Redis when an address is configured and the in-process
// cache otherwise. A disabled cache yields nil. When Redis is unreachable
// the cache flag is turned off and the service reads the store directly.
func newCache(ctx context.Context, cfg *config.Config, flags *features.Manager, logger *zap.Logger) (cache.Cache, func()) {
	noop := func() {}

	if !flags.IsEnabled(features.FeatureCouponListCache) {
		return nil, noop
	}

	if cfg.Cache.RedisAddr == "" {
		logger.Info("using in-memory coupon list cache")
		return cache.NewInMemoryCache(), noop
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rc, err := cache.NewRedisCache(connectCtx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, redisKeyPrefix)
	if err != nil {
		logger.Warn("redis unavailable, coupon list cache disabled",
			zap.String("addr", cfg.Cache.RedisAddr),
			zap.Error(err),
		)
		flags.Disable(features.FeatureCouponListCache)
		return nil, noop
	}

	// Listings cached by an earlier process may predate its last writes.
	if err := rc.Clear(connectCtx); err != nil {
		logger.Warn("failed to clear redis coupon cache", zap.Error(err))
	}

	logger.Info("using redis coupon list cache", zap.String("addr", cfg.Cache.RedisAddr))
	return rc, func() {
		if err := rc.Close(); err != nil {
			logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
}
