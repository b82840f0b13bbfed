package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/felipepmaragno/tutor-gateway/internal/api"
	"github.com/felipepmaragno/tutor-gateway/internal/auth"
	"github.com/felipepmaragno/tutor-gateway/internal/cache"
	"github.com/felipepmaragno/tutor-gateway/internal/caller"
	"github.com/felipepmaragno/tutor-gateway/internal/circuitbreaker"
	"github.com/felipepmaragno/tutor-gateway/internal/config"
	"github.com/felipepmaragno/tutor-gateway/internal/cost"
	"github.com/felipepmaragno/tutor-gateway/internal/crypto"
	"github.com/felipepmaragno/tutor-gateway/internal/domain"
	"github.com/felipepmaragno/tutor-gateway/internal/httputil"
	"github.com/felipepmaragno/tutor-gateway/internal/keypool"
	"github.com/felipepmaragno/tutor-gateway/internal/metrics"
	"github.com/felipepmaragno/tutor-gateway/internal/notifications"
	"github.com/felipepmaragno/tutor-gateway/internal/provider/openrouter"
	"github.com/felipepmaragno/tutor-gateway/internal/ratelimit"
	"github.com/felipepmaragno/tutor-gateway/internal/repository"
	"github.com/felipepmaragno/tutor-gateway/internal/router"
	"github.com/felipepmaragno/tutor-gateway/internal/secrets"
	"github.com/felipepmaragno/tutor-gateway/internal/telemetry"
	"github.com/felipepmaragno/tutor-gateway/internal/tutor"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting tutor gateway", "addr", cfg.Addr, "version", version, "tier", cfg.Tier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, "tutor-gateway", version, cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	keys, err := loadKeys(ctx, cfg)
	if err != nil {
		slog.Error("failed to load API keys", "error", err)
		os.Exit(1)
	}
	metrics.KeyPoolSize.Set(float64(keys.Len()))
	if keys.Len() == 0 {
		slog.Warn("no API keys configured, every turn will fail with empty_pool")
	} else {
		slog.Info("loaded API keys", "count", keys.Len())
	}

	models, err := router.New(router.Config{
		FreeModels:  cfg.FreeModels,
		ProModel:    cfg.ProModel,
		VisionModel: cfg.VisionModel,
	})
	if err != nil {
		slog.Error("failed to build model rosters", "error", err)
		os.Exit(1)
	}

	var checkers []api.HealthChecker
	checkers = append(checkers, api.NewKeyPoolChecker(keys))

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		checkers = append(checkers, api.NewRedisHealthChecker(redisClient))
		slog.Info("using redis", "addr", opts.Addr)
	}

	observers := caller.Observers{metrics.Observer{}}

	var attempts repository.AttemptLog = repository.NewInMemoryAttemptLog(10000)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		pgLog := repository.NewPostgresAttemptLog(db)
		if err := pgLog.EnsureSchema(ctx); err != nil {
			slog.Error("failed to create attempt log schema", "error", err)
			os.Exit(1)
		}
		attempts = pgLog
		checkers = append(checkers, api.NewPostgresHealthChecker(db))
		slog.Info("using postgres attempt log")
	}
	recorder := repository.NewAttemptRecorder(attempts, 1024)
	defer recorder.Close()
	observers = append(observers, recorder)

	exec := openrouter.New(openrouter.Options{
		BaseURL:     cfg.BaseURL,
		Client:      httputil.DefaultClient(),
		CallTimeout: cfg.CallTimeout,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Routing: &domain.ProviderRouting{
			Order:          cfg.ProviderOrder,
			AllowFallbacks: cfg.AllowFallbacks,
		},
		Referer: cfg.Referer,
		Title:   cfg.Title,
	})

	resilient := caller.New(exec, keys, caller.Options{
		MaxRetryRounds: cfg.MaxRetryRounds,
		BaseBackoff:    cfg.BaseBackoff,
		RetryStatuses:  cfg.RetryStatuses,
		Observer:       observers,
	})

	breakerCfg := circuitbreaker.DefaultConfig()
	var breakers *circuitbreaker.Set
	if cfg.UseDistributedCircuitBreaker && redisClient != nil {
		breakers = circuitbreaker.NewSet(breakerCfg, circuitbreaker.WithFactory(circuitbreaker.RedisFactory(redisClient, breakerCfg)))
		slog.Info("using distributed circuit breakers")
	} else {
		breakers = circuitbreaker.NewSet(breakerCfg)
	}

	var limiter ratelimit.Limiter = ratelimit.Unlimited{}
	if cfg.TurnsPerMinute > 0 {
		if redisClient != nil {
			limiter = ratelimit.NewRedis(redisClient, cfg.TurnsPerMinute, time.Minute)
		} else {
			limiter = ratelimit.NewInMemory(cfg.TurnsPerMinute, time.Minute)
		}
		slog.Info("turn rate limit enabled", "turns_per_minute", cfg.TurnsPerMinute)
	}

	var openings cache.Cache
	if redisClient != nil {
		openings = cache.NewRedis(redisClient)
	} else {
		mem := cache.NewInMemory(time.Minute)
		defer mem.Close()
		openings = mem
	}

	var notifier notifications.Notifier = notifications.Nop{}
	if cfg.SNSTopicARN != "" {
		sns, err := notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicARN)
		if err != nil {
			slog.Error("failed to create SNS notifier", "error", err)
			os.Exit(1)
		}
		notifier = sns
		if cfg.NotifyDedupTTL > 0 {
			var dedup notifications.Deduplicator = notifications.NewInMemoryDeduplicator(cfg.NotifyDedupTTL)
			if redisClient != nil {
				dedup = notifications.NewRedisDeduplicator(redisClient, cfg.NotifyDedupTTL)
			}
			notifier = notifications.NewDeduped(sns, dedup)
		}
		slog.Info("sending notifications to SNS", "topic", cfg.SNSTopicARN)
	}

	pricing := cost.NewCalculator()
	for model, p := range cfg.Pricing {
		pricing.SetPricing(model, p)
	}
	if !pricing.Known(cfg.ProModel) {
		slog.Warn("no price configured for pro model, cost estimates will read zero", "model", cfg.ProModel)
	}

	service := tutor.NewService(tutor.Config{
		HistoryCap:  cfg.HistoryCap,
		OpeningTTL:  cfg.OpeningTTL,
		ModePrompts: cfg.ModePrompts,
	}, tutor.Deps{
		Caller:   resilient,
		Router:   models,
		Breakers: breakers,
		Limiter:  limiter,
		Cache:    openings,
		Notifier: notifier,
		Pricing:  pricing,
	})

	var verifier *auth.TokenVerifier
	if cfg.AdminAuthEnabled {
		verifier, err = auth.NewTokenVerifier(cfg.AdminTokenHash)
		if err != nil {
			slog.Error("invalid admin token hash", "error", err)
			os.Exit(1)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/admin/", auth.RequireAdmin(verifier)(api.NewAdminHandler(keys, breakers, attempts)))
	mux.Handle("/", api.NewHandler(api.HandlerConfig{
		Service:  service,
		Keys:     keys,
		Checkers: checkers,
		Version:  version,
	}))

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}
	if n := recorder.Dropped(); n > 0 {
		slog.Warn("attempt records dropped", "count", n)
	}

	slog.Info("server stopped")
}

// loadKeys picks the key source: sealed env value, AWS secret, HTTP
// endpoint, then the plain env value.
func loadKeys(ctx context.Context, cfg *config.Config) (*keypool.Pool, error) {
	var src keypool.Source
	switch {
	case cfg.EncryptedKeys != "":
		sealer, err := crypto.NewSealer(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("create sealer: %w", err)
		}
		src = keypool.SealedSource{Ciphertext: cfg.EncryptedKeys, Sealer: sealer}
		slog.Info("loading sealed API keys")
	case cfg.KeysSecretName != "":
		store, err := secrets.NewAWSStore(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("create secret store: %w", err)
		}
		src = keypool.SecretSource{Store: store, Name: cfg.KeysSecretName}
		slog.Info("loading API keys from secrets manager", "secret", cfg.KeysSecretName)
	case cfg.KeysURL != "":
		src = keypool.HTTPSource{URL: cfg.KeysURL, Client: httputil.DefaultClient()}
		slog.Info("loading API keys from endpoint")
	default:
		src = keypool.StaticSource(cfg.APIKeys)
	}
	return keypool.Load(ctx, src)
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
