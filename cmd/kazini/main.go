package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kazini-app/go-kazini-auth"
	"github.com/kazini-app/go-kazini-auth/activitymap"
	"github.com/kazini-app/go-kazini-auth/cache"
	"github.com/kazini-app/go-kazini-auth/httpapi"
	"github.com/kazini-app/go-kazini-auth/internal/config"
	"github.com/kazini-app/go-kazini-auth/repository"
	"github.com/kazini-app/go-kazini-auth/scoring"
	"github.com/kazini-app/go-kazini-auth/supabase"
	"github.com/redis/go-redis/v9"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := auth.NewSlogLogger(newSlog(cfg.Log))
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
}

func newSlog(cfg config.Log) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

type closer func() error

func run(ctx context.Context, cfg *config.Config, logger *auth.SlogLogger) error {
	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close failed", "error", err)
			}
		}
	}()

	localCache, closeCache, err := openCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	closers = append(closers, closeCache)

	client := supabase.New(supabase.Config{
		URL:             cfg.Supabase.URL,
		AnonKey:         cfg.Supabase.AnonKey,
		Storage:         localCache,
		RefreshSchedule: cfg.Supabase.RefreshSchedule,
		RefreshMargin:   cfg.Supabase.RefreshMargin,
		HTTPClient:      &http.Client{Timeout: cfg.Supabase.Timeout},
		Logger:          logger.GetLogger("supabase"),
	})
	if err := client.StartAutoRefresh(); err != nil {
		return fmt.Errorf("start token refresh: %w", err)
	}
	closers = append(closers, func() error {
		client.StopAutoRefresh()
		return nil
	})

	profiles, closeProfiles, err := openProfiles(ctx, cfg, client)
	if err != nil {
		return err
	}
	closers = append(closers, closeProfiles)

	session := auth.New(client, profiles, localCache,
		auth.WithLoggerProvider(logger),
		auth.WithActivitySink(activitymap.NewLogSink(logger.GetLogger("activity"))),
		auth.WithHandlerOptions(
			auth.WithCallbackURL(cfg.Auth.CallbackURL),
			auth.WithCooldown(cfg.Auth.Cooldown),
		),
		auth.WithMagicLinkOptions(
			auth.WithMagicLinkDelay(cfg.Auth.MagicLinkDelay),
			auth.WithScrubOnError(cfg.Auth.ScrubOnError),
		),
	)
	defer session.Close()

	if user := session.Init(ctx); user != nil {
		logger.Info("session restored", "user_id", user.ID, "plan", user.Plan, "route", auth.RouteForPlan(user.Plan))
	}

	opts := []httpapi.Option{
		httpapi.WithLogger(logger.GetLogger("httpapi")),
		httpapi.WithAppURL(cfg.HTTP.AppURL),
		httpapi.WithCORSOrigins(cfg.HTTP.CORSOrigins...),
	}
	if counter, ok := profiles.(httpapi.PlanCounter); ok {
		opts = append(opts, httpapi.WithPlanStats(counter))
	}
	if cfg.Scoring.URL != "" {
		opts = append(opts, httpapi.WithScorer(scoring.New(scoring.Config{
			URL:        cfg.Scoring.URL,
			APIKey:     cfg.Scoring.APIKey,
			HTTPClient: &http.Client{Timeout: cfg.Scoring.Timeout},
		})))
	}
	if strings.EqualFold(cfg.Log.Level, "debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.New(session, opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("received interruption signal, shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func openCache(ctx context.Context, cfg config.Cache) (auth.LocalCache, closer, error) {
	switch cfg.Backend {
	case config.CacheSQLite:
		c, err := cache.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	case config.CacheRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		c := cache.NewRedis(rdb, cache.WithRedisPrefix(cfg.RedisPrefix), cache.WithRedisTTL(cfg.RedisTTL))
		return c, rdb.Close, nil
	default:
		return cache.NewMemory(), func() error { return nil }, nil
	}
}

func openProfiles(ctx context.Context, cfg *config.Config, client *supabase.Client) (auth.ProfileStore, closer, error) {
	switch cfg.Profiles.Backend {
	case config.ProfilesBun:
		manager, err := repository.Open(ctx, repository.Dialect(cfg.Profiles.Dialect), cfg.Profiles.DSN)
		if err != nil {
			return nil, nil, err
		}
		manager.MustValidate()
		return manager.Profiles(), manager.Close, nil
	case config.ProfilesSQL:
		repo, db, err := repository.OpenSQLProfiles(ctx, cfg.Profiles.DSN)
		if err != nil {
			return nil, nil, err
		}
		return repo, db.Close, nil
	default:
		store := supabase.NewProfileStore(supabase.Config{
			URL:        cfg.Supabase.URL,
			AnonKey:    cfg.Supabase.AnonKey,
			HTTPClient: &http.Client{Timeout: cfg.Supabase.Timeout},
		}, supabase.WithTokenSource(client))
		return store, func() error { return nil }, nil
	}
}
