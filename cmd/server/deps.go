package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/web3-frozen/onchain-alerts/internal/analytics"
	"github.com/web3-frozen/onchain-alerts/internal/config"
	"github.com/web3-frozen/onchain-alerts/internal/dedup"
	"github.com/web3-frozen/onchain-alerts/internal/store"
)

func openStore(ctx context.Context, cfg config.Config) (*store.Store, error) {
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// connectRedis retries for up to 30s while the password secret syncs.
func connectRedis(cfg config.Config, logger *slog.Logger) (*redis.Client, error) {
	var (
		rdb *redis.Client
		err error
	)
	for i := 0; i < 6; i++ {
		rdb, err = dedup.Connect(cfg.RedisURL, cfg.RedisPassword)
		if err == nil {
			return rdb, nil
		}
		logger.Warn("redis not ready, retrying...", "attempt", i+1, "error", err)
		time.Sleep(5 * time.Second)
	}
	return nil, fmt.Errorf("connect redis after retries: %w", err)
}

func newAnalytics(cfg config.Config) *analytics.Client {
	return analytics.New(analytics.Options{
		BaseURL: cfg.AnalyticsBaseURL,
		APIKey:  cfg.AnalyticsAPIKey,
		Timeout: cfg.AnalyticsTimeout,
		RPS:     cfg.AnalyticsRPS,
	})
}
