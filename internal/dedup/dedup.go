package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect opens a Redis client from a redis:// URL and verifies it with PING.
// The client is shared by the delivery ledger and the chat session store.
func Connect(redisURL, password string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Ledger records which alerts were delivered within the cooldown window. It
// backs up the repository's last-triggered timestamp: if that write fails
// after a successful send, the ledger still suppresses the repeat.
//
// Redis errors fail open. A ledger outage must never block notifications;
// the repository cooldown remains the primary gate.
type Ledger struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func New(rdb *redis.Client, logger *slog.Logger) *Ledger {
	return &Ledger{rdb: rdb, logger: logger}
}

func key(alertID int64) string {
	return fmt.Sprintf("alert:%d:sent", alertID)
}

// Recent reports whether alertID was recorded and the record has not expired.
func (l *Ledger) Recent(ctx context.Context, alertID int64) bool {
	n, err := l.rdb.Exists(ctx, key(alertID)).Result()
	if err != nil {
		l.logger.Warn("dedup lookup failed, allowing send", "alert_id", alertID, "error", err)
		return false
	}
	return n > 0
}

// Record marks alertID as delivered for ttl. A non-positive ttl records
// nothing, since Redis would keep such a key forever.
func (l *Ledger) Record(ctx context.Context, alertID int64, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := l.rdb.Set(ctx, key(alertID), time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		l.logger.Warn("dedup record failed", "alert_id", alertID, "error", err)
	}
}

// Clear removes the record so a resumed or recreated alert may fire at once.
func (l *Ledger) Clear(ctx context.Context, alertID int64) {
	l.rdb.Del(ctx, key(alertID)) //nolint:errcheck
}
