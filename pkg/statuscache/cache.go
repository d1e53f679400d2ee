// Package statuscache keeps the latest reconciled status snapshot in Redis so
// a restarting instance can seed its graph before the first reconciliation
// pass completes.
package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "cadence:status:"
	defaultTTL = 10 * time.Minute
)

// Cache is a Redis-backed snapshot store. The snapshot is advisory: a cold
// cache only means the graph starts from persisted definitions until the
// reconciler's first pass.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, addr, password string, db int, logger *slog.Logger) (*Cache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.With("module", "status_cache").InfoContext(ctx, "Connected to Redis", "addr", addr, "db", db)

	return &Cache{
		client: client,
		ttl:    defaultTTL,
		logger: logger.With("module", "status_cache"),
	}, nil
}

// StoreReports writes one entry per report, each with the snapshot TTL.
func (c *Cache) StoreReports(ctx context.Context, reports []models.StatusReport) error {
	pipe := c.client.Pipeline()

	for _, report := range reports {
		if report.Code == "" {
			continue
		}

		payload, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("failed to encode status report for %s: %w", report.Code, err)
		}

		pipe.Set(ctx, keyPrefix+report.Code, payload, c.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store status snapshot: %w", err)
	}

	return nil
}

// Report fetches the cached report for one code, nil when absent or expired.
func (c *Cache) Report(ctx context.Context, code string) (*models.StatusReport, error) {
	raw, err := c.client.Get(ctx, keyPrefix+code).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read cached status for %s: %w", code, err)
	}

	var report models.StatusReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("failed to decode cached status for %s: %w", code, err)
	}

	return &report, nil
}

// Seed applies every cached report found for the given codes to the graph
// applier. Missing entries are skipped silently.
func (c *Cache) Seed(ctx context.Context, codes []string, apply func(models.StatusReport) bool) error {
	for _, code := range codes {
		report, err := c.Report(ctx, code)
		if err != nil {
			return err
		}

		if report != nil {
			apply(*report)
		}
	}

	return nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
