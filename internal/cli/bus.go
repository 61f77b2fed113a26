package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/tinystate/internal/config"
	"github.com/aretw0/tinystate/pkg/adapters/memory"
	"github.com/aretw0/tinystate/pkg/adapters/redis"
	"github.com/aretw0/tinystate/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// NewBus returns the Redis bus when cfg.Addr is set and the in-memory bus
// otherwise. The returned close function releases the underlying resources.
func NewBus(ctx context.Context, cfg config.Redis, logger *slog.Logger) (ports.Bus, func() error, error) {
	if cfg.Addr == "" {
		bus := memory.NewBus(memory.WithLogger(logger))
		return bus, bus.Close, nil
	}

	client := backend.NewClient(&backend.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	logger.Info("Using Redis bus", "addr", cfg.Addr, "prefix", cfg.ChannelPrefix)
	bus := redis.New(client, redis.WithChannelPrefix(cfg.ChannelPrefix), redis.WithLogger(logger))
	return bus, client.Close, nil
}
