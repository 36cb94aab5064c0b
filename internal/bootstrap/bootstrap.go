// Package bootstrap opens the shared infrastructure every binary needs.
package bootstrap

import (
	"context"
	"fmt"

	"ms-eventchain/internal/config"
	"ms-eventchain/internal/database"
	"ms-eventchain/internal/database/migrations"
	"ms-eventchain/internal/kafka"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/notify"

	"github.com/go-redis/redis/v8"
	"github.com/uptrace/bun"
)

type Infra struct {
	DB       *bun.DB
	Redis    *redis.Client
	Producer *kafka.Producer
	log      *logger.Logger
}

// Open connects PostgreSQL and Redis, applies migrations when configured,
// and starts the Kafka producer when Kafka is enabled.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Infra, error) {
	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB.DB, migrations.Options{MigrationsDir: cfg.Database.MigrationsDir}, log)
		if err := runner.MigrateUp(); err != nil {
			bunDB.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		bunDB.Close()
		return nil, fmt.Errorf("redis connection error: %w", err)
	}
	log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, cfg.Redis.DB))

	infra := &Infra{DB: bunDB, Redis: redisClient, log: log}
	if cfg.Kafka.Enabled {
		infra.Producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, log)
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		log.Info("KAFKA", "Kafka producer initialized")
	} else {
		log.Warn("KAFKA", "Kafka disabled, domain events stay in-process")
	}
	return infra, nil
}

// Publishers returns the sinks every service publishes to, plus extra.
func (i *Infra) Publishers(extra ...notify.Publisher) notify.Fanout {
	var out notify.Fanout
	if i.Producer != nil {
		out = append(out, i.Producer)
	}
	return append(out, extra...)
}

func (i *Infra) Close() {
	if i.Producer != nil {
		if err := i.Producer.Close(); err != nil {
			i.log.Warn("KAFKA", fmt.Sprintf("Producer close: %v", err))
		}
	}
	i.Redis.Close()
	i.DB.Close()
}
