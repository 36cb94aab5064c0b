// Command worker drains the mint queue, draws due lotteries and keeps
// dashboards current from the domain event stream.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"ms-eventchain/internal/analytics"
	"ms-eventchain/internal/bootstrap"
	"ms-eventchain/internal/clock"
	"ms-eventchain/internal/config"
	"ms-eventchain/internal/events"
	eventdb "ms-eventchain/internal/events/db"
	"ms-eventchain/internal/kafka"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/lottery"
	lotterydb "ms-eventchain/internal/lottery/db"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/notify"
	"ms-eventchain/internal/sse"
	"ms-eventchain/internal/tickets"
	ticketdb "ms-eventchain/internal/tickets/db"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	log := logger.NewLogger()
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("WORKER", fmt.Sprintf("Startup failed: %v", err))
	}
	defer infra.Close()

	clk := clock.NewSystem()
	// The worker has no dashboard clients; the relay only publishes.
	relay := sse.NewRedisRelay(infra.Redis, "", sse.NewHub(), log)

	analyticsService := analytics.NewService(analytics.NewDB(infra.DB), nil, relay, clk, log)
	var publisher notify.Publisher = infra.Publishers()
	if !cfg.Kafka.Enabled {
		publisher = infra.Publishers(analyticsService)
	}
	eventService := events.NewService(&eventdb.DB{Bun: infra.DB}, clk, publisher, log)
	analyticsService.Events = eventService

	issuer := tickets.NewIssuer(&ticketdb.DB{Bun: infra.DB}, bootstrap.NewChain(cfg, infra.Redis, log), clk, publisher, log, tickets.IssuerConfig{
		MaxAttempts:     cfg.Minting.MaxAttempts,
		InitialInterval: cfg.Minting.InitialInterval,
		MaxInterval:     cfg.Minting.MaxInterval,
		Lease:           cfg.Minting.Lease,
		PollInterval:    cfg.Minting.PollInterval,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return issuer.Run(ctx, cfg.Minting.Workers) })

	if cfg.Lottery.SchedulerEnabled {
		lotteryService := lottery.NewService(&lotterydb.DB{Bun: infra.DB}, eventService, lottery.UniformPolicy{}, clk, publisher, log)
		scheduler := lottery.NewScheduler(lotteryService, &eventdb.DB{Bun: infra.DB}, cfg.Lottery.SchedulerInterval)
		g.Go(func() error { return scheduler.Run(ctx) })
	}

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), cfg.Kafka.GroupID, log)
		g.Go(func() error {
			defer consumer.Close()
			return consumer.Start(ctx, func(ctx context.Context, evt models.DomainEvent) error {
				if evt.Type == models.TypePaymentConfirmed {
					issuer.Wake()
				}
				return analyticsService.Publish(ctx, evt)
			})
		})
	}

	log.Info("WORKER", "Worker started, waiting for shutdown signal")
	if err := g.Wait(); err != nil {
		log.Error("WORKER", fmt.Sprintf("Worker stopped with error: %v", err))
		return
	}
	log.Info("WORKER", "Worker shutdown complete")
}
