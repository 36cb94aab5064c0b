package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-eventchain/internal/clock"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/minting"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/monitoring"
	"ms-eventchain/internal/notify"
	ticketdb "ms-eventchain/internal/tickets/db"
	"ms-eventchain/internal/utils"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

type JobQueue interface {
	ClaimNextJob(ctx context.Context, now time.Time, lease time.Duration) (*models.MintJob, error)
	RecordAttempt(ctx context.Context, applicationID, lastErr string, now time.Time, lease time.Duration) error
	CompleteJob(ctx context.Context, ticket *models.Ticket, now time.Time) (*models.Ticket, error)
	FailJob(ctx context.Context, applicationID, lastErr string, now time.Time) error
	ReleaseJob(ctx context.Context, applicationID string, nextAttempt, now time.Time) error
	CountJobsByStatus(ctx context.Context) (map[models.MintJobStatus]int, error)
}

type IssuerConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Lease           time.Duration
	PollInterval    time.Duration
}

// Issuer drains the mint queue. Each claimed job is minted with bounded
// exponential backoff; exhausted or permanent failures go to the operator
// queue as FAILED jobs.
type Issuer struct {
	Jobs      JobQueue
	Minter    minting.Minter
	Clock     clock.Clock
	Publisher notify.Publisher
	Logger    *logger.Logger
	Config    IssuerConfig

	wake chan struct{}
}

func NewIssuer(jobs JobQueue, minter minting.Minter, clk clock.Clock, pub notify.Publisher, log *logger.Logger, cfg IssuerConfig) *Issuer {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Issuer{
		Jobs:      jobs,
		Minter:    minter,
		Clock:     clk,
		Publisher: pub,
		Logger:    log,
		Config:    cfg,
		wake:      make(chan struct{}, 1),
	}
}

// Wake nudges idle workers, e.g. after a payment confirmation was observed.
func (i *Issuer) Wake() {
	select {
	case i.wake <- struct{}{}:
	default:
	}
}

// Run starts workers goroutines and blocks until ctx is done.
func (i *Issuer) Run(ctx context.Context, workers int) error {
	if workers < 1 {
		workers = 1
	}
	i.Logger.Info("MINT", fmt.Sprintf("Mint issuer started with %d workers", workers))

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			i.loop(ctx)
			return nil
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(i.Config.PollInterval)
		defer ticker.Stop()
		for {
			i.reportDepth(ctx)
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	err := g.Wait()
	i.Logger.Info("MINT", "Mint issuer stopped")
	return err
}

func (i *Issuer) loop(ctx context.Context) {
	for ctx.Err() == nil {
		worked, err := i.ProcessNext(ctx)
		if err != nil && ctx.Err() == nil {
			i.Logger.Error("MINT", fmt.Sprintf("Mint worker error: %v", err))
		}
		if worked {
			continue
		}
		select {
		case <-ctx.Done():
		case <-i.wake:
		case <-time.After(i.Config.PollInterval):
		}
	}
}

// ProcessNext handles at most one job and reports whether it found one.
func (i *Issuer) ProcessNext(ctx context.Context) (bool, error) {
	job, err := i.Jobs.ClaimNextJob(ctx, i.Clock.Now(), i.Config.Lease)
	if err != nil || job == nil {
		return false, err
	}
	return true, i.process(ctx, job)
}

func (i *Issuer) process(ctx context.Context, job *models.MintJob) error {
	start := time.Now()
	defer func() { monitoring.MintDuration(time.Since(start)) }()

	remaining := i.Config.MaxAttempts - job.Attempts
	if remaining <= 0 {
		return i.fail(ctx, job, fmt.Errorf("attempt budget exhausted (%d attempts)", job.Attempts))
	}

	i.Logger.LogMint(job.ApplicationID, fmt.Sprintf("Minting (attempt budget %d)", remaining))
	req := models.MintRequest{ApplicationID: job.ApplicationID, EventID: job.EventID, UserID: job.UserID}

	var result *models.MintResult
	op := func() error {
		res, err := i.Minter.Mint(ctx, req)
		lastErr := ""
		if err != nil {
			lastErr = err.Error()
		}
		if recErr := i.Jobs.RecordAttempt(context.WithoutCancel(ctx), job.ApplicationID, lastErr, i.Clock.Now(), i.Config.Lease); recErr != nil {
			i.Logger.Warn("MINT", recErr.Error())
		}

		switch {
		case err == nil:
			monitoring.MintAttempt("success")
			result = res
			return nil
		case minting.IsPermanent(err):
			monitoring.MintAttempt("permanent")
			return backoff.Permanent(err)
		default:
			monitoring.MintAttempt("transient")
			i.Logger.Warn("MINT", fmt.Sprintf("[%s] transient mint failure: %v", job.ApplicationID, err))
			return err
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = i.Config.InitialInterval
	b.MaxInterval = i.Config.MaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(remaining-1)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		if ctx.Err() != nil {
			// Shutdown: hand the job back instead of burning it.
			now := i.Clock.Now()
			if relErr := i.Jobs.ReleaseJob(context.WithoutCancel(ctx), job.ApplicationID, now, now); relErr != nil {
				i.Logger.Warn("MINT", relErr.Error())
			}
			return ctx.Err()
		}
		return i.fail(ctx, job, err)
	}

	now := i.Clock.Now()
	ticket, err := i.Jobs.CompleteJob(ctx, &models.Ticket{
		ID:              utils.NewID(),
		ApplicationID:   job.ApplicationID,
		EventID:         job.EventID,
		OwnerID:         job.UserID,
		TokenID:         result.TokenID,
		TransactionHash: result.TransactionHash,
		IssuedAt:        now,
	}, now)
	if errors.Is(err, ticketdb.ErrTokenTaken) {
		return i.fail(ctx, job, fmt.Errorf("token %d: %w", result.TokenID, err))
	}
	if err != nil {
		return err
	}

	i.Logger.LogMint(job.ApplicationID, fmt.Sprintf("Ticket %s bound to token %d", ticket.ID, ticket.TokenID))
	i.publish(ctx, models.DomainEvent{
		Type:          models.TypeTicketMinted,
		EventID:       ticket.EventID,
		ApplicationID: ticket.ApplicationID,
		TicketID:      ticket.ID,
		UserID:        ticket.OwnerID,
		TokenID:       ticket.TokenID,
		OccurredAt:    now,
	})
	return nil
}

func (i *Issuer) fail(ctx context.Context, job *models.MintJob, cause error) error {
	now := i.Clock.Now()
	if err := i.Jobs.FailJob(ctx, job.ApplicationID, cause.Error(), now); err != nil {
		return err
	}
	monitoring.MintAttempt("dead_letter")
	i.Logger.Error("MINT", fmt.Sprintf("[%s] moved to operator queue: %v", job.ApplicationID, cause))
	i.publish(ctx, models.DomainEvent{
		Type:          models.TypeMintFailed,
		EventID:       job.EventID,
		ApplicationID: job.ApplicationID,
		UserID:        job.UserID,
		Status:        string(models.MintFailed),
		Detail:        cause.Error(),
		OccurredAt:    now,
	})
	return nil
}

func (i *Issuer) reportDepth(ctx context.Context) {
	counts, err := i.Jobs.CountJobsByStatus(ctx)
	if err != nil {
		if ctx.Err() == nil {
			i.Logger.Warn("MINT", err.Error())
		}
		return
	}
	for _, s := range []models.MintJobStatus{models.MintPending, models.MintRunning, models.MintSucceeded, models.MintFailed} {
		monitoring.MintQueueDepth(string(s), counts[s])
	}
}

func (i *Issuer) publish(ctx context.Context, evt models.DomainEvent) {
	if i.Publisher == nil {
		return
	}
	if err := i.Publisher.Publish(ctx, evt); err != nil {
		i.Logger.Warn("MINT", fmt.Sprintf("Failed to publish %s for %s: %v", evt.Type, evt.ApplicationID, err))
	}
}
