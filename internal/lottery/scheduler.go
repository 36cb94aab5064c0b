package lottery

import (
	"context"
	"fmt"
	"time"

	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/models"
)

type DueLister interface {
	ListDueForLottery(ctx context.Context, now time.Time, limit int) ([]models.Event, error)
}

// Scheduler triggers draws for open events whose deadline has passed.
type Scheduler struct {
	Lottery  *Service
	Due      DueLister
	Interval time.Duration
	Batch    int
}

func NewScheduler(svc *Service, due DueLister, interval time.Duration) *Scheduler {
	return &Scheduler{Lottery: svc, Due: due, Interval: interval, Batch: 50}
}

func (s *Scheduler) Run(ctx context.Context) error {
	log := s.Lottery.Logger
	log.Info("LOTTERY", fmt.Sprintf("Scheduler started (interval %s)", s.Interval))

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			log.Info("LOTTERY", "Scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce draws every due event and returns how many draws this instance won.
// Draws lost to another instance are not errors.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	log := s.Lottery.Logger
	due, err := s.Due.ListDueForLottery(ctx, s.Lottery.Clock.Now(), s.Batch)
	if err != nil {
		log.Error("LOTTERY", fmt.Sprintf("Failed to list due events: %v", err))
		return 0
	}

	drawn := 0
	for _, event := range due {
		if ctx.Err() != nil {
			break
		}
		_, err := s.Lottery.Trigger(ctx, models.SystemActor, event.ID, false)
		switch {
		case err == nil:
			drawn++
		case apperr.KindOf(err) == apperr.KindAlreadyTriggered:
			log.Debug("LOTTERY", fmt.Sprintf("Event %s already drawn elsewhere", event.ID))
		default:
			log.Error("LOTTERY", fmt.Sprintf("Scheduled draw for %s failed: %v", event.ID, err))
		}
	}
	return drawn
}
