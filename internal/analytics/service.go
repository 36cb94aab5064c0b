// Package analytics derives per-event lifecycle rollups and pushes them to
// dashboards whenever a transition lands.
package analytics

import (
	"context"
	"fmt"
	"sync"

	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/clock"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/sse"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const maxBatch = 50

type Store interface {
	GetCounts(ctx context.Context, eventID string) (*Counts, error)
	GetDailyRevenue(ctx context.Context, eventID string) ([]models.DailyRevenue, error)
}

type EventReader interface {
	Get(ctx context.Context, id string) (*models.Event, error)
}

type Service struct {
	DB       Store
	Events   EventReader
	Realtime sse.Broadcaster
	Clock    clock.Clock
	Logger   *logger.Logger

	reads singleflight.Group

	mu sync.Mutex
	// running holds events with a refresh in flight; true means another
	// transition landed meanwhile and the snapshot must be recomputed.
	running map[string]bool
}

func NewService(store Store, events EventReader, rt sse.Broadcaster, clk clock.Clock, log *logger.Logger) *Service {
	return &Service{DB: store, Events: events, Realtime: rt, Clock: clk, Logger: log, running: make(map[string]bool)}
}

// GetEventAnalytics returns a fresh snapshot for eventID.
func (s *Service) GetEventAnalytics(ctx context.Context, actor models.Actor, eventID string) (*models.EventAnalytics, error) {
	if !actor.IsStaff() {
		return nil, apperr.Forbidden("staff role required")
	}
	if _, err := s.Events.Get(ctx, eventID); err != nil {
		return nil, err
	}
	// Concurrent dashboard reads of one event share a computation.
	v, err, _ := s.reads.Do(eventID, func() (any, error) {
		return s.compute(ctx, eventID)
	})
	if err != nil {
		return nil, err
	}
	snap := *v.(*models.EventAnalytics)
	return &snap, nil
}

// GetBatchEventAnalytics returns one snapshot per requested event, in order.
func (s *Service) GetBatchEventAnalytics(ctx context.Context, actor models.Actor, eventIDs []string) ([]models.EventAnalytics, error) {
	if !actor.IsStaff() {
		return nil, apperr.Forbidden("staff role required")
	}
	if len(eventIDs) == 0 {
		return []models.EventAnalytics{}, nil
	}
	if len(eventIDs) > maxBatch {
		return nil, apperr.Validation("at most %d events per batch", maxBatch)
	}

	out := make([]models.EventAnalytics, 0, len(eventIDs))
	for _, id := range eventIDs {
		if _, err := s.Events.Get(ctx, id); err != nil {
			return nil, err
		}
		snap, err := s.compute(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, nil
}

// Refresh recomputes eventID and pushes the snapshot on the analytics topic.
// While a refresh of the same event is in flight, further calls only flag it
// dirty and return; the running refresh then computes once more, so the last
// snapshot pushed always reads state after the last requested refresh.
func (s *Service) Refresh(ctx context.Context, eventID string) error {
	s.mu.Lock()
	if _, busy := s.running[eventID]; busy {
		s.running[eventID] = true
		s.mu.Unlock()
		return nil
	}
	s.running[eventID] = false
	s.mu.Unlock()

	for {
		err := s.push(ctx, eventID)

		s.mu.Lock()
		if !s.running[eventID] {
			delete(s.running, eventID)
			s.mu.Unlock()
			return err
		}
		s.running[eventID] = false
		s.mu.Unlock()

		if err != nil {
			s.Logger.Warn("ANALYTICS", fmt.Sprintf("Refresh for %s failed, retrying for a newer transition: %v", eventID, err))
		}
		// Follow-up runs belong to other callers, not to ctx's owner.
		ctx = context.WithoutCancel(ctx)
	}
}

func (s *Service) push(ctx context.Context, eventID string) error {
	snap, err := s.compute(ctx, eventID)
	if err != nil {
		return err
	}
	if s.Realtime == nil {
		return nil
	}
	if err := s.Realtime.Broadcast(ctx, eventID, sse.TopicAnalytics, snap); err != nil {
		return fmt.Errorf("push analytics for %s: %w", eventID, err)
	}
	return nil
}

// Publish lets the aggregator sit in a notify.Fanout: every transition
// refreshes its event.
func (s *Service) Publish(ctx context.Context, evt models.DomainEvent) error {
	if evt.EventID == "" {
		return nil
	}
	if err := s.Refresh(ctx, evt.EventID); err != nil {
		s.Logger.Warn("ANALYTICS", fmt.Sprintf("Refresh after %s failed for %s: %v", evt.Type, evt.EventID, err))
		return err
	}
	return nil
}

func (s *Service) compute(ctx context.Context, eventID string) (*models.EventAnalytics, error) {
	counts, err := s.DB.GetCounts(ctx, eventID)
	if err != nil {
		return nil, err
	}
	daily, err := s.DB.GetDailyRevenue(ctx, eventID)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, n := range counts.ByStatus {
		total += n
	}
	selected := counts.ByStatus[models.ApplicationSelected]
	paid := counts.ByStatus[models.ApplicationPaid]

	return &models.EventAnalytics{
		EventID:           eventID,
		Applicants:        total,
		Selected:          selected,
		Waitlisted:        counts.ByStatus[models.ApplicationWaitlisted],
		Paid:              paid,
		Rejected:          counts.ByStatus[models.ApplicationRejected],
		Minted:            counts.Minted,
		CheckedIn:         counts.CheckedIn,
		Certificates:      counts.Certificates,
		Revenue:           counts.Revenue,
		PaymentPercentage: percentage(paid, selected+paid),
		NoShowRate:        percentage(counts.Minted-counts.CheckedIn, counts.Minted),
		DailyRevenue:      daily,
		GeneratedAt:       s.Clock.Now(),
	}, nil
}

// percentage is part*100/whole rounded to two decimals, 0 when whole is 0.
func percentage(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	pct, _ := decimal.NewFromInt(int64(part)).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(int64(whole)), 2).
		Float64()
	return pct
}
