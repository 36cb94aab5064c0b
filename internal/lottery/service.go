// Package lottery runs the one-time admission draw for an event.
package lottery

import (
	"context"
	"fmt"
	"time"

	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/clock"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/lottery/db"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/monitoring"
	"ms-eventchain/internal/notify"
)

type DBLayer interface {
	RunDraw(ctx context.Context, eventID string, at time.Time, allocate db.AllocateFunc) ([]models.Allocation, bool, error)
}

type EventReader interface {
	Get(ctx context.Context, id string) (*models.Event, error)
}

type Service struct {
	DB        DBLayer
	Events    EventReader
	Policy    SelectionPolicy
	Clock     clock.Clock
	Publisher notify.Publisher
	Logger    *logger.Logger
}

func NewService(store DBLayer, events EventReader, policy SelectionPolicy, clk clock.Clock, pub notify.Publisher, log *logger.Logger) *Service {
	if policy == nil {
		policy = UniformPolicy{}
	}
	return &Service{DB: store, Events: events, Policy: policy, Clock: clk, Publisher: pub, Logger: log}
}

// Trigger draws the lottery for eventID. force skips the deadline guard but
// never the OPEN requirement. Only one caller per event can win the draw;
// everyone else gets AlreadyTriggered.
func (s *Service) Trigger(ctx context.Context, actor models.Actor, eventID string, force bool) (*models.DrawResult, error) {
	if !actor.IsAdmin() {
		monitoring.LotteryDraw("forbidden")
		return nil, apperr.Forbidden("administrator role required")
	}

	event, err := s.Events.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.checkDrawable(event, force); err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	allocs, won, err := s.DB.RunDraw(ctx, eventID, now, func(applied []models.Application) ([]models.Allocation, error) {
		order, err := s.Policy.Order(len(applied))
		if err != nil {
			return nil, err
		}
		return allocate(applied, order, event.MaxSeats)
	})
	if err != nil {
		monitoring.LotteryDraw("error")
		return nil, fmt.Errorf("draw lottery for event %s: %w", eventID, err)
	}
	if !won {
		// Lost the CAS. Re-read so a concurrent close and a concurrent draw
		// are reported the same way as a sequential retry.
		current, err := s.Events.Get(ctx, eventID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.EventClosed {
			monitoring.LotteryDraw("already_triggered")
			return nil, apperr.AlreadyTriggered(eventID)
		}
		return nil, apperr.InvalidState("event is not open")
	}

	result := &models.DrawResult{EventID: eventID, Forced: force, DrawnAt: now}
	for _, a := range allocs {
		if a.Status == models.ApplicationSelected {
			result.Selected++
		} else {
			result.Waitlisted++
		}
	}

	monitoring.LotteryDraw("drawn")
	monitoring.LotteryAllocated(result.Selected, result.Waitlisted)
	s.Logger.LogLottery(eventID, fmt.Sprintf("Draw by %s: %d selected, %d waitlisted (seats %d, forced %t)",
		actor.UserID, result.Selected, result.Waitlisted, event.MaxSeats, force))

	for _, a := range allocs {
		s.publish(ctx, models.DomainEvent{
			Type:          models.TypeApplicationAllocated,
			EventID:       eventID,
			ApplicationID: a.ApplicationID,
			UserID:        a.UserID,
			Status:        string(a.Status),
			OccurredAt:    now,
		})
	}
	s.publish(ctx, models.DomainEvent{Type: models.TypeEventClosed, EventID: eventID, Detail: "lottery", OccurredAt: now})

	return result, nil
}

func (s *Service) checkDrawable(event *models.Event, force bool) error {
	switch event.Status {
	case models.EventClosed:
		monitoring.LotteryDraw("already_triggered")
		return apperr.AlreadyTriggered(event.ID)
	case models.EventOpen:
	default:
		monitoring.LotteryDraw("invalid_state")
		return apperr.InvalidState("event is not open")
	}
	if !force && s.Clock.Now().Before(event.LotteryDeadline) {
		monitoring.LotteryDraw("before_deadline")
		return apperr.InvalidState("lottery deadline has not passed")
	}
	return nil
}

func (s *Service) publish(ctx context.Context, evt models.DomainEvent) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(ctx, evt); err != nil {
		s.Logger.Warn("LOTTERY", fmt.Sprintf("Failed to publish %s for %s: %v", evt.Type, evt.Key(), err))
	}
}
