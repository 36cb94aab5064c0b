package applications

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	appdb "ms-eventchain/internal/applications/db"
	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/clock"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/notify"
	"ms-eventchain/internal/utils"
)

type DBLayer interface {
	InsertIfOpen(ctx context.Context, app *models.Application) (bool, error)
	GetApplication(ctx context.Context, id string) (*models.Application, error)
	ListByEvent(ctx context.Context, eventID string) ([]models.Application, error)
	ListByUser(ctx context.Context, userID string) ([]models.Application, error)
	TransitionStatus(ctx context.Context, id string, from, to models.ApplicationStatus, at time.Time) (bool, error)
}

type EventReader interface {
	Get(ctx context.Context, id string) (*models.Event, error)
}

type Service struct {
	DB        DBLayer
	Events    EventReader
	Clock     clock.Clock
	Publisher notify.Publisher
	Logger    *logger.Logger
}

func NewService(db DBLayer, events EventReader, clk clock.Clock, pub notify.Publisher, log *logger.Logger) *Service {
	return &Service{DB: db, Events: events, Clock: clk, Publisher: pub, Logger: log}
}

// Apply registers actor for an open event. One application per user and event.
func (s *Service) Apply(ctx context.Context, actor models.Actor, eventID string) (*models.Application, error) {
	if actor.UserID == "" {
		return nil, apperr.Unauthorized("authentication required")
	}

	event, err := s.Events.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status != models.EventOpen {
		return nil, apperr.InvalidState("event is not open for applications")
	}

	now := s.Clock.Now()
	app := &models.Application{
		ID:        utils.NewID(),
		UserID:    actor.UserID,
		EventID:   eventID,
		Status:    models.ApplicationApplied,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := s.DB.InsertIfOpen(ctx, app)
	switch {
	case errors.Is(err, appdb.ErrEventNotOpen):
		return nil, apperr.InvalidState("event is not open for applications")
	case errors.Is(err, sql.ErrNoRows):
		return nil, apperr.NotFound("event %s not found", eventID)
	case err != nil:
		return nil, err
	}
	if !created {
		return nil, apperr.Conflict("already applied to this event")
	}

	s.Logger.Info("APPLICATION", fmt.Sprintf("User %s applied to event %s (%s)", actor.UserID, eventID, app.ID))
	s.publish(ctx, models.DomainEvent{
		Type:          models.TypeApplicationCreated,
		EventID:       eventID,
		ApplicationID: app.ID,
		UserID:        actor.UserID,
		Status:        string(app.Status),
		OccurredAt:    now,
	})
	return app, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Application, error) {
	app, err := s.DB.GetApplication(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("application %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get application %s: %w", id, err)
	}
	return app, nil
}

// ListByEvent exposes every applicant of an event, so it is admin only.
func (s *Service) ListByEvent(ctx context.Context, actor models.Actor, eventID string) ([]models.Application, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("administrator role required")
	}
	if _, err := s.Events.Get(ctx, eventID); err != nil {
		return nil, err
	}
	apps, err := s.DB.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return nonNil(apps), nil
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]models.Application, error) {
	apps, err := s.DB.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return nonNil(apps), nil
}

// Reject is the administrative APPLIED -> REJECTED transition.
func (s *Service) Reject(ctx context.Context, actor models.Actor, id string) (*models.Application, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("administrator role required")
	}

	app, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.Status != models.ApplicationApplied {
		return nil, apperr.InvalidState("only applied applications can be rejected")
	}

	now := s.Clock.Now()
	ok, err := s.DB.TransitionStatus(ctx, id, models.ApplicationApplied, models.ApplicationRejected, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidState("application changed state concurrently")
	}

	app.Status = models.ApplicationRejected
	app.UpdatedAt = now
	s.Logger.Info("APPLICATION", fmt.Sprintf("Application %s rejected by %s", id, actor.UserID))
	s.publish(ctx, models.DomainEvent{
		Type:          models.TypeApplicationRejected,
		EventID:       app.EventID,
		ApplicationID: id,
		UserID:        app.UserID,
		Status:        string(app.Status),
		OccurredAt:    now,
	})
	return app, nil
}

func (s *Service) publish(ctx context.Context, evt models.DomainEvent) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(ctx, evt); err != nil {
		s.Logger.Warn("APPLICATION", fmt.Sprintf("Failed to publish %s: %v", evt.Type, err))
	}
}

func nonNil(apps []models.Application) []models.Application {
	if apps == nil {
		return []models.Application{}
	}
	return apps
}
