// Package announcements posts staff notices, either to every visitor or to
// the audience of one event.
package announcements

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/clock"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/notify"
	"ms-eventchain/internal/sse"
	"ms-eventchain/internal/utils"

	"github.com/go-playground/validator/v10"
)

const feedLimit = 100

type DBLayer interface {
	CreateAnnouncement(ctx context.Context, a *models.Announcement) error
	ListAnnouncements(ctx context.Context, eventID string, limit int) ([]models.Announcement, error)
}

type EventReader interface {
	Get(ctx context.Context, id string) (*models.Event, error)
}

type Service struct {
	DB        DBLayer
	Events    EventReader
	Clock     clock.Clock
	Publisher notify.Publisher
	Realtime  sse.Broadcaster
	Logger    *logger.Logger
	validate  *validator.Validate
}

func NewService(db DBLayer, events EventReader, clk clock.Clock, pub notify.Publisher, rt sse.Broadcaster, log *logger.Logger) *Service {
	return &Service{
		DB:        db,
		Events:    events,
		Clock:     clk,
		Publisher: pub,
		Realtime:  rt,
		Logger:    log,
		validate:  validator.New(),
	}
}

// Create posts an announcement. Staff only; eventId must name an existing
// event when given.
func (s *Service) Create(ctx context.Context, actor models.Actor, in models.AnnouncementInput) (*models.Announcement, error) {
	if !actor.IsStaff() {
		return nil, apperr.Forbidden("staff role required")
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	in.Type = strings.ToUpper(strings.TrimSpace(in.Type))
	in.EventID = strings.TrimSpace(in.EventID)
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return nil, apperr.Validation("%s", strings.Join(msgs, "; "))
		}
		return nil, apperr.Validation("invalid announcement")
	}
	if in.EventID != "" {
		if _, err := s.Events.Get(ctx, in.EventID); err != nil {
			return nil, err
		}
	}

	a := &models.Announcement{
		ID:        utils.NewID(),
		EventID:   in.EventID,
		Title:     in.Title,
		Content:   in.Content,
		Type:      in.Type,
		CreatedBy: actor.UserID,
		CreatedAt: s.Clock.Now(),
	}
	if err := s.DB.CreateAnnouncement(ctx, a); err != nil {
		return nil, err
	}

	scope := "public"
	if a.EventID != "" {
		scope = "event " + a.EventID
	}
	s.Logger.Info("ANNOUNCEMENTS", fmt.Sprintf("%s posted %s announcement %s (%s)", actor.UserID, a.Type, a.ID, scope))
	s.announce(ctx, a)
	return a, nil
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	if fe.Tag() == "required" {
		return field + " is required"
	}
	return field + " is too long"
}

// ForEvent lists an event's announcements, newest first.
func (s *Service) ForEvent(ctx context.Context, eventID string) ([]models.Announcement, error) {
	if eventID == "" {
		return nil, apperr.Validation("eventId is required")
	}
	return s.DB.ListAnnouncements(ctx, eventID, feedLimit)
}

// Public lists announcements not tied to any event, newest first.
func (s *Service) Public(ctx context.Context) ([]models.Announcement, error) {
	return s.DB.ListAnnouncements(ctx, "", feedLimit)
}

func (s *Service) announce(ctx context.Context, a *models.Announcement) {
	if s.Realtime != nil && a.EventID != "" {
		if err := s.Realtime.Broadcast(ctx, a.EventID, sse.TopicAnnouncements, a); err != nil {
			s.Logger.Warn("ANNOUNCEMENTS", fmt.Sprintf("Failed to push %s: %v", a.ID, err))
		}
	}
	if s.Publisher == nil {
		return
	}
	evt := models.DomainEvent{
		Type:       models.TypeAnnouncementPosted,
		EventID:    a.EventID,
		UserID:     a.CreatedBy,
		Status:     a.Type,
		Detail:     a.ID,
		OccurredAt: a.CreatedAt,
	}
	if err := s.Publisher.Publish(ctx, evt); err != nil {
		s.Logger.Warn("ANNOUNCEMENTS", fmt.Sprintf("Failed to publish %s for %s: %v", evt.Type, a.ID, err))
	}
}
