package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/clock"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/notify"
	"ms-eventchain/internal/utils"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type DBLayer interface {
	CreateEvent(ctx context.Context, event *models.Event) error
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	UpdateDraft(ctx context.Context, event *models.Event) (bool, error)
	TransitionStatus(ctx context.Context, id string, from, to models.EventStatus, at time.Time) (bool, error)
	ListEvents(ctx context.Context, status models.EventStatus, limit, offset int) ([]models.Event, int, error)
}

type Page struct {
	Items []models.Event `json:"items"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Size  int            `json:"size"`
}

// Service owns the DRAFT -> OPEN -> CLOSED lifecycle of events.
type Service struct {
	DB        DBLayer
	Clock     clock.Clock
	Publisher notify.Publisher
	Logger    *logger.Logger
	validate  *validator.Validate
}

func NewService(db DBLayer, clk clock.Clock, pub notify.Publisher, log *logger.Logger) *Service {
	return &Service{
		DB:        db,
		Clock:     clk,
		Publisher: pub,
		Logger:    log,
		validate:  newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

func (s *Service) validateInput(in models.EventInput) error {
	if in.EventDate.IsZero() {
		return apperr.Validation("eventDate is required")
	}
	if in.LotteryDeadline.IsZero() {
		return apperr.Validation("lotteryDeadline is required")
	}
	if in.Price.IsNegative() {
		return apperr.Validation("price must not be negative")
	}
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return apperr.Validation("%s", strings.Join(msgs, "; "))
		}
		return apperr.Validation("invalid event payload")
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "gt":
		return fe.Field() + " must be greater than " + fe.Param()
	case "max":
		return fe.Field() + " is too long"
	case "ltfield":
		return fe.Field() + " must be before " + lowerFirst(fe.Param())
	default:
		return fe.Field() + " is invalid"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func requireAdmin(actor models.Actor) error {
	if !actor.IsAdmin() {
		return apperr.Forbidden("administrator role required")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, actor models.Actor, in models.EventInput) (*models.Event, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := s.validateInput(in); err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	event := &models.Event{
		ID:              utils.NewID(),
		Title:           strings.TrimSpace(in.Title),
		Description:     in.Description,
		Location:        in.Location,
		EventDate:       in.EventDate.UTC(),
		LotteryDeadline: in.LotteryDeadline.UTC(),
		Price:           in.Price.Round(2),
		MaxSeats:        in.MaxSeats,
		Status:          models.EventDraft,
		CreatedBy:       actor.UserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.DB.CreateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	s.Logger.Info("EVENTS", fmt.Sprintf("Event %s created as draft by %s", event.ID, actor.UserID))
	return event, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Event, error) {
	event, err := s.DB.GetEvent(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("event %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return event, nil
}

// Update edits a draft. Published events are immutable.
func (s *Service) Update(ctx context.Context, actor models.Actor, id string, in models.EventInput) (*models.Event, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := s.validateInput(in); err != nil {
		return nil, err
	}

	event, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if event.Status != models.EventDraft {
		return nil, apperr.InvalidState("only draft events can be edited")
	}

	event.Title = strings.TrimSpace(in.Title)
	event.Description = in.Description
	event.Location = in.Location
	event.EventDate = in.EventDate.UTC()
	event.LotteryDeadline = in.LotteryDeadline.UTC()
	event.Price = in.Price.Round(2)
	event.MaxSeats = in.MaxSeats
	event.UpdatedAt = s.Clock.Now()

	ok, err := s.DB.UpdateDraft(ctx, event)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidState("only draft events can be edited")
	}
	return event, nil
}

func (s *Service) Publish(ctx context.Context, actor models.Actor, id string) (*models.Event, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	event, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if event.Status != models.EventDraft {
		return nil, apperr.Conflict("event is already %s", strings.ToLower(string(event.Status)))
	}
	if event.MaxSeats <= 0 {
		return nil, apperr.Validation("maxSeats must be greater than 0")
	}
	now := s.Clock.Now()
	if !event.LotteryDeadline.After(now) {
		return nil, apperr.Validation("lotteryDeadline must be in the future")
	}

	ok, err := s.DB.TransitionStatus(ctx, id, models.EventDraft, models.EventOpen, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Conflict("event was published concurrently")
	}

	event.Status = models.EventOpen
	event.PublishedAt = now
	event.UpdatedAt = now
	s.Logger.Info("EVENTS", fmt.Sprintf("Event %s published, lottery deadline %s", id, event.LotteryDeadline.Format(time.RFC3339)))
	s.publish(ctx, models.DomainEvent{Type: models.TypeEventPublished, EventID: id, Status: string(models.EventOpen), OccurredAt: now})
	return event, nil
}

// Close ends registration. Closing a closed event is a no-op.
func (s *Service) Close(ctx context.Context, actor models.Actor, id string) (*models.Event, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	event, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch event.Status {
	case models.EventClosed:
		return event, nil
	case models.EventDraft:
		return nil, apperr.InvalidState("draft events cannot be closed")
	}

	now := s.Clock.Now()
	ok, err := s.DB.TransitionStatus(ctx, id, models.EventOpen, models.EventClosed, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// lost to a concurrent close or draw
		return s.Get(ctx, id)
	}

	event.Status = models.EventClosed
	event.ClosedAt = now
	event.UpdatedAt = now
	s.Logger.Info("EVENTS", fmt.Sprintf("Event %s closed by %s", id, actor.UserID))
	s.publish(ctx, models.DomainEvent{Type: models.TypeEventClosed, EventID: id, Status: string(models.EventClosed), OccurredAt: now})
	return event, nil
}

// List pages through events in one status, OPEN when status is empty.
func (s *Service) List(ctx context.Context, status models.EventStatus, page, size int) (*Page, error) {
	if status == "" {
		status = models.EventOpen
	}
	switch status {
	case models.EventDraft, models.EventOpen, models.EventClosed:
	default:
		return nil, apperr.Validation("unknown status %q", status)
	}
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	items, total, err := s.DB.ListEvents(ctx, status, size, page*size)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.Event{}
	}
	return &Page{Items: items, Total: total, Page: page, Size: size}, nil
}

func (s *Service) publish(ctx context.Context, evt models.DomainEvent) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(ctx, evt); err != nil {
		s.Logger.Warn("EVENTS", fmt.Sprintf("Failed to publish %s for %s: %v", evt.Type, evt.EventID, err))
	}
}
