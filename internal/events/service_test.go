package events_test

import (
	"context"
	"testing"
	"time"

	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/clock"
	"ms-eventchain/internal/database/dbtest"
	"ms-eventchain/internal/events"
	eventdb "ms-eventchain/internal/events/db"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/notify"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin = models.Actor{UserID: "admin-1", Roles: []models.Role{models.RoleOrgAdmin}}
	user  = models.Actor{UserID: "user-1", Roles: []models.Role{models.RoleUser}}
	start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type recorder struct{ events []models.DomainEvent }

func (r *recorder) Publish(_ context.Context, evt models.DomainEvent) error {
	r.events = append(r.events, evt)
	return nil
}

func setup(t *testing.T) (*events.Service, *clock.Fixed, *recorder) {
	t.Helper()
	clk := clock.NewFixed(start)
	rec := &recorder{}
	svc := events.NewService(&eventdb.DB{Bun: dbtest.New(t)}, clk, notify.Fanout{rec}, logger.Discard())
	return svc, clk, rec
}

func validInput() models.EventInput {
	return models.EventInput{
		Title:           "Go Meetup",
		Location:        "Hall A",
		EventDate:       start.Add(14 * 24 * time.Hour),
		LotteryDeadline: start.Add(7 * 24 * time.Hour),
		Price:           decimal.RequireFromString("25.50"),
		MaxSeats:        10,
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	cases := map[string]func(in *models.EventInput){
		"zero seats":          func(in *models.EventInput) { in.MaxSeats = 0 },
		"negative seats":      func(in *models.EventInput) { in.MaxSeats = -3 },
		"missing title":       func(in *models.EventInput) { in.Title = "" },
		"negative price":      func(in *models.EventInput) { in.Price = decimal.NewFromInt(-1) },
		"missing event date":  func(in *models.EventInput) { in.EventDate = time.Time{} },
		"deadline after date": func(in *models.EventInput) { in.LotteryDeadline = in.EventDate.Add(time.Hour) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			mutate(&in)
			_, err := svc.Create(ctx, admin, in)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestCreateRequiresAdmin(t *testing.T) {
	svc, _, _ := setup(t)

	_, err := svc.Create(context.Background(), user, validInput())
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestLifecycle(t *testing.T) {
	svc, _, rec := setup(t)
	ctx := context.Background()

	event, err := svc.Create(ctx, admin, validInput())
	require.NoError(t, err)
	assert.Equal(t, models.EventDraft, event.Status)
	assert.Equal(t, "admin-1", event.CreatedBy)

	in := validInput()
	in.Title = "Go Meetup (updated)"
	in.MaxSeats = 20
	updated, err := svc.Update(ctx, admin, event.ID, in)
	require.NoError(t, err)
	assert.Equal(t, 20, updated.MaxSeats)

	published, err := svc.Publish(ctx, admin, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventOpen, published.Status)

	_, err = svc.Publish(ctx, admin, event.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = svc.Update(ctx, admin, event.ID, in)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	closed, err := svc.Close(ctx, admin, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventClosed, closed.Status)

	again, err := svc.Close(ctx, admin, event.ID)
	require.NoError(t, err, "closing twice is a no-op")
	assert.Equal(t, models.EventClosed, again.Status)

	_, err = svc.Publish(ctx, admin, event.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	stored, err := svc.Get(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, "Go Meetup (updated)", stored.Title)
	assert.True(t, decimal.RequireFromString("25.50").Equal(stored.Price))

	require.Len(t, rec.events, 2)
	assert.Equal(t, models.TypeEventPublished, rec.events[0].Type)
	assert.Equal(t, models.TypeEventClosed, rec.events[1].Type)
}

func TestPublishRequiresFutureDeadline(t *testing.T) {
	svc, clk, _ := setup(t)
	ctx := context.Background()

	event, err := svc.Create(ctx, admin, validInput())
	require.NoError(t, err)

	clk.Advance(8 * 24 * time.Hour)
	_, err = svc.Publish(ctx, admin, event.ID)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	stored, err := svc.Get(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventDraft, stored.Status)
}

func TestCloseDraftIsInvalid(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	event, err := svc.Create(ctx, admin, validInput())
	require.NoError(t, err)

	_, err = svc.Close(ctx, admin, event.ID)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestGetUnknown(t *testing.T) {
	svc, _, _ := setup(t)

	_, err := svc.Get(context.Background(), "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestListByStatus(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		event, err := svc.Create(ctx, admin, validInput())
		require.NoError(t, err)
		if i < 2 {
			_, err = svc.Publish(ctx, admin, event.ID)
			require.NoError(t, err)
		}
	}

	open, err := svc.List(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, open.Total)
	assert.Len(t, open.Items, 2)
	assert.Equal(t, events.DefaultPageSize, open.Size)

	drafts, err := svc.List(ctx, models.EventDraft, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, drafts.Total)
	assert.Equal(t, events.MaxPageSize, drafts.Size)

	_, err = svc.List(ctx, "ARCHIVED", 0, 10)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
