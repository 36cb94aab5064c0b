package announcements_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"ms-eventchain/internal/announcements"
	anndb "ms-eventchain/internal/announcements/db"
	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/clock"
	"ms-eventchain/internal/database/dbtest"
	"ms-eventchain/internal/events"
	eventdb "ms-eventchain/internal/events/db"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/notify"
	"ms-eventchain/internal/sse"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	posted = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	head   = models.Actor{UserID: "head-1", Roles: []models.Role{models.RoleEventHead}}
	guest  = models.Actor{UserID: "u1", Roles: []models.Role{models.RoleUser}}
)

type recorder struct {
	mu     sync.Mutex
	events []models.DomainEvent
}

func (r *recorder) Publish(_ context.Context, evt models.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

type fixture struct {
	svc *announcements.Service
	clk *clock.Fixed
	hub *sse.Hub
	rec *recorder
}

func setup(t *testing.T) fixture {
	t.Helper()
	bunDB := dbtest.New(t)
	dbtest.Insert(t, bunDB, &models.Event{ID: "evt-1", Title: "GopherCon", EventDate: posted.Add(240 * time.Hour),
		LotteryDeadline: posted.Add(120 * time.Hour), Price: decimal.Zero, MaxSeats: 5,
		Status: models.EventOpen, CreatedAt: posted, UpdatedAt: posted})

	clk := clock.NewFixed(posted)
	eventSvc := events.NewService(&eventdb.DB{Bun: bunDB}, clk, notify.Nop, logger.Discard())
	hub := sse.NewHub()
	rec := &recorder{}
	svc := announcements.NewService(&anndb.DB{Bun: bunDB}, eventSvc, clk, notify.Fanout{rec}, hub, logger.Discard())
	return fixture{svc: svc, clk: clk, hub: hub, rec: rec}
}

func TestCreateEventAnnouncement(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := f.hub.Subscribe(ctx, "evt-1", sse.TopicAnnouncements)

	a, err := f.svc.Create(ctx, head, models.AnnouncementInput{EventID: "evt-1", Title: " Doors at 9 ", Content: "Bring ID", Type: "event"})
	require.NoError(t, err)
	assert.Equal(t, "Doors at 9", a.Title)
	assert.Equal(t, "EVENT", a.Type)
	assert.Equal(t, "head-1", a.CreatedBy)

	select {
	case msg := <-updates:
		assert.Contains(t, string(msg.Payload), `"title":"Doors at 9"`)
	case <-time.After(time.Second):
		t.Fatal("no realtime announcement")
	}
	require.Len(t, f.rec.events, 1)
	assert.Equal(t, models.TypeAnnouncementPosted, f.rec.events[0].Type)
	assert.Equal(t, a.ID, f.rec.events[0].Detail)
}

func TestFeedsAreScopedAndNewestFirst(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, head, models.AnnouncementInput{Title: "Welcome", Content: "Season opens", Type: "INFO"})
	require.NoError(t, err)
	f.clk.Advance(time.Minute)
	second, err := f.svc.Create(ctx, head, models.AnnouncementInput{Title: "Maintenance", Content: "Sunday 2am", Type: "INFO"})
	require.NoError(t, err)
	f.clk.Advance(time.Minute)
	_, err = f.svc.Create(ctx, head, models.AnnouncementInput{EventID: "evt-1", Title: "Agenda", Content: "Posted", Type: "EVENT"})
	require.NoError(t, err)

	public, err := f.svc.Public(ctx)
	require.NoError(t, err)
	require.Len(t, public, 2)
	assert.Equal(t, second.ID, public[0].ID)
	assert.Equal(t, first.ID, public[1].ID)

	scoped, err := f.svc.ForEvent(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "Agenda", scoped[0].Title)

	none, err := f.svc.ForEvent(ctx, "evt-2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCreateRejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, guest, models.AnnouncementInput{Title: "Hi", Content: "x", Type: "INFO"})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.svc.Create(ctx, head, models.AnnouncementInput{Title: "  ", Content: "x", Type: "INFO"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "title is required")

	_, err = f.svc.Create(ctx, head, models.AnnouncementInput{EventID: "evt-404", Title: "Hi", Content: "x", Type: "INFO"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	public, err := f.svc.Public(ctx)
	require.NoError(t, err)
	assert.Empty(t, public)
	assert.Empty(t, f.rec.events)
}
