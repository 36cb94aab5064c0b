package analytics_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"ms-eventchain/internal/analytics"
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
	"github.com/uptrace/bun"
)

var (
	t0    = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	staff = models.Actor{UserID: "door", Roles: []models.Role{models.RoleTeamMember}}
	user  = models.Actor{UserID: "u1", Roles: []models.Role{models.RoleUser}}
)

func app(id string, status models.ApplicationStatus) *models.Application {
	return &models.Application{ID: id, UserID: "user-" + id, EventID: "evt-1", Status: status, CreatedAt: t0, UpdatedAt: t0}
}

func payment(id string, amount int64, at time.Time) *models.Payment {
	return &models.Payment{ID: "pay-" + id, ApplicationID: id, EventID: "evt-1", UserID: "user-" + id,
		SessionID: "cs_" + id, Amount: decimal.NewFromInt(amount), Currency: "usd",
		Status: models.PaymentCompleted, CreatedAt: at, CompletedAt: at}
}

func ticket(n int64, checkedIn bool) *models.Ticket {
	id := fmt.Sprintf("app-p%d", n)
	tk := &models.Ticket{ID: fmt.Sprintf("tkt-%d", n), ApplicationID: id, EventID: "evt-1", OwnerID: "user-" + id,
		TokenID: n, IssuedAt: t0}
	if checkedIn {
		tk.CheckedIn, tk.CheckedInAt = true, t0.Add(time.Hour)
	}
	return tk
}

func seed(t *testing.T) *bun.DB {
	t.Helper()
	db := dbtest.New(t)
	dbtest.Insert(t, db, &models.Event{ID: "evt-1", Title: "Summit", EventDate: t0.Add(48 * time.Hour),
		LotteryDeadline: t0, Price: decimal.NewFromInt(25), MaxSeats: 4, Status: models.EventClosed,
		CreatedAt: t0, UpdatedAt: t0})
	dbtest.Insert(t, db, &models.Event{ID: "evt-2", Title: "Empty", EventDate: t0.Add(48 * time.Hour),
		LotteryDeadline: t0, Price: decimal.Zero, MaxSeats: 4, Status: models.EventOpen,
		CreatedAt: t0, UpdatedAt: t0})

	// 4 selected seats: 3 paid, 1 still selected; 5 waitlisted; 1 rejected.
	dbtest.Insert(t, db,
		app("app-p1", models.ApplicationPaid), app("app-p2", models.ApplicationPaid), app("app-p3", models.ApplicationPaid),
		app("app-s1", models.ApplicationSelected), app("app-r1", models.ApplicationRejected),
	)
	for i := 0; i < 5; i++ {
		dbtest.Insert(t, db, app(fmt.Sprintf("app-w%d", i), models.ApplicationWaitlisted))
	}
	dbtest.Insert(t, db,
		payment("app-p1", 25, t0), payment("app-p2", 25, t0.Add(2*time.Hour)), payment("app-p3", 25, t0.Add(26*time.Hour)),
		ticket(1, true), ticket(2, true), ticket(3, false),
		&models.Certificate{ID: "CERT-0000000000000001", TicketID: "tkt-1", EventID: "evt-1", UserID: "user-app-p1", IssuedAt: t0},
	)
	return db
}

func newService(t *testing.T, db *bun.DB, rt sse.Broadcaster) *analytics.Service {
	clk := clock.NewFixed(t0.Add(72 * time.Hour))
	eventSvc := events.NewService(&eventdb.DB{Bun: db}, clk, notify.Nop, logger.Discard())
	return analytics.NewService(analytics.NewDB(db), eventSvc, rt, clk, logger.Discard())
}

func TestSnapshot(t *testing.T) {
	svc := newService(t, seed(t), nil)

	snap, err := svc.GetEventAnalytics(context.Background(), staff, "evt-1")
	require.NoError(t, err)

	assert.Equal(t, 10, snap.Applicants)
	assert.Equal(t, 1, snap.Selected)
	assert.Equal(t, 5, snap.Waitlisted)
	assert.Equal(t, 3, snap.Paid)
	assert.Equal(t, 1, snap.Rejected)
	assert.Equal(t, 3, snap.Minted)
	assert.Equal(t, 2, snap.CheckedIn)
	assert.Equal(t, 1, snap.Certificates)
	assert.True(t, decimal.NewFromInt(75).Equal(snap.Revenue), "revenue %s", snap.Revenue)
	assert.Equal(t, 75.0, snap.PaymentPercentage)
	assert.Equal(t, 33.33, snap.NoShowRate)

	require.Len(t, snap.DailyRevenue, 2)
	assert.Equal(t, "2026-06-01", snap.DailyRevenue[0].Date)
	assert.Equal(t, 2, snap.DailyRevenue[0].Payments)
	assert.True(t, decimal.NewFromInt(50).Equal(snap.DailyRevenue[0].Revenue))
	assert.Equal(t, "2026-06-02", snap.DailyRevenue[1].Date)
}

func TestSnapshotEmptyEvent(t *testing.T) {
	svc := newService(t, seed(t), nil)

	snap, err := svc.GetEventAnalytics(context.Background(), staff, "evt-2")
	require.NoError(t, err)
	assert.Zero(t, snap.Applicants)
	assert.Zero(t, snap.PaymentPercentage)
	assert.Zero(t, snap.NoShowRate)
	assert.True(t, snap.Revenue.IsZero())
	assert.NotNil(t, snap.DailyRevenue)
}

func TestSnapshotAccess(t *testing.T) {
	svc := newService(t, seed(t), nil)
	ctx := context.Background()

	_, err := svc.GetEventAnalytics(ctx, user, "evt-1")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = svc.GetEventAnalytics(ctx, staff, "evt-404")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestBatch(t *testing.T) {
	svc := newService(t, seed(t), nil)
	ctx := context.Background()

	list, err := svc.GetBatchEventAnalytics(ctx, staff, []string{"evt-2", "evt-1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "evt-2", list[0].EventID)
	assert.Equal(t, 3, list[1].Paid)

	empty, err := svc.GetBatchEventAnalytics(ctx, staff, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	many := make([]string, 51)
	_, err = svc.GetBatchEventAnalytics(ctx, staff, many)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestTransitionPushesSnapshot(t *testing.T) {
	hub := sse.NewHub()
	svc := newService(t, seed(t), hub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := hub.Subscribe(ctx, "evt-1", sse.TopicAnalytics)
	require.NoError(t, notify.Fanout{svc}.Publish(ctx, models.DomainEvent{Type: models.TypeTicketCheckedIn, EventID: "evt-1"}))

	select {
	case msg := <-updates:
		var snap models.EventAnalytics
		require.NoError(t, json.Unmarshal(msg.Payload, &snap))
		assert.Equal(t, 2, snap.CheckedIn)
	case <-time.After(2 * time.Second):
		t.Fatal("no analytics pushed")
	}
}

// gatedStore lets a test hold the first count query open while the
// underlying numbers change.
type gatedStore struct {
	mu         sync.Mutex
	applicants int
	calls      int
	entered    chan struct{}
	release    chan struct{}
}

func (g *gatedStore) GetCounts(ctx context.Context, eventID string) (*analytics.Counts, error) {
	g.mu.Lock()
	n := g.applicants
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()

	if first {
		close(g.entered)
		<-g.release
	}
	return &analytics.Counts{ByStatus: map[models.ApplicationStatus]int{models.ApplicationApplied: n}}, nil
}

func (g *gatedStore) GetDailyRevenue(ctx context.Context, eventID string) ([]models.DailyRevenue, error) {
	return []models.DailyRevenue{}, nil
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	snaps []models.EventAnalytics
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, _, _ string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, *payload.(*models.EventAnalytics))
	return nil
}

func TestRefreshDuringComputationRunsAgain(t *testing.T) {
	store := &gatedStore{applicants: 1, entered: make(chan struct{}), release: make(chan struct{})}
	rt := &recordingBroadcaster{}
	svc := analytics.NewService(store, nil, rt, clock.NewFixed(t0), logger.Discard())
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- svc.Refresh(ctx, "evt-1") }()
	<-store.entered

	// A new application lands while the first snapshot is being built.
	store.mu.Lock()
	store.applicants = 2
	store.mu.Unlock()
	require.NoError(t, svc.Refresh(ctx, "evt-1"))

	close(store.release)
	require.NoError(t, <-done)

	rt.mu.Lock()
	defer rt.mu.Unlock()
	require.Len(t, rt.snaps, 2)
	assert.Equal(t, 1, rt.snaps[0].Applicants)
	assert.Equal(t, 2, rt.snaps[1].Applicants)
}

func TestRefreshIdleRunsOnce(t *testing.T) {
	store := &gatedStore{applicants: 3, entered: make(chan struct{}), release: make(chan struct{})}
	close(store.release)
	rt := &recordingBroadcaster{}
	svc := analytics.NewService(store, nil, rt, clock.NewFixed(t0), logger.Discard())

	require.NoError(t, svc.Refresh(context.Background(), "evt-1"))
	require.NoError(t, svc.Refresh(context.Background(), "evt-1"))

	rt.mu.Lock()
	defer rt.mu.Unlock()
	require.Len(t, rt.snaps, 2)
	assert.Equal(t, 3, rt.snaps[1].Applicants)
}
