package checkin_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/checkin"
	"ms-eventchain/internal/clock"
	"ms-eventchain/internal/database/dbtest"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/notify"
	"ms-eventchain/internal/sse"
	ticketdb "ms-eventchain/internal/tickets/db"
	qr "ms-eventchain/internal/tickets/qr_genrator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0      = time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)
	door    = models.Actor{UserID: "door-1", Roles: []models.Role{models.RoleTeamMember}}
	visitor = models.Actor{UserID: "u1", Roles: []models.Role{models.RoleUser}}
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

type chainStub struct {
	mu     sync.Mutex
	marked []models.AttendanceRequest
	err    error
}

func (c *chainStub) MarkAttendance(_ context.Context, req models.AttendanceRequest) (*models.ChainReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.marked = append(c.marked, req)
	return &models.ChainReceipt{TransactionHash: fmt.Sprintf("0xattend%d", req.TokenID)}, nil
}

func (c *chainStub) AnchorCertificate(context.Context, models.AnchorRequest) (*models.ChainReceipt, error) {
	return nil, errors.New("not used at the door")
}

type fixture struct {
	svc   *checkin.Service
	store *ticketdb.DB
	hub   *sse.Hub
	rec   *recorder
	qr    *qr.QRGenerator
	chain *chainStub
}

func setup(t *testing.T) fixture {
	t.Helper()
	bunDB := dbtest.New(t)
	dbtest.Insert(t, bunDB,
		&models.Ticket{ID: "tkt-1", ApplicationID: "app-1", EventID: "evt-1", OwnerID: "u1", TokenID: 11, IssuedAt: t0},
		&models.Ticket{ID: "tkt-2", ApplicationID: "app-2", EventID: "evt-2", OwnerID: "u2", TokenID: 12, IssuedAt: t0},
		&models.Ticket{ID: "tkt-0", ApplicationID: "app-0", EventID: "evt-1", OwnerID: "u0", TokenID: 0, IssuedAt: t0},
	)
	gen, err := qr.NewQRGenerator("door-secret")
	require.NoError(t, err)

	store := &ticketdb.DB{Bun: bunDB}
	hub := sse.NewHub()
	rec := &recorder{}
	chain := &chainStub{}
	svc := checkin.NewService(store, gen, chain, clock.NewFixed(t0), notify.Fanout{rec}, hub, logger.Discard())
	return fixture{svc: svc, store: store, hub: hub, rec: rec, qr: gen, chain: chain}
}

func TestCheckInOnce(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := f.hub.Subscribe(ctx, "evt-1", sse.TopicCheckIn)

	ticket, err := f.svc.CheckIn(ctx, door, "evt-1", 11)
	require.NoError(t, err)
	assert.True(t, ticket.CheckedIn)
	assert.True(t, ticket.CheckedInAt.Equal(t0))

	select {
	case msg := <-updates:
		assert.Contains(t, string(msg.Payload), `"ticketId":"tkt-1"`)
	case <-time.After(time.Second):
		t.Fatal("no realtime check-in notice")
	}
	require.Len(t, f.rec.events, 1)
	assert.Equal(t, models.TypeTicketCheckedIn, f.rec.events[0].Type)

	_, err = f.svc.CheckIn(ctx, door, "evt-1", 11)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Len(t, f.rec.events, 1)
}

func TestCheckInUnknownTicket(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CheckIn(ctx, door, "evt-1", 999)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	// Token 12 belongs to another event.
	_, err = f.svc.CheckIn(ctx, door, "evt-1", 12)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCheckInRequiresStaff(t *testing.T) {
	f := setup(t)

	_, err := f.svc.CheckIn(context.Background(), visitor, "evt-1", 11)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	ticket, err := f.store.GetTicketByToken(context.Background(), "evt-1", 11)
	require.NoError(t, err)
	assert.False(t, ticket.CheckedIn)
}

func TestConcurrentScansCheckInOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	const scanners = 12
	var wg sync.WaitGroup
	results := make(chan error, scanners)
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CheckIn(ctx, door, "evt-1", 11)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	ok, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			ok++
		case apperr.KindOf(err) == apperr.KindConflict:
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, scanners-1, conflicts)
	assert.Len(t, f.rec.events, 1)
}

func TestScan(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	code, err := f.qr.Encrypt(models.TicketQRPayload{TicketID: "tkt-1", EventID: "evt-1", TokenID: 11})
	require.NoError(t, err)

	ticket, err := f.svc.Scan(ctx, door, code)
	require.NoError(t, err)
	assert.Equal(t, "tkt-1", ticket.ID)

	_, err = f.svc.Scan(ctx, door, code)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.svc.Scan(ctx, door, "not-a-ticket")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCheckInFirstMintedToken(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ticket, err := f.svc.CheckIn(ctx, door, "evt-1", 0)
	require.NoError(t, err)
	assert.Equal(t, "tkt-0", ticket.ID)
	assert.True(t, ticket.CheckedIn)

	_, err = f.svc.CheckIn(ctx, door, "evt-1", -1)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestScanFirstMintedToken(t *testing.T) {
	f := setup(t)

	code, err := f.qr.Encrypt(models.TicketQRPayload{TicketID: "tkt-0", EventID: "evt-1", TokenID: 0})
	require.NoError(t, err)

	ticket, err := f.svc.Scan(context.Background(), door, code)
	require.NoError(t, err)
	assert.Equal(t, "tkt-0", ticket.ID)
	assert.True(t, ticket.CheckedIn)
}

func TestCheckInMarksAttendanceOnChain(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ticket, err := f.svc.CheckIn(ctx, door, "evt-1", 11)
	require.NoError(t, err)
	assert.Equal(t, "0xattend11", ticket.AttendanceTx)
	require.Len(t, f.chain.marked, 1)
	assert.Equal(t, models.AttendanceRequest{EventID: "evt-1", TicketID: "tkt-1", TokenID: 11}, f.chain.marked[0])

	stored, err := f.store.GetTicketByID(ctx, "tkt-1")
	require.NoError(t, err)
	assert.Equal(t, "0xattend11", stored.AttendanceTx)

	// A repeat scan never reaches the chain.
	_, err = f.svc.CheckIn(ctx, door, "evt-1", 11)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Len(t, f.chain.marked, 1)
}

func TestCheckInSurvivesChainFailure(t *testing.T) {
	f := setup(t)
	f.chain.err = errors.New("rpc timeout")
	ctx := context.Background()

	ticket, err := f.svc.CheckIn(ctx, door, "evt-1", 11)
	require.NoError(t, err)
	assert.True(t, ticket.CheckedIn)
	assert.Empty(t, ticket.AttendanceTx)
	assert.Len(t, f.rec.events, 1)
}

func TestScanRejectsCodeForAnotherTicket(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Token 11 belongs to tkt-1; a code naming tkt-0 with that token is forged or stale.
	code, err := f.qr.Encrypt(models.TicketQRPayload{TicketID: "tkt-0", EventID: "evt-1", TokenID: 11})
	require.NoError(t, err)

	_, err = f.svc.Scan(ctx, door, code)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	ticket, err := f.store.GetTicketByToken(ctx, "evt-1", 11)
	require.NoError(t, err)
	assert.False(t, ticket.CheckedIn)
	assert.Empty(t, f.rec.events)
	assert.Empty(t, f.chain.marked)

	unknown, err := f.qr.Encrypt(models.TicketQRPayload{TicketID: "tkt-9", EventID: "evt-1", TokenID: 99})
	require.NoError(t, err)
	_, err = f.svc.Scan(ctx, door, unknown)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
