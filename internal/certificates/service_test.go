package certificates_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/certificates"
	certdb "ms-eventchain/internal/certificates/db"
	"ms-eventchain/internal/certificates/template"
	"ms-eventchain/internal/clock"
	"ms-eventchain/internal/database/dbtest"
	"ms-eventchain/internal/events"
	eventdb "ms-eventchain/internal/events/db"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/notify"
	ticketdb "ms-eventchain/internal/tickets/db"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

var (
	eventDay = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	attendee = models.Actor{UserID: "u1", Roles: []models.Role{models.RoleUser}}
	other    = models.Actor{UserID: "u2", Roles: []models.Role{models.RoleUser}}
	orgAdmin = models.Actor{UserID: "org", Roles: []models.Role{models.RoleOrgAdmin}}
)

// stubRenderer produces a deterministic document without a font file.
type stubRenderer struct {
	calls atomic.Int32
}

func (r *stubRenderer) Render(doc template.CertificateDocument) ([]byte, error) {
	r.calls.Add(1)
	if len(doc.VerificationQR) == 0 {
		return nil, fmt.Errorf("missing verification QR")
	}
	return []byte(fmt.Sprintf("%%PDF-stub %s %s %s", doc.CertificateID, doc.EventTitle, doc.AttendeeID)), nil
}

type counter struct {
	n atomic.Int32
}

func (c *counter) Publish(context.Context, models.DomainEvent) error {
	c.n.Add(1)
	return nil
}

type anchorStub struct {
	mu      sync.Mutex
	fail    bool
	anchors []models.AnchorRequest
}

func (a *anchorStub) MarkAttendance(context.Context, models.AttendanceRequest) (*models.ChainReceipt, error) {
	return nil, errors.New("not used for certificates")
}

func (a *anchorStub) AnchorCertificate(_ context.Context, req models.AnchorRequest) (*models.ChainReceipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return nil, errors.New("gas price spike")
	}
	a.anchors = append(a.anchors, req)
	return &models.ChainReceipt{TransactionHash: "0xcert-" + req.CertificateID}, nil
}

type fixture struct {
	db       *bun.DB
	svc      *certificates.Service
	renderer *stubRenderer
	pub      *counter
	chain    *anchorStub
}

func setup(t *testing.T) fixture {
	t.Helper()
	bunDB := dbtest.New(t)
	dbtest.Insert(t, bunDB,
		&models.Event{ID: "evt-1", Title: "GopherCon", Location: "Berlin", EventDate: eventDay,
			LotteryDeadline: eventDay.Add(-72 * time.Hour), Price: decimal.NewFromInt(10), MaxSeats: 10,
			Status: models.EventClosed, CreatedAt: eventDay, UpdatedAt: eventDay},
		&models.Ticket{ID: "tkt-in", ApplicationID: "app-1", EventID: "evt-1", OwnerID: "u1", TokenID: 1,
			CheckedIn: true, CheckedInAt: eventDay, IssuedAt: eventDay},
		&models.Ticket{ID: "tkt-out", ApplicationID: "app-2", EventID: "evt-1", OwnerID: "u1", TokenID: 2,
			IssuedAt: eventDay},
	)

	clk := clock.NewFixed(eventDay.Add(8 * time.Hour))
	eventSvc := events.NewService(&eventdb.DB{Bun: bunDB}, clk, notify.Nop, logger.Discard())
	renderer := &stubRenderer{}
	pub := &counter{}
	chain := &anchorStub{}
	svc := certificates.NewService(&certdb.DB{Bun: bunDB}, &ticketdb.DB{Bun: bunDB}, eventSvc, renderer, chain,
		"https://eventchain.io/verify/", clk, pub, logger.Discard())
	return fixture{db: bunDB, svc: svc, renderer: renderer, pub: pub, chain: chain}
}

func TestIssueIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.svc.Issue(ctx, attendee, "tkt-in")
	require.NoError(t, err)
	assert.Regexp(t, `^CERT-[0-9A-F]{16}$`, first.ID)
	assert.Equal(t, "https://eventchain.io/verify/"+first.ID, first.VerificationURL)
	assert.Equal(t, "u1", first.UserID)

	want := sha256.Sum256([]byte(fmt.Sprintf("%%PDF-stub %s GopherCon u1", first.ID)))
	assert.Equal(t, hex.EncodeToString(want[:]), first.FileHash)

	second, err := f.svc.Issue(ctx, orgAdmin, "tkt-in")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int32(1), f.pub.n.Load())

	count, err := f.db.NewSelect().Model((*models.Certificate)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIssueConcurrent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	const callers = 8
	ids := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cert, err := f.svc.Issue(ctx, attendee, "tkt-in")
			if assert.NoError(t, err) {
				ids <- cert.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
	assert.Equal(t, int32(1), f.pub.n.Load())
}

func TestIssueRequiresCheckIn(t *testing.T) {
	f := setup(t)

	_, err := f.svc.Issue(context.Background(), attendee, "tkt-out")
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	assert.Equal(t, int32(0), f.renderer.calls.Load())
}

func TestIssueAccess(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, other, "tkt-in")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.svc.Issue(ctx, attendee, "tkt-missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDownloadAndVerify(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	cert, pdf, err := f.svc.Download(ctx, attendee, "tkt-in")
	require.NoError(t, err)
	assert.Contains(t, string(pdf), cert.ID)

	sum := sha256.Sum256(pdf)
	assert.Equal(t, cert.FileHash, hex.EncodeToString(sum[:]))

	valid, err := f.svc.Verify(ctx, cert.ID)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = f.svc.Verify(ctx, "CERT-0000000000000000")
	require.NoError(t, err)
	assert.False(t, valid)

	valid, err = f.svc.Verify(ctx, "")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestIssueAnchorsFileHashOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	cert, err := f.svc.Issue(ctx, attendee, "tkt-in")
	require.NoError(t, err)
	assert.Equal(t, "0xcert-"+cert.ID, cert.TransactionHash)
	require.Len(t, f.chain.anchors, 1)
	assert.Equal(t, models.AnchorRequest{CertificateID: cert.ID, TokenID: 1, FileHash: cert.FileHash}, f.chain.anchors[0])

	again, err := f.svc.Issue(ctx, attendee, "tkt-in")
	require.NoError(t, err)
	assert.Equal(t, cert.TransactionHash, again.TransactionHash)
	assert.Len(t, f.chain.anchors, 1)
}

func TestIssueRetriesAnchorAfterChainFailure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.chain.fail = true
	cert, err := f.svc.Issue(ctx, attendee, "tkt-in")
	require.NoError(t, err)
	assert.Empty(t, cert.TransactionHash)

	f.chain.fail = false
	again, err := f.svc.Issue(ctx, attendee, "tkt-in")
	require.NoError(t, err)
	assert.Equal(t, cert.ID, again.ID)
	assert.Equal(t, "0xcert-"+cert.ID, again.TransactionHash)

	var stored models.Certificate
	require.NoError(t, f.db.NewSelect().Model(&stored).Where("id = ?", cert.ID).Scan(ctx))
	assert.Equal(t, "0xcert-"+cert.ID, stored.TransactionHash)
	assert.Equal(t, int32(1), f.pub.n.Load())
}
