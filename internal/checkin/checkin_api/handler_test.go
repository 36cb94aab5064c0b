package checkin_api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ms-eventchain/internal/auth"
	"ms-eventchain/internal/checkin"
	"ms-eventchain/internal/checkin/checkin_api"
	"ms-eventchain/internal/clock"
	"ms-eventchain/internal/database/dbtest"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"
	ticketdb "ms-eventchain/internal/tickets/db"
	qr "ms-eventchain/internal/tickets/qr_genrator"
	"ms-eventchain/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var issued = time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)

func newRouter(t *testing.T, actor models.Actor) (http.Handler, *qr.QRGenerator) {
	t.Helper()
	bunDB := dbtest.New(t)
	dbtest.Insert(t, bunDB,
		&models.Ticket{ID: "tkt-1", ApplicationID: "app-1", EventID: "evt-1", OwnerID: "u1", TokenID: 5, IssuedAt: issued},
	)
	gen, err := qr.NewQRGenerator("door-secret")
	require.NoError(t, err)

	svc := checkin.NewService(&ticketdb.DB{Bun: bunDB}, gen, nil, clock.NewFixed(issued), nil, nil, logger.Discard())
	h := &checkin_api.Handler{CheckIn: svc, Logger: logger.Discard()}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.WithActor(req.Context(), actor)))
		})
	})
	r.Route("/api/checkin", h.RegisterRoutes)
	return r, gen
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) utils.APIResponse {
	t.Helper()
	var body utils.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestCheckInByToken(t *testing.T) {
	r, _ := newRouter(t, models.Actor{UserID: "door", Roles: []models.Role{models.RoleTeamMember}})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/checkin/events/evt-1/tickets/5", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/checkin/events/evt-1/tickets/5", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", decode(t, rec).Error)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/checkin/events/evt-1/tickets/77", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/checkin/events/evt-1/tickets/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanEndpoint(t *testing.T) {
	r, gen := newRouter(t, models.Actor{UserID: "head", Roles: []models.Role{models.RoleEventHead}})

	code, err := gen.Encrypt(models.TicketQRPayload{TicketID: "tkt-1", EventID: "evt-1", TokenID: 5})
	require.NoError(t, err)
	body, _ := json.Marshal(checkin_api.ScanRequest{Code: code})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/checkin/scan", bytes.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/checkin/scan", bytes.NewReader([]byte(`{}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckInForbiddenForAttendees(t *testing.T) {
	r, _ := newRouter(t, models.Actor{UserID: "u1", Roles: []models.Role{models.RoleUser}})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/checkin/events/evt-1/tickets/5", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
