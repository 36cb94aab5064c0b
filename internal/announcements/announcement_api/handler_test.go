package announcement_api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ms-eventchain/internal/announcements"
	"ms-eventchain/internal/announcements/announcement_api"
	anndb "ms-eventchain/internal/announcements/db"
	"ms-eventchain/internal/auth"
	"ms-eventchain/internal/clock"
	"ms-eventchain/internal/database/dbtest"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type anyEvent struct{}

func (anyEvent) Get(_ context.Context, id string) (*models.Event, error) {
	return &models.Event{ID: id}, nil
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	bunDB := dbtest.New(t)
	svc := announcements.NewService(&anndb.DB{Bun: bunDB}, anyEvent{}, clock.NewFixed(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)), nil, nil, logger.Discard())
	h := &announcement_api.Handler{Announcements: svc, Logger: logger.Discard()}

	r := chi.NewRouter()
	r.Route("/api/announcements/public", h.RegisterPublicRoutes)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				actor := models.Actor{UserID: req.Header.Get("X-Test-User"), Roles: []models.Role{models.Role(req.Header.Get("X-Test-Role"))}}
				next.ServeHTTP(w, req.WithContext(auth.WithActor(req.Context(), actor)))
			})
		})
		r.Route("/api/announcements", h.RegisterRoutes)
	})
	return r
}

func post(r http.Handler, role, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/announcements", strings.NewReader(body))
	req.Header.Set("X-Test-User", "staff-1")
	req.Header.Set("X-Test-Role", role)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestPostAndRead(t *testing.T) {
	r := newRouter(t)

	rec := post(r, string(models.RoleTeamMember), `{"title":"Welcome","content":"Hello all","type":"INFO"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = post(r, string(models.RoleTeamMember), `{"eventId":"evt-1","title":"Agenda","content":"Up","type":"EVENT"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/announcements/public", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var public struct {
		Data []models.Announcement `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &public))
	require.Len(t, public.Data, 1)
	assert.Equal(t, "Welcome", public.Data[0].Title)

	req := httptest.NewRequest(http.MethodGet, "/api/announcements/events/evt-1", nil)
	req.Header.Set("X-Test-User", "u1")
	req.Header.Set("X-Test-Role", string(models.RoleUser))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var scoped struct {
		Data []models.Announcement `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scoped))
	require.Len(t, scoped.Data, 1)
	assert.Equal(t, "evt-1", scoped.Data[0].EventID)
}

func TestPostRequiresStaff(t *testing.T) {
	r := newRouter(t)

	rec := post(r, string(models.RoleUser), `{"title":"Hi","content":"x","type":"INFO"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = post(r, string(models.RoleOrgAdmin), `{"title":"Hi"`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
