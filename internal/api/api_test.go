package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/rescue-bot/internal/catalog"
	"github.com/xaenox/rescue-bot/internal/classifier"
	"github.com/xaenox/rescue-bot/internal/gate"
	"github.com/xaenox/rescue-bot/internal/geo"
	"github.com/xaenox/rescue-bot/internal/geoip"
	"github.com/xaenox/rescue-bot/internal/metrics"
	"github.com/xaenox/rescue-bot/internal/models"
	"github.com/xaenox/rescue-bot/internal/responder"
	"github.com/xaenox/rescue-bot/internal/router"
	"github.com/xaenox/rescue-bot/internal/storage"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticGenerator struct{}

func (staticGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return "Stay calm, help is on the way.", nil
}

type homeLocator struct{}

func (homeLocator) Locate(ctx context.Context, ip string) geoip.Result {
	return geoip.Fallback()
}

func setupTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	cat, err := catalog.Load("")
	require.NoError(t, err)

	sessions := storage.NewMemoryStorage(time.Hour)
	ledger := storage.NewMemoryLedger()
	fleet := responder.NewFleet(cat.Units)
	index := geo.NewIndex(cat.Facilities)

	set, err := responder.NewSet(responder.Deps{
		Index:     index,
		Generator: staticGenerator{},
		Locator:   homeLocator{},
		Sessions:  sessions,
		Ledger:    ledger,
		Fleet:     fleet,
		Logger:    zap.NewNop(),
	}, responder.Config{HomeCity: "Karachi", HomeCountry: "Pakistan"})
	require.NoError(t, err)
	responders := make(map[models.Category]router.Responder, len(set))
	for c, r := range set {
		responders[c] = r
	}

	collector, err := metrics.NewCollector()
	require.NoError(t, err)

	engine := router.New(router.Deps{
		Sessions:   sessions,
		Ledger:     ledger,
		Classifier: classifier.NewSimpleClassifier(),
		Responders: responders,
		Fleet:      fleet,
		Index:      index,
		Observer:   collector,
		Logger:     zap.NewNop(),
	})
	return NewEngine(engine, collector, zap.NewNop())
}

func do(t *testing.T, srv *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func createSession(t *testing.T, srv *gin.Engine) string {
	t.Helper()
	w := do(t, srv, http.MethodPost, "/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode[map[string]string](t, w)
	require.NotEmpty(t, body["session_id"])
	return body["session_id"]
}

func TestHealth(t *testing.T) {
	srv := setupTestServer(t)

	w := do(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestChat_GateAndDispatch(t *testing.T) {
	srv := setupTestServer(t)

	w := do(t, srv, http.MethodPost, "/v1/chat", map[string]string{"message": "chest pain, I am at Clifton"})
	require.Equal(t, http.StatusOK, w.Code)
	first := decode[models.Response](t, w)
	assert.Equal(t, models.ResponseConfirmation, first.Type)
	assert.Equal(t, []string{"phone"}, first.Missing)

	w = do(t, srv, http.MethodPost, "/v1/sessions/"+first.SessionID+"/phone", map[string]string{"number": "0300-1234567"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, srv, http.MethodPost, "/v1/chat", map[string]string{"session_id": first.SessionID, "message": "chest pain, I am at Clifton"})
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[models.Response](t, w)
	assert.Equal(t, models.ResponseMessage, second.Type)
	require.Len(t, second.Dispatches, 1)

	w = do(t, srv, http.MethodGet, "/v1/sessions/"+first.SessionID+"/dispatches", nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decode[map[string][]models.Dispatch](t, w)
	assert.Len(t, listed["dispatches"], 1)

	w = do(t, srv, http.MethodPost, "/v1/sessions/"+first.SessionID+"/confirm", map[string]bool{"confirmed": true})
	require.Equal(t, http.StatusOK, w.Code)
	confirmed := decode[models.Response](t, w)
	require.Len(t, confirmed.Dispatches, 1)
	assert.Equal(t, models.StatusEnRoute, confirmed.Dispatches[0].Status)

	w = do(t, srv, http.MethodGet, "/v1/dispatches/"+second.Dispatches[0].ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	d := decode[models.Dispatch](t, w)
	assert.True(t, d.Confirmed)
}

func TestDispatchStatus(t *testing.T) {
	srv := setupTestServer(t)
	id := createSession(t, srv)

	w := do(t, srv, http.MethodPost, "/v1/sessions/"+id+"/phone", map[string]string{"number": "0300-1234567"})
	require.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, srv, http.MethodPost, "/v1/chat", map[string]string{"session_id": id, "message": "chest pain, I am at Clifton"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[models.Response](t, w)
	require.Len(t, resp.Dispatches, 1)
	path := "/v1/dispatches/" + resp.Dispatches[0].ID + "/status"

	w = do(t, srv, http.MethodPost, path, map[string]string{"status": "en_route"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusEnRoute, decode[models.Dispatch](t, w).Status)

	w = do(t, srv, http.MethodPost, "/v1/sessions/"+id+"/arrived", nil)
	require.Equal(t, http.StatusOK, w.Code)
	arrived := decode[models.Response](t, w)
	require.Len(t, arrived.Dispatches, 1)
	assert.Equal(t, models.StatusArrived, arrived.Dispatches[0].Status)

	w = do(t, srv, http.MethodPost, path, map[string]string{"status": "en_route"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, srv, http.MethodPost, path, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, srv, http.MethodPost, "/v1/dispatches/missing/status", map[string]string{"status": "arrived"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, srv, http.MethodPost, "/v1/sessions/missing/arrived", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChat_RequiresMessage(t *testing.T) {
	srv := setupTestServer(t)

	w := do(t, srv, http.MethodPost, "/v1/chat", map[string]string{"session_id": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSession_NotFound(t *testing.T) {
	srv := setupTestServer(t)

	for _, path := range []string{"/v1/sessions/missing", "/v1/sessions/missing/history", "/v1/sessions/missing/dispatches"} {
		w := do(t, srv, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
	w := do(t, srv, http.MethodPost, "/v1/sessions/missing/confirm", map[string]bool{"confirmed": true})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, http.MethodGet, "/v1/dispatches/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSession_LocationLifecycle(t *testing.T) {
	srv := setupTestServer(t)
	id := createSession(t, srv)

	w := do(t, srv, http.MethodPost, "/v1/sessions/"+id+"/location", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodPost, "/v1/sessions/"+id+"/location", map[string]any{"latitude": 124.0, "longitude": 67.0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodPost, "/v1/sessions/"+id+"/location/deny", map[string]string{"reason": "privacy"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, srv, http.MethodGet, "/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view struct {
		Summary      router.SessionSummary   `json:"summary"`
		Location     gate.LocationValidation `json:"location"`
		Requirements gate.Requirements       `json:"requirements"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.False(t, view.Summary.HasLocation)
	assert.Equal(t, []string{gate.FieldLocationAccess}, view.Location.Missing)
	assert.False(t, view.Requirements.CanProceed)

	w = do(t, srv, http.MethodPost, "/v1/sessions/"+id+"/location", map[string]any{"latitude": 24.86, "longitude": 67.0, "accuracy": 10})
	require.Equal(t, http.StatusOK, w.Code)
	loc := decode[gate.LocationValidation](t, w)
	assert.True(t, loc.Valid)
	assert.False(t, loc.Complete)

	w = do(t, srv, http.MethodPost, "/v1/sessions/"+id+"/location", map[string]any{"address": "Block 7, Clifton"})
	require.Equal(t, http.StatusOK, w.Code)
	loc = decode[gate.LocationValidation](t, w)
	assert.True(t, loc.Valid)
	assert.True(t, loc.Complete)
}

func TestSession_PhoneValidation(t *testing.T) {
	srv := setupTestServer(t)
	id := createSession(t, srv)

	w := do(t, srv, http.MethodPost, "/v1/sessions/"+id+"/phone", map[string]string{"number": "12345"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodPost, "/v1/sessions/"+id+"/phone", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodPost, "/v1/sessions/missing/phone", map[string]string{"number": "0300-1234567"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSession_Permission(t *testing.T) {
	srv := setupTestServer(t)
	id := createSession(t, srv)

	w := do(t, srv, http.MethodPost, "/v1/sessions/"+id+"/permission", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodPost, "/v1/sessions/"+id+"/permission", map[string]any{"granted": false, "reason": "not now"})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestSession_History(t *testing.T) {
	srv := setupTestServer(t)

	w := do(t, srv, http.MethodPost, "/v1/chat", map[string]string{"message": "help now"})
	require.Equal(t, http.StatusOK, w.Code)
	id := decode[models.Response](t, w).SessionID

	w = do(t, srv, http.MethodGet, "/v1/sessions/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[map[string][]models.HistoryEntry](t, w)
	require.Len(t, history["history"], 2)
	assert.Equal(t, "help now", history["history"][0].Content)

	w = do(t, srv, http.MethodDelete, "/v1/sessions/"+id+"/history", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, srv, http.MethodGet, "/v1/sessions/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history = decode[map[string][]models.HistoryEntry](t, w)
	assert.Empty(t, history["history"])
}

func TestServices(t *testing.T) {
	srv := setupTestServer(t)

	w := do(t, srv, http.MethodGet, "/v1/services", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]map[models.Category]router.ServiceCount](t, w)
	services := body["services"]
	require.Len(t, services, 3)
	assert.Equal(t, 5, services[models.CategoryFire].Units)
}

func TestNearby(t *testing.T) {
	srv := setupTestServer(t)

	w := do(t, srv, http.MethodGet, "/v1/facilities/nearby?lat=24.8123&lon=66.9967&category=medical&limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string][]models.Facility](t, w)
	require.Len(t, body["facilities"], 2)
	assert.Equal(t, "ziauddin-clifton", body["facilities"][0].ID)

	w = do(t, srv, http.MethodGet, "/v1/facilities/nearby?lon=66.9967", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodGet, "/v1/facilities/nearby?lat=24.8&lon=67&radius=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodGet, "/v1/facilities/nearby?lat=24.8&lon=67&category=ferry", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := setupTestServer(t)

	do(t, srv, http.MethodGet, "/healthz", nil)
	do(t, srv, http.MethodPost, "/v1/chat", map[string]string{"message": "hello"})

	w := do(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, `rescuebot_http_requests_total{method="GET",path="/healthz",status="200"} 1`), body)
	assert.Contains(t, body, `rescuebot_responses_total{type="response"} 1`)
	assert.Contains(t, body, `rescuebot_classifications_total{category="general",source="keyword"} 1`)
}
