package dashboard

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralprobe/D4/internal/engine"
	"github.com/neuralprobe/D4/internal/models"
)

type fakeSource struct {
	status engine.Status
}

func (f *fakeSource) Status() engine.Status { return f.status }

func newTestServer(token string) (*Server, *fakeSource) {
	source := &fakeSource{status: engine.Status{
		Time:       time.Date(2024, 7, 1, 9, 31, 0, 0, time.UTC),
		Cash:       95_000,
		Holdings:   5_000,
		TotalValue: 100_000,
		Positions: []models.Position{
			{Symbol: "AAPL", Qty: 357, Price: 14, MarketValue: 4998, StopTrailing: 13.86},
		},
		Decisions: []models.DecisionRecord{{Symbol: "AAPL", Buy: true}},
	}}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	srv := NewServer(Config{Port: 0, AuthToken: token}, source, nil, logger)
	return srv, source
}

func get(srv *Server, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthSkipsAuth(t *testing.T) {
	srv, _ := newTestServer("secret")

	rec := get(srv, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestAuthRejectsMissingToken(t *testing.T) {
	srv, _ := newTestServer("secret")

	assert.Equal(t, http.StatusUnauthorized, get(srv, "/api/status", nil).Code)
	assert.Equal(t, http.StatusOK, get(srv, "/api/status", map[string]string{"X-Auth-Token": "secret"}).Code)
	assert.Equal(t, http.StatusOK, get(srv, "/api/status?token=secret", nil).Code)
}

func TestStatusServesPublishedSnapshot(t *testing.T) {
	srv, _ := newTestServer("")

	rec := get(srv, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status engine.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.InDelta(t, 100_000, status.TotalValue, 1e-9)
	require.Len(t, status.Positions, 1)
	assert.Equal(t, "AAPL", status.Positions[0].Symbol)
	require.Len(t, status.Decisions, 1)
	assert.True(t, status.Decisions[0].Buy)
}

func TestAccountReportsClosedWithoutBroker(t *testing.T) {
	srv, _ := newTestServer("")

	rec := get(srv, "/api/account", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, false, payload["market_open"])
	assert.InDelta(t, 95_000, payload["cash"].(float64), 1e-9)
	assert.InDelta(t, 1, payload["positions"].(float64), 1e-9)
}

func TestMetricsEndpointExposed(t *testing.T) {
	srv, _ := newTestServer("")

	rec := get(srv, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "trader_ticks_processed_total")
}
