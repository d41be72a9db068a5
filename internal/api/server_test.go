package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/envgraph/internal/model"
	"github.com/sells-group/envgraph/internal/query"
	"github.com/sells-group/envgraph/internal/store"
	"github.com/sells-group/envgraph/internal/store/storetest"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := storetest.NewSQLite(t)
	storetest.District(t, st, "Pune", "Solapur")
	storetest.Neighbors(t, st, "Pune", "Solapur")
	storetest.Measurement(t, st, model.Measurement{
		ID: "m1", Type: model.CO, Region: "Pune",
		Timestamp: "2020-01-01T00:00:00 to 2020-01-31T00:00:00",
	}, 0.03, true)
	return NewServer(":0", query.NewService(st, nil), st, []string{"*"})
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/fetch_data", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestFetchData(t *testing.T) {
	srv := newTestServer(t)

	rec := post(t, srv, `{"district":"Pune","start_date":"2020-01-01","end_date":"2020-01-31T23:59:59","prediction_target":"CO"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Pune", body["district"])
	assert.Nil(t, body["landcover"])
	assert.Equal(t, map[string]any{}, body["neighbour_atmosphere"])

	co := body["atmosphere"].(map[string]any)["CO"].([]any)
	require.Len(t, co, 1)
	entry := co[0].(map[string]any)
	assert.Equal(t, "2020-01-01T00:00:00", entry["timestamp"])
	assert.Equal(t, "CO_column_number_density", entry["parameter"])
	assert.InDelta(t, 0.03, entry["CO_column_number_density"], 1e-9)
}

func TestFetchDataBadRequests(t *testing.T) {
	srv := newTestServer(t)

	for name, body := range map[string]string{
		"malformed":    `{"district":`,
		"bad target":   `{"district":"Pune","start_date":"2020-01-01","end_date":"2020-02-01","prediction_target":"Methane"}`,
		"bad range":    `{"district":"Pune","start_date":"2020-03-01","end_date":"2020-02-01","prediction_target":"CO"}`,
		"no district":  `{"start_date":"2020-01-01","end_date":"2020-02-01","prediction_target":"CO"}`,
		"missing date": `{"district":"Pune","end_date":"2020-02-01","prediction_target":"Ozone"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := post(t, srv, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

type failingComposer struct{}

func (failingComposer) Compose(context.Context, query.Request) (*query.CompositeResponse, error) {
	return nil, eris.New("store unavailable")
}

type failingQuerier struct{}

func (failingQuerier) Run(context.Context, store.QueryID, store.Params) ([]store.Row, error) {
	return nil, eris.New("store unavailable")
}

func TestFetchDataStoreFailure(t *testing.T) {
	srv := NewServer(":0", failingComposer{}, failingQuerier{}, nil)

	rec := post(t, srv, `{"district":"Pune","start_date":"2020-01-01","end_date":"2020-02-01","prediction_target":"CO"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "store unavailable")

	ready := httptest.NewRecorder()
	srv.ServeHTTP(ready, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, ready.Code)
}

func TestHealthReadyMetrics(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t))
	t.Cleanup(ts.Close)

	for path, want := range map[string]int{
		"/health":     http.StatusOK,
		"/ready":      http.StatusOK,
		"/metrics":    http.StatusOK,
		"/fetch_data": http.StatusMethodNotAllowed,
	} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close() //nolint:errcheck
		assert.Equal(t, want, resp.StatusCode, path)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/fetch_data", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
