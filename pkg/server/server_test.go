package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/utilitycost/utilitycost/pkg/engine"
	"github.com/utilitycost/utilitycost/pkg/formula"
	"github.com/utilitycost/utilitycost/pkg/period"
	"github.com/utilitycost/utilitycost/pkg/storage"
	"github.com/utilitycost/utilitycost/pkg/tariff"
	"github.com/utilitycost/utilitycost/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Oslo")
	require.NoError(t, err)
	cal := period.NewCalculator(loc)
	store := storage.NewMemory()
	eng := engine.New(store, formula.New(), cal, tariff.NewResolver(cal), engine.LogNotifier{}, types.DefaultHandlerOptions)
	return &Server{engine: eng, store: store, deviceID: "default"}, store
}

func doReq(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func getCounters(t *testing.T, h http.Handler) map[string]float64 {
	t.Helper()
	w := doReq(t, h, "GET", "/api/counters", "")
	require.Equal(t, http.StatusOK, w.Code)
	var counters map[string]float64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &counters))
	return counters
}

func TestConsumptionEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	h := srv.setupHandler()
	ctx := context.Background()

	require.NoError(t, store.SetValue(ctx, "default", types.CounterPriceIncl, 1.5))
	require.NoError(t, store.SetValue(ctx, "default", types.CounterGridPriceIncl, 0.5))

	loc, _ := time.LoadLocation("Europe/Oslo")
	t0 := time.Date(2022, 1, 5, 12, 0, 0, 0, loc)

	w := doReq(t, h, "POST", "/api/consumption",
		`{"consumption": 1000, "ts": "`+t0.Format(time.RFC3339)+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doReq(t, h, "POST", "/api/consumption",
		`{"consumption": 1000, "ts": "`+t0.Add(time.Minute).Format(time.RFC3339)+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	counters := getCounters(t, h)
	assert.InDelta(t, 0.025, counters[types.CounterCostToday], 1e-9)
	assert.InDelta(t, 1.0/120, counters[types.CounterGridToday], 1e-9)
	assert.Equal(t, 1000.0, counters[types.CounterConsumption])

	t.Run("missing consumption", func(t *testing.T) {
		w := doReq(t, h, "POST", "/api/consumption", `{"ts": "2022-01-05T12:00:00+01:00"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid ts", func(t *testing.T) {
		w := doReq(t, h, "POST", "/api/consumption", `{"consumption": 1000, "ts": "yesterday"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		w := doReq(t, h, "POST", "/api/consumption", `{`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestEnergyEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	h := srv.setupHandler()
	ctx := context.Background()

	require.NoError(t, store.SetValue(ctx, "default", types.CounterPriceIncl, 1.5))

	loc, _ := time.LoadLocation("Europe/Oslo")
	t0 := time.Date(2022, 1, 5, 12, 0, 0, 0, loc)

	w := doReq(t, h, "POST", "/api/energy",
		`{"energy": 100, "ts": "`+t0.Format(time.RFC3339)+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doReq(t, h, "POST", "/api/energy",
		`{"energy": 100.001, "ts": "`+t0.Add(time.Minute).Format(time.RFC3339)+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	counters := getCounters(t, h)
	assert.Equal(t, 100.001, counters[types.CounterEnergy])
	// 1 Wh over a minute is a 60 W rate
	assert.InDelta(t, 60.0, counters[types.CounterConsumption], 1e-9)
	assert.InDelta(t, 0.0015, counters[types.CounterCostToday], 1e-9)

	t.Run("missing energy", func(t *testing.T) {
		w := doReq(t, h, "POST", "/api/energy", `{"ts": "2022-01-05T12:00:00+01:00"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPriceEndpoints(t *testing.T) {
	srv, store := newTestServer(t)
	h := srv.setupHandler()
	ctx := context.Background()

	require.NoError(t, store.SetSettings(ctx, "default", types.Settings{
		PriceCalcMethod:        types.PriceCalcMethodSpot,
		CostFormula:            "PRICE_NORDPOOL * 1.25 + 0.0299",
		CostFormulaFixedAmount: "0",
		GridCapacityAverage:    3,
	}, types.CurrentSettingsVersion))

	t.Run("spot", func(t *testing.T) {
		w := doReq(t, h, "POST", "/api/price/spot", `{"price": 1.23}`)
		require.Equal(t, http.StatusOK, w.Code)

		counters := getCounters(t, h)
		assert.Equal(t, 1.23, counters[types.CounterPriceExcl])
		assert.InDelta(t, 1.5674, counters[types.CounterPriceIncl], 1e-9)
	})

	t.Run("flow switches method", func(t *testing.T) {
		w := doReq(t, h, "POST", "/api/price/flow", `{"price": 2.5}`)
		require.Equal(t, http.StatusOK, w.Code)

		counters := getCounters(t, h)
		assert.Equal(t, 2.0, counters[types.CounterPriceExcl])
		assert.Equal(t, 2.5, counters[types.CounterPriceIncl])

		settings, _, err := store.GetSettings(ctx, "default")
		require.NoError(t, err)
		assert.Equal(t, types.PriceCalcMethodFlow, settings.PriceCalcMethod)
	})

	t.Run("missing price", func(t *testing.T) {
		w := doReq(t, h, "POST", "/api/price/spot", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doReq(t, srv.setupHandler(), "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}
