package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/utilitycost/utilitycost/pkg/types"
)

func TestTickFixedPrice(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, store.SetSettings(ctx, "default", types.Settings{
		PriceCalcMethod:        types.PriceCalcMethodFixed,
		CostFormula:            "1.25",
		CostFormulaFixedAmount: "0",
		GridCapacityAverage:    3,
		GridConsumption:        0.5,
	}, types.CurrentSettingsVersion))

	loc, _ := time.LoadLocation("Europe/Oslo")
	now := time.Date(2022, 1, 5, 12, 0, 0, 0, loc)
	srv.tick(ctx, now)

	counters, err := store.GetValues(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 1.25, counters[types.CounterPriceIncl])
	assert.Equal(t, 1.0, counters[types.CounterPriceExcl])
	assert.Equal(t, 0.5, counters[types.CounterGridPriceIncl])
	assert.Equal(t, 1.75, counters[types.CounterPriceSum])

	// the fixed formula only re-runs once per hour
	require.NoError(t, store.SetValue(ctx, "default", types.CounterPriceIncl, 0))
	srv.tick(ctx, now.Add(time.Minute))
	counters, err = store.GetValues(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 0.0, counters[types.CounterPriceIncl])

	srv.tick(ctx, now.Add(time.Hour))
	counters, err = store.GetValues(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 1.25, counters[types.CounterPriceIncl])
}

func TestTickReappliesConsumption(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, store.SetValue(ctx, "default", types.CounterPriceIncl, 1.5))

	loc, _ := time.LoadLocation("Europe/Oslo")
	t0 := time.Date(2022, 1, 5, 12, 0, 0, 0, loc)

	rate := 1000.0
	require.NoError(t, srv.engine.UpdateConsumption(ctx, "default", &rate, t0))

	// the minute tick advances the counters with the last known rate
	srv.tick(ctx, t0.Add(time.Minute))
	counters, err := store.GetValues(ctx, "default")
	require.NoError(t, err)
	assert.InDelta(t, 0.025, counters[types.CounterCostToday], 1e-9)

	// an energy-driven device is not re-applied by the timer
	state, err := store.GetState(ctx, "default")
	require.NoError(t, err)
	state.ConsumptionMinute = false
	require.NoError(t, store.SetState(ctx, "default", state))

	srv.tick(ctx, t0.Add(2*time.Minute))
	counters, err = store.GetValues(ctx, "default")
	require.NoError(t, err)
	assert.InDelta(t, 0.025, counters[types.CounterCostToday], 1e-9)
}
