package capacity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/utilitycost/utilitycost/pkg/period"
	"github.com/utilitycost/utilitycost/pkg/types"
)

func snapshotAt(t *testing.T, cal *period.Calculator, now, last string) types.PeriodSnapshot {
	t.Helper()
	nowTS, err := time.Parse(time.RFC3339, now)
	require.NoError(t, err)
	lastTS := time.Time{}
	if last != "" {
		lastTS, err = time.Parse(time.RFC3339, last)
		require.NoError(t, err)
	}
	return cal.Compute(nowTS, lastTS)
}

func TestUpdate(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Oslo")
	require.NoError(t, err)
	cal := period.NewCalculator(loc)

	t.Run("within hour accumulates", func(t *testing.T) {
		state := &types.StoreState{}
		p := snapshotAt(t, cal, "2022-07-05T10:30:00+02:00", "2022-07-05T10:00:00+02:00")
		res := Update(1000, 200, 500, p, state, 3)
		assert.Equal(t, 700.0, res.ConsumptionThisHour) // 1000 W for 30 min + 200 Wh
		assert.Equal(t, 500.0, res.PreviousMax)
		assert.Equal(t, 700.0, res.NewMax)
		assert.True(t, res.Changed)
	})

	t.Run("new hour resets accumulator and caps at one hour", func(t *testing.T) {
		state := &types.StoreState{}
		p := snapshotAt(t, cal, "2022-07-05T12:00:00+02:00", "2022-07-05T09:00:00+02:00")
		res := Update(2000, 1500, 0, p, state, 3)
		// 3 hours elapsed but the energy attributed to the hour is capped at one hour's worth
		assert.Equal(t, 2000.0, res.ConsumptionThisHour)
	})

	t.Run("month rollover clears and seeds", func(t *testing.T) {
		state := &types.StoreState{Highest10Hours: []types.MaxConsumptionDay{
			{StartOfDay: 1, Consumption: 9000},
			{StartOfDay: 2, Consumption: 8000},
		}}
		p := snapshotAt(t, cal, "2022-08-01T00:00:30+02:00", "2022-07-31T23:59:30+02:00")
		require.True(t, p.NewMonth)
		res := Update(1200, 500, 8500, p, state, 3)
		require.Len(t, state.Highest10Hours, 1)
		assert.InDelta(t, 20.0, res.ConsumptionThisHour, 1e-9) // 1200 W for 60 s
		assert.Equal(t, res.ConsumptionThisHour, res.NewMax)
		assert.True(t, res.Changed)
	})

	t.Run("one entry per day keeps the larger value", func(t *testing.T) {
		state := &types.StoreState{}
		p1 := snapshotAt(t, cal, "2022-07-05T10:00:00+02:00", "2022-07-05T09:00:00+02:00")
		Update(3000, 0, 0, p1, state, 3)
		p2 := snapshotAt(t, cal, "2022-07-05T11:00:00+02:00", "2022-07-05T10:00:00+02:00")
		res := Update(1000, 0, 3000, p2, state, 3)
		require.Len(t, state.Highest10Hours, 1)
		assert.Equal(t, 3000.0, state.Highest10Hours[0].Consumption)
		assert.Equal(t, 3000.0, res.NewMax)
		assert.False(t, res.Changed)
	})

	t.Run("metric averages the top entries", func(t *testing.T) {
		// replay of the daily peak sequence 1000, 2000, 6000, 9000
		state := &types.StoreState{Highest10Hours: []types.MaxConsumptionDay{
			{StartOfDay: dayMs(cal, 2022, 7, 1), Consumption: 1000},
		}}
		p := snapshotAt(t, cal, "2022-07-02T00:00:00+02:00", "2022-07-01T12:00:00+02:00")
		res := Update(2000, 0, 1000, p, state, 3)
		assert.Equal(t, 1500.0, res.NewMax)

		p = snapshotAt(t, cal, "2022-07-03T00:00:00+02:00", "2022-07-02T12:00:00+02:00")
		res = Update(6000, 0, res.NewMax, p, state, 3)
		assert.Equal(t, 3000.0, res.NewMax)

		p = snapshotAt(t, cal, "2022-07-04T00:00:00+02:00", "2022-07-03T12:00:00+02:00")
		res = Update(9000, 0, res.NewMax, p, state, 3)
		assert.InDelta(t, 5666.66666, res.NewMax, 0.00001)
	})

	t.Run("window is bounded", func(t *testing.T) {
		state := &types.StoreState{}
		for day := 1; day <= 14; day++ {
			p := snapshotAt(t, cal,
				time.Date(2022, 7, day, 13, 0, 0, 0, loc).Format(time.RFC3339),
				time.Date(2022, 7, day, 12, 0, 0, 0, loc).Format(time.RFC3339))
			Update(float64(day*1000), 0, 0, p, state, 3)
		}
		require.Len(t, state.Highest10Hours, WindowCap)
		// lowest four days fell out
		assert.Equal(t, 14000.0, state.Highest10Hours[0].Consumption)
		assert.Equal(t, 5000.0, state.Highest10Hours[WindowCap-1].Consumption)
	})

	t.Run("average window clamps to length", func(t *testing.T) {
		state := &types.StoreState{Highest10Hours: []types.MaxConsumptionDay{
			{StartOfDay: dayMs(cal, 2022, 7, 1), Consumption: 4000},
		}}
		p := snapshotAt(t, cal, "2022-07-02T13:00:00+02:00", "2022-07-02T12:00:00+02:00")
		res := Update(2000, 0, 4000, p, state, 5)
		assert.Equal(t, 3000.0, res.NewMax)
	})
}

func dayMs(cal *period.Calculator, year int, month time.Month, day int) int64 {
	return time.Date(year, month, day, 0, 0, 0, 0, cal.Location()).UnixMilli()
}
