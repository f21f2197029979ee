package tariff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/utilitycost/utilitycost/pkg/formula"
	"github.com/utilitycost/utilitycost/pkg/period"
	"github.com/utilitycost/utilitycost/pkg/types"
)

func osloResolver(t *testing.T) (*Resolver, *time.Location) {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Oslo")
	require.NoError(t, err)
	return NewResolver(period.NewCalculator(loc)), loc
}

func newRegimeSettings() types.Settings {
	return types.Settings{
		GridNewRegime:         true,
		GridEnergyDay:         0.4,
		GridEnergyNight:       0.3,
		GridEnergyDaySummer:   0.35,
		GridEnergyNightSummer: 0.25,
		GridEnergySummerStart: 4,
		GridEnergyWinterStart: 11,
		GridEnergyLowWeekends: true,
	}
}

func TestGridPrice(t *testing.T) {
	r, loc := osloResolver(t)

	t.Run("flat regime", func(t *testing.T) {
		s := types.Settings{GridConsumption: 0.5}
		price := r.GridPrice(time.Date(2022, 7, 2, 12, 0, 0, 0, loc), s)
		assert.Equal(t, 0.5, price)
	})

	t.Run("truth table", func(t *testing.T) {
		s := newRegimeSettings()
		tests := []struct {
			name  string
			at    time.Time
			price float64
		}{
			// 2022-01-05 is a Wednesday, 2022-01-08 a Saturday
			{"winter weekday day", time.Date(2022, 1, 5, 12, 0, 0, 0, loc), 0.4},
			{"winter weekday night", time.Date(2022, 1, 5, 23, 0, 0, 0, loc), 0.3},
			{"winter weekend day", time.Date(2022, 1, 8, 12, 0, 0, 0, loc), 0.3},
			{"winter weekend night", time.Date(2022, 1, 8, 5, 0, 0, 0, loc), 0.3},
			// 2022-07-06 is a Wednesday, 2022-07-09 a Saturday
			{"summer weekday day", time.Date(2022, 7, 6, 12, 0, 0, 0, loc), 0.35},
			{"summer weekday night", time.Date(2022, 7, 6, 23, 0, 0, 0, loc), 0.25},
			{"summer weekend day", time.Date(2022, 7, 9, 12, 0, 0, 0, loc), 0.25},
			{"summer weekend night", time.Date(2022, 7, 9, 5, 0, 0, 0, loc), 0.25},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.price, r.GridPrice(tt.at, s))
			})
		}
	})

	t.Run("daytime boundaries", func(t *testing.T) {
		s := newRegimeSettings()
		// weekday in winter
		assert.Equal(t, 0.3, r.GridPrice(time.Date(2022, 1, 5, 5, 59, 0, 0, loc), s))
		assert.Equal(t, 0.4, r.GridPrice(time.Date(2022, 1, 5, 6, 0, 0, 0, loc), s))
		assert.Equal(t, 0.4, r.GridPrice(time.Date(2022, 1, 5, 21, 59, 0, 0, loc), s))
		assert.Equal(t, 0.3, r.GridPrice(time.Date(2022, 1, 5, 22, 0, 0, 0, loc), s))
	})

	t.Run("weekend without low weekends", func(t *testing.T) {
		s := newRegimeSettings()
		s.GridEnergyLowWeekends = false
		assert.Equal(t, 0.4, r.GridPrice(time.Date(2022, 1, 8, 12, 0, 0, 0, loc), s))
	})

	t.Run("season boundary months", func(t *testing.T) {
		s := newRegimeSettings()
		// April is the first summer month, November the first winter month
		assert.Equal(t, 0.4, r.GridPrice(time.Date(2022, 3, 2, 12, 0, 0, 0, loc), s))
		assert.Equal(t, 0.35, r.GridPrice(time.Date(2022, 4, 6, 12, 0, 0, 0, loc), s))
		assert.Equal(t, 0.35, r.GridPrice(time.Date(2022, 10, 5, 12, 0, 0, 0, loc), s))
		assert.Equal(t, 0.4, r.GridPrice(time.Date(2022, 11, 2, 12, 0, 0, 0, loc), s))
	})

	t.Run("result is rounded to 5 decimals", func(t *testing.T) {
		s := newRegimeSettings()
		s.GridEnergyDay = 0.123456789
		assert.Equal(t, 0.12346, r.GridPrice(time.Date(2022, 1, 5, 12, 0, 0, 0, loc), s))
	})
}

func TestGridFixedPerDay(t *testing.T) {
	r, loc := osloResolver(t)

	t.Run("flat regime divides by days in year", func(t *testing.T) {
		s := types.Settings{GridFixedAmount: 3650}
		got := r.GridFixedPerDay(time.Date(2022, 6, 1, 0, 0, 0, 0, loc), s)
		assert.InDelta(t, 10.0, got, 1e-9)

		// leap year
		got = r.GridFixedPerDay(time.Date(2024, 6, 1, 0, 0, 0, 0, loc), s)
		assert.InDelta(t, 3650.0/366.0, got, 1e-9)
	})

	t.Run("new regime has no fixed amount", func(t *testing.T) {
		s := types.Settings{GridNewRegime: true, GridFixedAmount: 3650}
		assert.Equal(t, 0.0, r.GridFixedPerDay(time.Date(2022, 6, 1, 0, 0, 0, 0, loc), s))
	})
}

func TestUtilityFixedPerDay(t *testing.T) {
	r, loc := osloResolver(t)
	eval := formula.New()

	t.Run("monthly amount divided by days", func(t *testing.T) {
		s := types.Settings{CostFormulaFixedAmount: "62"}
		got, err := r.UtilityFixedPerDay(time.Date(2022, 1, 10, 12, 0, 0, 0, loc), s, eval)
		require.NoError(t, err)
		assert.InDelta(t, 2.0, got, 1e-9)
	})

	t.Run("monthly hours variable", func(t *testing.T) {
		// 0.125 per hour over January's 744 hours
		s := types.Settings{CostFormulaFixedAmount: "MONTHLY_HOURS * 0.125"}
		got, err := r.UtilityFixedPerDay(time.Date(2022, 1, 10, 12, 0, 0, 0, loc), s, eval)
		require.NoError(t, err)
		assert.InDelta(t, 3.0, got, 1e-9)
	})

	t.Run("invalid formula", func(t *testing.T) {
		s := types.Settings{CostFormulaFixedAmount: "XXX + 1"}
		_, err := r.UtilityFixedPerDay(time.Date(2022, 1, 10, 12, 0, 0, 0, loc), s, eval)
		var ferr *formula.Error
		assert.ErrorAs(t, err, &ferr)
	})
}

func TestGridCapacity(t *testing.T) {
	s := types.Settings{
		GridCapacity0_2:   125,
		GridCapacity2_5:   206,
		GridCapacity5_10:  350,
		GridCapacity10_15: 494,
		GridCapacity15_20: 638,
		GridCapacity20_25: 781,
	}

	tests := []struct {
		maxWh float64
		price float64
		level int
	}{
		{0, 125, 0},
		{1999.99, 125, 0},
		{2000, 206, 1},
		{4999, 206, 1},
		{5000, 350, 2},
		{9999, 350, 2},
		{10000, 494, 3},
		{15000, 638, 4},
		{19999, 638, 4},
		{20000, 781, 5},
		{50000, 781, 5}, // top band is open-ended
	}
	for _, tt := range tests {
		assert.Equal(t, tt.price, GridCapacity(tt.maxWh, s), "price for %v", tt.maxWh)
		assert.Equal(t, tt.level, GridCapacityLevel(tt.maxWh), "level for %v", tt.maxWh)
	}
}

func TestBands(t *testing.T) {
	s := types.Settings{GridCapacity0_2: 1, GridCapacity2_5: 2, GridCapacity5_10: 3,
		GridCapacity10_15: 4, GridCapacity15_20: 5, GridCapacity20_25: 6}
	bands := Bands(s)
	require.Len(t, bands, 6)
	assert.Equal(t, Band{LimitWh: 2000, Price: 1}, bands[0])
	assert.Equal(t, Band{LimitWh: 25000, Price: 6}, bands[5])
}

func TestPresets(t *testing.T) {
	t.Run("known ids", func(t *testing.T) {
		assert.Equal(t, []string{"aenett", "bkk", "elvia", "lnett"}, PresetIDs())
	})

	t.Run("lookup", func(t *testing.T) {
		p, ok := LookupPreset("elvia")
		require.True(t, ok)
		assert.Equal(t, "Elvia", p.Description)
		assert.Equal(t, 0.4310, p.GridEnergyDay)
		assert.Equal(t, 3, p.GridCapacityAverage)

		_, ok = LookupPreset("unknown")
		assert.False(t, ok)
	})

	t.Run("apply", func(t *testing.T) {
		p, ok := LookupPreset("bkk")
		require.True(t, ok)
		s := p.Apply(types.Settings{GridCompany: "bkk"})
		assert.True(t, s.GridNewRegime)
		assert.Equal(t, 125.0, s.GridCapacity0_2)
		assert.Equal(t, 781.0, s.GridCapacity20_25)
		assert.Equal(t, 0.3990, s.GridEnergyNight)
		assert.True(t, s.GridEnergyLowWeekends)
	})
}
