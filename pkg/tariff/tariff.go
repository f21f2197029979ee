// Package tariff resolves the applicable grid unit price and capacity tier
// charges for a timestamp and a tariff configuration.
package tariff

import (
	"math"
	"time"

	"github.com/utilitycost/utilitycost/pkg/formula"
	"github.com/utilitycost/utilitycost/pkg/period"
	"github.com/utilitycost/utilitycost/pkg/types"
)

// Daytime is [06:00, 22:00) local time under the time-differentiated regime.
const (
	daytimeStartHour = 6
	daytimeEndHour   = 22
)

// RoundPrice rounds a unit price to 5 decimal places.
func RoundPrice(price float64) float64 {
	return math.Round(100000*price) / 100000
}

// Resolver resolves grid tariff rates. It is a pure function of its inputs and
// the calculator's time zone.
type Resolver struct {
	cal *period.Calculator
}

// NewResolver creates a Resolver using the given period calculator.
func NewResolver(cal *period.Calculator) *Resolver {
	return &Resolver{cal: cal}
}

// GridPrice returns the grid unit price per kWh at the given instant.
//
// Under the flat regime the configured flat price applies unconditionally.
// Under the time-differentiated regime the price is selected by
// {summer|winter} x {low|high}, where low price applies outside daytime, or on
// weekends when the low-weekend option is enabled.
func (r *Resolver) GridPrice(at time.Time, s types.Settings) float64 {
	if !s.GridNewRegime {
		return s.GridConsumption
	}

	local := at.In(r.cal.Location())
	hour := local.Hour()
	daytime := hour >= daytimeStartHour && hour < daytimeEndHour
	weekend := local.Weekday() == time.Saturday || local.Weekday() == time.Sunday
	lowPrice := !daytime || s.GridEnergyLowWeekends && weekend

	month := int(local.Month())
	winterStart := s.GridEnergyWinterStart
	summerStart := s.GridEnergySummerStart
	isSummer := winterStart < summerStart && month >= summerStart ||
		winterStart > summerStart && month >= summerStart && month < winterStart

	var price float64
	if isSummer {
		if lowPrice {
			price = s.GridEnergyNightSummer
		} else {
			price = s.GridEnergyDaySummer
		}
	} else {
		if lowPrice {
			price = s.GridEnergyNight
		} else {
			price = s.GridEnergyDay
		}
	}
	return RoundPrice(price)
}

// GridFixedPerDay returns the per-day share of the yearly fixed grid amount.
// Under the time-differentiated regime fixed charges are absorbed into
// capacity billing, so this returns 0.
func (r *Resolver) GridFixedPerDay(at time.Time, s types.Settings) float64 {
	if s.GridNewRegime {
		return 0
	}
	return s.GridFixedAmount / float64(r.cal.DaysInYear(at))
}

// UtilityFixedPerDay returns the per-day share of the monthly fixed utility
// amount, computed by evaluating the fixed-amount formula for at's month.
func (r *Resolver) UtilityFixedPerDay(at time.Time, s types.Settings, eval formula.Evaluator) (float64, error) {
	monthly, err := eval.Evaluate(s.CostFormulaFixedAmount, map[string]float64{
		formula.MonthlyHoursVariable: float64(r.cal.HoursInMonth(at)),
	})
	if err != nil {
		return 0, err
	}
	return monthly / float64(r.cal.DaysInMonth(at)), nil
}

// capacity band lower bounds in Wh; the last band is open-ended.
var bandLimits = []float64{2000, 5000, 10000, 15000, 20000, 25000}

// GridCapacity returns the capacity tier price for the given monthly peak
// consumption metric (Wh).
func GridCapacity(maxConsumptionWh float64, s types.Settings) float64 {
	prices := [...]float64{
		s.GridCapacity0_2,
		s.GridCapacity2_5,
		s.GridCapacity5_10,
		s.GridCapacity10_15,
		s.GridCapacity15_20,
		s.GridCapacity20_25,
	}
	return prices[GridCapacityLevel(maxConsumptionWh)]
}

// GridCapacityLevel returns the 0-5 ordinal of the capacity band for the given
// monthly peak consumption metric (Wh). Consumption at or above 20000 Wh maps
// to the top band.
func GridCapacityLevel(maxConsumptionWh float64) int {
	for level, limit := range bandLimits[:len(bandLimits)-1] {
		if maxConsumptionWh < limit {
			return level
		}
	}
	return len(bandLimits) - 1
}

// Band is one capacity band with its upper limit and configured price.
type Band struct {
	LimitWh float64 `json:"limit"`
	Price   float64 `json:"price"`
}

// Bands returns the capacity band table for the given settings.
func Bands(s types.Settings) []Band {
	return []Band{
		{LimitWh: 2000, Price: s.GridCapacity0_2},
		{LimitWh: 5000, Price: s.GridCapacity2_5},
		{LimitWh: 10000, Price: s.GridCapacity5_10},
		{LimitWh: 15000, Price: s.GridCapacity10_15},
		{LimitWh: 20000, Price: s.GridCapacity15_20},
		{LimitWh: 25000, Price: s.GridCapacity20_25},
	}
}
