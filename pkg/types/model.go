package types

import (
	"time"
)

// Counter keys. One float64 value is persisted per key per device. The names
// mirror the capability ids exposed to the caller so dashboards and flows can
// address them directly.
const (
	CounterConsumption = "meter_consumption" // last known consumption rate (W)
	CounterEnergy      = "meter_energy"      // last cumulative energy reading (kWh)

	CounterEnergyAcc       = "meter_power_acc"       // accumulated energy (kWh), optionally reset daily
	CounterEnergyMonth     = "meter_power_month"     // energy this month (kWh)
	CounterEnergyLastMonth = "meter_power_lastmonth" // energy previous month (kWh)
	CounterEnergyYear      = "meter_power_year"      // energy this year (kWh)

	CounterPriceExcl     = "meter_price_excl"     // utility price excl. tax (per kWh)
	CounterPriceIncl     = "meter_price_incl"     // utility price incl. tax (per kWh)
	CounterPriceSum      = "meter_price_sum"      // utility + grid unit price (per kWh)
	CounterGridPriceIncl = "meter_gridprice_incl" // grid unit price incl. tax (per kWh)

	CounterCostToday     = "meter_cost_today"
	CounterCostTodayExcl = "meter_cost_today_excl" // today's utility cost without the fixed surcharge
	CounterCostYesterday = "meter_cost_yesterday"
	CounterCostMonth     = "meter_cost_month"
	CounterCostLastMonth = "meter_cost_lastmonth"
	CounterCostYear      = "meter_cost_year"

	CounterGridToday     = "meter_grid_today"
	CounterGridYesterday = "meter_grid_yesterday"
	CounterGridMonth     = "meter_grid_month"
	CounterGridLastMonth = "meter_grid_lastmonth"
	CounterGridYear      = "meter_grid_year"

	CounterConsumptionHour     = "meter_consumption_hour"     // consumption within the current hour (Wh)
	CounterConsumptionMaxMonth = "meter_consumption_maxmonth" // capacity metric for the month (Wh)
	CounterCostCapacity        = "meter_cost_capacity"        // capacity tier price at the current metric

	CounterSumCurrent = "meter_sum_current" // instantaneous combined cost rate
	CounterSumDay     = "meter_sum_day"
	CounterSumMonth   = "meter_sum_month"
	CounterSumYear    = "meter_sum_year"
)

// PeriodSnapshot describes where a timestamp falls relative to the previous
// update. All period starts are computed in the device's local time zone.
type PeriodSnapshot struct {
	Now        time.Time
	LastUpdate time.Time // zero on the first-ever update

	StartOfHour  time.Time
	StartOfDay   time.Time
	StartOfMonth time.Time
	StartOfYear  time.Time

	NewHour  bool
	NewDay   bool
	NewMonth bool
	NewYear  bool
}

// MaxConsumptionDay is one entry in the capacity window: the highest hourly
// consumption (Wh) observed on a given day.
type MaxConsumptionDay struct {
	StartOfDay  int64   `json:"startOfDay"` // unix milliseconds of local midnight
	Consumption float64 `json:"consumption"`
}

// StoreState is the persisted per-device state that is not a plain counter.
type StoreState struct {
	// LastConsumptionUpdate is the previous update instant in unix milliseconds,
	// 0 when no update has been recorded yet.
	LastConsumptionUpdate int64 `json:"lastConsumptionUpdate"`

	// ConsumptionMinute is true when the device is driven by rate samples and
	// should be re-evaluated on the timer even without a fresh sample.
	ConsumptionMinute bool `json:"consumptionMinute"`

	// Highest10Hours holds the highest daily peak-hour consumption values for
	// the current month, at most one entry per day, sorted descending.
	Highest10Hours []MaxConsumptionDay `json:"highest10Hours,omitempty"`
}

// HandlerOptions selects which optional cost components the engine applies.
// This replaces the device-variant subclassing of earlier iterations.
type HandlerOptions struct {
	AddFixedUtilityCosts bool `json:"addFixedUtilityCosts"`
	AddCapacityCosts     bool `json:"addCapacityCosts"`
}

// DefaultHandlerOptions enables all optional cost components.
var DefaultHandlerOptions = HandlerOptions{
	AddFixedUtilityCosts: true,
	AddCapacityCosts:     true,
}

// SpotPrice is one hour of a day-ahead market price.
type SpotPrice struct {
	TSStart time.Time `json:"tsStart"`
	Price   float64   `json:"price"` // per kWh, excl. tax
}
