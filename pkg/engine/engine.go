// Package engine owns all running-counter mutation. It apportions irregular
// consumption samples across hour/day/month/year boundaries and maintains the
// utility-cost, grid-cost, energy, and combined-sum counters.
package engine

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/utilitycost/utilitycost/pkg/capacity"
	"github.com/utilitycost/utilitycost/pkg/formula"
	"github.com/utilitycost/utilitycost/pkg/log"
	"github.com/utilitycost/utilitycost/pkg/period"
	"github.com/utilitycost/utilitycost/pkg/storage"
	"github.com/utilitycost/utilitycost/pkg/tariff"
	"github.com/utilitycost/utilitycost/pkg/types"
)

// MaxSanityConsumption is the highest consumption rate (W) accepted from a
// sample. Readings above it are treated as sensor glitches and dropped before
// any counter is touched.
const MaxSanityConsumption = 100000

// Engine computes running cost accumulations for metered loads. Calls for the
// same device must be serialized by the caller; counter reads and writes are
// not atomic across an update.
type Engine struct {
	store    storage.Store
	eval     formula.Evaluator
	cal      *period.Calculator
	rates    *tariff.Resolver
	notifier Notifier
	options  types.HandlerOptions
}

// New creates an Engine. All dependencies are required.
func New(store storage.Store, eval formula.Evaluator, cal *period.Calculator, rates *tariff.Resolver, notifier Notifier, options types.HandlerOptions) *Engine {
	return &Engine{
		store:    store,
		eval:     eval,
		cal:      cal,
		rates:    rates,
		notifier: notifier,
		options:  options,
	}
}

// UpdateConsumption applies a consumption rate sample (W) at the given
// instant. A nil consumption re-applies the last known rate, which lets a
// timer re-evaluate the counters without a fresh sample. The first sample only
// establishes the baseline.
func (e *Engine) UpdateConsumption(ctx context.Context, deviceID string, consumption *float64, at time.Time) error {
	return e.update(ctx, deviceID, consumption, at, true)
}

// UpdateEnergy applies a cumulative energy reading (kWh) at the given instant.
// The consumption rate is derived from the reading delta over the elapsed
// interval. The first reading only establishes the baseline.
func (e *Engine) UpdateEnergy(ctx context.Context, deviceID string, energy float64, at time.Time) error {
	state, err := e.store.GetState(ctx, deviceID)
	if err != nil {
		return err
	}
	lastEnergy, haveEnergy, err := e.store.GetValue(ctx, deviceID, types.CounterEnergy)
	if err != nil {
		return err
	}

	if !haveEnergy || state.LastConsumptionUpdate == 0 {
		if err := e.store.SetValue(ctx, deviceID, types.CounterEnergy, energy); err != nil {
			return err
		}
		state.LastConsumptionUpdate = at.UnixMilli()
		state.ConsumptionMinute = false
		return e.store.SetState(ctx, deviceID, state)
	}

	elapsedMs := at.UnixMilli() - state.LastConsumptionUpdate
	if elapsedMs <= 0 {
		return nil
	}
	consumption := (energy - lastEnergy) * 1000 * 3600000 / float64(elapsedMs)
	if consumption > MaxSanityConsumption {
		return nil
	}

	if err := e.store.SetValue(ctx, deviceID, types.CounterEnergy, energy); err != nil {
		return err
	}
	return e.update(ctx, deviceID, &consumption, at, false)
}

func (e *Engine) update(ctx context.Context, deviceID string, consumption *float64, at time.Time, rateDriven bool) error {
	if consumption != nil && *consumption > MaxSanityConsumption {
		log.Ctx(ctx).DebugContext(ctx, "consumption above sanity ceiling, ignoring",
			slog.Float64("consumption", *consumption))
		return nil
	}

	settings, err := e.loadSettings(ctx, deviceID)
	if err != nil {
		return err
	}
	state, err := e.store.GetState(ctx, deviceID)
	if err != nil {
		return err
	}

	var lastUpdate time.Time
	if state.LastConsumptionUpdate != 0 {
		lastUpdate = time.UnixMilli(state.LastConsumptionUpdate)
	}
	p := e.cal.Compute(at, lastUpdate)
	state.LastConsumptionUpdate = at.UnixMilli()

	var rate float64
	haveRate := false
	if consumption == nil {
		rate, haveRate, err = e.store.GetValue(ctx, deviceID, types.CounterConsumption)
		if err != nil {
			return err
		}
	} else {
		rate = *consumption
		haveRate = true
		if err := e.store.SetValue(ctx, deviceID, types.CounterConsumption, rate); err != nil {
			return err
		}
		state.ConsumptionMinute = rateDriven
	}

	if !haveRate || lastUpdate.IsZero() {
		return e.store.SetState(ctx, deviceID, state)
	}

	hourAcc, _, err := e.store.GetValue(ctx, deviceID, types.CounterConsumptionHour)
	if err != nil {
		return err
	}
	prevMax, _, err := e.store.GetValue(ctx, deviceID, types.CounterConsumptionMaxMonth)
	if err != nil {
		return err
	}
	capRes := capacity.Update(rate, hourAcc, prevMax, p, &state, settings.GridCapacityAverage)

	if err := e.calculateEnergy(ctx, deviceID, rate, p, settings); err != nil {
		return err
	}
	if err := e.calculateUtilityCost(ctx, deviceID, rate, p, settings); err != nil {
		return err
	}
	if err := e.calculateGridCost(ctx, deviceID, rate, p, settings, capRes); err != nil {
		return err
	}
	if err := e.persistCapacity(ctx, deviceID, p, settings, capRes); err != nil {
		return err
	}
	if err := e.calculateSumCost(ctx, deviceID, rate); err != nil {
		return err
	}

	return e.store.SetState(ctx, deviceID, state)
}

// energyKWH converts a consumption rate (W) held over [from, to) to kWh.
func energyKWH(rate float64, from, to time.Time) float64 {
	return rate * float64(to.Sub(from).Milliseconds()) / 3.6e9
}

func (e *Engine) calculateEnergy(ctx context.Context, deviceID string, rate float64, p types.PeriodSnapshot, settings types.Settings) error {
	delta := energyKWH(rate, p.LastUpdate, p.Now)

	acc, _, err := e.store.GetValue(ctx, deviceID, types.CounterEnergyAcc)
	if err != nil {
		return err
	}
	if p.NewDay && settings.ResetEnergyDaily {
		acc = energyKWH(rate, p.StartOfDay, p.Now)
	} else {
		acc += delta
	}
	if err := e.store.SetValue(ctx, deviceID, types.CounterEnergyAcc, acc); err != nil {
		return err
	}

	month, _, err := e.store.GetValue(ctx, deviceID, types.CounterEnergyMonth)
	if err != nil {
		return err
	}
	if p.NewMonth {
		lastMonth := month + energyKWH(rate, p.LastUpdate, p.StartOfMonth)
		if err := e.store.SetValue(ctx, deviceID, types.CounterEnergyLastMonth, lastMonth); err != nil {
			return err
		}
		month = energyKWH(rate, p.StartOfMonth, p.Now)
	} else {
		month += delta
	}
	if err := e.store.SetValue(ctx, deviceID, types.CounterEnergyMonth, month); err != nil {
		return err
	}

	year, _, err := e.store.GetValue(ctx, deviceID, types.CounterEnergyYear)
	if err != nil {
		return err
	}
	if p.NewYear {
		year = energyKWH(rate, p.StartOfYear, p.Now)
	} else {
		year += delta
	}
	return e.store.SetValue(ctx, deviceID, types.CounterEnergyYear, year)
}

func (e *Engine) calculateUtilityCost(ctx context.Context, deviceID string, rate float64, p types.PeriodSnapshot, settings types.Settings) error {
	price, _, err := e.store.GetValue(ctx, deviceID, types.CounterPriceIncl)
	if err != nil {
		return err
	}

	var fixed float64
	if p.NewDay && e.options.AddFixedUtilityCosts {
		fixed, err = e.rates.UtilityFixedPerDay(p.Now, settings, e.eval)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "fixed amount formula failed",
				slog.String("formula", settings.CostFormulaFixedAmount), slog.Any("err", err))
			fixed = 0
		}
	}

	var costToday, costYesterday float64
	if p.NewDay {
		costToday = energyKWH(rate, p.StartOfDay, p.Now)*price + fixed
		costYesterday = energyKWH(rate, p.LastUpdate, p.StartOfDay) * price
	} else {
		costToday = energyKWH(rate, p.LastUpdate, p.Now) * price
	}

	prevToday, _, err := e.store.GetValue(ctx, deviceID, types.CounterCostToday)
	if err != nil {
		return err
	}
	if p.NewDay {
		if err := e.store.SetValue(ctx, deviceID, types.CounterCostToday, costToday); err != nil {
			return err
		}
		if err := e.store.SetValue(ctx, deviceID, types.CounterCostYesterday, prevToday+costYesterday); err != nil {
			return err
		}
	} else {
		if err := e.store.SetValue(ctx, deviceID, types.CounterCostToday, prevToday+costToday); err != nil {
			return err
		}
	}

	prevTodayExcl, _, err := e.store.GetValue(ctx, deviceID, types.CounterCostTodayExcl)
	if err != nil {
		return err
	}
	todayExcl := costToday - fixed
	if !p.NewDay {
		todayExcl += prevTodayExcl
	}
	if err := e.store.SetValue(ctx, deviceID, types.CounterCostTodayExcl, todayExcl); err != nil {
		return err
	}

	prevMonth, _, err := e.store.GetValue(ctx, deviceID, types.CounterCostMonth)
	if err != nil {
		return err
	}
	if p.NewMonth {
		if err := e.store.SetValue(ctx, deviceID, types.CounterCostMonth, costToday); err != nil {
			return err
		}
		if err := e.store.SetValue(ctx, deviceID, types.CounterCostLastMonth, prevMonth+costYesterday); err != nil {
			return err
		}
	} else {
		if err := e.store.SetValue(ctx, deviceID, types.CounterCostMonth, prevMonth+costToday); err != nil {
			return err
		}
	}

	prevYear, _, err := e.store.GetValue(ctx, deviceID, types.CounterCostYear)
	if err != nil {
		return err
	}
	if p.NewYear {
		return e.store.SetValue(ctx, deviceID, types.CounterCostYear, costToday)
	}
	return e.store.SetValue(ctx, deviceID, types.CounterCostYear, prevYear+costToday)
}

func (e *Engine) calculateGridCost(ctx context.Context, deviceID string, rate float64, p types.PeriodSnapshot, settings types.Settings, capRes capacity.Result) error {
	price, _, err := e.store.GetValue(ctx, deviceID, types.CounterGridPriceIncl)
	if err != nil {
		return err
	}

	var gridFixed float64
	if p.NewDay && e.options.AddCapacityCosts {
		gridFixed = e.rates.GridFixedPerDay(p.Now, settings)
	}

	// The capacity tier is billed marginally: only the difference between the
	// new and previous tier price is added when the peak metric changes. A zero
	// previous peak means nothing has been billed this month, so the first
	// nonzero peak is charged the full tier price.
	var capacityCost float64
	if e.options.AddCapacityCosts && capRes.Changed && capRes.NewMax > 0 {
		var prevTier float64
		if !p.NewMonth && capRes.PreviousMax > 0 {
			prevTier = tariff.GridCapacity(capRes.PreviousMax, settings)
		}
		capacityCost = tariff.GridCapacity(capRes.NewMax, settings) - prevTier
	}

	var costToday, costYesterday float64
	if p.NewDay {
		costToday = energyKWH(rate, p.StartOfDay, p.Now)*price + gridFixed + capacityCost
		costYesterday = energyKWH(rate, p.LastUpdate, p.StartOfDay) * price
	} else {
		costToday = energyKWH(rate, p.LastUpdate, p.Now)*price + capacityCost
	}

	prevToday, _, err := e.store.GetValue(ctx, deviceID, types.CounterGridToday)
	if err != nil {
		return err
	}
	if p.NewDay {
		if err := e.store.SetValue(ctx, deviceID, types.CounterGridToday, costToday); err != nil {
			return err
		}
		if err := e.store.SetValue(ctx, deviceID, types.CounterGridYesterday, prevToday+costYesterday); err != nil {
			return err
		}
	} else {
		if err := e.store.SetValue(ctx, deviceID, types.CounterGridToday, prevToday+costToday); err != nil {
			return err
		}
	}

	prevMonth, _, err := e.store.GetValue(ctx, deviceID, types.CounterGridMonth)
	if err != nil {
		return err
	}
	if p.NewMonth {
		if err := e.store.SetValue(ctx, deviceID, types.CounterGridMonth, costToday); err != nil {
			return err
		}
		if err := e.store.SetValue(ctx, deviceID, types.CounterGridLastMonth, prevMonth+costYesterday); err != nil {
			return err
		}
	} else {
		if err := e.store.SetValue(ctx, deviceID, types.CounterGridMonth, prevMonth+costToday); err != nil {
			return err
		}
	}

	prevYear, _, err := e.store.GetValue(ctx, deviceID, types.CounterGridYear)
	if err != nil {
		return err
	}
	if p.NewYear {
		return e.store.SetValue(ctx, deviceID, types.CounterGridYear, costToday)
	}
	return e.store.SetValue(ctx, deviceID, types.CounterGridYear, prevYear+costToday)
}

func (e *Engine) persistCapacity(ctx context.Context, deviceID string, p types.PeriodSnapshot, settings types.Settings, capRes capacity.Result) error {
	if err := e.store.SetValue(ctx, deviceID, types.CounterConsumptionHour, capRes.ConsumptionThisHour); err != nil {
		return err
	}
	if !capRes.Changed {
		return nil
	}
	if err := e.store.SetValue(ctx, deviceID, types.CounterConsumptionMaxMonth, capRes.NewMax); err != nil {
		return err
	}
	// a zero metric after a month rollover still maps to the lowest band, so
	// the displayed tier price never shows last month's tier
	if err := e.store.SetValue(ctx, deviceID, types.CounterCostCapacity, tariff.GridCapacity(capRes.NewMax, settings)); err != nil {
		return err
	}

	prevLevel := 0
	if !p.NewMonth {
		prevLevel = tariff.GridCapacityLevel(capRes.PreviousMax)
	}
	newLevel := tariff.GridCapacityLevel(capRes.NewMax)
	if newLevel != prevLevel {
		e.notifier.CapacityLevelChanged(ctx, deviceID, newLevel, math.Round(capRes.NewMax))
	}
	return nil
}

func (e *Engine) calculateSumCost(ctx context.Context, deviceID string, rate float64) error {
	utilityPrice, _, err := e.store.GetValue(ctx, deviceID, types.CounterPriceIncl)
	if err != nil {
		return err
	}
	gridPrice, _, err := e.store.GetValue(ctx, deviceID, types.CounterGridPriceIncl)
	if err != nil {
		return err
	}
	if err := e.store.SetValue(ctx, deviceID, types.CounterSumCurrent, rate/1000*(utilityPrice+gridPrice)); err != nil {
		return err
	}

	sums := []struct{ sum, utility, grid string }{
		{types.CounterSumDay, types.CounterCostToday, types.CounterGridToday},
		{types.CounterSumMonth, types.CounterCostMonth, types.CounterGridMonth},
		{types.CounterSumYear, types.CounterCostYear, types.CounterGridYear},
	}
	for _, s := range sums {
		utility, _, err := e.store.GetValue(ctx, deviceID, s.utility)
		if err != nil {
			return err
		}
		grid, _, err := e.store.GetValue(ctx, deviceID, s.grid)
		if err != nil {
			return err
		}
		if err := e.store.SetValue(ctx, deviceID, s.sum, utility+grid); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) loadSettings(ctx context.Context, deviceID string) (types.Settings, error) {
	settings, version, err := e.store.GetSettings(ctx, deviceID)
	if err != nil {
		return types.Settings{}, err
	}
	settings, _, err = types.MigrateSettings(settings, version)
	if err != nil {
		return types.Settings{}, err
	}
	return settings, nil
}
