// Package capacity maintains the monthly peak-consumption window that drives
// grid capacity tier billing. The metric is the average of the month's top-N
// daily peak-hour consumption values.
package capacity

import (
	"sort"
	"time"

	"github.com/utilitycost/utilitycost/pkg/types"
)

// WindowCap bounds the persisted window to the highest entries of the month.
const WindowCap = 10

// Result describes one capacity window update.
type Result struct {
	// ConsumptionThisHour is the within-hour consumption accumulator (Wh)
	// after this update.
	ConsumptionThisHour float64
	// PreviousMax is the capacity metric before the update.
	PreviousMax float64
	// NewMax is the capacity metric after the update.
	NewMax float64
	// Changed is true when NewMax differs from PreviousMax.
	Changed bool
}

// Update computes the within-hour consumption for the interval ending at
// p.Now and upserts today's peak into the window held in state. hourAcc and
// previousMax are the persisted within-hour accumulator (Wh) and capacity
// metric. averageWindow is how many of the highest entries are averaged,
// clamped to the window length.
//
// The window holds at most one entry per day, sorted by consumption
// descending, truncated to WindowCap. A month rollover clears the window and
// seeds it with the current hour's consumption.
func Update(consumption float64, hourAcc, previousMax float64, p types.PeriodSnapshot, state *types.StoreState, averageWindow int) Result {
	elapsed := p.Now.Sub(p.LastUpdate)
	if elapsed > time.Hour {
		elapsed = time.Hour
	}
	consumptionWh := consumption * float64(elapsed.Milliseconds()) / float64(time.Hour.Milliseconds())

	thisHour := consumptionWh
	if !p.NewHour {
		thisHour += hourAcc
	}

	if p.NewMonth {
		state.Highest10Hours = []types.MaxConsumptionDay{{
			StartOfDay:  p.StartOfDay.UnixMilli(),
			Consumption: thisHour,
		}}
		return Result{
			ConsumptionThisHour: thisHour,
			PreviousMax:         previousMax,
			NewMax:              thisHour,
			Changed:             thisHour != previousMax,
		}
	}

	dayStart := p.StartOfDay.UnixMilli()
	found := false
	for i := range state.Highest10Hours {
		if state.Highest10Hours[i].StartOfDay == dayStart {
			found = true
			if thisHour > state.Highest10Hours[i].Consumption {
				state.Highest10Hours[i].Consumption = thisHour
			}
			break
		}
	}
	if !found {
		state.Highest10Hours = append(state.Highest10Hours, types.MaxConsumptionDay{
			StartOfDay:  dayStart,
			Consumption: thisHour,
		})
	}

	sort.SliceStable(state.Highest10Hours, func(i, j int) bool {
		return state.Highest10Hours[i].Consumption > state.Highest10Hours[j].Consumption
	})
	if len(state.Highest10Hours) > WindowCap {
		state.Highest10Hours = state.Highest10Hours[:WindowCap]
	}

	newMax := average(state.Highest10Hours, averageWindow)
	return Result{
		ConsumptionThisHour: thisHour,
		PreviousMax:         previousMax,
		NewMax:              newMax,
		Changed:             newMax != previousMax,
	}
}

func average(window []types.MaxConsumptionDay, n int) float64 {
	if len(window) == 0 {
		return 0
	}
	if n < 1 {
		n = 1
	}
	if n > len(window) {
		n = len(window)
	}
	var sum float64
	for _, e := range window[:n] {
		sum += e.Consumption
	}
	return sum / float64(n)
}
