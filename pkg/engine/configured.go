package engine

import (
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/utilitycost/utilitycost/pkg/formula"
	"github.com/utilitycost/utilitycost/pkg/period"
	"github.com/utilitycost/utilitycost/pkg/storage"
	"github.com/utilitycost/utilitycost/pkg/tariff"
	"github.com/utilitycost/utilitycost/pkg/types"
)

// Configured initializes the Engine with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(store storage.Store, notifier Notifier) *Engine {
	e := &Engine{
		store:    store,
		eval:     formula.New(),
		notifier: notifier,
	}

	tz := lflag.String("timezone", "Europe/Oslo", "IANA timezone for billing period boundaries")
	addFixed := lflag.Bool("add-fixed-costs", true, "include the fixed daily utility amount in the cost counters")
	addCapacity := lflag.Bool("add-capacity-costs", true, "include grid capacity tier costs in the grid counters")

	lflag.Do(func() {
		loc, err := time.LoadLocation(*tz)
		if err != nil {
			panic(fmt.Errorf("failed to load timezone %s: %w", *tz, err))
		}
		cal := period.NewCalculator(loc)
		e.cal = cal
		e.rates = tariff.NewResolver(cal)
		e.options = types.HandlerOptions{
			AddFixedUtilityCosts: *addFixed,
			AddCapacityCosts:     *addCapacity,
		}
	})

	return e
}
