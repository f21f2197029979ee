package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/utilitycost/utilitycost/pkg/formula"
	"github.com/utilitycost/utilitycost/pkg/log"
	"github.com/utilitycost/utilitycost/pkg/tariff"
	"github.com/utilitycost/utilitycost/pkg/types"
)

// SpotPriceCalculation derives the utility price from the cost formula applied
// to the given spot price. Formula failures are logged and leave the previous
// price values unchanged.
func (e *Engine) SpotPriceCalculation(ctx context.Context, deviceID string, price float64) error {
	settings, err := e.loadSettings(ctx, deviceID)
	if err != nil {
		return err
	}

	calculated, err := e.evaluatePrice(settings.CostFormula, &price, time.Now())
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "spot price formula failed",
			slog.String("formula", settings.CostFormula), slog.Any("err", err))
		return nil
	}
	calculated = tariff.RoundPrice(calculated)

	if err := e.store.SetValue(ctx, deviceID, types.CounterPriceExcl, price); err != nil {
		return err
	}
	if err := e.store.SetValue(ctx, deviceID, types.CounterPriceIncl, calculated); err != nil {
		return err
	}
	return e.updatePriceSum(ctx, deviceID, calculated)
}

// FixedPriceCalculation derives the utility price from the cost formula with
// no spot price variable. The excl-tax value is the price with 25% VAT removed.
func (e *Engine) FixedPriceCalculation(ctx context.Context, deviceID string) error {
	settings, err := e.loadSettings(ctx, deviceID)
	if err != nil {
		return err
	}

	price, err := e.evaluatePrice(settings.CostFormula, nil, time.Now())
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "fixed price formula failed",
			slog.String("formula", settings.CostFormula), slog.Any("err", err))
		return nil
	}
	price = tariff.RoundPrice(price)

	if err := e.store.SetValue(ctx, deviceID, types.CounterPriceExcl, tariff.RoundPrice(price/1.25)); err != nil {
		return err
	}
	if err := e.store.SetValue(ctx, deviceID, types.CounterPriceIncl, price); err != nil {
		return err
	}
	return e.updatePriceSum(ctx, deviceID, price)
}

// UpdatePrice applies a price pushed in by an external flow and switches the
// device's price calculation method to flow.
func (e *Engine) UpdatePrice(ctx context.Context, deviceID string, price float64) error {
	settings, err := e.loadSettings(ctx, deviceID)
	if err != nil {
		return err
	}
	if settings.PriceCalcMethod != types.PriceCalcMethodFlow {
		settings.PriceCalcMethod = types.PriceCalcMethodFlow
		if err := e.store.SetSettings(ctx, deviceID, settings, types.CurrentSettingsVersion); err != nil {
			return err
		}
	}

	if err := e.store.SetValue(ctx, deviceID, types.CounterPriceExcl, tariff.RoundPrice(price/1.25)); err != nil {
		return err
	}
	if err := e.store.SetValue(ctx, deviceID, types.CounterPriceIncl, price); err != nil {
		return err
	}
	return e.updatePriceSum(ctx, deviceID, price)
}

// GridPriceCalculation resolves and stores the grid unit price for the given
// instant and refreshes the combined unit price.
func (e *Engine) GridPriceCalculation(ctx context.Context, deviceID string, at time.Time) error {
	settings, err := e.loadSettings(ctx, deviceID)
	if err != nil {
		return err
	}

	gridPrice := e.rates.GridPrice(at, settings)
	if err := e.store.SetValue(ctx, deviceID, types.CounterGridPriceIncl, gridPrice); err != nil {
		return err
	}

	utilityPrice, _, err := e.store.GetValue(ctx, deviceID, types.CounterPriceIncl)
	if err != nil {
		return err
	}
	return e.store.SetValue(ctx, deviceID, types.CounterPriceSum, gridPrice+utilityPrice)
}

// ValidateCostFormula evaluates the formula eagerly so a broken expression is
// rejected before it is persisted. The returned error carries the evaluator's
// message.
func (e *Engine) ValidateCostFormula(expr string) error {
	var price *float64
	if strings.Contains(expr, formula.PriceVariable) {
		v := 1.23
		price = &v
	}
	_, err := e.evaluatePrice(expr, price, time.Now())
	return err
}

// ValidateFixedAmountFormula evaluates the fixed-amount formula eagerly.
func (e *Engine) ValidateFixedAmountFormula(expr string) error {
	_, err := e.evaluatePrice(expr, nil, time.Now())
	return err
}

func (e *Engine) evaluatePrice(expr string, price *float64, at time.Time) (float64, error) {
	vars := map[string]float64{
		formula.MonthlyHoursVariable: float64(e.cal.HoursInMonth(at)),
	}
	if price != nil {
		vars[formula.PriceVariable] = *price
	}
	return e.eval.Evaluate(expr, vars)
}

func (e *Engine) updatePriceSum(ctx context.Context, deviceID string, utilityPrice float64) error {
	gridPrice, _, err := e.store.GetValue(ctx, deviceID, types.CounterGridPriceIncl)
	if err != nil {
		return err
	}
	return e.store.SetValue(ctx, deviceID, types.CounterPriceSum, utilityPrice+gridPrice)
}
