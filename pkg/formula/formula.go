package formula

import (
	"fmt"
	"math"

	"github.com/Knetic/govaluate"
)

// Variables understood by cost formulas.
const (
	// PriceVariable carries the current spot price.
	PriceVariable = "PRICE_NORDPOOL"
	// MonthlyHoursVariable carries the nominal number of hours in the current
	// month.
	MonthlyHoursVariable = "MONTHLY_HOURS"
)

// Error is a formula parse or evaluation failure. The message is safe to show
// to the user during settings validation.
type Error struct {
	Expression string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid formula %q: %s", e.Expression, e.Message)
}

// Evaluator evaluates a cost formula against a set of numeric variables.
// Implementations must be pure: no side effects, no access outside the
// expression itself.
type Evaluator interface {
	Evaluate(expression string, vars map[string]float64) (float64, error)
}

// New returns the default Evaluator, backed by a safe expression grammar with a
// few math helper functions. There is no dynamic code execution.
func New() Evaluator {
	return &safeEvaluator{}
}

type safeEvaluator struct{}

var functions = map[string]govaluate.ExpressionFunction{
	"min": func(args ...interface{}) (interface{}, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("min requires at least one argument")
		}
		m := math.Inf(1)
		for _, a := range args {
			f, ok := a.(float64)
			if !ok {
				return nil, fmt.Errorf("min requires numeric arguments")
			}
			m = math.Min(m, f)
		}
		return m, nil
	},
	"max": func(args ...interface{}) (interface{}, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("max requires at least one argument")
		}
		m := math.Inf(-1)
		for _, a := range args {
			f, ok := a.(float64)
			if !ok {
				return nil, fmt.Errorf("max requires numeric arguments")
			}
			m = math.Max(m, f)
		}
		return m, nil
	},
	"abs": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("abs requires one argument")
		}
		f, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("abs requires a numeric argument")
		}
		return math.Abs(f), nil
	},
	"round": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("round requires one argument")
		}
		f, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("round requires a numeric argument")
		}
		return math.Round(f), nil
	},
}

func (e *safeEvaluator) Evaluate(expression string, vars map[string]float64) (float64, error) {
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(expression, functions)
	if err != nil {
		return 0, &Error{Expression: expression, Message: err.Error()}
	}

	params := make(map[string]interface{}, len(vars))
	for name, value := range vars {
		params[name] = value
	}

	result, err := expr.Evaluate(params)
	if err != nil {
		return 0, &Error{Expression: expression, Message: err.Error()}
	}

	f, ok := result.(float64)
	if !ok {
		return 0, &Error{Expression: expression, Message: fmt.Sprintf("result is not a number: %v", result)}
	}
	return f, nil
}
