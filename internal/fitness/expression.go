package fitness

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/PaesslerAG/gval"
)

// Case is one fitness case of a symbolic regression problem.
type Case struct {
	Vars     map[string]float64 `yaml:"vars" json:"vars"`
	Expected float64            `yaml:"expected" json:"expected"`
}

const (
	MetricSumAbsError = "sum_abs_error"
	MetricMSE         = "mse"
	MetricMisses      = "misses"
)

// HitTolerance is the largest error a case may have and still count as a hit.
const HitTolerance = 0.01

var ErrNoCases = errors.New("expression fitness needs at least one case")

// Expression evaluates programs as arithmetic expressions over the case
// variables and scores the error against each case's expected value.
// Programs that fail to parse or evaluate, or produce non-numeric or
// non-finite results, score Worst.
type Expression struct {
	cases  []Case
	metric string
	lang   gval.Language
}

func NewExpression(cases []Case, metric string) (*Expression, error) {
	if len(cases) == 0 {
		return nil, ErrNoCases
	}
	switch metric {
	case "":
		metric = MetricSumAbsError
	case MetricSumAbsError, MetricMSE, MetricMisses:
	default:
		return nil, fmt.Errorf("unknown expression metric %q", metric)
	}
	return &Expression{cases: cases, metric: metric, lang: expressionLanguage()}, nil
}

func expressionLanguage() gval.Language {
	unary := func(name string, fn func(float64) float64) gval.Language {
		return gval.Function(name, func(args ...interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("%s takes one argument", name)
			}
			x, ok := args[0].(float64)
			if !ok {
				return nil, fmt.Errorf("%s: expected number, got %T", name, args[0])
			}
			return fn(x), nil
		})
	}
	return gval.NewLanguage(
		gval.Arithmetic(),
		gval.PrefixOperator("+", func(_ context.Context, v interface{}) (interface{}, error) {
			x, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("expected number, got %T", v)
			}
			return x, nil
		}),
		unary("sin", math.Sin),
		unary("cos", math.Cos),
		unary("exp", math.Exp),
		unary("log", math.Log),
		unary("sqrt", math.Sqrt),
		unary("abs", math.Abs),
	)
}

func (e *Expression) Evaluate(ctx context.Context, source string) (float64, error) {
	eval, err := e.lang.NewEvaluable(source)
	if err != nil {
		return Worst, nil
	}
	total := 0.0
	params := make(map[string]interface{})
	for _, c := range e.cases {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		clear(params)
		for name, value := range c.Vars {
			params[name] = value
		}
		out, err := eval(ctx, params)
		if err != nil {
			return Worst, nil
		}
		got, ok := out.(float64)
		if !ok || math.IsNaN(got) || math.IsInf(got, 0) {
			return Worst, nil
		}
		diff := math.Abs(got - c.Expected)
		switch e.metric {
		case MetricMSE:
			total += diff * diff
		case MetricMisses:
			if diff > HitTolerance {
				total++
			}
		default:
			total += diff
		}
	}
	if e.metric == MetricMSE {
		total /= float64(len(e.cases))
	}
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return Worst, nil
	}
	return total, nil
}
