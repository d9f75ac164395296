package calc

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
)

// ErrRejected marks an expression the sandbox refuses to run. The caller
// falls back to a plain conversational explanation; this is never a crash.
var ErrRejected = errors.New("expression rejected")

var identifierPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// mathFuncs is the only callable surface exposed to expressions. No
// ambient state, filesystem, network, or other references are reachable.
var mathFuncs = map[string]any{
	"abs":   math.Abs,
	"sqrt":  math.Sqrt,
	"floor": math.Floor,
	"ceil":  math.Ceil,
	"pow":   math.Pow,
	"round": func(x float64) float64 { return math.Round(x) },
	"min":   math.Min,
	"max":   math.Max,
}

// Evaluate runs a pure arithmetic expression in an isolated evaluator.
// Any identifier outside the whitelisted math functions, any reference
// syntax, and any non-finite result is rejected.
func Evaluate(expression string) (float64, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return 0, fmt.Errorf("%w: empty expression", ErrRejected)
	}
	if strings.ContainsAny(expression, `"'`+"`"+`[]{}.#$?;\\`) {
		return 0, fmt.Errorf("%w: disallowed character", ErrRejected)
	}
	for _, ident := range identifierPattern.FindAllString(expression, -1) {
		if _, ok := mathFuncs[ident]; !ok {
			return 0, fmt.Errorf("%w: unknown identifier %q", ErrRejected, ident)
		}
	}

	program, err := expr.Compile(expression, expr.Env(mathFuncs))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	out, err := expr.Run(program, mathFuncs)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	var result float64
	switch v := out.(type) {
	case int:
		result = float64(v)
	case int64:
		result = float64(v)
	case float64:
		result = v
	default:
		return 0, fmt.Errorf("%w: non-numeric result %T", ErrRejected, out)
	}

	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("%w: non-finite result", ErrRejected)
	}
	return result, nil
}
