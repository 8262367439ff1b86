package runtime

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/juju/errors"
	"github.com/patrickmn/go-cache"
	"github.com/spf13/cast"

	"github.com/warriorguo/blockflow/types"
)

const (
	programTTL       = 30 * time.Minute
	programCleanup   = time.Hour
	inputVariable    = "input"
	timestampFuncKey = "timestamp"

	// 2^53, larger floats are not exact integers
	maxExactFloat = 1 << 53
)

/**
 * evaluator compiles block expressions once and evaluates them against
 * a block input. Every top level key of the input is a variable, the
 * whole input is also reachable as `input`. Unknown variables are nil.
 */
type evaluator struct {
	programs *cache.Cache
}

func newEvaluator() *evaluator {
	return &evaluator{programs: cache.New(programTTL, programCleanup)}
}

func (ev *evaluator) compile(code string) (*vm.Program, error) {
	if p, found := ev.programs.Get(code); found {
		return p.(*vm.Program), nil
	}
	program, err := expr.Compile(code,
		expr.AllowUndefinedVariables(),
		expr.Function(timestampFuncKey, func(params ...any) (any, error) {
			return time.Now().UTC().Format(time.RFC3339Nano), nil
		}, new(func() string)),
	)
	if err != nil {
		return nil, errors.Annotatef(err, "compile %q", code)
	}
	ev.programs.SetDefault(code, program)
	return program, nil
}

func (ev *evaluator) eval(code string, input types.Data) (any, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.NotValidf("empty expression")
	}
	program, err := ev.compile(code)
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(program, expressionEnv(input))
	if err != nil {
		return nil, errors.Annotatef(err, "evaluate %q", code)
	}
	return out, nil
}

func (ev *evaluator) evalBool(code string, input types.Data) (bool, error) {
	out, err := ev.eval(code, input)
	if err != nil {
		return false, err
	}
	return cast.ToBool(out), nil
}

func (ev *evaluator) evalFloat(code string, input types.Data) (float64, error) {
	out, err := ev.eval(code, input)
	if err != nil {
		return 0, err
	}
	f, err := cast.ToFloat64E(out)
	if err != nil {
		return 0, errors.Annotatef(err, "expression %q", code)
	}
	return f, nil
}

func expressionEnv(input types.Data) map[string]any {
	env := make(map[string]any, len(input)+1)
	for k, v := range input {
		env[k] = normalizeNumber(v)
	}
	if _, exists := env[inputVariable]; !exists {
		whole := make(map[string]any, len(input))
		for k := range input {
			whole[k] = env[k]
		}
		env[inputVariable] = whole
	}
	return env
}

/**
 * normalizeNumber turns whole numbers decoded from JSON into ints so
 * integer operators like % work the same on remote and local input.
 */
func normalizeNumber(v any) any {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) && math.Abs(t) <= maxExactFloat {
			return int(t)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i)
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalizeNumber(item)
		}
		return out
	case types.Data:
		out := make(types.Data, len(t))
		for k, item := range t {
			out[k] = normalizeNumber(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeNumber(item)
		}
		return out
	}
	return v
}
