package conditions

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/dmscode/dmsflow/internal/expressions"
	"github.com/dmscode/dmsflow/pkg/schema"
)

// Operator names accepted by condition nodes.
const (
	OpEquals           = "equals"
	OpNotEquals        = "not_equals"
	OpContains         = "contains"
	OpNotContains      = "not_contains"
	OpGreaterThan      = "greater_than"
	OpLessThan         = "less_than"
	OpRegex            = "regex"
	OpTagExists        = "tag_exists"
	OpEntityTypeExists = "entity_type_exists"
	OpExpr             = "expr"
	OpCEL              = "cel"
	OpJQ               = "jq"
)

// Operators lists every recognized operator.
var Operators = []string{
	OpEquals, OpNotEquals, OpContains, OpNotContains, OpGreaterThan, OpLessThan,
	OpRegex, OpTagExists, OpEntityTypeExists, OpExpr, OpCEL, OpJQ,
}

// KnownOperator reports whether op is recognized.
func KnownOperator(op string) bool {
	for _, o := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// Evaluator applies condition operators. It never returns an error: operands
// that do not coerce, invalid patterns and failing expressions all yield false.
type Evaluator struct {
	engines expressions.Registry
	logger  *slog.Logger

	mu      sync.RWMutex
	regexes map[string]*regexp.Regexp
}

// NewEvaluator creates an Evaluator. engines may be nil, in which case the
// expression operators always yield false.
func NewEvaluator(engines expressions.Registry, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		engines: engines,
		logger:  logger,
		regexes: make(map[string]*regexp.Regexp),
	}
}

// Evaluate resolves field from ec and compares it against expected with op.
func (e *Evaluator) Evaluate(ctx context.Context, field, op string, expected any, ec *schema.ExecutionContext) bool {
	if ec == nil {
		ec = &schema.ExecutionContext{}
	}

	switch op {
	case OpTagExists:
		return ec.HasTag(Stringify(expected))
	case OpEntityTypeExists:
		want := Stringify(expected)
		for _, ent := range ec.Entities {
			if ent.Type == want {
				return true
			}
		}
		return false
	}

	data := ec.AsMap()
	var actual any = ""
	if field != "" {
		actual = Resolve(data, field)
	}

	switch op {
	case OpEquals:
		return Stringify(actual) == Stringify(expected)
	case OpNotEquals:
		return Stringify(actual) != Stringify(expected)
	case OpContains:
		return containsFold(Stringify(actual), Stringify(expected))
	case OpNotContains:
		return !containsFold(Stringify(actual), Stringify(expected))
	case OpGreaterThan, OpLessThan:
		a, ok := toFloat(actual)
		if !ok || math.IsNaN(a) {
			return false
		}
		b, ok := toFloat(expected)
		if !ok || math.IsNaN(b) {
			return false
		}
		if op == OpGreaterThan {
			return a > b
		}
		return a < b
	case OpRegex:
		re, ok := e.compile(Stringify(expected))
		if !ok {
			return false
		}
		return re.MatchString(Stringify(actual))
	case OpExpr, OpCEL, OpJQ:
		return e.evalExpression(ctx, op, Stringify(expected), actual, data)
	default:
		e.logger.WarnContext(ctx, "unknown condition operator", slog.String("operator", op))
		return false
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// compile returns a cached case-insensitive regexp, or false if the pattern is invalid.
func (e *Evaluator) compile(pattern string) (*regexp.Regexp, bool) {
	e.mu.RLock()
	re, ok := e.regexes[pattern]
	e.mu.RUnlock()
	if ok {
		return re, re != nil
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		re = nil
	}
	e.mu.Lock()
	e.regexes[pattern] = re
	e.mu.Unlock()
	return re, re != nil
}

func (e *Evaluator) evalExpression(ctx context.Context, op, expression string, actual any, data map[string]any) bool {
	engine, ok := e.engines[op]
	if !ok {
		return false
	}
	data["field"] = actual
	out, err := engine.Evaluate(ctx, expression, data)
	if err != nil {
		e.logger.DebugContext(ctx, "condition expression failed",
			slog.String("engine", op),
			slog.String("error", err.Error()),
		)
		return false
	}
	return expressions.Truthy(out)
}
