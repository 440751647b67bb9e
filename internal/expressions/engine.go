package expressions

import "context"

// Engine evaluates an expression against a document's execution context.
// Three implementations back the condition operators of the same name:
// CEL ("cel"), Expr ("expr") and GoJQ ("jq").
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Truthy reports whether an expression result counts as a passing condition.
// Only a boolean true or a non-empty jq result list of all-true values qualify.
func Truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case []any:
		if len(val) == 0 {
			return false
		}
		for _, item := range val {
			if b, ok := item.(bool); !ok || !b {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Registry maps engine names to engines.
type Registry map[string]Engine

// NewRegistry builds the default registry with all three engines.
func NewRegistry() (Registry, error) {
	cel, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	r := Registry{}
	for _, e := range []Engine{cel, NewExprEngine(), NewGoJQEngine()} {
		r[e.Name()] = e
	}
	return r, nil
}
