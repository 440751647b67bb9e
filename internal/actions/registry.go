package actions

import (
	"slices"
	"strings"
	"sync"

	"github.com/dmscode/dmsflow/pkg/schema"
)

// Registry maps action_type values found on ACTION nodes to their
// implementations. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]Action
}

// NewRegistry returns a registry with no action types. RegisterBuiltins
// fills it with the built-in set.
func NewRegistry() *Registry {
	return &Registry{byType: map[string]Action{}}
}

// Register makes action available under its Name. A second action for the
// same type is a CONFLICT.
func (r *Registry) Register(action Action) error {
	if action == nil {
		return schema.NewError(schema.ErrCodeValidation, "cannot register a nil action")
	}
	actionType := action.Name()
	if actionType == "" {
		return schema.NewError(schema.ErrCodeValidation, "action has no action_type")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byType[actionType]; taken {
		return schema.NewErrorf(schema.ErrCodeConflict, "action type %q is already registered", actionType)
	}
	r.byType[actionType] = action
	return nil
}

// Get resolves an action_type. Unknown and empty types are ACTION_UNAVAILABLE,
// which the performer logs without failing the run.
func (r *Registry) Get(actionType string) (Action, error) {
	if actionType == "" {
		return nil, schema.NewError(schema.ErrCodeActionUnavailable, "action node has no action_type")
	}
	r.mu.RLock()
	action, ok := r.byType[actionType]
	r.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeActionUnavailable, "no action registered for type %q", actionType)
	}
	return action, nil
}

// List describes every registered action type in name order.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	infos := make([]ActionInfo, 0, len(r.byType))
	for actionType, a := range r.byType {
		s := a.Schema()
		infos = append(infos, ActionInfo{Name: actionType, Description: s.Description, Required: s.Required})
	}
	r.mu.RUnlock()

	slices.SortFunc(infos, func(a, b ActionInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos
}

// Has reports whether actionType is registered. Flow validation uses it to
// warn about ACTION nodes that would be skipped at run time.
func (r *Registry) Has(actionType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byType[actionType]
	return ok
}

// Count returns how many action types are registered.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType)
}
