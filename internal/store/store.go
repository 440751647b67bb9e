package store

import (
	"context"
	"sort"

	"github.com/dmscode/dmsflow/pkg/schema"
)

// FlowStore persists flow definitions keyed by id.
// All implementations must be safe for concurrent use.
type FlowStore interface {
	Get(ctx context.Context, id string) (*schema.Flow, error)
	// List returns flows matching filter, sorted by id.
	List(ctx context.Context, filter FlowFilter) ([]*schema.Flow, error)
	// Put creates or replaces a flow. A zero CreatedAt keeps the stored
	// timestamp on replace and is set to now on create.
	Put(ctx context.Context, flow *schema.Flow) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// FlowFilter narrows List. Zero fields match everything.
type FlowFilter struct {
	Active  *bool
	Trigger schema.TriggerKind
}

// Matches reports whether f passes the filter.
func (ff FlowFilter) Matches(f *schema.Flow) bool {
	if ff.Active != nil && f.Active != *ff.Active {
		return false
	}
	if ff.Trigger != "" && f.Trigger != ff.Trigger {
		return false
	}
	return true
}

func storeNotFound(id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "flow %q not found", id)
}

func storeErr(op string, err error) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %v", op, err).WithCause(err)
}

func validateForPut(f *schema.Flow) error {
	if f == nil || f.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "flow id is required")
	}
	return nil
}

func sortByID(flows []*schema.Flow) {
	sort.Slice(flows, func(i, j int) bool { return flows[i].ID < flows[j].ID })
}
