package validation

import "github.com/dmscode/dmsflow/pkg/schema"

// Validator checks flow definitions before they are stored.
// Warnings never make a flow invalid; flows may be stored with them.
type Validator interface {
	Validate(flow *schema.Flow) *schema.ValidationResult
	ValidateJSON(data []byte) (*schema.Flow, *schema.ValidationResult)
}

// ActionLookup reports whether an action type is registered.
// Satisfied by *actions.Registry.
type ActionLookup interface {
	Has(name string) bool
}
