// Package actions implements the side-effecting operations of ACTION nodes:
// tag and metadata mutation, webhooks, reasoning-backend calls, entity
// extraction, file handling, email and calendar events.
package actions

import (
	"context"

	"github.com/dmscode/dmsflow/pkg/schema"
)

// Action is one action_type an ACTION node can name.
type Action interface {
	Name() string
	Schema() ActionSchema
	Validate(params map[string]any) error
	Execute(ctx context.Context, input ActionInput) error
}

// ActionRegistry manages lookup of available actions.
type ActionRegistry interface {
	Register(action Action) error
	Get(name string) (Action, error)
	List() []ActionInfo
}

// ActionSchema describes an action's parameters.
type ActionSchema struct {
	Description string   `json:"description,omitempty"`
	Required    []string `json:"required,omitempty"`
	Optional    []string `json:"optional,omitempty"`
}

// ActionInput is what an action sees at execution time. Doc is owned by the
// current run and may be mutated.
type ActionInput struct {
	NodeID string
	Params map[string]any
	Doc    *schema.ExecutionContext
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Required    []string `json:"required,omitempty"`
}

// collaboratorKeyed is implemented by actions that call an external service.
// The key selects the circuit breaker guarding that service.
type collaboratorKeyed interface {
	CollaboratorKey(params map[string]any) string
}

// requireParams checks that each key is present as a non-empty string.
func requireParams(action string, params map[string]any, keys ...string) error {
	for _, k := range keys {
		if stringParam(params, k, "") == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: missing required param %q", action, k)
		}
	}
	return nil
}
