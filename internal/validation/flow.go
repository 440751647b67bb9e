package validation

import (
	"encoding/json"

	"github.com/dmscode/dmsflow/pkg/schema"
)

// FlowValidator runs the validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (node ids, edge refs, typed payloads)
// 3. Graph (trigger count, reachability, branch handles)
type FlowValidator struct {
	jsonSchema *JSONSchemaValidator
	actions    ActionLookup
}

// NewFlowValidator creates a FlowValidator.
// lookup may be nil to skip action registration checks.
func NewFlowValidator(lookup ActionLookup) (*FlowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &FlowValidator{jsonSchema: jsv, actions: lookup}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit the later stages.
func (fv *FlowValidator) Validate(flow *schema.Flow) *schema.ValidationResult {
	if flow == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "flow is nil")
		return r
	}

	result := structuralResult(fv.jsonSchema.ValidateFlow(flow))
	if !result.Valid() {
		return result
	}
	return fv.validateDecoded(flow, result)
}

// ValidateJSON validates a raw flow document and decodes it. The returned
// flow is nil when the document is structurally invalid.
func (fv *FlowValidator) ValidateJSON(data []byte) (*schema.Flow, *schema.ValidationResult) {
	result := structuralResult(fv.jsonSchema.ValidateJSON(data))
	if !result.Valid() {
		return nil, result
	}
	var flow schema.Flow
	if err := json.Unmarshal(data, &flow); err != nil {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return nil, result
	}
	return &flow, fv.validateDecoded(&flow, result)
}

// ValidateFlow returns the pipeline result as a FlowError, or nil when valid.
func (fv *FlowValidator) ValidateFlow(flow *schema.Flow) error {
	return fv.Validate(flow).ToError()
}

func (fv *FlowValidator) validateDecoded(flow *schema.Flow, result *schema.ValidationResult) *schema.ValidationResult {
	result.Merge(validateSemantic(flow, fv.actions))
	if result.Valid() {
		result.Merge(validateGraph(flow))
	}
	return result
}

// structuralResult converts a JSONSchemaValidator error into a ValidationResult.
func structuralResult(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}

	fe, ok := err.(*schema.FlowError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := fe.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, fe.Message)
	return result
}
