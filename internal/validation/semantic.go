package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dmscode/dmsflow/internal/conditions"
	"github.com/dmscode/dmsflow/internal/scheduler"
	"github.com/dmscode/dmsflow/pkg/schema"
)

// validateSemantic checks what the JSON Schema cannot: unique node ids,
// edge references and the typed payload of every node.
func validateSemantic(flow *schema.Flow, lookup ActionLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := make(map[string]bool, len(flow.Nodes))
	for i := range flow.Nodes {
		n := &flow.Nodes[i]
		path := fmt.Sprintf("nodes[%d]", i)
		if ids[n.ID] {
			result.AddError(path+".id", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node id %q", n.ID))
		}
		ids[n.ID] = true

		p, err := n.Payload()
		if err != nil {
			result.AddError(path+".data", schema.ErrCodeValidation, payloadMessage(err))
			continue
		}
		if msg := missingData(n); msg != "" {
			result.AddError(path+".data", schema.ErrCodeValidation,
				fmt.Sprintf("%s payload: %s", n.Kind, msg))
			continue
		}
		validatePayload(flow, p, path, lookup, result)
	}

	for i, e := range flow.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if !ids[e.Source] {
			result.AddError(path+".source", schema.ErrCodeValidation,
				fmt.Sprintf("references unknown node %q", e.Source))
		}
		if !ids[e.Target] {
			result.AddError(path+".target", schema.ErrCodeValidation,
				fmt.Sprintf("references unknown node %q", e.Target))
		}
	}
	return result
}

// missingData reports keys a stored flow may lack but an authored one must
// carry. At run time these degrade to a false condition, an unavailable
// action or an unscheduled trigger.
func missingData(n *schema.Node) string {
	switch n.Kind {
	case schema.NodeTrigger:
		if v, ok := n.Data["cron"]; ok && v != nil {
			if _, ok := v.(string); !ok {
				return "cron must be a string"
			}
		}
	case schema.NodeCondition:
		if op, _ := n.Data["operator"].(string); op == "" {
			return "operator is required"
		}
	case schema.NodeAction:
		if at, _ := n.Data["action_type"].(string); at == "" {
			return "action_type is required"
		}
	}
	return ""
}

func validatePayload(flow *schema.Flow, p schema.Payload, path string, lookup ActionLookup, result *schema.ValidationResult) {
	switch p := p.(type) {
	case schema.TriggerPayload:
		validateTrigger(flow, p, path, result)

	case schema.ConditionPayload:
		if !conditions.KnownOperator(p.Operator) {
			result.AddWarning(path+".data.operator", schema.ErrCodeValidation,
				fmt.Sprintf("unknown operator %q always evaluates to false", p.Operator))
			return
		}
		if p.Field == "" && needsField(p.Operator) {
			result.AddWarning(path+".data.field", schema.ErrCodeValidation,
				fmt.Sprintf("operator %q compares an empty field", p.Operator))
		}
		if p.Operator == conditions.OpRegex {
			if pattern, ok := p.Value.(string); ok {
				if _, err := regexp.Compile("(?i)" + pattern); err != nil {
					result.AddWarning(path+".data.value", schema.ErrCodeInvalidExpression,
						fmt.Sprintf("invalid regex always evaluates to false: %s", err.Error()))
				}
			}
		}

	case schema.ActionPayload:
		if lookup != nil && !lookup.Has(p.ActionType) {
			result.AddWarning(path+".data.action_type", schema.ErrCodeActionUnavailable,
				fmt.Sprintf("action %q not registered", p.ActionType))
		}

	case schema.DecisionPayload:
		seen := make(map[string]bool, len(p.Options))
		for _, opt := range p.Options {
			key := schema.NormalizeHandle(opt)
			if seen[key] {
				result.AddWarning(path+".data.options", schema.ErrCodeValidation,
					fmt.Sprintf("duplicate option %q", opt))
			}
			seen[key] = true
		}
		if strings.TrimSpace(p.Question) == "" {
			result.AddWarning(path+".data.question", schema.ErrCodeValidation, "decision has no question")
		}
	}
}

func validateTrigger(flow *schema.Flow, p schema.TriggerPayload, path string, result *schema.ValidationResult) {
	if flow.Trigger != schema.TriggerSchedule {
		if p.Cron != "" {
			result.AddWarning(path+".data.cron", schema.ErrCodeValidation,
				fmt.Sprintf("cron is ignored for %s flows", flow.Trigger))
		}
		return
	}
	if strings.TrimSpace(p.Cron) == "" {
		result.AddWarning(path+".data.cron", schema.ErrCodeValidation,
			"schedule flow has no cron expression and never runs")
		return
	}
	if _, err := scheduler.ParseCron(p.Cron); err != nil {
		result.AddWarning(path+".data.cron", schema.ErrCodeInvalidExpression, payloadMessage(err))
	}
}

// needsField reports whether op reads the resolved field value.
func needsField(op string) bool {
	switch op {
	case conditions.OpTagExists, conditions.OpEntityTypeExists,
		conditions.OpExpr, conditions.OpCEL, conditions.OpJQ:
		return false
	}
	return true
}

func payloadMessage(err error) string {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}
