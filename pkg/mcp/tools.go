package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dmscode/dmsflow/internal/diagram"
	"github.com/dmscode/dmsflow/internal/store"
	"github.com/dmscode/dmsflow/pkg/schema"
)

const defaultHistoryLimit = 50

// handleTrigger dispatches a trigger event to every matching active flow.
func (s *FlowServer) handleTrigger(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("trigger")
	if err != nil {
		return mcp.NewToolResultError("trigger is required"), nil
	}
	kind, err := schema.ParseTriggerKind(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ec, err := parseContext(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.dispatcher.Dispatch(ctx, kind, ec)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("dispatch failed: %v", err)), nil
	}
	s.watchFlows(ctx, result.FlowIDs...)
	return marshalResult(result)
}

// handleRun runs one flow synchronously and returns its ExecutionResult.
func (s *FlowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	flowID, err := req.RequireString("flow_id")
	if err != nil {
		return mcp.NewToolResultError("flow_id is required"), nil
	}
	ec, err := parseContext(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.dispatcher.RunSync(ctx, flowID, ec)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", err)), nil
	}
	return marshalResult(result)
}

// handleList lists stored flows, optionally filtered by trigger and active flag.
func (s *FlowServer) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var filter store.FlowFilter
	if name := req.GetString("trigger", ""); name != "" {
		kind, err := schema.ParseTriggerKind(name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.Trigger = kind
	}
	if req.GetBool("active_only", false) {
		active := true
		filter.Active = &active
	}

	flows, err := s.flows.List(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	summaries := make([]flowSummary, len(flows))
	for i, f := range flows {
		summaries[i] = flowSummary{
			ID:      f.ID,
			Name:    f.Name,
			Active:  f.Active,
			Trigger: f.Trigger,
			Nodes:   len(f.Nodes),
		}
	}
	return marshalResult(map[string]any{"flows": summaries})
}

type flowSummary struct {
	ID      string             `json:"id"`
	Name    string             `json:"name"`
	Active  bool               `json:"active"`
	Trigger schema.TriggerKind `json:"trigger"`
	Nodes   int                `json:"nodes"`
}

// handleHistory returns recent runs from the in-memory history.
func (s *FlowServer) handleHistory(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.history == nil {
		return marshalResult(map[string]any{"executions": []*schema.ExecutionResult{}})
	}
	limit := extractInt(req.GetArguments(), "limit", defaultHistoryLimit)

	var runs []*schema.ExecutionResult
	if flowID := req.GetString("flow_id", ""); flowID != "" {
		runs = s.history.ForFlow(flowID, limit)
	} else {
		runs = s.history.List(limit)
	}
	return marshalResult(map[string]any{"executions": runs})
}

// handleDiagram renders a stored flow, optionally overlaying a run.
func (s *FlowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	flowID, err := req.RequireString("flow_id")
	if err != nil {
		return mcp.NewToolResultError("flow_id is required"), nil
	}
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	flow, err := s.flows.Get(ctx, flowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("flow not found: %v", err)), nil
	}

	var run *schema.ExecutionResult
	if runID := req.GetString("run_id", ""); runID != "" {
		run = s.findRun(flowID, runID)
		if run == nil {
			return mcp.NewToolResultError(fmt.Sprintf("run %q not found in history", runID)), nil
		}
	}

	model, err := diagram.Build(flow, run)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", err)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, err := diagram.RenderImage(ctx, model, diagram.FormatPNG)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", err)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	}
}

// --- Internal helpers ---

func (s *FlowServer) findRun(flowID, runID string) *schema.ExecutionResult {
	if s.history == nil {
		return nil
	}
	for _, r := range s.history.ForFlow(flowID, 0) {
		if r.RunID == runID {
			return r
		}
	}
	return nil
}

// watchFlows subscribes the calling session to completion notices of flowIDs.
func (s *FlowServer) watchFlows(ctx context.Context, flowIDs ...string) {
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return
	}
	for _, id := range flowIDs {
		s.sessions.Watch(id, session.SessionID())
	}
}

// parseContext decodes the optional "context" argument into an ExecutionContext.
func parseContext(req mcp.CallToolRequest) (*schema.ExecutionContext, error) {
	raw := mcp.ParseStringMap(req, "context", nil)
	if raw == nil {
		return &schema.ExecutionContext{}, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid context: %w", err)
	}
	var ec schema.ExecutionContext
	if err := json.Unmarshal(data, &ec); err != nil {
		return nil, fmt.Errorf("invalid context: %w", err)
	}
	return &ec, nil
}

// extractInt safely extracts an integer from an argument map.
func extractInt(args map[string]any, key string, defaultVal int) int {
	if args == nil {
		return defaultVal
	}
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
