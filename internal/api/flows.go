package api

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/dmscode/dmsflow/internal/diagram"
	"github.com/dmscode/dmsflow/internal/store"
	"github.com/dmscode/dmsflow/pkg/schema"
)

// handleCreateFlow validates and stores a new flow. A missing id is generated.
func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	flow, ok := s.decodeFlow(w, r)
	if !ok {
		return
	}
	if flow.ID == "" {
		flow.ID = uuid.NewString()
	} else if _, err := s.deps.Flows.Get(ctx, flow.ID); err == nil {
		writeFlowError(w, schema.NewErrorf(schema.ErrCodeConflict, "flow %q already exists", flow.ID))
		return
	} else if !schema.HasCode(err, schema.ErrCodeNotFound) {
		writeFlowError(w, err)
		return
	}

	if err := s.deps.Flows.Put(ctx, flow); err != nil {
		writeFlowError(w, err)
		return
	}
	s.deps.Logger.InfoContext(ctx, "created flow",
		"flow_id", flow.ID, "name", flow.Name, "trigger", flow.Trigger)
	s.writeStored(w, r, http.StatusCreated, flow.ID)
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.deps.Flows.List(r.Context(), store.FlowFilter{})
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flows)
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := s.deps.Flows.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

// handleUpdateFlow replaces an existing flow. The path id wins over the body.
func (s *Server) handleUpdateFlow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	if _, err := s.deps.Flows.Get(ctx, id); err != nil {
		writeFlowError(w, err)
		return
	}
	flow, ok := s.decodeFlow(w, r)
	if !ok {
		return
	}
	flow.ID = id
	if err := s.deps.Flows.Put(ctx, flow); err != nil {
		writeFlowError(w, err)
		return
	}
	s.writeStored(w, r, http.StatusOK, id)
}

func (s *Server) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Flows.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeFlowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleValidateFlow re-validates a stored flow, reporting warnings as well
// as errors.
func (s *Server) handleValidateFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := s.deps.Flows.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	result := s.deps.Validator.Validate(flow)
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":    result.Valid(),
		"errors":   nonNil(result.Errors),
		"warnings": nonNil(result.Warnings),
	})
}

// handleFlowDiagram renders a flow as mermaid (default), ascii, png or svg.
// ?run=<run_id> overlays a run from history.
func (s *Server) handleFlowDiagram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flow, err := s.deps.Flows.Get(ctx, r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}

	var run *schema.ExecutionResult
	if runID := r.URL.Query().Get("run"); runID != "" {
		for _, res := range s.deps.History.ForFlow(flow.ID, 0) {
			if res.RunID == runID {
				run = res
				break
			}
		}
		if run == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("run %q not found in history", runID))
			return
		}
	}

	model, err := diagram.Build(flow, run)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "mermaid":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, diagram.RenderMermaid(model))
	case "ascii":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, diagram.RenderASCII(model))
	case "png", "svg":
		img, err := diagram.RenderImage(ctx, model, diagram.ImageFormat(format))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if format == "png" {
			w.Header().Set("Content-Type", "image/png")
		} else {
			w.Header().Set("Content-Type", "image/svg+xml")
		}
		w.Write(img)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown diagram format %q", format))
	}
}

// decodeFlow reads and validates a flow body, writing a 400 on failure.
func (s *Server) decodeFlow(w http.ResponseWriter, r *http.Request) (*schema.Flow, bool) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	flow, result := s.deps.Validator.ValidateJSON(data)
	if !result.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":    "flow validation failed",
			"code":     schema.ErrCodeValidation,
			"errors":   result.Errors,
			"warnings": nonNil(result.Warnings),
		})
		return nil, false
	}
	for _, warn := range result.Warnings {
		s.deps.Logger.WarnContext(r.Context(), "flow validation warning",
			"path", warn.Path, "message", warn.Message)
	}
	return flow, true
}

// writeStored responds with the flow as persisted, so server-set fields
// such as created_at are visible to the caller.
func (s *Server) writeStored(w http.ResponseWriter, r *http.Request, status int, id string) {
	stored, err := s.deps.Flows.Get(r.Context(), id)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, status, stored)
}

func nonNil(issues []schema.ValidationIssue) []schema.ValidationIssue {
	if issues == nil {
		return []schema.ValidationIssue{}
	}
	return issues
}
