package api

import (
	"net/http"

	"github.com/dmscode/dmsflow/pkg/schema"
)

// defaultHistoryLimit applies when ?limit= is absent or not positive.
const defaultHistoryLimit = 50

// handleExecute runs every active flow bound to the path's trigger kind.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	kind, err := schema.ParseTriggerKind(r.PathValue("trigger"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	ec, err := decodeContext(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.deps.Dispatcher.Dispatch(r.Context(), kind, ec)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleTriggerFlow queues a manual run of one flow.
func (s *Server) handleTriggerFlow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ec, err := decodeContext(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Dispatcher.Trigger(r.Context(), id, ec); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message": "Flow triggered",
		"flow_id": id,
	})
}

// handleHistory lists recent runs, newest first. ?flow_id= narrows to one flow.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultHistoryLimit)
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	var runs []*schema.ExecutionResult
	if flowID := r.URL.Query().Get("flow_id"); flowID != "" {
		runs = s.deps.History.ForFlow(flowID, limit)
	} else {
		runs = s.deps.History.List(limit)
	}
	if runs == nil {
		runs = []*schema.ExecutionResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": runs})
}

// handleCron lists active schedule flows with their next fire time.
func (s *Server) handleCron(w http.ResponseWriter, r *http.Request) {
	if s.deps.Schedules == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	schedules, err := s.deps.Schedules.Schedules(r.Context())
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": schedules})
}
