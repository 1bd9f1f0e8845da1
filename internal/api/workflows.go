package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/calafate/loom/internal/cache"
	"github.com/calafate/loom/internal/log"
	"github.com/calafate/loom/internal/store"
	"github.com/calafate/loom/internal/workflow"
)

// workflowResponse renders the definition column as inline JSON rather than
// base64 bytes.
type workflowResponse struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	Name       string          `json:"name"`
	Definition json.RawMessage `json:"definition"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func toWorkflowResponse(wf *store.Workflow) workflowResponse {
	return workflowResponse{
		ID:         wf.ID,
		UserID:     wf.UserID,
		Name:       wf.Name,
		Definition: json.RawMessage(wf.Definition),
		CreatedAt:  wf.CreatedAt,
		UpdatedAt:  wf.UpdatedAt,
	}
}

type workflowRequest struct {
	Name       string          `json:"name"`
	Definition json.RawMessage `json:"definition"`
}

func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req workflowRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, errValidation("name is required"))
		return
	}
	if _, err := workflow.ParseDefinition(req.Definition); err != nil {
		writeError(w, err)
		return
	}

	wf, err := s.cfg.Workflows.CreateWorkflow(r.Context(), uid, req.Name, req.Definition)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkflowResponse(wf))
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	workflows, err := s.cfg.Workflows.ListWorkflows(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]workflowResponse, 0, len(workflows))
	for _, wf := range workflows {
		out = append(out, toWorkflowResponse(wf))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.ownedWorkflow(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkflowResponse(wf))
}

func (s *Server) updateWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.ownedWorkflow(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req workflowRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, errValidation("name is required"))
		return
	}
	if _, err := workflow.ParseDefinition(req.Definition); err != nil {
		writeError(w, err)
		return
	}

	updated, err := s.cfg.Workflows.UpdateWorkflow(r.Context(), wf.ID, req.Name, req.Definition)
	if err != nil {
		writeError(w, err)
		return
	}
	s.invalidateDefinition(r.Context(), wf.ID)
	writeJSON(w, http.StatusOK, toWorkflowResponse(updated))
}

func (s *Server) deleteWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.ownedWorkflow(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.cfg.Workflows.DeleteWorkflow(r.Context(), wf.ID); err != nil {
		writeError(w, err)
		return
	}
	s.invalidateDefinition(r.Context(), wf.ID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Workflow deleted successfully"})
}

// executionHistory pairs an execution with its ordered log stream.
type executionHistory struct {
	Execution *store.Execution      `json:"execution"`
	Logs      []*store.ExecutionLog `json:"logs"`
}

func (s *Server) workflowHistory(w http.ResponseWriter, r *http.Request) {
	wf, err := s.ownedWorkflow(r)
	if err != nil {
		writeError(w, err)
		return
	}

	executions, err := s.cfg.Executions.ListExecutions(r.Context(), wf.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	history := make([]executionHistory, 0, len(executions))
	for _, exec := range executions {
		logs, err := s.cfg.Executions.ListLogs(r.Context(), exec.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		if logs == nil {
			logs = []*store.ExecutionLog{}
		}
		history = append(history, executionHistory{Execution: exec, Logs: logs})
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) runWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.ownedWorkflow(r)
	if err != nil {
		writeError(w, err)
		return
	}

	payload := map[string]any{}
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	executionID, err := s.startExecution(r, wf, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"execution_id": executionID})
}

func (s *Server) triggerWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.ownedWorkflow(r)
	if err != nil {
		writeError(w, err)
		return
	}

	payload := map[string]any{}
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	def, err := s.cfg.Engine.Definition(r.Context(), wf.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !def.MatchTrigger(payload) {
		writeJSON(w, http.StatusOK, map[string]any{
			"message":  "No trigger conditions matched",
			"executed": false,
		})
		return
	}

	executionID, err := s.startExecution(r, wf, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"execution_id": executionID, "executed": true})
}

func (s *Server) testWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.ownedWorkflow(r)
	if err != nil {
		writeError(w, err)
		return
	}

	// Test runs bypass trigger matching entirely.
	var req struct {
		Payload map[string]any `json:"payload"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	executionID, err := s.startExecution(r, wf, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"execution_id": executionID,
		"message":      "Test execution started",
	})
}

// startExecution creates a pending execution and hands it to the scheduler
// for immediate dispatch.
func (s *Server) startExecution(r *http.Request, wf *store.Workflow, triggerData map[string]any) (int64, error) {
	exec, err := s.cfg.Engine.StartExecution(r.Context(), wf.ID, triggerData)
	if err != nil {
		return 0, err
	}
	s.cfg.Scheduler.ScheduleWorkflowExecution(time.Now(), wf.ID, exec.ID, triggerData, r.Header.Get("X-User-ID"))
	return exec.ID, nil
}

// ownedWorkflow loads the workflow in the path and checks it belongs to the
// caller. Foreign workflows read as missing, matching the per-user queries
// this API replaces.
func (s *Server) ownedWorkflow(r *http.Request) (*store.Workflow, error) {
	uid, err := userID(r)
	if err != nil {
		return nil, err
	}
	id, err := pathID(r, "workflowID")
	if err != nil {
		return nil, err
	}

	wf, err := s.cfg.Workflows.GetWorkflow(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if wf.UserID != uid {
		return nil, errNotFound("Workflow not found")
	}
	return wf, nil
}

func (s *Server) invalidateDefinition(ctx context.Context, workflowID int64) {
	if s.cfg.Cache == nil {
		return
	}
	if err := s.cfg.Cache.Delete(ctx, cache.WorkflowKey(workflowID)); err != nil {
		log.ErrorErr(log.CatAPI, "invalidate workflow cache", err, "workflowID", workflowID)
	}
}
