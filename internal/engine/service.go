package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/calafate/loom/internal/cache"
	"github.com/calafate/loom/internal/log"
	"github.com/calafate/loom/internal/store"
	"github.com/calafate/loom/internal/workflow"
)

// Service ties the executor to persistence: it loads and memoizes workflow
// definitions, creates execution records, and runs executions on behalf of
// the scheduler. It satisfies the scheduler's WorkflowRunner.
type Service struct {
	workflows  store.WorkflowStore
	executions store.ExecutionStore
	executor   *Executor
	cache      cache.Manager // optional
}

// NewService creates a Service. A nil cache disables definition memoization.
func NewService(workflows store.WorkflowStore, executions store.ExecutionStore, executor *Executor, cacheMgr cache.Manager) *Service {
	return &Service{
		workflows:  workflows,
		executions: executions,
		executor:   executor,
		cache:      cacheMgr,
	}
}

// Definition loads a workflow's parsed definition, consulting the
// workflow:<id> cache key first and repopulating it on a miss.
func (s *Service) Definition(ctx context.Context, workflowID int64) (*workflow.Definition, error) {
	if s.cache != nil {
		var raw json.RawMessage
		if found, err := s.cache.GetJSON(ctx, cache.WorkflowKey(workflowID), &raw); err == nil && found {
			if def, err := workflow.ParseDefinition(raw); err == nil {
				return def, nil
			}
			// A corrupt cache entry falls through to the store.
			_ = s.cache.Delete(ctx, cache.WorkflowKey(workflowID))
		}
	}

	wf, err := s.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	def, err := workflow.ParseDefinition(wf.Definition)
	if err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cache.WorkflowKey(workflowID), json.RawMessage(wf.Definition), 0); err != nil {
			log.ErrorErr(log.CatEngine, "memoize workflow definition", err, "workflowID", workflowID)
		}
	}
	return def, nil
}

// StartExecution validates the workflow and creates a pending execution
// record seeded with the trigger data. The caller schedules the actual run.
func (s *Service) StartExecution(ctx context.Context, workflowID int64, triggerData map[string]any) (*store.Execution, error) {
	if _, err := s.Definition(ctx, workflowID); err != nil {
		return nil, err
	}
	return s.executions.CreateExecution(ctx, workflowID, triggerData)
}

// RunExecution runs a previously created execution to completion. Only
// pending executions run; anything else is a stale or duplicate dispatch.
func (s *Service) RunExecution(ctx context.Context, workflowID, executionID int64, triggerData map[string]any) error {
	exec, err := s.executions.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status != store.ExecutionPending {
		log.Warn(log.CatEngine, "skipping non-pending execution", "executionID", executionID, "status", string(exec.Status))
		return nil
	}

	def, err := s.Definition(ctx, workflowID)
	if err != nil {
		// The execution would otherwise hang pending forever.
		s.failExecution(ctx, exec, err)
		return fmt.Errorf("failed to load workflow %d: %w", workflowID, err)
	}

	return s.executor.Run(ctx, def, exec, triggerData)
}

func (s *Service) failExecution(ctx context.Context, exec *store.Execution, cause error) {
	now := time.Now()
	exec.Status = store.ExecutionFailed
	if exec.StartedAt == nil {
		exec.StartedAt = &now
	}
	exec.FinishedAt = &now
	if err := s.executions.AppendLog(ctx, exec.ID, "engine", store.LogError, cause.Error()); err != nil {
		log.ErrorErr(log.CatEngine, "append failure log", err, "executionID", exec.ID)
	}
	if err := s.executions.UpdateExecution(ctx, exec); err != nil {
		log.ErrorErr(log.CatEngine, "persist failed execution", err, "executionID", exec.ID)
	}
}
