package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/calafate/loom/internal/bus"
	"github.com/calafate/loom/internal/cache"
	"github.com/calafate/loom/internal/log"
	"github.com/calafate/loom/internal/store"
	"github.com/calafate/loom/internal/tracing"
	"github.com/calafate/loom/internal/workflow"
)

// maxBackoff caps the per-retry sleep.
const maxBackoff = 10 * time.Second

// nodeError marks a handler failure already recorded in the failing node's
// log stream, so the executor does not append a second error line.
type nodeError struct {
	nodeID string
	err    error
}

func (e *nodeError) Error() string { return e.err.Error() }
func (e *nodeError) Unwrap() error { return e.err }

// Executor walks a workflow graph to completion, invoking action handlers
// with retry, appending execution logs, and emitting events on the bus.
type Executor struct {
	executions store.ExecutionStore
	registry   *Registry
	bus        *bus.Bus
	cache      cache.Manager // optional; memoizes the last execution
	tracer     trace.Tracer

	// sleep is the backoff sleep, swappable in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewExecutor creates an Executor. A nil cache disables last-execution
// memoization; a nil tracer disables span recording.
func NewExecutor(executions store.ExecutionStore, registry *Registry, b *bus.Bus, cacheMgr cache.Manager, tracer trace.Tracer) *Executor {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	return &Executor{
		executions: executions,
		registry:   registry,
		bus:        b,
		cache:      cacheMgr,
		tracer:     tracer,
		sleep:      sleepContext,
	}
}

// Run executes the workflow graph against an execution record. The execution
// transitions pending -> running -> (succeeded | failed); started_at and
// finished_at are stamped with the transitions. The returned error is the
// root cause of a failed execution; a succeeded execution returns nil.
func (e *Executor) Run(ctx context.Context, def *workflow.Definition, exec *store.Execution, triggerData map[string]any) error {
	ec := make(map[string]any, len(triggerData)+2)
	for k, v := range triggerData {
		ec[k] = v
	}
	ec[ctxKeyExecutionID] = exec.ID

	ctx, span := e.tracer.Start(ctx, "execution.run", trace.WithAttributes(
		attribute.Int64(tracing.AttrWorkflowID, exec.WorkflowID),
		attribute.Int64(tracing.AttrExecutionID, exec.ID),
	))
	defer span.End()

	started := time.Now()
	exec.Status = store.ExecutionRunning
	exec.StartedAt = &started
	if err := e.executions.UpdateExecution(ctx, exec); err != nil {
		return fmt.Errorf("failed to start execution: %w", err)
	}
	e.bus.PublishExecution(ctx, exec.WorkflowID, bus.Event{
		Type:        bus.TypeExecutionStarted,
		ExecutionID: exec.ID,
	})
	log.Info(log.CatEngine, "execution started", "executionID", exec.ID, "workflowID", exec.WorkflowID)

	nodes := def.NodeMap()
	visited := make(map[string]bool)
	var runErr error
	for _, entry := range def.EntryNodes() {
		if runErr = e.visit(ctx, def, nodes, exec, entry, ec, visited); runErr != nil {
			break
		}
	}

	status := store.ExecutionSucceeded
	if runErr != nil {
		status = store.ExecutionFailed
		var nerr *nodeError
		if !errors.As(runErr, &nerr) {
			// Failures outside any node (cycles) get an engine-level log.
			e.appendLog(ctx, exec, "engine", store.LogError, runErr.Error())
		}
		tracing.RecordError(span, runErr)
		log.Warn(log.CatEngine, "execution failed", "executionID", exec.ID, "error", runErr.Error())
	}

	finished := time.Now()
	exec.Status = status
	exec.FinishedAt = &finished
	if err := e.executions.UpdateExecution(ctx, exec); err != nil {
		log.ErrorErr(log.CatEngine, "persist terminal execution", err, "executionID", exec.ID)
	}
	e.bus.PublishExecution(ctx, exec.WorkflowID, bus.Event{
		Type:        bus.TypeExecutionFinished,
		ExecutionID: exec.ID,
		Status:      string(status),
	})
	e.memoizeLastExecution(ctx, exec)

	return runErr
}

// visit runs one node then follows its satisfied outgoing edges depth-first.
// A node already in the visited set means the graph cycled.
func (e *Executor) visit(ctx context.Context, def *workflow.Definition, nodes map[string]workflow.Node, exec *store.Execution, node workflow.Node, ec map[string]any, visited map[string]bool) error {
	if visited[node.ID] {
		return fmt.Errorf("cycle detected at node %q", node.ID)
	}
	visited[node.ID] = true

	if err := e.runNode(ctx, exec, node, ec); err != nil {
		return err
	}

	for _, edge := range def.OutgoingEdges(node.ID) {
		if edge.Condition != nil {
			condCtx := map[string]any{"data": ec, "params": node.Params}
			if !workflow.Evaluate(edge.Condition, condCtx) {
				continue
			}
		}
		target, ok := nodes[edge.Target]
		if !ok {
			continue
		}
		if err := e.visit(ctx, def, nodes, exec, target, ec, visited); err != nil {
			return err
		}
	}
	return nil
}

// runNode runs one node under its own span: started log, handler with
// retries, terminal log.
func (e *Executor) runNode(ctx context.Context, exec *store.Execution, node workflow.Node, ec map[string]any) error {
	ctx, span := e.tracer.Start(ctx, "node.run", trace.WithAttributes(
		attribute.String(tracing.AttrNodeID, node.ID),
		attribute.String(tracing.AttrNodeAction, node.Action),
	))
	defer span.End()

	e.appendLog(ctx, exec, node.ID, store.LogStarted, "")
	e.bus.PublishExecution(ctx, exec.WorkflowID, bus.Event{
		Type:        bus.TypeNodeStarted,
		ExecutionID: exec.ID,
		NodeID:      node.ID,
		Action:      node.Action,
	})

	handler, ok := e.registry.Resolve(node.Action)
	if !ok {
		// Missing optional handler: the node completes as a no-op so the
		// workflow keeps progressing.
		e.completeNode(ctx, exec, node.ID, fmt.Sprintf("No handler registered for action %q", node.Action))
		return nil
	}

	ec[ctxKeyCurrentNode] = node.ID
	params := workflow.SubstituteParams(node.Params, ec)

	attempts := node.Retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if lastErr = handler(ctx, params, ec); lastErr == nil {
			break
		}
		if attempt < attempts {
			e.appendLog(ctx, exec, node.ID, store.LogRetry, fmt.Sprintf("Retry %d failed: %v", attempt, lastErr))
			e.sleep(ctx, backoff(attempt))
		}
	}
	if lastErr != nil {
		e.appendLog(ctx, exec, node.ID, store.LogError, lastErr.Error())
		tracing.RecordError(span, lastErr)
		return &nodeError{nodeID: node.ID, err: lastErr}
	}
	e.completeNode(ctx, exec, node.ID, "")
	return nil
}

func (e *Executor) completeNode(ctx context.Context, exec *store.Execution, nodeID, message string) {
	e.appendLog(ctx, exec, nodeID, store.LogCompleted, message)
	e.bus.PublishExecution(ctx, exec.WorkflowID, bus.Event{
		Type:        bus.TypeNodeCompleted,
		ExecutionID: exec.ID,
		NodeID:      nodeID,
	})
}

// appendLog persists a log line and mirrors it as a bus event. Persistence
// failures are logged; the run continues.
func (e *Executor) appendLog(ctx context.Context, exec *store.Execution, nodeID, status, message string) {
	if err := e.executions.AppendLog(ctx, exec.ID, nodeID, status, message); err != nil {
		log.ErrorErr(log.CatEngine, "append execution log", err, "executionID", exec.ID, "nodeID", nodeID)
	}
	e.bus.PublishExecution(ctx, exec.WorkflowID, bus.Event{
		Type:        bus.TypeLog,
		ExecutionID: exec.ID,
		NodeID:      nodeID,
		Status:      status,
		Message:     message,
	})
}

func (e *Executor) memoizeLastExecution(ctx context.Context, exec *store.Execution) {
	if e.cache == nil {
		return
	}
	if err := e.cache.SetJSON(ctx, cache.LastExecutionKey(exec.WorkflowID), exec, 0); err != nil {
		log.ErrorErr(log.CatEngine, "memoize last execution", err, "workflowID", exec.WorkflowID)
	}
}

// backoff returns the sleep before the next attempt: min(2^attempt, 10)s.
func backoff(attempt int) time.Duration {
	if attempt >= 4 {
		return maxBackoff
	}
	return time.Duration(1<<attempt) * time.Second
}
