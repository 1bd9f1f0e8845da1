package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calafate/loom/internal/bus"
	"github.com/calafate/loom/internal/cache"
	"github.com/calafate/loom/internal/store"
)

// memWorkflows is an in-memory store.WorkflowStore for service tests.
type memWorkflows struct {
	mu   sync.Mutex
	byID map[int64]*store.Workflow
}

func newMemWorkflows() *memWorkflows {
	return &memWorkflows{byID: make(map[int64]*store.Workflow)}
}

var _ store.WorkflowStore = (*memWorkflows)(nil)

func (m *memWorkflows) CreateWorkflow(_ context.Context, userID int64, name string, definition []byte) (*store.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf := &store.Workflow{ID: int64(len(m.byID) + 1), UserID: userID, Name: name, Definition: definition}
	m.byID[wf.ID] = wf
	return wf, nil
}

func (m *memWorkflows) GetWorkflow(_ context.Context, id int64) (*store.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *wf
	return &c, nil
}

func (m *memWorkflows) ListWorkflows(_ context.Context, userID int64) ([]*store.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Workflow
	for _, wf := range m.byID {
		if wf.UserID == userID {
			c := *wf
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memWorkflows) UpdateWorkflow(_ context.Context, id int64, name string, definition []byte) (*store.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	wf.Name = name
	wf.Definition = definition
	c := *wf
	return &c, nil
}

func (m *memWorkflows) DeleteWorkflow(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

const simpleDefinition = `{"nodes":[{"id":"a","type":"start","action":"notify"}],"edges":[]}`

func newServiceHarness(t *testing.T) (*Service, *memWorkflows, *memExecutions, cache.Manager) {
	t.Helper()
	workflows := newMemWorkflows()
	executions := newMemExecutions()
	cacheMgr := cache.NewMemoryManager()
	t.Cleanup(func() { _ = cacheMgr.Close() })

	b := bus.New(nil)
	t.Cleanup(b.Close)

	registry := NewRegistry()
	require.NoError(t, registry.Register("notify", notifyAction))

	executor := NewExecutor(executions, registry, b, nil, nil)
	svc := NewService(workflows, executions, executor, cacheMgr)
	return svc, workflows, executions, cacheMgr
}

func TestService_DefinitionMemoized(t *testing.T) {
	svc, workflows, _, _ := newServiceHarness(t)
	ctx := context.Background()

	wf, err := workflows.CreateWorkflow(ctx, 1, "wf", []byte(simpleDefinition))
	require.NoError(t, err)

	def, err := svc.Definition(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, def.Nodes, 1)

	// A store update is invisible until the cache entry expires.
	_, err = workflows.UpdateWorkflow(ctx, wf.ID, "wf", []byte(`{"nodes":[],"edges":[]}`))
	require.NoError(t, err)

	cached, err := svc.Definition(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, cached.Nodes, 1, "definition should come from the cache")
}

func TestService_DefinitionUnknownWorkflow(t *testing.T) {
	svc, _, _, _ := newServiceHarness(t)

	_, err := svc.Definition(context.Background(), 404)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_StartAndRunExecution(t *testing.T) {
	svc, workflows, executions, _ := newServiceHarness(t)
	ctx := context.Background()

	wf, err := workflows.CreateWorkflow(ctx, 1, "wf", []byte(simpleDefinition))
	require.NoError(t, err)

	exec, err := svc.StartExecution(ctx, wf.ID, map[string]any{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, store.ExecutionPending, exec.Status)

	require.NoError(t, svc.RunExecution(ctx, wf.ID, exec.ID, exec.TriggerData))

	final, err := executions.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, store.ExecutionSucceeded, final.Status)

	// A duplicate dispatch is a no-op: the execution is no longer pending.
	require.NoError(t, svc.RunExecution(ctx, wf.ID, exec.ID, nil))
	logs, err := executions.ListLogs(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2, "re-running must not duplicate logs")
}

func TestService_RunExecutionMissingWorkflow(t *testing.T) {
	svc, _, executions, _ := newServiceHarness(t)
	ctx := context.Background()

	exec, err := executions.CreateExecution(ctx, 77, nil)
	require.NoError(t, err)

	err = svc.RunExecution(ctx, 77, exec.ID, nil)
	require.Error(t, err)

	failed, err := executions.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, store.ExecutionFailed, failed.Status)
	require.NotNil(t, failed.FinishedAt)

	logs, err := executions.ListLogs(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "engine", logs[0].NodeID)
	require.Equal(t, store.LogError, logs[0].Status)
}
