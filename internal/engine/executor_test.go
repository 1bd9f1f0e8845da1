package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calafate/loom/internal/bus"
	"github.com/calafate/loom/internal/cache"
	"github.com/calafate/loom/internal/log"
	"github.com/calafate/loom/internal/store"
	"github.com/calafate/loom/internal/tracing"
	"github.com/calafate/loom/internal/workflow"
)

func init() {
	log.Disable()
}

// memExecutions is an in-memory store.ExecutionStore for executor tests.
type memExecutions struct {
	mu     sync.Mutex
	nextID int64
	execs  map[int64]*store.Execution
	logs   map[int64][]*store.ExecutionLog
}

func newMemExecutions() *memExecutions {
	return &memExecutions{
		execs: make(map[int64]*store.Execution),
		logs:  make(map[int64][]*store.ExecutionLog),
	}
}

var _ store.ExecutionStore = (*memExecutions)(nil)

func (m *memExecutions) CreateExecution(_ context.Context, workflowID int64, triggerData map[string]any) (*store.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	exec := &store.Execution{
		ID:          m.nextID,
		WorkflowID:  workflowID,
		Status:      store.ExecutionPending,
		TriggerData: triggerData,
	}
	m.execs[exec.ID] = exec
	return cloneExecution(exec), nil
}

func (m *memExecutions) GetExecution(_ context.Context, id int64) (*store.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.execs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneExecution(exec), nil
}

func (m *memExecutions) UpdateExecution(_ context.Context, exec *store.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.execs[exec.ID]; !ok {
		return store.ErrNotFound
	}
	m.execs[exec.ID] = cloneExecution(exec)
	return nil
}

func (m *memExecutions) AppendLog(_ context.Context, executionID int64, nodeID, status, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[executionID] = append(m.logs[executionID], &store.ExecutionLog{
		ID:          int64(len(m.logs[executionID]) + 1),
		ExecutionID: executionID,
		NodeID:      nodeID,
		Status:      status,
		Message:     message,
		Timestamp:   time.Now(),
	})
	return nil
}

func (m *memExecutions) ListExecutions(_ context.Context, workflowID int64) ([]*store.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Execution
	for _, exec := range m.execs {
		if exec.WorkflowID == workflowID {
			out = append(out, cloneExecution(exec))
		}
	}
	return out, nil
}

func (m *memExecutions) ListLogs(_ context.Context, executionID int64) ([]*store.ExecutionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*store.ExecutionLog(nil), m.logs[executionID]...), nil
}

func cloneExecution(e *store.Execution) *store.Execution {
	c := *e
	return &c
}

// testHarness bundles an executor with its collaborators and a recorded
// backoff sleep.
type testHarness struct {
	executions *memExecutions
	registry   *Registry
	bus        *bus.Bus
	executor   *Executor
	sleeps     []time.Duration
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		executions: newMemExecutions(),
		registry:   NewRegistry(),
		bus:        bus.New(nil),
	}
	t.Cleanup(h.bus.Close)
	h.executor = NewExecutor(h.executions, h.registry, h.bus, nil, nil)
	h.executor.sleep = func(_ context.Context, d time.Duration) {
		h.sleeps = append(h.sleeps, d)
	}
	return h
}

func (h *testHarness) run(t *testing.T, def *workflow.Definition, trigger map[string]any) (*store.Execution, error) {
	t.Helper()
	exec, err := h.executions.CreateExecution(context.Background(), 1, trigger)
	require.NoError(t, err)
	runErr := h.executor.Run(context.Background(), def, exec, trigger)
	final, err := h.executions.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	return final, runErr
}

func (h *testHarness) logStatuses(t *testing.T, executionID int64) []string {
	t.Helper()
	logs, err := h.executions.ListLogs(context.Background(), executionID)
	require.NoError(t, err)
	out := make([]string, len(logs))
	for i, l := range logs {
		out[i] = l.NodeID + ":" + l.Status
	}
	return out
}

func linearDef(actions ...string) *workflow.Definition {
	def := &workflow.Definition{}
	for i, action := range actions {
		nodeType := workflow.NodeTypeAction
		if i == 0 {
			nodeType = workflow.NodeTypeStart
		}
		def.Nodes = append(def.Nodes, workflow.Node{
			ID:     fmt.Sprintf("n%d", i),
			Type:   nodeType,
			Action: action,
		})
		if i > 0 {
			def.Edges = append(def.Edges, workflow.Edge{
				Source: fmt.Sprintf("n%d", i-1),
				Target: fmt.Sprintf("n%d", i),
			})
		}
	}
	return def
}

func TestExecutor_LinearSuccess(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.registry.Register("notify", notifyAction))

	exec, runErr := h.run(t, linearDef("notify", "notify"), nil)

	require.NoError(t, runErr)
	require.Equal(t, store.ExecutionSucceeded, exec.Status)
	require.NotNil(t, exec.StartedAt)
	require.NotNil(t, exec.FinishedAt)
	require.False(t, exec.FinishedAt.Before(*exec.StartedAt))
	require.Equal(t, []string{
		"n0:started", "n0:completed",
		"n1:started", "n1:completed",
	}, h.logStatuses(t, exec.ID))
}

func TestExecutor_EventOrdering(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.registry.Register("notify", notifyAction))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := h.bus.SubscribeExecution(ctx, 1)

	def := linearDef("notify", "notify", "notify")
	_, runErr := h.run(t, def, nil)
	require.NoError(t, runErr)

	var observed []string
	for len(observed) == 0 || observed[len(observed)-1] != "execution_finished" {
		select {
		case ev := <-events:
			if ev.Payload.Type == bus.TypeLog {
				continue // log mirrors are interleaved with the node events
			}
			observed = append(observed, string(ev.Payload.Type))
		case <-time.After(time.Second):
			require.Fail(t, "timed out waiting for events")
		}
	}

	require.Equal(t, []string{
		"execution_started",
		"node_started", "node_completed",
		"node_started", "node_completed",
		"node_started", "node_completed",
		"execution_finished",
	}, observed)
}

func TestExecutor_RetryThenSucceed(t *testing.T) {
	h := newHarness(t)
	var calls int
	require.NoError(t, h.registry.Register("flaky", func(context.Context, map[string]any, map[string]any) error {
		calls++
		if calls <= 2 {
			return errors.New("transient")
		}
		return nil
	}))

	def := linearDef("flaky")
	def.Nodes[0].Retries = 3

	exec, runErr := h.run(t, def, nil)

	require.NoError(t, runErr)
	require.Equal(t, store.ExecutionSucceeded, exec.Status)
	require.Equal(t, []string{
		"n0:started", "n0:retry", "n0:retry", "n0:completed",
	}, h.logStatuses(t, exec.ID))
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, h.sleeps)
}

func TestExecutor_FailAfterRetries(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.registry.Register("broken", func(context.Context, map[string]any, map[string]any) error {
		return errors.New("boom")
	}))

	def := linearDef("broken")
	def.Nodes[0].Retries = 2

	exec, runErr := h.run(t, def, nil)

	require.Error(t, runErr)
	require.Equal(t, store.ExecutionFailed, exec.Status)
	require.NotNil(t, exec.FinishedAt)
	require.Equal(t, []string{
		"n0:started", "n0:retry", "n0:retry", "n0:error",
	}, h.logStatuses(t, exec.ID))
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, h.sleeps)
}

func TestExecutor_ConditionalBranch(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.registry.Register("check_ticket_assigned", checkTicketAssignedAction))
	require.NoError(t, h.registry.Register("notify", notifyAction))

	def := &workflow.Definition{
		Nodes: []workflow.Node{
			{ID: "check", Type: workflow.NodeTypeStart, Action: "check_ticket_assigned"},
			{ID: "escalate", Type: workflow.NodeTypeAction, Action: "notify"},
			{ID: "ack", Type: workflow.NodeTypeAction, Action: "notify"},
		},
		Edges: []workflow.Edge{
			{Source: "check", Target: "escalate", Condition: &workflow.Condition{
				Op: "eq", Path: "data.check_result", Value: false,
			}},
			{Source: "check", Target: "ack", Condition: &workflow.Condition{
				Op: "eq", Path: "data.check_result", Value: true,
			}},
		},
	}

	exec, runErr := h.run(t, def, map[string]any{"ticket_assigned": false})

	require.NoError(t, runErr)
	require.Equal(t, store.ExecutionSucceeded, exec.Status)
	statuses := h.logStatuses(t, exec.ID)
	require.Contains(t, statuses, "escalate:started")
	require.NotContains(t, statuses, "ack:started")
}

func TestExecutor_CycleDetection(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.registry.Register("notify", notifyAction))

	def := linearDef("notify", "notify")
	def.Edges = append(def.Edges, workflow.Edge{Source: "n1", Target: "n0"})

	exec, runErr := h.run(t, def, nil)

	require.Error(t, runErr)
	require.Contains(t, runErr.Error(), "cycle")
	require.Equal(t, store.ExecutionFailed, exec.Status)

	started := map[string]int{}
	logs, err := h.executions.ListLogs(context.Background(), exec.ID)
	require.NoError(t, err)
	var engineErrors int
	for _, l := range logs {
		if l.Status == store.LogStarted {
			started[l.NodeID]++
		}
		if l.NodeID == "engine" && l.Status == store.LogError {
			engineErrors++
		}
	}
	for nodeID, count := range started {
		require.Equal(t, 1, count, "node %s should start at most once", nodeID)
	}
	require.Equal(t, 1, engineErrors, "cycle should be recorded as an engine error log")
}

func TestExecutor_UnknownActionCompletes(t *testing.T) {
	h := newHarness(t)

	exec, runErr := h.run(t, linearDef("does_not_exist"), nil)

	require.NoError(t, runErr)
	require.Equal(t, store.ExecutionSucceeded, exec.Status)

	logs, err := h.executions.ListLogs(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, store.LogCompleted, logs[1].Status)
	require.Contains(t, logs[1].Message, "does_not_exist")
}

func TestExecutor_ParamTemplating(t *testing.T) {
	h := newHarness(t)
	var got map[string]any
	require.NoError(t, h.registry.Register("capture", func(_ context.Context, params map[string]any, _ map[string]any) error {
		got = params
		return nil
	}))

	def := linearDef("capture")
	def.Nodes[0].Params = map[string]any{
		"greeting": "hello {{user.name}}",
		"missing":  "{{nope}}",
		"count":    3,
	}

	_, runErr := h.run(t, def, map[string]any{"user": map[string]any{"name": "sam"}})

	require.NoError(t, runErr)
	require.Equal(t, "hello sam", got["greeting"])
	require.Equal(t, "", got["missing"])
	require.Equal(t, 3, got["count"])
}

func TestExecutor_MemoizesLastExecution(t *testing.T) {
	h := newHarness(t)
	cacheMgr := cache.NewMemoryManager()
	t.Cleanup(func() { _ = cacheMgr.Close() })
	h.executor.cache = cacheMgr
	require.NoError(t, h.registry.Register("notify", notifyAction))

	exec, runErr := h.run(t, linearDef("notify"), nil)
	require.NoError(t, runErr)

	var cached store.Execution
	found, err := cacheMgr.GetJSON(context.Background(), cache.LastExecutionKey(1), &cached)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, exec.ID, cached.ID)
	require.Equal(t, store.ExecutionSucceeded, cached.Status)
}

func TestExecutor_RecordsSpans(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.registry.Register("notify", notifyAction))

	path := filepath.Join(t.TempDir(), "traces.jsonl")
	provider, err := tracing.NewProvider(tracing.Config{Enabled: true, Exporter: "file", FilePath: path})
	require.NoError(t, err)
	h.executor.tracer = provider.Tracer()

	_, runErr := h.run(t, linearDef("notify", "notify"), nil)
	require.NoError(t, runErr)
	require.NoError(t, provider.Shutdown(context.Background()))

	spans := readSpans(t, path)
	var runs, nodes int
	for _, s := range spans {
		switch s.Name {
		case "execution.run":
			runs++
			require.Equal(t, float64(1), s.Attributes["workflow.id"])
		case "node.run":
			nodes++
			require.Equal(t, "notify", s.Attributes["node.action"])
		}
	}
	require.Equal(t, 1, runs)
	require.Equal(t, 2, nodes)
}

func TestExecutor_FailedNodeSpanHasError(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.registry.Register("broken", func(context.Context, map[string]any, map[string]any) error {
		return errors.New("boom")
	}))

	path := filepath.Join(t.TempDir(), "traces.jsonl")
	provider, err := tracing.NewProvider(tracing.Config{Enabled: true, Exporter: "file", FilePath: path})
	require.NoError(t, err)
	h.executor.tracer = provider.Tracer()

	_, runErr := h.run(t, linearDef("broken"), nil)
	require.Error(t, runErr)
	require.NoError(t, provider.Shutdown(context.Background()))

	statuses := map[string]string{}
	for _, s := range readSpans(t, path) {
		statuses[s.Name] = s.Status
	}
	require.Equal(t, "ERROR", statuses["node.run"])
	require.Equal(t, "ERROR", statuses["execution.run"])
}

// exportedSpan is the JSONL shape the file exporter writes.
type exportedSpan struct {
	Name       string         `json:"name"`
	Status     string         `json:"status"`
	Attributes map[string]any `json:"attributes"`
}

func readSpans(t *testing.T, path string) []exportedSpan {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []exportedSpan
	for _, line := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var s exportedSpan
		require.NoError(t, json.Unmarshal(line, &s))
		out = append(out, s)
	}
	return out
}

func TestRegistry_Freeze(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", notifyAction))
	r.Freeze()

	err := r.Register("b", notifyAction)
	require.ErrorIs(t, err, ErrFrozen)

	_, ok := r.Resolve("a")
	require.True(t, ok)
	require.Equal(t, []string{"a"}, r.Names())
}

func TestBackoff(t *testing.T) {
	require.Equal(t, 2*time.Second, backoff(1))
	require.Equal(t, 4*time.Second, backoff(2))
	require.Equal(t, 8*time.Second, backoff(3))
	require.Equal(t, 10*time.Second, backoff(4))
	require.Equal(t, 10*time.Second, backoff(50))
}
