package scheduler

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/calafate/loom/internal/log"
)

// DefaultMaxWorkers is the default number of concurrent pool workers.
const DefaultMaxWorkers = 4

// defaultQueueCapacity is the task backlog each pool holds before Submit
// blocks.
const defaultQueueCapacity = 64

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = fmt.Errorf("worker pool is closed")

// WorkerPool runs synchronous tasks on a fixed set of workers so the
// dispatch loop never executes handler work inline. A panicking task is
// recovered and logged; it never kills a worker.
type WorkerPool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool creates a pool with maxWorkers workers (DefaultMaxWorkers
// when <= 0).
func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	p := &WorkerPool{tasks: make(chan func(), defaultQueueCapacity)}
	for i := 0; i < maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.runTask(task)
	}
}

func (p *WorkerPool) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(log.CatSched, "worker task panicked", "panic", fmt.Sprintf("%v", r), "stack", string(debug.Stack()))
		}
	}()
	task()
}

// Submit enqueues a task. Blocks when the backlog is full.
func (p *WorkerPool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.tasks <- task
	return nil
}

// Close stops accepting tasks and waits for in-flight tasks to finish.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
