package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/calafate/loom/internal/bus"
	"github.com/calafate/loom/internal/log"
	"github.com/calafate/loom/internal/mail"
	"github.com/calafate/loom/internal/tracing"
)

const (
	// tickInterval is how often the dispatch loop scans for due jobs.
	tickInterval = time.Second
	// retentionPeriod is how long terminal jobs stay queryable in memory.
	retentionPeriod = 24 * time.Hour
	// recoveryBackoff is the pause after a dispatch tick fails.
	recoveryBackoff = 5 * time.Second
)

// WorkflowRunner runs a previously created execution to completion. The
// engine service implements it.
type WorkflowRunner interface {
	RunExecution(ctx context.Context, workflowID, executionID int64, triggerData map[string]any) error
}

// Config holds the scheduler's collaborators.
type Config struct {
	Bus     *bus.Bus
	Runner  WorkflowRunner // nil fails workflow_execution jobs
	Mailer  mail.Sender    // nil fails email_send jobs
	Tracer  trace.Tracer   // nil disables job spans
	Workers int            // pool size for bound functions
}

// Scheduler owns the in-memory job table and the dispatch loop. All reads
// return clones; the jobs map is never shared.
type Scheduler struct {
	mu   sync.RWMutex
	jobs map[string]*Job

	bus    *bus.Bus
	runner WorkflowRunner
	mailer mail.Sender
	tracer trace.Tracer
	pool   *WorkerPool

	// now and tick are swappable in tests.
	now  func() time.Time
	tick time.Duration

	handlers sync.WaitGroup
}

// New creates a Scheduler. Run must be called to start dispatching.
func New(cfg Config) *Scheduler {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	return &Scheduler{
		jobs:   make(map[string]*Job),
		bus:    cfg.Bus,
		runner: cfg.Runner,
		mailer: cfg.Mailer,
		tracer: tracer,
		pool:   NewWorkerPool(cfg.Workers),
		now:    time.Now,
		tick:   tickInterval,
	}
}

// Schedule enqueues a job of the given type. Returns the generated job ID.
// A status update is emitted when a user is bound.
func (s *Scheduler) Schedule(jobType JobType, scheduledAt time.Time, payload map[string]any, userID string) string {
	return s.add(jobType, scheduledAt, payload, userID, nil)
}

// ScheduleFunc enqueues a job whose work is the bound function. Used for
// delay, http_request, and generic jobs.
func (s *Scheduler) ScheduleFunc(jobType JobType, scheduledAt time.Time, payload map[string]any, userID string, fn RunFunc) string {
	return s.add(jobType, scheduledAt, payload, userID, fn)
}

// ScheduleWorkflowExecution enqueues a deferred workflow run. The execution
// record must already exist; the job carries its identifiers.
func (s *Scheduler) ScheduleWorkflowExecution(scheduledAt time.Time, workflowID, executionID int64, triggerData map[string]any, userID string) string {
	payload := map[string]any{
		"workflow_id":  workflowID,
		"execution_id": executionID,
	}
	if len(triggerData) > 0 {
		payload["trigger_data"] = triggerData
	}
	return s.add(JobWorkflowExecution, scheduledAt, payload, userID, nil)
}

// ScheduleEmail enqueues a deferred e-mail dispatch.
func (s *Scheduler) ScheduleEmail(scheduledAt time.Time, to, subject, body, userID string) string {
	payload := map[string]any{
		"to":      to,
		"subject": subject,
		"body":    body,
	}
	return s.add(JobEmailSend, scheduledAt, payload, userID, nil)
}

func (s *Scheduler) add(jobType JobType, scheduledAt time.Time, payload map[string]any, userID string, fn RunFunc) string {
	now := s.now()
	job := &Job{
		ID:          uuid.New().String(),
		UserID:      userID,
		Type:        jobType,
		Status:      JobPending,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
		Payload:     payload,
		run:         fn,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	clone := job.Clone()
	s.mu.Unlock()

	if userID != "" {
		s.publishStatus(clone)
	}
	log.Debug(log.CatSched, "job scheduled", "jobID", job.ID, "type", string(jobType), "scheduledAt", scheduledAt)
	return job.ID
}

// Get returns a clone of a job.
func (s *Scheduler) Get(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	return job.Clone(), true
}

// Cancel cancels a pending job. Running and terminal jobs cannot be
// cancelled; Cancel reports whether the transition happened.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || !job.Status.CanTransitionTo(JobCancelled) {
		s.mu.Unlock()
		return false
	}
	now := s.now()
	job.Status = JobCancelled
	job.CancelledAt = &now
	job.UpdatedAt = now
	clone := job.Clone()
	s.mu.Unlock()

	s.publishStatus(clone)
	log.Info(log.CatSched, "job cancelled", "jobID", id)
	return true
}

// ListByUser returns clones of all jobs bound to a user, newest first.
func (s *Scheduler) ListByUser(userID string) []*Job {
	return s.list(func(j *Job) bool { return j.UserID == userID })
}

// ListActive returns clones of all pending and running jobs, newest first.
func (s *Scheduler) ListActive() []*Job {
	return s.list(func(j *Job) bool { return j.Status == JobPending || j.Status == JobRunning })
}

// ListByType returns clones of all jobs of a type, newest first.
func (s *Scheduler) ListByType(jobType JobType) []*Job {
	return s.list(func(j *Job) bool { return j.Type == jobType })
}

func (s *Scheduler) list(match func(*Job) bool) []*Job {
	s.mu.RLock()
	var out []*Job
	for _, job := range s.jobs {
		if match(job) {
			out = append(out, job.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Run drives the dispatch loop until ctx is cancelled, then waits for
// in-flight handlers and shuts the worker pool down. Tick failures are
// logged and the loop resumes after a backoff; the loop itself never dies.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info(log.CatSched, "dispatch loop started")
	defer log.Info(log.CatSched, "dispatch loop stopped")

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		if err := s.safeTick(ctx); err != nil {
			log.ErrorErr(log.CatSched, "dispatch tick failed", err)
			select {
			case <-ctx.Done():
				s.shutdown()
				return
			case <-time.After(recoveryBackoff):
			}
			continue
		}

		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) shutdown() {
	s.handlers.Wait()
	s.pool.Close()
}

func (s *Scheduler) safeTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch tick panicked: %v", r)
		}
	}()
	s.dispatchDue(ctx)
	s.evictExpired()
	return nil
}

// dispatched pairs a promoted job clone with its bound function.
type dispatched struct {
	job *Job
	run RunFunc
}

func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.now()

	var due []dispatched
	s.mu.Lock()
	for _, job := range s.jobs {
		if job.Status != JobPending || job.ScheduledAt.After(now) {
			continue
		}
		started := now
		job.Status = JobRunning
		job.StartedAt = &started
		job.UpdatedAt = now
		due = append(due, dispatched{job: job.Clone(), run: job.run})
	}
	s.mu.Unlock()

	for _, item := range due {
		s.publishStatus(item.job)
		log.Debug(log.CatSched, "job dispatched", "jobID", item.job.ID, "type", string(item.job.Type))
		s.handlers.Add(1)
		go s.execute(ctx, item.job, item.run)
	}
}

// execute runs one job's handler off the dispatch loop and records the
// outcome. Handler errors land on the job; they never propagate further.
func (s *Scheduler) execute(ctx context.Context, job *Job, run RunFunc) {
	defer s.handlers.Done()

	ctx, span := s.tracer.Start(ctx, "job.run", trace.WithAttributes(
		attribute.String(tracing.AttrJobID, job.ID),
		attribute.String(tracing.AttrJobType, string(job.Type)),
	))
	defer span.End()
	if job.UserID != "" {
		span.SetAttributes(attribute.String(tracing.AttrUserID, job.UserID))
	}

	result, err := s.invoke(ctx, job, run)
	if err != nil {
		tracing.RecordError(span, err)
	}
	s.finish(job.ID, result, err)
}

func (s *Scheduler) invoke(ctx context.Context, job *Job, run RunFunc) (any, error) {
	switch job.Type {
	case JobWorkflowExecution:
		if s.runner == nil {
			return nil, fmt.Errorf("no workflow runner configured")
		}
		workflowID := int64Value(job.Payload["workflow_id"])
		executionID := int64Value(job.Payload["execution_id"])
		triggerData, _ := job.Payload["trigger_data"].(map[string]any)
		return nil, s.runner.RunExecution(ctx, workflowID, executionID, triggerData)

	case JobEmailSend:
		if s.mailer == nil {
			return nil, fmt.Errorf("no mail collaborator configured")
		}
		result := s.mailer.Send(ctx, mail.Message{
			To:      stringValue(job.Payload["to"]),
			Subject: stringValue(job.Payload["subject"]),
			Body:    stringValue(job.Payload["body"]),
		})
		if !result.Success {
			return result, fmt.Errorf("email delivery failed: %s", result.Error)
		}
		return result, nil

	default:
		if run == nil {
			return nil, fmt.Errorf("job %s has no bound function", job.ID)
		}
		// Bound functions are synchronous; offload so a CPU-heavy one
		// cannot starve the runtime.
		var result any
		var err error
		done := make(chan struct{})
		if submitErr := s.pool.Submit(func() {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("handler panicked: %v", r)
				}
			}()
			result, err = run(ctx)
		}); submitErr != nil {
			return nil, submitErr
		}
		<-done
		return result, err
	}
}

func (s *Scheduler) finish(id string, result any, err error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	now := s.now()
	if err != nil {
		if job.Status.CanTransitionTo(JobFailed) {
			job.Status = JobFailed
			job.FailedAt = &now
			job.Error = err.Error()
		}
	} else {
		if job.Status.CanTransitionTo(JobCompleted) {
			job.Status = JobCompleted
			job.CompletedAt = &now
			job.Result = result
		}
	}
	job.UpdatedAt = now
	clone := job.Clone()
	s.mu.Unlock()

	s.publishStatus(clone)
	if err != nil {
		log.Warn(log.CatSched, "job failed", "jobID", id, "error", err.Error())
	} else {
		log.Debug(log.CatSched, "job completed", "jobID", id)
	}
}

// evictExpired drops terminal jobs older than the retention period.
func (s *Scheduler) evictExpired() {
	cutoff := s.now().Add(-retentionPeriod)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, job := range s.jobs {
		var doneAt *time.Time
		switch job.Status {
		case JobCompleted:
			doneAt = job.CompletedAt
		case JobFailed:
			doneAt = job.FailedAt
		}
		if doneAt != nil && doneAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}

func (s *Scheduler) publishStatus(job *Job) {
	if s.bus == nil {
		return
	}
	var data map[string]any
	if job.Result != nil || job.Error != "" {
		data = make(map[string]any, 2)
		if job.Result != nil {
			data["result"] = job.Result
		}
		if job.Error != "" {
			data["error"] = job.Error
		}
	}
	s.bus.PublishJob(context.Background(), bus.Event{
		JobID:     job.ID,
		JobType:   string(job.Type),
		Status:    string(job.Status),
		UserID:    job.UserID,
		UpdatedAt: job.UpdatedAt,
		Data:      data,
	})
}

func int64Value(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	}
	return 0
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
