package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// State is a task's lifecycle position. PENDING and PROGRESS are transient;
// SUCCESS and FAILURE are terminal and written exactly once.
type State string

const (
	StatePending  State = "PENDING"
	StateProgress State = "PROGRESS"
	StateSuccess  State = "SUCCESS"
	StateFailure  State = "FAILURE"
)

// Status is the polled view of a background task.
type Status struct {
	TaskID    string    `json:"task_id"`
	Name      string    `json:"name"`
	State     State     `json:"status"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrTaskNotFound is returned when polling an unknown task id.
var ErrTaskNotFound = errors.New("task not found")

// StatusStore persists task statuses for polling.
type StatusStore interface {
	SetStatus(ctx context.Context, status Status) error
	GetStatus(ctx context.Context, taskID string) (Status, error)
}

// Job is a unit of background work. The returned result string lands in the
// task's SUCCESS status (typically an artifact path); an error or panic
// lands in FAILURE. Jobs are fire-and-forget: they cannot be cancelled
// mid-run and must keep their external side effects idempotent.
type Job func(ctx context.Context) (result string, err error)

type queuedJob struct {
	id   string
	name string
	job  Job
}

// Queue runs submitted jobs on a fixed worker pool, decoupled from the
// request path. Submit returns a task id immediately; callers poll the
// status store for the single eventual terminal state.
type Queue struct {
	store   StatusStore
	jobs    chan queuedJob
	group   *errgroup.Group
	baseCtx context.Context
	now     func() time.Time
}

func NewQueue(store StatusStore, workers int) *Queue {
	return NewQueueWithClock(store, workers, time.Now)
}

// NewQueueWithClock allows deterministic status timestamps in tests.
func NewQueueWithClock(store StatusStore, workers int, now func() time.Time) *Queue {
	if workers < 1 {
		workers = 1
	}
	group, ctx := errgroup.WithContext(context.Background())
	q := &Queue{
		store:   store,
		jobs:    make(chan queuedJob, 64),
		group:   group,
		baseCtx: ctx,
		now:     now,
	}
	for i := 0; i < workers; i++ {
		group.Go(q.worker)
	}
	return q
}

// Submit enqueues a job and returns its task id with status PENDING. The
// submitting request never waits for execution.
func (q *Queue) Submit(ctx context.Context, name string, job Job) (string, error) {
	id := uuid.NewString()
	if err := q.store.SetStatus(ctx, Status{
		TaskID:    id,
		Name:      name,
		State:     StatePending,
		UpdatedAt: q.now().UTC(),
	}); err != nil {
		return "", fmt.Errorf("record pending task: %w", err)
	}
	q.jobs <- queuedJob{id: id, name: name, job: job}
	return id, nil
}

// Status polls a task.
func (q *Queue) Status(ctx context.Context, taskID string) (Status, error) {
	return q.store.GetStatus(ctx, taskID)
}

// Close drains the queue: no new submissions, pending jobs still run.
func (q *Queue) Close() error {
	close(q.jobs)
	return q.group.Wait()
}

func (q *Queue) worker() error {
	for item := range q.jobs {
		q.run(item)
	}
	return nil
}

func (q *Queue) run(item queuedJob) {
	q.setStatus(Status{TaskID: item.id, Name: item.name, State: StateProgress})

	result, err := q.runJob(item.job)
	if err != nil {
		log.Printf("task %s (%s) failed: %v", item.id, item.name, err)
		q.setStatus(Status{TaskID: item.id, Name: item.name, State: StateFailure, Error: err.Error()})
		return
	}
	q.setStatus(Status{TaskID: item.id, Name: item.name, State: StateSuccess, Result: result})
}

// runJob isolates panic recovery so a misbehaving job becomes a FAILURE
// status instead of taking the worker down.
func (q *Queue) runJob(job Job) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return job(q.baseCtx)
}

func (q *Queue) setStatus(status Status) {
	status.UpdatedAt = q.now().UTC()
	if err := q.store.SetStatus(q.baseCtx, status); err != nil {
		log.Printf("update task %s status to %s: %v", status.TaskID, status.State, err)
	}
}
