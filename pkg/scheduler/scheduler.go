// Package scheduler runs deferred one-shot tasks, keeping at most one pending
// task per key. Scheduling a task for a key with a pending job cancels the
// old job, so a burst of commands for one device yields a single deferred
// refresh.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// A Task is the deferred work to run.
type Task interface {
	Run(ctx context.Context) error
}

// TaskFunc adapts a function to a Task.
type TaskFunc func(ctx context.Context) error

// Run calls f.
func (f TaskFunc) Run(ctx context.Context) error { return f(ctx) }

// Scheduler holds the pending jobs, one per key.
type Scheduler struct {
	lock sync.Mutex
	jobs map[string]*Job
}

// New returns a new Scheduler.
func New() *Scheduler {
	return &Scheduler{jobs: make(map[string]*Job)}
}

// Schedule runs task after wait. A pending job for the same key is canceled
// and replaced.
func (s *Scheduler) Schedule(ctx context.Context, key string, task Task, wait time.Duration) *Job {
	subCtx, cancel := context.WithCancel(ctx)
	job := &Job{
		task:   task,
		due:    time.Now().Add(wait),
		cancel: cancel,
	}

	s.lock.Lock()
	if pending, ok := s.jobs[key]; ok {
		pending.Cancel()
	}
	s.jobs[key] = job
	s.lock.Unlock()

	go job.run(subCtx, wait)
	return job
}

// Cancel cancels the pending job for key, if any.
func (s *Scheduler) Cancel(key string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if job, ok := s.jobs[key]; ok {
		job.Cancel()
		delete(s.jobs, key)
	}
}

// Job returns the last scheduled job for key.
func (s *Scheduler) Job(key string) (*Job, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	job, ok := s.jobs[key]
	return job, ok
}

// A Job is one scheduled task.
type Job struct {
	task   Task
	due    time.Time
	cancel context.CancelFunc
	lock   sync.RWMutex
	state  state
	err    error
}

func (j *Job) run(ctx context.Context, wait time.Duration) {
	j.setState(stateScheduled, nil)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
		if err := j.task.Run(ctx); err != nil {
			j.setState(stateFailed, err)
		} else {
			j.setState(stateCompleted, nil)
		}
	}
}

// Cancel cancels the job. Canceling a finished job has no effect on its
// result.
func (j *Job) Cancel() {
	j.lock.Lock()
	defer j.lock.Unlock()
	j.cancel()
	if !j.state.done() {
		j.state = stateCanceled
		j.err = ErrCanceled
	}
}

// Due returns the time the job is scheduled to run.
func (j *Job) Due() time.Time {
	return j.due
}

// Result reports whether the job has finished and, if so, its outcome.
// A canceled job reports ErrCanceled.
func (j *Job) Result() (bool, error) {
	j.lock.RLock()
	defer j.lock.RUnlock()
	return j.state.done(), j.err
}

func (j *Job) setState(state state, err error) {
	j.lock.Lock()
	defer j.lock.Unlock()
	if j.state.done() {
		return
	}
	j.state = state
	j.err = err
}

type state int

const (
	stateUnknown state = iota
	stateScheduled
	stateCanceled
	stateCompleted
	stateFailed
)

func (s state) done() bool {
	return s == stateCompleted || s == stateFailed || s == stateCanceled
}
