// Package scheduler runs cron and one-shot tasks and fans their fires out
// to a registered callback.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
)

// Task is one scheduled job. Cron expressions are standard 5-field in
// local timezone. One-shot tasks are removed after their single fire.
type Task struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Cron      string     `json:"cron"`
	Action    string     `json:"action"`
	Enabled   bool       `json:"enabled"`
	OneShot   bool       `json:"oneShot"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`
}

// FireFunc receives a snapshot of the task that fired.
type FireFunc func(task Task)

// CreateRequest describes a new task.
type CreateRequest struct {
	Name    string
	Cron    string
	Action  string
	Enabled bool
	OneShot bool
}

type runner struct {
	task   *Task
	cancel context.CancelFunc
}

// Scheduler owns the task map and per-task timers.
type Scheduler struct {
	logger *slog.Logger
	gron   *gronx.Gronx
	now    func() time.Time

	mu      sync.Mutex
	tasks   map[string]*runner
	onFire  FireFunc
	stopped bool
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithClock overrides the clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: slog.Default().With("component", "scheduler"),
		gron:   gronx.New(),
		now:    time.Now,
		tasks:  make(map[string]*runner),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetOnTaskFire registers the single fire callback.
func (s *Scheduler) SetOnTaskFire(fn FireFunc) {
	s.mu.Lock()
	s.onFire = fn
	s.mu.Unlock()
}

// Create registers a task. Enabled tasks start their runner immediately.
func (s *Scheduler) Create(req CreateRequest) (*Task, error) {
	if !s.gron.IsValid(req.Cron) {
		return nil, fmt.Errorf("invalid cron expression: %q", req.Cron)
	}

	task := &Task{
		ID:      uuid.NewString(),
		Name:    req.Name,
		Cron:    req.Cron,
		Action:  req.Action,
		Enabled: req.Enabled,
		OneShot: req.OneShot,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, fmt.Errorf("scheduler stopped")
	}

	r := &runner{task: task}
	s.tasks[task.ID] = r
	if task.Enabled {
		s.startRunnerLocked(r)
	}
	s.logger.Info("task created", "id", task.ID, "name", task.Name, "cron", task.Cron, "one_shot", task.OneShot)
	return snapshot(task), nil
}

// OneShotCron derives a single-fire cron expression from a delay in
// seconds: the fire minute of now+delay, rounded up to the next minute
// boundary when the delay lands mid-minute.
func OneShotCron(now time.Time, delaySeconds int) string {
	at := now.Add(time.Duration(delaySeconds) * time.Second)
	if at.Second() > 0 {
		at = at.Add(time.Minute - time.Duration(at.Second())*time.Second)
	}
	return fmt.Sprintf("%d %d %d %d *", at.Minute(), at.Hour(), at.Day(), int(at.Month()))
}

// List returns task snapshots with NextRunAt refreshed, sorted by name.
func (s *Scheduler) List() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, r := range s.tasks {
		s.refreshNextRunLocked(r.task)
		out = append(out, *snapshot(r.task))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a task snapshot by id.
func (s *Scheduler) Get(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	s.refreshNextRunLocked(r.task)
	return snapshot(r.task), true
}

// Delete stops a task's runner and removes it. No further fire callbacks
// occur for this id after Delete returns.
func (s *Scheduler) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id)
}

func (s *Scheduler) deleteLocked(id string) bool {
	r, ok := s.tasks[id]
	if !ok {
		return false
	}
	if r.cancel != nil {
		r.cancel()
	}
	delete(s.tasks, id)
	s.logger.Info("task deleted", "id", id)
	return true
}

// StopAll cancels all runners without deleting the tasks.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, r := range s.tasks {
		if r.cancel != nil {
			r.cancel()
			r.cancel = nil
		}
	}
}

func (s *Scheduler) startRunnerLocked(r *runner) {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	s.refreshNextRunLocked(r.task)
	go s.run(ctx, r)
}

// refreshNextRunLocked recomputes NextRunAt from the live cron expression.
func (s *Scheduler) refreshNextRunLocked(t *Task) {
	if !t.Enabled {
		t.NextRunAt = nil
		return
	}
	next, err := gronx.NextTickAfter(t.Cron, s.now(), false)
	if err != nil {
		s.logger.Warn("next tick computation failed", "id", t.ID, "cron", t.Cron, "error", err)
		t.NextRunAt = nil
		return
	}
	t.NextRunAt = &next
}

func (s *Scheduler) run(ctx context.Context, r *runner) {
	for {
		s.mu.Lock()
		t := r.task
		if t.NextRunAt == nil {
			s.refreshNextRunLocked(t)
		}
		if t.NextRunAt == nil {
			s.mu.Unlock()
			return
		}
		wait := t.NextRunAt.Sub(s.now())
		s.mu.Unlock()

		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.mu.Lock()
		now := s.now()
		t.LastRunAt = &now
		s.refreshNextRunLocked(t)
		snap := *snapshot(t)
		fire := s.onFire
		s.mu.Unlock()

		s.fire(fire, snap)

		if t.OneShot {
			s.mu.Lock()
			s.deleteLocked(t.ID)
			s.mu.Unlock()
			return
		}
	}
}

// fire invokes the callback, containing panics so a bad handler does not
// kill the runner.
func (s *Scheduler) fire(fn FireFunc, snap Task) {
	if fn == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("task callback panicked", "id", snap.ID, "panic", rec)
		}
	}()
	fn(snap)
}

func snapshot(t *Task) *Task {
	cp := *t
	if t.LastRunAt != nil {
		v := *t.LastRunAt
		cp.LastRunAt = &v
	}
	if t.NextRunAt != nil {
		v := *t.NextRunAt
		cp.NextRunAt = &v
	}
	return &cp
}
