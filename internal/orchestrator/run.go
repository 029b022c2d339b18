package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonathan/style-forge/internal/types"
)

// Run is one orchestration run: the set of style tasks spawned from a single source.
//
// Each task is written by exactly one goroutine. Readers get copies, either through
// Snapshot or as TaskUpdate values on the Updates channel.
type Run struct {
	ID        string
	Source    types.Artifact
	CreatedAt time.Time

	order   []string
	cancel  context.CancelFunc
	updates chan types.TaskUpdate
	done    chan struct{}
	once    sync.Once

	mu        sync.Mutex
	tasks     map[string]types.StyleTask
	cancelled bool
}

// Counts tallies tasks by status.
type Counts struct {
	Pending   int `json:"pending"`
	InFlight  int `json:"in_flight"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

func newRun(id string, source types.Artifact, createdAt time.Time, tasks []types.StyleTask, cancel context.CancelFunc) *Run {
	r := &Run{
		ID:        id,
		Source:    source,
		CreatedAt: createdAt,
		order:     make([]string, 0, len(tasks)),
		cancel:    cancel,
		// Every task publishes at most twice (in flight, then terminal), so sends never block.
		updates: make(chan types.TaskUpdate, 2*len(tasks)),
		done:    make(chan struct{}),
		tasks:   make(map[string]types.StyleTask, len(tasks)),
	}
	for _, t := range tasks {
		r.order = append(r.order, t.ID)
		r.tasks[t.ID] = t
	}
	return r
}

// Updates delivers a TaskUpdate each time a task changes state, in completion order.
// Exactly one terminal update is delivered per task unless the run is cancelled.
// The channel is closed once every task has finished.
func (r *Run) Updates() <-chan types.TaskUpdate {
	return r.updates
}

// Done is closed once every task has reached a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until every task has finished or ctx is done, then returns a snapshot.
func (r *Run) Wait(ctx context.Context) ([]types.StyleTask, error) {
	select {
	case <-r.done:
		return r.Snapshot(), nil
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}
}

// Cancel stops further update delivery and cancels the context given to the generator.
// In-flight remote calls are not guaranteed to stop.
func (r *Run) Cancel() {
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
	r.cancel()
}

// Cancelled reports whether Cancel has been called.
func (r *Run) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// Len returns the number of tasks in the run.
func (r *Run) Len() int {
	return len(r.order)
}

// Snapshot returns the current value of every task in request order.
func (r *Run) Snapshot() []types.StyleTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.StyleTask, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tasks[id])
	}
	return out
}

// Task returns the current value of the task with the given id.
func (r *Run) Task(id string) (types.StyleTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	return t, ok
}

// Counts tallies the current task statuses.
func (r *Run) Counts() Counts {
	var c Counts
	for _, t := range r.Snapshot() {
		switch t.Status {
		case types.StatusPending:
			c.Pending++
		case types.StatusInFlight:
			c.InFlight++
		case types.StatusSucceeded:
			c.Succeeded++
		case types.StatusFailed:
			c.Failed++
		}
	}
	return c
}

// Summary renders Counts for log lines.
func (r *Run) Summary() string {
	c := r.Counts()
	return fmt.Sprintf("%d succeeded, %d failed, %d pending, %d in flight", c.Succeeded, c.Failed, c.Pending, c.InFlight)
}

func (r *Run) publish(task types.StyleTask, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID] = task
	if r.cancelled {
		return
	}
	r.updates <- types.TaskUpdate{RunID: r.ID, Task: task, At: at}
}

func (r *Run) finish() {
	r.once.Do(func() {
		r.mu.Lock()
		close(r.updates)
		r.mu.Unlock()
		close(r.done)
		r.cancel()
	})
}
