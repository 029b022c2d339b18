// Package orchestrator fans out one outfit generation per style and reports each
// task's progress as it happens.
//
// Every task runs independently: a failed, slow or panicking generation is recorded on
// its own task and never cancels, delays or alters its siblings. StartRun never waits
// for a generation to finish.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/style-forge/internal/types"
)

var (
	// ErrDuplicateStyle is returned when a style is requested more than once in a run.
	ErrDuplicateStyle = errors.New("duplicate style in request")
	// ErrUnknownStyle is returned for styles outside the configured set.
	ErrUnknownStyle = errors.New("unknown style in request")
)

// Orchestrator launches generation runs against a single Generator.
type Orchestrator struct {
	gen            types.Generator
	taskTimeout    time.Duration
	maxConcurrency int
	newID          func() string
	now            func() time.Time
	logger         *log.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTaskTimeout bounds each generation attempt. A timed-out attempt fails its task
// even if the generator ignores context cancellation. Zero disables the timeout.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.taskTimeout = d
	}
}

// WithMaxConcurrency caps the number of generations running at once within a run.
// Tasks waiting for a slot stay Pending. Zero or negative means unbounded.
func WithMaxConcurrency(n int) Option {
	return func(o *Orchestrator) {
		o.maxConcurrency = n
	}
}

// WithIDGenerator overrides how run and task ids are minted.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newID = fn
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithLogger sets the logger used for per-task progress lines.
func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an Orchestrator that generates images with gen.
func New(gen types.Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gen:    gen,
		newID:  uuid.NewString,
		now:    time.Now,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartRun creates a run with one Pending task per request and schedules every
// generation before returning. The returned Run reports progress on Updates.
//
// ctx bounds the whole run: cancelling it cancels the context passed to the generator.
// Pass a context that outlives the caller's request if the run should continue after it.
func (o *Orchestrator) StartRun(ctx context.Context, source types.Artifact, requests []types.StyleRequest) (*Run, error) {
	if err := validateRequests(requests); err != nil {
		return nil, err
	}

	tasks := make([]types.StyleTask, 0, len(requests))
	for _, req := range requests {
		tasks = append(tasks, types.NewStyleTask(o.newID(), req))
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := newRun(o.newID(), source, o.now(), tasks, cancel)

	if len(tasks) == 0 {
		run.finish()
		return run, nil
	}

	go o.execute(runCtx, run, tasks)
	return run, nil
}

// execute runs the fan-out. It lives in its own goroutine because errgroup.Go blocks
// once the concurrency limit is reached.
func (o *Orchestrator) execute(ctx context.Context, run *Run, tasks []types.StyleTask) {
	var g errgroup.Group
	if o.maxConcurrency > 0 {
		g.SetLimit(o.maxConcurrency)
	}

	for _, task := range tasks {
		g.Go(func() error {
			o.attempt(ctx, run, task)
			// Never return an error: a failed task must not affect the group.
			return nil
		})
	}

	_ = g.Wait()
	run.finish()
	o.logger.Printf("[run %s] finished: %s", run.ID, run.Summary())
}

// attempt performs exactly one generation for task and publishes its terminal state.
func (o *Orchestrator) attempt(ctx context.Context, run *Run, task types.StyleTask) {
	task = task.Start()
	run.publish(task, o.now())

	artifact, err := o.generate(ctx, run.Source, task)
	if err != nil {
		task = task.Fail(types.AsGenerationError(task.Style, err))
		o.logger.Printf("[run %s] %s failed: %v", run.ID, task.Style.Label(), err)
	} else {
		task = task.Succeed(artifact)
		o.logger.Printf("[run %s] %s succeeded (%d bytes)", run.ID, task.Style.Label(), artifact.Size())
	}
	run.publish(task, o.now())
}

type generation struct {
	artifact types.Artifact
	err      error
}

// generate calls the generator once, converting panics, empty payloads and timeouts
// into errors.
func (o *Orchestrator) generate(ctx context.Context, source types.Artifact, task types.StyleTask) (types.Artifact, error) {
	if o.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.taskTimeout)
		defer cancel()
	}

	result := make(chan generation, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- generation{err: fmt.Errorf("generator panicked: %v", r)}
			}
		}()
		a, err := o.gen.Generate(ctx, source, task.Style, task.Guidance)
		result <- generation{artifact: a, err: err}
	}()

	select {
	case res := <-result:
		if res.err != nil {
			return types.Artifact{}, res.err
		}
		if res.artifact.IsEmpty() {
			return types.Artifact{}, types.ErrNoArtifact
		}
		return res.artifact, nil
	case <-ctx.Done():
		return types.Artifact{}, ctx.Err()
	}
}

func validateRequests(requests []types.StyleRequest) error {
	seen := make(map[types.Style]bool, len(requests))
	for _, req := range requests {
		if !req.Style.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownStyle, req.Style)
		}
		if seen[req.Style] {
			return fmt.Errorf("%w: %s", ErrDuplicateStyle, req.Style)
		}
		seen[req.Style] = true
	}
	return nil
}
