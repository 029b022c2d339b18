package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/style-forge/internal/types"
)

var quietLogger = log.New(io.Discard, "", 0)

func newTestOrchestrator(gen types.Generator, opts ...Option) *Orchestrator {
	return New(gen, append([]Option{WithLogger(quietLogger)}, opts...)...)
}

func source() types.Artifact {
	return types.NewArtifact([]byte("source-item"), "image/jpeg")
}

func allRequests() []types.StyleRequest {
	var reqs []types.StyleRequest
	for _, s := range types.DefaultStyles() {
		reqs = append(reqs, types.StyleRequest{Style: s, Guidance: "guidance for " + string(s)})
	}
	return reqs
}

// styleGenerator returns a distinct artifact per style and fails the styles in failing.
func styleGenerator(failing map[types.Style]error) types.Generator {
	return types.GeneratorFunc(func(_ context.Context, src types.Artifact, style types.Style, guidance string) (types.Artifact, error) {
		if err, ok := failing[style]; ok {
			return types.Artifact{}, err
		}
		return types.NewArtifact([]byte(fmt.Sprintf("%s|%s|%s", src.Data, style, guidance)), "image/png"), nil
	})
}

func collect(t *testing.T, run *Run) []types.TaskUpdate {
	t.Helper()
	var updates []types.TaskUpdate
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u, ok := <-run.Updates():
			if !ok {
				return updates
			}
			updates = append(updates, u)
		case <-timeout:
			t.Fatal("timed out waiting for updates")
			return nil
		}
	}
}

func terminal(updates []types.TaskUpdate) []types.TaskUpdate {
	var out []types.TaskUpdate
	for _, u := range updates {
		if u.Terminal() {
			out = append(out, u)
		}
	}
	return out
}

func TestStartRun_OneTerminalUpdatePerTask(t *testing.T) {
	for n := 0; n <= len(types.DefaultStyles()); n++ {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			o := newTestOrchestrator(styleGenerator(nil))
			run, err := o.StartRun(context.Background(), source(), allRequests()[:n])
			require.NoError(t, err)
			assert.Equal(t, n, run.Len())

			updates := terminal(collect(t, run))
			require.Len(t, updates, n)

			seen := make(map[string]bool)
			for _, u := range updates {
				assert.False(t, seen[u.Task.ID], "duplicate terminal update for %s", u.Task.ID)
				seen[u.Task.ID] = true
				assert.Equal(t, run.ID, u.RunID)
				assert.Equal(t, types.StatusSucceeded, u.Task.Status)
			}
		})
	}
}

func TestStartRun_ReturnsBeforeAnyTaskCompletes(t *testing.T) {
	release := make(chan struct{})
	gen := types.GeneratorFunc(func(ctx context.Context, _ types.Artifact, style types.Style, _ string) (types.Artifact, error) {
		<-release
		return types.NewArtifact([]byte(style), "image/png"), nil
	})

	o := newTestOrchestrator(gen)
	run, err := o.StartRun(context.Background(), source(), allRequests())
	require.NoError(t, err)

	for _, task := range run.Snapshot() {
		assert.Contains(t, []types.TaskStatus{types.StatusPending, types.StatusInFlight}, task.Status)
		assert.Nil(t, task.Result)
		assert.Nil(t, task.Err)
	}
	select {
	case <-run.Done():
		t.Fatal("run finished before generations were released")
	default:
	}

	close(release)
	tasks, err := run.Wait(context.Background())
	require.NoError(t, err)
	for _, task := range tasks {
		assert.Equal(t, types.StatusSucceeded, task.Status)
	}
}

func TestStartRun_EmptyRequests(t *testing.T) {
	o := newTestOrchestrator(styleGenerator(nil))
	run, err := o.StartRun(context.Background(), source(), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, run.Len())
	assert.Empty(t, collect(t, run))
	<-run.Done()
}

func TestStartRun_RejectsDuplicateStyles(t *testing.T) {
	o := newTestOrchestrator(styleGenerator(nil))
	_, err := o.StartRun(context.Background(), source(), []types.StyleRequest{
		{Style: types.StyleCasual},
		{Style: types.StyleCasual},
	})
	assert.ErrorIs(t, err, ErrDuplicateStyle)
}

func TestStartRun_RejectsUnknownStyles(t *testing.T) {
	o := newTestOrchestrator(styleGenerator(nil))
	_, err := o.StartRun(context.Background(), source(), []types.StyleRequest{{Style: "Grunge"}})
	assert.ErrorIs(t, err, ErrUnknownStyle)
}

func TestStartRun_OneFailureDoesNotAffectOthers(t *testing.T) {
	o := newTestOrchestrator(styleGenerator(map[types.Style]error{
		types.StyleCasual: errors.New("timeout"),
	}))

	run, err := o.StartRun(context.Background(), source(), allRequests())
	require.NoError(t, err)

	tasks, err := run.Wait(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 6)

	for _, task := range tasks {
		if task.Style == types.StyleCasual {
			assert.Equal(t, types.StatusFailed, task.Status)
			assert.Nil(t, task.Result)

			var genErr *types.GenerationError
			require.True(t, errors.As(task.Err, &genErr))
			assert.Equal(t, types.StyleCasual, genErr.Style)
			assert.Equal(t, "timeout", genErr.Cause.Error())
			continue
		}
		assert.Equal(t, types.StatusSucceeded, task.Status, task.Style)
		require.NotNil(t, task.Result)
		want := fmt.Sprintf("source-item|%s|guidance for %s", task.Style, task.Style)
		assert.Equal(t, want, string(task.Result.Data))
	}

	counts := run.Counts()
	assert.Equal(t, Counts{Succeeded: 5, Failed: 1}, counts)
}

func TestStartRun_UpdatesCarryIndependentValues(t *testing.T) {
	o := newTestOrchestrator(styleGenerator(nil))
	run, err := o.StartRun(context.Background(), source(), allRequests())
	require.NoError(t, err)

	// Merge updates by id the way a caller would.
	view := make(map[string]types.StyleTask)
	for _, u := range collect(t, run) {
		view[u.Task.ID] = u.Task
	}

	require.Len(t, view, 6)
	for _, task := range run.Snapshot() {
		assert.Equal(t, task, view[task.ID])
	}
}

func TestStartRun_InFlightPrecedesTerminal(t *testing.T) {
	o := newTestOrchestrator(styleGenerator(nil))
	run, err := o.StartRun(context.Background(), source(), allRequests())
	require.NoError(t, err)

	started := make(map[string]bool)
	for _, u := range collect(t, run) {
		switch u.Task.Status {
		case types.StatusInFlight:
			started[u.Task.ID] = true
		case types.StatusSucceeded, types.StatusFailed:
			assert.True(t, started[u.Task.ID], "terminal update before in-flight for %s", u.Task.ID)
		default:
			t.Errorf("unexpected status in update: %s", u.Task.Status)
		}
	}
}

func TestStartRun_RunsConcurrently(t *testing.T) {
	n := len(types.DefaultStyles())
	var wg sync.WaitGroup
	wg.Add(n)
	gen := types.GeneratorFunc(func(ctx context.Context, _ types.Artifact, style types.Style, _ string) (types.Artifact, error) {
		// Every generation waits for all the others to start.
		wg.Done()
		wg.Wait()
		return types.NewArtifact([]byte(style), "image/png"), nil
	})

	o := newTestOrchestrator(gen)
	run, err := o.StartRun(context.Background(), source(), allRequests())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tasks, err := run.Wait(ctx)
	require.NoError(t, err, "generations were serialized")
	for _, task := range tasks {
		assert.Equal(t, types.StatusSucceeded, task.Status)
	}
}

func TestStartRun_MaxConcurrency(t *testing.T) {
	var running, peak int32
	gen := types.GeneratorFunc(func(ctx context.Context, _ types.Artifact, style types.Style, _ string) (types.Artifact, error) {
		cur := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return types.NewArtifact([]byte(style), "image/png"), nil
	})

	o := newTestOrchestrator(gen, WithMaxConcurrency(2))
	run, err := o.StartRun(context.Background(), source(), allRequests())
	require.NoError(t, err)

	tasks, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.Len(t, tasks, 6)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestStartRun_EmptyArtifactFails(t *testing.T) {
	gen := types.GeneratorFunc(func(context.Context, types.Artifact, types.Style, string) (types.Artifact, error) {
		return types.Artifact{}, nil
	})

	o := newTestOrchestrator(gen)
	run, err := o.StartRun(context.Background(), source(), allRequests()[:1])
	require.NoError(t, err)

	tasks, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, tasks[0].Status)
	assert.ErrorIs(t, tasks[0].Err, types.ErrNoArtifact)
}

func TestStartRun_PanicIsRecordedAsFailure(t *testing.T) {
	gen := types.GeneratorFunc(func(_ context.Context, _ types.Artifact, style types.Style, _ string) (types.Artifact, error) {
		if style == types.StyleFormal {
			panic("boom")
		}
		return types.NewArtifact([]byte(style), "image/png"), nil
	})

	o := newTestOrchestrator(gen)
	run, err := o.StartRun(context.Background(), source(), allRequests())
	require.NoError(t, err)

	tasks, err := run.Wait(context.Background())
	require.NoError(t, err)
	for _, task := range tasks {
		if task.Style == types.StyleFormal {
			assert.Equal(t, types.StatusFailed, task.Status)
			assert.Contains(t, task.Error, "boom")
		} else {
			assert.Equal(t, types.StatusSucceeded, task.Status)
		}
	}
}

func TestStartRun_TaskTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	gen := types.GeneratorFunc(func(_ context.Context, _ types.Artifact, style types.Style, _ string) (types.Artifact, error) {
		if style == types.StyleBohemian {
			// Ignores ctx entirely.
			<-block
		}
		return types.NewArtifact([]byte(style), "image/png"), nil
	})

	o := newTestOrchestrator(gen, WithTaskTimeout(50*time.Millisecond))
	run, err := o.StartRun(context.Background(), source(), allRequests())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tasks, err := run.Wait(ctx)
	require.NoError(t, err)

	for _, task := range tasks {
		if task.Style == types.StyleBohemian {
			assert.Equal(t, types.StatusFailed, task.Status)
			assert.ErrorIs(t, task.Err, context.DeadlineExceeded)
		} else {
			assert.Equal(t, types.StatusSucceeded, task.Status)
		}
	}
}

func TestRun_CancelStopsUpdates(t *testing.T) {
	release := make(chan struct{})
	gen := types.GeneratorFunc(func(ctx context.Context, _ types.Artifact, style types.Style, _ string) (types.Artifact, error) {
		select {
		case <-release:
			return types.NewArtifact([]byte(style), "image/png"), nil
		case <-ctx.Done():
			return types.Artifact{}, ctx.Err()
		}
	})

	o := newTestOrchestrator(gen)
	run, err := o.StartRun(context.Background(), source(), allRequests())
	require.NoError(t, err)

	// Drain whatever was published before cancelling.
	run.Cancel()
	assert.True(t, run.Cancelled())
	close(release)

	for u := range run.Updates() {
		// Updates buffered before Cancel may still be read; nothing terminal may
		// appear after cancellation, and in-flight is the only state published early.
		assert.Equal(t, types.StatusInFlight, u.Task.Status)
	}

	tasks, err := run.Wait(context.Background())
	require.NoError(t, err)
	for _, task := range tasks {
		assert.True(t, task.Status.IsTerminal() || task.Status == types.StatusPending)
	}
}

func TestRun_WaitRespectsContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	gen := types.GeneratorFunc(func(context.Context, types.Artifact, types.Style, string) (types.Artifact, error) {
		<-release
		return types.NewArtifact([]byte("x"), "image/png"), nil
	})

	o := newTestOrchestrator(gen)
	run, err := o.StartRun(context.Background(), source(), allRequests()[:1])
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	tasks, err := run.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, tasks, 1)
}

func TestStartRun_ScenarioCasualTimesOut(t *testing.T) {
	o := newTestOrchestrator(styleGenerator(map[types.Style]error{
		types.StyleCasual: errors.New("timeout"),
	}), WithIDGenerator(sequentialIDs()))

	run, err := o.StartRun(context.Background(), source(), allRequests())
	require.NoError(t, err)
	updates := terminal(collect(t, run))
	require.Len(t, updates, 6)

	artifacts := make(map[string]bool)
	for _, task := range run.Snapshot() {
		assert.True(t, task.Status.IsTerminal())
		if task.Status == types.StatusSucceeded {
			artifacts[string(task.Result.Data)] = true
		} else {
			assert.Equal(t, types.StyleCasual, task.Style)
			assert.Equal(t, "generation failed for Casual: timeout", task.Error)
		}
	}
	assert.Len(t, artifacts, 5, "successful artifacts should be distinct")
	assert.Equal(t, "5 succeeded, 1 failed, 0 pending, 0 in flight", run.Summary())
}

func TestWithIDGenerator(t *testing.T) {
	o := newTestOrchestrator(styleGenerator(nil), WithIDGenerator(sequentialIDs()))
	run, err := o.StartRun(context.Background(), source(), allRequests()[:2])
	require.NoError(t, err)

	snapshot := run.Snapshot()
	assert.Equal(t, "id-1", snapshot[0].ID)
	assert.Equal(t, "id-2", snapshot[1].ID)
	assert.Equal(t, "id-3", run.ID)

	_, ok := run.Task("id-2")
	assert.True(t, ok)
	_, ok = run.Task("missing")
	assert.False(t, ok)
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}
