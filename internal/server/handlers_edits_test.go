package server

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/style-forge/internal/db"
	"github.com/jonathan/style-forge/internal/types"
)

func taskPath(runID, taskID, suffix string) string {
	return "/runs/" + runID + "/tasks/" + taskID + "/" + suffix
}

func imageBody(t *testing.T, s *Server, runID, taskID string) string {
	t.Helper()
	w := do(t, s.Handler(), http.MethodGet, taskPath(runID, taskID, "image"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return w.Body.String()
}

func TestTaskImage(t *testing.T) {
	s := newTestServer(t, testDeps{})
	resp := startRun(t, s, "Night Out")
	task := resp.Tasks[0]

	w := do(t, s.Handler(), http.MethodGet, taskPath(resp.RunID, task.ID, "image"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "img-NightOut", w.Body.String())
	assert.Equal(t, `inline; filename="style-forge-nightout.png"`, w.Header().Get("Content-Disposition"))

	dl := do(t, s.Handler(), http.MethodGet, taskPath(resp.RunID, task.ID, "image")+"?download=1", nil)
	assert.Equal(t, `attachment; filename="style-forge-nightout.png"`, dl.Header().Get("Content-Disposition"))
}

func TestTaskImage_NotReady(t *testing.T) {
	release := make(chan struct{})
	s := newTestServer(t, testDeps{
		generator: types.GeneratorFunc(func(ctx context.Context, _ types.Artifact, _ types.Style, _ string) (types.Artifact, error) {
			select {
			case <-release:
				return types.NewArtifact([]byte("late"), ""), nil
			case <-ctx.Done():
				return types.Artifact{}, ctx.Err()
			}
		}),
	})

	w := do(t, s.Handler(), http.MethodPost, "/runs", CreateRunRequest{Image: sourceImage(), Styles: []string{"Casual"}})
	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decode[RunResponse](t, w)
	taskID := resp.Tasks[0].ID

	assert.Equal(t, http.StatusConflict, do(t, s.Handler(), http.MethodGet, taskPath(resp.RunID, taskID, "image"), nil).Code)
	assert.Equal(t, http.StatusConflict, do(t, s.Handler(), http.MethodPost, taskPath(resp.RunID, taskID, "edits"), EditRequest{Prompt: "x"}).Code)

	close(release)
	waitForRun(t, s, resp.RunID)
	assert.Equal(t, "late", imageBody(t, s, resp.RunID, taskID))
}

func TestTaskImage_UnknownTask(t *testing.T) {
	s := newTestServer(t, testDeps{})
	resp := startRun(t, s, "Casual")

	w := do(t, s.Handler(), http.MethodGet, taskPath(resp.RunID, "nope", "image"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEditUndoRedo(t *testing.T) {
	s := newTestServer(t, testDeps{})
	resp := startRun(t, s, "Formal")
	id := resp.Tasks[0].ID

	state := decode[HistoryResponse](t, do(t, s.Handler(), http.MethodGet, taskPath(resp.RunID, id, "history"), nil))
	assert.Equal(t, 1, state.Length)
	assert.False(t, state.CanUndo)

	w := do(t, s.Handler(), http.MethodPost, taskPath(resp.RunID, id, "edits"), EditRequest{Prompt: "add a hat"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	state = decode[HistoryResponse](t, w)
	assert.True(t, state.Changed)
	assert.Equal(t, 2, state.Length)
	assert.Equal(t, 1, state.Cursor)
	assert.True(t, state.CanUndo)
	assert.Equal(t, "img-Formal+add a hat", imageBody(t, s, resp.RunID, id))

	state = decode[HistoryResponse](t, do(t, s.Handler(), http.MethodPost, taskPath(resp.RunID, id, "undo"), nil))
	assert.True(t, state.Changed)
	assert.Equal(t, 0, state.Cursor)
	assert.True(t, state.CanRedo)
	assert.Equal(t, "img-Formal", imageBody(t, s, resp.RunID, id))

	// Undo at the oldest version is a no-op
	state = decode[HistoryResponse](t, do(t, s.Handler(), http.MethodPost, taskPath(resp.RunID, id, "undo"), nil))
	assert.False(t, state.Changed)
	assert.Equal(t, 0, state.Cursor)

	state = decode[HistoryResponse](t, do(t, s.Handler(), http.MethodPost, taskPath(resp.RunID, id, "redo"), nil))
	assert.True(t, state.Changed)
	assert.Equal(t, 1, state.Cursor)
	assert.Equal(t, "img-Formal+add a hat", imageBody(t, s, resp.RunID, id))
}

func TestEdit_AfterUndoDiscardsRedo(t *testing.T) {
	s := newTestServer(t, testDeps{})
	resp := startRun(t, s, "Casual")
	id := resp.Tasks[0].ID

	do(t, s.Handler(), http.MethodPost, taskPath(resp.RunID, id, "edits"), EditRequest{Prompt: "B"})
	do(t, s.Handler(), http.MethodPost, taskPath(resp.RunID, id, "edits"), EditRequest{Prompt: "C"})
	do(t, s.Handler(), http.MethodPost, taskPath(resp.RunID, id, "undo"), nil)

	w := do(t, s.Handler(), http.MethodPost, taskPath(resp.RunID, id, "edits"), EditRequest{Prompt: "D"})
	require.Equal(t, http.StatusOK, w.Code)
	state := decode[HistoryResponse](t, w)

	assert.Equal(t, 3, state.Length)
	assert.Equal(t, 2, state.Cursor)
	assert.False(t, state.CanRedo)
	assert.Equal(t, "img-Casual+B+D", imageBody(t, s, resp.RunID, id))
}

func TestEdit_FailureLeavesHistory(t *testing.T) {
	ledger := newRecordingLedger()
	s := newTestServer(t, testDeps{
		ledger: ledger,
		editor: types.EditorFunc(func(context.Context, types.Artifact, string) (types.Artifact, error) {
			return types.Artifact{}, errors.New("model overloaded")
		}),
	})
	resp := startRun(t, s, "Casual")
	id := resp.Tasks[0].ID

	w := do(t, s.Handler(), http.MethodPost, taskPath(resp.RunID, id, "edits"), EditRequest{Prompt: "add a belt"})

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "edit failed: model overloaded")
	state := decode[HistoryResponse](t, do(t, s.Handler(), http.MethodGet, taskPath(resp.RunID, id, "history"), nil))
	assert.Equal(t, 1, state.Length)
	assert.Equal(t, "img-Casual", imageBody(t, s, resp.RunID, id))

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	require.Len(t, ledger.edits, 1)
	assert.Equal(t, db.EditOutcomeFailed, ledger.edits[0].Outcome)
	assert.Equal(t, "add a belt", ledger.edits[0].Prompt)
}

func TestEdit_EmptyArtifactIsFailure(t *testing.T) {
	s := newTestServer(t, testDeps{
		editor: types.EditorFunc(func(context.Context, types.Artifact, string) (types.Artifact, error) {
			return types.Artifact{}, nil
		}),
	})
	resp := startRun(t, s, "Casual")

	w := do(t, s.Handler(), http.MethodPost, taskPath(resp.RunID, resp.Tasks[0].ID, "edits"), EditRequest{Prompt: "x"})

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), types.ErrNoArtifact.Error())
}

func TestEdit_Validation(t *testing.T) {
	s := newTestServer(t, testDeps{})
	resp := startRun(t, s, "Casual")
	path := taskPath(resp.RunID, resp.Tasks[0].ID, "edits")

	assert.Equal(t, http.StatusBadRequest, do(t, s.Handler(), http.MethodPost, path, EditRequest{}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s.Handler(), http.MethodPost, path, EditRequest{Prompt: "   "}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s.Handler(), http.MethodPost, path, "nope").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), http.MethodPost, taskPath("missing", "x", "edits"), EditRequest{Prompt: "x"}).Code)
}

func TestEdit_ConcurrentEditRejected(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	s := newTestServer(t, testDeps{
		editor: types.EditorFunc(func(_ context.Context, current types.Artifact, prompt string) (types.Artifact, error) {
			close(entered)
			<-release
			return types.NewArtifact(append(append([]byte{}, current.Data...), prompt...), ""), nil
		}),
	})
	resp := startRun(t, s, "Casual")
	path := taskPath(resp.RunID, resp.Tasks[0].ID, "edits")

	first := make(chan int, 1)
	go func() {
		first <- do(t, s.Handler(), http.MethodPost, path, EditRequest{Prompt: "one"}).Code
	}()
	<-entered

	second := do(t, s.Handler(), http.MethodPost, path, EditRequest{Prompt: "two"})
	assert.Equal(t, http.StatusConflict, second.Code)

	state := decode[HistoryResponse](t, do(t, s.Handler(), http.MethodGet, taskPath(resp.RunID, resp.Tasks[0].ID, "history"), nil))
	assert.True(t, state.Editing)

	close(release)
	select {
	case code := <-first:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(5 * time.Second):
		t.Fatal("first edit did not finish")
	}
}

func TestHistoriesAreIndependentPerTask(t *testing.T) {
	s := newTestServer(t, testDeps{})
	resp := startRun(t, s, "Casual", "Business")
	casual, business := resp.Tasks[0].ID, resp.Tasks[1].ID

	do(t, s.Handler(), http.MethodPost, taskPath(resp.RunID, casual, "edits"), EditRequest{Prompt: "hat"})

	assert.Equal(t, "img-Casual+hat", imageBody(t, s, resp.RunID, casual))
	assert.Equal(t, "img-Business", imageBody(t, s, resp.RunID, business))
}
