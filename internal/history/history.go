// Package history keeps the linear undo/redo stack of versions for one edited artifact.
//
// A History holds an ordered list of versions and a cursor into it. Committing a new
// version truncates everything after the cursor before appending, so redo state is lost
// as soon as a new edit lands. History is linear, never a tree.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jonathan/style-forge/internal/types"
)

var (
	// ErrEditInFlight is returned when an edit is requested while another is still running.
	ErrEditInFlight = errors.New("an edit is already in progress")
	// ErrEmptyPrompt is returned for blank edit instructions.
	ErrEmptyPrompt = errors.New("edit prompt is required")
)

// History is the edit history of one artifact. It is safe for concurrent use.
type History struct {
	mu       sync.Mutex
	versions []types.Artifact
	cursor   int
	editing  bool
}

// State summarizes a History for display.
type State struct {
	Length  int  `json:"length"`
	Cursor  int  `json:"cursor"`
	CanUndo bool `json:"can_undo"`
	CanRedo bool `json:"can_redo"`
	Editing bool `json:"editing"`
}

// Open starts a history seeded with the initial version.
func Open(initial types.Artifact) *History {
	return &History{
		versions: []types.Artifact{initial},
		cursor:   0,
	}
}

// Current returns the version under the cursor.
func (h *History) Current() types.Artifact {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.versions[h.cursor]
}

// Len returns the number of versions held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.versions)
}

// Cursor returns the index of the current version.
func (h *History) Cursor() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor
}

// Versions returns a copy of all versions, oldest first.
func (h *History) Versions() []types.Artifact {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]types.Artifact, len(h.versions))
	copy(out, h.versions)
	return out
}

// State returns a consistent snapshot of the cursor position and affordances.
func (h *History) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return State{
		Length:  len(h.versions),
		Cursor:  h.cursor,
		CanUndo: h.canUndoLocked(),
		CanRedo: h.canRedoLocked(),
		Editing: h.editing,
	}
}

// CanUndo reports whether Undo would move the cursor.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.canUndoLocked()
}

// CanRedo reports whether Redo would move the cursor.
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.canRedoLocked()
}

func (h *History) canUndoLocked() bool {
	return h.cursor > 0
}

func (h *History) canRedoLocked() bool {
	return h.cursor < len(h.versions)-1
}

// Undo steps back one version. At the first version it is a no-op and returns false.
func (h *History) Undo() (types.Artifact, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.canUndoLocked() {
		return h.versions[h.cursor], false
	}
	h.cursor--
	return h.versions[h.cursor], true
}

// Redo steps forward one version. At the last version it is a no-op and returns false.
func (h *History) Redo() (types.Artifact, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.canRedoLocked() {
		return h.versions[h.cursor], false
	}
	h.cursor++
	return h.versions[h.cursor], true
}

// Commit appends v after the cursor, discarding any undone versions beyond it.
// The truncation point is the cursor at commit time, not when the edit started.
func (h *History) Commit(v types.Artifact) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commitLocked(v)
}

func (h *History) commitLocked(v types.Artifact) {
	// Copy rather than reslice so the discarded tail is not shared with older snapshots.
	next := make([]types.Artifact, h.cursor+1, h.cursor+2)
	copy(next, h.versions[:h.cursor+1])
	h.versions = append(next, v)
	h.cursor = len(h.versions) - 1
}

// BeginEdit asks editor to apply prompt to the current version and returns the result
// without committing it. On failure the history is unchanged and the error is an
// *types.EditError. Only one edit may run at a time.
func (h *History) BeginEdit(ctx context.Context, editor types.Editor, prompt string) (types.Artifact, error) {
	current, err := h.acquire(prompt)
	if err != nil {
		return types.Artifact{}, err
	}
	defer h.release()

	return runEdit(ctx, editor, current, prompt)
}

// Edit runs BeginEdit and commits the result. The in-flight guard is held until the
// commit lands, so no other edit can interleave.
func (h *History) Edit(ctx context.Context, editor types.Editor, prompt string) (types.Artifact, error) {
	current, err := h.acquire(prompt)
	if err != nil {
		return types.Artifact{}, err
	}

	defer h.release()

	next, err := runEdit(ctx, editor, current, prompt)
	if err != nil {
		return types.Artifact{}, err
	}
	h.Commit(next)
	return next, nil
}

// Editing reports whether an edit is currently in flight.
func (h *History) Editing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.editing
}

func (h *History) acquire(prompt string) (types.Artifact, error) {
	if strings.TrimSpace(prompt) == "" {
		return types.Artifact{}, ErrEmptyPrompt
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.editing {
		return types.Artifact{}, ErrEditInFlight
	}
	h.editing = true
	return h.versions[h.cursor], nil
}

func (h *History) release() {
	h.mu.Lock()
	h.editing = false
	h.mu.Unlock()
}

type editResult struct {
	artifact types.Artifact
	err      error
}

// runEdit calls the editor once. Panics, empty payloads and a done ctx all become
// edit errors; an editor that ignores ctx is abandoned rather than waited on.
func runEdit(ctx context.Context, editor types.Editor, current types.Artifact, prompt string) (types.Artifact, error) {
	result := make(chan editResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- editResult{err: fmt.Errorf("editor panicked: %v", r)}
			}
		}()
		a, err := editor.Edit(ctx, current, prompt)
		result <- editResult{artifact: a, err: err}
	}()

	select {
	case res := <-result:
		if res.err != nil {
			return types.Artifact{}, types.AsEditError(prompt, res.err)
		}
		if res.artifact.IsEmpty() {
			return types.Artifact{}, types.AsEditError(prompt, types.ErrNoArtifact)
		}
		return res.artifact, nil
	case <-ctx.Done():
		return types.Artifact{}, types.AsEditError(prompt, ctx.Err())
	}
}
