package types

import (
	"context"
	"time"
)

// TaskStatus is the lifecycle state of a StyleTask.
type TaskStatus string

// TaskStatus constants
const (
	StatusPending   TaskStatus = "pending"
	StatusInFlight  TaskStatus = "in_flight"
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// StyleRequest asks for one outfit in a given style.
type StyleRequest struct {
	Style    Style  `json:"style"`
	Guidance string `json:"guidance"`
}

// StyleTask is one requested outfit generation. Values are immutable:
// the transition methods return a new task and leave the receiver untouched.
type StyleTask struct {
	ID       string     `json:"id"`
	Style    Style      `json:"style"`
	Guidance string     `json:"guidance"`
	Status   TaskStatus `json:"status"`
	Result   *Artifact  `json:"-"`
	Err      error      `json:"-"`
	Error    string     `json:"error,omitempty"`
}

// NewStyleTask creates a task in Pending.
func NewStyleTask(id string, req StyleRequest) StyleTask {
	return StyleTask{
		ID:       id,
		Style:    req.Style,
		Guidance: req.Guidance,
		Status:   StatusPending,
	}
}

// Start returns the task in InFlight. Terminal tasks are returned unchanged.
func (t StyleTask) Start() StyleTask {
	if t.Status.IsTerminal() {
		return t
	}
	t.Status = StatusInFlight
	return t
}

// Succeed returns the task in Succeeded carrying the artifact.
// Terminal tasks are returned unchanged.
func (t StyleTask) Succeed(a Artifact) StyleTask {
	if t.Status.IsTerminal() {
		return t
	}
	t.Status = StatusSucceeded
	t.Result = &a
	t.Err = nil
	t.Error = ""
	return t
}

// Fail returns the task in Failed carrying err. Terminal tasks are returned unchanged.
func (t StyleTask) Fail(err error) StyleTask {
	if t.Status.IsTerminal() {
		return t
	}
	if err == nil {
		err = ErrNoArtifact
	}
	t.Status = StatusFailed
	t.Result = nil
	t.Err = err
	t.Error = err.Error()
	return t
}

// TaskUpdate is a state-change notification carrying the full replacement task value.
type TaskUpdate struct {
	RunID string    `json:"run_id"`
	Task  StyleTask `json:"task"`
	At    time.Time `json:"at"`
}

// Terminal reports whether the update carries a finished task.
func (u TaskUpdate) Terminal() bool {
	return u.Task.Status.IsTerminal()
}

// Analysis is the result of describing a source item and suggesting outfits for it.
type Analysis struct {
	ItemDescription string           `json:"description"`
	Suggestions     map[Style]string `json:"suggestions"`
}

// Requests builds one StyleRequest per style, taking guidance from the suggestions.
func (a *Analysis) Requests(styles []Style) []StyleRequest {
	reqs := make([]StyleRequest, 0, len(styles))
	for _, s := range styles {
		reqs = append(reqs, StyleRequest{Style: s, Guidance: a.Suggestions[s]})
	}
	return reqs
}

// Analyzer describes a source item and proposes per-style guidance.
type Analyzer interface {
	Analyze(ctx context.Context, source Artifact) (*Analysis, error)
}

// Generator produces one outfit image for a style.
type Generator interface {
	Generate(ctx context.Context, source Artifact, style Style, guidance string) (Artifact, error)
}

// Editor applies a natural-language edit to an image.
type Editor interface {
	Edit(ctx context.Context, current Artifact, prompt string) (Artifact, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, source Artifact, style Style, guidance string) (Artifact, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, source Artifact, style Style, guidance string) (Artifact, error) {
	return f(ctx, source, style, guidance)
}

// EditorFunc adapts a function to the Editor interface.
type EditorFunc func(ctx context.Context, current Artifact, prompt string) (Artifact, error)

// Edit calls f.
func (f EditorFunc) Edit(ctx context.Context, current Artifact, prompt string) (Artifact, error) {
	return f(ctx, current, prompt)
}
