package types

import (
	"errors"
	"fmt"
)

// ErrNoArtifact indicates the remote call succeeded but returned no usable image.
var ErrNoArtifact = errors.New("no artifact produced")

// AnalysisError indicates the source item could not be analyzed. No run is created.
type AnalysisError struct {
	Cause error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed: %v", e.Cause)
}

func (e *AnalysisError) Unwrap() error {
	return e.Cause
}

// GenerationError is scoped to a single style task and recorded on it.
type GenerationError struct {
	Style Style
	Cause error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed for %s: %v", e.Style.Label(), e.Cause)
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// EditError is scoped to a single edit attempt. The edit history is left untouched.
type EditError struct {
	Prompt string
	Cause  error
}

func (e *EditError) Error() string {
	return fmt.Sprintf("edit failed: %v", e.Cause)
}

func (e *EditError) Unwrap() error {
	return e.Cause
}

// AsGenerationError wraps err as a GenerationError for style unless it already is one.
func AsGenerationError(style Style, err error) error {
	if err == nil {
		return nil
	}
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return err
	}
	return &GenerationError{Style: style, Cause: err}
}

// AsEditError wraps err as an EditError unless it already is one.
func AsEditError(prompt string, err error) error {
	if err == nil {
		return nil
	}
	var editErr *EditError
	if errors.As(err, &editErr) {
		return err
	}
	return &EditError{Prompt: prompt, Cause: err}
}
