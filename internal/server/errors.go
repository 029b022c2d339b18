package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/style-forge/internal/history"
	"github.com/jonathan/style-forge/internal/orchestrator"
	"github.com/jonathan/style-forge/internal/types"
)

var (
	// ErrRunNotFound indicates no session exists for the run id
	ErrRunNotFound = errors.New("run not found")
	// ErrTaskNotFound indicates the run has no task with the given id
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskNotReady indicates the task has not produced an image
	ErrTaskNotReady = errors.New("task has no image")
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		validation *ErrValidation
		analysis   *types.AnalysisError
		generation *types.GenerationError
		edit       *types.EditError
	)

	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation),
		errors.Is(err, history.ErrEmptyPrompt),
		errors.Is(err, orchestrator.ErrDuplicateStyle),
		errors.Is(err, orchestrator.ErrUnknownStyle):
		return http.StatusBadRequest
	case errors.Is(err, ErrRunNotFound), errors.Is(err, ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTaskNotReady), errors.Is(err, history.ErrEditInFlight):
		return http.StatusConflict
	case errors.As(err, &analysis), errors.As(err, &generation), errors.As(err, &edit):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
