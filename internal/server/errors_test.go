package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/style-forge/internal/history"
	"github.com/jonathan/style-forge/internal/orchestrator"
	"github.com/jonathan/style-forge/internal/types"
)

func TestErrValidation(t *testing.T) {
	err := &ErrValidation{Field: "image", Message: "required"}
	assert.Equal(t, "validation error: image - required", err.Error())
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil", err: nil, expected: http.StatusOK},
		{name: "validation", err: &ErrValidation{Field: "styles"}, expected: http.StatusBadRequest},
		{name: "empty prompt", err: history.ErrEmptyPrompt, expected: http.StatusBadRequest},
		{name: "duplicate style", err: fmt.Errorf("%w: Casual", orchestrator.ErrDuplicateStyle), expected: http.StatusBadRequest},
		{name: "unknown style", err: fmt.Errorf("%w: Goth", orchestrator.ErrUnknownStyle), expected: http.StatusBadRequest},
		{name: "run not found", err: ErrRunNotFound, expected: http.StatusNotFound},
		{name: "task not found", err: fmt.Errorf("task x: %w", ErrTaskNotFound), expected: http.StatusNotFound},
		{name: "task not ready", err: ErrTaskNotReady, expected: http.StatusConflict},
		{name: "edit in flight", err: history.ErrEditInFlight, expected: http.StatusConflict},
		{name: "analysis failure", err: &types.AnalysisError{Cause: errors.New("blocked")}, expected: http.StatusBadGateway},
		{name: "edit failure", err: &types.EditError{Prompt: "p", Cause: context.DeadlineExceeded}, expected: http.StatusBadGateway},
		{name: "generation failure", err: &types.GenerationError{Style: types.StyleCasual, Cause: errors.New("x")}, expected: http.StatusBadGateway},
		{name: "bare deadline", err: context.DeadlineExceeded, expected: http.StatusGatewayTimeout},
		{name: "unknown", err: errors.New("boom"), expected: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.err))
		})
	}
}
