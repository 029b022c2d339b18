package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/style-forge/internal/db"
	"github.com/jonathan/style-forge/internal/history"
	"github.com/jonathan/style-forge/internal/prompts"
	"github.com/jonathan/style-forge/internal/types"
)

// EditRequest is the JSON body for POST /runs/{id}/tasks/{task_id}/edits
type EditRequest struct {
	Prompt string `json:"prompt" validate:"required,max=1000"`
}

// HistoryResponse describes a task's edit history after an operation
type HistoryResponse struct {
	RunID    string `json:"run_id"`
	TaskID   string `json:"task_id"`
	Style    string `json:"style"`
	Changed  bool   `json:"changed"`
	ImageURL string `json:"image_url"`
	MIMEType string `json:"mime_type"`
	Bytes    int    `json:"bytes"`
	history.State
}

// sessionHistory resolves the run, task and history named in the path.
func (s *Server) sessionHistory(r *http.Request) (*Session, types.StyleTask, *history.History, error) {
	session, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		return nil, types.StyleTask{}, nil, err
	}
	taskID := r.PathValue("task_id")
	task, err := session.Task(taskID)
	if err != nil {
		return nil, types.StyleTask{}, nil, err
	}
	h, err := session.History(taskID)
	if err != nil {
		return nil, types.StyleTask{}, nil, err
	}
	return session, task, h, nil
}

func newHistoryResponse(runID string, task types.StyleTask, h *history.History, changed bool) HistoryResponse {
	current := h.Current()
	return HistoryResponse{
		RunID:    runID,
		TaskID:   task.ID,
		Style:    string(task.Style),
		Changed:  changed,
		ImageURL: fmt.Sprintf("/runs/%s/tasks/%s/image", runID, task.ID),
		MIMEType: current.MIMEType,
		Bytes:    current.Size(),
		State:    h.State(),
	}
}

// handleTaskImage serves the task's current image. ?download=1 sets an attachment filename.
func (s *Server) handleTaskImage(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	img, task, err := session.CurrentImage(r.PathValue("task_id"))
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	disposition := "inline"
	if download, _ := strconv.ParseBool(r.URL.Query().Get("download")); download {
		disposition = "attachment"
	}

	w.Header().Set("Content-Type", img.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(img.Size()))
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, downloadName(task.Style, img)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img.Data); err != nil {
		log.Printf("Error writing image for task %s: %v", task.ID, err)
	}
}

// downloadName is style-forge-<style><ext>, e.g. style-forge-nightout.png.
func downloadName(style types.Style, img types.Artifact) string {
	return "style-forge-" + strings.ToLower(string(style)) + img.Extension()
}

// handleGetHistory returns the task's edit history state
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	session, task, h, err := s.sessionHistory(r)
	if err != nil {
		s.errorFrom(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, newHistoryResponse(session.Run.ID, task, h, false))
}

// handleEdit applies a prompt to the current version and commits the result
func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := s.validator.Struct(req); err != nil {
		s.errorFrom(w, extractValidationErrors(err))
		return
	}

	session, task, h, err := s.sessionHistory(r)
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	ctx := r.Context()
	if s.editTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.editTimeout)
		defer cancel()
	}

	_, err = h.Edit(ctx, s.editor, req.Prompt)
	s.recordEdit(session, task, h, req.Prompt, err)
	if err != nil {
		if !errors.Is(err, history.ErrEditInFlight) {
			log.Printf("Edit failed for run %s task %s: %v", session.Run.ID, task.ID, err)
		}
		s.errorFrom(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, newHistoryResponse(session.Run.ID, task, h, true))
}

// handleUndo moves the cursor back one version. At the oldest version it is a no-op.
func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	s.moveCursor(w, r, db.EditOutcomeUndo, (*history.History).Undo)
}

// handleRedo moves the cursor forward one version. At the newest version it is a no-op.
func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	s.moveCursor(w, r, db.EditOutcomeRedo, (*history.History).Redo)
}

func (s *Server) moveCursor(w http.ResponseWriter, r *http.Request, outcome string, move func(*history.History) (types.Artifact, bool)) {
	session, task, h, err := s.sessionHistory(r)
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	_, changed := move(h)
	if changed {
		state := h.State()
		session.record(func(ctx context.Context) error {
			return s.ledger.RecordEdit(ctx, db.EditInput{
				RunID:        session.Run.ID,
				TaskID:       task.ID,
				Outcome:      outcome,
				VersionCount: state.Length,
				Cursor:       state.Cursor,
			})
		})
	}
	s.jsonResponse(w, http.StatusOK, newHistoryResponse(session.Run.ID, task, h, changed))
}

func (s *Server) recordEdit(session *Session, task types.StyleTask, h *history.History, prompt string, err error) {
	if errors.Is(err, history.ErrEditInFlight) || errors.Is(err, history.ErrEmptyPrompt) {
		return
	}
	state := h.State()
	in := db.EditInput{
		RunID:        session.Run.ID,
		TaskID:       task.ID,
		Prompt:       prompt,
		Outcome:      db.EditOutcomeCommitted,
		VersionCount: state.Length,
		Cursor:       state.Cursor,
	}
	if err != nil {
		in.Outcome = db.EditOutcomeFailed
		in.Error = err.Error()
	}
	session.record(func(ctx context.Context) error { return s.ledger.RecordEdit(ctx, in) })
}

// handleEditSuggestions lists canned edit prompts
func (s *Server) handleEditSuggestions(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string][]string{"suggestions": prompts.EditSuggestions()})
}

// extractValidationErrors converts validator errors into an *ErrValidation.
func extractValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		// Report the first failure only
		ve := validationErrors[0]
		return &ErrValidation{Field: ve.Field(), Message: ve.Tag()}
	}
	return &ErrValidation{Field: "body", Message: "invalid request"}
}
