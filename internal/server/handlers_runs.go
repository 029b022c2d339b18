package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jonathan/style-forge/internal/db"
	"github.com/jonathan/style-forge/internal/fetch"
	"github.com/jonathan/style-forge/internal/orchestrator"
	"github.com/jonathan/style-forge/internal/types"
)

// maxUploadBytes bounds the size of an uploaded source image.
const maxUploadBytes = 20 << 20

// CreateRunRequest is the JSON body for POST /runs
type CreateRunRequest struct {
	Image    string   `json:"image,omitempty" validate:"required_without=ImageURL"`
	ImageURL string   `json:"image_url,omitempty" validate:"omitempty,url,excluded_with=Image"`
	MIMEType string   `json:"mime_type,omitempty" validate:"omitempty,oneof=image/png image/jpeg image/webp image/heic image/heif"`
	Styles   []string `json:"styles,omitempty" validate:"omitempty,max=6,unique,dive,required"`
}

// TaskView is the JSON form of a style task
type TaskView struct {
	ID       string `json:"id"`
	Style    string `json:"style"`
	Label    string `json:"label"`
	Guidance string `json:"guidance,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Bytes    int    `json:"bytes,omitempty"`
}

// RunResponse is the JSON form of a run
type RunResponse struct {
	RunID           string              `json:"run_id"`
	ItemDescription string              `json:"item_description"`
	Status          string              `json:"status"`
	Summary         string              `json:"summary"`
	Counts          orchestrator.Counts `json:"counts"`
	CreatedAt       string              `json:"created_at"`
	Tasks           []TaskView          `json:"tasks"`
}

func newTaskView(runID string, t types.StyleTask) TaskView {
	v := TaskView{
		ID:       t.ID,
		Style:    string(t.Style),
		Label:    t.Style.Label(),
		Guidance: t.Guidance,
		Status:   string(t.Status),
		Error:    t.Error,
	}
	if t.Status == types.StatusSucceeded && t.Result != nil {
		v.ImageURL = fmt.Sprintf("/runs/%s/tasks/%s/image", runID, t.ID)
		v.MIMEType = t.Result.MIMEType
		v.Bytes = t.Result.Size()
	}
	return v
}

func newRunResponse(s *Session) RunResponse {
	tasks := s.Tasks()
	views := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, newTaskView(s.Run.ID, t))
	}
	return RunResponse{
		RunID:           s.Run.ID,
		ItemDescription: s.ItemDescription,
		Status:          s.Status(),
		Summary:         s.Summary(),
		Counts:          s.Counts(),
		CreatedAt:       s.Run.CreatedAt.Format(time.RFC3339),
		Tasks:           views,
	}
}

// handleCreateRun analyzes the uploaded item and starts one generation per style
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	source, styles, err := s.decodeCreateRun(r)
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	analysis, err := s.analyzer.Analyze(r.Context(), source)
	if err != nil {
		// No run is created when the item cannot be analyzed.
		log.Printf("Analysis failed: %v", err)
		s.errorFrom(w, err)
		return
	}

	run, err := s.orch.StartRun(s.baseCtx, source, analysis.Requests(styles))
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	session := newSession(run, analysis.ItemDescription, s.ledger)
	s.sessions.Add(session)
	session.record(func(ctx context.Context) error {
		return s.ledger.RecordRun(ctx, db.RunInput{
			RunID:           run.ID,
			SourceMIMEType:  source.MIMEType,
			SourceBytes:     source.Size(),
			ItemDescription: analysis.ItemDescription,
			TaskCount:       run.Len(),
		})
	})
	go session.pump()

	log.Printf("Started run %s with %d styles for %q", run.ID, run.Len(), analysis.ItemDescription)
	s.jsonResponse(w, http.StatusAccepted, newRunResponse(session))
}

// decodeCreateRun reads either a JSON body or a multipart upload with an "image" file.
func (s *Server) decodeCreateRun(r *http.Request) (types.Artifact, []types.Style, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return s.decodeMultipart(r)
	}

	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return types.Artifact{}, nil, &ErrValidation{Field: "body", Message: err.Error()}
	}
	if err := s.validator.Struct(req); err != nil {
		return types.Artifact{}, nil, extractValidationErrors(err)
	}

	styles, err := s.parseStyles(req.Styles)
	if err != nil {
		return types.Artifact{}, nil, err
	}

	if req.ImageURL != "" {
		source, err := fetch.Image(r.Context(), req.ImageURL, s.fetchOpts)
		if err != nil {
			return types.Artifact{}, nil, &ErrValidation{Field: "image_url", Message: err.Error()}
		}
		return source, styles, nil
	}

	source, err := types.ParseArtifact(req.Image, req.MIMEType)
	if err != nil {
		return types.Artifact{}, nil, &ErrValidation{Field: "image", Message: err.Error()}
	}
	return source, styles, nil
}

func (s *Server) decodeMultipart(r *http.Request) (types.Artifact, []types.Style, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return types.Artifact{}, nil, &ErrValidation{Field: "body", Message: err.Error()}
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return types.Artifact{}, nil, &ErrValidation{Field: "image", Message: "file is required"}
	}
	defer file.Close() //nolint:errcheck

	data, err := io.ReadAll(file)
	if err != nil {
		return types.Artifact{}, nil, &ErrValidation{Field: "image", Message: err.Error()}
	}
	if len(data) == 0 {
		return types.Artifact{}, nil, &ErrValidation{Field: "image", Message: "file is empty"}
	}

	var raw []string
	if list := r.FormValue("styles"); list != "" {
		raw = strings.Split(list, ",")
	}
	styles, err := s.parseStyles(raw)
	if err != nil {
		return types.Artifact{}, nil, err
	}
	mimeType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	return types.NewArtifact(data, mimeType), styles, nil
}

// parseStyles resolves requested style names against the configured set.
// An empty list selects every configured style.
func (s *Server) parseStyles(raw []string) ([]types.Style, error) {
	if len(raw) == 0 {
		return append([]types.Style(nil), s.styles...), nil
	}

	allowed := make(map[types.Style]bool, len(s.styles))
	for _, st := range s.styles {
		allowed[st] = true
	}

	styles := make([]types.Style, 0, len(raw))
	for _, name := range raw {
		st, err := types.ParseStyle(name)
		if err != nil {
			return nil, &ErrValidation{Field: "styles", Message: err.Error()}
		}
		if !allowed[st] {
			return nil, &ErrValidation{Field: "styles", Message: fmt.Sprintf("style %s is not enabled", st.Label())}
		}
		styles = append(styles, st)
	}
	return styles, nil
}

// handleGetRun returns the merged view of a run
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.errorFrom(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, newRunResponse(session))
}

// handleStreamRun streams task updates as server-sent events until the run finishes
func (s *Server) handleStreamRun(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	runID := session.Run.ID
	stream, err := newRunStream(w, runID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	snapshot, updates, unsubscribe := session.Subscribe()
	defer unsubscribe()

	for _, t := range snapshot {
		if err := stream.task(newTaskView(runID, t)); err != nil {
			return
		}
	}

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				stream.complete(session.Status(), session.Summary())
				return
			}
			if err := stream.task(newTaskView(runID, u.Task)); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// handleDeleteRun starts over: the run is cancelled and its edit histories dropped
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Remove(r.PathValue("id"))
	if err != nil {
		s.errorFrom(w, err)
		return
	}
	session.Close()
	log.Printf("Discarded run %s", session.Run.ID)
	w.WriteHeader(http.StatusNoContent)
}
