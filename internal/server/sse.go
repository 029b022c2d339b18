package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Event names on a run stream.
const (
	eventTask     = "task"
	eventComplete = "complete"
)

// runStream writes one run's progress as server-sent events. Every event carries an
// increasing id so a client can tell replayed snapshot events from live ones.
type runStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	runID   string
	seq     int
}

// completeEvent is the payload of the last event on a stream.
type completeEvent struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Summary string `json:"summary"`
}

func newRunStream(w http.ResponseWriter, runID string) (*runStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer cannot flush, streaming unavailable")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &runStream{w: w, flusher: flusher, runID: runID}, nil
}

func (rs *runStream) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	rs.seq++
	if _, err := fmt.Fprintf(rs.w, "id: %d\nevent: %s\ndata: %s\n\n", rs.seq, event, data); err != nil {
		return err
	}
	rs.flusher.Flush()
	return nil
}

// task sends the current state of one task.
func (rs *runStream) task(view TaskView) error {
	return rs.send(eventTask, view)
}

// complete ends the stream. Write errors are ignored since the handler returns next.
func (rs *runStream) complete(status, summary string) {
	_ = rs.send(eventComplete, completeEvent{RunID: rs.runID, Status: status, Summary: summary})
}
