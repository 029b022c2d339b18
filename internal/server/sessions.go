package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jonathan/style-forge/internal/db"
	"github.com/jonathan/style-forge/internal/history"
	"github.com/jonathan/style-forge/internal/orchestrator"
	"github.com/jonathan/style-forge/internal/types"
)

const ledgerTimeout = 5 * time.Second

// Session is the in-memory state the API keeps for one run: a merged view of its tasks
// built from the run's updates, plus one edit history per task that has been opened.
type Session struct {
	Run             *orchestrator.Run
	ItemDescription string

	ledger db.Ledger

	mu        sync.Mutex
	order     []string
	tasks     map[string]types.StyleTask
	histories map[string]*history.History
	subs      map[int]chan types.TaskUpdate
	nextSub   int
	finished  bool
	done      chan struct{}
}

func newSession(run *orchestrator.Run, itemDescription string, ledger db.Ledger) *Session {
	snapshot := run.Snapshot()
	s := &Session{
		Run:             run,
		ItemDescription: itemDescription,
		ledger:          ledger,
		order:           make([]string, 0, len(snapshot)),
		tasks:           make(map[string]types.StyleTask, len(snapshot)),
		histories:       make(map[string]*history.History),
		subs:            make(map[int]chan types.TaskUpdate),
		done:            make(chan struct{}),
	}
	for _, t := range snapshot {
		s.order = append(s.order, t.ID)
		s.tasks[t.ID] = t
	}
	return s
}

// pump merges run updates into the session until the run finishes.
func (s *Session) pump() {
	defer close(s.done)

	for u := range s.Run.Updates() {
		s.mu.Lock()
		s.tasks[u.Task.ID] = u.Task
		for _, ch := range s.subs {
			select {
			case ch <- u:
			default:
				log.Printf("[session %s] dropped update for slow subscriber", s.Run.ID)
			}
		}
		s.mu.Unlock()

		s.record(func(ctx context.Context) error { return s.ledger.RecordTask(ctx, s.Run.ID, u.Task) })
	}

	s.mu.Lock()
	s.finished = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	status := s.Status()
	s.record(func(ctx context.Context) error { return s.ledger.CompleteRun(ctx, s.Run.ID, status) })
	log.Printf("[session %s] run %s: %s", s.Run.ID, status, s.Summary())
}

func (s *Session) record(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Printf("[ledger] run %s: %v", s.Run.ID, err)
	}
}

// Done is closed once every update has been merged.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Subscribe returns the current tasks and a channel carrying every later update.
// The channel is closed when the run finishes; call the returned func to stop early.
func (s *Session) Subscribe() ([]types.StyleTask, <-chan types.TaskUpdate, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshotLocked()
	// A run publishes at most two updates per task.
	ch := make(chan types.TaskUpdate, 2*len(s.order))
	if s.finished {
		close(ch)
		return snapshot, ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	return snapshot, ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// Tasks returns the merged task view in request order.
func (s *Session) Tasks() []types.StyleTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() []types.StyleTask {
	out := make([]types.StyleTask, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id])
	}
	return out
}

// Task returns one task from the merged view.
func (s *Session) Task(id string) (types.StyleTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return types.StyleTask{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t, nil
}

// Counts tallies the merged view by status.
func (s *Session) Counts() orchestrator.Counts {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c orchestrator.Counts
	for _, t := range s.tasks {
		switch t.Status {
		case types.StatusPending:
			c.Pending++
		case types.StatusInFlight:
			c.InFlight++
		case types.StatusSucceeded:
			c.Succeeded++
		case types.StatusFailed:
			c.Failed++
		}
	}
	return c
}

// Summary formats Counts for logs.
func (s *Session) Summary() string {
	c := s.Counts()
	return fmt.Sprintf("%d succeeded, %d failed, %d pending, %d in flight", c.Succeeded, c.Failed, c.Pending, c.InFlight)
}

// Status is "running" until the run finishes, then one of the db run statuses.
func (s *Session) Status() string {
	s.mu.Lock()
	finished := s.finished
	s.mu.Unlock()
	if !finished {
		return db.RunStatusRunning
	}
	c := s.Counts()
	return db.RunStatus(c.Succeeded, c.Failed, s.Run.Cancelled())
}

// History returns the edit history for a task, opening it from the generated image
// on first use.
func (s *Session) History(taskID string) (*history.History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.histories[taskID]; ok {
		return h, nil
	}
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if t.Status != types.StatusSucceeded || t.Result == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrTaskNotReady, t.Style.Label(), t.Status)
	}

	h := history.Open(*t.Result)
	s.histories[taskID] = h
	return h, nil
}

// CurrentImage returns the version under the history cursor if the task is being
// edited, otherwise its generated image.
func (s *Session) CurrentImage(taskID string) (types.Artifact, types.StyleTask, error) {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	h := s.histories[taskID]
	s.mu.Unlock()

	if !ok {
		return types.Artifact{}, types.StyleTask{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if h != nil {
		return h.Current(), t, nil
	}
	if t.Status != types.StatusSucceeded || t.Result == nil {
		return types.Artifact{}, t, fmt.Errorf("%w: %s is %s", ErrTaskNotReady, t.Style.Label(), t.Status)
	}
	return *t.Result, t, nil
}

// Close cancels the run and drops every edit history.
func (s *Session) Close() {
	s.Run.Cancel()
	s.mu.Lock()
	s.histories = make(map[string]*history.History)
	s.mu.Unlock()
}

// Store holds the live sessions by run id. With a positive TTL, sessions that nobody
// has looked up for that long are closed and dropped.
type Store struct {
	ttl time.Duration

	mu       sync.RWMutex
	sessions map[string]*storeEntry

	stopOnce sync.Once
	stop     chan struct{}
}

type storeEntry struct {
	session    *Session
	lastAccess time.Time
}

// NewStore creates an empty Store. A ttl of zero keeps sessions until removed.
func NewStore(ttl time.Duration) *Store {
	st := &Store{
		ttl:      ttl,
		sessions: make(map[string]*storeEntry),
		stop:     make(chan struct{}),
	}
	if ttl > 0 {
		go st.cleanup(cleanupInterval(ttl))
	}
	return st
}

// cleanupInterval checks a few times per TTL and at least once a minute.
func cleanupInterval(ttl time.Duration) time.Duration {
	return max(min(ttl/4, time.Minute), time.Millisecond)
}

// Add registers a session under its run id
func (st *Store) Add(s *Session) {
	st.mu.Lock()
	st.sessions[s.Run.ID] = &storeEntry{session: s, lastAccess: time.Now()}
	st.mu.Unlock()
}

// Get looks up a session and marks it as used
func (st *Store) Get(runID string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.sessions[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	e.lastAccess = time.Now()
	return e.session, nil
}

// Remove unregisters and returns a session
func (st *Store) Remove(runID string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.sessions[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	delete(st.sessions, runID)
	return e.session, nil
}

// cleanup evicts idle sessions until CloseAll is called.
func (st *Store) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			st.evictIdle(time.Now().Add(-st.ttl))
		case <-st.stop:
			return
		}
	}
}

// evictIdle closes and drops sessions not looked up since cutoff.
func (st *Store) evictIdle(cutoff time.Time) int {
	st.mu.Lock()
	var idle []*Session
	for id, e := range st.sessions {
		if e.lastAccess.Before(cutoff) {
			idle = append(idle, e.session)
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()

	for _, s := range idle {
		log.Printf("[session %s] evicted after %s idle", s.Run.ID, st.ttl)
		s.Close()
	}
	return len(idle)
}

// CloseAll stops eviction and cancels every live run.
func (st *Store) CloseAll() {
	st.stopOnce.Do(func() { close(st.stop) })

	st.mu.Lock()
	defer st.mu.Unlock()
	for id, e := range st.sessions {
		e.session.Close()
		delete(st.sessions, id)
	}
}

// Len returns the number of live sessions
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
