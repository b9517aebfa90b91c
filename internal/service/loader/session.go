package loader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vertextoedge/modelcache/internal/domain"
)

// SessionState is the lifecycle state of a background load
type SessionState string

const (
	StateRunning  SessionState = "running"
	StateDone     SessionState = "done"
	StateFailed   SessionState = "failed"
	StateCanceled SessionState = "canceled"
)

// Session is one background load started with Loader.Start.
// Callers correlate by ID; sessions share no mutable state.
type Session struct {
	ID        string
	Identity  string
	Source    string
	StartedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	state      SessionState
	loaded     int64
	total      int64
	handle     *domain.Handle
	err        error
	finishedAt time.Time
}

// SessionStatus is a point-in-time copy of a session
type SessionStatus struct {
	ID         string       `json:"id"`
	Identity   string       `json:"name"`
	Source     string       `json:"source"`
	State      SessionState `json:"state"`
	Loaded     int64        `json:"loaded"`
	Total      int64        `json:"total"`
	FromCache  bool         `json:"from_cache"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

func newSession(id, identity, source string, cancel context.CancelFunc) *Session {
	return &Session{
		ID:        id,
		Identity:  identity,
		Source:    source,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateRunning,
		total:     -1,
	}
}

// Done is closed when the load finishes
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the load finishes or ctx is done
func (s *Session) Wait(ctx context.Context) (*domain.Handle, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle, s.err
}

// Cancel aborts the load
func (s *Session) Cancel() {
	s.cancel()
}

// Status returns a snapshot of the session
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SessionStatus{
		ID:        s.ID,
		Identity:  s.Identity,
		Source:    s.Source,
		State:     s.state,
		Loaded:    s.loaded,
		Total:     s.total,
		StartedAt: s.StartedAt,
	}
	if s.handle != nil {
		st.FromCache = s.handle.FromCache
	}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	if !s.finishedAt.IsZero() {
		finished := s.finishedAt
		st.FinishedAt = &finished
	}
	return st
}

func (s *Session) setProgress(loaded, total int64) {
	s.mu.Lock()
	s.loaded = loaded
	s.total = total
	s.mu.Unlock()
}

func (s *Session) finish(h *domain.Handle, err error) {
	s.mu.Lock()
	s.handle = h
	s.err = err
	s.finishedAt = time.Now()
	switch {
	case err == nil:
		s.state = StateDone
		s.loaded = h.Size
		s.total = h.Size
	case errors.Is(err, context.Canceled):
		s.state = StateCanceled
	default:
		s.state = StateFailed
	}
	s.mu.Unlock()
	close(s.done)
}

func (s *Session) finishedBefore(t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.finishedAt.IsZero() && s.finishedAt.Before(t)
}
