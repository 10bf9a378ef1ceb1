package batch

import (
	"sync"

	"github.com/timkrebs/image-node/internal/models"
)

// statusTracker aggregates progress across concurrently running batches.
// Counters reset when work starts on an idle node.
type statusTracker struct {
	mu        sync.Mutex
	state     models.NodeState
	lastError string
	processed int
	total     int
	active    int
}

func (s *statusTracker) receiving() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == 0 {
		s.state = models.StateReceiving
	}
}

func (s *statusTracker) begin(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == 0 {
		s.processed, s.total = 0, 0
		s.lastError = ""
	}
	s.active += n
	s.total += n
	s.state = models.StateProcessing
}

func (s *statusTracker) progress(res models.ImageResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	if !res.OK {
		s.lastError = res.Error
	}
}

func (s *statusTracker) end(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active -= n
	if s.active <= 0 {
		s.active = 0
		s.state = models.StateIdle
	}
}

func (s *statusTracker) fail(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = msg
	if s.active == 0 {
		s.state = models.StateError
	}
}

// note records an error without changing state
func (s *statusTracker) note(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = msg
	if s.active == 0 && s.state == models.StateReceiving {
		s.state = models.StateIdle
	}
}

func (s *statusTracker) snapshot() models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.Status{
		State:     s.state,
		LastError: s.lastError,
		Processed: s.processed,
		Total:     s.total,
	}
}
