package batch

import "sync"

// Admission tracks how many images are in flight against a fixed capacity.
// Batches are admitted or rejected as a whole.
type Admission struct {
	mu       sync.Mutex
	capacity int
	inFlight int
}

// NewAdmission creates an admission controller
func NewAdmission(capacity int) *Admission {
	return &Admission{capacity: capacity}
}

// Admit reserves n slots if they all fit
func (a *Admission) Admit(n int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n < 0 || a.inFlight+n > a.capacity {
		return false
	}
	a.inFlight += n
	return true
}

// Release returns n slots
func (a *Admission) Release(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight -= n
	if a.inFlight < 0 {
		a.inFlight = 0
	}
}

// InFlight returns the number of reserved slots
func (a *Admission) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight
}

// Capacity returns the configured capacity
func (a *Admission) Capacity() int {
	return a.capacity
}
