package journal

import "sync"

// DefaultRingSize is the default number of actions kept by a Ring.
const DefaultRingSize = 100

// Ring holds the most recent actions in a fixed-size ring buffer.
type Ring struct {
	entries []Action
	maxSize int
	start   int // Index of oldest entry
	count   int // Number of entries in buffer
	mu      sync.RWMutex
}

// NewRing creates a ring with the given maximum size.
func NewRing(maxSize int) *Ring {
	if maxSize <= 0 {
		maxSize = DefaultRingSize
	}
	return &Ring{
		entries: make([]Action, maxSize),
		maxSize: maxSize,
	}
}

// Record adds an action, overwriting the oldest when full.
func (r *Ring) Record(a Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := (r.start + r.count) % r.maxSize
	r.entries[idx] = a

	if r.count < r.maxSize {
		r.count++
	} else {
		r.start = (r.start + 1) % r.maxSize
	}
	return nil
}

// Last returns the most recent n actions, newest last.
func (r *Ring) Last(n int) []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.count || n < 0 {
		n = r.count
	}

	result := make([]Action, n)
	offset := r.count - n
	for i := 0; i < n; i++ {
		result[i] = r.entries[(r.start+offset+i)%r.maxSize]
	}
	return result
}

// Len returns the number of buffered actions.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
