package hub

import "sync"

// IDIssuer hands out strictly increasing message ids.
type IDIssuer struct {
	mu   sync.Mutex
	last int64
}

// NewIDIssuer returns an issuer whose first id is after+1. Seed it with the
// store's highest id so ids survive restarts without reuse.
func NewIDIssuer(after int64) *IDIssuer {
	return &IDIssuer{last: after}
}

// Next returns a fresh id.
func (i *IDIssuer) Next() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.last++
	return i.last
}

// Last returns the most recently issued id.
func (i *IDIssuer) Last() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.last
}
