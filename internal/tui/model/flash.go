package model

import (
	"sync"
	"time"
)

// Flash holds one transient notification for the status bar.
type Flash struct {
	mu      sync.RWMutex
	message string
	expires time.Time
	now     func() time.Time
}

// NewFlash creates an empty flash using the wall clock.
func NewFlash() *Flash {
	return &Flash{now: time.Now}
}

// Set stores a flash message that expires after the given duration.
func (f *Flash) Set(msg string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.message = msg
	f.expires = f.now().Add(d)
}

// Error flashes "<action> failed: <err>".
func (f *Flash) Error(action string, err error, d time.Duration) {
	f.Set(action+" failed: "+err.Error(), d)
}

// Get returns the current flash message, or empty if expired.
func (f *Flash) Get() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.now().After(f.expires) {
		return ""
	}
	return f.message
}
