package model

import (
	"errors"
	"testing"
	"time"
)

func TestFlashExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	f := NewFlash()
	f.now = func() time.Time { return now }

	if got := f.Get(); got != "" {
		t.Errorf("Get() on empty flash = %q, want empty", got)
	}

	f.Set("reconnected", 5*time.Second)
	if got := f.Get(); got != "reconnected" {
		t.Errorf("Get() = %q, want %q", got, "reconnected")
	}

	now = now.Add(6 * time.Second)
	if got := f.Get(); got != "" {
		t.Errorf("Get() after expiry = %q, want empty", got)
	}
}

func TestFlashError(t *testing.T) {
	f := NewFlash()
	f.Error("Mark read", errors.New("boom"), time.Minute)
	if got, want := f.Get(), "Mark read failed: boom"; got != want {
		t.Errorf("Get() = %q, want %q", got, want)
	}
}
