package conn

import "time"

// BackoffConfig bounds the reconnect delay.
type BackoffConfig struct {
	Base   time.Duration // delay for the first retry, before jitter
	Max    time.Duration // cap applied after jitter
	Jitter time.Duration // jitter is drawn from [0, Jitter)
}

// DefaultBackoff is 1s doubling per attempt, up to 1s of jitter, capped at 30s.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Base:   time.Second,
		Max:    30 * time.Second,
		Jitter: time.Second,
	}
}

// Backoff returns min(Base*2^attempt + jitter, Max). It never overflows,
// whatever the attempt count.
func Backoff(attempt int, jitter time.Duration, cfg BackoffConfig) time.Duration {
	if cfg.Base <= 0 {
		return min(max(jitter, 0), cfg.Max)
	}
	d := cfg.Base
	for range max(attempt, 0) {
		if d >= cfg.Max {
			return cfg.Max
		}
		d *= 2
	}
	return min(d+jitter, cfg.Max)
}
