package retry

import "time"

// SetClock overrides time and jitter sources for deterministic tests.
func (m *Manager) SetClock(now func() time.Time, jitter func(time.Duration) time.Duration) {
	if now != nil {
		m.now = now
	}
	if jitter != nil {
		m.jitter = jitter
	}
}

// Backoff exposes the delay computation for tests.
func (m *Manager) Backoff(attempt int) time.Duration {
	return m.backoff(attempt)
}
