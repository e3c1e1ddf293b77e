package auth

import (
	"sync"
	"time"
)

// FailureThrottle locks out a source address after repeated failed
// authentication attempts inside a sliding window. Successful attempts
// clear the address's record.
type FailureThrottle struct {
	failures map[string][]time.Time
	mutex    sync.RWMutex
	window   time.Duration
	limit    int
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewFailureThrottle creates a throttle allowing limit failures per window.
func NewFailureThrottle(limit int, window time.Duration) *FailureThrottle {
	ft := &FailureThrottle{
		failures: make(map[string][]time.Time),
		window:   window,
		limit:    limit,
		stopChan: make(chan struct{}),
	}

	// Cleanup old entries every minute
	go ft.cleanup()

	return ft
}

// Stop ends the cleanup goroutine. The throttle itself stays usable.
func (ft *FailureThrottle) Stop() {
	ft.stopOnce.Do(func() { close(ft.stopChan) })
}

// Allow reports whether the address may attempt authentication.
func (ft *FailureThrottle) Allow(addr string) bool {
	ft.mutex.RLock()
	defer ft.mutex.RUnlock()

	cutoff := time.Now().Add(-ft.window)
	recent := 0
	for _, at := range ft.failures[addr] {
		if at.After(cutoff) {
			recent++
		}
	}
	return recent < ft.limit
}

// RecordFailure registers a failed attempt for the address.
func (ft *FailureThrottle) RecordFailure(addr string) {
	ft.mutex.Lock()
	defer ft.mutex.Unlock()

	now := time.Now()
	cutoff := now.Add(-ft.window)

	var recent []time.Time
	for _, at := range ft.failures[addr] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	ft.failures[addr] = append(recent, now)
}

// RecordSuccess clears the address's failure record.
func (ft *FailureThrottle) RecordSuccess(addr string) {
	ft.mutex.Lock()
	defer ft.mutex.Unlock()

	delete(ft.failures, addr)
}

// cleanup removes stale entries so idle addresses do not accumulate.
func (ft *FailureThrottle) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ft.prune()
		case <-ft.stopChan:
			return
		}
	}
}

func (ft *FailureThrottle) prune() {
	ft.mutex.Lock()
	defer ft.mutex.Unlock()

	cutoff := time.Now().Add(-ft.window)
	for addr, attempts := range ft.failures {
		var recent []time.Time
		for _, at := range attempts {
			if at.After(cutoff) {
				recent = append(recent, at)
			}
		}

		if len(recent) == 0 {
			delete(ft.failures, addr)
		} else {
			ft.failures[addr] = recent
		}
	}
}
