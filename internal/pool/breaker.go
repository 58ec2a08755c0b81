package pool

import (
	"sync"

	"github.com/marketscout/crawler/internal/metrics"
)

// breaker counts consecutive worker-reported failures pool-wide. Any success
// resets the streak; reaching the threshold opens the breaker permanently
// for the run.
type breaker struct {
	mu          sync.Mutex
	threshold   int
	consecutive int
	open        bool
}

func newBreaker(threshold int) *breaker {
	return &breaker{threshold: threshold}
}

// Failure records one failed task and reports whether the breaker just
// opened.
func (b *breaker) Failure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return false
	}
	b.consecutive++
	if b.consecutive >= b.threshold {
		b.open = true
		metrics.SetBreakerOpen(true)
		return true
	}
	return false
}

// Success resets the failure streak.
func (b *breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		b.consecutive = 0
	}
}

// Open reports the breaker state.
func (b *breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}
