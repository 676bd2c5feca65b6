package control

import (
	"sync"
	"time"
)

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker pauses the polling loop after Threshold consecutive
// transport failures. After Cooldown a single probe is let through; its
// outcome closes or re-opens the breaker.
type CircuitBreaker struct {
	Threshold int
	Cooldown  time.Duration

	mu        sync.Mutex
	state     CircuitState
	failures  int
	openedAt  time.Time
	lastError string
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		Threshold: threshold,
		Cooldown:  cooldown,
		state:     CircuitClosed,
	}
}

func (c *CircuitBreaker) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Allow returns whether new work is allowed at this instant.
func (c *CircuitBreaker) Allow(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CircuitOpen {
		return true
	}
	if now.Sub(c.openedAt) >= c.Cooldown {
		c.state = CircuitHalfOpen
		return true
	}
	return false
}

// RetryAfter is how long until an open breaker lets a probe through.
func (c *CircuitBreaker) RetryAfter(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CircuitOpen {
		return 0
	}
	if d := c.Cooldown - now.Sub(c.openedAt); d > 0 {
		return d
	}
	return 0
}

// RecordSuccess closes the breaker. It reports whether the state changed.
func (c *CircuitBreaker) RecordSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.state != CircuitClosed
	c.state = CircuitClosed
	c.failures = 0
	c.lastError = ""
	return changed
}

// RecordFailure counts a failure and reports whether it opened the breaker.
func (c *CircuitBreaker) RecordFailure(errText string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = errText
	if c.state == CircuitHalfOpen {
		c.state = CircuitOpen
		c.openedAt = now
		return true
	}
	c.failures++
	if c.state == CircuitClosed && c.failures >= c.Threshold {
		c.state = CircuitOpen
		c.openedAt = now
		return true
	}
	return false
}

// LastError is the text of the most recent recorded failure.
func (c *CircuitBreaker) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}
