package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCleanupInterval is how often the janitor sweeps expired sessions.
const DefaultCleanupInterval = time.Minute

// Janitor periodically evicts expired sessions so idle chats do not keep
// their history in memory until their next message.
type Janitor struct {
	store    *Store
	interval time.Duration
	logger   logrus.FieldLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewJanitor creates a janitor for store. A non-positive interval uses
// DefaultCleanupInterval.
func NewJanitor(store *Store, interval time.Duration, logger logrus.FieldLogger) *Janitor {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Janitor{
		store:    store,
		interval: interval,
		logger:   logger.WithField("component", "session.janitor"),
	}
}

// Start launches the sweep loop. Calling Start on a running janitor is a no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	j.running = true
	go j.run(runCtx, j.done)
}

// Stop cancels the loop and waits for it to exit.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	cancel, done := j.cancel, j.done
	j.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the sweep loop is active.
func (j *Janitor) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *Janitor) run(ctx context.Context, done chan struct{}) {
	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Debug("janitor stopping")
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() {
	removed := j.store.EvictExpired()
	if removed > 0 {
		stats := j.store.Stats()
		j.logger.WithFields(logrus.Fields{
			"removed":   removed,
			"sessions":  stats.Sessions,
			"exchanges": stats.Exchanges,
		}).Info("evicted expired sessions")
	}
}
