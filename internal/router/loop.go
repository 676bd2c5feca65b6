package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stupiduntilnot/gpttg/internal/access"
	cmdpkg "github.com/stupiduntilnot/gpttg/internal/commander"
	"github.com/stupiduntilnot/gpttg/internal/control"
	"github.com/stupiduntilnot/gpttg/internal/db"
)

// Options tunes the polling loop.
type Options struct {
	Features Features
	// PollTimeout is the long-poll timeout in seconds passed to the transport.
	PollTimeout int
	// SleepInterval is the pause after a transport error, and after an empty
	// poll when PollTimeout is zero.
	SleepInterval time.Duration
	// MaxConcurrency bounds how many updates are handled at once.
	MaxConcurrency int
	// ShowUsage appends token usage to completion replies.
	ShowUsage bool
	// CircuitThreshold and CircuitCooldown configure the breaker that pauses
	// polling after repeated transport failures.
	CircuitThreshold int
	CircuitCooldown  time.Duration
	// ShutdownGrace is how long in-flight handlers may keep running after
	// ctx is cancelled before their own context is cancelled too.
	ShutdownGrace time.Duration
}

// DefaultShutdownGrace bounds how long Run waits for in-flight handlers.
const DefaultShutdownGrace = 10 * time.Second

func (o Options) withDefaults() Options {
	if o.SleepInterval <= 0 {
		o.SleepInterval = time.Second
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 1
	}
	if o.PollTimeout < 0 {
		o.PollTimeout = 0
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = DefaultShutdownGrace
	}
	return o
}

// Run polls the transport until ctx is cancelled, dispatching each update.
// Handler errors are logged and never stop the loop. Handlers run on a
// context that outlives ctx by at most ShutdownGrace, so replies already in
// progress can still be delivered; Run returns once they have all finished.
func (r *Router) Run(ctx context.Context) error {
	circuit := control.NewCircuitBreaker(r.opts.CircuitThreshold, r.opts.CircuitCooldown)
	sem := make(chan struct{}, r.opts.MaxConcurrency)
	handlerCtx, cancelHandlers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelHandlers()
	var wg sync.WaitGroup
	defer r.drain(&wg, cancelHandlers)

	var offset int64
	r.logger.WithFields(logrus.Fields{
		"completion":      r.opts.Features.Completion,
		"profile":         r.opts.Features.Profile,
		"max_concurrency": r.opts.MaxConcurrency,
	}).Info("polling started")

	for ctx.Err() == nil {
		if !circuit.Allow(time.Now()) {
			sleepCtx(ctx, circuit.RetryAfter(time.Now()))
			continue
		}

		updates, err := r.commander.GetUpdates(ctx, offset, r.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			r.logger.WithError(err).Warn("getUpdates error")
			r.journal.Record(db.EventTransportFailed, map[string]any{"error": truncate(err.Error(), 500)})
			if circuit.RecordFailure(err.Error(), time.Now()) {
				r.logger.WithFields(logrus.Fields{
					"threshold": circuit.Threshold,
					"cooldown":  circuit.Cooldown,
				}).Error("transport circuit opened; pausing polling")
				r.journal.Record(db.EventCircuitOpened, map[string]any{
					"threshold":        circuit.Threshold,
					"cooldown_seconds": int(circuit.Cooldown.Seconds()),
				})
			}
			sleepCtx(ctx, r.opts.SleepInterval)
			continue
		}
		if circuit.RecordSuccess() {
			r.logger.Info("transport circuit closed")
			r.journal.Record(db.EventCircuitClosed, map[string]any{"recovered": true})
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			if !r.dispatch(ctx, handlerCtx, &wg, sem, update) {
				break
			}
		}
		if len(updates) == 0 && r.opts.PollTimeout == 0 {
			sleepCtx(ctx, r.opts.SleepInterval)
		}
	}

	r.logger.Info("polling stopped")
	return nil
}

// drain waits for in-flight handlers, cancelling them once the grace period
// has elapsed.
func (r *Router) drain(wg *sync.WaitGroup, cancelHandlers context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	t := time.NewTimer(r.opts.ShutdownGrace)
	defer t.Stop()
	select {
	case <-done:
		return
	case <-t.C:
		r.logger.WithField("grace", r.opts.ShutdownGrace).Warn("shutdown grace elapsed; cancelling in-flight handlers")
		cancelHandlers()
	}
	<-done
}

// dispatch waits for a free slot on ctx and runs the handler on handlerCtx.
func (r *Router) dispatch(ctx, handlerCtx context.Context, wg *sync.WaitGroup, sem chan struct{}, update cmdpkg.Update) bool {
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() { <-sem }()
		defer func() {
			if p := recover(); p != nil {
				r.logger.WithField("update_id", update.UpdateID).Errorf("panic while handling update: %v", p)
			}
		}()
		r.logHandleError(update, r.Handle(handlerCtx, update))
	}()
	return true
}

func (r *Router) logHandleError(update cmdpkg.Update, err error) {
	if err == nil || errors.Is(err, access.ErrPermissionDenied) {
		return
	}
	entry := r.logger.WithField("update_id", update.UpdateID).WithError(err)
	var te *cmdpkg.TransportError
	if errors.As(err, &te) {
		entry.Warn(fmt.Sprintf("transport error during %s", te.Op))
		return
	}
	entry.Debug("exception while handling an update")
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
