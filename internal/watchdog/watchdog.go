// Package watchdog detects a silently dead radio link.
//
// The radio's own connection-lost notifications are unreliable, so the
// watchdog heartbeats the link on a fixed interval. The first failed
// heartbeat is terminal: it is reported once and the loop exits.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrLink wraps the heartbeat failure that stopped the watchdog.
var ErrLink = errors.New("radio link heartbeat failed")

// Heartbeater is the part of a radio link the watchdog drives.
type Heartbeater interface {
	SendHeartbeat(ctx context.Context) error
}

// Watchdog sends a heartbeat immediately on Start and then every interval.
type Watchdog struct {
	link     Heartbeater
	interval time.Duration
	logger   *slog.Logger

	// onFailure runs exactly once, on the watchdog goroutine, and must not
	// wait for Stop.
	onFailure func(error)

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	err     error
	done    chan struct{}
	failure sync.Once
}

// New creates a watchdog for link. onFailure may be nil.
func New(link Heartbeater, interval time.Duration, onFailure func(error), logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		link:      link,
		interval:  interval,
		logger:    logger,
		onFailure: onFailure,
		done:      make(chan struct{}),
	}
}

// Start launches the heartbeat loop. Calls after the first are no-ops.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(w.done)
		w.run(ctx)
	}()
}

// Started reports whether Start has been called.
func (w *Watchdog) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// Stop cancels the loop and waits for an in-flight heartbeat to return.
// Stopping is not a failure and does not invoke OnFailure.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

// Done is closed when the loop has exited, for any reason. It is never
// closed if Start was not called.
func (w *Watchdog) Done() <-chan struct{} {
	return w.done
}

// Err returns the failure that ended the loop, or nil.
func (w *Watchdog) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Watchdog) run(ctx context.Context) {
	for {
		if err := w.link.SendHeartbeat(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.fail(err)
			return
		}
		w.logger.Debug("watchdog: heartbeat sent")

		timer := time.NewTimer(w.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (w *Watchdog) fail(cause error) {
	w.failure.Do(func() {
		err := fmt.Errorf("%w: %w", ErrLink, cause)
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()

		w.logger.Error("watchdog: radio link is dead", "err", cause)
		if w.onFailure != nil {
			w.onFailure(err)
		}
	})
}
