// Package shutdown coordinates the single orderly exit of a bridge session.
package shutdown

import (
	"log/slog"
	"sync"
)

// Closer releases one session resource.
type Closer struct {
	Name  string
	Close func() error
}

// Coordinator broadcasts one exit signal and closes every registered resource
// exactly once. The order in which resources close is unspecified; Wait does
// not return before all of them have.
type Coordinator struct {
	logger *slog.Logger

	mu        sync.Mutex
	closers   []Closer
	triggered bool
	reason    string
	// pending counts closers started but not finished; idle is signalled
	// when it drops to zero. Both are guarded by mu so a late Register
	// cannot race Wait.
	pending int
	idle    *sync.Cond

	exit chan struct{}
}

// New returns an untriggered coordinator.
func New(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		logger: logger,
		exit:   make(chan struct{}),
	}
	c.idle = sync.NewCond(&c.mu)
	return c
}

// Register adds a resource to close on exit. Registering after the exit
// signal closes the resource right away; a Wait that starts after Register
// returns also waits for it.
func (c *Coordinator) Register(name string, fn func() error) {
	cl := Closer{Name: name, Close: fn}

	c.mu.Lock()
	if c.triggered {
		c.pending++
		c.mu.Unlock()
		go c.run(cl)
		return
	}
	c.closers = append(c.closers, cl)
	c.mu.Unlock()
}

// Trigger broadcasts the exit signal and starts closing resources. Only the
// first call has any effect; it never blocks.
func (c *Coordinator) Trigger(reason string) bool {
	c.mu.Lock()
	if c.triggered {
		c.mu.Unlock()
		c.logger.Debug("shutdown: already in progress", "reason", reason)
		return false
	}
	c.triggered = true
	c.reason = reason
	closers := c.closers
	c.closers = nil
	c.pending += len(closers)
	close(c.exit)
	c.mu.Unlock()

	c.logger.Info("shutdown: exit signalled", "reason", reason, "resources", len(closers))
	for _, cl := range closers {
		go c.run(cl)
	}
	return true
}

func (c *Coordinator) run(cl Closer) {
	defer c.done()
	if err := cl.Close(); err != nil {
		c.logger.Warn("shutdown: close failed", "resource", cl.Name, "err", err)
		return
	}
	c.logger.Info("shutdown: closed", "resource", cl.Name)
}

func (c *Coordinator) done() {
	c.mu.Lock()
	c.pending--
	if c.pending == 0 {
		c.idle.Broadcast()
	}
	c.mu.Unlock()
}

// Exit is closed once Trigger has been called.
func (c *Coordinator) Exit() <-chan struct{} {
	return c.exit
}

// Reason returns the reason passed to the first Trigger, or "".
func (c *Coordinator) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Wait blocks until the exit signal has been given and every registered
// resource has finished closing.
func (c *Coordinator) Wait() {
	<-c.exit
	c.mu.Lock()
	for c.pending > 0 {
		c.idle.Wait()
	}
	c.mu.Unlock()
}
