package shutdown

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestCoordinator_ClosesEachResourceOnce(t *testing.T) {
	c := New(testLogger())

	var radio, broker atomic.Int32
	c.Register("radio", func() error { radio.Add(1); return nil })
	c.Register("broker", func() error { broker.Add(1); return errors.New("already closed") })

	var wg sync.WaitGroup
	var firsts atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Trigger("heartbeat failed") {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()
	c.Wait()

	if n := firsts.Load(); n != 1 {
		t.Errorf("Trigger returned true %d times, want 1", n)
	}
	if n := radio.Load(); n != 1 {
		t.Errorf("radio closed %d times, want 1", n)
	}
	if n := broker.Load(); n != 1 {
		t.Errorf("broker closed %d times, want 1", n)
	}
	if got := c.Reason(); got != "heartbeat failed" {
		t.Errorf("Reason() = %q, want %q", got, "heartbeat failed")
	}
}

func TestCoordinator_WaitBlocksForAllClosers(t *testing.T) {
	c := New(testLogger())

	release := make(chan struct{})
	var done atomic.Bool
	c.Register("slow", func() error {
		<-release
		done.Store(true)
		return nil
	})
	c.Register("fast", func() error { return nil })
	c.Trigger("test")

	waited := make(chan struct{})
	go func() {
		c.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned before slow closer finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
	}
	if !done.Load() {
		t.Error("slow closer did not run")
	}
}

func TestCoordinator_ClosersRunConcurrently(t *testing.T) {
	c := New(testLogger())

	// Each closer waits for the other; a sequential coordinator deadlocks.
	a, b := make(chan struct{}), make(chan struct{})
	c.Register("a", func() error { close(a); <-b; return nil })
	c.Register("b", func() error { close(b); <-a; return nil })
	c.Trigger("test")

	waited := make(chan struct{})
	go func() {
		c.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("closers did not run concurrently")
	}
}

func TestCoordinator_ExitSignal(t *testing.T) {
	c := New(testLogger())

	select {
	case <-c.Exit():
		t.Fatal("exit signalled before Trigger")
	default:
	}

	c.Trigger("signal")
	c.Trigger("second")

	select {
	case <-c.Exit():
	default:
		t.Fatal("exit not signalled after Trigger")
	}
	if got := c.Reason(); got != "signal" {
		t.Errorf("Reason() = %q, want %q", got, "signal")
	}
}

func TestCoordinator_RegisterAfterTrigger(t *testing.T) {
	c := New(testLogger())
	c.Trigger("early failure")

	var closed atomic.Int32
	c.Register("late", func() error { closed.Add(1); return nil })
	c.Wait()

	if n := closed.Load(); n != 1 {
		t.Errorf("late resource closed %d times, want 1", n)
	}
}

func TestCoordinator_LateRegisterWhileWaiting(t *testing.T) {
	c := New(testLogger())
	c.Trigger("radio link failure")

	// Waiters already parked with nothing pending.
	waited := make(chan struct{})
	var waiters sync.WaitGroup
	for i := 0; i < 4; i++ {
		waiters.Add(1)
		go func() {
			defer waiters.Done()
			c.Wait()
		}()
	}
	go func() {
		waiters.Wait()
		close(waited)
	}()

	var closed atomic.Int32
	var registers sync.WaitGroup
	for i := 0; i < 50; i++ {
		registers.Add(1)
		go func() {
			defer registers.Done()
			c.Register("late", func() error { closed.Add(1); return nil })
		}()
	}
	registers.Wait()

	release := make(chan struct{})
	c.Register("slow", func() error { <-release; return nil })
	after := make(chan struct{})
	go func() {
		c.Wait()
		close(after)
	}()
	select {
	case <-after:
		t.Fatal("Wait returned before a resource registered ahead of it closed")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	for _, ch := range []chan struct{}{waited, after} {
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatal("Wait did not return")
		}
	}
	c.Wait()
	if n := closed.Load(); n != 50 {
		t.Errorf("late resources closed %d times, want 50", n)
	}
}
