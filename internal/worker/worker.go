// Package worker provides a cancellable goroutine wrapper used by every
// pipeline stage. A worker runs one function, captures any error or panic,
// and exposes it to whoever supervises the worker. Stages coordinate through
// shared state and bounded sleep-and-retry, so the only signalling a worker
// needs is "stop now" and "did you fail".
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Worker is a single long-lived pipeline goroutine.
type Worker struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Start launches fn on its own goroutine. fn must check w.Aborting()
// at the top of each iteration and return promptly when it reports true.
// A non-nil return or a panic is captured and surfaced via Err.
func Start(name string, fn func(w *Worker) error) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		name:   name,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(w.done)
		defer func() {
			if r := recover(); r != nil {
				w.setErr(fmt.Errorf("worker %s panicked: %v", name, r))
			}
		}()
		if err := fn(w); err != nil {
			w.setErr(fmt.Errorf("worker %s: %w", name, err))
		}
	}()

	return w
}

// Name returns the worker's name.
func (w *Worker) Name() string { return w.name }

// Aborting reports whether the worker has been asked to stop.
func (w *Worker) Aborting() bool {
	select {
	case <-w.ctx.Done():
		return true
	default:
		return false
	}
}

// Sleep pauses for d, waking early if the worker is stopped. It returns
// false when the sleep was cut short by cancellation.
func (w *Worker) Sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Stopping returns a channel that closes when the worker is asked to stop,
// for use in select loops.
func (w *Worker) Stopping() <-chan struct{} {
	return w.ctx.Done()
}

// Stop requests cancellation. With wait set it blocks until the worker
// goroutine has actually exited.
func (w *Worker) Stop(wait bool) {
	w.cancel()
	if wait {
		<-w.done
	}
}

// Wait blocks until the worker goroutine has exited.
func (w *Worker) Wait() {
	<-w.done
}

// Running reports whether the worker goroutine is still executing.
func (w *Worker) Running() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Err returns the captured error, if any. The supervisor polls this
// alongside Running to detect failed workers.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Worker) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

// StopAll stops the given workers, waiting for each in turn.
func StopAll(workers map[string]*Worker) {
	for _, w := range workers {
		w.Stop(false)
	}
	for _, w := range workers {
		w.Wait()
	}
}
