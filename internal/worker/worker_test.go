package worker

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWorkerCompletes(t *testing.T) {
	w := Start("noop", func(w *Worker) error { return nil })
	w.Wait()
	if w.Running() {
		t.Error("worker still running after Wait")
	}
	if err := w.Err(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWorkerCapturesError(t *testing.T) {
	cause := errors.New("boom")
	w := Start("failing", func(w *Worker) error { return cause })
	w.Wait()
	err := w.Err()
	if !errors.Is(err, cause) {
		t.Fatalf("Err() = %v, want wrapped %v", err, cause)
	}
	if !strings.Contains(err.Error(), "failing") {
		t.Errorf("error %q does not name the worker", err)
	}
}

func TestWorkerCapturesPanic(t *testing.T) {
	w := Start("panicking", func(w *Worker) error { panic("oh no") })
	w.Wait()
	err := w.Err()
	if err == nil || !strings.Contains(err.Error(), "oh no") {
		t.Fatalf("Err() = %v, want captured panic", err)
	}
}

func TestStopCancelsSleep(t *testing.T) {
	started := make(chan struct{})
	w := Start("sleeper", func(w *Worker) error {
		close(started)
		if w.Sleep(time.Minute) {
			return errors.New("sleep completed, expected cancellation")
		}
		return nil
	})
	<-started
	w.Stop(true)
	if err := w.Err(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAbortingAndStopping(t *testing.T) {
	block := make(chan struct{})
	w := Start("loop", func(w *Worker) error {
		<-w.Stopping()
		close(block)
		return nil
	})
	if w.Aborting() {
		t.Error("Aborting() true before Stop")
	}
	w.Stop(true)
	if !w.Aborting() {
		t.Error("Aborting() false after Stop")
	}
	select {
	case <-block:
	default:
		t.Error("Stopping channel never fired")
	}
}

func TestStopAll(t *testing.T) {
	workers := map[string]*Worker{
		"a": Start("a", func(w *Worker) error { <-w.Stopping(); return nil }),
		"b": Start("b", func(w *Worker) error { <-w.Stopping(); return nil }),
	}
	StopAll(workers)
	for name, w := range workers {
		if w.Running() {
			t.Errorf("worker %s still running after StopAll", name)
		}
	}
}
