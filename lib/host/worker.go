package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chazu/sheep/vm"
)

// ErrWorkerStopped is returned for requests made after a worker stopped.
var ErrWorkerStopped = errors.New("worker stopped")

type workerRequest struct {
	fn   func(*Host) error
	done chan error
}

// Worker serializes all access to a Host through a single goroutine that
// also advances its clock every tick. The VM is single-threaded; callers on
// other goroutines must go through Do.
type Worker struct {
	host     *Host
	interval time.Duration
	requests chan workerRequest
	quit     chan struct{}
	stopped  chan struct{}
	err      error
}

// NewWorker starts a goroutine ticking h every interval, or every
// manifest tick-ms when interval is zero.
func NewWorker(h *Host, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Duration(h.Manifest.VM.TickMS) * time.Millisecond
	}
	w := &Worker{
		host:     h,
		interval: interval,
		requests: make(chan workerRequest, 64),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer close(w.stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-ticker.C:
			if err := w.execute(w.tick); err != nil {
				log.Errorf("worker stopped: %s", err)
				w.err = err
				return
			}
		case <-w.quit:
			return
		}
	}
}

func (w *Worker) tick(h *Host) error {
	h.Timers.Advance(h.Manifest.VM.TickMS)
	h.VM.Tick()
	return nil
}

// execute runs fn, turning a fatal VM error into an error return.
func (w *Worker) execute(fn func(*Host) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if fe, ok := vm.IsFatal(r); ok {
				err = fe
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()
	return fn(w.host)
}

// Do runs fn on the worker goroutine and waits for it to return.
func (w *Worker) Do(ctx context.Context, fn func(*Host) error) error {
	req := workerRequest{fn: fn, done: make(chan error, 1)}
	select {
	case w.requests <- req:
	case <-w.stopped:
		return ErrWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-w.stopped:
		return ErrWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start executes function of the named script on the worker. The returned
// channel receives the thread's Result once it finishes.
func (w *Worker) Start(ctx context.Context, script, function, tag string) (<-chan vm.Result, error) {
	results := make(chan vm.Result, 1)
	err := w.Do(ctx, func(h *Host) error {
		s, err := h.Library.Script(script)
		if err != nil {
			return err
		}
		if tag == "" {
			tag = s.Name
		}
		handle := h.VM.Execute(s, function, tag, func(r vm.Result) { results <- r })
		if handle.IsZero() {
			return fmt.Errorf("host: could not start %s.%s", script, function)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Stop shuts down the worker goroutine and waits for it to exit. It
// returns the fatal error that stopped the worker early, if any.
func (w *Worker) Stop() error {
	select {
	case <-w.stopped:
	default:
		close(w.quit)
		<-w.stopped
	}
	return w.err
}
