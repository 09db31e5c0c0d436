package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/astrohaus/stationd/internal/config"
	"github.com/astrohaus/stationd/internal/faults"
)

// AuthFailureTag marks a worker whose failure was an authentication error,
// so operators can tell a bad credential apart from a transient fault.
const AuthFailureTag = "auth-failure"

// Supervised owns one execution context (goroutine) for a runner. The
// context terminates when a step returns an error; recovery requires a new
// context via Revive.
type Supervised struct {
	runner Runner
	status *Status
	log    *zap.SugaredLogger

	mu            sync.Mutex
	cancel        context.CancelFunc
	done          chan struct{}
	stopRequested bool
}

func NewSupervised(runner Runner, status *Status, log *zap.SugaredLogger) *Supervised {
	return &Supervised{runner: runner, status: status, log: log}
}

func (w *Supervised) Name() string { return w.runner.Name() }

func (w *Supervised) Status() *Status { return w.status }

// Start allocates a new execution context. Calling Start on a live worker is
// a no-op.
func (w *Supervised) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.aliveLocked() {
		return
	}

	w.status.SetStarting()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done
	w.stopRequested = false
	go w.run(ctx, done)
}

func (w *Supervised) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	w.log.Infof("%s: starting", w.runner.Name())

	for {
		if ctx.Err() != nil {
			w.log.Infof("%s: turning off", w.runner.Name())
			if hook, ok := w.runner.(ExitHooker); ok {
				hook.OnExit()
			}
			w.status.SetOff()
			return
		}

		w.status.SetRunning()
		if err := w.step(ctx); err != nil {
			if ctx.Err() != nil {
				// The step was interrupted by a stop request; exit through
				// the cooperative path above.
				continue
			}
			w.log.Errorf("%s: %s", w.runner.Name(), err)
			if faults.Is(err, faults.Authentication) {
				w.status.AddTag(AuthFailureTag)
			}
			w.status.SetFailure(err.Error())
			return
		}
	}
}

func (w *Supervised) step(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panicked: %v", r)
		}
	}()
	return w.runner.Step(ctx, w.status)
}

// Stop cooperatively stops the worker and blocks until its execution context
// exits or ctx runs out. Safe to call when the context already exited.
func (w *Supervised) Stop(ctx context.Context) error {
	w.mu.Lock()
	w.stopRequested = true
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker %q did not stop in time: %w", w.runner.Name(), ctx.Err())
	}
}

// Alive reports whether the execution context is still running.
func (w *Supervised) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.aliveLocked()
}

func (w *Supervised) aliveLocked() bool {
	if w.done == nil {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Revive starts a new execution context if the previous one exited without a
// stop request. Failures are logged, never raised.
func (w *Supervised) Revive() {
	w.mu.Lock()
	stopRequested := w.stopRequested
	alive := w.aliveLocked()
	w.mu.Unlock()

	if stopRequested || alive {
		return
	}
	w.log.Infof("worker %q not running, trying to restart", w.runner.Name())
	w.Start()
}

// Sleep pauses for d, returning early when ctx is canceled.
func Sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// sleepPollInterval bounds how quickly a sleeping worker notices a stop
// request or a configuration change.
const sleepPollInterval = 200 * time.Millisecond

// SleepInterruptible sleeps up to d, waking early when ctx is canceled or
// when the source's observed modification timestamp changes. Returns true
// only when interrupted by a configuration change, so long-sleeping workers
// can react to edits promptly instead of after a full interval.
func SleepInterruptible(ctx context.Context, src config.Source, d time.Duration) bool {
	base, _ := src.ModTime()
	timer := time.NewTimer(d)
	defer timer.Stop()
	tick := time.NewTicker(sleepPollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return false
		case <-tick.C:
			if current, ok := src.ModTime(); ok && !current.Equal(base) {
				return true
			}
		}
	}
}
