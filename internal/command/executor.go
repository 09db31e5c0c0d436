package command

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/astrohaus/stationd/internal/config"
	"github.com/astrohaus/stationd/internal/worker"
)

// Kind is the configuration key under which the executor worker is declared.
const Kind = "commands"

// ResultCallback receives every finished command exactly once.
type ResultCallback interface {
	CommandFinished(c Command)
}

// Options wires an Executor to its request source and result sinks.
type Options struct {
	Source    config.Source
	Commands  Source
	Marker    *Marker
	Callbacks []ResultCallback
	Log       *zap.SugaredLogger
}

// Executor runs at most one command at a time. An accepted request executes
// on its own goroutine so the step loop keeps reporting progress; requests
// observed while one is in flight are ignored rather than queued.
type Executor struct {
	opts Options

	inflight *Run
	current  *Request
}

func NewExecutor(opts Options) *Executor {
	return &Executor{opts: opts}
}

func (e *Executor) Name() string { return Kind }

func (e *Executor) Tags() []string { return []string{"command"} }

func (e *Executor) CheckConfig(src config.Source) error {
	sec, err := src.Section(Kind)
	if err != nil {
		return err
	}
	_, err = sec.Duration("poll_every")
	return err
}

// DeployTest executes a trivial shell command end to end and verifies the
// marker file is writable.
func (e *Executor) DeployTest(ctx context.Context) error {
	run := Start(ctx, Command{ID: "deploy-test", Text: "true"})
	select {
	case <-run.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if result := run.Result(); result.ExitCode != 0 {
		return fmt.Errorf("failed to execute a trivial shell command: exit code %d: %s",
			result.ExitCode, result.Stderr)
	}

	last := e.opts.Marker.Last()
	return e.opts.Marker.Set(last)
}

func (e *Executor) Step(ctx context.Context, st *worker.Status) error {
	sec, err := e.opts.Source.Section(Kind)
	if err != nil {
		return err
	}
	every, err := sec.Duration("poll_every")
	if err != nil {
		return err
	}

	if err := e.tick(ctx, st); err != nil {
		return err
	}

	worker.Sleep(ctx, every)
	return nil
}

// tick is one poll iteration: settle a finished run, report an ongoing one,
// or accept the next request.
func (e *Executor) tick(ctx context.Context, st *worker.Status) error {
	if e.inflight != nil {
		if !e.inflight.Finished() {
			st.SetMisc("running", fmt.Sprintf("%q for %s",
				e.current.Text, e.inflight.Age().Round(time.Second)))
			return nil
		}
		return e.settle(st)
	}

	req, err := e.opts.Commands.Poll(ctx)
	if err != nil {
		return err
	}
	if req == nil {
		return nil
	}

	if req.Key != "" && req.Key == e.opts.Marker.Last() {
		e.opts.Log.Debugf("ignoring command %q: already executed", req.Text)
		if err := req.Consume(); err != nil {
			return fmt.Errorf("discarding duplicate command: %w", err)
		}
		return nil
	}

	e.opts.Log.Infof("executing command %q", req.Text)
	e.current = req
	e.inflight = Start(ctx, Command{ID: req.ID, Text: req.Text})
	st.SetMisc("running", fmt.Sprintf("%q for 0s", req.Text))
	return nil
}

// settle emits the finished result once, records the request in the marker
// file and clears the in-flight slot. The slot is cleared before the result
// callbacks and the marker write: a failure in either must not re-enter
// settle after revival and emit the result a second time.
func (e *Executor) settle(st *worker.Status) error {
	result := e.inflight.Result()
	req := e.current
	e.inflight = nil
	e.current = nil

	st.DelMisc("running")
	st.SetMisc("last", fmt.Sprintf("%q exited %d", result.Text, result.ExitCode))
	e.opts.Log.Infof("command %q finished with exit code %d", result.Text, result.ExitCode)

	for _, cb := range e.opts.Callbacks {
		cb.CommandFinished(result)
	}

	if req.Key != "" {
		if err := e.opts.Marker.Set(req.Key); err != nil {
			return err
		}
	}
	if err := req.Consume(); err != nil {
		return fmt.Errorf("removing consumed command request: %w", err)
	}
	return nil
}
