// Package heartbeat implements a trivial worker kind that stamps a counter
// into its status telemetry on every iteration. Deployments use it as a
// liveness signal; tests use it as a stand-in for the domain workers.
package heartbeat

import (
	"context"
	"strconv"

	"github.com/astrohaus/stationd/internal/config"
	"github.com/astrohaus/stationd/internal/worker"
)

const Kind = "heartbeat"

type Worker struct {
	src   config.Source
	beats int
}

func New(src config.Source) (*Worker, error) {
	return &Worker{src: src}, nil
}

func (w *Worker) Name() string { return Kind }

func (w *Worker) Tags() []string { return []string{"pulse"} }

func (w *Worker) CheckConfig(src config.Source) error {
	sec, err := src.Section(Kind)
	if err != nil {
		return err
	}
	_, err = sec.Duration("update_every")
	return err
}

func (w *Worker) DeployTest(ctx context.Context) error { return nil }

func (w *Worker) Step(ctx context.Context, st *worker.Status) error {
	sec, err := w.src.Section(Kind)
	if err != nil {
		return err
	}
	every, err := sec.Duration("update_every")
	if err != nil {
		return err
	}

	w.beats++
	st.SetMisc("beats", strconv.Itoa(w.beats))

	worker.SleepInterruptible(ctx, w.src, every)
	return nil
}
