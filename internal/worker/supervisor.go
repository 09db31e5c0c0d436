package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/astrohaus/stationd/internal/concurrency"
	"github.com/astrohaus/stationd/internal/config"
)

// DefaultStopTimeout bounds how long shutdown waits for a single worker. A
// hung step is abandoned (and its goroutine leaked) after this much time
// rather than blocking the whole process forever.
const DefaultStopTimeout = 30 * time.Second

type SupervisorConfig struct {
	Source      config.Source
	Kinds       *Registry
	Statuses    *StatusRegistry
	Callbacks   []StatusChangeCallback
	Log         *zap.SugaredLogger
	StopTimeout time.Duration
}

// Supervisor periodically converges the set of live workers toward the set
// declared by the configuration document.
type Supervisor struct {
	src         config.Source
	kinds       *Registry
	statuses    *StatusRegistry
	callbacks   []StatusChangeCallback
	log         *zap.SugaredLogger
	stopTimeout time.Duration

	mu   sync.Mutex
	live map[string]*Supervised
}

func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.Statuses == nil {
		cfg.Statuses = NewStatusRegistry()
	}
	return &Supervisor{
		src:         cfg.Source,
		kinds:       cfg.Kinds,
		statuses:    cfg.Statuses,
		callbacks:   cfg.Callbacks,
		log:         cfg.Log,
		stopTimeout: cfg.StopTimeout,
		live:        map[string]*Supervised{},
	}
}

func (s *Supervisor) Statuses() *StatusRegistry { return s.statuses }

// Actions describes what one reconciliation cycle did, for logging and
// tests.
type Actions struct {
	Started []string
	Stopped []string
	Revived []string
}

// Run reconciles on a fixed period read once from the main configuration key
// and performs an orderly shutdown when ctx is canceled. It returns an error
// only for an unrecoverable startup failure.
func (s *Supervisor) Run(ctx context.Context) error {
	main, err := s.src.Section(config.MainKey)
	if err != nil {
		return fmt.Errorf("reading main configuration: %w", err)
	}
	period, err := main.Duration("period")
	if err != nil {
		return fmt.Errorf("reading main configuration: %w", err)
	}

	s.log.Infof("supervisor starting, reconciling every %s", period)
	for {
		s.Reconcile()

		timer := time.NewTimer(concurrency.Jitter(period))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("supervisor requested to stop")
			s.Shutdown()
			return nil
		case <-timer.C:
		}
	}
}

// Reconcile runs one cycle: stop workers no longer desired, start newly
// desired ones, revive crashed survivors. Per-key resolution failures are
// logged and never abort the cycle.
func (s *Supervisor) Reconcile() Actions {
	var acts Actions

	doc, err := s.src.Global()
	if err != nil {
		s.log.Errorf("skipping reconcile cycle, failed to read the configuration: %s", err)
		return acts
	}

	desired := map[string]Factory{}
	for _, key := range sortedKeys[config.Section](doc) {
		if key == config.MainKey {
			continue
		}
		factory, ok := s.kinds.Resolve(key)
		if !ok {
			s.log.Errorf("configuration error: key %q does not name a registered worker kind", key)
			continue
		}
		desired[key] = factory
	}

	// Stop and drop workers whose key is no longer desired. The registry
	// lock covers only the bookkeeping; the (possibly slow) stops happen
	// outside it.
	s.mu.Lock()
	undesired := map[string]*Supervised{}
	for key, w := range s.live {
		if _, ok := desired[key]; !ok {
			undesired[key] = w
			delete(s.live, key)
		}
	}
	s.mu.Unlock()

	for _, key := range sortedKeys(undesired) {
		w := undesired[key]
		s.log.Infof("stopping worker %q", w.Name())
		s.stopWorker(w)
		s.statuses.Remove(w.Name())
		acts.Stopped = append(acts.Stopped, key)
	}

	// Start workers newly desired.
	for _, key := range sortedKeys(desired) {
		s.mu.Lock()
		_, exists := s.live[key]
		s.mu.Unlock()
		if exists {
			continue
		}

		runner, err := desired[key](s.src)
		if err != nil {
			s.log.Errorf("failed to instantiate worker for key %q: %s", key, err)
			continue
		}

		s.log.Infof("starting worker %q", runner.Name())
		status := NewStatus(runner.Name(), runner.Tags(), s.callbacks, s.log)
		w := NewSupervised(runner, status, s.log)
		s.statuses.Add(status)
		s.mu.Lock()
		s.live[key] = w
		s.mu.Unlock()
		w.Start()
		acts.Started = append(acts.Started, key)
	}

	// Revive workers whose execution context died since the last cycle.
	s.mu.Lock()
	survivors := make([]*Supervised, 0, len(s.live))
	for _, w := range s.live {
		survivors = append(survivors, w)
	}
	s.mu.Unlock()
	for _, w := range survivors {
		if !w.Alive() {
			acts.Revived = append(acts.Revived, w.Name())
		}
		w.Revive()
	}

	return acts
}

// Shutdown stops every live worker concurrently and waits for all of them,
// bounding total shutdown time by the slowest single worker rather than
// their sum.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	workers := make([]*Supervised, 0, len(s.live))
	for _, w := range s.live {
		workers = append(workers, w)
	}
	s.live = map[string]*Supervised{}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Supervised) {
			defer wg.Done()
			s.log.Infof("sending stop request to worker %q", w.Name())
			s.stopWorker(w)
		}(w)
	}
	wg.Wait()

	for _, w := range workers {
		s.statuses.Remove(w.Name())
	}
}

func (s *Supervisor) stopWorker(w *Supervised) {
	ctx, done := context.WithTimeout(context.Background(), s.stopTimeout)
	defer done()
	if err := w.Stop(ctx); err != nil {
		s.log.Errorf("abandoning worker: %s", err)
		return
	}
	s.log.Infof("worker %q stopped", w.Name())
}

// LiveWorkers returns the keys of the currently live worker set, sorted.
func (s *Supervisor) LiveWorkers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.live)
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
