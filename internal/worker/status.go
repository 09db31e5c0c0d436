// Package worker implements the supervised-worker runtime: the per-worker
// status state machine, the worker kind registry, the supervised execution
// context, and the reconciliation loop converging the live worker set toward
// the configured one.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateOff      = "off"
	StateFailure  = "failure"
)

const (
	eventStart   = "start"
	eventRun     = "run"
	eventTurnOff = "turn_off"
	eventFail    = "fail"
)

type MiscEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// StatusEvent is the immutable view of a worker's status handed to
// StatusChangeCallback implementations and snapshot consumers.
type StatusEvent struct {
	Name            string      `json:"name"`
	State           string      `json:"state"`
	Previous        string      `json:"previous_state,omitempty"`
	Tags            []string    `json:"tags,omitempty"`
	Misc            []MiscEntry `json:"misc,omitempty"`
	Error           string      `json:"error,omitempty"`
	StartedRunning  time.Time   `json:"started_running,omitempty"`
	LastTimeRunning time.Time   `json:"last_time_running,omitempty"`
}

// StatusChangeCallback receives every state transition of every worker, in
// registration order. Fan-out is synchronous; a panicking callback is
// recovered and logged, never propagated into the worker that triggered it.
type StatusChangeCallback interface {
	StatusChanged(ev StatusEvent)
}

// Status is the externally observable state machine and telemetry of one
// worker. Mutated only by its owning worker, read by reporting workers
// through deep-copied snapshots.
type Status struct {
	name      string
	callbacks []StatusChangeCallback
	log       *zap.SugaredLogger

	mu             sync.Mutex
	machine        *fsm.FSM
	err            string
	miscKeys       []string
	misc           map[string]string
	tags           []string
	startedRunning time.Time
	lastRunning    time.Time

	fanMu sync.Mutex
}

// NewStatus builds a status record in the Starting state and delivers the
// synthetic Starting event to the callbacks.
func NewStatus(name string, tags []string, callbacks []StatusChangeCallback, log *zap.SugaredLogger) *Status {
	s := &Status{
		name:      name,
		callbacks: callbacks,
		log:       log,
		misc:      map[string]string{},
		tags:      append([]string(nil), tags...),
		machine: fsm.NewFSM(StateStarting, fsm.Events{
			{Name: eventStart, Src: []string{StateRunning, StateOff, StateFailure}, Dst: StateStarting},
			{Name: eventRun, Src: []string{StateStarting, StateOff, StateFailure}, Dst: StateRunning},
			{Name: eventTurnOff, Src: []string{StateStarting, StateRunning, StateFailure}, Dst: StateOff},
			{Name: eventFail, Src: []string{StateStarting, StateRunning, StateOff}, Dst: StateFailure},
		}, nil),
	}
	s.notify(s.eventLocked(""))
	return s
}

func (s *Status) Name() string { return s.name }

func (s *Status) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Current()
}

func (s *Status) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Status) Tags() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tags...)
}

func (s *Status) AddTag(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tags {
		if existing == tag {
			return
		}
	}
	s.tags = append(s.tags, tag)
}

func (s *Status) RemoveTag(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.tags {
		if existing == tag {
			s.tags = append(s.tags[:i], s.tags[i+1:]...)
			return
		}
	}
}

// SetMisc records a free-form telemetry key/value pair. Insertion order is
// preserved in snapshots.
func (s *Status) SetMisc(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.misc[key]; !ok {
		s.miscKeys = append(s.miscKeys, key)
	}
	s.misc[key] = value
}

func (s *Status) DelMisc(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.misc[key]; !ok {
		return
	}
	delete(s.misc, key)
	for i, k := range s.miscKeys {
		if k == key {
			s.miscKeys = append(s.miscKeys[:i], s.miscKeys[i+1:]...)
			break
		}
	}
}

// RunningFor returns how long the worker has been in the Running state.
func (s *Status) RunningFor() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedRunning.IsZero() {
		return 0, false
	}
	return time.Since(s.startedRunning), true
}

// Snapshot returns a deep-copied view of the record for reporting workers.
func (s *Status) Snapshot() StatusEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventLocked(s.machine.Current())
}

// SetStarting marks the beginning of a fresh execution context.
func (s *Status) SetStarting() {
	s.mu.Lock()
	prev := s.machine.Current()
	if prev == StateStarting {
		s.mu.Unlock()
		return
	}
	s.mustTransition(eventStart)
	ev := s.eventLocked(prev)
	s.mu.Unlock()
	s.notify(ev)
}

// SetRunning transitions to Running. The start-of-run timestamp is stamped
// only when entering Running from a non-running period.
func (s *Status) SetRunning() {
	s.mu.Lock()
	prev := s.machine.Current()
	s.err = ""
	if prev == StateRunning {
		s.mu.Unlock()
		return
	}
	if s.startedRunning.IsZero() {
		s.startedRunning = time.Now()
	}
	s.mustTransition(eventRun)
	ev := s.eventLocked(prev)
	s.mu.Unlock()
	s.notify(ev)
}

// SetOff transitions to Off after a cooperative stop.
func (s *Status) SetOff() {
	s.mu.Lock()
	prev := s.machine.Current()
	if prev == StateRunning {
		s.lastRunning = time.Now()
	}
	s.startedRunning = time.Time{}
	if prev == StateOff {
		s.mu.Unlock()
		return
	}
	s.mustTransition(eventTurnOff)
	ev := s.eventLocked(prev)
	s.mu.Unlock()
	s.notify(ev)
}

// SetFailure records the error and transitions to Failure.
func (s *Status) SetFailure(errMsg string) {
	s.mu.Lock()
	prev := s.machine.Current()
	if prev == StateRunning {
		s.lastRunning = time.Now()
	}
	s.startedRunning = time.Time{}
	s.err = errMsg
	if prev == StateFailure {
		s.mu.Unlock()
		return
	}
	s.mustTransition(eventFail)
	ev := s.eventLocked(prev)
	s.mu.Unlock()
	s.notify(ev)
}

func (s *Status) mustTransition(event string) {
	// The Set* guards make every remaining transition legal.
	if err := s.machine.Event(context.Background(), event); err != nil && s.log != nil {
		s.log.Errorf("status %q: transition %q: %s", s.name, event, err)
	}
}

func (s *Status) eventLocked(previous string) StatusEvent {
	misc := make([]MiscEntry, 0, len(s.miscKeys))
	for _, key := range s.miscKeys {
		misc = append(misc, MiscEntry{Key: key, Value: s.misc[key]})
	}
	return StatusEvent{
		Name:            s.name,
		State:           s.machine.Current(),
		Previous:        previous,
		Tags:            append([]string(nil), s.tags...),
		Misc:            misc,
		Error:           s.err,
		StartedRunning:  s.startedRunning,
		LastTimeRunning: s.lastRunning,
	}
}

func (s *Status) notify(ev StatusEvent) {
	s.fanMu.Lock()
	defer s.fanMu.Unlock()
	for _, cb := range s.callbacks {
		s.invoke(cb, ev)
	}
}

func (s *Status) invoke(cb StatusChangeCallback, ev StatusEvent) {
	defer func() {
		if r := recover(); r != nil && s.log != nil {
			s.log.Errorf("status callback panicked on %q -> %q for worker %q: %v", ev.Previous, ev.State, ev.Name, r)
		}
	}()
	cb.StatusChanged(ev)
}

// StatusRegistry holds one status record per live worker name and serves
// deep-copied snapshots to reporting workers.
type StatusRegistry struct {
	mu       sync.Mutex
	statuses map[string]*Status
}

func NewStatusRegistry() *StatusRegistry {
	return &StatusRegistry{statuses: map[string]*Status{}}
}

func (r *StatusRegistry) Add(st *Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[st.Name()] = st
}

func (r *StatusRegistry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.statuses, name)
}

func (r *StatusRegistry) Get(name string) *Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[name]
}

func (r *StatusRegistry) Snapshot() map[string]StatusEvent {
	r.mu.Lock()
	statuses := make([]*Status, 0, len(r.statuses))
	for _, st := range r.statuses {
		statuses = append(statuses, st)
	}
	r.mu.Unlock()

	// Snapshots are taken outside the registry lock: each record has its own.
	out := make(map[string]StatusEvent, len(statuses))
	for _, st := range statuses {
		out[st.Name()] = st.Snapshot()
	}
	return out
}
