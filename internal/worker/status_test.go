package worker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingCallback struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (r *recordingCallback) StatusChanged(ev StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingCallback) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.State
	}
	return out
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestStatusCallbackFiresOnlyOnChange(t *testing.T) {
	rec := &recordingCallback{}
	st := NewStatus("cam", nil, []StatusChangeCallback{rec}, testLogger())

	// synthetic starting event on construction
	assert.Equal(t, []string{StateStarting}, rec.states())

	st.SetRunning()
	st.SetRunning() // no transition, no callback
	st.SetOff()
	st.SetOff()
	st.SetFailure("boom")
	st.SetFailure("boom again")

	assert.Equal(t, []string{StateStarting, StateRunning, StateOff, StateFailure}, rec.states())
	assert.Equal(t, "boom again", st.Error())
}

func TestStatusCallbackCarriesPreviousState(t *testing.T) {
	rec := &recordingCallback{}
	st := NewStatus("cam", []string{"imaging"}, []StatusChangeCallback{rec}, testLogger())

	st.SetRunning()
	st.SetFailure("boom")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 3)
	assert.Equal(t, "", rec.events[0].Previous)
	assert.Equal(t, StateStarting, rec.events[1].Previous)
	assert.Equal(t, StateRunning, rec.events[2].Previous)
	assert.Equal(t, "boom", rec.events[2].Error)
	assert.Equal(t, []string{"imaging"}, rec.events[2].Tags)
	assert.False(t, rec.events[2].LastTimeRunning.IsZero())
}

func TestStatusStartedRunningIffRunning(t *testing.T) {
	st := NewStatus("cam", nil, nil, testLogger())

	_, running := st.RunningFor()
	assert.False(t, running)

	st.SetRunning()
	_, running = st.RunningFor()
	assert.True(t, running)

	st.SetOff()
	_, running = st.RunningFor()
	assert.False(t, running)

	st.SetRunning()
	st.SetFailure("boom")
	_, running = st.RunningFor()
	assert.False(t, running)
}

func TestStatusMiscPreservesInsertionOrder(t *testing.T) {
	st := NewStatus("cam", nil, nil, testLogger())
	st.SetMisc("b", "1")
	st.SetMisc("a", "2")
	st.SetMisc("b", "3") // update in place, keeps position

	snap := st.Snapshot()
	assert.Equal(t, []MiscEntry{{Key: "b", Value: "3"}, {Key: "a", Value: "2"}}, snap.Misc)

	st.DelMisc("b")
	snap = st.Snapshot()
	assert.Equal(t, []MiscEntry{{Key: "a", Value: "2"}}, snap.Misc)
}

func TestStatusTags(t *testing.T) {
	st := NewStatus("cam", []string{"imaging"}, nil, testLogger())
	st.AddTag("slow")
	st.AddTag("slow") // no duplicates
	assert.Equal(t, []string{"imaging", "slow"}, st.Tags())

	st.RemoveTag("imaging")
	assert.Equal(t, []string{"slow"}, st.Tags())
	st.RemoveTag("missing")
	assert.Equal(t, []string{"slow"}, st.Tags())
}

type panickyCallback struct{}

func (panickyCallback) StatusChanged(StatusEvent) { panic("callback bug") }

func TestStatusCallbackPanicDoesNotPropagate(t *testing.T) {
	rec := &recordingCallback{}
	st := NewStatus("cam", nil, []StatusChangeCallback{panickyCallback{}, rec}, testLogger())

	assert.NotPanics(t, func() { st.SetRunning() })
	// later callbacks in the list still ran
	assert.Equal(t, []string{StateStarting, StateRunning}, rec.states())
}

func TestStatusRegistrySnapshot(t *testing.T) {
	reg := NewStatusRegistry()
	a := NewStatus("a", nil, nil, testLogger())
	b := NewStatus("b", nil, nil, testLogger())
	reg.Add(a)
	reg.Add(b)
	a.SetRunning()

	snap := reg.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, StateRunning, snap["a"].State)
	assert.Equal(t, StateStarting, snap["b"].State)

	reg.Remove("a")
	assert.Len(t, reg.Snapshot(), 1)
	assert.Nil(t, reg.Get("a"))
	assert.NotNil(t, reg.Get("b"))
}
