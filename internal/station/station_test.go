package station

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/astrohaus/stationd/internal/config"
	"github.com/astrohaus/stationd/internal/worker"
)

func fullDocument(dir string) config.Document {
	return config.Document{
		"main":        {"period": 30.0, "station": "obs-1"},
		"heartbeat":   {"update_every": 60.0},
		"distributor": {"url": "http://operator/configs", "update_every": 600.0},
		"commands":    {"poll_every": 1.0, "folder": dir, "source": "filedrop"},
		"channel":     {"url": "ws://operator/channel", "token": "secret", "poll_every": 5.0},
		"statuspush":  {"update_every": 120.0},
	}
}

func TestRuntimeValidatesFullDocument(t *testing.T) {
	dir := t.TempDir()
	src := config.NewMemory(fullDocument(dir))
	rt := New(src, Options{ConfigDir: dir, Log: zap.NewNop().Sugar()})

	require.NoError(t, worker.ValidateDocument(src, rt.Kinds))
}

func TestRuntimeResolvesSuffixedKeys(t *testing.T) {
	dir := t.TempDir()
	doc := fullDocument(dir)
	doc["night.heartbeat"] = doc["heartbeat"]
	delete(doc, "heartbeat")
	src := config.NewMemory(doc)
	rt := New(src, Options{ConfigDir: dir, Log: zap.NewNop().Sugar()})

	require.NoError(t, worker.ValidateDocument(src, rt.Kinds))
	_, ok := rt.Kinds.Resolve("night.heartbeat")
	assert.True(t, ok)
}

func TestRuntimeRejectsBadDocuments(t *testing.T) {
	dir := t.TempDir()
	rt := New(config.NewMemory(fullDocument(dir)), Options{ConfigDir: dir, Log: zap.NewNop().Sugar()})

	unknownKind := fullDocument(dir)
	unknownKind["telescope"] = config.Section{"update_every": 1.0}
	err := worker.ValidateDocument(config.NewMemory(unknownKind), rt.Kinds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telescope")

	badSource := fullDocument(dir)
	badSource["commands"] = config.Section{"poll_every": 1.0, "folder": dir, "source": "pigeon"}
	err = worker.ValidateDocument(config.NewMemory(badSource), rt.Kinds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pigeon")

	// A mistyped source value is an error, not a silent fallback.
	mistyped := fullDocument(dir)
	mistyped["commands"] = config.Section{"poll_every": 1.0, "folder": dir, "source": int64(42)}
	err = worker.ValidateDocument(config.NewMemory(mistyped), rt.Kinds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source")
}

func TestRuntimeKinds(t *testing.T) {
	dir := t.TempDir()
	rt := New(config.NewMemory(fullDocument(dir)), Options{ConfigDir: dir, Log: zap.NewNop().Sugar()})
	assert.Equal(t, []string{"channel", "commands", "distributor", "heartbeat", "statuspush"}, rt.Kinds.Kinds())
}
