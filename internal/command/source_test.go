package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDropEmpty(t *testing.T) {
	drop := &FileDrop{Dir: t.TempDir()}
	req, err := drop.Poll(context.Background())
	require.NoError(t, err)
	assert.Nil(t, req)
}

func TestFileDropSingle(t *testing.T) {
	dir := t.TempDir()
	dropCommand(t, dir, "command_1.txt", "  uptime  ")

	drop := &FileDrop{Dir: dir}
	req, err := drop.Poll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "uptime", req.Text)
	assert.Equal(t, "uptime", req.Key)
	assert.NotEmpty(t, req.ID)

	require.NoError(t, req.Consume())
	again, err := drop.Poll(context.Background())
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestFileDropMultipleIsError(t *testing.T) {
	dir := t.TempDir()
	dropCommand(t, dir, "command_1.txt", "uptime")
	dropCommand(t, dir, "command_2.txt", "date")

	drop := &FileDrop{Dir: dir}
	_, err := drop.Poll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command_1.txt")
	assert.Contains(t, err.Error(), "command_2.txt")
}

func TestInboxReplacesPending(t *testing.T) {
	inbox := &Inbox{}

	req, err := inbox.Poll(context.Background())
	require.NoError(t, err)
	assert.Nil(t, req)

	inbox.Put(&Request{ID: "1", Text: "uptime"})
	inbox.Put(&Request{ID: "2", Text: "date"})

	req, err = inbox.Poll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "2", req.ID)

	req, err = inbox.Poll(context.Background())
	require.NoError(t, err)
	assert.Nil(t, req)
}

func TestMarkerRoundTrip(t *testing.T) {
	dir := t.TempDir()

	m := NewMarker(dir)
	assert.Equal(t, "", m.Last())

	require.NoError(t, m.Set("echo hi"))
	assert.Equal(t, "echo hi", m.Last())

	// A new instance over the same folder sees the recorded key.
	assert.Equal(t, "echo hi", NewMarker(dir).Last())
}

func TestRunCapturesOutcome(t *testing.T) {
	run := Start(context.Background(), Command{ID: "1", Text: "echo out; echo err >&2; exit 3"})
	<-run.Done()

	result := run.Result()
	assert.Equal(t, Done, result.State)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "out", result.Stdout)
	assert.Equal(t, "err", result.Stderr)
	assert.True(t, run.Finished())
}
