// Package command executes operator-issued shell commands on the station, one
// at a time, and reports their outcome.
package command

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"
)

type State string

const (
	Pending State = "pending"
	Running State = "running"
	Done    State = "done"
)

// Command is one shell command issued to the station and, once executed, its
// outcome.
type Command struct {
	ID       string `json:"command_id"`
	Text     string `json:"command_text"`
	State    State  `json:"state"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Run is a command executing on its own goroutine. The executor polls
// Finished between steps instead of blocking on the process.
type Run struct {
	started time.Time
	done    chan struct{}

	mu     sync.Mutex
	result Command
}

// Start launches the command under "/bin/sh -c". Canceling ctx kills the
// process.
func Start(ctx context.Context, c Command) *Run {
	r := &Run{started: time.Now(), done: make(chan struct{})}
	c.State = Running
	r.result = c

	go func() {
		defer close(r.done)

		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", c.Text)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		exitCode := 0
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		if err != nil && cmd.ProcessState == nil {
			// The process never started, e.g. no shell.
			exitCode = -1
			stderr.WriteString(err.Error())
		}

		r.mu.Lock()
		r.result.State = Done
		r.result.ExitCode = exitCode
		r.result.Stdout = strings.TrimRight(stdout.String(), "\n")
		r.result.Stderr = strings.TrimRight(stderr.String(), "\n")
		r.mu.Unlock()
	}()
	return r
}

func (r *Run) Finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Done is closed when the process has exited and the result is final.
func (r *Run) Done() <-chan struct{} { return r.done }

// Result returns the command with its current state. It is only final once
// Finished reports true.
func (r *Run) Result() Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Age is the time since the command was launched.
func (r *Run) Age() time.Duration { return time.Since(r.started) }
