// Package remote connects the station to its operator: a websocket channel
// delivering command requests and carrying back results and status reports.
package remote

import (
	"github.com/astrohaus/stationd/internal/worker"
)

// CommandRequest is one command frame received from the operator. The token
// must match the station's configured one or the frame is rejected.
type CommandRequest struct {
	CommandID   string `json:"command_id"`
	CommandText string `json:"command_text"`
	AuthToken   string `json:"auth_token"`
}

// CommandResult reports a finished command back to the operator.
type CommandResult struct {
	CommandID   string `json:"command_id"`
	CommandText string `json:"command_text"`
	ExitCode    int    `json:"exit_code"`
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
}

// StatusReport is a full status snapshot of the station's workers.
type StatusReport struct {
	Station  string               `json:"station"`
	Statuses []worker.StatusEvent `json:"statuses"`
}
