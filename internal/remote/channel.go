package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/astrohaus/stationd/internal/command"
	"github.com/astrohaus/stationd/internal/config"
	"github.com/astrohaus/stationd/internal/faults"
	"github.com/astrohaus/stationd/internal/worker"
)

// Kind is the configuration key under which the channel worker is declared.
const Kind = "channel"

const dialTimeout = 10 * time.Second

type channelSettings struct {
	URL       string
	Token     string
	PollEvery time.Duration
}

func readChannelSettings(src config.Source) (channelSettings, error) {
	sec, err := src.Section(Kind)
	if err != nil {
		return channelSettings{}, err
	}
	url, err := sec.String("url")
	if err != nil {
		return channelSettings{}, err
	}
	token, err := sec.String("token")
	if err != nil {
		return channelSettings{}, err
	}
	every, err := sec.Duration("poll_every")
	if err != nil {
		return channelSettings{}, err
	}
	return channelSettings{URL: url, Token: token, PollEvery: every}, nil
}

// conn is one live websocket connection with its reader goroutine. A fresh
// pair of channels per connection keeps stale frames from a previous
// connection out of the step loop. done is closed on disconnect so the
// reader never blocks forever on a buffered frame nobody will drain.
type conn struct {
	ws   *websocket.Conn
	msgs chan CommandRequest
	errs chan error
	done chan struct{}
}

func newConn(ws *websocket.Conn) *conn {
	c := &conn{
		ws:   ws,
		msgs: make(chan CommandRequest, 1),
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}
	go func() {
		for {
			var msg CommandRequest
			if err := ws.ReadJSON(&msg); err != nil {
				select {
				case c.errs <- err:
				case <-c.done:
				}
				return
			}
			select {
			case c.msgs <- msg:
			case <-c.done:
				return
			}
		}
	}()
	return c
}

// Channel is the worker maintaining the operator connection. Incoming command
// frames are token-checked and deposited into the executor's inbox; finished
// commands and status reports travel the other way. A broken connection fails
// the worker and supervision revives it, which reconnects.
type Channel struct {
	src   config.Source
	inbox *command.Inbox
	log   *zap.SugaredLogger

	mu     sync.Mutex
	active *conn
}

func NewChannel(src config.Source, inbox *command.Inbox, log *zap.SugaredLogger) *Channel {
	return &Channel{src: src, inbox: inbox, log: log}
}

func (c *Channel) Name() string { return Kind }

func (c *Channel) Tags() []string { return []string{"operator"} }

func (c *Channel) CheckConfig(src config.Source) error {
	_, err := readChannelSettings(src)
	return err
}

// DeployTest dials the operator once and hangs up.
func (c *Channel) DeployTest(ctx context.Context) error {
	cfg, err := readChannelSettings(c.src)
	if err != nil {
		return err
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dialing the operator at %s: %w", cfg.URL, err)
	}
	return ws.Close()
}

func (c *Channel) Step(ctx context.Context, st *worker.Status) error {
	cfg, err := readChannelSettings(c.src)
	if err != nil {
		return err
	}

	active := c.connection()
	if active == nil {
		if active, err = c.connect(ctx, cfg.URL); err != nil {
			return err
		}
		st.SetMisc("connected", cfg.URL)
	}

	select {
	case <-ctx.Done():
		c.disconnect()
		return nil
	case msg := <-active.msgs:
		if msg.AuthToken != cfg.Token {
			c.disconnect()
			return faults.Errorf(faults.Authentication,
				"rejecting command %s: the auth token does not match", msg.CommandID)
		}
		c.inbox.Put(command.NewRequest(msg.CommandID, msg.CommandText))
		st.SetMisc("last_command", msg.CommandText)
		return nil
	case err := <-active.errs:
		c.disconnect()
		return fmt.Errorf("reading from the operator channel: %w", err)
	case <-time.After(cfg.PollEvery):
		return nil
	}
}

// OnExit hangs up when the worker is stopped cooperatively.
func (c *Channel) OnExit() { c.disconnect() }

func (c *Channel) connection() *conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Channel) connect(ctx context.Context, url string) (*conn, error) {
	var ws *websocket.Conn
	dial := func() error {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		var err error
		ws, _, err = websocket.DefaultDialer.DialContext(dialCtx, url, nil)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(dial, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("dialing the operator at %s: %w", url, err)
	}
	c.log.Infof("connected to the operator at %s", url)

	active := newConn(ws)
	c.mu.Lock()
	c.active = active
	c.mu.Unlock()
	return active, nil
}

func (c *Channel) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		close(c.active.done)
		c.active.ws.Close()
		c.active = nil
	}
}

func (c *Channel) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return fmt.Errorf("the operator channel is not connected")
	}
	return c.active.ws.WriteJSON(v)
}

// CommandFinished reports a finished command to the operator. Implements the
// executor's result callback.
func (c *Channel) CommandFinished(cmd command.Command) {
	result := CommandResult{
		CommandID:   cmd.ID,
		CommandText: cmd.Text,
		ExitCode:    cmd.ExitCode,
		Stdout:      cmd.Stdout,
		Stderr:      cmd.Stderr,
	}
	if err := c.writeJSON(result); err != nil {
		c.log.Errorf("failed to report command %s to the operator: %s", cmd.ID, err)
	}
}

// StatusChanged forwards a single status transition to the operator, best
// effort: transitions while disconnected are simply not sent (the status
// pusher uploads full snapshots anyway).
func (c *Channel) StatusChanged(ev worker.StatusEvent) {
	if err := c.writeJSON(ev); err != nil {
		c.log.Debugf("not forwarding status transition of %q: %s", ev.Name, err)
	}
}

// PushStatus uploads a status report over the channel.
func (c *Channel) PushStatus(report StatusReport) error {
	if err := c.writeJSON(report); err != nil {
		return fmt.Errorf("pushing the status report: %w", err)
	}
	return nil
}
