package remote

import (
	"context"
	"os"
	"sort"
	"strconv"

	"github.com/astrohaus/stationd/internal/config"
	"github.com/astrohaus/stationd/internal/worker"
)

// PusherKind is the configuration key under which the status pusher worker is
// declared.
const PusherKind = "statuspush"

// Pusher periodically uploads the full status snapshot of all workers over
// the operator channel.
type Pusher struct {
	src      config.Source
	statuses *worker.StatusRegistry
	channel  *Channel
}

func NewPusher(src config.Source, statuses *worker.StatusRegistry, channel *Channel) *Pusher {
	return &Pusher{src: src, statuses: statuses, channel: channel}
}

func (p *Pusher) Name() string { return PusherKind }

func (p *Pusher) Tags() []string { return []string{"operator"} }

func (p *Pusher) CheckConfig(src config.Source) error {
	sec, err := src.Section(PusherKind)
	if err != nil {
		return err
	}
	_, err = sec.Duration("update_every")
	return err
}

func (p *Pusher) DeployTest(ctx context.Context) error { return nil }

func (p *Pusher) Step(ctx context.Context, st *worker.Status) error {
	sec, err := p.src.Section(PusherKind)
	if err != nil {
		return err
	}
	every, err := sec.Duration("update_every")
	if err != nil {
		return err
	}

	report := p.report()
	if err := p.channel.PushStatus(report); err != nil {
		return err
	}
	st.SetMisc("pushed", strconv.Itoa(len(report.Statuses)))

	worker.SleepInterruptible(ctx, p.src, every)
	return nil
}

// report assembles the snapshot with a stable worker order.
func (p *Pusher) report() StatusReport {
	snapshot := p.statuses.Snapshot()
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	events := make([]worker.StatusEvent, 0, len(names))
	for _, name := range names {
		events = append(events, snapshot[name])
	}
	return StatusReport{Station: stationName(p.src), Statuses: events}
}

// stationName reads the station's name from the main configuration, falling
// back to the hostname.
func stationName(src config.Source) string {
	if sec, err := src.Section(config.MainKey); err == nil {
		if name, err := sec.String("station"); err == nil {
			return name
		}
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "station"
	}
	return hostname
}
