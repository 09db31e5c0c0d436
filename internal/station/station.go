// Package station assembles the runtime shared by stationd and stationctl:
// the worker kind registry with every built-in kind wired to its
// collaborators, the status registry, and the command inbox.
package station

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/astrohaus/stationd/internal/command"
	"github.com/astrohaus/stationd/internal/config"
	"github.com/astrohaus/stationd/internal/distrib"
	"github.com/astrohaus/stationd/internal/heartbeat"
	"github.com/astrohaus/stationd/internal/remote"
	"github.com/astrohaus/stationd/internal/worker"
)

const (
	// ConfigAlias is the stable filename the adopted versioned configuration
	// is reachable under.
	ConfigAlias = "station_config.toml"
	// ConfigStem prefixes every versioned configuration filename.
	ConfigStem = "station_config"
)

type Options struct {
	ConfigDir string
	Locks     *config.LockSet
	Vars      map[string]string
	Log       *zap.SugaredLogger
}

// Runtime is the wired station: one registry of worker kinds plus the shared
// pieces they collaborate through.
type Runtime struct {
	Kinds     *worker.Registry
	Statuses  *worker.StatusRegistry
	Inbox     *command.Inbox
	Channel   *remote.Channel
	Callbacks []worker.StatusChangeCallback
}

// New builds the runtime around src. The operator channel is a singleton: the
// channel worker, the command executor's result callback and the status
// pusher all share one connection.
func New(src config.Source, opts Options) *Runtime {
	if opts.Locks == nil {
		opts.Locks = config.NewLockSet()
	}

	kinds := worker.NewRegistry()
	statuses := worker.NewStatusRegistry()
	inbox := &command.Inbox{}
	channel := remote.NewChannel(src, inbox, opts.Log)

	rt := &Runtime{
		Kinds:     kinds,
		Statuses:  statuses,
		Inbox:     inbox,
		Channel:   channel,
		Callbacks: []worker.StatusChangeCallback{channel},
	}

	kinds.Register(heartbeat.Kind, func(s config.Source) (worker.Runner, error) {
		return heartbeat.New(s)
	})

	kinds.Register(distrib.Kind, func(s config.Source) (worker.Runner, error) {
		return distrib.New(distrib.Options{
			Source: s,
			Kinds:  kinds,
			Locks:  opts.Locks,
			Dir:    opts.ConfigDir,
			Alias:  ConfigAlias,
			Stem:   ConfigStem,
			Vars:   opts.Vars,
			Log:    opts.Log,
		})
	})

	kinds.Register(remote.Kind, func(s config.Source) (worker.Runner, error) {
		return channel, nil
	})

	kinds.Register(remote.PusherKind, func(s config.Source) (worker.Runner, error) {
		return remote.NewPusher(s, statuses, channel), nil
	})

	kinds.Register(command.Kind, func(s config.Source) (worker.Runner, error) {
		sec, err := s.Section(command.Kind)
		if err != nil {
			return nil, err
		}
		folder, err := sec.String("folder")
		if err != nil {
			return nil, err
		}

		var commands command.Source = inbox
		if _, present := sec["source"]; present {
			name, err := sec.String("source")
			if err != nil {
				return nil, err
			}
			switch name {
			case "filedrop":
				commands = &command.FileDrop{Dir: folder}
			case "channel":
			default:
				return nil, fmt.Errorf("%q is not a command source (expected filedrop or channel)", name)
			}
		}

		return command.NewExecutor(command.Options{
			Source:    s,
			Commands:  commands,
			Marker:    command.NewMarker(folder),
			Callbacks: []command.ResultCallback{channel},
			Log:       opts.Log,
		}), nil
	})

	return rt
}
