package distrib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/astrohaus/stationd/internal/config"
	"github.com/astrohaus/stationd/internal/faults"
	"github.com/astrohaus/stationd/internal/worker"
)

// Kind is the configuration key under which the distributor worker is
// declared.
const Kind = "distributor"

const defaultFetchTimeout = 10 * time.Second

type settings struct {
	URL         string
	UpdateEvery time.Duration
}

func readSettings(src config.Source) (settings, error) {
	sec, err := src.Section(Kind)
	if err != nil {
		return settings{}, err
	}
	url, err := sec.String("url")
	if err != nil {
		return settings{}, err
	}
	every, err := sec.Duration("update_every")
	if err != nil {
		return settings{}, err
	}
	return settings{URL: url, UpdateEvery: every}, nil
}

// Options wires a Distributor to the station's configuration folder.
type Options struct {
	Source config.Source
	Kinds  *worker.Registry
	Locks  *config.LockSet
	Dir    string            // configuration folder
	Alias  string            // stable alias filename, e.g. "station_config.toml"
	Stem   string            // versioned filename stem, e.g. "station_config"
	Vars   map[string]string // template variables for validation parses
	Log    *zap.SugaredLogger

	// NewStore overrides the remote store construction, for tests.
	NewStore func(url string) Store
}

// Distributor is the worker that keeps the station on the newest valid
// versioned configuration. A bad remote file never replaces a working local
// one: the alias repoints only after the candidate fully validates.
type Distributor struct {
	opts Options
}

func New(opts Options) (*Distributor, error) {
	if opts.NewStore == nil {
		opts.NewStore = func(url string) Store { return NewHTTPStore(url, defaultFetchTimeout) }
	}
	return &Distributor{opts: opts}, nil
}

func (d *Distributor) Name() string { return "configuration" }

func (d *Distributor) Tags() []string { return []string{"config"} }

func (d *Distributor) CheckConfig(src config.Source) error {
	_, err := readSettings(src)
	return err
}

// DeployTest verifies the remote source is reachable, serves at least one
// versioned configuration file, and that the best one validates.
func (d *Distributor) DeployTest(ctx context.Context) error {
	cfg, err := readSettings(d.opts.Source)
	if err != nil {
		return err
	}
	store := d.opts.NewStore(cfg.URL)

	names, err := store.List(ctx)
	if err != nil {
		return err
	}
	remote := d.filterVersioned(names)
	if len(remote) == 0 {
		return fmt.Errorf("failed to find any versioned configuration file at %s", cfg.URL)
	}
	best, err := config.BestVersioned(remote)
	if err != nil {
		return err
	}

	tmp, err := os.MkdirTemp("", "stationd-deploytest-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	if err := store.Fetch(ctx, best, tmp); err != nil {
		return err
	}
	return worker.ValidateFile(filepath.Join(tmp, best), d.opts.Vars, d.opts.Kinds)
}

func (d *Distributor) Step(ctx context.Context, st *worker.Status) error {
	cfg, err := readSettings(d.opts.Source)
	if err != nil {
		return err
	}

	if current, err := config.CurrentFile(d.opts.Dir, d.opts.Alias); err == nil {
		st.SetMisc("current", current)
	}

	if err := d.refresh(ctx, d.opts.NewStore(cfg.URL), st); err != nil {
		return err
	}

	worker.SleepInterruptible(ctx, d.opts.Source, cfg.UpdateEvery)
	return nil
}

// refresh downloads and adopts a newer remote configuration, if any.
// Transport failures are returned (the worker fails and is revived);
// validation failures only discard the candidate.
func (d *Distributor) refresh(ctx context.Context, store Store, st *worker.Status) error {
	names, err := store.List(ctx)
	if err != nil {
		return err
	}
	remote := d.filterVersioned(names)
	if len(remote) == 0 {
		return nil
	}

	bestRemote, err := config.BestVersioned(remote)
	if err != nil {
		return err
	}
	remoteVersion, err := config.ParseVersion(bestRemote)
	if err != nil {
		return err
	}

	local, err := config.ListVersioned(d.opts.Dir, d.opts.Stem)
	if err != nil {
		return err
	}
	if len(local) > 0 {
		bestLocal, err := config.BestVersioned(local)
		if err != nil {
			return err
		}
		localVersion, err := config.ParseVersion(bestLocal)
		if err != nil {
			return err
		}
		if localVersion >= remoteVersion {
			return nil
		}
	}

	d.opts.Log.Infof("found a newer configuration file %q, fetching", bestRemote)

	tmp, err := os.MkdirTemp(d.opts.Dir, ".incoming-*")
	if err != nil {
		return fmt.Errorf("creating download folder: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := store.Fetch(ctx, bestRemote, tmp); err != nil {
		return faults.Errorf(faults.Distribution, "%s", err)
	}

	candidate := filepath.Join(tmp, bestRemote)
	if err := worker.ValidateFile(candidate, d.opts.Vars, d.opts.Kinds); err != nil {
		// The invalid file is discarded with the temp folder; the alias is
		// left untouched.
		d.opts.Log.Errorf("%s", faults.Errorf(faults.Distribution,
			"the downloaded configuration file %q has issues and will not be used: %s", bestRemote, err))
		return nil
	}

	// Move into the configuration folder, then repoint the alias and
	// garbage-collect superseded versions under the shared file lock.
	if err := os.Rename(candidate, filepath.Join(d.opts.Dir, bestRemote)); err != nil {
		return faults.Errorf(faults.Distribution, "moving %q into the configuration folder: %s", bestRemote, err)
	}
	if err := config.Adopt(ctx, d.opts.Locks, d.opts.Dir, d.opts.Alias, d.opts.Stem, bestRemote); err != nil {
		return err
	}

	d.opts.Log.Infof("now using configuration file %q", bestRemote)
	st.SetMisc("current", bestRemote)
	return nil
}

func (d *Distributor) filterVersioned(names []string) []string {
	var out []string
	for _, name := range names {
		if strings.HasPrefix(name, d.opts.Stem+"_") && config.IsVersionedName(name) {
			out = append(out, name)
		}
	}
	return out
}
