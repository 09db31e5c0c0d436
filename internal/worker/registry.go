package worker

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/astrohaus/stationd/internal/config"
)

// Runner is the contract every concrete worker kind implements. CheckConfig
// is static and side-effect-free; DeployTest exercises the worker's real
// side effects once for pre-deployment verification; Step is one iteration
// of the worker's loop.
type Runner interface {
	Name() string
	Tags() []string
	CheckConfig(src config.Source) error
	DeployTest(ctx context.Context) error
	Step(ctx context.Context, st *Status) error
}

// ExitHooker is optionally implemented by runners needing cleanup after a
// cooperative stop.
type ExitHooker interface {
	OnExit()
}

// Factory builds a runner bound to a configuration source. Construction must
// be side-effect-free: validation instantiates runners only to call
// CheckConfig.
type Factory func(src config.Source) (Runner, error)

// Registry maps configuration-key strings to worker constructors. It is
// populated at process start; configuration keys not present here are logged
// and skipped rather than aborting reconciliation.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{kinds: map[string]Factory{}}
}

func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind] = f
}

// Resolve finds the factory for a configuration key by exact match first,
// then by suffix match (a key "workers.heartbeat" resolves the registered
// kind "heartbeat"). Suffix candidates are tried in sorted order so the
// result is deterministic.
func (r *Registry) Resolve(key string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if f, ok := r.kinds[key]; ok {
		return f, true
	}
	for _, kind := range r.sortedKindsLocked() {
		if strings.HasSuffix(key, kind) {
			return r.kinds[kind], true
		}
	}
	return nil, false
}

func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedKindsLocked()
}

func (r *Registry) sortedKindsLocked() []string {
	kinds := make([]string, 0, len(r.kinds))
	for kind := range r.kinds {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
