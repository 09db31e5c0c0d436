package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrohaus/stationd/internal/config"
	"github.com/astrohaus/stationd/internal/faults"
)

type pickyRunner struct {
	fakeRunner
	checkErr  error
	deployErr error
}

func (p *pickyRunner) CheckConfig(config.Source) error      { return p.checkErr }
func (p *pickyRunner) DeployTest(ctx context.Context) error { return p.deployErr }

func TestValidateDocument(t *testing.T) {
	kinds := NewRegistry()
	kinds.Register("good", func(config.Source) (Runner, error) {
		return &pickyRunner{fakeRunner: fakeRunner{name: "good"}}, nil
	})
	kinds.Register("picky", func(config.Source) (Runner, error) {
		return &pickyRunner{fakeRunner: fakeRunner{name: "picky"}, checkErr: errors.New("missing key 'url'")}, nil
	})

	t.Run("valid", func(t *testing.T) {
		src := config.NewMemory(config.Document{"main": {"period": 1.0}, "good": {}})
		require.NoError(t, ValidateDocument(src, kinds))
	})

	t.Run("missing main", func(t *testing.T) {
		src := config.NewMemory(config.Document{"good": {}})
		err := ValidateDocument(src, kinds)
		require.Error(t, err)
		assert.True(t, faults.Is(err, faults.Configuration))
	})

	t.Run("collects every problem", func(t *testing.T) {
		src := config.NewMemory(config.Document{
			"main":    {}, // missing period
			"picky":   {},
			"unknown": {},
		})
		err := ValidateDocument(src, kinds)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "period")
		assert.Contains(t, err.Error(), "missing key 'url'")
		assert.Contains(t, err.Error(), "unknown")
	})
}

func TestValidateFile(t *testing.T) {
	kinds := NewRegistry()
	kinds.Register("good", func(config.Source) (Runner, error) {
		return &pickyRunner{fakeRunner: fakeRunner{name: "good"}}, nil
	})

	dir := t.TempDir()
	path := filepath.Join(dir, "station_config_1.toml")
	require.NoError(t, os.WriteFile(path, []byte("[main]\nperiod = 1\n\n[good]\n"), 0644))
	require.NoError(t, ValidateFile(path, nil, kinds))

	bad := filepath.Join(dir, "station_config_2.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[main\n"), 0644))
	err := ValidateFile(bad, nil, kinds)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.Configuration))
}

func TestDeployTests(t *testing.T) {
	kinds := NewRegistry()
	kinds.Register("good", func(config.Source) (Runner, error) {
		return &pickyRunner{fakeRunner: fakeRunner{name: "good"}}, nil
	})
	kinds.Register("broken", func(config.Source) (Runner, error) {
		return &pickyRunner{fakeRunner: fakeRunner{name: "broken"}, deployErr: errors.New("remote unreachable")}, nil
	})

	src := config.NewMemory(config.Document{
		"main":   {"period": 1.0},
		"good":   {},
		"broken": {},
	})

	results, err := DeployTests(context.Background(), src, kinds)
	require.NoError(t, err)
	assert.NoError(t, results["good"])
	assert.Error(t, results["broken"])

	err = EvalDeployTests(context.Background(), src, kinds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote unreachable")
	assert.NotContains(t, err.Error(), "good:")
}
