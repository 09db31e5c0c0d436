package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/astrohaus/stationd/internal/config"
	"github.com/astrohaus/stationd/internal/station"
	"github.com/astrohaus/stationd/internal/worker"
)

// localRuntime wires the built-in worker kinds around a configuration file on
// the local filesystem, for validation and deploy tests.
func localRuntime(file string) (*config.Static, *station.Runtime, map[string]string, error) {
	dir := filepath.Dir(file)
	vars, err := config.Globals(dir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading global variables: %w", err)
	}

	src, err := config.NewStatic(file, vars)
	if err != nil {
		return nil, nil, nil, err
	}

	rt := station.New(src, station.Options{
		ConfigDir: dir,
		Vars:      vars,
		Log:       zap.NewNop().Sugar(),
	})
	return src, rt, vars, nil
}

func validateCmd(c *cli.Context) error {
	file := c.Args().First()
	if file == "" {
		return errors.New("usage: stationctl validate <file>")
	}

	_, rt, vars, err := localRuntime(file)
	if err != nil {
		return err
	}
	if err := worker.ValidateFile(file, vars, rt.Kinds); err != nil {
		return err
	}

	fmt.Printf("%s is a valid configuration file\n", file)
	return nil
}

func deployTestCmd(c *cli.Context) error {
	file := c.Args().First()
	if file == "" {
		return errors.New("usage: stationctl deploy-test <file>")
	}

	src, rt, _, err := localRuntime(file)
	if err != nil {
		return err
	}

	results, err := worker.DeployTests(c.Context, src, rt.Kinds)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(results))
	for key := range results {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	failed := 0
	tr := tabwriter.NewWriter(os.Stdout, 6, 6, 4, ' ', 0)
	fmt.Fprintf(tr, "KEY\tRESULT\n")
	for _, key := range keys {
		if results[key] == nil {
			fmt.Fprintf(tr, "%s\tok\n", key)
			continue
		}
		failed++
		fmt.Fprintf(tr, "%s\t%s\n", key, results[key])
	}
	tr.Flush()

	if failed > 0 {
		return fmt.Errorf("%d of %d deploy tests failed", failed, len(results))
	}
	return nil
}
