package worker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/astrohaus/stationd/internal/config"
	"github.com/astrohaus/stationd/internal/faults"
)

// ValidateDocument structurally validates a configuration document for
// adoption: the main section must exist with a usable period, every
// non-main key must resolve to a registered worker kind, and every resolved
// kind must accept its own section. All problems are collected into a single
// configuration error rather than failing on the first.
func ValidateDocument(src config.Source, kinds *Registry) error {
	doc, err := src.Global()
	if err != nil {
		return faults.Errorf(faults.Configuration, "reading configuration: %s", err)
	}

	var problems []string

	main, ok := doc[config.MainKey]
	if !ok {
		problems = append(problems, fmt.Sprintf("failed to find the required key %q", config.MainKey))
	} else if _, err := main.Duration("period"); err != nil {
		problems = append(problems, fmt.Sprintf("main configuration: %s", err))
	}

	keys := make([]string, 0, len(doc))
	for key := range doc {
		if key != config.MainKey {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		factory, found := kinds.Resolve(key)
		if !found {
			problems = append(problems, fmt.Sprintf("key %q does not name a registered worker kind", key))
			continue
		}
		runner, err := factory(src)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %s", key, err))
			continue
		}
		if err := runner.CheckConfig(src); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %s", key, err))
		}
	}

	if len(problems) > 0 {
		return faults.Errorf(faults.Configuration, "%s", strings.Join(problems, " || "))
	}
	return nil
}

// ValidateFile parses and validates a candidate configuration file.
func ValidateFile(path string, vars map[string]string, kinds *Registry) error {
	src, err := config.NewStatic(path, vars)
	if err != nil {
		return faults.Errorf(faults.Configuration, "%s", err)
	}
	return ValidateDocument(src, kinds)
}

// DeployTests instantiates every worker kind the configuration references
// and exercises CheckConfig followed by the kind's real side effects once.
// The result maps each configuration key to nil or its failure.
func DeployTests(ctx context.Context, src config.Source, kinds *Registry) (map[string]error, error) {
	doc, err := src.Global()
	if err != nil {
		return nil, faults.Errorf(faults.Configuration, "reading configuration: %s", err)
	}
	main, ok := doc[config.MainKey]
	if !ok {
		return nil, faults.Errorf(faults.Configuration, "the main configuration is missing (required to deploy tests)")
	}
	if _, err := main.Duration("period"); err != nil {
		return nil, faults.Errorf(faults.Configuration, "main configuration: %s", err)
	}

	results := map[string]error{}
	for key := range doc {
		if key == config.MainKey {
			continue
		}
		factory, found := kinds.Resolve(key)
		if !found {
			results[key] = faults.Errorf(faults.Configuration, "key %q does not name a registered worker kind", key)
			continue
		}
		runner, err := factory(src)
		if err != nil {
			results[key] = err
			continue
		}
		if err := runner.CheckConfig(src); err != nil {
			results[key] = err
			continue
		}
		results[key] = runner.DeployTest(ctx)
	}
	return results, nil
}

// EvalDeployTests aggregates DeployTests failures into one readable error.
func EvalDeployTests(ctx context.Context, src config.Source, kinds *Registry) error {
	results, err := DeployTests(ctx, src, kinds)
	if err != nil {
		return err
	}
	var failed []string
	for _, key := range sortedKeys(results) {
		if results[key] != nil {
			failed = append(failed, fmt.Sprintf("%s: %s", key, results[key]))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%s", strings.Join(failed, "\n"))
	}
	return nil
}
