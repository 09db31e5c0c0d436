package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/astrohaus/stationd/internal/httpapi"
)

func main() {
	app := &cli.App{
		Name:  "stationctl",
		Usage: "Station admin tools",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "station",
				Usage:   "address of the station i.e. `station.mydomain` or `station.mydomain:8173`",
				EnvVars: []string{"STATIONCTL_STATION"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "timeout when sending requests to the station",
				Value: time.Second * 15,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "Validate a configuration file without deploying it",
				ArgsUsage: "<file>",
				Action:    validateCmd,
			},
			{
				Name:      "deploy-test",
				Usage:     "Instantiate every configured worker kind and exercise its side effects once",
				ArgsUsage: "<file>",
				Action:    deployTestCmd,
			},
			{
				Name:   "status",
				Usage:  "Get the status of all workers running on the station",
				Action: statusCmd,
			},
			{
				Name:      "run",
				Usage:     "Run a shell command on the station",
				ArgsUsage: "<command>",
				Action:    runCmd,
			},
			{
				Name:   "config",
				Usage:  "Show which configuration file the station is currently using",
				Action: configCmd,
			},
		},
	}

	err := app.Run(os.Args)
	if err == nil {
		return
	}

	fmt.Fprint(os.Stderr, getErrorString(err))
	os.Exit(1)
}

func setup(c *cli.Context) (*httpapi.Client, error) {
	addr := c.String("station")
	if addr == "" {
		return nil, errors.New("the --station flag (or STATIONCTL_STATION) is required")
	}

	homedir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting homedir: %w", err)
	}
	dir := filepath.Join(homedir, ".stationctl")

	cert, _, err := httpapi.EnsureCertificate(dir)
	if err != nil {
		return nil, fmt.Errorf("generating cert: %w", err)
	}

	trusted, err := loadTrustedCerts(dir)
	if err != nil {
		return nil, err
	}

	if !strings.Contains(addr, ":") {
		addr += ":8173"
	}

	return httpapi.NewStationClient("https://"+addr, cert, c.Duration("timeout"),
		httpapi.AuthorizerFunc(func(fingerprint string) bool {
			_, ok := trusted[fingerprint]
			return ok
		})), nil
}

func loadTrustedCerts(dir string) (map[string]struct{}, error) {
	m := map[string]struct{}{}

	buf, err := os.ReadFile(filepath.Join(dir, "trustedcerts"))
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading trusted certs file: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewBuffer(buf))
	for scanner.Scan() {
		m[scanner.Text()] = struct{}{}
	}

	return m, nil
}

func getErrorString(err error) string {
	es := &httpapi.UntrustedServerError{}
	if errors.As(err, &es) {
		return fmt.Sprintf("The certificate presented by the station is not trusted. Use this command to trust it:\n\n  echo \"%s\" >> %s\n\n", es.Fingerprint, "~/.stationctl/trustedcerts")
	}

	ec := &httpapi.UntrustedClientError{}
	if errors.As(err, &ec) {
		return "The station does not trust your client certificate.\nAdd its fingerprint to stationd's --client-fingerprints flag.\n\n"
	}

	return fmt.Sprintf("error: %s\n", err)
}
