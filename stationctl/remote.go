package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/astrohaus/stationd/internal/httpapi"
	"github.com/astrohaus/stationd/internal/worker"
)

func statusCmd(c *cli.Context) error {
	client, err := setup(c)
	if err != nil {
		return err
	}

	resp, err := client.GET(c.Context, "/status")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	snapshot := map[string]worker.StatusEvent{}
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return fmt.Errorf("decoding the station's response: %w", err)
	}

	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	tr := tabwriter.NewWriter(os.Stdout, 6, 6, 4, ' ', 0)
	fmt.Fprintf(tr, "NAME\tSTATE\tRUNNING\tERROR\n")
	for _, name := range names {
		ev := snapshot[name]
		running := ""
		if !ev.StartedRunning.IsZero() {
			running = durationToString(time.Since(ev.StartedRunning))
		}
		fmt.Fprintf(tr, "%s\t%s\t%s\t%s\n", ev.Name, ev.State, running, ev.Error)
	}
	tr.Flush()
	return nil
}

func runCmd(c *cli.Context) error {
	text := strings.Join(c.Args().Slice(), " ")
	if text == "" {
		return errors.New("usage: stationctl run <command>")
	}

	client, err := setup(c)
	if err != nil {
		return err
	}

	resp, err := client.POST(c.Context, "/command", strings.NewReader(text))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	accepted := httpapi.CommandAccepted{}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return fmt.Errorf("decoding the station's response: %w", err)
	}

	fmt.Printf("accepted as command %s - watch `stationctl status` for the outcome\n", accepted.CommandID)
	return nil
}

func configCmd(c *cli.Context) error {
	client, err := setup(c)
	if err != nil {
		return err
	}

	resp, err := client.GET(c.Context, "/config")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	info := httpapi.ConfigInfo{}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return fmt.Errorf("decoding the station's response: %w", err)
	}

	fmt.Printf("file: %s\nversion: %d\n", info.File, info.Version)
	return nil
}

func durationToString(d time.Duration) string {
	hr := d.Hours()
	if hr > 24 {
		return fmt.Sprintf("%dd", int(hr/24))
	}
	if hr > 1 {
		return fmt.Sprintf("%dh", int(hr))
	}

	min := d.Minutes()
	if min > 1 {
		return fmt.Sprintf("%dm", int(min))
	}

	return fmt.Sprintf("%ds", int(d.Seconds()))
}
