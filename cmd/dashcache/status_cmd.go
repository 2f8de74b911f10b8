package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dashcache/dashcache/internal/monitor"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show health and cache counters of a running service",
	Example: `  # Status of the local service
  dashcache status

  # Raw status JSON from a remote service
  dashcache --api 10.0.0.5:8080 status -o json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	client := newClient(global.APIAddr)
	out := cmd.OutOrStdout()

	if global.Output == "json" {
		body, err := get(client, "/status", nil, nil)
		if err != nil {
			return err
		}
		_, err = out.Write(body)
		return err
	}

	var status monitor.Status
	if _, err := get(client, "/status", nil, &status); err != nil {
		return err
	}
	return writeStatus(out, status)
}

func writeStatus(w io.Writer, status monitor.Status) error {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Health: %s", status.Health)))
	fmt.Fprintf(w, "cache entries: %s, active alerts: %d, preloads: %s\n\n",
		humanize.Comma(int64(status.CacheEntries)),
		status.ActiveAlerts,
		humanize.Comma(int64(status.Preloads.Succeeded)))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOURCE\tSTATE\tERRORS\tHITS\tMISSES\tSTALE\tHIT RATE\tAVG LOAD(ms)")

	names := make([]string, 0, len(status.Cache))
	for name := range status.Cache {
		names = append(names, name)
	}
	sort.Strings(names)

	states := make(map[string]string, len(status.Resources))
	errs := make(map[string]int, len(status.Resources))
	for _, rh := range status.Resources {
		states[rh.Name] = rh.State.String()
		errs[rh.Name] = rh.ConsecutiveErrors
	}

	for _, name := range names {
		m := status.Cache[name]
		state := states[name]
		if state == "" {
			state = "healthy"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%.1f%%\t%.1f\n",
			name, state, errs[name],
			humanize.Comma(int64(m.Hits)),
			humanize.Comma(int64(m.Misses)),
			humanize.Comma(int64(m.StaleHits)),
			m.HitRate()*100,
			m.AvgLoadTime)
	}
	return tw.Flush()
}
