package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dashcache/dashcache/internal/report"
)

var reportFlags struct {
	Period string
	Window string
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Fetch a performance report from a running service",
	Long: `Fetch a daily, weekly, monthly or custom performance report from a running
dashcache service and print it as a table, JSON or CSV.`,
	Example: `  # Daily report as a table
  dashcache report

  # Custom report over the last 36 hours as JSON
  dashcache report --period custom --window 36h -o json`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportFlags.Period, "period", "daily", "Report period (daily, weekly, monthly, custom)")
	reportCmd.Flags().StringVar(&reportFlags.Window, "window", "", "Window ending now, for example 36h or 2w")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, _ []string) error {
	period, ok := report.ParsePeriod(reportFlags.Period)
	if !ok {
		return fmt.Errorf("invalid period: %s", reportFlags.Period)
	}
	return fetchReport(cmd.OutOrStdout(), period, reportFlags.Window, global.Output)
}

func fetchReport(w io.Writer, period report.Period, window, output string) error {
	client := newClient(global.APIAddr)
	query := map[string]string{}
	if window != "" {
		query["window"] = window
	}

	path := "/report/" + string(period)
	if output == "csv" || output == "json" {
		query["format"] = output
		body, err := get(client, path, query, nil)
		if err != nil {
			return err
		}
		_, err = w.Write(body)
		return err
	}

	var r report.Report
	if _, err := get(client, path, query, &r); err != nil {
		return err
	}
	fmt.Fprintln(w, titleStyle.Render("Performance report"))
	return report.WriteText(w, &r, time.Now())
}
