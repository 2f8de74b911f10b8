package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dashcache/dashcache/pkg/errors"
	"github.com/dashcache/dashcache/pkg/types"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat parses an export format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV:
		return f, nil
	}
	return "", errors.NewError(errors.ErrCodeExportFormat, fmt.Sprintf("unsupported export format: %s", s)).
		WithComponent("report").
		WithContext("format", s)
}

var csvHeader = []string{"Resource ID", "Load Time", "Render Time", "Error Rate", "Score"}

// Export renders a custom report over the export window, which ends now.
func (g *Generator) Export(format Format) ([]byte, error) {
	window := types.Last(g.clock(), g.exportWindow)
	r := g.Generate(PeriodCustom, &window)

	var buf bytes.Buffer
	if err := Encode(&buf, r, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes r to w. JSON carries the whole report; CSV carries one row
// per scored resource, best first.
func Encode(w io.Writer, r *Report, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return errors.Wrap(err, errors.ErrCodeExportFailed, "failed to encode report").
				WithComponent("report").
				WithContext("format", string(format))
		}
		return nil

	case FormatCSV:
		cw := csv.NewWriter(w)
		rows := make([][]string, 0, len(r.Resources)+1)
		rows = append(rows, csvHeader)
		for _, res := range r.Resources {
			rows = append(rows, []string{
				res.ResourceID,
				strconv.FormatFloat(res.LoadTime, 'f', -1, 64),
				strconv.FormatFloat(res.RenderTime, 'f', -1, 64),
				strconv.FormatFloat(res.ErrorRate, 'f', -1, 64),
				strconv.Itoa(res.Score),
			})
		}
		if err := cw.WriteAll(rows); err != nil {
			return errors.Wrap(err, errors.ErrCodeExportFailed, "failed to encode report").
				WithComponent("report").
				WithContext("format", string(format))
		}
		return nil
	}

	return errors.NewError(errors.ErrCodeExportFormat, fmt.Sprintf("unsupported export format: %s", format)).
		WithComponent("report").
		WithContext("format", string(format))
}

// Describe returns a one-line summary of r for logs and notifications.
func Describe(r *Report, now time.Time) string {
	return fmt.Sprintf("%s report %s: %s resources, score %.0f, avg load %sms, error rate %s%%, %d issues, generated %s",
		r.Type,
		shortID(r.ID),
		humanize.Comma(int64(r.Summary.TotalResources)),
		r.Summary.PerformanceScore,
		humanize.FtoaWithDigits(r.Summary.AvgLoadTime, 1),
		humanize.FtoaWithDigits(r.Summary.OverallErrorRate*100, 2),
		len(r.CriticalIssues),
		humanize.RelTime(r.GeneratedAt, now, "ago", "from now"),
	)
}

// WriteText renders r as aligned tables for a terminal.
func WriteText(w io.Writer, r *Report, now time.Time) error {
	fmt.Fprintln(w, Describe(r, now))
	fmt.Fprintf(w, "window: %s to %s (%s)\n\n",
		r.Window.Start.Format(time.RFC3339),
		r.Window.End.Format(time.RFC3339),
		humanize.RelTime(r.Window.Start, r.Window.End, "", ""))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOURCE\tLOAD(ms)\tRENDER(ms)\tERRORS\tSAMPLES\tTREND\tSCORE")
	for _, res := range r.Resources {
		fmt.Fprintf(tw, "%s\t%.1f\t%.1f\t%.2f%%\t%s\t%s\t%d\n",
			res.ResourceID,
			res.LoadTime,
			res.RenderTime,
			res.ErrorRate*100,
			humanize.Comma(int64(res.SampleSize)),
			res.Trend,
			res.Score)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.CriticalIssues) > 0 {
		fmt.Fprintln(w, "\nissues:")
		for _, issue := range r.CriticalIssues {
			fmt.Fprintf(w, "  [%s] %s\n", issue.Severity, issue.Description)
		}
	}
	if len(r.Trends) > 0 {
		fmt.Fprintln(w, "\ntrends:")
		for _, t := range r.Trends {
			fmt.Fprintf(w, "  %s %s %+.1f%% (next %s)\n", t.Metric, t.Direction, t.ChangePercent,
				humanize.FtoaWithDigits(t.Forecast.NextPeriod, 3))
		}
	}
	if len(r.Recommendations) > 0 {
		fmt.Fprintln(w, "\nrecommendations:")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(w, "  - %s\n", rec)
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
