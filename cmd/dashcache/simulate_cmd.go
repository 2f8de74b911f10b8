package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dashcache/dashcache/internal/abtest"
	"github.com/dashcache/dashcache/internal/budget"
	"github.com/dashcache/dashcache/internal/cache"
	"github.com/dashcache/dashcache/internal/monitor"
	"github.com/dashcache/dashcache/internal/report"
	"github.com/dashcache/dashcache/pkg/types"
)

// simulation describes a synthetic dashboard workload.
type simulation struct {
	Resources  int
	Users      int
	Requests   int
	ErrorRate  float64
	MaxLatency time.Duration
	Seed       uint64
}

// simulationResult is what a run prints.
type simulationResult struct {
	Requests int             `json:"requests"`
	Failures int             `json:"failures"`
	Elapsed  time.Duration   `json:"elapsed"`
	Report   *report.Report  `json:"report"`
	Budget   budget.Result   `json:"budget"`
	ABTest   *abtest.Results `json:"ab_test,omitempty"`
	Status   monitor.Status  `json:"status"`
}

const simulatedTest = "widget-0-latency"

var simFlags simulation

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive a synthetic workload through the cache and print the results",
	Long: `Simulate dashboard traffic against an in-process monitor. Each request reads
a widget through the cache, with simulated fetch latency and failures, then
records a render time. The first widget runs an A/B test whose test arm
fetches faster. A daily report, budget validation and the A/B analysis are
printed at the end.`,
	Example: `  # Default workload
  dashcache simulate

  # Larger, noisier workload as JSON
  dashcache simulate --requests 2000 --error-rate 0.08 -o json`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simFlags.Resources, "resources", 5, "Number of widgets")
	simulateCmd.Flags().IntVar(&simFlags.Users, "users", 10, "Number of distinct users")
	simulateCmd.Flags().IntVar(&simFlags.Requests, "requests", 300, "Number of reads")
	simulateCmd.Flags().Float64Var(&simFlags.ErrorRate, "error-rate", 0.03, "Probability that a fetch fails")
	simulateCmd.Flags().DurationVar(&simFlags.MaxLatency, "max-latency", 20*time.Millisecond, "Slowest simulated fetch")
	simulateCmd.Flags().Uint64Var(&simFlags.Seed, "seed", 1, "Random seed")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	if simFlags.Resources < 1 || simFlags.Users < 1 || simFlags.Requests < 1 {
		return fmt.Errorf("resources, users and requests must be positive")
	}
	if simFlags.ErrorRate < 0 || simFlags.ErrorRate > 1 {
		return fmt.Errorf("error-rate must be between 0 and 1")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Reporting.Enabled = false
	cfg.Metrics.Prometheus.Enabled = false

	m, err := monitor.New(cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close(context.Background()) }()

	if err := m.Start(cmd.Context()); err != nil {
		return err
	}

	result, err := simFlags.run(cmd.Context(), m)
	if err != nil {
		return err
	}
	return writeSimulation(cmd.OutOrStdout(), result, global.Output, m.Now())
}

type widget struct {
	id       string
	config   cache.Config
	source   types.SourceKind
	priority types.Priority
	latency  time.Duration
}

func (s simulation) widgets(rng *rand.Rand) []widget {
	sources := []types.SourceKind{types.SourceQuery, types.SourceREST, types.SourceBatch}
	priorities := []types.Priority{types.PriorityHigh, types.PriorityMedium, types.PriorityLow, types.PriorityCritical}

	widgets := make([]widget, s.Resources)
	for i := range widgets {
		source := sources[i%len(sources)]
		priority := priorities[i%len(priorities)]
		widgets[i] = widget{
			id:       fmt.Sprintf("widget-%d", i),
			config:   cache.NewResourceConfig(cache.ResourceOptions{Source: source, Mode: types.ModeReadOnly, Priority: priority}),
			source:   source,
			priority: priority,
			latency:  time.Duration(rng.Int64N(int64(s.MaxLatency)/2+1)) + s.MaxLatency/2,
		}
	}
	return widgets
}

// run drives the workload through m and collects the results.
func (s simulation) run(ctx context.Context, m *monitor.Monitor) (simulationResult, error) {
	rng := rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15))
	widgets := s.widgets(rng)

	err := m.ABTests().Setup(abtest.Config{
		TestID:     simulatedTest,
		ResourceID: widgets[0].id,
		Variants:   abtest.Variants{Control: "A", Test: "B"},
		StartDate:  m.Now().Add(-time.Minute),
		SplitRatio: 0.5,
		MinSamples: 5,
	})
	if err != nil {
		return simulationResult{}, err
	}

	res := simulationResult{Requests: s.Requests}
	start := time.Now()

	for i := 0; i < s.Requests; i++ {
		if err := ctx.Err(); err != nil {
			return simulationResult{}, err
		}

		w := widgets[rng.IntN(len(widgets))]
		user := fmt.Sprintf("user-%d", rng.IntN(s.Users))

		variant := ""
		latency := w.latency
		if w.id == widgets[0].id {
			variant, _ = m.ABTests().Assign(simulatedTest, user)
			if variant == "B" {
				latency = latency * 7 / 10
			}
		}
		fail := rng.Float64() < s.ErrorRate
		rows := rng.IntN(1000)

		_, err := m.Get(ctx, cache.Request{
			Params:   cache.KeyParams{ResourceID: w.id, UserID: user},
			Config:   w.config,
			Source:   w.source,
			Priority: w.priority,
			Variant:  variant,
		}, func(ctx context.Context) (interface{}, error) {
			select {
			case <-time.After(latency):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if fail {
				return nil, fmt.Errorf("simulated upstream failure for %s", w.id)
			}
			return map[string]interface{}{"widget": w.id, "user": user, "rows": rows}, nil
		})
		if err != nil {
			res.Failures++
			continue
		}

		render := time.Duration(10+rng.IntN(60)) * time.Millisecond
		m.RecordRender(w.id, variant, render)
	}

	res.Elapsed = time.Since(start)
	res.Report = m.Reports().Generate(report.PeriodDaily, nil)
	res.Budget = m.Budget().Validate()
	res.ABTest, _ = m.ABTests().Analyze(simulatedTest)
	res.Status = m.Status()
	return res, nil
}

func writeSimulation(w io.Writer, res simulationResult, output string, now time.Time) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "csv":
		return report.Encode(w, res.Report, report.FormatCSV)
	}

	fmt.Fprintln(w, titleStyle.Render("Simulation"))
	fmt.Fprintf(w, "%s requests, %s failed, %s cache entries, took %s\n\n",
		humanize.Comma(int64(res.Requests)),
		humanize.Comma(int64(res.Failures)),
		humanize.Comma(int64(res.Status.CacheEntries)),
		res.Elapsed.Round(time.Millisecond))

	fmt.Fprintln(w, titleStyle.Render("Performance report"))
	if err := report.WriteText(w, res.Report, now); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Budget (%s)", res.Budget.Profile)))
	for _, mr := range res.Budget.Metrics {
		if !mr.Observed {
			fmt.Fprintf(w, "  %-14s no data\n", mr.Metric)
			continue
		}
		fmt.Fprintf(w, "  %-14s %8.1f  %s\n", mr.Metric, mr.Value, mr.Rating)
	}
	fmt.Fprintf(w, "  %.0f%% good, passed: %t\n", res.Budget.PercentageGood, res.Budget.Passed)

	if res.ABTest != nil {
		a := res.ABTest.Analysis
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("A/B test %s", res.ABTest.TestID)))
		fmt.Fprintf(w, "  control %s: %d samples, %.1fms mean load\n",
			res.ABTest.Control.Variant, res.ABTest.Control.SampleSize, res.ABTest.Control.LoadTime.Mean)
		fmt.Fprintf(w, "  test    %s: %d samples, %.1fms mean load\n",
			res.ABTest.Test.Variant, res.ABTest.Test.SampleSize, res.ABTest.Test.LoadTime.Mean)
		fmt.Fprintf(w, "  winner: %s, improvement %.1f%%, confidence %.1f, p=%.3f\n",
			a.Winner, a.Improvement, a.Confidence, a.SignificanceLevel)
		for _, rec := range res.ABTest.Recommendations {
			fmt.Fprintf(w, "  - %s\n", rec)
		}
	}
	return nil
}
