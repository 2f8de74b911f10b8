/*
Package monitor wires the cache engine and every telemetry component into one
dependency-injected instance.

A Monitor replaces process-wide singletons: each call to New builds its own
recorder, collector, error tracker, health tracker, cache engine, A/B
analyzer, report generator and scheduler, budget validator and memory
sampler, all configured from a single config.Configuration.

# Wiring

	             ┌──────────────────────────────┐
	             │          cache.Engine         │
	             └──────────────────────────────┘
	         samples │      errors │      events │
	                 ▼             ▼             ▼
	    ┌────────────────┐ ┌──────────────┐ ┌────────────────┐
	    │ metrics        │ │ errtrack     │ │ health.Tracker │
	    │ .Recorder      │ │ .Tracker     │ │ + Collector    │
	    └────────────────┘ └──────────────┘ └────────────────┘
	      │ alerts  ▲ counts      │ forwards
	      ▼         └─────────────┤
	    ┌──────────────────────────────────────────────────┐
	    │        metrics.Collector (Prometheus)             │
	    └──────────────────────────────────────────────────┘

The recorder is the single sample store. The error tracker divides by its
load-time sample counts, the A/B analyzer and report generator read its
windowed statistics, and the budget validator reads its latest values.
Threshold and budget alerts are counted by the collector; fetch outcomes
also drive per-resource health.

# Lifecycle

	m, err := monitor.New(cfg, nil)
	if err != nil {
		return err
	}
	if err := m.Start(ctx); err != nil {
		return err
	}
	defer m.Close(context.Background())

	res, err := m.Get(ctx, cache.Request{
		Params: cache.KeyParams{ResourceID: "orders-list"},
		Config: cache.NewResourceConfig(opts),
	}, fetchOrders)

Start launches the cache sweeper, the Prometheus endpoint when enabled,
scheduled reports when reporting is enabled, and memory sampling when a
sample interval is set. Close stops them in reverse order and is safe to
call more than once. A closed Monitor cannot be started again.
*/
package monitor
