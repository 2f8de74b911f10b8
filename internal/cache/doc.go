/*
Package cache provides adaptive, stale-while-revalidate caching for dashboard resources.

A read is resolved against a sharded in-memory store. The TTL of every stored
entry is computed from the resource's preset and its runtime signals, and the
engine decides per read whether to serve, serve-and-refresh, or fetch.

# Entry Lifecycle

	 Timestamp            PreloadAt            StaleAt          StaleAt+SWRWindow
	     │                    │                   │                     │
	─────┼────────────────────┼───────────────────┼─────────────────────┼──────▶ time
	     │       fresh        │ fresh + refresh   │  stale, served +    │  miss
	     │                    │  in background    │  refresh (SWR)      │

PreloadAt is StaleAt minus the config's PreloadTiming, never earlier than
Timestamp. Entries past their SWR window are treated as misses and removed by
the sweeper.

# Keys

GenerateKey builds widget:<id>[:dr:<from>_<to>][:u:<user>][:f:<k>:<v>,...].
Date ranges are normalized to whole UTC days and filters sorted by name, so
equivalent reads always share an entry.

# TTL Policy

Five presets bundle freshness defaults:

	REALTIME   5s    SWR 10s              no preload
	DYNAMIC    60s   SWR 30s   preload 10s
	STANDARD   300s  SWR 60s   preload 30s
	STABLE     1800s SWR 300s  preload 120s
	STATIC     3600s no SWR               no preload

ComputeTTL scales the base TTL by priority (critical 0.5, high 0.75, low 1.5),
completed date ranges (2, and 1.5 more past 30 days), access frequency (0.8
above 10, 1.2 below 2) and error rate (0.5 above 0.1), clamped to [5s, 24h].

# Concurrency

Each shard has its own lock, held only for map and list updates. Concurrent
misses for a key share one fetch through singleflight. Background refreshes
run at most once per key, never block readers, and replace the entry in a
single store operation, so readers see either the old or the new entry.

# Usage

	engine := cache.NewEngine(&cache.EngineConfig{
		Store:   cache.StoreConfig{MaxEntries: 10000, Shards: 16},
		Samples: recorder,
		Errors:  tracker,
	})
	defer engine.Close()

	req := cache.Request{
		Params:   cache.KeyParams{ResourceID: "orders-list", DateRange: &dr},
		Config:   cache.NewResourceConfig(cache.ResourceOptions{Source: types.SourceQuery, Priority: types.PriorityHigh}),
		Priority: types.PriorityHigh,
	}
	orders, res, err := cache.Fetch(ctx, engine, req, loadOrders)
*/
package cache
