/*
Package types provides the shared enums, value types, and cross-component interfaces for dashcache.

Every other package depends on this one and it depends on nothing internal, which keeps the
cache engine free of imports on the telemetry packages that observe it.

# Data flow

	      caller fetch
	           │
	┌──────────┴──────────┐     SampleRecorder      ┌──────────────────┐
	│   internal/cache    │ ──────────────────────▶ │ internal/metrics │
	│ keys, TTL, preload  │     ErrorRecorder       ├──────────────────┤
	│   store, engine     │ ──────────────────────▶ │ internal/errtrack│
	└─────────────────────┘     CacheObserver       └────────┬─────────┘
	                                                          │ pull
	                         ┌──────────────┬─────────────────┼──────────────┐
	                         │ internal/    │ internal/       │ internal/    │
	                         │ abtest       │ report          │ budget       │
	                         └──────────────┴─────────────────┴──────────────┘

# Enums

Priority, SourceKind, DataMode, Category, Severity and ErrorType are closed string
enums. Switches over them are exhaustive; unknown values fall through to the
documented default of each consumer.

# Time

Components accept a Clock so that TTL expiry, stale windows, and report windows can be
tested against a pinned time. A nil Clock means time.Now.
*/
package types
