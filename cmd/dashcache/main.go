// Package main provides the dashcache command line tool.
//
// The tool runs the cache and telemetry monitor as a service, drives a
// synthetic dashboard workload through it, and reads reports and status back
// from a running service over its HTTP API.
//
// COMMANDS:
//   - serve: start the monitor and the HTTP API until interrupted
//   - simulate: run a synthetic workload in-process and print the results
//   - report: fetch a performance report from a running service
//   - status: show resource health and cache counters of a running service
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
