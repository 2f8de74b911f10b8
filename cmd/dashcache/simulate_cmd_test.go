package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashcache/dashcache/internal/config"
	"github.com/dashcache/dashcache/internal/monitor"
	"github.com/dashcache/dashcache/pkg/utils"
)

func newSimMonitor(t *testing.T) *monitor.Monitor {
	t.Helper()
	cfg := config.NewDefault()
	cfg.Metrics.MemorySampleInterval = 0
	m, err := monitor.New(cfg, &monitor.Options{Logger: utils.NewNopLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func TestSimulationRun(t *testing.T) {
	m := newSimMonitor(t)
	sim := simulation{
		Resources:  3,
		Users:      4,
		Requests:   120,
		ErrorRate:  0,
		MaxLatency: time.Millisecond,
		Seed:       7,
	}

	res, err := sim.run(context.Background(), m)
	require.NoError(t, err)

	assert.Equal(t, 120, res.Requests)
	assert.Zero(t, res.Failures)
	assert.LessOrEqual(t, res.Status.CacheEntries, 12, "at most one entry per widget and user")
	assert.Equal(t, res.Status.CacheEntries, m.Engine().Len())
	require.NotNil(t, res.Report)
	assert.Equal(t, 3, res.Report.Summary.TotalResources)
	require.NotNil(t, res.ABTest)
	assert.Equal(t, "widget-0", res.ABTest.ResourceID)
	assert.Equal(t, res.Requests, int(totalLookups(res)))
}

func totalLookups(res simulationResult) uint64 {
	var n uint64
	for _, c := range res.Status.Cache {
		n += c.Hits + c.StaleHits + c.Misses
	}
	return n
}

func TestSimulationFailures(t *testing.T) {
	m := newSimMonitor(t)
	sim := simulation{Resources: 2, Users: 2, Requests: 20, ErrorRate: 1, MaxLatency: time.Millisecond, Seed: 1}

	res, err := sim.run(context.Background(), m)
	require.NoError(t, err)

	assert.Equal(t, 20, res.Failures)
	assert.Zero(t, res.Status.CacheEntries)
	assert.Equal(t, 20, m.Errors().ErrorCount("", nil))
}

func TestSimulationCanceled(t *testing.T) {
	m := newSimMonitor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := simulation{Resources: 1, Users: 1, Requests: 5, MaxLatency: time.Millisecond}.run(ctx, m)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteSimulation(t *testing.T) {
	m := newSimMonitor(t)
	res, err := simulation{Resources: 2, Users: 2, Requests: 30, MaxLatency: time.Millisecond, Seed: 3}.run(context.Background(), m)
	require.NoError(t, err)

	var text bytes.Buffer
	require.NoError(t, writeSimulation(&text, res, "text", m.Now()))
	assert.Contains(t, text.String(), "Performance report")
	assert.Contains(t, text.String(), "widget-0")
	assert.Contains(t, text.String(), "A/B test "+simulatedTest)

	var js bytes.Buffer
	require.NoError(t, writeSimulation(&js, res, "json", m.Now()))
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, float64(30), decoded["requests"])

	var csv bytes.Buffer
	require.NoError(t, writeSimulation(&csv, res, "csv", m.Now()))
	assert.Contains(t, csv.String(), "Resource ID,Load Time")
}

func TestValidateGlobalFlags(t *testing.T) {
	defer func(prev string) { global.Output = prev }(global.Output)

	global.Output = "yaml"
	assert.Error(t, validateGlobalFlags(rootCmd, nil))

	global.Output = "csv"
	assert.NoError(t, validateGlobalFlags(rootCmd, nil))
}
