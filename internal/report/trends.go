package report

import (
	"math"

	"github.com/dashcache/dashcache/pkg/types"
)

// StableBand is the relative change, in percent, inside which a metric
// counts as unchanged.
const StableBand = 5.0

// Trend metric names.
const (
	MetricAvgLoadTime   = "avgLoadTime"
	MetricAvgRenderTime = "avgRenderTime"
	MetricErrorRate     = "errorRate"
)

// Direction is the movement of a metric between two windows.
type Direction string

const (
	DirectionUp     Direction = "up"
	DirectionDown   Direction = "down"
	DirectionStable Direction = "stable"
)

// Forecast projects a metric one period ahead.
type Forecast struct {
	NextPeriod float64 `json:"next_period"`
	Confidence float64 `json:"confidence"`
}

// MetricTrend compares a fleet-wide metric with the previous window of the
// same length.
type MetricTrend struct {
	Metric        string    `json:"metric"`
	Period        Period    `json:"period"`
	Direction     Direction `json:"direction"`
	ChangePercent float64   `json:"change_percent"`
	Current       float64   `json:"current"`
	Previous      float64   `json:"previous"`
	Forecast      Forecast  `json:"forecast"`
}

type aggregate struct {
	resources int
	samples   int
	load      float64
	render    float64
	errorRate float64
}

func (g *Generator) aggregate(window types.TimeWindow) aggregate {
	var agg aggregate
	for _, id := range g.Resources() {
		load := g.metrics.StatsIn(types.LoadTimeMetric(id, ""), window)
		if !load.HasData {
			continue
		}
		render := g.metrics.StatsIn(types.RenderTimeMetric(id, ""), window)
		agg.resources++
		agg.samples += load.Count
		agg.load += load.Mean
		agg.render += render.Mean
		agg.errorRate += g.errorRate(id, window)
	}
	if agg.resources > 0 {
		n := float64(agg.resources)
		agg.load /= n
		agg.render /= n
		agg.errorRate /= n
	}
	return agg
}

func (g *Generator) analyzeTrends(period Period, window, previous types.TimeWindow) []MetricTrend {
	if g.metrics == nil {
		return []MetricTrend{}
	}
	cur := g.aggregate(window)
	prev := g.aggregate(previous)
	if cur.resources == 0 {
		return []MetricTrend{}
	}

	confidence := 0.0
	if prev.resources > 0 {
		confidence = math.Min(95, float64(min(cur.samples, prev.samples))/10)
	}
	return []MetricTrend{
		compareTrend(MetricAvgLoadTime, period, cur.load, prev.load, prev.resources > 0, confidence),
		compareTrend(MetricAvgRenderTime, period, cur.render, prev.render, prev.resources > 0, confidence),
		compareTrend(MetricErrorRate, period, cur.errorRate, prev.errorRate, prev.resources > 0, confidence),
	}
}

// compareTrend builds a trend with a linear one-period forecast. Without a
// previous window the metric is stable and the forecast repeats the
// current value.
func compareTrend(metric string, period Period, current, previous float64, hasPrevious bool, confidence float64) MetricTrend {
	t := MetricTrend{
		Metric:    metric,
		Period:    period,
		Direction: DirectionStable,
		Current:   current,
		Previous:  previous,
		Forecast:  Forecast{NextPeriod: current, Confidence: confidence},
	}
	if !hasPrevious {
		return t
	}

	switch {
	case previous != 0:
		t.ChangePercent = (current - previous) / previous * 100
	case current > 0:
		t.ChangePercent = 100
	}
	switch {
	case t.ChangePercent > StableBand:
		t.Direction = DirectionUp
	case t.ChangePercent < -StableBand:
		t.Direction = DirectionDown
	}
	t.Forecast.NextPeriod = math.Max(0, current+(current-previous))
	return t
}
