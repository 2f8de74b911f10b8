package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDateRangeNormalize(t *testing.T) {
	r := DateRange{
		From: time.Date(2024, 3, 1, 13, 45, 0, 0, time.UTC),
		To:   time.Date(2024, 3, 31, 2, 0, 0, 0, time.UTC),
	}
	n := r.Normalize()

	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), n.From)
	assert.Equal(t, time.Date(2024, 3, 31, 23, 59, 59, int(999*time.Millisecond), time.UTC), n.To)
	assert.Equal(t, "2024-03-01_2024-03-31", r.String())
}

func TestDateRangeNormalizeConvertsToUTC(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	r := DateRange{
		From: time.Date(2024, 3, 1, 22, 0, 0, 0, est), // 2024-03-02 03:00 UTC
		To:   time.Date(2024, 3, 2, 1, 0, 0, 0, est),
	}
	assert.Equal(t, "2024-03-02_2024-03-02", r.String())
}

func TestTimeWindow(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	w := Last(now, 24*time.Hour)

	assert.True(t, w.Contains(now))
	assert.True(t, w.Contains(now.Add(-24*time.Hour)))
	assert.False(t, w.Contains(now.Add(time.Second)))
	assert.Equal(t, 24*time.Hour, w.Duration())
}

func TestEnumValidity(t *testing.T) {
	assert.True(t, PriorityCritical.Valid())
	assert.False(t, Priority("urgent").Valid())
	assert.True(t, SourceAction.Valid())
	assert.False(t, SourceKind("grpc").Valid())
	assert.True(t, ModeWriteOnly.Valid())
	assert.False(t, DataMode("append").Valid())
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityHigh.Rank(), SeverityWarning.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Zero(t, Severity("").Rank())
}

func TestClockOr(t *testing.T) {
	var c Clock
	assert.WithinDuration(t, time.Now(), c.Or()(), time.Second)

	pinned := time.Unix(100, 0)
	c = func() time.Time { return pinned }
	assert.Equal(t, pinned, c.Or()())
}

func TestMetricNames(t *testing.T) {
	assert.Equal(t, "orders-list.load_time", LoadTimeMetric("orders-list", ""))
	assert.Equal(t, "orders-list@v2.render_time", RenderTimeMetric("orders-list", "v2"))

	tests := []struct {
		name                      string
		resource, variant, suffix string
		ok                        bool
	}{
		{"orders-list.load_time", "orders-list", "", "load_time", true},
		{"orders-list@v2.render_time", "orders-list", "v2", "render_time", true},
		{"sales.chart.load_time", "sales.chart", "", "load_time", true},
		{"memory", "", "", "", false},
		{"trailing.", "", "", "", false},
	}
	for _, tt := range tests {
		r, v, s, ok := ParseMetricName(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.resource, r, tt.name)
		assert.Equal(t, tt.variant, v, tt.name)
		assert.Equal(t, tt.suffix, s, tt.name)
	}
}
