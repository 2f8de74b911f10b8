package types

import "strings"

// Metric name suffixes for per-resource timing samples.
const (
	LoadTimeSuffix   = "load_time"
	RenderTimeSuffix = "render_time"
)

// VariantSeparator joins a resource id and an A/B variant in metric names.
const VariantSeparator = "@"

// MetricName builds "<resource>[@<variant>].<suffix>".
func MetricName(resourceID, variant, suffix string) string {
	if variant != "" {
		return resourceID + VariantSeparator + variant + "." + suffix
	}
	return resourceID + "." + suffix
}

// LoadTimeMetric names the load-time series of a resource or variant.
func LoadTimeMetric(resourceID, variant string) string {
	return MetricName(resourceID, variant, LoadTimeSuffix)
}

// RenderTimeMetric names the render-time series of a resource or variant.
func RenderTimeMetric(resourceID, variant string) string {
	return MetricName(resourceID, variant, RenderTimeSuffix)
}

// ParseMetricName splits a name built by MetricName. ok is false for names
// without a suffix.
func ParseMetricName(name string) (resourceID, variant, suffix string, ok bool) {
	dot := strings.LastIndex(name, ".")
	if dot <= 0 || dot == len(name)-1 {
		return "", "", "", false
	}
	base, suffix := name[:dot], name[dot+1:]
	if at := strings.Index(base, VariantSeparator); at >= 0 {
		return base[:at], base[at+1:], suffix, true
	}
	return base, "", suffix, true
}
