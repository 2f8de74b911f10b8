package types

import (
	"fmt"
	"time"
)

// Priority ranks how important fresh data is for a resource.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// SourceKind is the transport a resource's data is fetched through.
type SourceKind string

const (
	SourceREST   SourceKind = "rest"
	SourceQuery  SourceKind = "query"
	SourceBatch  SourceKind = "batch"
	SourceAction SourceKind = "action"
)

// Valid reports whether s is one of the known source kinds.
func (s SourceKind) Valid() bool {
	switch s {
	case SourceREST, SourceQuery, SourceBatch, SourceAction:
		return true
	}
	return false
}

// DataMode describes how a resource's data changes.
type DataMode string

const (
	ModeReadOnly  DataMode = "read-only"
	ModeReadWrite DataMode = "read-write"
	ModeRealTime  DataMode = "real-time"
	ModeWriteOnly DataMode = "write-only"
)

// Valid reports whether m is one of the known data modes.
func (m DataMode) Valid() bool {
	switch m {
	case ModeReadOnly, ModeReadWrite, ModeRealTime, ModeWriteOnly:
		return true
	}
	return false
}

// Category classifies a performance sample.
type Category string

const (
	CategoryLoadTime   Category = "load-time"
	CategoryRenderTime Category = "render-time"
	CategoryMemory     Category = "memory"
	CategoryCustom     Category = "custom"
)

// Severity is the severity of an alert or issue.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for sorting; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityWarning, SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// ErrorType classifies a recorded error event.
type ErrorType string

const (
	ErrorTypeLoad      ErrorType = "load"
	ErrorTypeRender    ErrorType = "render"
	ErrorTypeDataFetch ErrorType = "data-fetch"
	ErrorTypeRuntime   ErrorType = "runtime"
)

// Clock returns the current time. Components take one so tests can pin time.
type Clock func() time.Time

// Or returns c, or time.Now when c is nil.
func (c Clock) Or() Clock {
	if c == nil {
		return time.Now
	}
	return c
}

// TimeWindow is a closed interval [Start, End].
type TimeWindow struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Duration returns the window length.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Last returns the window of length d ending at now.
func Last(now time.Time, d time.Duration) TimeWindow {
	return TimeWindow{Start: now.Add(-d), End: now}
}

// DateRange is the data range a resource query covers.
type DateRange struct {
	From time.Time `json:"from" yaml:"from"`
	To   time.Time `json:"to" yaml:"to"`
}

// Span returns the length of the range.
func (r DateRange) Span() time.Duration {
	return r.To.Sub(r.From)
}

// Normalize floors From to the start of its UTC day and ceils To to the
// last millisecond of its UTC day.
func (r DateRange) Normalize() DateRange {
	from := r.From.UTC()
	to := r.To.UTC()
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(to.Year(), to.Month(), to.Day(), 23, 59, 59, int(999*time.Millisecond), time.UTC)
	return DateRange{From: start, To: end}
}

// String renders the range as YYYY-MM-DD_YYYY-MM-DD after normalization.
func (r DateRange) String() string {
	n := r.Normalize()
	return fmt.Sprintf("%s_%s", n.From.Format("2006-01-02"), n.To.Format("2006-01-02"))
}
