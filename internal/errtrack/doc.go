// Package errtrack records resource failures in a bounded log and derives
// error rates from it.
//
// The rate denominator is the number of load-time samples the metrics
// recorder holds for the resource, so a resource whose loads all fail has
// no samples and reports a rate of 0.
package errtrack
