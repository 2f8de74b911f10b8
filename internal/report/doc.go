/*
Package report builds periodic performance reports from recorded samples and
error events.

A report scores every resource with load-time samples in its window:

	score = round(0.4 x max(0, 100 - load/10)
	            + 0.3 x max(0, 100 - render/5)
	            + 0.3 x max(0, 100 - errorRate x 1000))

so 0ms, 0ms and no errors scores 100, and 1000ms, 500ms and a 10% error
rate scores 0. An empty report scores 100.

Trends compare the report window with the previous window of the same
length. Changes within 5% are stable; the forecast extends the change
linearly by one period.

Scheduler regenerates daily and weekly reports on a ticker and hands each one
to its Notifiers until its context is canceled.
*/
package report
