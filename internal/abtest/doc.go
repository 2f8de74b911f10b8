/*
Package abtest compares two implementations of a resource.

Samples for each arm are recorded under the variant-tagged metric names
("checkout@B.load_time"), so the analyzer reads both arms from the same
recorder over the test window [StartDate, EndDate or now].

The verdict compares mean load time:

	improvement = (control - test) / control x 100
	winner      = test if improvement > 5, control if < -5, else inconclusive
	confidence  = min(95, smaller arm size / 10)

Confidence is a sample-size heuristic. SignificanceLevel carries a p-value
from a normal approximation to Welch's t test for callers that want one.
*/
package abtest
