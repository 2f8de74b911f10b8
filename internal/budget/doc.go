// Package budget validates the latest observed metrics against named
// threshold profiles.
//
// Two profiles are built in:
//
//	metric        development       production
//	load-time     200 / 500 / 1000  100 / 300 / 600   ms
//	render-time   100 / 250 / 500    50 / 150 / 300   ms
//	memory        100 / 200 / 400    50 / 100 / 200   MB
//
// A value above its good threshold is a violation and raises an alert,
// critical when it is more than 1.5x the good threshold. Exactly one
// profile is active at a time.
package budget
