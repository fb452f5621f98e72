// Package scheduler runs one job on a schedule, strictly serialized.
//
// The job runs once immediately on Start and then on every firing of the
// schedule. A firing that arrives while the previous run is still going is
// skipped (robfig/cron SkipIfStillRunning), so runs never overlap.
package scheduler
