// Package watch holds the live-state registry and the cycle that drives it.
//
// A cycle resolves names when the configured list changed, polls the status
// API once for every tracked id, applies the snapshot to the Tracker and hands
// each transition into Live to the notifier. A failed resolve or poll leaves
// the registry exactly as it was.
package watch
