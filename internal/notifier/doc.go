// Package notifier formats broadcaster transitions into chat messages and
// delivers them through a transport.Sender.
//
// Delivery is synchronous from the caller's point of view: the watch cycle
// calls Notify for each transition into Live and gets back nil or a
// *DeliveryError. Failed sends are never retried; the next transition
// produces the next message.
//
// # Pacing
//
// Sends share a token bucket (golang.org/x/time/rate) so a burst of
// broadcasters going live in the same cycle stays below the chat platform's
// flood limits.
//
// # History
//
// For operator visibility the service keeps a small in-memory history of
// recent deliveries, exposed through the ops /status endpoint.
package notifier
