// Package relay connects decoded OSC messages to their consumers.
//
// The Engine is the single owner of the relay state:
//   - LastValue keeps the most recent message for pull-based queries
//   - the stream.Registry tracks connected subscribers
//   - the Broadcaster serializes each message once and fans it out
//
// Delivery is best effort. A subscriber that cannot accept a message is
// removed from the registry and closed; other subscribers are unaffected.
// Messages dispatched from a single goroutine reach each subscriber in
// dispatch order.
package relay
