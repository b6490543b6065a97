// Package stream tracks live stream subscribers and delivers payloads to them.
// It provides the concurrent subscriber registry with point-in-time snapshots
// and a WebSocket subscriber with a bounded, ordered send queue and
// ping/pong liveness checks.
package stream
