// Package server implements the UDP listener that receives OSC packets and the HTTP server
// that exposes the last received message, the WebSocket stream endpoint and the
// monitoring endpoints (/health, /stats, /metrics).
package server
