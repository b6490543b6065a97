// Package protocol implements OSC message decoding, encoding and validation.
// It accepts single OSC messages with int32, float32, string and blob
// arguments, rejects bundles and unsupported type tags, and defines the JSON
// wire form relayed to stream subscribers.
package protocol
