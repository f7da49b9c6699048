// Package observer runs the alarm-observer process: it builds the alarm source
// from configuration, observes it, and serves the event stream over gRPC,
// websocket and the configured relays.
package observer
