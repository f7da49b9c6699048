// Package relay forwards bus events to external brokers so consumers outside
// the observer process can follow alarm changes.
//
// Every relay is a bus handler: a failed delivery returns an error and the bus
// retries it. Each relayed message carries the event sequence so consumers can
// drop duplicates.
package relay
