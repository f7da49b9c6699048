// Package session implements the alarm observation session.
//
// A Session captures snapshots from an alarm source, either when the source
// pushes a change notification or on a polling interval, diffs each snapshot
// against the last published one and hands the resulting changes to a broker.
// Ticks run on a single goroutine and never overlap.
package session
