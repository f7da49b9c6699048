// Package alarm contains core domain types for alarm observation.
//
// It defines the alarm State machine, the immutable Alarm value, the Snapshot
// taken from an alarm authority at one instant and the Diff function that
// classifies the difference between two snapshots into typed Change values.
// Everything here is free of I/O so it can be tested in isolation.
package alarm
