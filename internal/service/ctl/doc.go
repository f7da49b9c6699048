// Package ctl implements the alarm-ctl commands on top of the gRPC bridge client.
//
// Watch doubles as a minimal presentation host: it follows the event stream,
// reconnects when the observer goes away and can hand alerting alarms to a command.
package ctl
