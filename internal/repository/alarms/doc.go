// Package alarms provides alarm authority adapters the observation session reads from.
//
// Memory is an in-process authority that also drives the alarm lifecycle.
// File, Redis and SQL expose alarm registries kept elsewhere; File and Redis
// additionally push change notifications, SQL is polled.
package alarms
