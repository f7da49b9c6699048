// Package common is the client side of the alarm bridge shared by the CLI tools.
//
// Client wraps the gRPC connection with per-call timeouts and sends the local
// actor (hostname and username) as request metadata. EventStream decodes the
// server-streamed alarm events.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
