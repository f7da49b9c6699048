// Package wire converts alarms and bus events to and from protobuf
// structpb values and their protojson text form.
//
// Field names are camelCase so the same payload can be consumed by the gRPC
// bridge, websocket clients in JavaScript and the broker relays.
package wire
