// Package bridge implements the gRPC transport that carries the observation
// session and its event stream across the process boundary.
//
// The service is described by hand with well-known protobuf messages
// (structpb, emptypb, wrapperspb), so no generated code is needed on either side.
package bridge
