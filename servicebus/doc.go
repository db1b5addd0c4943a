// Package servicebus implements the Service Bus: a name-addressable RPC
// surface shared by every subsystem that needs to be
// called from another participant (clock sync, data registry introspection,
// job registry introspection, scheduler introspection), plus the discovery
// layer that lets participants in the same system find one another.
//
// RPC dispatch is modelled on a hand-registered grpc.ServiceDesc carrying a
// single generic method, rather than generated protoc stubs: every call is
// an Envelope (service name, method name, string-encoded arguments)
// marshalled into a wrapperspb.BytesValue payload. This mirrors the
// register-by-name, dispatch-by-reflection pattern in inprocgrpc's handler
// map, generalised so a JSON-RPC-shaped envelope can ride over it instead of
// a statically typed protobuf message per method.
package servicebus
