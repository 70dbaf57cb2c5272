// Package receiver implements the gRPC command surface, the
// wardwatch.v1.AlertService endpoint that nurse-call stations and other
// backends use to raise and act on alerts.
//
// Messages are plain Go structs carried by a JSON codec registered under the
// content-subtype "json"; no generated protobuf code is involved. Client
// stubs set the subtype on every call, so any grpc.ClientConn can talk to the
// service.
//
// Authentication is enforced upstream by the gRPC server interceptor (see
// package auth). The receiver checks hospital access for the principal the
// interceptor attached and maps engine errors to status codes:
//
//	validation    InvalidArgument
//	not found     NotFound
//	invalid state FailedPrecondition
//	forbidden     PermissionDenied
//	persistence   Unavailable (applied alert in the trailer)
package receiver
