// Package broker exposes the privileged installer service over gRPC.
//
// Messages are plain Go structs encoded with the CBOR codec registered by
// this package; clients select it with the "cbor" content subtype, which
// the Client stub does for every call.
package broker
