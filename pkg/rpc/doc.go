// Package rpc implements the wire protocol of NotebookLM's batchexecute endpoint.
//
// The package is pure: it performs no I/O. It encodes outbound calls into the
// form body the host expects, decodes the envelope the host sends back,
// classifies failures into a closed set of kinds, and decides whether a failed
// attempt is worth repeating.
//
// # Request envelope
//
// A call is serialized as
//
//	f.req=<percent-encoded [[[rpcID, "<compact JSON params>", null, "generic"]]]>&at=<csrf token>
//
// The params array is JSON-encoded twice: once on its own, and again as a
// string element of the outer envelope.
//
// # Response envelope
//
// Responses start with the anti-XSSI prefix ")]}'" and a newline, optionally
// followed by a line holding a byte count, then a JSON line of the form
//
//	[["wrb.fr", "<rpcID>", "<payload as a JSON string>", ...], ...]
//
// Decode strips the prefix, skips the byte count, and unwraps the payload at
// index [0][2], parsing it a second time when it is a string.
//
// # Errors
//
// Every failure surfaced by this package is an *Error whose Kind is one of
// RateLimited, ServerError, ClientError, AuthExpired, MalformedResponse or
// TransportFailure. Use errors.Is with the Err* sentinels or KindOf to branch
// on the kind.
//
// # Retries
//
// Policy holds the retry decision and backoff computation. It is a value type
// so each caller can carry its own configuration.
package rpc
