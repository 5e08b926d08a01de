// Package protocol owns the client side of the NSQ V2 wire contract.
//
// Ownership boundary:
// - command builders (verb line + optional length-prefixed body)
// - server error frames as typed errors
// - topic/channel name validation, checked before any network I/O
//
// Frame and message byte layouts live in protocol/frame; handshake and
// reliability settings live in protocol/session.
package protocol
