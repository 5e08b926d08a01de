// Package session owns connection setup settings for nsqd sessions.
//
// Ownership boundary:
// - IDENTIFY handshake payload
// - dial/write timeouts and reconnect backoff
// - frame size limits handed to the reader
package session
