// Package conn owns live nsqd TCP sessions.
//
// Conn runs the V2 handshake, serializes commands, correlates acknowledged
// commands through a single pending slot, answers heartbeats, and routes
// frames to Handlers. One read goroutine per Conn; a Conn is single use and
// is never reopened.
//
// Reconnecting wraps Conn construction with a fixed-delay reconnect loop and
// open/close hooks that higher layers (subscriptions, writers) use to restore
// their state on every fresh Conn.
package conn
