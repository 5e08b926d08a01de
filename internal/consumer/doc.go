// Package consumer turns many nsqd connections into one stream of messages.
//
// A Subscription keeps a single nsqd subscribed across reconnects. A Lookup
// tracks the producers nsqlookupd reports for a topic and keeps one
// Subscription per producer. A Reader combines static nsqd addresses and
// lookups behind a shared Queue.
package consumer
