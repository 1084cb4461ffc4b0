// Package gossip spreads messages to the other online nodes.
//
// Delivery is fire-and-forget: Broadcast hands one send per peer to a
// background worker that retries with exponential backoff. A peer that cannot
// be reached after the configured number of attempts is reported through the
// unreachable hook, which degrades its liveness in the registry. Nothing is
// reported back to the caller.
//
// Relayed messages are deduplicated with a rotating pair of bloom filters, so
// that each node forwards a given message at most once.
package gossip
