// Package connection provides connection lifecycle management for clients
// of the relay.
//
// This package handles:
//   - Backoff between reconnection attempts
//   - Jitter to prevent thundering herd
//   - Connection state tracking
//   - Automatic reconnection on connection loss
//
// # Reconnection Strategy
//
// The default backoff is exponential:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s, 32s
//  3. Maximum delay: 60 seconds
//  4. Continue at 60s until successful
//  5. Reset to 1s on successful reconnection
//
// The host client instead uses FixedBackoff: it retries the relay at a
// constant interval (10 seconds by default) indefinitely until stopped,
// since a host is expected to come back whenever the relay does.
//
// # Jitter
//
// To prevent thundering herd when multiple clients reconnect:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// Fixed-interval backoffs carry no jitter.
package connection
