// Package transport provides the framed TCP transport shared by the
// relay server and device clients.
//
// The transport layer handles:
//   - Length-prefixed message framing
//   - Optional TLS on both the listening and dialing side
//   - Per-connection read loops with connection IDs
//   - Keep-alive scheduling for device connections
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      JSON Envelopes            │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│     TLS 1.2+ (optional)        │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// Frames carry a 4-byte big-endian length followed by the payload.
// The payload bytes are opaque at this layer; routing happens on the
// JSON envelope one level up.
//
// # Concurrency
//
// Every accepted connection gets exactly one read loop goroutine, so
// messages from a single device are handled sequentially. Writes are
// serialized per connection and safe to call from any goroutine.
//
// # Keep-Alive
//
// KeepAlive schedules periodic liveness probes without owning the
// probe format. Devices wire it to the ping and pong envelopes:
//   - Ping interval: 30 seconds
//   - Pong timeout: 5 seconds
//   - Max missed pongs: 3
package transport
