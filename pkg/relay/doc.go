// Package relay implements the rendezvous service between host and
// companion devices.
//
// The relay owns three pieces of state: a connection registry (live
// sessions, in-memory), a durable device directory, and a durable
// pairing store. It never interprets relayed payloads; it checks
// identity and trust, then forwards.
//
// A Service accepts framed connections from pkg/transport. Every
// connection must send a register message before anything else. After
// that the relay brokers pairing offers between companions and hosts,
// routes relay_message envelopes between paired devices, and answers
// failures to the initiator only. Delivery is fail-fast: there is no
// queuing for offline peers and no retry.
package relay
