// Package wire defines the JSON message envelope exchanged between
// devices and the relay.
//
// # Envelope
//
// Every message is a single JSON object with a "type" field selecting
// one of the message structs in this package. Receivers call PeekType
// to route the raw bytes, then Unmarshal into the matching struct.
//
// # Message Flow
//
//	Client -> Relay                 Relay -> Client
//	---------------                 ---------------
//	register                        registered, existing_pairings
//	pair_request                    pair_request (forwarded to host)
//	pair_response                   paired, pairing_failed
//	unpair_device                   unpaired
//	relay_message                   relay_message (forwarded), relay_ack, relay_failed
//	ping                            pong
//	                                error
//
// # Payload Opacity
//
// The payload of a relay_message is carried as json.RawMessage and is
// never interpreted in transit. Only the registered payload handlers on
// the receiving device give it meaning.
package wire
