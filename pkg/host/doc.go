// Package host implements the host-side relay client.
//
// A Session owns a stable device identity derived on first start and
// persisted under the data directory. On every connect it registers
// with the relay; if the relay reports existing pairings the session is
// immediately ready to relay, otherwise it issues a 6-digit pairing
// code and surfaces it through an event for out-of-band display.
//
// The session keeps itself connected: transport loss triggers
// fixed-interval reconnect attempts that continue until Stop. Pairing
// offers forwarded by the relay are decided against the issued code by
// a pairing.Machine (exact match, single use, passive expiry).
//
// Relayed payloads are dispatched by kind to registered
// PayloadHandlers. Payload semantics live entirely with the handlers;
// the session only answers ping payloads natively and reports
// unhandled kinds back to the sender.
//
// Example usage:
//
//	config := host.DefaultConfig()
//	config.RelayAddress = "relay.example.com:8765"
//	config.DataDir = "/var/lib/pairlink"
//
//	session, err := host.NewSession(config)
//	session.AddEventHandler(func(e host.Event) {
//		if e.Type == host.EventCodeIssued {
//			fmt.Println("PAIRING CODE:", e.Code)
//		}
//	})
//	session.Start(ctx)
//	defer session.Stop()
package host
