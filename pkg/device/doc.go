// Package device defines the device identity model shared by the relay
// and both endpoint roles.
//
// # Identity
//
// Every participant is identified by a stable device ID string:
//
//	<class>_<hostname>_<12 hex chars>
//
// The hex suffix is derived from the machine identity (hostname and
// username) with HKDF-SHA256, so the same machine always derives the
// same ID without storing a random seed. Hosts persist the derived ID
// alongside its creation time; the ID is never regenerated while that
// record exists.
//
// # Classes
//
// Devices are either hosts (the side that displays pairing codes and
// answers relayed payloads) or companions (the side that initiates
// pairing and sends payloads). The relay uses the class to select a
// pairing target and otherwise treats both classes alike.
//
// # Pairs
//
// A Pair is an unordered, normalized pairing between two device IDs.
// NewPair sorts its arguments, so Pair values compare equal regardless
// of argument order and can be used directly as map keys.
package device
