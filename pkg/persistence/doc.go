// Package persistence provides the durable state for the relay and host
// processes: the device directory, the pairing set, and the host identity
// record, each serialized to its own JSON file.
//
// Every mutation rewrites the full snapshot atomically (temp file in the
// same directory, then rename) before returning, so a crash mid-write can
// never leave a corrupt store. A failed flush marks the store dirty and the
// write is retried on the next mutation or explicit Flush; the in-memory
// state is authoritative in the meantime.
package persistence
