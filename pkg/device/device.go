package device

import (
	"errors"
	"fmt"
	"time"
)

// Errors returned by identity validation.
var (
	// ErrInvalidDeviceID indicates a device ID that is empty, too long, or
	// contains characters outside the allowed set.
	ErrInvalidDeviceID = errors.New("invalid device id")

	// ErrInvalidClass indicates an unrecognized device class string.
	ErrInvalidClass = errors.New("invalid device class")
)

// MaxDeviceIDLength is the longest accepted device ID.
const MaxDeviceIDLength = 128

// Class identifies which side of a pairing a device plays.
type Class string

const (
	// ClassHost is the code-displaying side that answers relayed payloads.
	ClassHost Class = "host"

	// ClassCompanion is the code-entering side that initiates pairing.
	ClassCompanion Class = "companion"
)

// ParseClass converts a wire or file string into a Class.
func ParseClass(s string) (Class, error) {
	switch Class(s) {
	case ClassHost:
		return ClassHost, nil
	case ClassCompanion:
		return ClassCompanion, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidClass, s)
	}
}

// Valid returns true if the class is one of the known values.
func (c Class) Valid() bool {
	return c == ClassHost || c == ClassCompanion
}

// String returns the class as its wire string.
func (c Class) String() string {
	return string(c)
}

// Device is a directory entry for a device that has registered with the
// relay at least once.
type Device struct {
	// ID is the stable device identifier.
	ID string `json:"device_id"`

	// Class is the device role, host or companion.
	Class Class `json:"device_class"`

	// DisplayName is the human-readable name sent at registration.
	DisplayName string `json:"display_name"`

	// FirstSeen is when the device first registered.
	FirstSeen time.Time `json:"first_seen"`

	// LastSeen is updated on every registration and disconnect.
	LastSeen time.Time `json:"last_seen"`
}

// Pair is an unordered pairing between two device IDs.
//
// The zero Pair is not meaningful; construct pairs with NewPair so the
// IDs are held in canonical order.
type Pair struct {
	// A is the lexically smaller device ID.
	A string `json:"device_a"`

	// B is the lexically larger device ID.
	B string `json:"device_b"`
}

// NewPair returns the normalized pair of a and b.
func NewPair(a, b string) Pair {
	if b < a {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

// Contains returns true if id is one of the pair's members.
func (p Pair) Contains(id string) bool {
	return p.A == id || p.B == id
}

// Other returns the partner of id, or "" if id is not a member.
func (p Pair) Other(id string) string {
	switch id {
	case p.A:
		return p.B
	case p.B:
		return p.A
	default:
		return ""
	}
}
