package device

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"unicode"

	"golang.org/x/crypto/hkdf"
)

// FingerprintLength is the length of a device fingerprint in hex characters.
const FingerprintLength = 16

// identitySalt domain-separates device ID derivation from other HKDF uses.
var identitySalt = []byte("pairlink-device-identity-v1")

// DeriveID derives the stable device ID for a machine.
//
// The ID has the form <class>_<hostname>_<12 hex chars>. The suffix is
// HKDF-SHA256 over the hostname and username, keyed by the device class,
// so host and companion roles on the same machine derive distinct IDs.
func DeriveID(class Class, hostname, username string) (string, error) {
	if !class.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidClass, string(class))
	}
	if hostname == "" {
		return "", fmt.Errorf("%w: empty hostname", ErrInvalidDeviceID)
	}

	ikm := []byte(hostname + "\x00" + username)
	kdf := hkdf.New(sha256.New, ikm, identitySalt, []byte(class))

	suffix := make([]byte, 6)
	if _, err := io.ReadFull(kdf, suffix); err != nil {
		return "", fmt.Errorf("failed to derive device id: %w", err)
	}

	id := fmt.Sprintf("%s_%s_%s", class, sanitizeHostname(hostname), hex.EncodeToString(suffix))
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return id, nil
}

// Fingerprint returns a short display fingerprint for a device.
//
// The fingerprint is the first 64 bits (16 hex chars) of
// SHA-256(deviceID ":" displayName). It is shown to users during
// pairing so both sides can spot mismatched identities.
func Fingerprint(deviceID, displayName string) string {
	hash := sha256.Sum256([]byte(deviceID + ":" + displayName))
	return hex.EncodeToString(hash[:8])
}

// ValidateID checks that id is usable as a device identifier.
//
// IDs must be non-empty, at most MaxDeviceIDLength bytes, and free of
// whitespace and control characters.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDeviceID)
	}
	if len(id) > MaxDeviceIDLength {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidDeviceID, len(id), MaxDeviceIDLength)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: contains whitespace or control characters", ErrInvalidDeviceID)
		}
	}
	return nil
}

// sanitizeHostname lowercases the hostname and maps anything outside
// [a-z0-9-] to a hyphen so the ID stays shell and filename safe.
func sanitizeHostname(hostname string) string {
	var b strings.Builder
	b.Grow(len(hostname))
	for _, r := range strings.ToLower(hostname) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "device"
	}
	return out
}
