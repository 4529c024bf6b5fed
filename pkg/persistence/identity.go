package persistence

import (
	"sync"
	"time"
)

// Identity is the persisted host identity record. It is written once on
// first start and reused on every subsequent start, so the device ID stays
// stable across restarts.
type Identity struct {
	// DeviceID is the stable device identifier.
	DeviceID string `json:"device_id"`

	// DeviceName is the human-readable display name.
	DeviceName string `json:"device_name"`

	// Hostname is the machine hostname the identity was derived on.
	Hostname string `json:"hostname"`

	// CreatedAt is when the identity was first generated.
	CreatedAt time.Time `json:"created_at"`
}

// IdentityStore manages the host identity file.
type IdentityStore struct {
	mu   sync.Mutex
	path string
}

// NewIdentityStore creates an identity store backed by the file at path.
func NewIdentityStore(path string) *IdentityStore {
	return &IdentityStore{path: path}
}

// Load reads the identity record from disk.
// Returns nil, nil if the file doesn't exist yet.
func (s *IdentityStore) Load() (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id Identity
	if err := readJSON(s.path, &id); err != nil {
		return nil, err
	}
	if id.DeviceID == "" {
		return nil, nil
	}
	return &id, nil
}

// Save persists the identity record atomically.
func (s *IdentityStore) Save(id *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id.CreatedAt.IsZero() {
		id.CreatedAt = time.Now()
	}
	return writeJSON(s.path, id, 0600)
}
