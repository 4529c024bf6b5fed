package persistence

import (
	"sort"
	"sync"
	"time"

	"github.com/pairlink/pairlink-go/pkg/device"
)

// directoryFile is the on-disk layout of the device directory.
type directoryFile struct {
	// Version is the snapshot file format version.
	Version int `json:"version"`

	// SavedAt is when the snapshot was last written.
	SavedAt time.Time `json:"saved_at"`

	// Devices holds every known device record.
	Devices []device.Device `json:"devices,omitempty"`
}

// DirectoryStore is the durable device directory: every device that has ever
// registered, keyed by ID. The in-memory map is authoritative; every mutation
// rewrites the snapshot file before returning.
//
// Mutating methods report the persistence outcome as their error. The
// in-memory change has already taken effect when a non-nil error is
// returned; the store is then dirty and the flush is retried on the next
// mutation.
type DirectoryStore struct {
	mu      sync.Mutex
	path    string
	devices map[string]device.Device
	dirty   bool
}

// OpenDirectoryStore loads the directory snapshot at path.
// A missing file is treated as an empty directory, not an error.
func OpenDirectoryStore(path string) (*DirectoryStore, error) {
	var file directoryFile
	if err := readJSON(path, &file); err != nil {
		return nil, err
	}

	devices := make(map[string]device.Device, len(file.Devices))
	for _, d := range file.Devices {
		devices[d.ID] = d
	}

	return &DirectoryStore{
		path:    path,
		devices: devices,
	}, nil
}

// Upsert inserts or refreshes a device record. A known device keeps its
// FirstSeen and gets only DisplayName and LastSeen updated, so registering
// twice never duplicates a record. Reports whether the device was already
// known.
func (s *DirectoryStore) Upsert(dev device.Device) (known bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.devices[dev.ID]
	if ok {
		existing.DisplayName = dev.DisplayName
		existing.LastSeen = dev.LastSeen
		s.devices[dev.ID] = existing
	} else {
		s.devices[dev.ID] = dev
	}

	return ok, s.persistLocked()
}

// Get returns the device record for id.
func (s *DirectoryStore) Get(id string) (device.Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, ok := s.devices[id]
	return dev, ok
}

// Remove deletes the record for id. Removing an unknown id is a no-op.
// Reports whether a record was removed.
func (s *DirectoryStore) Remove(id string) (removed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[id]; !ok {
		return false, nil
	}
	delete(s.devices, id)

	return true, s.persistLocked()
}

// Touch updates the LastSeen timestamp for id, typically on disconnect.
// Reports whether the device is known.
func (s *DirectoryStore) Touch(id string, t time.Time) (known bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, ok := s.devices[id]
	if !ok {
		return false, nil
	}
	dev.LastSeen = t
	s.devices[id] = dev

	return true, s.persistLocked()
}

// All returns a copy of every record, sorted by device ID.
func (s *DirectoryStore) All() []device.Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.allLocked()
}

// Len returns the number of known devices.
func (s *DirectoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.devices)
}

// Dirty reports whether the last flush failed and a retry is pending.
func (s *DirectoryStore) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dirty
}

// Flush rewrites the snapshot unconditionally. Used at shutdown and to retry
// after a failed write.
func (s *DirectoryStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.persistLocked()
}

func (s *DirectoryStore) allLocked() []device.Device {
	all := make([]device.Device, 0, len(s.devices))
	for _, d := range s.devices {
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

func (s *DirectoryStore) persistLocked() error {
	file := directoryFile{
		Version: SnapshotVersion,
		SavedAt: time.Now(),
		Devices: s.allLocked(),
	}
	if err := writeJSON(s.path, file, 0644); err != nil {
		s.dirty = true
		return err
	}
	s.dirty = false
	return nil
}
