package persistence

import (
	"sort"
	"sync"
	"time"

	"github.com/pairlink/pairlink-go/pkg/device"
)

// pairingsFile is the on-disk layout of the pairing set.
type pairingsFile struct {
	// Version is the snapshot file format version.
	Version int `json:"version"`

	// SavedAt is when the snapshot was last written.
	SavedAt time.Time `json:"saved_at"`

	// Pairings holds every trust relationship in canonical order.
	Pairings []pairingEntry `json:"pairings,omitempty"`
}

type pairingEntry struct {
	DeviceA  string    `json:"device_a"`
	DeviceB  string    `json:"device_b"`
	PairedAt time.Time `json:"paired_at"`
}

// PairingStore is the durable set of trusted device pairs. Pairs are
// unordered: Add, Contains, and Remove accept the two IDs in either order
// and normalize internally.
//
// Same persistence contract as DirectoryStore: in-memory effect first,
// snapshot rewritten before the mutation returns, dirty-flag retry on
// flush failure.
type PairingStore struct {
	mu    sync.Mutex
	path  string
	pairs map[device.Pair]time.Time
	dirty bool
}

// OpenPairingStore loads the pairing snapshot at path.
// A missing file is treated as an empty set, not an error.
func OpenPairingStore(path string) (*PairingStore, error) {
	var file pairingsFile
	if err := readJSON(path, &file); err != nil {
		return nil, err
	}

	pairs := make(map[device.Pair]time.Time, len(file.Pairings))
	for _, e := range file.Pairings {
		pairs[device.NewPair(e.DeviceA, e.DeviceB)] = e.PairedAt
	}

	return &PairingStore{
		path:  path,
		pairs: pairs,
	}, nil
}

// Add records a trust relationship between a and b. Adding an existing pair
// in either order is a no-op. Reports whether the pair was new.
func (s *PairingStore) Add(a, b string) (added bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := device.NewPair(a, b)
	if _, ok := s.pairs[pair]; ok {
		return false, nil
	}
	s.pairs[pair] = time.Now()

	return true, s.persistLocked()
}

// Contains reports whether a and b are paired, in either order.
func (s *PairingStore) Contains(a, b string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pairs[device.NewPair(a, b)]
	return ok
}

// Remove deletes the pairing between a and b, in either order. Removing an
// absent pair is a no-op. Reports whether a pairing was removed.
func (s *PairingStore) Remove(a, b string) (removed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := device.NewPair(a, b)
	if _, ok := s.pairs[pair]; !ok {
		return false, nil
	}
	delete(s.pairs, pair)

	return true, s.persistLocked()
}

// PartnersOf returns the IDs paired with id, sorted.
func (s *PairingStore) PartnersOf(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var partners []string
	for pair := range s.pairs {
		if pair.Contains(id) {
			partners = append(partners, pair.Other(id))
		}
	}
	sort.Strings(partners)
	return partners
}

// All returns a copy of every pair, sorted canonically.
func (s *PairingStore) All() []device.Pair {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.allLocked()
}

// Len returns the number of pairings.
func (s *PairingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pairs)
}

// Dirty reports whether the last flush failed and a retry is pending.
func (s *PairingStore) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dirty
}

// Flush rewrites the snapshot unconditionally.
func (s *PairingStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.persistLocked()
}

func (s *PairingStore) allLocked() []device.Pair {
	all := make([]device.Pair, 0, len(s.pairs))
	for pair := range s.pairs {
		all = append(all, pair)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].A != all[j].A {
			return all[i].A < all[j].A
		}
		return all[i].B < all[j].B
	})
	return all
}

func (s *PairingStore) persistLocked() error {
	entries := make([]pairingEntry, 0, len(s.pairs))
	for _, pair := range s.allLocked() {
		entries = append(entries, pairingEntry{
			DeviceA:  pair.A,
			DeviceB:  pair.B,
			PairedAt: s.pairs[pair],
		})
	}
	file := pairingsFile{
		Version:  SnapshotVersion,
		SavedAt:  time.Now(),
		Pairings: entries,
	}
	if err := writeJSON(s.path, file, 0644); err != nil {
		s.dirty = true
		return err
	}
	s.dirty = false
	return nil
}
