package persistence

import (
	"path/filepath"
	"testing"
	"time"
)

func TestIdentityStore(t *testing.T) {
	t.Run("LoadNonExistent", func(t *testing.T) {
		dir := t.TempDir()
		store := NewIdentityStore(filepath.Join(dir, "host_identity.json"))

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got != nil {
			t.Errorf("Load() = %v, want nil for non-existent file", got)
		}
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		dir := t.TempDir()
		store := NewIdentityStore(filepath.Join(dir, "host_identity.json"))

		created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		id := &Identity{
			DeviceID:   "host_alpha_3f9a2c8b1d4e",
			DeviceName: "Alpha Workstation",
			Hostname:   "alpha",
			CreatedAt:  created,
		}

		if err := store.Save(id); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got == nil {
			t.Fatal("Load() = nil, want identity")
		}
		if got.DeviceID != id.DeviceID {
			t.Errorf("DeviceID = %q, want %q", got.DeviceID, id.DeviceID)
		}
		if got.DeviceName != id.DeviceName {
			t.Errorf("DeviceName = %q, want %q", got.DeviceName, id.DeviceName)
		}
		if got.Hostname != id.Hostname {
			t.Errorf("Hostname = %q, want %q", got.Hostname, id.Hostname)
		}
		if !got.CreatedAt.Equal(created) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
		}
	})

	t.Run("SaveFillsCreatedAt", func(t *testing.T) {
		dir := t.TempDir()
		store := NewIdentityStore(filepath.Join(dir, "host_identity.json"))

		if err := store.Save(&Identity{DeviceID: "host_beta_000000000001", Hostname: "beta"}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got.CreatedAt.IsZero() {
			t.Error("CreatedAt is zero, want auto-filled timestamp")
		}
	})
}
