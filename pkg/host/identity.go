package host

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/pairlink/pairlink-go/pkg/device"
	"github.com/pairlink/pairlink-go/pkg/persistence"
)

// loadOrCreateIdentity returns the persisted host identity, deriving and
// saving a fresh one on first start. The device ID never changes while
// the identity file exists; a differing display name only updates the
// name.
func loadOrCreateIdentity(dataDir, deviceName string) (persistence.Identity, bool, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return persistence.Identity{}, false, fmt.Errorf("create data directory: %w", err)
	}

	store := persistence.NewIdentityStore(filepath.Join(dataDir, IdentityFile))

	existing, err := store.Load()
	if err != nil {
		return persistence.Identity{}, false, fmt.Errorf("load identity: %w", err)
	}
	if existing != nil {
		if deviceName != "" && deviceName != existing.DeviceName {
			existing.DeviceName = deviceName
			if err := store.Save(existing); err != nil {
				return persistence.Identity{}, false, fmt.Errorf("rename identity: %w", err)
			}
		}
		return *existing, false, nil
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "host"
	}

	deviceID, err := device.DeriveID(device.ClassHost, hostname, currentUsername())
	if err != nil {
		return persistence.Identity{}, false, fmt.Errorf("derive device id: %w", err)
	}

	if deviceName == "" {
		deviceName = hostname
	}

	identity := persistence.Identity{
		DeviceID:   deviceID,
		DeviceName: deviceName,
		Hostname:   hostname,
		CreatedAt:  time.Now(),
	}
	if err := store.Save(&identity); err != nil {
		return persistence.Identity{}, false, fmt.Errorf("save identity: %w", err)
	}

	return identity, true, nil
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "user"
}
