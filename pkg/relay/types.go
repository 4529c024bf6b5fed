package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pairlink/pairlink-go/pkg/log"
	"github.com/pairlink/pairlink-go/pkg/transport"
)

// Relay errors. For failures that are answered over the wire, the
// error text is the message the client receives.
var (
	ErrNotRegistered  = errors.New("not registered")
	ErrUnknownDevice  = errors.New("unknown device")
	ErrNotPaired      = errors.New("not paired with target device")
	ErrTargetOffline  = errors.New("target device offline")
	ErrNoHost         = errors.New("no hosts available")
	ErrInvalidCode    = errors.New("invalid pairing code format")
	ErrDeliveryFailed = errors.New("delivery failed")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrAlreadyStarted = errors.New("service already started")
)

// Snapshot file names under the data directory.
const (
	DevicesFile  = "devices.json"
	PairingsFile = "pairings.json"
)

// ServiceState represents the relay service state.
type ServiceState uint8

const (
	// StateIdle - service created but not started.
	StateIdle ServiceState = iota

	// StateStarting - service is starting up.
	StateStarting

	// StateRunning - service is accepting connections.
	StateRunning

	// StateStopping - service is shutting down.
	StateStopping

	// StateStopped - service has stopped.
	StateStopped
)

// String returns the state name.
func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a relay Service.
type Config struct {
	// Address is the address to listen on (e.g., ":8765").
	Address string

	// DataDir is the directory holding the devices.json and
	// pairings.json snapshots. Created if missing.
	DataDir string

	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	// Connections are plain TCP otherwise.
	TLSCertFile string
	TLSKeyFile  string

	// MaxMessageSize caps inbound frames (default: 64KB).
	MaxMessageSize uint32

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger captures wire and service level protocol events
	// (optional).
	ProtocolLogger log.Logger

	// Audit receives a record of relay activity (optional).
	Audit AuditSink
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Address: fmt.Sprintf(":%d", transport.DefaultPort),
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data directory is required", ErrInvalidConfig)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("%w: TLS requires both certificate and key files", ErrInvalidConfig)
	}
	return nil
}

// Audit event kinds.
const (
	AuditRegistered  = "registered"
	AuditPaired      = "paired"
	AuditUnpaired    = "unpaired"
	AuditRelayed     = "relayed"
	AuditRelayFailed = "relay_failed"
)

// AuditEvent is one record of relay activity.
type AuditEvent struct {
	// Time the event occurred.
	Time time.Time

	// Kind is one of the Audit* constants.
	Kind string

	// DeviceID is the device that triggered the event.
	DeviceID string

	// PeerID is the other device involved, if any.
	PeerID string

	// Detail carries kind-specific context (device name, payload kind,
	// failure reason).
	Detail string
}

// AuditSink receives relay activity records. pkg/journal provides a
// SQLite-backed implementation.
type AuditSink interface {
	Record(ctx context.Context, e AuditEvent) error
}
