package host

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pairlink/pairlink-go/pkg/log"
	"github.com/pairlink/pairlink-go/pkg/pairing"
	"github.com/pairlink/pairlink-go/pkg/transport"
)

var (
	// ErrInvalidConfig indicates a configuration problem.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrAlreadyStarted indicates the session was already started.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrNotConnected indicates the session has no registered relay
	// connection right now.
	ErrNotConnected = errors.New("not connected to relay")
)

const (
	// IdentityFile is the identity filename under the data directory.
	IdentityFile = "host_identity.json"

	// DefaultReconnectInterval is the fixed delay between reconnect
	// attempts after the relay connection drops.
	DefaultReconnectInterval = 10 * time.Second

	// DefaultCodeIssueDelay is how long a fresh registration waits for
	// an existing_pairings notification before issuing a pairing code.
	DefaultCodeIssueDelay = 2 * time.Second
)

// Built-in relay payload kinds the session understands without a
// registered handler.
const (
	PayloadPing  = "ping"
	PayloadPong  = "pong"
	PayloadError = "error"
)

// Config configures a host session.
type Config struct {
	// RelayAddress is the relay endpoint to connect to (host:port).
	RelayAddress string

	// DataDir is where the identity file lives.
	DataDir string

	// DeviceName is the human-readable display name. Defaults to the
	// machine hostname. Renaming never changes the device ID.
	DeviceName string

	// CodeWindow is how long an issued pairing code stays valid
	// (default: 10 minutes). Expiry is checked when an offer arrives.
	CodeWindow time.Duration

	// CodeIssueDelay is the wait after registration for the relay to
	// report existing pairings before a new code is issued (default: 2s).
	CodeIssueDelay time.Duration

	// ReconnectInterval is the fixed delay between reconnect attempts
	// (default: 10s). The session retries until Stop is called.
	ReconnectInterval time.Duration

	// TLSCAFile is an optional CA bundle for verifying the relay.
	TLSCAFile string

	// TLSServerName overrides the expected relay certificate name.
	TLSServerName string

	// TLSInsecureSkipVerify disables certificate verification.
	TLSInsecureSkipVerify bool

	// Logger for debug output (optional).
	Logger *slog.Logger

	// ProtocolLogger for structured event capture (optional).
	ProtocolLogger log.Logger
}

// DefaultConfig returns a config with the default relay endpoint and
// timing parameters.
func DefaultConfig() Config {
	return Config{
		RelayAddress:      fmt.Sprintf("localhost:%d", transport.DefaultPort),
		CodeWindow:        pairing.DefaultCodeWindow,
		CodeIssueDelay:    DefaultCodeIssueDelay,
		ReconnectInterval: DefaultReconnectInterval,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.RelayAddress == "" {
		return fmt.Errorf("%w: relay address is required", ErrInvalidConfig)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: data directory is required", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.CodeWindow <= 0 {
		c.CodeWindow = pairing.DefaultCodeWindow
	}
	if c.CodeIssueDelay <= 0 {
		c.CodeIssueDelay = DefaultCodeIssueDelay
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
}

// EventType identifies a session event.
type EventType uint8

const (
	// EventConnected - relay connection established and register sent.
	EventConnected EventType = iota

	// EventRegistered - relay confirmed the registration.
	EventRegistered

	// EventCodeIssued - a fresh pairing code is ready for display.
	EventCodeIssued

	// EventPairingsResumed - the relay reported existing pairings.
	EventPairingsResumed

	// EventPaired - a new pairing was recorded.
	EventPaired

	// EventUnpaired - a pairing was removed.
	EventUnpaired

	// EventDisconnected - the relay connection dropped.
	EventDisconnected

	// EventReconnecting - a reconnect attempt is scheduled.
	EventReconnecting

	// EventError - the relay reported a protocol or delivery error.
	EventError
)

// String returns the event type name.
func (e EventType) String() string {
	switch e {
	case EventConnected:
		return "CONNECTED"
	case EventRegistered:
		return "REGISTERED"
	case EventCodeIssued:
		return "CODE_ISSUED"
	case EventPairingsResumed:
		return "PAIRINGS_RESUMED"
	case EventPaired:
		return "PAIRED"
	case EventUnpaired:
		return "UNPAIRED"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventReconnecting:
		return "RECONNECTING"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is a session notification.
type Event struct {
	// Type is the event type.
	Type EventType

	// PeerDeviceID is the peer device ID (for pairing events).
	PeerDeviceID string

	// PeerDeviceName is the peer display name (for pairing events).
	PeerDeviceName string

	// Code is the issued pairing code (for EventCodeIssued).
	Code string

	// Attempt is the reconnect attempt number (for EventReconnecting).
	Attempt int

	// Delay is the wait before the attempt (for EventReconnecting).
	Delay time.Duration

	// Error is set for EventError.
	Error error
}

// EventHandler handles session events.
type EventHandler func(Event)

// PayloadHandler consumes one relayed payload kind. Handlers reply
// through Session.SendTo; a returned error is reported back to the
// sender as an error payload.
type PayloadHandler func(fromDeviceID string, payload json.RawMessage) error
