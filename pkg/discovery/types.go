package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceType is the DNS-SD service type advertised by relay daemons.
	ServiceType = "_pairlink._tcp"

	// Domain is the mDNS domain.
	Domain = "local"
)

// Timing constants.
const (
	// DefaultTTL is the DNS record TTL for advertised services.
	DefaultTTL = 120 * time.Second

	// DefaultBrowseTimeout is how long callers typically wait for a relay
	// to appear before giving up.
	DefaultBrowseTimeout = 10 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// Discovery errors.
var (
	ErrInvalidVersion      = errors.New("invalid protocol version")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("service not found")
)

// RelayInfo describes a relay to advertise.
type RelayInfo struct {
	// InstanceName is the mDNS instance name. If empty, DisplayName is
	// used, falling back to "PairLink Relay".
	InstanceName string

	// Port is the TCP port the relay listens on. Required.
	Port uint16

	// Version is the protocol version announced in TXT records.
	// If empty, the library's current version is used.
	Version string

	// DisplayName is a human-readable relay name (optional).
	DisplayName string
}

// RelayService is a relay found via mDNS browsing.
type RelayService struct {
	// InstanceName is the mDNS instance name.
	InstanceName string

	// Host is the mDNS hostname of the relay machine.
	Host string

	// Port is the TCP port the relay listens on.
	Port uint16

	// Addresses are the IP addresses the relay was seen on, aggregated
	// across network interfaces.
	Addresses []string

	// Version is the protocol version the relay announced.
	Version string

	// DisplayName is the relay's human-readable name, if announced.
	DisplayName string
}

// Endpoints returns candidate "host:port" dial strings for the relay,
// IP addresses first, then the mDNS hostname as a fallback.
func (s *RelayService) Endpoints() []string {
	port := strconv.Itoa(int(s.Port))

	endpoints := make([]string, 0, len(s.Addresses)+1)
	for _, addr := range s.Addresses {
		endpoints = append(endpoints, net.JoinHostPort(addr, port))
	}
	if s.Host != "" {
		endpoints = append(endpoints, net.JoinHostPort(strings.TrimSuffix(s.Host, "."), port))
	}
	return endpoints
}

// Advertiser provides mDNS service advertising capabilities.
type Advertiser interface {
	// Advertise starts advertising the relay service. Calling it again
	// replaces the previous advertisement.
	Advertise(ctx context.Context, info *RelayInfo) error

	// Stop withdraws the advertisement.
	Stop()
}

// Browser provides mDNS service browsing capabilities.
type Browser interface {
	// Browse searches for relay services. The channel is closed when the
	// context is cancelled. Relays announcing an incompatible protocol
	// major version are not reported.
	Browse(ctx context.Context) (<-chan *RelayService, error)

	// FindFirst returns the first compatible relay found, or ErrNotFound
	// if browsing ends without one.
	FindFirst(ctx context.Context) (*RelayService, error)
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL.
	// Default: 120 seconds.
	TTL time.Duration
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{
		Interface: "",
		TTL:       DefaultTTL,
	}
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Interface: "",
	}
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrMissingRequired)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
