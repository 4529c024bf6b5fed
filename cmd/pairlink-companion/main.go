// Command pairlink-companion is a scripted companion client for demos and
// manual relay testing.
//
// It registers with a relay under a stable companion identity, optionally
// pairs with a host using a pairing code, and can then exchange messages
// with the paired host: a ping round-trip, arbitrary payloads, or a
// listen loop that prints everything the host sends.
//
// Usage:
//
//	pairlink-companion [flags]
//
// Flags:
//
//	-relay string     Relay address (default "localhost:8765")
//	-discover         Find a relay via mDNS instead of -relay
//	-data-dir string  Directory for the device identity (default "./pairlink-companion-data")
//	-name string      Human-readable device name (default: hostname)
//	-pair string      Pair with a host using this 6-digit code
//	-target string    Host device ID to message (default: first known pairing)
//	-ping             Send a ping payload and wait for the host's pong
//	-send string      Send a payload of this message type
//	-payload string   JSON payload for -send (default "{}")
//	-listen           Keep the connection open and print incoming messages
//	-timeout duration Timeout for each scripted step (default 10s)
//
// Examples:
//
//	# Pair with the host showing code 482913
//	pairlink-companion -pair 482913
//
//	# Ping the paired host
//	pairlink-companion -ping
//
//	# Send a notification and stay connected
//	pairlink-companion -send notification -payload '{"title":"Hi","message":"From the road"}' -listen
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pairlink/pairlink-go/pkg/device"
	"github.com/pairlink/pairlink-go/pkg/discovery"
	"github.com/pairlink/pairlink-go/pkg/persistence"
	"github.com/pairlink/pairlink-go/pkg/transport"
	"github.com/pairlink/pairlink-go/pkg/wire"
)

// IdentityFile is the companion identity file under the data directory.
const IdentityFile = "companion_identity.json"

// Config holds the companion configuration.
type Config struct {
	Relay    string
	Discover bool
	DataDir  string
	Name     string
	Pair     string
	Target   string
	Ping     bool
	Send     string
	Payload  string
	Listen   bool
	Timeout  time.Duration
}

var config Config

func init() {
	flag.StringVar(&config.Relay, "relay", fmt.Sprintf("localhost:%d", transport.DefaultPort), "Relay address")
	flag.BoolVar(&config.Discover, "discover", false, "Find a relay via mDNS instead of -relay")
	flag.StringVar(&config.DataDir, "data-dir", "./pairlink-companion-data", "Directory for the device identity")
	flag.StringVar(&config.Name, "name", "", "Human-readable device name (default: hostname)")
	flag.StringVar(&config.Pair, "pair", "", "Pair with a host using this 6-digit code")
	flag.StringVar(&config.Target, "target", "", "Host device ID to message (default: first known pairing)")
	flag.BoolVar(&config.Ping, "ping", false, "Send a ping payload and wait for the host's pong")
	flag.StringVar(&config.Send, "send", "", "Send a payload of this message type")
	flag.StringVar(&config.Payload, "payload", "{}", "JSON payload for -send")
	flag.BoolVar(&config.Listen, "listen", false, "Keep the connection open and print incoming messages")
	flag.DurationVar(&config.Timeout, "timeout", 10*time.Second, "Timeout for each scripted step")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Ltime)

	identity, err := loadOrCreateIdentity(config.DataDir, config.Name)
	if err != nil {
		log.Fatalf("Identity error: %v", err)
	}
	log.Printf("Companion ID: %s (%s)", identity.DeviceID, identity.DeviceName)

	relayAddr := config.Relay
	if config.Discover {
		relayAddr, err = discoverRelay()
		if err != nil {
			log.Fatalf("Relay discovery failed: %v", err)
		}
	}

	client := transport.NewClient(transport.ClientConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	conn, err := client.Connect(ctx, relayAddr)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to relay %s: %v", relayAddr, err)
	}
	defer conn.Close()
	log.Printf("Connected to relay %s", relayAddr)

	// Register
	if err := send(conn, wire.NewRegister(identity.DeviceID, device.ClassCompanion.String(), identity.DeviceName)); err != nil {
		log.Fatalf("Register failed: %v", err)
	}

	target := config.Target

	// The relay answers with registered, followed by existing_pairings
	// when this companion has paired before.
	deadline := time.Now().Add(config.Timeout)
	registered := false
	for !registered || target == "" {
		typ, data, err := receiveBefore(conn, deadline)
		if err != nil {
			if registered {
				break // no existing pairings announced
			}
			log.Fatalf("Registration failed: %v", err)
		}

		switch typ {
		case wire.TypeRegistered:
			var msg wire.Registered
			if err := wire.Unmarshal(data, &msg); err != nil {
				log.Fatalf("Bad registered message: %v", err)
			}
			registered = true
			if msg.IsKnownDevice {
				log.Println("Registered (known device)")
			} else {
				log.Println("Registered (new device)")
			}
			// Only wait briefly for the pairing list once registered.
			deadline = time.Now().Add(2 * time.Second)

		case wire.TypeExistingPairings:
			var msg wire.ExistingPairings
			if err := wire.Unmarshal(data, &msg); err != nil {
				log.Fatalf("Bad existing_pairings message: %v", err)
			}
			for _, p := range msg.Pairings {
				log.Printf("Known pairing: %s (%s)", p.DeviceName, p.DeviceID)
				if target == "" {
					target = p.DeviceID
				}
			}
			registered = true

		case wire.TypeError:
			var msg wire.Error
			if err := wire.Unmarshal(data, &msg); err != nil {
				log.Fatalf("Registration failed: %v", err)
			}
			log.Fatalf("Registration failed: %s", msg.Message)

		default:
			log.Printf("Ignoring %s", typ)
		}

		if registered && target != "" {
			break
		}
	}

	// Pair when asked to
	if config.Pair != "" {
		peerID, err := pair(conn, config.Pair, identity.DeviceName)
		if err != nil {
			log.Fatalf("Pairing failed: %v", err)
		}
		target = peerID
	}

	if config.Ping {
		if target == "" {
			log.Fatal("No paired host to ping (-pair first, or -target)")
		}
		if err := ping(conn, target); err != nil {
			log.Fatalf("Ping failed: %v", err)
		}
	}

	if config.Send != "" {
		if target == "" {
			log.Fatal("No paired host to message (-pair first, or -target)")
		}
		if !json.Valid([]byte(config.Payload)) {
			log.Fatalf("Invalid JSON payload: %s", config.Payload)
		}
		if err := sendPayload(conn, target, config.Send, json.RawMessage(config.Payload)); err != nil {
			log.Fatalf("Send failed: %v", err)
		}
	}

	if config.Listen {
		listen(conn)
	}

	log.Println("Goodbye!")
}

// pair sends a pair_request and waits for the relay's verdict.
func pair(conn *transport.ClientConn, code, deviceName string) (string, error) {
	if err := send(conn, wire.NewPairRequest(code, deviceName)); err != nil {
		return "", err
	}

	deadline := time.Now().Add(config.Timeout)
	for {
		typ, data, err := receiveBefore(conn, deadline)
		if err != nil {
			return "", err
		}

		switch typ {
		case wire.TypePaired:
			var msg wire.Paired
			if err := wire.Unmarshal(data, &msg); err != nil {
				return "", err
			}
			log.Printf("Paired with %s (%s)", msg.PeerDeviceName, msg.PeerDeviceID)
			return msg.PeerDeviceID, nil

		case wire.TypePairingFailed:
			var msg wire.PairingFailed
			if err := wire.Unmarshal(data, &msg); err != nil {
				return "", err
			}
			return "", fmt.Errorf("%s", msg.Message)

		default:
			log.Printf("Ignoring %s", typ)
		}
	}
}

// ping sends a ping payload through the relay and waits for the host's
// pong echo.
func ping(conn *transport.ClientConn, target string) error {
	seq := time.Now().UnixMilli()
	msg, err := wire.NewRelayMessage(target, "ping", map[string]int64{"seq": seq})
	if err != nil {
		return err
	}

	start := time.Now()
	if err := send(conn, msg); err != nil {
		return err
	}

	deadline := time.Now().Add(config.Timeout)
	for {
		typ, data, err := receiveBefore(conn, deadline)
		if err != nil {
			return err
		}

		switch typ {
		case wire.TypeRelayMessage:
			var reply wire.RelayMessage
			if err := wire.Unmarshal(data, &reply); err != nil {
				return err
			}
			if reply.MessageType != "pong" {
				log.Printf("Ignoring %s payload", reply.MessageType)
				continue
			}
			log.Printf("Pong from %s in %s", reply.FromDeviceID, time.Since(start).Round(time.Millisecond))
			return nil

		case wire.TypeRelayAck:
			// Delivery confirmation; keep waiting for the pong.

		case wire.TypeRelayFailed:
			var failed wire.RelayFailed
			if err := wire.Unmarshal(data, &failed); err != nil {
				return err
			}
			return fmt.Errorf("%s", failed.Message)

		default:
			log.Printf("Ignoring %s", typ)
		}
	}
}

// sendPayload relays an arbitrary payload to the target and waits for the
// relay's delivery acknowledgement.
func sendPayload(conn *transport.ClientConn, target, kind string, payload json.RawMessage) error {
	msg, err := wire.NewRelayMessage(target, kind, payload)
	if err != nil {
		return err
	}
	if err := send(conn, msg); err != nil {
		return err
	}

	deadline := time.Now().Add(config.Timeout)
	for {
		typ, data, err := receiveBefore(conn, deadline)
		if err != nil {
			return err
		}

		switch typ {
		case wire.TypeRelayAck:
			log.Printf("Delivered %s to %s", kind, target)
			return nil

		case wire.TypeRelayFailed:
			var failed wire.RelayFailed
			if err := wire.Unmarshal(data, &failed); err != nil {
				return err
			}
			return fmt.Errorf("%s", failed.Message)

		default:
			log.Printf("Ignoring %s", typ)
		}
	}
}

// listen prints incoming messages until interrupted.
func listen(conn *transport.ClientConn) {
	log.Println("Listening (Ctrl+C to exit)...")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			typ, data, err := receive(conn, 0)
			if err != nil {
				log.Printf("Connection closed: %v", err)
				return
			}

			switch typ {
			case wire.TypeRelayMessage:
				var msg wire.RelayMessage
				if err := wire.Unmarshal(data, &msg); err != nil {
					continue
				}
				log.Printf("[%s] %s: %s", msg.FromDeviceID, msg.MessageType, string(msg.Payload))

			case wire.TypeUnpaired:
				var msg wire.Unpaired
				if err := wire.Unmarshal(data, &msg); err != nil {
					continue
				}
				log.Printf("Unpaired from %s", msg.TargetDeviceID)

			default:
				log.Printf("Received %s", typ)
			}
		}
	}()

	select {
	case <-sigCh:
	case <-done:
	}
}

// send marshals and writes one message.
func send(conn *transport.ClientConn, msg any) error {
	data, err := wire.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Send(data)
}

// receive reads one message and returns its envelope type. A zero
// timeout blocks until a message arrives.
func receive(conn *transport.ClientConn, timeout time.Duration) (string, []byte, error) {
	data, err := conn.Receive(timeout)
	if err != nil {
		return "", nil, err
	}
	typ, err := wire.PeekType(data)
	if err != nil {
		return "", nil, err
	}
	return typ, data, nil
}

// receiveBefore reads one message, failing once the deadline has passed.
func receiveBefore(conn *transport.ClientConn, deadline time.Time) (string, []byte, error) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return "", nil, errors.New("timed out waiting for relay")
	}
	return receive(conn, remaining)
}

// discoverRelay browses for a relay via mDNS and returns its first
// advertised endpoint.
func discoverRelay() (string, error) {
	browser, err := discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig())
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), discovery.DefaultBrowseTimeout)
	defer cancel()

	log.Println("Browsing for a relay via mDNS...")
	svc, err := browser.FindFirst(ctx)
	if err != nil {
		return "", err
	}

	endpoints := svc.Endpoints()
	if len(endpoints) == 0 {
		return "", fmt.Errorf("relay %q advertised no addresses", svc.InstanceName)
	}
	log.Printf("Found relay %q (version %s)", svc.InstanceName, svc.Version)
	return endpoints[0], nil
}

// loadOrCreateIdentity returns the persisted companion identity, deriving
// and saving a fresh one on first run.
func loadOrCreateIdentity(dataDir, deviceName string) (persistence.Identity, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return persistence.Identity{}, fmt.Errorf("create data directory: %w", err)
	}

	store := persistence.NewIdentityStore(filepath.Join(dataDir, IdentityFile))

	existing, err := store.Load()
	if err != nil {
		return persistence.Identity{}, fmt.Errorf("load identity: %w", err)
	}
	if existing != nil {
		if deviceName != "" && deviceName != existing.DeviceName {
			existing.DeviceName = deviceName
			if err := store.Save(existing); err != nil {
				return persistence.Identity{}, fmt.Errorf("rename identity: %w", err)
			}
		}
		return *existing, nil
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "companion"
	}

	deviceID, err := device.DeriveID(device.ClassCompanion, hostname, currentUsername())
	if err != nil {
		return persistence.Identity{}, fmt.Errorf("derive device id: %w", err)
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
		return persistence.Identity{}, fmt.Errorf("save identity: %w", err)
	}

	return identity, nil
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
