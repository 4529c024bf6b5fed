// Command pairlink-host runs the host-side client: it keeps a relay
// connection alive, displays pairing codes, and reacts to messages from
// paired companions.
//
// On first run the host derives a stable device identity and stores it
// under the data directory. On every connect it registers with the relay;
// if no pairings exist yet a fresh pairing code is requested and shown.
// The connection is re-established automatically after relay restarts.
//
// Usage:
//
//	pairlink-host [flags]
//
// Flags:
//
//	-relay string         Relay address (default "localhost:8765")
//	-discover             Find a relay via mDNS instead of -relay
//	-data-dir string      Directory for the device identity (default "./pairlink-host-data")
//	-name string          Human-readable device name (default: hostname)
//	-config string        YAML configuration file path
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-interactive          Enable the interactive console
//	-protocol-log string  Write protocol events to this file (.plog)
//	-tls-ca string        CA bundle for verifying the relay (enables TLS)
//	-tls-server-name string  Expected relay certificate name
//	-tls-insecure         Skip certificate verification (testing only)
//
// Examples:
//
//	# Connect to a local relay and wait for a companion to pair
//	pairlink-host -name "Work Laptop"
//
//	# Find the relay via mDNS and open the console
//	pairlink-host -discover -interactive
//
//	# Connect over TLS
//	pairlink-host -relay relay.example.net:8765 -tls-ca ca.pem
//
// Interactive Commands:
//
//	status      - Show connection state and identity
//	code        - Show or issue the current pairing code
//	pairings    - List paired companions
//	send <device-id> <kind> [json] - Send a message to a companion
//	unpair <device-id> - Remove a pairing
//	quit        - Exit
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pairlink/pairlink-go/cmd/pairlink-host/interactive"
	"github.com/pairlink/pairlink-go/pkg/discovery"
	"github.com/pairlink/pairlink-go/pkg/host"
	plog "github.com/pairlink/pairlink-go/pkg/log"
)

// Config holds the host daemon configuration.
type Config struct {
	ConfigFile    string
	Relay         string
	Discover      bool
	DataDir       string
	Name          string
	LogLevel      string
	Interactive   bool
	ProtocolLog   string
	TLSCA         string
	TLSServerName string
	TLSInsecure   bool
}

// fileConfig mirrors the flag set for YAML configuration files.
type fileConfig struct {
	Relay         string `yaml:"relay"`
	DataDir       string `yaml:"data_dir"`
	Name          string `yaml:"name"`
	LogLevel      string `yaml:"log_level"`
	ProtocolLog   string `yaml:"protocol_log"`
	TLSCA         string `yaml:"tls_ca"`
	TLSServerName string `yaml:"tls_server_name"`
}

var (
	config  Config
	session *host.Session
)

func init() {
	flag.StringVar(&config.ConfigFile, "config", "", "YAML configuration file path")
	flag.StringVar(&config.Relay, "relay", "", "Relay address (default \"localhost:8765\")")
	flag.BoolVar(&config.Discover, "discover", false, "Find a relay via mDNS instead of -relay")
	flag.StringVar(&config.DataDir, "data-dir", "./pairlink-host-data", "Directory for the device identity")
	flag.StringVar(&config.Name, "name", "", "Human-readable device name (default: hostname)")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&config.Interactive, "interactive", false, "Enable the interactive console")
	flag.StringVar(&config.ProtocolLog, "protocol-log", "", "Write protocol events to this file")
	flag.StringVar(&config.TLSCA, "tls-ca", "", "CA bundle for verifying the relay (enables TLS)")
	flag.StringVar(&config.TLSServerName, "tls-server-name", "", "Expected relay certificate name")
	flag.BoolVar(&config.TLSInsecure, "tls-insecure", false, "Skip certificate verification (testing only)")
}

func main() {
	flag.Parse()

	if config.ConfigFile != "" {
		if err := applyConfigFile(config.ConfigFile); err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
	}

	logger := setupLogging(config.LogLevel)

	log.Println("PairLink Host")
	log.Println("=============")

	hostConfig := host.DefaultConfig()
	if config.Relay != "" {
		hostConfig.RelayAddress = config.Relay
	}
	hostConfig.DataDir = config.DataDir
	hostConfig.DeviceName = config.Name
	hostConfig.TLSCAFile = config.TLSCA
	hostConfig.TLSServerName = config.TLSServerName
	hostConfig.TLSInsecureSkipVerify = config.TLSInsecure
	hostConfig.Logger = logger

	if config.Discover {
		addr, err := discoverRelay()
		if err != nil {
			log.Fatalf("Relay discovery failed: %v", err)
		}
		hostConfig.RelayAddress = addr
	}
	log.Printf("Relay: %s", hostConfig.RelayAddress)

	if config.ProtocolLog != "" {
		fileLogger, err := plog.NewFileLogger(config.ProtocolLog)
		if err != nil {
			log.Fatalf("Failed to open protocol log: %v", err)
		}
		defer fileLogger.Close()
		hostConfig.ProtocolLogger = fileLogger
		log.Printf("Protocol log: %s", config.ProtocolLog)
	}

	var err error
	session, err = host.NewSession(hostConfig)
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}

	log.Printf("Device ID: %s", session.DeviceID())
	log.Printf("Device name: %s", session.DeviceName())
	log.Printf("Fingerprint: %s", session.Fingerprint())

	session.AddEventHandler(handleEvent)
	session.RegisterPayloadHandler("notification", handleNotification)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := session.Start(ctx); err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}

	if config.Interactive {
		console, err := interactive.New(session)
		if err != nil {
			log.Fatalf("Failed to create console: %v", err)
		}
		// Redirect log output through readline to avoid interfering with input
		log.SetOutput(console.Stdout())
		go console.Run(ctx, cancel)
	}

	// Wait for shutdown signal or context cancellation
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
	case <-ctx.Done():
		// Context was cancelled (e.g., by the quit command)
	}

	log.Println("Shutting down...")
	cancel()
	session.Stop()

	log.Println("Goodbye!")
}

// discoverRelay browses for a relay via mDNS and returns the first
// advertised endpoint that accepts a TCP connection.
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

	name := svc.DisplayName
	if name == "" {
		name = svc.InstanceName
	}
	log.Printf("Found relay %q (version %s)", name, svc.Version)

	for _, endpoint := range svc.Endpoints() {
		conn, err := net.DialTimeout("tcp", endpoint, 2*time.Second)
		if err != nil {
			continue
		}
		conn.Close()
		return endpoint, nil
	}
	return "", fmt.Errorf("relay %q unreachable on all advertised addresses", name)
}

func handleEvent(event host.Event) {
	switch event.Type {
	case host.EventConnected:
		log.Println("[EVENT] Connected to relay")
	case host.EventRegistered:
		log.Println("[EVENT] Registered with relay")
	case host.EventCodeIssued:
		log.Println("========================")
		log.Printf("  PAIRING CODE: %s", event.Code)
		log.Println("========================")
		log.Println("Enter this code on the companion device to pair.")
	case host.EventPairingsResumed:
		peers := session.Pairings()
		log.Printf("[EVENT] Resumed %d existing pairing(s)", len(peers))
		for _, p := range peers {
			log.Printf("  - %s (%s)", p.DeviceName, p.DeviceID)
		}
	case host.EventPaired:
		log.Printf("[EVENT] Paired with %s (%s)", event.PeerDeviceName, event.PeerDeviceID)
	case host.EventUnpaired:
		log.Printf("[EVENT] Unpaired from %s", event.PeerDeviceID)
	case host.EventDisconnected:
		log.Println("[EVENT] Disconnected from relay")
	case host.EventReconnecting:
		log.Printf("[EVENT] Reconnecting in %s (attempt %d)...", event.Delay, event.Attempt)
	case host.EventError:
		log.Printf("[EVENT] Error: %v", event.Error)
	}
}

// handleNotification displays a notification payload sent by a companion.
func handleNotification(fromDeviceID string, payload json.RawMessage) error {
	var note struct {
		Title   string `json:"title"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &note); err != nil {
		return fmt.Errorf("malformed notification: %w", err)
	}

	if note.Title != "" {
		log.Printf("[%s] %s: %s", fromDeviceID, note.Title, note.Message)
	} else {
		log.Printf("[%s] %s", fromDeviceID, note.Message)
	}
	return nil
}

// applyConfigFile loads the YAML config and applies values for every flag
// the user did not set explicitly.
func applyConfigFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	explicit := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if !explicit["relay"] && fc.Relay != "" {
		config.Relay = fc.Relay
	}
	if !explicit["data-dir"] && fc.DataDir != "" {
		config.DataDir = fc.DataDir
	}
	if !explicit["name"] && fc.Name != "" {
		config.Name = fc.Name
	}
	if !explicit["log-level"] && fc.LogLevel != "" {
		config.LogLevel = fc.LogLevel
	}
	if !explicit["protocol-log"] && fc.ProtocolLog != "" {
		config.ProtocolLog = fc.ProtocolLog
	}
	if !explicit["tls-ca"] && fc.TLSCA != "" {
		config.TLSCA = fc.TLSCA
	}
	if !explicit["tls-server-name"] && fc.TLSServerName != "" {
		config.TLSServerName = fc.TLSServerName
	}

	return nil
}

// setupLogging configures stdlib log for banners and returns the slog
// logger used by the session.
func setupLogging(level string) *slog.Logger {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
