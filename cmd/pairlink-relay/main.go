// Command pairlink-relay runs the relay daemon that hosts and companions
// connect to.
//
// The relay accepts framed TCP (optionally TLS) connections, tracks
// registered devices, brokers pairing, and forwards messages between
// paired devices. Devices and pairings are persisted under the data
// directory, and relay activity is recorded to a SQLite journal.
//
// Usage:
//
//	pairlink-relay [flags]
//
// Flags:
//
//	-address string       Listen address (default ":8765")
//	-data-dir string      Directory for persistent state (default "./pairlink-relay-data")
//	-name string          Relay display name used for mDNS advertising
//	-config string        YAML configuration file path
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-tls-cert string      TLS certificate file (enables TLS with -tls-key)
//	-tls-key string       TLS private key file
//	-protocol-log string  Write protocol events to this file (.plog)
//	-journal              Record relay activity to the SQLite journal (default true)
//	-advertise            Advertise the relay via mDNS
//	-interface string     Network interface for mDNS advertising (default all)
//
// Examples:
//
//	# Start a relay on the default port
//	pairlink-relay -data-dir /var/lib/pairlink
//
//	# Start with TLS and mDNS advertising
//	pairlink-relay -tls-cert relay.crt -tls-key relay.key -advertise -name "Office Relay"
//
//	# Capture a protocol trace for pairlink-log
//	pairlink-relay -protocol-log relay.plog -log-level debug
//
// Values from the YAML config file (-config) are applied for any flag not
// set explicitly on the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/pairlink/pairlink-go/pkg/discovery"
	"github.com/pairlink/pairlink-go/pkg/journal"
	plog "github.com/pairlink/pairlink-go/pkg/log"
	"github.com/pairlink/pairlink-go/pkg/relay"
	"github.com/pairlink/pairlink-go/pkg/version"
)

// Config holds the relay daemon configuration.
type Config struct {
	ConfigFile  string
	Address     string
	DataDir     string
	Name        string
	LogLevel    string
	TLSCert     string
	TLSKey      string
	ProtocolLog string
	Journal     bool
	Advertise   bool
	Interface   string
}

// fileConfig mirrors the flag set for YAML configuration files.
type fileConfig struct {
	Address     string `yaml:"address"`
	DataDir     string `yaml:"data_dir"`
	Name        string `yaml:"name"`
	LogLevel    string `yaml:"log_level"`
	TLSCert     string `yaml:"tls_cert"`
	TLSKey      string `yaml:"tls_key"`
	ProtocolLog string `yaml:"protocol_log"`
	Journal     *bool  `yaml:"journal"`
	Advertise   *bool  `yaml:"advertise"`
	Interface   string `yaml:"interface"`
}

var config Config

func init() {
	flag.StringVar(&config.ConfigFile, "config", "", "YAML configuration file path")
	flag.StringVar(&config.Address, "address", "", "Listen address (default \":8765\")")
	flag.StringVar(&config.DataDir, "data-dir", "./pairlink-relay-data", "Directory for persistent state")
	flag.StringVar(&config.Name, "name", "", "Relay display name used for mDNS advertising")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&config.TLSCert, "tls-cert", "", "TLS certificate file (enables TLS with -tls-key)")
	flag.StringVar(&config.TLSKey, "tls-key", "", "TLS private key file")
	flag.StringVar(&config.ProtocolLog, "protocol-log", "", "Write protocol events to this file")
	flag.BoolVar(&config.Journal, "journal", true, "Record relay activity to the SQLite journal")
	flag.BoolVar(&config.Advertise, "advertise", false, "Advertise the relay via mDNS")
	flag.StringVar(&config.Interface, "interface", "", "Network interface for mDNS advertising (default all)")
}

func main() {
	flag.Parse()

	if config.ConfigFile != "" {
		if err := applyConfigFile(config.ConfigFile); err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
	}

	logger := setupLogging(config.LogLevel)

	log.Println("PairLink Relay")
	log.Println("==============")
	log.Printf("Protocol version: %s", version.Current)
	log.Printf("Data directory: %s", config.DataDir)

	relayConfig := relay.DefaultConfig()
	if config.Address != "" {
		relayConfig.Address = config.Address
	}
	relayConfig.DataDir = config.DataDir
	relayConfig.TLSCertFile = config.TLSCert
	relayConfig.TLSKeyFile = config.TLSKey
	relayConfig.Logger = logger

	if config.TLSCert != "" {
		log.Println("TLS: enabled")
	} else {
		log.Println("TLS: disabled (plain TCP)")
	}

	// Protocol event capture
	if config.ProtocolLog != "" {
		fileLogger, err := plog.NewFileLogger(config.ProtocolLog)
		if err != nil {
			log.Fatalf("Failed to open protocol log: %v", err)
		}
		defer fileLogger.Close()
		relayConfig.ProtocolLogger = fileLogger
		log.Printf("Protocol log: %s", config.ProtocolLog)
	}

	// Activity journal
	if config.Journal {
		j, err := journal.Open(config.DataDir)
		if err != nil {
			log.Fatalf("Failed to open journal: %v", err)
		}
		defer j.Close()
		relayConfig.Audit = j
	}

	svc, err := relay.NewService(relayConfig)
	if err != nil {
		log.Fatalf("Failed to create relay service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		log.Fatalf("Failed to start relay: %v", err)
	}
	log.Printf("Listening on %s", svc.Addr())

	// mDNS advertising
	if config.Advertise {
		advCfg := discovery.DefaultAdvertiserConfig()
		advCfg.Interface = config.Interface

		advertiser, err := discovery.NewMDNSAdvertiser(advCfg)
		if err != nil {
			log.Fatalf("Failed to create mDNS advertiser: %v", err)
		}

		info := &discovery.RelayInfo{
			Port:        listenPort(svc.Addr()),
			DisplayName: config.Name,
		}
		if err := advertiser.Advertise(ctx, info); err != nil {
			log.Printf("Warning: mDNS advertising failed: %v", err)
		} else {
			defer advertiser.Stop()
			log.Printf("Advertising %s via mDNS", discovery.ServiceType)
		}
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Printf("Received signal: %v", sig)
	log.Printf("Shutting down (%d connected devices, %d pairings)...",
		len(svc.ConnectedIDs()), svc.PairingCount())

	cancel()

	if err := svc.Stop(); err != nil {
		log.Printf("Error stopping relay: %v", err)
	}

	log.Println("Goodbye!")
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

	if !explicit["address"] && fc.Address != "" {
		config.Address = fc.Address
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
	if !explicit["tls-cert"] && fc.TLSCert != "" {
		config.TLSCert = fc.TLSCert
	}
	if !explicit["tls-key"] && fc.TLSKey != "" {
		config.TLSKey = fc.TLSKey
	}
	if !explicit["protocol-log"] && fc.ProtocolLog != "" {
		config.ProtocolLog = fc.ProtocolLog
	}
	if !explicit["journal"] && fc.Journal != nil {
		config.Journal = *fc.Journal
	}
	if !explicit["advertise"] && fc.Advertise != nil {
		config.Advertise = *fc.Advertise
	}
	if !explicit["interface"] && fc.Interface != "" {
		config.Interface = fc.Interface
	}

	return nil
}

// setupLogging configures stdlib log for banners and returns the slog
// logger used by the service.
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

// listenPort extracts the TCP port from the relay listen address.
func listenPort(addr net.Addr) uint16 {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return uint16(tcpAddr.Port)
	}
	return 0
}
