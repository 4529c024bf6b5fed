package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/pairlink/pairlink-go/pkg/version"
)

// LoadServerTLSConfig builds a listener TLS configuration from a
// certificate and key file pair. The supported protocol versions are
// offered via ALPN.
func LoadServerTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		NextProtos:   version.SupportedALPNProtocols(),
	}, nil
}

// LoadClientTLSConfig builds a dialer TLS configuration.
//
// caFile optionally points at a PEM bundle to trust instead of the
// system roots; serverName overrides the name checked against the
// relay's certificate, with the dialed host used when empty.
// insecureSkipVerify disables verification entirely and is meant for
// tests.
func LoadClientTLSConfig(caFile, serverName string, insecureSkipVerify bool) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         serverName,
		InsecureSkipVerify: insecureSkipVerify,
		NextProtos:         version.SupportedALPNProtocols(),
	}

	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", caFile)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}
