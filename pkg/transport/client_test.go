package transport_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/pairlink/pairlink-go/pkg/transport"
)

func TestClientConnectAndReceive(t *testing.T) {
	server := startTestServer(t, transport.ServerConfig{
		OnConnect: func(conn *transport.ServerConn) {
			conn.Send([]byte(`{"type":"registered"}`))
		},
	})

	conn := dialTestServer(t, server)

	got, err := conn.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(got) != `{"type":"registered"}` {
		t.Errorf("Receive = %q", got)
	}
}

func TestClientConnectRefused(t *testing.T) {
	// Grab a port nothing listens on.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	client := transport.NewClient(transport.ClientConfig{ConnectTimeout: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := client.Connect(ctx, addr); err == nil {
		t.Error("Connect to closed port should fail")
	}
}

func TestClientReceiveTimeout(t *testing.T) {
	server := startTestServer(t, transport.ServerConfig{})
	conn := dialTestServer(t, server)

	start := time.Now()
	_, err := conn.Receive(100 * time.Millisecond)
	if err == nil {
		t.Fatal("Receive should time out with no data")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Receive took %v, want ~100ms", elapsed)
	}
}

func TestClientSendAfterClose(t *testing.T) {
	server := startTestServer(t, transport.ServerConfig{})
	conn := dialTestServer(t, server)

	conn.Close()

	if err := conn.Send([]byte("data")); !errors.Is(err, transport.ErrConnectionClosed) {
		t.Errorf("Send after close = %v, want ErrConnectionClosed", err)
	}
	if _, err := conn.Receive(time.Second); !errors.Is(err, transport.ErrConnectionClosed) {
		t.Errorf("Receive after close = %v, want ErrConnectionClosed", err)
	}
	if !conn.Closed() {
		t.Error("Closed() = false after Close")
	}
}

func TestClientCloseIdempotent(t *testing.T) {
	server := startTestServer(t, transport.ServerConfig{})
	conn := dialTestServer(t, server)

	if err := conn.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestClientConnID(t *testing.T) {
	server := startTestServer(t, transport.ServerConfig{})

	conn1 := dialTestServer(t, server)
	conn2 := dialTestServer(t, server)

	if conn1.ConnID() == "" {
		t.Error("ConnID is empty")
	}
	if conn1.ConnID() == conn2.ConnID() {
		t.Error("ConnIDs should be unique per connection")
	}
}

func TestClientTLSServerNameFromAddress(t *testing.T) {
	certFile, keyFile := writeTestCertFiles(t)

	serverTLS, err := transport.LoadServerTLSConfig(certFile, keyFile)
	if err != nil {
		t.Fatalf("LoadServerTLSConfig failed: %v", err)
	}
	server := startTestServer(t, transport.ServerConfig{
		TLSConfig: serverTLS,
		OnConnect: func(conn *transport.ServerConn) {
			conn.Send([]byte(`{"type":"registered"}`))
		},
	})

	// No explicit server name: verification falls back to the host
	// part of the dialed address.
	clientTLS, err := transport.LoadClientTLSConfig(certFile, "", false)
	if err != nil {
		t.Fatalf("LoadClientTLSConfig failed: %v", err)
	}
	client := transport.NewClient(transport.ClientConfig{
		TLSConfig:      clientTLS,
		ConnectTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := client.Connect(ctx, server.Addr().String())
	if err != nil {
		t.Fatalf("TLS connect failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Receive(2 * time.Second); err != nil {
		t.Fatalf("Receive over TLS failed: %v", err)
	}
	if clientTLS.ServerName != "" {
		t.Errorf("caller's TLS config mutated: ServerName = %q", clientTLS.ServerName)
	}
}
