package pairlink_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pairlink/pairlink-go/pkg/device"
	"github.com/pairlink/pairlink-go/pkg/discovery"
	"github.com/pairlink/pairlink-go/pkg/host"
	"github.com/pairlink/pairlink-go/pkg/relay"
	"github.com/pairlink/pairlink-go/pkg/transport"
	"github.com/pairlink/pairlink-go/pkg/wire"
)

// TestE2E_Discovery tests that a companion can discover a relay via mDNS.
func TestE2E_Discovery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	advertiser, err := discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{})
	if err != nil {
		t.Fatalf("Failed to create advertiser: %v", err)
	}
	defer advertiser.Stop()

	info := &discovery.RelayInfo{
		InstanceName: "Integration Test Relay",
		Port:         18437,
		DisplayName:  "Integration Test Relay",
	}
	if err := advertiser.Advertise(ctx, info); err != nil {
		t.Fatalf("Failed to advertise relay: %v", err)
	}

	// Give mDNS a moment to propagate
	time.Sleep(500 * time.Millisecond)

	browser, err := discovery.NewMDNSBrowser(discovery.BrowserConfig{})
	if err != nil {
		t.Fatalf("Failed to create browser: %v", err)
	}

	svc, err := browser.FindFirst(ctx)
	if err != nil {
		t.Fatalf("Failed to discover relay: %v", err)
	}

	if svc.Port != 18437 {
		t.Errorf("Discovered port = %d, want 18437", svc.Port)
	}
	if svc.Version == "" {
		t.Error("Discovered relay announced no protocol version")
	}
	if len(svc.Endpoints()) == 0 {
		t.Error("Discovered relay has no dialable endpoints")
	}

	t.Logf("Discovered relay %q at %v (version %s)", svc.InstanceName, svc.Endpoints(), svc.Version)
}

// TestE2E_PairAndRelay walks the full protocol: a host registers and
// issues a pairing code, a companion pairs with it, messages flow both
// ways through the relay, and unpairing tears the pairing down.
func TestE2E_PairAndRelay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svc := startRelay(t, ctx, t.TempDir())
	relayAddr := svc.Addr().String()

	session, events := startHost(t, ctx, relayAddr, t.TempDir(), "Integration Host")

	notifications := make(chan string, 1)
	session.RegisterPayloadHandler("notification", func(from string, payload json.RawMessage) error {
		var body struct {
			Title string `json:"title"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return err
		}
		notifications <- from + ":" + body.Title
		return nil
	})

	waitEvent(t, events, host.EventRegistered, 5*time.Second)
	issued := waitEvent(t, events, host.EventCodeIssued, 5*time.Second)
	if len(issued.Code) != 6 {
		t.Fatalf("Pairing code = %q, want 6 digits", issued.Code)
	}
	t.Logf("Host %s issued pairing code", session.DeviceID())

	comp := registerCompanion(t, ctx, relayAddr, "companion-itest-1", "Test Companion")

	// Pair using the issued code
	sendEnvelope(t, comp, wire.NewPairRequest(issued.Code, "Test Companion"))
	var paired wire.Paired
	decodeEnvelope(t, awaitEnvelope(t, comp, wire.TypePaired, 5*time.Second), &paired)
	if paired.PeerDeviceID != session.DeviceID() {
		t.Errorf("Paired peer = %s, want %s", paired.PeerDeviceID, session.DeviceID())
	}
	if paired.PeerDeviceName != "Integration Host" {
		t.Errorf("Paired peer name = %q, want %q", paired.PeerDeviceName, "Integration Host")
	}

	hostPaired := waitEvent(t, events, host.EventPaired, 5*time.Second)
	if hostPaired.PeerDeviceID != "companion-itest-1" {
		t.Errorf("Host paired with %s, want companion-itest-1", hostPaired.PeerDeviceID)
	}
	if got := svc.PairingCount(); got != 1 {
		t.Fatalf("PairingCount = %d, want 1", got)
	}
	t.Logf("Pairing established: %s <-> %s", session.DeviceID(), "companion-itest-1")

	// Companion -> host: relayed notification reaches the payload handler
	notif, err := wire.NewRelayMessage(session.DeviceID(), "notification", map[string]string{"title": "Hello"})
	if err != nil {
		t.Fatalf("Failed to build relay message: %v", err)
	}
	sendEnvelope(t, comp, notif)
	awaitEnvelope(t, comp, wire.TypeRelayAck, 5*time.Second)

	select {
	case got := <-notifications:
		if got != "companion-itest-1:Hello" {
			t.Errorf("Notification = %q, want %q", got, "companion-itest-1:Hello")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for notification to reach host handler")
	}

	// Companion -> host ping comes back as a pong
	ping, err := wire.NewRelayMessage(session.DeviceID(), "ping", map[string]int{"seq": 1})
	if err != nil {
		t.Fatalf("Failed to build ping: %v", err)
	}
	sendEnvelope(t, comp, ping)
	var pong wire.RelayMessage
	decodeEnvelope(t, awaitEnvelope(t, comp, wire.TypeRelayMessage, 5*time.Second), &pong)
	if pong.MessageType != "pong" {
		t.Errorf("Reply kind = %q, want pong", pong.MessageType)
	}
	if pong.FromDeviceID != session.DeviceID() {
		t.Errorf("Pong sender = %s, want %s", pong.FromDeviceID, session.DeviceID())
	}

	// Host -> companion
	if err := session.SendTo("companion-itest-1", "status-update", map[string]string{"state": "active"}); err != nil {
		t.Fatalf("SendTo failed: %v", err)
	}
	var update wire.RelayMessage
	decodeEnvelope(t, awaitEnvelope(t, comp, wire.TypeRelayMessage, 5*time.Second), &update)
	if update.MessageType != "status-update" {
		t.Errorf("Update kind = %q, want status-update", update.MessageType)
	}
	if update.FromDeviceID != session.DeviceID() {
		t.Errorf("Update sender = %s, want %s", update.FromDeviceID, session.DeviceID())
	}
	var state struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(update.Payload, &state); err != nil {
		t.Fatalf("Failed to decode update payload: %v", err)
	}
	if state.State != "active" {
		t.Errorf("Update state = %q, want active", state.State)
	}

	// Unpair and verify both sides observe it
	if err := session.Unpair("companion-itest-1"); err != nil {
		t.Fatalf("Unpair failed: %v", err)
	}
	var unpaired wire.Unpaired
	decodeEnvelope(t, awaitEnvelope(t, comp, wire.TypeUnpaired, 5*time.Second), &unpaired)
	if unpaired.TargetDeviceID != session.DeviceID() {
		t.Errorf("Unpaired peer = %s, want %s", unpaired.TargetDeviceID, session.DeviceID())
	}
	waitEvent(t, events, host.EventUnpaired, 5*time.Second)

	if got := svc.PairingCount(); got != 0 {
		t.Errorf("PairingCount after unpair = %d, want 0", got)
	}
	if got := len(session.Pairings()); got != 0 {
		t.Errorf("Host pairings after unpair = %d, want 0", got)
	}

	t.Logf("Pair and relay test successful - notification, ping/pong, status update, unpair all verified")
}

// TestE2E_TLSConnection tests registration over a TLS-wrapped relay.
func TestE2E_TLSConnection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	dataDir := t.TempDir()
	certFile, keyFile := writeRelayCert(t, dataDir)

	svc, err := relay.NewService(relay.Config{
		Address:     "127.0.0.1:0",
		DataDir:     dataDir,
		TLSCertFile: certFile,
		TLSKeyFile:  keyFile,
	})
	if err != nil {
		t.Fatalf("Failed to create relay: %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Failed to start relay: %v", err)
	}
	defer svc.Stop()

	tlsConfig, err := transport.LoadClientTLSConfig(certFile, "", false)
	if err != nil {
		t.Fatalf("Failed to load client TLS config: %v", err)
	}
	client := transport.NewClient(transport.ClientConfig{TLSConfig: tlsConfig})
	conn, err := client.Connect(ctx, svc.Addr().String())
	if err != nil {
		t.Fatalf("TLS connect failed: %v", err)
	}
	defer conn.Close()

	sendEnvelope(t, conn, wire.NewRegister("companion-itest-tls", device.ClassCompanion.String(), "TLS Companion"))
	var registered wire.Registered
	decodeEnvelope(t, awaitEnvelope(t, conn, wire.TypeRegistered, 5*time.Second), &registered)
	if registered.DeviceID != "companion-itest-tls" {
		t.Errorf("Registered device = %s, want companion-itest-tls", registered.DeviceID)
	}

	t.Logf("TLS test successful - registered %s over TLS", registered.DeviceID)
}

// TestE2E_PairingCodeValidation tests the three pairing outcomes: a
// malformed code is rejected by the relay, a well-formed wrong code is
// rejected by the host, and the real code still pairs afterwards.
func TestE2E_PairingCodeValidation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svc := startRelay(t, ctx, t.TempDir())
	session, events := startHost(t, ctx, svc.Addr().String(), t.TempDir(), "Picky Host")

	waitEvent(t, events, host.EventRegistered, 5*time.Second)
	issued := waitEvent(t, events, host.EventCodeIssued, 5*time.Second)

	comp := registerCompanion(t, ctx, svc.Addr().String(), "companion-itest-codes", "Code Tester")

	// Malformed code never reaches the host
	sendEnvelope(t, comp, wire.NewPairRequest("abc123", "Code Tester"))
	var failed wire.PairingFailed
	decodeEnvelope(t, awaitEnvelope(t, comp, wire.TypePairingFailed, 5*time.Second), &failed)
	if failed.Message != "invalid pairing code format" {
		t.Errorf("Malformed code rejection = %q, want %q", failed.Message, "invalid pairing code format")
	}

	// Well-formed but wrong code is rejected by the host
	wrong := "000000"
	if issued.Code == wrong {
		wrong = "111111"
	}
	sendEnvelope(t, comp, wire.NewPairRequest(wrong, "Code Tester"))
	decodeEnvelope(t, awaitEnvelope(t, comp, wire.TypePairingFailed, 5*time.Second), &failed)
	if failed.Message != "Invalid pairing code" {
		t.Errorf("Wrong code rejection = %q, want %q", failed.Message, "Invalid pairing code")
	}
	if got := svc.PairingCount(); got != 0 {
		t.Fatalf("PairingCount after rejections = %d, want 0", got)
	}

	// The issued code survives failed attempts
	sendEnvelope(t, comp, wire.NewPairRequest(issued.Code, "Code Tester"))
	var paired wire.Paired
	decodeEnvelope(t, awaitEnvelope(t, comp, wire.TypePaired, 5*time.Second), &paired)
	if paired.PeerDeviceID != session.DeviceID() {
		t.Errorf("Paired peer = %s, want %s", paired.PeerDeviceID, session.DeviceID())
	}
	if got := svc.PairingCount(); got != 1 {
		t.Errorf("PairingCount = %d, want 1", got)
	}

	t.Logf("Code validation test successful - malformed and wrong codes rejected, real code still paired")
}

// TestE2E_RelayRequiresPairing tests that the relay refuses to forward
// between devices that never paired, and reports unknown targets.
func TestE2E_RelayRequiresPairing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	svc := startRelay(t, ctx, t.TempDir())

	compA := registerCompanion(t, ctx, svc.Addr().String(), "companion-itest-a", "Companion A")
	registerCompanion(t, ctx, svc.Addr().String(), "companion-itest-b", "Companion B")

	msg, err := wire.NewRelayMessage("companion-itest-b", "notification", map[string]string{"title": "sneaky"})
	if err != nil {
		t.Fatalf("Failed to build relay message: %v", err)
	}
	sendEnvelope(t, compA, msg)
	var failed wire.RelayFailed
	decodeEnvelope(t, awaitEnvelope(t, compA, wire.TypeRelayFailed, 5*time.Second), &failed)
	if failed.Message != "not paired with target device" {
		t.Errorf("Unpaired relay rejection = %q, want %q", failed.Message, "not paired with target device")
	}

	ghost, err := wire.NewRelayMessage("ghost-device", "notification", map[string]string{"title": "anyone?"})
	if err != nil {
		t.Fatalf("Failed to build relay message: %v", err)
	}
	sendEnvelope(t, compA, ghost)
	decodeEnvelope(t, awaitEnvelope(t, compA, wire.TypeRelayFailed, 5*time.Second), &failed)
	if failed.Message != "unknown device" {
		t.Errorf("Unknown target rejection = %q, want %q", failed.Message, "unknown device")
	}

	if got := svc.PairingCount(); got != 0 {
		t.Errorf("PairingCount = %d, want 0", got)
	}

	t.Logf("Relay authorization test successful - unpaired and unknown targets both refused")
}

// TestE2E_OfflineTarget tests that relaying to a paired but
// disconnected device fails without destroying the pairing.
func TestE2E_OfflineTarget(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svc := startRelay(t, ctx, t.TempDir())
	session, events := startHost(t, ctx, svc.Addr().String(), t.TempDir(), "Lonely Host")

	waitEvent(t, events, host.EventRegistered, 5*time.Second)
	issued := waitEvent(t, events, host.EventCodeIssued, 5*time.Second)

	comp := pairNewCompanion(t, ctx, svc.Addr().String(), issued.Code, "companion-itest-offline", "Flaky Companion")
	waitEvent(t, events, host.EventPaired, 5*time.Second)

	comp.Close()
	waitDisconnected(t, svc, "companion-itest-offline", 5*time.Second)

	if err := session.SendTo("companion-itest-offline", "status-update", map[string]string{"state": "idle"}); err != nil {
		t.Fatalf("SendTo failed: %v", err)
	}
	failure := waitEvent(t, events, host.EventError, 5*time.Second)
	if failure.Error == nil || !strings.Contains(failure.Error.Error(), "target device offline") {
		t.Errorf("Delivery failure = %v, want target device offline", failure.Error)
	}

	// The pairing itself survives the peer going offline
	if got := svc.PairingCount(); got != 1 {
		t.Errorf("PairingCount = %d, want 1", got)
	}
	if got := len(session.Pairings()); got != 1 {
		t.Errorf("Host pairings = %d, want 1", got)
	}

	t.Logf("Offline target test successful - delivery failed, pairing preserved")
}

// TestE2E_ResumeAfterRestart tests that identities and pairings
// survive both a relay restart and a host restart: the resumed host is
// told about its existing pairing and does not issue a fresh code.
func TestE2E_ResumeAfterRestart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	relayDir := t.TempDir()
	hostDir := t.TempDir()

	svc1 := startRelay(t, ctx, relayDir)
	session1, events1 := startHost(t, ctx, svc1.Addr().String(), hostDir, "Durable Host")

	waitEvent(t, events1, host.EventRegistered, 5*time.Second)
	issued := waitEvent(t, events1, host.EventCodeIssued, 5*time.Second)
	hostID := session1.DeviceID()

	comp := pairNewCompanion(t, ctx, svc1.Addr().String(), issued.Code, "companion-itest-durable", "Durable Companion")
	waitEvent(t, events1, host.EventPaired, 5*time.Second)

	comp.Close()
	session1.Stop()
	if err := svc1.Stop(); err != nil {
		t.Fatalf("Failed to stop relay: %v", err)
	}
	t.Log("First host and relay stopped, restarting from the same data directories")

	svc2 := startRelay(t, ctx, relayDir)
	if got := svc2.PairingCount(); got != 1 {
		t.Fatalf("Restarted relay PairingCount = %d, want 1", got)
	}
	if got := svc2.DeviceCount(); got != 2 {
		t.Errorf("Restarted relay DeviceCount = %d, want 2", got)
	}

	session2, events2 := startHost(t, ctx, svc2.Addr().String(), hostDir, "Durable Host")
	if session2.DeviceID() != hostID {
		t.Errorf("Restarted host identity = %s, want %s", session2.DeviceID(), hostID)
	}

	waitEvent(t, events2, host.EventRegistered, 5*time.Second)
	waitEvent(t, events2, host.EventPairingsResumed, 5*time.Second)

	pairings := session2.Pairings()
	if len(pairings) != 1 || pairings[0].DeviceID != "companion-itest-durable" {
		t.Fatalf("Resumed pairings = %v, want companion-itest-durable", pairings)
	}

	// A host with resumed pairings must not issue a new code
	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case ev := <-events2:
			if ev.Type == host.EventCodeIssued {
				t.Fatal("Restarted host issued a pairing code despite resumed pairings")
			}
		case <-deadline:
			if _, ok := session2.Code(); ok {
				t.Fatal("Restarted host holds an active pairing code")
			}
			t.Logf("Restart test successful - identity %s and pairing resumed, no new code issued", hostID)
			return
		}
	}
}

// TestE2E_SecondRegistrationSupersedes tests that re-registering a
// device ID closes the older connection and routes to the new one.
func TestE2E_SecondRegistrationSupersedes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	svc := startRelay(t, ctx, t.TempDir())

	connA := registerCompanion(t, ctx, svc.Addr().String(), "companion-itest-dup", "First Conn")

	connB := dialRelay(t, ctx, svc.Addr().String())
	sendEnvelope(t, connB, wire.NewRegister("companion-itest-dup", device.ClassCompanion.String(), "Second Conn"))
	var registered wire.Registered
	decodeEnvelope(t, awaitEnvelope(t, connB, wire.TypeRegistered, 5*time.Second), &registered)
	if !registered.IsKnownDevice {
		t.Error("Second registration not recognized as a known device")
	}

	// The superseded connection gets closed by the relay
	if _, err := connA.Receive(2 * time.Second); err == nil {
		t.Error("Superseded connection still receiving, want closed")
	}

	if got := svc.DeviceCount(); got != 1 {
		t.Errorf("DeviceCount = %d, want 1", got)
	}
	if got := len(svc.ConnectedIDs()); got != 1 {
		t.Errorf("ConnectedIDs = %d, want 1", got)
	}

	// The winning connection is live
	sendEnvelope(t, connB, wire.NewPing())
	awaitEnvelope(t, connB, wire.TypePong, 5*time.Second)

	t.Logf("Supersede test successful - old connection closed, new connection serving %s", registered.DeviceID)
}

// startRelay creates and starts a relay on an ephemeral port.
func startRelay(t *testing.T, ctx context.Context, dataDir string) *relay.Service {
	t.Helper()

	svc, err := relay.NewService(relay.Config{
		Address: "127.0.0.1:0",
		DataDir: dataDir,
	})
	if err != nil {
		t.Fatalf("Failed to create relay: %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Failed to start relay: %v", err)
	}
	t.Cleanup(func() { _ = svc.Stop() })
	return svc
}

// startHost creates and starts a host session with short timers so
// tests observe code issuance quickly. Events are buffered on the
// returned channel.
func startHost(t *testing.T, ctx context.Context, relayAddr, dataDir, name string) (*host.Session, <-chan host.Event) {
	t.Helper()

	session, err := host.NewSession(host.Config{
		RelayAddress:      relayAddr,
		DataDir:           dataDir,
		DeviceName:        name,
		CodeIssueDelay:    100 * time.Millisecond,
		ReconnectInterval: 250 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Failed to create host session: %v", err)
	}

	events := make(chan host.Event, 64)
	session.AddEventHandler(func(ev host.Event) {
		select {
		case events <- ev:
		default:
		}
	})

	if err := session.Start(ctx); err != nil {
		t.Fatalf("Failed to start host session: %v", err)
	}
	t.Cleanup(session.Stop)
	return session, events
}

// waitEvent drains the event channel until an event of the wanted type
// arrives, failing the test on timeout.
func waitEvent(t *testing.T, events <-chan host.Event, want host.EventType, timeout time.Duration) host.Event {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("Timeout waiting for host event %v", want)
			return host.Event{}
		}
	}
}

// dialRelay opens a plain connection to the relay.
func dialRelay(t *testing.T, ctx context.Context, addr string) *transport.ClientConn {
	t.Helper()

	client := transport.NewClient(transport.ClientConfig{})
	conn, err := client.Connect(ctx, addr)
	if err != nil {
		t.Fatalf("Failed to connect to relay: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// registerCompanion connects and registers a companion, consuming the
// registered reply.
func registerCompanion(t *testing.T, ctx context.Context, addr, deviceID, name string) *transport.ClientConn {
	t.Helper()

	conn := dialRelay(t, ctx, addr)
	sendEnvelope(t, conn, wire.NewRegister(deviceID, device.ClassCompanion.String(), name))

	var registered wire.Registered
	decodeEnvelope(t, awaitEnvelope(t, conn, wire.TypeRegistered, 5*time.Second), &registered)
	if registered.DeviceID != deviceID {
		t.Fatalf("Registered device = %s, want %s", registered.DeviceID, deviceID)
	}
	return conn
}

// pairNewCompanion registers a fresh companion and pairs it with the
// host that issued code.
func pairNewCompanion(t *testing.T, ctx context.Context, addr, code, deviceID, name string) *transport.ClientConn {
	t.Helper()

	conn := registerCompanion(t, ctx, addr, deviceID, name)
	sendEnvelope(t, conn, wire.NewPairRequest(code, name))

	var paired wire.Paired
	decodeEnvelope(t, awaitEnvelope(t, conn, wire.TypePaired, 5*time.Second), &paired)
	return conn
}

// sendEnvelope marshals and sends one wire message.
func sendEnvelope(t *testing.T, conn *transport.ClientConn, msg any) {
	t.Helper()

	data, err := wire.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal message: %v", err)
	}
	if err := conn.Send(data); err != nil {
		t.Fatalf("Failed to send message: %v", err)
	}
}

// awaitEnvelope reads frames until one of the wanted type arrives,
// skipping interleaved traffic such as relay acks.
func awaitEnvelope(t *testing.T, conn *transport.ClientConn, wantType string, timeout time.Duration) []byte {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("Timeout waiting for %s", wantType)
		}
		data, err := conn.Receive(remaining)
		if err != nil {
			t.Fatalf("Receive failed while waiting for %s: %v", wantType, err)
		}
		typ, err := wire.PeekType(data)
		if err != nil {
			t.Fatalf("Malformed message: %v", err)
		}
		if typ == wantType {
			return data
		}
		t.Logf("Skipping %s while waiting for %s", typ, wantType)
	}
}

// decodeEnvelope unmarshals a received frame into msg.
func decodeEnvelope(t *testing.T, data []byte, msg any) {
	t.Helper()

	if err := wire.Unmarshal(data, msg); err != nil {
		t.Fatalf("Failed to decode message: %v", err)
	}
}

// waitDisconnected polls until the relay no longer lists deviceID as
// connected.
func waitDisconnected(t *testing.T, svc *relay.Service, deviceID string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		connected := false
		for _, id := range svc.ConnectedIDs() {
			if id == deviceID {
				connected = true
				break
			}
		}
		if !connected {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("Relay still lists %s as connected", deviceID)
}

// writeRelayCert generates a self-signed server certificate and writes
// it to dir. The certificate file doubles as the client CA bundle.
func writeRelayCert(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: "pairlink-test-relay",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("Failed to marshal key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	certFile = filepath.Join(dir, "relay-cert.pem")
	keyFile = filepath.Join(dir, "relay-key.pem")
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		t.Fatalf("Failed to write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatalf("Failed to write key: %v", err)
	}
	return certFile, keyFile
}
