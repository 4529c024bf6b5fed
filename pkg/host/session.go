package host

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pairlink/pairlink-go/pkg/connection"
	"github.com/pairlink/pairlink-go/pkg/device"
	"github.com/pairlink/pairlink-go/pkg/log"
	"github.com/pairlink/pairlink-go/pkg/pairing"
	"github.com/pairlink/pairlink-go/pkg/persistence"
	"github.com/pairlink/pairlink-go/pkg/transport"
	"github.com/pairlink/pairlink-go/pkg/wire"
)

// Session is the host-side relay client. It owns a stable device
// identity, keeps itself registered with the relay across connection
// drops, answers pairing offers against the currently issued code, and
// dispatches relayed payloads to registered handlers.
type Session struct {
	mu sync.RWMutex

	config   Config
	identity persistence.Identity

	machine *pairing.Machine
	client  *transport.Client
	manager *connection.Manager

	// Current relay connection. Nil while disconnected; registered
	// turns true once the relay confirms the registration.
	conn       *transport.ClientConn
	registered bool

	// Paired peers as last reported by the relay (id -> display name).
	peers map[string]string

	// codeTimer delays code generation after registration so an
	// existing_pairings notification can suppress it.
	codeTimer *time.Timer

	handlers      map[string]PayloadHandler
	eventHandlers []EventHandler

	logger         *slog.Logger
	protocolLogger log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started bool
	stopped bool
}

// NewSession creates a host session. The device identity is loaded from
// the data directory, or derived and persisted on first start.
func NewSession(config Config) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	identity, created, err := loadOrCreateIdentity(config.DataDir, config.DeviceName)
	if err != nil {
		return nil, err
	}

	clientConfig := transport.ClientConfig{
		Logger: config.ProtocolLogger,
	}
	if config.TLSCAFile != "" || config.TLSServerName != "" || config.TLSInsecureSkipVerify {
		tlsConfig, err := transport.LoadClientTLSConfig(config.TLSCAFile, config.TLSServerName, config.TLSInsecureSkipVerify)
		if err != nil {
			return nil, err
		}
		clientConfig.TLSConfig = tlsConfig
	}

	s := &Session{
		config:         config,
		identity:       identity,
		machine:        pairing.NewMachine(config.CodeWindow),
		client:         transport.NewClient(clientConfig),
		peers:          make(map[string]string),
		handlers:       make(map[string]PayloadHandler),
		logger:         config.Logger,
		protocolLogger: config.ProtocolLogger,
	}
	s.manager = connection.NewManagerWithBackoff(s.connectOnce, connection.FixedBackoff(config.ReconnectInterval))
	s.manager.OnConnected(s.onConnected)
	s.manager.OnDisconnected(func() {
		s.emitEvent(Event{Type: EventDisconnected})
	})
	s.manager.OnReconnecting(func(attempt int, delay time.Duration) {
		s.debugLog("reconnecting to relay", "attempt", attempt, "delay", delay)
		s.emitEvent(Event{Type: EventReconnecting, Attempt: attempt, Delay: delay})
	})

	if created {
		s.debugLog("derived new device identity",
			"device_id", identity.DeviceID,
			"fingerprint", device.Fingerprint(identity.DeviceID, identity.DeviceName))
	} else {
		s.debugLog("loaded device identity", "device_id", identity.DeviceID)
	}

	return s, nil
}

// Start connects to the relay and keeps the session registered until
// Stop. A failed first connect is not an error: the session falls back
// to the reconnect loop and keeps trying at the configured interval.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.manager.StartReconnectLoop()

	if err := s.manager.Connect(s.ctx); err != nil {
		s.debugLog("initial connect failed", "address", s.config.RelayAddress, "error", err)
		s.manager.TriggerReconnect()
	}
	return nil
}

// Stop disconnects and stops reconnecting. Safe to call more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.started = true
	if s.codeTimer != nil {
		s.codeTimer.Stop()
		s.codeTimer = nil
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.manager.Close()

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.registered = false
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}

	s.wg.Wait()
	s.debugLog("session stopped", "device_id", s.identity.DeviceID)
}

// DeviceID returns the stable device identifier.
func (s *Session) DeviceID() string {
	return s.identity.DeviceID
}

// DeviceName returns the display name.
func (s *Session) DeviceName() string {
	return s.identity.DeviceName
}

// Fingerprint returns the short identity fingerprint for operator
// verification.
func (s *Session) Fingerprint() string {
	return device.Fingerprint(s.identity.DeviceID, s.identity.DeviceName)
}

// State returns the connection manager state.
func (s *Session) State() connection.State {
	return s.manager.State()
}

// Connected reports whether the session holds a registered relay
// connection.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil && s.registered
}

// Code returns the currently issued pairing code while it is valid.
func (s *Session) Code() (string, bool) {
	code, ok := s.machine.Current()
	if !ok {
		return "", false
	}
	return code.String(), true
}

// IssueCode generates a fresh pairing code, replacing any active one.
func (s *Session) IssueCode() (string, error) {
	code, err := s.machine.IssueCode()
	if err != nil {
		return "", err
	}
	s.emitEvent(Event{Type: EventCodeIssued, Code: code.String()})
	return code.String(), nil
}

// Pairings returns the paired peers as last reported by the relay,
// sorted by device ID.
func (s *Session) Pairings() []wire.Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]wire.Peer, 0, len(s.peers))
	for id, name := range s.peers {
		peers = append(peers, wire.Peer{DeviceID: id, DeviceName: name})
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].DeviceID < peers[j].DeviceID })
	return peers
}

// SendTo relays a payload to a paired device. The relay answers with
// relay_ack or relay_failed; failures surface as EventError.
func (s *Session) SendTo(targetDeviceID, kind string, payload any) error {
	s.mu.RLock()
	conn, registered := s.conn, s.registered
	s.mu.RUnlock()
	if conn == nil || !registered {
		return ErrNotConnected
	}

	msg, err := wire.NewRelayMessage(targetDeviceID, kind, payload)
	if err != nil {
		return err
	}
	return s.send(conn, msg)
}

// Unpair asks the relay to remove the pairing with the given device.
func (s *Session) Unpair(targetDeviceID string) error {
	s.mu.RLock()
	conn, registered := s.conn, s.registered
	s.mu.RUnlock()
	if conn == nil || !registered {
		return ErrNotConnected
	}

	return s.send(conn, wire.NewUnpairDevice(targetDeviceID))
}

// RegisterPayloadHandler installs the handler for one payload kind,
// replacing any previous one. Registering a handler for PayloadPing
// overrides the built-in reply.
func (s *Session) RegisterPayloadHandler(kind string, handler PayloadHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = handler
}

// AddEventHandler registers a handler for session events. Handlers run
// on their own goroutines.
func (s *Session) AddEventHandler(handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventHandlers = append(s.eventHandlers, handler)
}

// connectOnce dials the relay and sends the registration. The read
// loop is started by the connection manager once the attempt counts as
// connected.
func (s *Session) connectOnce(ctx context.Context) error {
	conn, err := s.client.Connect(ctx, s.config.RelayAddress)
	if err != nil {
		return err
	}

	reg := wire.NewRegister(s.identity.DeviceID, device.ClassHost.String(), s.identity.DeviceName)
	data, err := wire.Marshal(reg)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := conn.Send(data); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send register: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.registered = false
	s.mu.Unlock()

	s.debugLog("connected to relay", "address", s.config.RelayAddress, "conn_id", conn.ConnID())
	return nil
}

func (s *Session) onConnected() {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return
	}

	s.wg.Add(1)
	go s.readLoop(conn)

	s.emitEvent(Event{Type: EventConnected})
}

func (s *Session) readLoop(conn *transport.ClientConn) {
	defer s.wg.Done()

	for {
		data, err := conn.Receive(0)
		if err != nil {
			_ = conn.Close()

			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
				s.registered = false
				if s.codeTimer != nil {
					s.codeTimer.Stop()
					s.codeTimer = nil
				}
			}
			s.mu.Unlock()

			if s.ctx.Err() == nil {
				s.debugLog("relay connection lost", "error", err)
				s.manager.NotifyConnectionLost()
			}
			return
		}

		s.handleMessage(conn, data)
	}
}

func (s *Session) handleMessage(conn *transport.ClientConn, data []byte) {
	typ, err := wire.PeekType(data)
	if err != nil {
		s.warnLog("malformed message from relay", "error", err)
		return
	}

	switch typ {
	case wire.TypeRegistered:
		s.handleRegistered(conn, data)
	case wire.TypeExistingPairings:
		s.handleExistingPairings(data)
	case wire.TypePairRequest:
		s.handlePairRequest(conn, data)
	case wire.TypePaired:
		s.handlePaired(data)
	case wire.TypeUnpaired:
		s.handleUnpaired(data)
	case wire.TypeRelayMessage:
		s.handleRelayMessage(conn, data)
	case wire.TypeRelayAck:
		s.debugLog("relay delivery confirmed")
	case wire.TypeRelayFailed:
		var msg wire.RelayFailed
		if err := wire.Unmarshal(data, &msg); err != nil {
			s.warnLog("malformed relay_failed", "error", err)
			return
		}
		s.warnLog("relay delivery failed", "reason", msg.Message)
		s.emitEvent(Event{Type: EventError, Error: fmt.Errorf("relay delivery failed: %s", msg.Message)})
	case wire.TypeError:
		var msg wire.Error
		if err := wire.Unmarshal(data, &msg); err != nil {
			s.warnLog("malformed error message", "error", err)
			return
		}
		s.warnLog("relay error", "message", msg.Message)
		s.emitEvent(Event{Type: EventError, Error: fmt.Errorf("relay error: %s", msg.Message)})
	case wire.TypePong:
		s.debugLog("pong from relay")
	default:
		s.debugLog("unhandled message type", "type", typ)
	}
}

func (s *Session) handleRegistered(conn *transport.ClientConn, data []byte) {
	var msg wire.Registered
	if err := wire.Unmarshal(data, &msg); err != nil {
		s.warnLog("malformed registered", "error", err)
		return
	}

	s.mu.Lock()
	s.registered = true
	if s.codeTimer != nil {
		s.codeTimer.Stop()
	}
	s.codeTimer = time.AfterFunc(s.config.CodeIssueDelay, s.maybeIssueCode)
	s.mu.Unlock()

	s.debugLog("registered with relay",
		"device_id", msg.DeviceID,
		"known", msg.IsKnownDevice)
	s.logState(conn, log.StateEntitySession, "CONNECTING", "REGISTERED", "")
	s.emitEvent(Event{Type: EventRegistered})
}

func (s *Session) handleExistingPairings(data []byte) {
	var msg wire.ExistingPairings
	if err := wire.Unmarshal(data, &msg); err != nil {
		s.warnLog("malformed existing_pairings", "error", err)
		return
	}

	s.mu.Lock()
	if s.codeTimer != nil {
		s.codeTimer.Stop()
		s.codeTimer = nil
	}
	s.peers = make(map[string]string, len(msg.Pairings))
	for _, peer := range msg.Pairings {
		s.peers[peer.DeviceID] = peer.DeviceName
	}
	count := len(s.peers)
	s.mu.Unlock()

	s.debugLog("existing pairings resumed", "count", count)
	s.emitEvent(Event{Type: EventPairingsResumed})
}

// maybeIssueCode runs after the post-registration delay. It issues a
// fresh pairing code unless the relay reported pairings in the
// meantime or the connection is already gone.
func (s *Session) maybeIssueCode() {
	s.mu.Lock()
	skip := len(s.peers) > 0 || s.conn == nil || !s.registered
	s.mu.Unlock()
	if skip {
		return
	}

	code, err := s.machine.IssueCode()
	if err != nil {
		s.warnLog("pairing code generation failed", "error", err)
		return
	}

	s.debugLog("pairing code issued", "window", s.config.CodeWindow)
	s.emitEvent(Event{Type: EventCodeIssued, Code: code.String()})
}

func (s *Session) handlePairRequest(conn *transport.ClientConn, data []byte) {
	var msg wire.PairRequest
	if err := wire.Unmarshal(data, &msg); err != nil {
		s.warnLog("malformed pair_request", "error", err)
		return
	}
	if msg.FromDeviceID == "" {
		s.warnLog("pair_request without sender")
		return
	}

	prior := s.machine.State()
	outcome := pairing.EvalCodeMismatch
	if code, err := pairing.ParseCode(msg.PairingCode); err == nil {
		outcome = s.machine.Evaluate(code)
	}

	accepted := outcome == pairing.EvalAccepted
	message := "Invalid pairing code"
	if accepted {
		message = fmt.Sprintf("Paired with %s", s.identity.DeviceName)
	}

	s.debugLog("pairing offer decided",
		"from", msg.FromDeviceID,
		"device_name", msg.DeviceName,
		"outcome", outcome.String())
	s.logState(conn, log.StateEntityPairing, prior.String(), outcome.String(), msg.FromDeviceID)

	if err := s.send(conn, wire.NewPairResponse(msg.FromDeviceID, accepted, message)); err != nil {
		s.warnLog("pair_response send failed", "error", err)
	}
}

func (s *Session) handlePaired(data []byte) {
	var msg wire.Paired
	if err := wire.Unmarshal(data, &msg); err != nil {
		s.warnLog("malformed paired", "error", err)
		return
	}

	s.mu.Lock()
	s.peers[msg.PeerDeviceID] = msg.PeerDeviceName
	s.mu.Unlock()

	s.debugLog("paired", "peer_id", msg.PeerDeviceID, "peer_name", msg.PeerDeviceName)
	s.emitEvent(Event{
		Type:           EventPaired,
		PeerDeviceID:   msg.PeerDeviceID,
		PeerDeviceName: msg.PeerDeviceName,
	})
}

func (s *Session) handleUnpaired(data []byte) {
	var msg wire.Unpaired
	if err := wire.Unmarshal(data, &msg); err != nil {
		s.warnLog("malformed unpaired", "error", err)
		return
	}

	s.mu.Lock()
	name := s.peers[msg.TargetDeviceID]
	delete(s.peers, msg.TargetDeviceID)
	s.mu.Unlock()

	s.debugLog("unpaired", "peer_id", msg.TargetDeviceID)
	s.emitEvent(Event{
		Type:           EventUnpaired,
		PeerDeviceID:   msg.TargetDeviceID,
		PeerDeviceName: name,
	})
}

func (s *Session) handleRelayMessage(conn *transport.ClientConn, data []byte) {
	var msg wire.RelayMessage
	if err := wire.Unmarshal(data, &msg); err != nil {
		s.warnLog("malformed relay_message", "error", err)
		return
	}
	if msg.FromDeviceID == "" {
		s.warnLog("relay_message without sender")
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[msg.MessageType]
	s.mu.RUnlock()

	if ok {
		if err := handler(msg.FromDeviceID, msg.Payload); err != nil {
			s.warnLog("payload handler failed", "kind", msg.MessageType, "error", err)
			s.replyError(conn, msg.FromDeviceID, err.Error())
		}
		return
	}

	if msg.MessageType == PayloadPing {
		reply, err := wire.NewRelayMessage(msg.FromDeviceID, PayloadPong, msg.Payload)
		if err != nil {
			s.warnLog("pong build failed", "error", err)
			return
		}
		if err := s.send(conn, reply); err != nil {
			s.warnLog("pong send failed", "error", err)
		}
		return
	}

	s.debugLog("unhandled payload kind", "kind", msg.MessageType, "from", msg.FromDeviceID)
	s.replyError(conn, msg.FromDeviceID, "unhandled message type: "+msg.MessageType)
}

// replyError reports a payload-level problem back to the sender as an
// error payload through the relay.
func (s *Session) replyError(conn *transport.ClientConn, targetDeviceID, text string) {
	reply, err := wire.NewRelayMessage(targetDeviceID, PayloadError, map[string]string{"message": text})
	if err != nil {
		s.warnLog("error payload build failed", "error", err)
		return
	}
	if err := s.send(conn, reply); err != nil {
		s.warnLog("error payload send failed", "error", err)
	}
}

func (s *Session) send(conn *transport.ClientConn, msg any) error {
	data, err := wire.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Send(data)
}

func (s *Session) emitEvent(event Event) {
	s.mu.RLock()
	handlers := s.eventHandlers
	s.mu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}

func (s *Session) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Session) warnLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Session) logState(conn *transport.ClientConn, entity log.StateEntity, oldState, newState, peerID string) {
	if s.protocolLogger == nil {
		return
	}
	s.protocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: conn.ConnID(),
		Layer:        log.LayerService,
		Category:     log.CategoryState,
		LocalRole:    log.RoleHost,
		DeviceID:     s.identity.DeviceID,
		PeerID:       peerID,
		StateChange: &log.StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
		},
	})
}
