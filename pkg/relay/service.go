package relay

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/pairlink/pairlink-go/pkg/device"
	"github.com/pairlink/pairlink-go/pkg/log"
	"github.com/pairlink/pairlink-go/pkg/persistence"
	"github.com/pairlink/pairlink-go/pkg/transport"
	"github.com/pairlink/pairlink-go/pkg/wire"
)

var _ Conn = (*transport.ServerConn)(nil)

// Service is the relay daemon: it accepts device connections, keeps
// the registry, directory, and pairing store consistent, and routes
// messages between paired devices.
type Service struct {
	mu     sync.RWMutex
	config Config
	state  ServiceState

	server   *transport.Server
	registry *Registry

	directory *persistence.DirectoryStore
	pairings  *persistence.PairingStore

	// Per-connection registration state. A connection appears here
	// from accept to close; deviceID is empty until register.
	conns map[Conn]*connState

	logger         *slog.Logger
	protocolLogger log.Logger
	audit          AuditSink

	ctx    context.Context
	cancel context.CancelFunc
}

// connState tracks what the relay knows about one connection.
type connState struct {
	deviceID string
	class    device.Class
}

// NewService creates a relay service and loads its snapshots from the
// data directory. Missing snapshot files mean empty state.
func NewService(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	directory, err := persistence.OpenDirectoryStore(filepath.Join(config.DataDir, DevicesFile))
	if err != nil {
		return nil, err
	}
	pairings, err := persistence.OpenPairingStore(filepath.Join(config.DataDir, PairingsFile))
	if err != nil {
		return nil, err
	}

	return &Service{
		config:         config,
		state:          StateIdle,
		registry:       NewRegistry(),
		directory:      directory,
		pairings:       pairings,
		conns:          make(map[Conn]*connState),
		logger:         config.Logger,
		protocolLogger: config.ProtocolLogger,
		audit:          config.Audit,
	}, nil
}

// State returns the current service state.
func (s *Service) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Addr returns the listen address once the service is running.
func (s *Service) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.server == nil {
		return nil
	}
	return s.server.Addr()
}

// DeviceCount returns the number of devices in the directory.
func (s *Service) DeviceCount() int {
	return s.directory.Len()
}

// PairingCount returns the number of recorded pairings.
func (s *Service) PairingCount() int {
	return s.pairings.Len()
}

// ConnectedIDs returns the currently registered device IDs.
func (s *Service) ConnectedIDs() []string {
	return s.registry.Snapshot()
}

// Start starts the relay listener.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateStarting
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)

	var tlsConfig *tls.Config
	if s.config.TLSCertFile != "" {
		var err error
		tlsConfig, err = transport.LoadServerTLSConfig(s.config.TLSCertFile, s.config.TLSKeyFile)
		if err != nil {
			s.setState(StateIdle)
			return err
		}
	}

	server := transport.NewServer(transport.ServerConfig{
		Address:        s.config.Address,
		TLSConfig:      tlsConfig,
		MaxMessageSize: s.config.MaxMessageSize,
		Logger:         s.config.ProtocolLogger,
		OnConnect: func(conn *transport.ServerConn) {
			s.handleConnect(conn)
		},
		OnDisconnect: func(conn *transport.ServerConn) {
			s.handleDisconnect(conn)
		},
		OnMessage: func(conn *transport.ServerConn, msg []byte) {
			s.handleMessage(conn, msg)
		},
		OnError: func(conn *transport.ServerConn, err error) {
			s.debugLog("transport error", "error", err)
		},
	})

	if err := server.Start(s.ctx); err != nil {
		s.setState(StateIdle)
		return err
	}

	s.mu.Lock()
	s.server = server
	s.state = StateRunning
	s.mu.Unlock()

	s.debugLog("relay listening",
		"address", server.Addr().String(),
		"devices", s.directory.Len(),
		"pairings", s.pairings.Len(),
		"tls", tlsConfig != nil)

	return nil
}

// Stop shuts the relay down: the listener closes, every session is
// closed, and both snapshots are flushed.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning && s.state != StateStarting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	server := s.server
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if server != nil {
		_ = server.Stop()
	}

	// Flush recovers snapshots left dirty by an earlier failed write.
	var firstErr error
	if err := s.directory.Flush(); err != nil {
		s.warnLog("failed to flush device directory", "error", err)
		firstErr = err
	}
	if err := s.pairings.Flush(); err != nil {
		s.warnLog("failed to flush pairing store", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	s.setState(StateStopped)
	return firstErr
}

func (s *Service) setState(state ServiceState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// handleConnect tracks a new, not yet registered connection.
func (s *Service) handleConnect(conn Conn) {
	s.mu.Lock()
	s.conns[conn] = &connState{}
	s.mu.Unlock()

	s.debugLog("connection opened", "conn_id", conn.ConnID(), "remote", remoteAddr(conn))
}

// handleDisconnect deregisters a closed connection and stamps the
// device's last_seen.
func (s *Service) handleDisconnect(conn Conn) {
	s.mu.Lock()
	st, ok := s.conns[conn]
	delete(s.conns, conn)
	s.mu.Unlock()

	if !ok || st.deviceID == "" {
		return
	}

	if _, err := s.directory.Touch(st.deviceID, time.Now()); err != nil {
		s.warnLog("failed to persist device directory", "device_id", st.deviceID, "error", err)
	}

	if s.registry.RemoveConn(st.deviceID, conn) {
		s.logState(conn, st.deviceID, "", log.StateEntitySession, "REGISTERED", "DISCONNECTED", "connection closed")
		s.debugLog("device disconnected", "device_id", st.deviceID, "conn_id", conn.ConnID())
	}
}

// handleMessage routes one inbound message. The transport calls it
// from the connection's read loop, so handling per connection is
// sequential.
func (s *Service) handleMessage(conn Conn, data []byte) {
	st := s.stateOf(conn)

	typ, err := wire.PeekType(data)
	if err != nil {
		s.logError(conn, st.deviceID, err, "decoding envelope")
		s.sendError(conn, st.deviceID, "malformed message")
		return
	}

	s.logMessage(conn, st.deviceID, log.DirectionIn, &log.MessageEvent{Type: typ, Size: len(data)})

	if typ == wire.TypeRegister {
		s.handleRegister(conn, data)
		return
	}

	// Everything else requires a completed registration first.
	if st.deviceID == "" {
		s.sendError(conn, "", ErrNotRegistered.Error())
		return
	}

	switch typ {
	case wire.TypePairRequest:
		s.handlePairRequest(conn, st, data)
	case wire.TypePairResponse:
		s.handlePairResponse(conn, st, data)
	case wire.TypeUnpairDevice:
		s.handleUnpair(conn, st, data)
	case wire.TypeRelayMessage:
		s.handleRelay(conn, st, data)
	case wire.TypePing:
		_ = s.send(conn, st.deviceID, wire.TypePong, wire.NewPong())
	default:
		s.sendError(conn, st.deviceID, "unknown message type: "+typ)
	}
}

// stateOf returns a copy of the connection's registration state.
func (s *Service) stateOf(conn Conn) connState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.conns[conn]; ok {
		return *st
	}
	return connState{}
}

// bind records the device identity for a connection and returns the ID
// it was previously bound to, if any.
func (s *Service) bind(conn Conn, deviceID string, class device.Class) (previousID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.conns[conn]
	if !ok {
		st = &connState{}
		s.conns[conn] = st
	}
	previousID = st.deviceID
	st.deviceID = deviceID
	st.class = class
	return previousID
}

// send marshals and writes one message. Write failures are returned so
// callers can treat the peer as gone.
func (s *Service) send(conn Conn, deviceID, typ string, msg any) error {
	data, err := wire.Marshal(msg)
	if err != nil {
		return err
	}

	if err := conn.Send(data); err != nil {
		s.debugLog("send failed", "type", typ, "device_id", deviceID, "error", err)
		return err
	}

	s.logMessage(conn, deviceID, log.DirectionOut, &log.MessageEvent{Type: typ, Size: len(data)})
	return nil
}

// sendError answers the sender's last message with a protocol error.
// The connection stays open.
func (s *Service) sendError(conn Conn, deviceID, message string) {
	_ = s.send(conn, deviceID, wire.TypeError, wire.NewError(message))
}

// dropConn removes a connection whose write failed, so later lookups
// stop routing to a dead peer before its read loop notices.
func (s *Service) dropConn(deviceID string, conn Conn, reason string) {
	s.registry.RemoveConn(deviceID, conn)
	_ = conn.Close()
	s.debugLog("dropped dead connection", "device_id", deviceID, "reason", reason)
}

// record hands an audit event to the configured sink.
func (s *Service) record(e AuditEvent) {
	if s.audit == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.audit.Record(ctx, e); err != nil {
		s.warnLog("failed to record audit event", "kind", e.Kind, "error", err)
	}
}

// debugLog logs a debug message if logging is enabled.
func (s *Service) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

// warnLog logs a warning if logging is enabled.
func (s *Service) warnLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Service) logEvent(ev log.Event) {
	if s.protocolLogger == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.LocalRole = log.RoleRelay
	s.protocolLogger.Log(ev)
}

func (s *Service) logMessage(conn Conn, deviceID string, dir log.Direction, msg *log.MessageEvent) {
	s.logEvent(log.Event{
		ConnectionID: conn.ConnID(),
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     messageCategory(msg.Type),
		RemoteAddr:   remoteAddr(conn),
		DeviceID:     deviceID,
		Message:      msg,
	})
}

func (s *Service) logState(conn Conn, deviceID, peerID string, entity log.StateEntity, oldState, newState, reason string) {
	s.logEvent(log.Event{
		ConnectionID: conn.ConnID(),
		Layer:        log.LayerService,
		Category:     log.CategoryState,
		RemoteAddr:   remoteAddr(conn),
		DeviceID:     deviceID,
		PeerID:       peerID,
		StateChange: &log.StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (s *Service) logError(conn Conn, deviceID string, err error, context string) {
	s.logEvent(log.Event{
		ConnectionID: conn.ConnID(),
		Layer:        log.LayerService,
		Category:     log.CategoryError,
		RemoteAddr:   remoteAddr(conn),
		DeviceID:     deviceID,
		Error: &log.ErrorEventData{
			Layer:   log.LayerService,
			Message: err.Error(),
			Context: context,
		},
	})
}

func messageCategory(typ string) log.Category {
	switch typ {
	case wire.TypePing, wire.TypePong:
		return log.CategoryControl
	case wire.TypeError:
		return log.CategoryError
	default:
		return log.CategoryMessage
	}
}

func remoteAddr(conn Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
