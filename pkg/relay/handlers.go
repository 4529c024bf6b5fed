package relay

import (
	"time"

	"github.com/pairlink/pairlink-go/pkg/device"
	"github.com/pairlink/pairlink-go/pkg/log"
	"github.com/pairlink/pairlink-go/pkg/pairing"
	"github.com/pairlink/pairlink-go/pkg/wire"
)

// handleRegister processes a register message. Registration is
// idempotent for the directory and supersedes any previous live
// connection for the same device ID.
func (s *Service) handleRegister(conn Conn, data []byte) {
	var msg wire.Register
	if err := wire.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", "malformed message")
		return
	}
	if err := msg.Validate(); err != nil {
		s.sendError(conn, "", err.Error())
		return
	}
	if err := device.ValidateID(msg.DeviceID); err != nil {
		s.sendError(conn, "", err.Error())
		return
	}
	class, err := device.ParseClass(msg.DeviceClass)
	if err != nil {
		s.sendError(conn, "", err.Error())
		return
	}

	now := time.Now()
	known, perr := s.directory.Upsert(device.Device{
		ID:          msg.DeviceID,
		Class:       class,
		DisplayName: msg.DeviceName,
		FirstSeen:   now,
		LastSeen:    now,
	})
	if perr != nil {
		s.warnLog("failed to persist device directory", "device_id", msg.DeviceID, "error", perr)
	}

	// Bind this connection before touching the registry so the
	// superseded connection's cleanup cannot evict the new binding.
	if previousID := s.bind(conn, msg.DeviceID, class); previousID != "" && previousID != msg.DeviceID {
		s.registry.RemoveConn(previousID, conn)
	}

	if replaced := s.registry.Put(msg.DeviceID, class, conn); replaced != nil {
		s.debugLog("superseded previous session",
			"device_id", msg.DeviceID,
			"old_conn_id", replaced.ConnID(),
			"conn_id", conn.ConnID())
	}

	s.logState(conn, msg.DeviceID, "", log.StateEntitySession, "", "REGISTERED", "register")
	s.debugLog("device registered",
		"device_id", msg.DeviceID,
		"class", class.String(),
		"name", msg.DeviceName,
		"known", known,
		"remote", remoteAddr(conn))

	if err := s.send(conn, msg.DeviceID, wire.TypeRegistered, wire.NewRegistered(msg.DeviceID, msg.DeviceName, known)); err != nil {
		return
	}

	if partners := s.pairings.PartnersOf(msg.DeviceID); len(partners) > 0 {
		peers := make([]wire.Peer, 0, len(partners))
		for _, id := range partners {
			peer := wire.Peer{DeviceID: id}
			if dev, ok := s.directory.Get(id); ok {
				peer.DeviceName = dev.DisplayName
			}
			peers = append(peers, peer)
		}
		_ = s.send(conn, msg.DeviceID, wire.TypeExistingPairings, wire.NewExistingPairings(peers))
	}

	s.record(AuditEvent{Kind: AuditRegistered, DeviceID: msg.DeviceID, Detail: msg.DeviceName})
}

// handlePairRequest validates the code format and forwards the offer
// to the first registered host.
func (s *Service) handlePairRequest(conn Conn, st connState, data []byte) {
	var msg wire.PairRequest
	if err := wire.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, st.deviceID, "malformed message")
		return
	}
	if err := msg.Validate(); err != nil {
		s.sendError(conn, st.deviceID, err.Error())
		return
	}

	// Reject obviously bad codes here; only well-formed codes reach a
	// host for comparison.
	if _, err := pairing.ParseCode(msg.PairingCode); err != nil {
		s.pairingFailed(conn, st.deviceID, ErrInvalidCode.Error())
		return
	}

	hostID, hostConn, ok := s.registry.FirstOfClass(device.ClassHost)
	if !ok {
		s.pairingFailed(conn, st.deviceID, ErrNoHost.Error())
		return
	}

	fwd := &wire.PairRequest{
		Type:         wire.TypePairRequest,
		FromDeviceID: st.deviceID,
		PairingCode:  msg.PairingCode,
		DeviceName:   msg.DeviceName,
	}
	if err := s.send(hostConn, hostID, wire.TypePairRequest, fwd); err != nil {
		s.dropConn(hostID, hostConn, "pair_request forward failed")
		s.pairingFailed(conn, st.deviceID, ErrNoHost.Error())
		return
	}

	s.debugLog("pair request forwarded", "from", st.deviceID, "host", hostID)
}

// handlePairResponse applies the host's verdict on a forwarded offer.
func (s *Service) handlePairResponse(conn Conn, st connState, data []byte) {
	var msg wire.PairResponse
	if err := wire.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, st.deviceID, "malformed message")
		return
	}
	if err := msg.Validate(); err != nil {
		s.sendError(conn, st.deviceID, err.Error())
		return
	}

	companionID := msg.TargetDeviceID

	if !msg.Accepted {
		reason := msg.Message
		if reason == "" {
			reason = "pairing rejected"
		}
		// Only the companion hears about a rejection; the host's code
		// stays valid for another attempt.
		if companionConn, ok := s.registry.Get(companionID); ok {
			s.pairingFailed(companionConn, companionID, reason)
		}
		s.logState(conn, st.deviceID, companionID, log.StateEntityPairing, "", "REJECTED", reason)
		s.debugLog("pairing rejected", "host", st.deviceID, "companion", companionID, "reason", reason)
		return
	}

	companion, ok := s.directory.Get(companionID)
	if !ok {
		s.sendError(conn, st.deviceID, ErrUnknownDevice.Error()+": "+companionID)
		return
	}

	if _, err := s.pairings.Add(st.deviceID, companionID); err != nil {
		s.warnLog("failed to persist pairing store", "device_id", st.deviceID, "peer_id", companionID, "error", err)
	}

	var hostName string
	if dev, ok := s.directory.Get(st.deviceID); ok {
		hostName = dev.DisplayName
	}

	_ = s.send(conn, st.deviceID, wire.TypePaired, wire.NewPaired(companionID, companion.DisplayName))
	if companionConn, ok := s.registry.Get(companionID); ok {
		_ = s.send(companionConn, companionID, wire.TypePaired, wire.NewPaired(st.deviceID, hostName))
	}

	s.logState(conn, st.deviceID, companionID, log.StateEntityPairing, "", "PAIRED", "accepted")
	s.debugLog("devices paired", "host", st.deviceID, "companion", companionID)
	s.record(AuditEvent{Kind: AuditPaired, DeviceID: st.deviceID, PeerID: companionID})
}

// handleUnpair removes a pairing. Unpairing an absent pair still
// answers unpaired, so retries are harmless.
func (s *Service) handleUnpair(conn Conn, st connState, data []byte) {
	var msg wire.UnpairDevice
	if err := wire.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, st.deviceID, "malformed message")
		return
	}
	if err := msg.Validate(); err != nil {
		s.sendError(conn, st.deviceID, err.Error())
		return
	}

	removed, err := s.pairings.Remove(st.deviceID, msg.TargetDeviceID)
	if err != nil {
		s.warnLog("failed to persist pairing store", "device_id", st.deviceID, "peer_id", msg.TargetDeviceID, "error", err)
	}

	_ = s.send(conn, st.deviceID, wire.TypeUnpaired, wire.NewUnpaired(msg.TargetDeviceID))

	if removed {
		if peerConn, ok := s.registry.Get(msg.TargetDeviceID); ok {
			_ = s.send(peerConn, msg.TargetDeviceID, wire.TypeUnpaired, wire.NewUnpaired(st.deviceID))
		}
		s.logState(conn, st.deviceID, msg.TargetDeviceID, log.StateEntityPairing, "PAIRED", "UNPAIRED", "unpair_device")
		s.debugLog("devices unpaired", "device_id", st.deviceID, "peer_id", msg.TargetDeviceID)
		s.record(AuditEvent{Kind: AuditUnpaired, DeviceID: st.deviceID, PeerID: msg.TargetDeviceID})
	}
}

// handleRelay routes an opaque payload to a paired, live target.
func (s *Service) handleRelay(conn Conn, st connState, data []byte) {
	var msg wire.RelayMessage
	if err := wire.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, st.deviceID, "malformed message")
		return
	}
	if err := msg.Validate(); err != nil {
		s.sendError(conn, st.deviceID, err.Error())
		return
	}

	targetID := msg.TargetDeviceID

	if _, ok := s.directory.Get(targetID); !ok {
		s.relayFailed(conn, st.deviceID, targetID, msg.MessageType, ErrUnknownDevice)
		return
	}
	if !s.pairings.Contains(st.deviceID, targetID) {
		s.relayFailed(conn, st.deviceID, targetID, msg.MessageType, ErrNotPaired)
		return
	}
	targetConn, ok := s.registry.Get(targetID)
	if !ok {
		s.relayFailed(conn, st.deviceID, targetID, msg.MessageType, ErrTargetOffline)
		return
	}

	fwd := msg.Forwarded(st.deviceID)
	if err := s.send(targetConn, targetID, wire.TypeRelayMessage, fwd); err != nil {
		s.dropConn(targetID, targetConn, "relay forward failed")
		s.relayFailed(conn, st.deviceID, targetID, msg.MessageType, ErrDeliveryFailed)
		return
	}

	_ = s.send(conn, st.deviceID, wire.TypeRelayAck, wire.NewRelayAck(targetID))

	s.logEvent(log.Event{
		ConnectionID: conn.ConnID(),
		Direction:    log.DirectionIn,
		Layer:        log.LayerService,
		Category:     log.CategoryMessage,
		RemoteAddr:   remoteAddr(conn),
		DeviceID:     st.deviceID,
		PeerID:       targetID,
		Message: &log.MessageEvent{
			Type: wire.TypeRelayMessage,
			From: st.deviceID,
			To:   targetID,
			Kind: msg.MessageType,
			Size: len(msg.Payload),
		},
	})
	s.record(AuditEvent{Kind: AuditRelayed, DeviceID: st.deviceID, PeerID: targetID, Detail: msg.MessageType})
}

// pairingFailed tells a companion why pairing did not happen.
func (s *Service) pairingFailed(conn Conn, deviceID, reason string) {
	_ = s.send(conn, deviceID, wire.TypePairingFailed, wire.NewPairingFailed(reason))
}

// relayFailed answers the sender of an undeliverable relay_message.
func (s *Service) relayFailed(conn Conn, senderID, targetID, kind string, cause error) {
	_ = s.send(conn, senderID, wire.TypeRelayFailed, wire.NewRelayFailed(cause.Error()))
	s.logError(conn, senderID, cause, "relaying "+kind)
	s.record(AuditEvent{Kind: AuditRelayFailed, DeviceID: senderID, PeerID: targetID, Detail: cause.Error()})
}
