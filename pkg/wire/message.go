package wire

import (
	"encoding/json"
	"fmt"
)

// Message type strings carried in the envelope "type" field.
const (
	// Client to relay.
	TypeRegister     = "register"
	TypePairRequest  = "pair_request"
	TypePairResponse = "pair_response"
	TypeUnpairDevice = "unpair_device"
	TypeRelayMessage = "relay_message"
	TypePing         = "ping"

	// Relay to client.
	TypeRegistered       = "registered"
	TypeExistingPairings = "existing_pairings"
	TypePaired           = "paired"
	TypePairingFailed    = "pairing_failed"
	TypeUnpaired         = "unpaired"
	TypeRelayAck         = "relay_ack"
	TypeRelayFailed      = "relay_failed"
	TypePong             = "pong"
	TypeError            = "error"
)

// Register announces a device to the relay. It must be the first
// message on every connection.
type Register struct {
	Type        string `json:"type"`
	DeviceID    string `json:"device_id"`
	DeviceClass string `json:"device_class"`
	DeviceName  string `json:"device_name"`
}

// NewRegister builds a register message.
func NewRegister(deviceID, deviceClass, deviceName string) *Register {
	return &Register{Type: TypeRegister, DeviceID: deviceID, DeviceClass: deviceClass, DeviceName: deviceName}
}

// Validate checks the required register fields.
func (m *Register) Validate() error {
	if m.DeviceID == "" {
		return fmt.Errorf("%w: register missing device_id", ErrMalformedMessage)
	}
	if m.DeviceClass == "" {
		return fmt.Errorf("%w: register missing device_class", ErrMalformedMessage)
	}
	return nil
}

// Registered confirms a registration. IsKnownDevice is true when the
// device was already present in the relay's directory.
type Registered struct {
	Type          string `json:"type"`
	DeviceID      string `json:"device_id"`
	DeviceName    string `json:"device_name"`
	IsKnownDevice bool   `json:"is_known_device"`
}

// NewRegistered builds a registered confirmation.
func NewRegistered(deviceID, deviceName string, known bool) *Registered {
	return &Registered{Type: TypeRegistered, DeviceID: deviceID, DeviceName: deviceName, IsKnownDevice: known}
}

// Peer names one end of an existing pairing.
type Peer struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

// ExistingPairings lists the pairings a device already holds. The relay
// sends it right after Registered, and only when the list is non-empty.
type ExistingPairings struct {
	Type     string `json:"type"`
	Pairings []Peer `json:"pairings"`
}

// NewExistingPairings builds an existing_pairings notification.
func NewExistingPairings(peers []Peer) *ExistingPairings {
	return &ExistingPairings{Type: TypeExistingPairings, Pairings: peers}
}

// PairRequest asks the relay to start pairing with a host. The relay
// forwards it to the selected host with FromDeviceID filled in.
type PairRequest struct {
	Type         string `json:"type"`
	FromDeviceID string `json:"from_device_id,omitempty"`
	PairingCode  string `json:"pairing_code"`
	DeviceName   string `json:"device_name"`
}

// NewPairRequest builds a companion-side pairing request.
func NewPairRequest(pairingCode, deviceName string) *PairRequest {
	return &PairRequest{Type: TypePairRequest, PairingCode: pairingCode, DeviceName: deviceName}
}

// Validate checks the required pair_request fields.
func (m *PairRequest) Validate() error {
	if m.PairingCode == "" {
		return fmt.Errorf("%w: pair_request missing pairing_code", ErrMalformedMessage)
	}
	return nil
}

// PairResponse is the host's verdict on a forwarded pair_request.
type PairResponse struct {
	Type           string `json:"type"`
	TargetDeviceID string `json:"target_device_id"`
	Accepted       bool   `json:"accepted"`
	Message        string `json:"message,omitempty"`
}

// NewPairResponse builds a host-side pairing verdict.
func NewPairResponse(targetDeviceID string, accepted bool, message string) *PairResponse {
	return &PairResponse{Type: TypePairResponse, TargetDeviceID: targetDeviceID, Accepted: accepted, Message: message}
}

// Validate checks the required pair_response fields.
func (m *PairResponse) Validate() error {
	if m.TargetDeviceID == "" {
		return fmt.Errorf("%w: pair_response missing target_device_id", ErrMalformedMessage)
	}
	return nil
}

// Paired tells both sides that a pairing is now recorded.
type Paired struct {
	Type           string `json:"type"`
	PeerDeviceID   string `json:"peer_device_id"`
	PeerDeviceName string `json:"peer_device_name"`
}

// NewPaired builds a paired notification.
func NewPaired(peerDeviceID, peerDeviceName string) *Paired {
	return &Paired{Type: TypePaired, PeerDeviceID: peerDeviceID, PeerDeviceName: peerDeviceName}
}

// PairingFailed tells the companion why pairing did not happen.
type PairingFailed struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewPairingFailed builds a pairing_failed notification.
func NewPairingFailed(message string) *PairingFailed {
	return &PairingFailed{Type: TypePairingFailed, Message: message}
}

// UnpairDevice asks the relay to remove a pairing.
type UnpairDevice struct {
	Type           string `json:"type"`
	TargetDeviceID string `json:"target_device_id"`
}

// NewUnpairDevice builds an unpair request.
func NewUnpairDevice(targetDeviceID string) *UnpairDevice {
	return &UnpairDevice{Type: TypeUnpairDevice, TargetDeviceID: targetDeviceID}
}

// Validate checks the required unpair_device fields.
func (m *UnpairDevice) Validate() error {
	if m.TargetDeviceID == "" {
		return fmt.Errorf("%w: unpair_device missing target_device_id", ErrMalformedMessage)
	}
	return nil
}

// Unpaired confirms that a pairing was removed.
type Unpaired struct {
	Type           string `json:"type"`
	TargetDeviceID string `json:"target_device_id"`
}

// NewUnpaired builds an unpaired notification.
func NewUnpaired(targetDeviceID string) *Unpaired {
	return &Unpaired{Type: TypeUnpaired, TargetDeviceID: targetDeviceID}
}

// RelayMessage carries an opaque payload between paired devices. A
// sender fills TargetDeviceID; the relay rewrites the envelope with
// FromDeviceID before forwarding.
type RelayMessage struct {
	Type           string          `json:"type"`
	TargetDeviceID string          `json:"target_device_id,omitempty"`
	FromDeviceID   string          `json:"from_device_id,omitempty"`
	MessageType    string          `json:"message_type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// NewRelayMessage builds a sender-side relay envelope. The payload is
// marshaled here so senders work with plain Go values.
func NewRelayMessage(targetDeviceID, messageType string, payload any) (*RelayMessage, error) {
	raw, err := MarshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &RelayMessage{
		Type:           TypeRelayMessage,
		TargetDeviceID: targetDeviceID,
		MessageType:    messageType,
		Payload:        raw,
	}, nil
}

// Validate checks the required relay_message fields on the sender side.
func (m *RelayMessage) Validate() error {
	if m.TargetDeviceID == "" {
		return fmt.Errorf("%w: relay_message missing target_device_id", ErrMalformedMessage)
	}
	if m.MessageType == "" {
		return fmt.Errorf("%w: relay_message missing message_type", ErrMalformedMessage)
	}
	return nil
}

// Forwarded returns the envelope as delivered to the target: the
// target field is dropped and the sender identity is stamped on.
func (m *RelayMessage) Forwarded(fromDeviceID string) *RelayMessage {
	return &RelayMessage{
		Type:         TypeRelayMessage,
		FromDeviceID: fromDeviceID,
		MessageType:  m.MessageType,
		Payload:      m.Payload,
	}
}

// RelayAck confirms that a relay_message was written to the target.
type RelayAck struct {
	Type           string `json:"type"`
	TargetDeviceID string `json:"target_device_id"`
}

// NewRelayAck builds a delivery acknowledgement.
func NewRelayAck(targetDeviceID string) *RelayAck {
	return &RelayAck{Type: TypeRelayAck, TargetDeviceID: targetDeviceID}
}

// RelayFailed tells the sender why a relay_message was not delivered.
type RelayFailed struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewRelayFailed builds a relay_failed notification.
func NewRelayFailed(message string) *RelayFailed {
	return &RelayFailed{Type: TypeRelayFailed, Message: message}
}

// Ping is an application-level liveness probe.
type Ping struct {
	Type string `json:"type"`
}

// NewPing builds a ping.
func NewPing() *Ping {
	return &Ping{Type: TypePing}
}

// Pong answers a ping.
type Pong struct {
	Type string `json:"type"`
}

// NewPong builds a pong.
func NewPong() *Pong {
	return &Pong{Type: TypePong}
}

// Error reports a protocol-level problem with the sender's last
// message. The connection stays open unless the relay says otherwise.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError builds an error notification.
func NewError(message string) *Error {
	return &Error{Type: TypeError, Message: message}
}
