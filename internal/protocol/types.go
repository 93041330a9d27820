package protocol

// MessageType identifies the kind of datagram.
type MessageType uint8

const (
	TypeNegotiationRequest  MessageType = 0x01
	TypeNegotiationResponse MessageType = 0x02
	TypeSampleUp            MessageType = 0x03
	TypeSampleDown          MessageType = 0x04
)

// HeaderSize is the fixed header length: type(1) + reserved(1) + payloadLength(2).
const HeaderSize = 4

// Payload lengths per message type.
const (
	negotiationPayloadSize = 4
	samplePayloadSize      = 12
)

// CommandType is the peer-to-controller sample kind (3 bits on the wire).
type CommandType uint8

const (
	CommandNone CommandType = iota
	CommandStart
	CommandStop
	CommandReset
	CommandQuery
	CommandUpdate
)

func (c CommandType) String() string {
	switch c {
	case CommandNone:
		return "none"
	case CommandStart:
		return "start"
	case CommandStop:
		return "stop"
	case CommandReset:
		return "reset"
	case CommandQuery:
		return "query"
	case CommandUpdate:
		return "update"
	}
	return "reserved"
}

// StatusType is the controller-to-peer sample kind (3 bits on the wire).
type StatusType uint8

const (
	StatusUnknown StatusType = iota
	StatusReady
	StatusRunning
	StatusPaused
	StatusError
	StatusComplete
)

func (s StatusType) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusError:
		return "error"
	case StatusComplete:
		return "complete"
	}
	return "reserved"
}
