package protocol

import (
	"encoding/binary"

	"github.com/danmuck/linkctl/internal/protocol/bitio"
)

// Message is one decodable datagram body.
type Message interface {
	Type() MessageType
	encodePayload(w *bitio.Writer) error
	decodePayload(r *bitio.Reader) error
}

// NegotiationRequest is the peer-to-controller handshake message. A
// SessionID of zero means the peer currently holds no session.
type NegotiationRequest struct {
	SessionID uint16
	PeerID    uint16
}

func (*NegotiationRequest) Type() MessageType { return TypeNegotiationRequest }

func (m *NegotiationRequest) encodePayload(w *bitio.Writer) error {
	return encodeNegotiation(w, m.SessionID, m.PeerID)
}

func (m *NegotiationRequest) decodePayload(r *bitio.Reader) error {
	return decodeNegotiation(r, &m.SessionID, &m.PeerID)
}

// NegotiationResponse is the controller-to-peer handshake reply carrying
// the allocated session.
type NegotiationResponse struct {
	SessionID uint16
	PeerID    uint16
}

func (*NegotiationResponse) Type() MessageType { return TypeNegotiationResponse }

func (m *NegotiationResponse) encodePayload(w *bitio.Writer) error {
	return encodeNegotiation(w, m.SessionID, m.PeerID)
}

func (m *NegotiationResponse) decodePayload(r *bitio.Reader) error {
	return decodeNegotiation(r, &m.SessionID, &m.PeerID)
}

// SampleUp is a peer-to-controller sample. Level is a 9-bit signed value
// on the wire; encode saturates it to [-255, 255]. Value travels as
// signed 16.16 fixed point.
type SampleUp struct {
	SessionID uint16
	PeerID    uint16
	Command   CommandType
	Level     int16
	Sequence  uint16
	Value     float64
}

func (*SampleUp) Type() MessageType { return TypeSampleUp }

func (m *SampleUp) encodePayload(w *bitio.Writer) error {
	return encodeSample(w, m.SessionID, m.PeerID, uint8(m.Command), m.Level, m.Sequence, m.Value)
}

func (m *SampleUp) decodePayload(r *bitio.Reader) error {
	kind, err := decodeSample(r, &m.SessionID, &m.PeerID, &m.Level, &m.Sequence, &m.Value)
	m.Command = CommandType(kind)
	return err
}

// SampleDown is a controller-to-peer sample, same layout as SampleUp
// with the kind bits carrying a status instead of a command.
type SampleDown struct {
	SessionID uint16
	PeerID    uint16
	Status    StatusType
	Level     int16
	Timestamp uint16
	Value     float64
}

func (*SampleDown) Type() MessageType { return TypeSampleDown }

func (m *SampleDown) encodePayload(w *bitio.Writer) error {
	return encodeSample(w, m.SessionID, m.PeerID, uint8(m.Status), m.Level, m.Timestamp, m.Value)
}

func (m *SampleDown) decodePayload(r *bitio.Reader) error {
	kind, err := decodeSample(r, &m.SessionID, &m.PeerID, &m.Level, &m.Timestamp, &m.Value)
	m.Status = StatusType(kind)
	return err
}

func encodeNegotiation(w *bitio.Writer, sessionID, peerID uint16) error {
	if err := w.WriteU16(sessionID); err != nil {
		return err
	}
	return w.WriteU16(peerID)
}

func decodeNegotiation(r *bitio.Reader, sessionID, peerID *uint16) error {
	v, err := r.ReadU16()
	if err != nil {
		return err
	}
	*sessionID = v
	v, err = r.ReadU16()
	if err != nil {
		return err
	}
	*peerID = v
	return nil
}

// Shared sample body: kind:3 | sign:1 | magnitude:8 | reserved:4,
// then the 16-bit sequence/timestamp and the 16.16 fixed value.
func encodeSample(w *bitio.Writer, sessionID, peerID uint16, kind uint8, level int16, seq uint16, value float64) error {
	if err := w.WriteU16(sessionID); err != nil {
		return err
	}
	if err := w.WriteU16(peerID); err != nil {
		return err
	}
	if err := w.WriteBits(uint32(kind&0x07), 3); err != nil {
		return err
	}
	sign, mag := splitLevel(level)
	if err := w.WriteBool(sign); err != nil {
		return err
	}
	if err := w.WriteBits(uint32(mag), 8); err != nil {
		return err
	}
	if err := w.WriteBits(0, 4); err != nil {
		return err
	}
	if err := w.WriteU16(seq); err != nil {
		return err
	}
	return w.WriteFixed16(value)
}

func decodeSample(r *bitio.Reader, sessionID, peerID *uint16, level *int16, seq *uint16, value *float64) (uint8, error) {
	var err error
	if *sessionID, err = r.ReadU16(); err != nil {
		return 0, err
	}
	if *peerID, err = r.ReadU16(); err != nil {
		return 0, err
	}
	kind, err := r.ReadBits(3)
	if err != nil {
		return 0, err
	}
	sign, err := r.ReadBool()
	if err != nil {
		return 0, err
	}
	mag, err := r.ReadBits(8)
	if err != nil {
		return 0, err
	}
	if err = r.Skip(4); err != nil {
		return 0, err
	}
	*level = joinLevel(sign, uint8(mag))
	if *seq, err = r.ReadU16(); err != nil {
		return 0, err
	}
	if *value, err = r.ReadFixed16(); err != nil {
		return 0, err
	}
	return uint8(kind), nil
}

func splitLevel(v int16) (sign bool, mag uint8) {
	sign = v < 0
	abs := int32(v)
	if abs < 0 {
		abs = -abs
	}
	if abs > 255 {
		abs = 255
	}
	return sign, uint8(abs)
}

func joinLevel(sign bool, mag uint8) int16 {
	if sign {
		return -int16(mag)
	}
	return int16(mag)
}

// Encode serializes m as a complete datagram: 4-byte header followed by
// the bit-packed payload.
func Encode(m Message) ([]byte, error) {
	w := bitio.NewWriter()
	if err := m.encodePayload(w); err != nil {
		return nil, err
	}
	payload := w.Bytes()
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = byte(m.Type())
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Decode parses one datagram. The header is read from the full buffer
// first so truncated payloads are rejected before body parsing starts;
// the body is then decoded from a reader over data[4:4+payloadLength].
func Decode(data []byte) (Message, error) {
	if len(data) < HeaderSize {
		return nil, ErrShortHeader
	}
	payloadLen := int(binary.BigEndian.Uint16(data[2:4]))
	if len(data) < HeaderSize+payloadLen {
		return nil, ErrShortPayload
	}

	var m Message
	switch MessageType(data[0]) {
	case TypeNegotiationRequest:
		m = &NegotiationRequest{}
	case TypeNegotiationResponse:
		m = &NegotiationResponse{}
	case TypeSampleUp:
		m = &SampleUp{}
	case TypeSampleDown:
		m = &SampleDown{}
	default:
		return nil, ErrUnknownType
	}

	r := bitio.NewReader(data[HeaderSize : HeaderSize+payloadLen])
	if err := m.decodePayload(r); err != nil {
		return nil, err
	}
	return m, nil
}
