package transport

import (
	"encoding/binary"
)

// PacketType identifies a voice-channel datagram type, carried in the
// top three bits of the first decrypted byte.
type PacketType byte

const (
	// PacketVoice carries one encoded voice frame.
	PacketVoice PacketType = 0

	// PacketPing is a keepalive carrying a monotonic timestamp.
	PacketPing PacketType = 1
)

const (
	// lastFrameFlag marks the final frame of a talk burst inside the
	// length varint of a voice packet.
	lastFrameFlag = 0x2000

	// MaxVoicePayload is the largest encodable voice payload: the
	// length field keeps 13 bits once the last-frame flag is masked.
	MaxVoicePayload = lastFrameFlag - 1

	// pingPayloadSize is the timestamp length of a keepalive.
	pingPayloadSize = 8
)

// Datagram is one classified, decrypted datagram: its type, the
// 5-bit routing target from the lead byte, and the remaining bytes.
type Datagram struct {
	Type   PacketType
	Target byte
	Data   []byte
}

// ClassifyDatagram inspects the first decrypted byte of a datagram.
// Types other than Voice and Ping are rejected with
// ErrUnknownPacketType; the caller logs and drops them.
func ClassifyDatagram(data []byte) (*Datagram, error) {
	if len(data) == 0 {
		return nil, ErrMalformedPacket
	}

	d := &Datagram{
		Type:   PacketType(data[0] >> 5),
		Target: data[0] & 0x1F,
		Data:   data[1:],
	}
	switch d.Type {
	case PacketVoice, PacketPing:
		return d, nil
	default:
		return nil, ErrUnknownPacketType
	}
}

// VoicePacket is the decoded header and payload of a voice datagram.
type VoicePacket struct {
	// Target is the 5-bit routing target, passed through unchanged.
	Target byte

	// Session identifies the speaker. Zero under loopback, where the
	// field is absent from the wire.
	Session uint64

	// Sequence is the speaker-local frame sequence number.
	Sequence int64

	// Payload is the encoded voice frame; empty signals mute.
	Payload []byte

	// IsLast marks the end of a talk burst.
	IsLast bool
}

// ParseVoicePacket decodes a classified Voice datagram. Under
// loopback mode the session id is absent from the wire and left zero.
// A declared payload length that does not match the bytes present
// makes the whole datagram malformed.
func ParseVoicePacket(d *Datagram, loopback bool) (*VoicePacket, error) {
	pkt := &VoicePacket{Target: d.Target}
	rest := d.Data

	if !loopback {
		session, n, err := DecodeVarint(rest)
		if err != nil || session < 0 {
			return nil, ErrMalformedPacket
		}
		pkt.Session = uint64(session)
		rest = rest[n:]
	}

	sequence, n, err := DecodeVarint(rest)
	if err != nil || sequence < 0 {
		return nil, ErrMalformedPacket
	}
	pkt.Sequence = sequence
	rest = rest[n:]

	header, n, err := DecodeVarint(rest)
	if err != nil || header < 0 {
		return nil, ErrMalformedPacket
	}
	rest = rest[n:]

	pkt.IsLast = header&lastFrameFlag != 0
	length := header &^ lastFrameFlag
	if length > MaxVoicePayload {
		return nil, ErrMalformedPacket
	}
	if length == 0 {
		// Explicit mute frame; nothing further to read.
		return pkt, nil
	}
	if int(length) != len(rest) {
		return nil, ErrMalformedPacket
	}
	pkt.Payload = rest
	return pkt, nil
}

// Marshal encodes the packet in client-to-server form: the session id
// is never written (the server stamps it on the way back out), so the
// result matches what loopback mode feeds back into the parser.
func (p *VoicePacket) Marshal() []byte {
	header := int64(len(p.Payload))
	if p.IsLast {
		header |= lastFrameFlag
	}

	out := make([]byte, 1, 1+10+10+len(p.Payload))
	out[0] = byte(PacketVoice)<<5 | p.Target&0x1F
	out = AppendVarint(out, p.Sequence)
	out = AppendVarint(out, header)
	return append(out, p.Payload...)
}

// BuildPing encodes a keepalive datagram around a monotonic timestamp
// in microseconds.
func BuildPing(timestamp int64) []byte {
	out := make([]byte, 1+pingPayloadSize)
	out[0] = byte(PacketPing) << 5
	binary.LittleEndian.PutUint64(out[1:], uint64(timestamp))
	return out
}

// ParsePing extracts the timestamp from a classified Ping datagram.
func ParsePing(d *Datagram) (int64, error) {
	if len(d.Data) < pingPayloadSize {
		return 0, ErrMalformedPacket
	}
	return int64(binary.LittleEndian.Uint64(d.Data[:pingPayloadSize])), nil
}
