package transport

import "errors"

// Sentinel errors for transport operations. These enable reliable
// classification with errors.Is.
var (
	// ErrNotConnected indicates a send was attempted on a closed or
	// never-connected transport. Sends are rejected locally, never
	// retried.
	ErrNotConnected = errors.New("voice transport not connected")

	// ErrVarintTruncated indicates a variable-length integer ran past
	// the end of the datagram.
	ErrVarintTruncated = errors.New("truncated varint")

	// ErrMalformedPacket indicates a voice datagram whose declared
	// payload length does not match the bytes actually present, or
	// whose header could not be decoded. The datagram is discarded.
	ErrMalformedPacket = errors.New("malformed voice packet")

	// ErrUnknownPacketType indicates a datagram whose type bits name
	// no known packet type. The datagram is discarded.
	ErrUnknownPacketType = errors.New("unknown packet type")
)
