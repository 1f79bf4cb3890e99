package mumlink

import (
	"time"

	"github.com/mumlink/mumlink/audio"
)

// DefaultKeepaliveInterval is how often the transport emits a
// keepalive datagram when Options does not say otherwise.
const DefaultKeepaliveInterval = 10 * time.Second

// Options configures a voice client.
type Options struct {
	// Remote is the host:port of the voice endpoint.
	Remote string

	// Key is the 32-byte session key for the cipher envelope,
	// provided by the control-channel handshake.
	Key []byte

	// KeepaliveInterval is the period between keepalive datagrams.
	KeepaliveInterval time.Duration

	// Target is the 5-bit routing target stamped on outgoing voice
	// packets. Passed through; zero means normal talking.
	Target byte

	// Loopback enables the local self-test mode: outgoing voice
	// packets are fed straight back into the decode path, and
	// incoming voice packets are parsed without a session id.
	Loopback bool

	// Audio carries the jitter buffer and decoder policy.
	Audio audio.Config

	// DecoderFactory produces the decode capability for speaker
	// streams. Defaults to the Opus decoder.
	DecoderFactory audio.DecoderFactory
}

// DefaultOptions returns options with production defaults for the
// given endpoint and session key.
func DefaultOptions(remote string, key []byte) *Options {
	return &Options{
		Remote:            remote,
		Key:               key,
		KeepaliveInterval: DefaultKeepaliveInterval,
		Audio:             audio.DefaultConfig(),
		DecoderFactory:    audio.OpusDecoderFactory{},
	}
}
