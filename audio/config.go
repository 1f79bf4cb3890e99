package audio

// Config carries the policy constants of the jitter buffer and the
// decoder binding. The defaults match the behavior observed against
// production servers; they are policy, not protocol, and may be tuned
// per deployment.
type Config struct {
	// SampleRate is the decoder output sample rate in Hz.
	SampleRate int

	// Channels is the decoder output channel count.
	Channels int

	// MaxSampleRate is the highest sample rate the sub-buffer ring
	// must be able to absorb; together with OutputFrameSize and
	// MaxLatencySeconds it fixes the ring length.
	MaxSampleRate int

	// OutputFrameSize is the sample count of one output pull frame.
	OutputFrameSize int

	// MaxLatencySeconds bounds worst-case end-to-end latency by
	// sizing the decoded sub-buffer ring.
	MaxLatencySeconds int

	// MaxPendingFrames caps the pending encoded-frame queue. When a
	// new frame would exceed the cap, the oldest queued frame is
	// evicted and counted as overflow loss.
	MaxPendingFrames int

	// InitialBufferFrames is the number of frames that must
	// accumulate before playback starts (the initial-buffer gate).
	InitialBufferFrames int

	// MissingPacketThreshold separates ordinary loss gaps from
	// sequence-counter resets and abrupt jumps, in frames.
	MissingPacketThreshold int64

	// SequenceStride is the expected increment between consecutive
	// frame sequence numbers under normal conditions.
	SequenceStride int64
}

// DefaultConfig returns the production defaults: 48kHz mono output,
// 10ms pull frames, one second of ring capacity, a 3-frame initial
// buffer, and the stride-2 sequence numbering used on the wire.
func DefaultConfig() Config {
	return Config{
		SampleRate:             48000,
		Channels:               1,
		MaxSampleRate:          48000,
		OutputFrameSize:        480,
		MaxLatencySeconds:      1,
		MaxPendingFrames:       50,
		InitialBufferFrames:    3,
		MissingPacketThreshold: 25,
		SequenceStride:         2,
	}
}

// ringSize returns the number of decoded sub-buffers in the ring.
func (c Config) ringSize() int {
	n := c.MaxLatencySeconds * c.MaxSampleRate / c.OutputFrameSize
	if n < 2 {
		n = 2
	}
	return n
}

// slotSamples returns the capacity of one decoded sub-buffer. A
// single decode call never produces more than 60ms of audio.
func (c Config) slotSamples() int {
	return c.MaxSampleRate * 60 / 1000 * c.Channels
}

// samplesPerSequence returns how many decoded samples advance the
// sequence counter by one, derived from the 10ms framing of the
// sequence number space.
func (c Config) samplesPerSequence() int {
	return c.SampleRate / 100 * c.Channels
}
