// Package audio implements the receive-side voice pipeline: a
// per-speaker jitter buffer with a decode scheduler that turns an
// arrival-ordered queue of encoded voice frames into a steady
// pull-based stream of PCM samples.
//
// Incoming frames are enqueued from the network context with
// Stream.AddEncodedFrame. An independent consumer (typically a
// playback callback) calls Stream.Read at its own cadence; Read
// always satisfies the full request, substituting silence when no
// decoded audio is available. Packet loss, reordering, duplication,
// sequence resets, and queue overflow are all absorbed locally and
// surface only as silence and elevated counters, never as errors.
//
// The decode pipeline:
//
//	AddEncodedFrame → pending queue → decode scheduler → sub-buffer ring → Read
//
// Decoding is performed through the FrameDecoder capability, created
// lazily per stream from a DecoderFactory. OpusDecoderFactory binds
// the capability to pion/opus.
package audio
