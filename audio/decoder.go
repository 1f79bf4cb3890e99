package audio

import (
	"fmt"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// FrameDecoder is the decode capability consumed by a Stream. It is
// bound to a fixed output sample rate and channel count at creation.
//
// Decode writes decoded samples for one encoded frame into pcm and
// returns the number of samples produced. A nil or empty payload is a
// concealment request for a known-missing frame: the decoder produces
// one frame of concealment output instead of decoding.
//
// ResetState discards decoder history; it is called when a talk burst
// ends or a sequence-counter reset is inferred, so the next burst
// starts fresh.
type FrameDecoder interface {
	Decode(payload []byte, pcm []int16) (int, error)
	ResetState()
}

// DecoderFactory produces FrameDecoder instances. Streams create
// their decoder lazily on first decode, so the factory is consulted
// from the pull context only.
type DecoderFactory interface {
	NewFrameDecoder(sampleRate, channels int) (FrameDecoder, error)
}

// OpusDecoderFactory builds FrameDecoders backed by the pure Go
// pion/opus decoder.
type OpusDecoderFactory struct{}

// NewFrameDecoder creates an Opus decoder bound to the given output
// sample rate and channel count.
func (OpusDecoderFactory) NewFrameDecoder(sampleRate, channels int) (FrameDecoder, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid decoder binding: %d Hz, %d channels", sampleRate, channels)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "OpusDecoderFactory.NewFrameDecoder",
		"sample_rate": sampleRate,
		"channels":    channels,
	}).Debug("Creating Opus frame decoder")

	dec := opus.NewDecoder()
	return &opusFrameDecoder{
		dec:        &dec,
		sampleRate: sampleRate,
		channels:   channels,
		// One decode call never produces more than 60ms of audio.
		scratch: make([]byte, sampleRate*60/1000*channels*2),
	}, nil
}

// opusFrameDecoder adapts pion/opus to the FrameDecoder capability.
type opusFrameDecoder struct {
	dec        *opus.Decoder
	sampleRate int
	channels   int
	scratch    []byte

	// lastFrameSamples sizes concealment output; until a real frame
	// has been decoded it defaults to 20ms.
	lastFrameSamples int
}

func (d *opusFrameDecoder) Decode(payload []byte, pcm []int16) (int, error) {
	if len(payload) == 0 {
		return d.conceal(pcm), nil
	}

	n := d.packetSamples(payload)
	if n <= 0 || n > len(pcm) {
		return 0, fmt.Errorf("opus frame of %d samples does not fit output buffer of %d", n, len(pcm))
	}

	if _, _, err := d.dec.Decode(payload, d.scratch); err != nil {
		return 0, fmt.Errorf("opus decode failed: %w", err)
	}

	for i := 0; i < n; i++ {
		pcm[i] = int16(d.scratch[i*2]) | int16(d.scratch[i*2+1])<<8
	}
	d.lastFrameSamples = n
	return n, nil
}

// conceal writes one frame of concealment output. pion/opus carries
// no packet-loss concealment, so the output is silence sized to the
// last decoded frame.
func (d *opusFrameDecoder) conceal(pcm []int16) int {
	n := d.lastFrameSamples
	if n <= 0 {
		n = d.sampleRate / 50 * d.channels
	}
	if n > len(pcm) {
		n = len(pcm)
	}
	for i := 0; i < n; i++ {
		pcm[i] = 0
	}
	return n
}

// ResetState discards decoder history. pion/opus exposes no reset
// call, so the decoder is recreated.
func (d *opusFrameDecoder) ResetState() {
	dec := opus.NewDecoder()
	d.dec = &dec
	d.lastFrameSamples = 0
}

// configFrameSamples48k maps the Opus TOC config index (top five bits
// of the first payload byte) to the per-frame sample count at 48kHz,
// per RFC 6716 section 3.1.
var configFrameSamples48k = [32]int{
	480, 960, 1920, 2880, // SILK NB 10/20/40/60ms
	480, 960, 1920, 2880, // SILK MB
	480, 960, 1920, 2880, // SILK WB
	480, 960, // Hybrid SWB 10/20ms
	480, 960, // Hybrid FB
	120, 240, 480, 960, // CELT NB 2.5/5/10/20ms
	120, 240, 480, 960, // CELT WB
	120, 240, 480, 960, // CELT SWB
	120, 240, 480, 960, // CELT FB
}

// packetSamples derives the decoded sample count of an Opus packet
// from its TOC byte: per-frame duration from the config index, frame
// count from the code bits.
func (d *opusFrameDecoder) packetSamples(payload []byte) int {
	toc := payload[0]
	perFrame := configFrameSamples48k[toc>>3]

	frames := 0
	switch toc & 0x03 {
	case 0:
		frames = 1
	case 1, 2:
		frames = 2
	case 3:
		if len(payload) < 2 {
			return 0
		}
		frames = int(payload[1] & 0x3F)
	}

	return perFrame * frames * d.sampleRate / 48000 * d.channels
}
