package mumlink

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mumlink/mumlink/audio"
	"github.com/mumlink/mumlink/crypto"
	"github.com/mumlink/mumlink/transport"
)

// ErrPayloadTooLarge indicates an encoded voice frame above the
// 13-bit wire limit.
var ErrPayloadTooLarge = errors.New("voice payload exceeds wire limit")

// Client is a connected voice session: one encrypted transport to the
// server and a jitter-buffered stream per remote speaker.
type Client struct {
	opts      *Options
	envelope  *crypto.Envelope
	transport *transport.VoiceTransport
	speakers  *audio.Manager
	log       *logrus.Entry

	// seqMu guards the outgoing sequence counter. Sequences advance
	// by the configured stride per frame and restart at zero after a
	// talk burst ends.
	seqMu    sync.Mutex
	sequence int64

	pingMu  sync.Mutex
	lastRTT time.Duration
	hasRTT  bool
}

// Connect establishes the voice channel and starts receiving.
func Connect(opts *Options) (*Client, error) {
	if opts == nil {
		return nil, errors.New("options cannot be nil")
	}

	// Work on a copy so defaulting never rewrites the caller's value.
	o := *opts
	opts = &o
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if opts.DecoderFactory == nil {
		opts.DecoderFactory = audio.OpusDecoderFactory{}
	}
	if opts.Audio == (audio.Config{}) {
		// A zero audio policy would size the jitter buffer with zero
		// divisors; an incoming voice datagram must never be able to
		// panic the receive path.
		opts.Audio = audio.DefaultConfig()
	}

	envelope, err := crypto.NewEnvelope(opts.Key, true)
	if err != nil {
		return nil, fmt.Errorf("cipher envelope: %w", err)
	}

	log := logrus.WithField("component", "mumlink")
	c := &Client{
		opts:     opts,
		envelope: envelope,
		speakers: audio.NewManager(opts.Audio, opts.DecoderFactory, log),
		log:      log,
	}

	vt, err := transport.Dial(opts.Remote, envelope, opts.KeepaliveInterval)
	if err != nil {
		return nil, err
	}
	c.transport = vt

	vt.RegisterHandler(transport.PacketVoice, c.handleVoice)
	vt.RegisterHandler(transport.PacketPing, c.handlePing)

	log.WithFields(logrus.Fields{
		"function": "Connect",
		"remote":   opts.Remote,
		"loopback": opts.Loopback,
	}).Info("Voice session connected")
	return c, nil
}

// SendVoiceFrame frames, encrypts, and transmits one encoded voice
// frame. An empty payload sends an explicit mute frame. isLast marks
// the end of the current talk burst and restarts the outgoing
// sequence counter.
func (c *Client) SendVoiceFrame(payload []byte, isLast bool) error {
	if len(payload) > transport.MaxVoicePayload {
		return ErrPayloadTooLarge
	}

	c.seqMu.Lock()
	pkt := &transport.VoicePacket{
		Target:   c.opts.Target,
		Sequence: c.sequence,
		Payload:  payload,
		IsLast:   isLast,
	}
	if isLast {
		c.sequence = 0
	} else {
		c.sequence += c.opts.Audio.SequenceStride
	}
	c.seqMu.Unlock()

	data := pkt.Marshal()

	if c.opts.Loopback {
		c.loopback(data)
	}
	return c.transport.Send(data)
}

// loopback feeds a locally built voice datagram straight back into
// the decode path, exactly as if it had arrived from the network.
func (c *Client) loopback(data []byte) {
	d, err := transport.ClassifyDatagram(data)
	if err != nil {
		return
	}
	c.handleVoice(d)
}

// handleVoice parses a voice datagram and enqueues its frame into the
// speaker's stream. Malformed datagrams are discarded; the receive
// loop is unaffected.
func (c *Client) handleVoice(d *transport.Datagram) {
	pkt, err := transport.ParseVoicePacket(d, c.opts.Loopback)
	if err != nil {
		c.log.WithFields(logrus.Fields{
			"function": "Client.handleVoice",
			"error":    err.Error(),
		}).Debug("Discarded malformed voice datagram")
		return
	}

	c.speakers.Stream(pkt.Session).AddEncodedFrame(pkt.Sequence, pkt.Payload, pkt.IsLast)
}

// handlePing records the round trip of an echoed keepalive.
func (c *Client) handlePing(d *transport.Datagram) {
	sent, err := transport.ParsePing(d)
	if err != nil {
		c.log.WithFields(logrus.Fields{
			"function": "Client.handlePing",
			"error":    err.Error(),
		}).Debug("Discarded malformed keepalive")
		return
	}

	rtt := time.Duration(time.Now().UnixMicro()-sent) * time.Microsecond
	if rtt < 0 {
		return
	}

	c.pingMu.Lock()
	c.lastRTT = rtt
	c.hasRTT = true
	c.pingMu.Unlock()
}

// LastPingRTT returns the most recent keepalive round trip, and
// whether one has been measured yet.
func (c *Client) LastPingRTT() (time.Duration, bool) {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	return c.lastRTT, c.hasRTT
}

// Speaker returns the jitter-buffered stream for a speaker session,
// creating it if this is the speaker's first voice activity.
func (c *Client) Speaker(session uint64) *audio.Stream {
	return c.speakers.Stream(session)
}

// ReadSpeaker pulls decoded samples for one speaker into dst,
// substituting silence as needed. It returns the number of real
// samples copied. Intended to be called from a playback callback.
func (c *Client) ReadSpeaker(session uint64, dst []int16) int {
	st, ok := c.speakers.Get(session)
	if !ok {
		for i := range dst {
			dst[i] = 0
		}
		return 0
	}
	return st.Read(dst)
}

// RemoveSpeaker destroys the stream of a speaker that left the
// session.
func (c *Client) RemoveSpeaker(session uint64) {
	c.speakers.Remove(session)
}

// Close tears down the voice channel. Pending sends fail with
// transport.ErrNotConnected afterwards.
func (c *Client) Close() error {
	err := c.transport.Close()
	c.log.WithFields(logrus.Fields{
		"function": "Close",
	}).Info("Voice session closed")
	return err
}
