package audio

import (
	"sync"

	"github.com/gammazero/deque"
	"github.com/sirupsen/logrus"
)

// EncodedFrame is one unit of codec-encoded voice data awaiting
// decode. It is owned exclusively by the stream from enqueue until
// dequeue.
type EncodedFrame struct {
	// Sequence is the speaker-local frame sequence number. It grows
	// by the configured stride under normal conditions and may reset
	// to a small value after a long gap.
	Sequence int64

	// Payload holds the encoded frame bytes. Empty means an explicit
	// mute frame.
	Payload []byte

	// IsLast marks the final frame of a talk burst.
	IsLast bool

	// precededLoss records, at enqueue time, that the stride gap
	// before this frame was caused by the network rather than by a
	// local overflow eviction. Only network-attributed gaps earn
	// concealment output.
	precededLoss bool
}

// StreamMetrics are the cumulative per-stream counters, exposed
// read-only through Stream.Metrics.
type StreamMetrics struct {
	// Received counts every frame handed to AddEncodedFrame.
	Received uint64

	// Lost accumulates the sequence gaps classified as packet loss
	// by the decode scheduler.
	Lost uint64

	// LossEvents counts enqueues whose stride gap indicated loss on
	// the network path.
	LossEvents uint64

	// DroppedOverflow counts frames evicted because the pending
	// queue exceeded its capacity.
	DroppedOverflow uint64

	// DroppedReset counts stale frames discarded by the decode
	// scheduler after a reorder, duplication, or sequence reset.
	DroppedReset uint64
}

// decodeSlot is one fixed-capacity entry of the decoded sub-buffer
// ring. Exactly one decode call fills a slot; the sample array is
// reused across its lifetime and never cleared between uses.
type decodeSlot struct {
	pcm    []int16
	count  int // decoded samples not yet read
	offset int // read offset into pcm
}

// fillResult reports the outcome of one decode pass. A stale frame or
// a mute frame consumes queue data without producing samples, which
// is distinct from the queue being empty: the read loop must retry,
// not give up.
type fillResult int

const (
	fillNoData  fillResult = iota // queue empty or decode failed
	fillRetry                     // frame consumed, no samples, more may pend
	fillDecoded                   // samples written into the ring
)

// Stream is the per-speaker jitter buffer and decode scheduler.
//
// Two contexts touch a stream: the network-receive context calls
// AddEncodedFrame, and the pull context calls Read. The pending
// queue, the initial-buffer gate, the counters, and Reset are
// serialized behind the stream mutex. The decoded sub-buffer ring is
// touched only by the pull context and needs no lock.
type Stream struct {
	cfg     Config
	factory DecoderFactory
	log     *logrus.Entry

	mu      sync.Mutex
	pending deque.Deque[*EncodedFrame]
	gate    bool
	metrics StreamMetrics

	// lastReceived tracks the highest sequence seen at enqueue; it
	// never moves backward.
	lastReceived int64
	hasReceived  bool

	// Pull-context state: the decoder, the ring, and the sequence
	// bookkeeping of the decode scheduler.
	decoder      FrameDecoder
	ring         []decodeSlot
	ringRead     int
	ringWrite    int
	nextToDecode int64 // next expected sequence; 0 means burst start
	lastDecoded  int64
	hasDecoded   bool
}

// NewStream creates a stream for one remote speaker. The decoder is
// created lazily from factory on the first decode.
func NewStream(cfg Config, factory DecoderFactory, log *logrus.Entry) *Stream {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	ring := make([]decodeSlot, cfg.ringSize())
	for i := range ring {
		ring[i].pcm = make([]int16, cfg.slotSamples())
	}

	log.WithFields(logrus.Fields{
		"function":    "NewStream",
		"ring_slots":  len(ring),
		"max_pending": cfg.MaxPendingFrames,
	}).Debug("Created speaker voice stream")

	return &Stream{
		cfg:     cfg,
		factory: factory,
		log:     log,
		ring:    ring,
	}
}

// AddEncodedFrame enqueues one encoded frame from the network
// context. Anomalous sequences are recorded but never rejected; a
// full queue evicts its oldest entry.
func (s *Stream) AddEncodedFrame(sequence int64, payload []byte, isLast bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.Received++

	frame := &EncodedFrame{
		Sequence: sequence,
		Payload:  append([]byte(nil), payload...),
		IsLast:   isLast,
	}

	if !s.hasReceived {
		s.hasReceived = true
		s.lastReceived = sequence
	} else if sequence <= s.lastReceived {
		// Reordered or duplicated arrival. Enqueue it anyway and let
		// the decode scheduler classify it; the last-received marker
		// does not move backward.
		s.log.WithFields(logrus.Fields{
			"function":      "Stream.AddEncodedFrame",
			"sequence":      sequence,
			"last_received": s.lastReceived,
		}).Warn("Non-increasing voice frame sequence")
	} else {
		if sequence-s.lastReceived != s.cfg.SequenceStride {
			frame.precededLoss = true
			s.metrics.LossEvents++
		}
		s.lastReceived = sequence
	}

	if s.pending.Len() >= s.cfg.MaxPendingFrames {
		s.pending.PopFront()
		s.metrics.DroppedOverflow++
		s.log.WithFields(logrus.Fields{
			"function": "Stream.AddEncodedFrame",
			"capacity": s.cfg.MaxPendingFrames,
		}).Debug("Pending queue overflow, evicted oldest frame")
	}
	s.pending.PushBack(frame)

	if !s.gate && s.pending.Len() >= s.cfg.InitialBufferFrames {
		s.gate = true
		s.log.WithFields(logrus.Fields{
			"function": "Stream.AddEncodedFrame",
			"buffered": s.pending.Len(),
		}).Debug("Initial buffer filled, playback may start")
	}
}

// HasFilledInitialBuffer reports whether the initial-buffer gate has
// opened. It stays true until an explicit reset.
func (s *Stream) HasFilledInitialBuffer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate
}

// Metrics returns a snapshot of the stream counters.
func (s *Stream) Metrics() StreamMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// PendingFrames returns the current pending-queue depth.
func (s *Stream) PendingFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}

// Read fills dst with decoded samples, draining the sub-buffer ring
// and scheduling further decodes as needed. It returns the number of
// real samples copied; the remainder of dst is zero-filled silence.
// Before the initial-buffer gate opens it returns 0 and pure silence
// without consuming decoded data.
func (s *Stream) Read(dst []int16) int {
	if !s.HasFilledInitialBuffer() {
		zeroFill(dst)
		return 0
	}

	copied := 0
	for copied < len(dst) {
		slot := &s.ring[s.ringRead]
		if slot.count == 0 {
			// Advance to the next ring slot only once this one is
			// exhausted and the next already holds data, so the read
			// cursor never races ahead of the decode cursor.
			next := (s.ringRead + 1) % len(s.ring)
			if s.ring[next].count > 0 {
				s.ringRead = next
				continue
			}
			if s.fillBuffer() == fillNoData {
				break
			}
			continue
		}

		n := len(dst) - copied
		if n > slot.count {
			n = slot.count
		}
		copy(dst[copied:copied+n], slot.pcm[slot.offset:slot.offset+n])
		slot.offset += n
		slot.count -= n
		copied += n
	}

	zeroFill(dst[copied:])
	return copied
}

// fillBuffer dequeues the oldest pending frame, classifies its
// sequence gap, and decodes it into the current ring slot.
func (s *Stream) fillBuffer() fillResult {
	s.mu.Lock()
	if s.pending.Len() == 0 {
		s.mu.Unlock()
		return fillNoData
	}
	frame := s.pending.PopFront()
	s.mu.Unlock()

	if s.decoder == nil {
		dec, err := s.factory.NewFrameDecoder(s.cfg.SampleRate, s.cfg.Channels)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"function": "Stream.fillBuffer",
				"error":    err.Error(),
			}).Error("Failed to create frame decoder")
			return fillNoData
		}
		s.decoder = dec
	}

	// Sequence 0 marks the start of a burst (fresh stream, or the
	// counter was reset after a last frame); the first frame of a
	// burst decodes without gap classification.
	if s.nextToDecode > 0 {
		if res, done := s.classifyGap(frame); done {
			return res
		}
	}

	if len(frame.Payload) == 0 {
		// Explicit mute frame: a valid no-audio outcome. More data
		// may still be pending, so the read loop keeps trying.
		if frame.IsLast {
			s.endBurst()
		}
		return fillRetry
	}

	slot := &s.ring[s.ringWrite]
	n, err := s.decoder.Decode(frame.Payload, slot.pcm)
	if err != nil || n <= 0 {
		// Decode failure aborts this fill only; the stream stays
		// usable on the next pull.
		s.log.WithFields(logrus.Fields{
			"function": "Stream.fillBuffer",
			"sequence": frame.Sequence,
			"samples":  n,
			"error":    errString(err),
		}).Error("Frame decode failed")
		return fillNoData
	}

	slot.count = n
	slot.offset = 0
	s.ringWrite = (s.ringWrite + 1) % len(s.ring)

	s.lastDecoded = frame.Sequence
	s.hasDecoded = true
	if frame.IsLast {
		s.endBurst()
	} else {
		s.nextToDecode = frame.Sequence + int64(n/s.cfg.samplesPerSequence())
	}
	return fillDecoded
}

// classifyGap applies the loss/reset/jump/stale policy to the gap
// between frame's sequence and the next expected sequence. It returns
// done=true when the frame was fully handled (dropped) and the fill
// pass should report its result without decoding.
func (s *Stream) classifyGap(frame *EncodedFrame) (fillResult, bool) {
	gap := frame.Sequence - s.nextToDecode

	switch {
	case gap < -s.cfg.MissingPacketThreshold:
		// The speaker's sequence counter reset after a long gap.
		// Decode this frame fresh.
		s.log.WithFields(logrus.Fields{
			"function": "Stream.classifyGap",
			"sequence": frame.Sequence,
			"expected": s.nextToDecode,
		}).Warn("Sequence counter reset inferred")
		s.decoder.ResetState()

	case s.hasDecoded && frame.Sequence > s.lastDecoded && gap < 0 && !frame.IsLast:
		// Newer than anything decoded yet behind the expected
		// stride: the sender likely changed its frame duration.
		s.log.WithFields(logrus.Fields{
			"function": "Stream.classifyGap",
			"sequence": frame.Sequence,
			"expected": s.nextToDecode,
		}).Info("Probable sample rate change in voice stream")

	case gap > s.cfg.MissingPacketThreshold:
		// Abrupt jump, e.g. push-to-talk resumed. No concealment.
		s.log.WithFields(logrus.Fields{
			"function": "Stream.classifyGap",
			"sequence": frame.Sequence,
			"expected": s.nextToDecode,
		}).Debug("Abrupt sequence jump, decoding without concealment")

	case gap < 0 && !frame.IsLast:
		// Stale duplicate of an already-decoded frame. Drop it and
		// let the read loop retry against the next pending frame.
		s.mu.Lock()
		s.metrics.DroppedReset++
		s.mu.Unlock()
		s.log.WithFields(logrus.Fields{
			"function": "Stream.classifyGap",
			"sequence": frame.Sequence,
			"expected": s.nextToDecode,
		}).Debug("Dropped stale voice frame")
		return fillRetry, true

	case gap > 0:
		s.concealLoss(frame, gap)
	}

	return fillNoData, false
}

// concealLoss accounts a loss gap and, when the loss is attributed to
// the network, produces one concealment frame into the ring. Losses
// caused by local overflow eviction get no concealment: the data was
// dropped deliberately, and synthetic samples would compound the
// damage.
func (s *Stream) concealLoss(frame *EncodedFrame, gap int64) {
	s.mu.Lock()
	s.metrics.Lost += uint64(gap)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"function": "Stream.concealLoss",
		"sequence": frame.Sequence,
		"expected": s.nextToDecode,
		"gap":      gap,
	}).Debug("Voice frames lost")

	if !frame.precededLoss {
		return
	}

	slot := &s.ring[s.ringWrite]
	n, err := s.decoder.Decode(nil, slot.pcm)
	if err != nil || n <= 0 {
		return
	}
	slot.count = n
	slot.offset = 0
	s.ringWrite = (s.ringWrite + 1) % len(s.ring)
}

// endBurst handles a last-frame: the next burst starts a fresh
// sequence space, the initial-buffer gate is re-evaluated against the
// frames still queued, and the decoder history is discarded.
func (s *Stream) endBurst() {
	s.nextToDecode = 0

	s.mu.Lock()
	s.gate = s.pending.Len() >= s.cfg.InitialBufferFrames
	s.mu.Unlock()

	s.decoder.ResetState()
}

// Reset returns the stream to its initial state: counters zeroed,
// queue cleared, gate closed, ring drained, decoder history
// discarded. It is synchronous and may race with an in-flight pull or
// receive; the stream is consistent afterwards regardless of timing.
func (s *Stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending.Clear()
	s.metrics = StreamMetrics{}
	s.gate = false
	s.hasReceived = false
	s.lastReceived = 0

	for i := range s.ring {
		s.ring[i].count = 0
		s.ring[i].offset = 0
	}
	s.ringRead = 0
	s.ringWrite = 0
	s.nextToDecode = 0
	s.lastDecoded = 0
	s.hasDecoded = false

	if s.decoder != nil {
		s.decoder.ResetState()
	}

	s.log.WithFields(logrus.Fields{
		"function": "Stream.Reset",
	}).Debug("Stream reset")
}

func zeroFill(dst []int16) {
	for i := range dst {
		dst[i] = 0
	}
}

func errString(err error) string {
	if err == nil {
		return "no samples produced"
	}
	return err.Error()
}
