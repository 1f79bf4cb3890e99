package audio

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager owns the per-speaker streams of a voice session. A stream
// is created on the first voice activity from a speaker and destroyed
// when the speaker leaves.
type Manager struct {
	cfg     Config
	factory DecoderFactory
	log     *logrus.Entry

	mu      sync.Mutex
	streams map[uint64]*Stream
}

// NewManager creates a stream manager. All streams share cfg and
// create their decoders from factory.
func NewManager(cfg Config, factory DecoderFactory, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		cfg:     cfg,
		factory: factory,
		log:     log,
		streams: make(map[uint64]*Stream),
	}
}

// Stream returns the stream for a speaker session, creating it on
// first voice activity.
func (m *Manager) Stream(session uint64) *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.streams[session]
	if !ok {
		st = NewStream(m.cfg, m.factory, m.log.WithField("session", session))
		m.streams[session] = st
		m.log.WithFields(logrus.Fields{
			"function": "Manager.Stream",
			"session":  session,
		}).Info("Created voice stream for new speaker")
	}
	return st
}

// Get returns the stream for a session without creating one.
func (m *Manager) Get(session uint64) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.streams[session]
	return st, ok
}

// Remove destroys the stream of a speaker that left the session.
func (m *Manager) Remove(session uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[session]; ok {
		delete(m.streams, session)
		m.log.WithFields(logrus.Fields{
			"function": "Manager.Remove",
			"session":  session,
		}).Info("Removed voice stream for departed speaker")
	}
}

// Sessions lists the sessions with an active stream.
func (m *Manager) Sessions() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]uint64, 0, len(m.streams))
	for s := range m.streams {
		out = append(out, s)
	}
	return out
}
