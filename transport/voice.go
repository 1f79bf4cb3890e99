package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mumlink/mumlink/crypto"
)

// maxDatagramSize bounds a single received datagram. Voice frames are
// far smaller; anything larger is dropped by the read.
const maxDatagramSize = 2048

// readPollInterval is the read deadline used to keep the receive loop
// responsive to Close without blocking forever in a socket read.
const readPollInterval = 100 * time.Millisecond

// DatagramHandler processes one classified incoming datagram. It is
// invoked synchronously from the receive loop, preserving arrival
// order into whatever queue the handler feeds.
type DatagramHandler func(d *Datagram)

// VoiceTransport maintains one encrypted UDP connection to a fixed
// remote endpoint. It sends keepalives at a fixed interval, keeps at
// most one send in flight, and continuously receives, decrypts, and
// dispatches datagrams until closed.
type VoiceTransport struct {
	conn     net.Conn
	envelope *crypto.Envelope
	log      *logrus.Entry

	handlerMu sync.RWMutex
	handlers  map[PacketType]DatagramHandler

	// sendMu serializes sends: at most one datagram in flight at a
	// time. Callers block rather than interleave.
	sendMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	keepalive time.Duration
	wg        sync.WaitGroup
}

// Dial connects to the remote voice endpoint, sends an initial
// keepalive, and starts the receive and keepalive loops.
func Dial(remote string, envelope *crypto.Envelope, keepalive time.Duration) (*VoiceTransport, error) {
	if envelope == nil {
		return nil, errors.New("cipher envelope cannot be nil")
	}
	if keepalive <= 0 {
		return nil, errors.New("keepalive interval must be positive")
	}

	conn, err := net.Dial("udp", remote)
	if err != nil {
		return nil, fmt.Errorf("dial voice endpoint: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &VoiceTransport{
		conn:      conn,
		envelope:  envelope,
		log:       logrus.WithField("remote", conn.RemoteAddr().String()),
		handlers:  make(map[PacketType]DatagramHandler),
		ctx:       ctx,
		cancel:    cancel,
		keepalive: keepalive,
	}

	t.log.WithFields(logrus.Fields{
		"function":  "Dial",
		"keepalive": keepalive.String(),
	}).Info("Voice transport connected")

	if err := t.SendPing(); err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("initial keepalive: %w", err)
	}

	t.wg.Add(2)
	go t.receiveLoop()
	go t.keepaliveLoop()
	return t, nil
}

// RegisterHandler installs the handler for a packet type, replacing
// any previous one.
func (t *VoiceTransport) RegisterHandler(pt PacketType, h DatagramHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.handlers[pt] = h
}

// Send encrypts and transmits one plaintext datagram. Sends after
// Close return ErrNotConnected.
func (t *VoiceTransport) Send(plaintext []byte) error {
	if t.ctx.Err() != nil {
		return ErrNotConnected
	}

	sealed, err := t.envelope.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("seal datagram: %w", err)
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	if t.ctx.Err() != nil {
		return ErrNotConnected
	}
	if _, err := t.conn.Write(sealed); err != nil {
		return fmt.Errorf("send datagram: %w", err)
	}
	return nil
}

// SendPing sends one keepalive datagram carrying the current
// monotonic timestamp in microseconds.
func (t *VoiceTransport) SendPing() error {
	return t.Send(BuildPing(time.Now().UnixMicro()))
}

// Close cancels the keepalive timer, stops the receive loop, and
// releases the socket. No sends or receives happen afterwards.
func (t *VoiceTransport) Close() error {
	t.cancel()
	err := t.conn.Close()
	t.wg.Wait()

	t.log.WithFields(logrus.Fields{
		"function": "Close",
	}).Info("Voice transport closed")
	return err
}

// keepaliveLoop emits a keepalive datagram on a fixed interval until
// the transport closes.
func (t *VoiceTransport) keepaliveLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			if err := t.SendPing(); err != nil && !errors.Is(err, ErrNotConnected) {
				t.log.WithFields(logrus.Fields{
					"function": "VoiceTransport.keepaliveLoop",
					"error":    err.Error(),
				}).Warn("Keepalive send failed")
			}
		}
	}
}

// receiveLoop reads, decrypts, classifies, and dispatches incoming
// datagrams. Every failure path falls through to the next read, so
// the loop never silently stops before Close.
func (t *VoiceTransport) receiveLoop() {
	defer t.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for t.ctx.Err() == nil {
		t.receiveOne(buf)
	}
}

// receiveOne handles a single datagram end to end.
func (t *VoiceTransport) receiveOne(buf []byte) {
	_ = t.conn.SetReadDeadline(time.Now().Add(readPollInterval))

	n, err := t.conn.Read(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		if t.ctx.Err() == nil {
			t.log.WithFields(logrus.Fields{
				"function": "VoiceTransport.receiveOne",
				"error":    err.Error(),
			}).Debug("Datagram read failed")
		}
		return
	}

	plain, err := t.envelope.Decrypt(buf[:n])
	if err != nil {
		// Failed authentication or truncation: discard, keep
		// receiving. Never surfaced as audio.
		t.log.WithFields(logrus.Fields{
			"function": "VoiceTransport.receiveOne",
			"size":     n,
			"error":    err.Error(),
		}).Debug("Discarded undecryptable datagram")
		return
	}

	d, err := ClassifyDatagram(plain)
	if err != nil {
		t.log.WithFields(logrus.Fields{
			"function": "VoiceTransport.receiveOne",
			"error":    err.Error(),
		}).Debug("Discarded unclassifiable datagram")
		return
	}

	t.handlerMu.RLock()
	handler, ok := t.handlers[d.Type]
	t.handlerMu.RUnlock()
	if !ok {
		t.log.WithFields(logrus.Fields{
			"function": "VoiceTransport.receiveOne",
			"type":     d.Type,
		}).Debug("No handler for datagram type")
		return
	}

	// Synchronous dispatch preserves arrival order into the
	// handler's queue.
	handler(d)
}
