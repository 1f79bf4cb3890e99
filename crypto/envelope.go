package crypto

import (
	"encoding/binary"
	"errors"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the required session key length in bytes.
const KeySize = 32

// Overhead is the number of bytes Encrypt adds to a plaintext: the
// 8-byte nonce counter prefix plus the secretbox authentication tag.
const Overhead = counterSize + secretbox.Overhead

// counterSize is the length of the little-endian nonce counter that
// prefixes every sealed datagram.
const counterSize = 8

// MaxDatagramSize bounds the plaintext accepted by Encrypt. Voice
// datagrams are small; anything larger indicates a caller bug.
const MaxDatagramSize = 64 * 1024

// Sentinel errors for envelope operations.
var (
	// ErrInvalidKeySize indicates the session key is not KeySize bytes.
	ErrInvalidKeySize = errors.New("session key must be 32 bytes")

	// ErrAuthenticationFailed indicates the integrity check on an
	// incoming datagram failed. The datagram must be discarded.
	ErrAuthenticationFailed = errors.New("datagram authentication failed")

	// ErrDatagramTooShort indicates a ciphertext shorter than the
	// envelope overhead.
	ErrDatagramTooShort = errors.New("datagram shorter than envelope overhead")

	// ErrDatagramTooLarge indicates a plaintext above MaxDatagramSize.
	ErrDatagramTooLarge = errors.New("datagram exceeds maximum size")
)

// Envelope seals outgoing datagrams and opens incoming ones using a
// shared symmetric key. The two directions advance independent nonce
// counters and are serialized independently, so an encrypt may run
// concurrently with a decrypt but never with another encrypt.
//
// The wire form of a sealed datagram is the 8-byte little-endian send
// counter followed by the secretbox output. Embedding the counter lets
// the receiver open datagrams that arrive out of order or duplicated;
// replay filtering is left to the jitter buffer, which already has to
// classify stale sequence numbers.
type Envelope struct {
	key [KeySize]byte

	sendMu      sync.Mutex
	sendCounter uint64
	sendDir     byte

	recvMu      sync.Mutex
	recvCounter uint64
	recvDir     byte
}

// NewEnvelope creates an envelope from a session-provided key.
// Exactly one side of the connection must pass initiator=true so the
// two directions never share a nonce space.
func NewEnvelope(key []byte, initiator bool) (*Envelope, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	e := &Envelope{}
	copy(e.key[:], key)
	if initiator {
		e.sendDir, e.recvDir = 0, 1
	} else {
		e.sendDir, e.recvDir = 1, 0
	}
	return e, nil
}

// Encrypt seals a plaintext datagram and advances the send counter.
func (e *Envelope) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("empty plaintext")
	}
	if len(plaintext) > MaxDatagramSize {
		return nil, ErrDatagramTooLarge
	}

	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	counter := e.sendCounter
	e.sendCounter++

	nonce := makeNonce(counter, e.sendDir)
	out := make([]byte, counterSize, counterSize+len(plaintext)+secretbox.Overhead)
	binary.LittleEndian.PutUint64(out, counter)
	return secretbox.Seal(out, plaintext, &nonce, &e.key), nil
}

// Decrypt opens a sealed datagram. It returns ErrAuthenticationFailed
// if the integrity check fails; the caller must drop the datagram and
// keep receiving.
func (e *Envelope) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < Overhead {
		return nil, ErrDatagramTooShort
	}

	e.recvMu.Lock()
	defer e.recvMu.Unlock()

	counter := binary.LittleEndian.Uint64(ciphertext[:counterSize])
	nonce := makeNonce(counter, e.recvDir)

	plain, ok := secretbox.Open(nil, ciphertext[counterSize:], &nonce, &e.key)
	if !ok {
		return nil, ErrAuthenticationFailed
	}

	// Track the highest counter seen. Duplicated or reordered
	// datagrams still decrypt; the jitter buffer sorts them out.
	if counter >= e.recvCounter {
		e.recvCounter = counter + 1
	}
	return plain, nil
}

// makeNonce builds a 24-byte secretbox nonce from the direction tag
// and the per-datagram counter. Counter uniqueness per direction is
// what keeps the (key, nonce) pairs unique.
func makeNonce(counter uint64, direction byte) [24]byte {
	var nonce [24]byte
	nonce[0] = direction
	binary.LittleEndian.PutUint64(nonce[1:], counter)
	return nonce
}
