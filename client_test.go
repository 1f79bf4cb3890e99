package mumlink

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mumlink/mumlink/audio"
	"github.com/mumlink/mumlink/crypto"
	"github.com/mumlink/mumlink/transport"
)

func sessionKey() []byte {
	key := make([]byte, crypto.KeySize)
	for i := range key {
		key[i] = byte(0xA0 ^ i)
	}
	return key
}

// stubDecoder fills one 20ms frame with the first payload byte.
type stubDecoder struct{}

func (stubDecoder) Decode(payload []byte, pcm []int16) (int, error) {
	const n = 960
	v := int16(0)
	if len(payload) > 0 {
		v = int16(payload[0])
	}
	for i := 0; i < n; i++ {
		pcm[i] = v
	}
	return n, nil
}

func (stubDecoder) ResetState() {}

type stubFactory struct{}

func (stubFactory) NewFrameDecoder(sampleRate, channels int) (audio.FrameDecoder, error) {
	return stubDecoder{}, nil
}

// startEchoServer runs a voice endpoint that opens every datagram
// with the responder envelope and seals keepalives right back to the
// sender. Voice datagrams are swallowed so loopback tests see each
// frame exactly once.
func startEchoServer(t *testing.T) string {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	env, err := crypto.NewEnvelope(sessionKey(), false)
	require.NoError(t, err)

	done := make(chan struct{})
	t.Cleanup(func() {
		_ = conn.Close()
		<-done
	})

	go func() {
		defer close(done)
		buf := make([]byte, 2048)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			plain, err := env.Decrypt(buf[:n])
			if err != nil || len(plain) == 0 {
				continue
			}
			if transport.PacketType(plain[0]>>5) != transport.PacketPing {
				continue
			}
			sealed, err := env.Encrypt(plain)
			if err != nil {
				continue
			}
			_, _ = conn.WriteTo(sealed, addr)
		}
	}()

	return conn.LocalAddr().String()
}

func connectLoopback(t *testing.T) *Client {
	t.Helper()

	opts := DefaultOptions(startEchoServer(t), sessionKey())
	opts.Loopback = true
	opts.DecoderFactory = stubFactory{}
	// Fast keepalives so the round-trip test does not wait on the
	// production interval.
	opts.KeepaliveInterval = 50 * time.Millisecond

	c, err := Connect(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConnectValidation(t *testing.T) {
	_, err := Connect(nil)
	assert.Error(t, err)

	_, err = Connect(DefaultOptions("127.0.0.1:1", []byte("short key")))
	assert.ErrorIs(t, err, crypto.ErrInvalidKeySize)
}

func TestConnectDefaultsPartialOptions(t *testing.T) {
	opts := &Options{Remote: startEchoServer(t), Key: sessionKey()}

	c, err := Connect(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	// Creating a speaker stream exercises the jitter-buffer sizing;
	// with an undefaulted zero audio policy this divided by zero.
	st := c.Speaker(7)
	require.NotNil(t, st)
	dst := make([]int16, 480)
	assert.Equal(t, 0, c.ReadSpeaker(7, dst))

	// The caller's Options value stays untouched by defaulting.
	assert.Zero(t, opts.KeepaliveInterval)
	assert.Nil(t, opts.DecoderFactory)
	assert.Equal(t, audio.Config{}, opts.Audio)
}

func TestLoopbackVoicePath(t *testing.T) {
	c := connectLoopback(t)

	// Three frames open the initial-buffer gate on the loopback
	// stream (session 0).
	for i := 0; i < 3; i++ {
		require.NoError(t, c.SendVoiceFrame([]byte{byte(i + 1)}, false))
	}

	st := c.Speaker(0)
	require.True(t, st.HasFilledInitialBuffer())
	assert.Equal(t, uint64(3), st.Metrics().Received)

	dst := make([]int16, 3*960)
	n := c.ReadSpeaker(0, dst)
	assert.Equal(t, 3*960, n)
	assert.Equal(t, int16(1), dst[0])
	assert.Equal(t, int16(2), dst[960])
	assert.Equal(t, int16(3), dst[2*960])
	assert.Equal(t, uint64(0), st.Metrics().Lost, "loopback frames use the expected stride")
}

func TestOutgoingSequenceStride(t *testing.T) {
	c := connectLoopback(t)

	require.NoError(t, c.SendVoiceFrame([]byte{1}, false))
	require.NoError(t, c.SendVoiceFrame([]byte{2}, false))
	require.NoError(t, c.SendVoiceFrame([]byte{3}, true))
	// After a last frame the counter restarts.
	require.NoError(t, c.SendVoiceFrame([]byte{4}, false))

	c.seqMu.Lock()
	next := c.sequence
	c.seqMu.Unlock()
	assert.Equal(t, c.opts.Audio.SequenceStride, next)
}

func TestSendVoiceFrameTooLarge(t *testing.T) {
	c := connectLoopback(t)

	err := c.SendVoiceFrame(make([]byte, transport.MaxVoicePayload+1), false)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestPingRoundTripMeasured(t *testing.T) {
	c := connectLoopback(t)

	// The initial keepalive is echoed by the server; wait for the
	// receive loop to record it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if rtt, ok := c.LastPingRTT(); ok {
			assert.GreaterOrEqual(t, rtt, time.Duration(0))
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("keepalive round trip never measured")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReadUnknownSpeakerIsSilence(t *testing.T) {
	c := connectLoopback(t)

	dst := make([]int16, 480)
	dst[0] = 77
	assert.Equal(t, 0, c.ReadSpeaker(999, dst))
	assert.Equal(t, int16(0), dst[0])
}

func TestRemoveSpeaker(t *testing.T) {
	c := connectLoopback(t)

	require.NoError(t, c.SendVoiceFrame([]byte{1}, false))
	_ = c.Speaker(0)
	c.RemoveSpeaker(0)

	dst := make([]int16, 480)
	assert.Equal(t, 0, c.ReadSpeaker(0, dst))
}
