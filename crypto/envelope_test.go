package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i*7 + 3)
	}
	return key
}

func TestNewEnvelope(t *testing.T) {
	tests := []struct {
		name        string
		key         []byte
		expectError bool
	}{
		{
			name: "Valid 32-byte key",
			key:  testKey(),
		},
		{
			name:        "Key too short",
			key:         make([]byte, 16),
			expectError: true,
		},
		{
			name:        "Nil key",
			key:         nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := NewEnvelope(tt.key, true)
			if tt.expectError {
				assert.ErrorIs(t, err, ErrInvalidKeySize)
				assert.Nil(t, env)
			} else {
				require.NoError(t, err)
				require.NotNil(t, env)
			}
		})
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	client, err := NewEnvelope(testKey(), true)
	require.NoError(t, err)
	server, err := NewEnvelope(testKey(), false)
	require.NoError(t, err)

	plain := []byte{0x80, 0x01, 0x02, 0x03, 0x04}

	sealed, err := client.Encrypt(plain)
	require.NoError(t, err)
	assert.Equal(t, len(plain)+Overhead, len(sealed))
	assert.False(t, bytes.Contains(sealed, plain), "plaintext must not appear in sealed output")

	opened, err := server.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, plain, opened)
}

func TestEnvelopeDirectionsAreIndependent(t *testing.T) {
	client, err := NewEnvelope(testKey(), true)
	require.NoError(t, err)
	server, err := NewEnvelope(testKey(), false)
	require.NoError(t, err)

	// Both sides start at counter zero; identical plaintexts must
	// still seal to different ciphertexts because the directions use
	// disjoint nonce spaces.
	plain := []byte("keepalive")
	fromClient, err := client.Encrypt(plain)
	require.NoError(t, err)
	fromServer, err := server.Encrypt(plain)
	require.NoError(t, err)
	assert.NotEqual(t, fromClient, fromServer)

	// And each side can open what the other sent.
	got, err := server.Decrypt(fromClient)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
	got, err = client.Decrypt(fromServer)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestEnvelopeNonceAdvances(t *testing.T) {
	client, err := NewEnvelope(testKey(), true)
	require.NoError(t, err)

	plain := []byte("same frame twice")
	first, err := client.Encrypt(plain)
	require.NoError(t, err)
	second, err := client.Encrypt(plain)
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "counter must advance on every encrypt")
}

func TestEnvelopeAuthenticationFailure(t *testing.T) {
	client, err := NewEnvelope(testKey(), true)
	require.NoError(t, err)
	server, err := NewEnvelope(testKey(), false)
	require.NoError(t, err)

	sealed, err := client.Encrypt([]byte("voice frame"))
	require.NoError(t, err)

	tests := []struct {
		name     string
		mutate   func([]byte) []byte
		expected error
	}{
		{
			name: "Flipped payload bit",
			mutate: func(b []byte) []byte {
				c := append([]byte(nil), b...)
				c[len(c)-1] ^= 0x01
				return c
			},
			expected: ErrAuthenticationFailed,
		},
		{
			name: "Corrupted counter prefix",
			mutate: func(b []byte) []byte {
				c := append([]byte(nil), b...)
				c[0] ^= 0xff
				return c
			},
			expected: ErrAuthenticationFailed,
		},
		{
			name: "Truncated below overhead",
			mutate: func(b []byte) []byte {
				return b[:Overhead-1]
			},
			expected: ErrDatagramTooShort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plain, err := server.Decrypt(tt.mutate(sealed))
			assert.ErrorIs(t, err, tt.expected)
			assert.Nil(t, plain)
		})
	}
}

func TestEnvelopeToleratesReorderAndDuplication(t *testing.T) {
	client, err := NewEnvelope(testKey(), true)
	require.NoError(t, err)
	server, err := NewEnvelope(testKey(), false)
	require.NoError(t, err)

	var sealed [][]byte
	for i := 0; i < 4; i++ {
		s, err := client.Encrypt([]byte{byte(i)})
		require.NoError(t, err)
		sealed = append(sealed, s)
	}

	// Deliver out of order with a duplicate; every datagram must
	// still open since the counter travels with it.
	order := []int{2, 0, 3, 3, 1}
	for _, i := range order {
		plain, err := server.Decrypt(sealed[i])
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, plain)
	}
}
