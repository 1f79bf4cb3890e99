// Package crypto implements the symmetric cipher envelope used to
// protect voice datagrams.
//
// The envelope wraps a session-provided 32-byte key with two
// independent directions (send and receive), each carrying its own
// monotonically advancing nonce counter. Key agreement and nonce
// negotiation happen elsewhere; this package only seals and opens
// individual datagrams.
//
// Example:
//
//	env, err := crypto.NewEnvelope(sessionKey, true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sealed, err := env.Encrypt(voicePacket)
//	...
//	plain, err := env.Decrypt(incomingDatagram)
//	if errors.Is(err, crypto.ErrAuthenticationFailed) {
//	    // discard the datagram, never surface it as audio
//	}
package crypto
