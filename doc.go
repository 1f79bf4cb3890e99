// Package mumlink delivers near-real-time voice audio between the
// participants of a voice-chat session over an unreliable, unordered
// datagram transport.
//
// A Client owns the encrypted UDP voice channel to one server and a
// jitter buffer per remote speaker. Outgoing encoded voice frames are
// framed, encrypted, and sent with Client.SendVoiceFrame; incoming
// datagrams are decrypted, classified, and routed into per-speaker
// streams. A playback callback pulls decoded samples from a speaker's
// stream at its own fixed cadence and always receives a full buffer,
// padded with silence when audio is missing.
//
// The speech codec, the control-channel session model, and key
// negotiation live outside this module: the codec is consumed as a
// decode capability (audio.DecoderFactory), and the cipher envelope
// is keyed by a session-provided shared secret.
//
// Example:
//
//	client, err := mumlink.Connect(mumlink.DefaultOptions("voice.example.com:64738", sessionKey))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Playback callback for one speaker:
//	pcm := make([]int16, 480)
//	client.ReadSpeaker(session, pcm)
package mumlink
