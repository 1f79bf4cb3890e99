// Package transport implements the encrypted voice datagram channel.
//
// A VoiceTransport owns one UDP connection to a fixed remote
// endpoint. Outgoing datagrams are sealed through the cipher envelope
// and sent one at a time; incoming datagrams are decrypted,
// classified by their first byte, and dispatched to registered
// handlers. The receive loop re-arms itself unconditionally, so a
// malformed or misclassified datagram never stalls reception.
//
// The package also implements the compact wire format of voice
// datagrams: the type/target lead byte, the variable-length integer
// encoding used for session ids, sequence numbers, and payload
// lengths, and the 8-byte keepalive timestamp.
//
// Example:
//
//	vt, err := transport.Dial("voice.example.com:64738", envelope, 10*time.Second)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer vt.Close()
//
//	vt.RegisterHandler(transport.PacketVoice, func(d *transport.Datagram) {
//	    pkt, err := transport.ParseVoicePacket(d, false)
//	    ...
//	})
package transport
