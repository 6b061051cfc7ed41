package ctrl

import (
	"io"

	aqc "github.com/aranya-project/aqc-go"
	"github.com/aranya-project/aqc-go/internal/wireframe"
)

// Stream is the minimal surface ctrl needs from a QUIC bidi stream: a
// reader, a writer, and a way to signal "no more data coming" on the send
// side without tearing down the read side, so the receiver's final Ack can
// still arrive.
type Stream interface {
	io.Reader
	io.Writer
	// CloseWrite half-closes the send side (quic.Stream.Close does this).
	CloseWrite() error
}

// Send writes env to s, half-closes the send side, then blocks for the
// receiver's Ack. It is the client-side half of the control exchange
// (aranya-client/src/aqc/net.rs's send_ctrl).
func Send(s Stream, env Envelope) error {
	body, err := env.encode()
	if err != nil {
		return &aqc.Serde{Context: "encode control envelope", Err: err}
	}
	if err := wireframe.Write(s, body); err != nil {
		return &aqc.QuicIo{Op: "send_ctrl: write envelope", Err: err}
	}
	if err := s.CloseWrite(); err != nil {
		return &aqc.QuicIo{Op: "send_ctrl: close write", Err: err}
	}

	ackBody, err := wireframe.Read(s)
	if err != nil {
		return &aqc.QuicIo{Op: "send_ctrl: read ack", Err: err}
	}
	ack, err := decodeAck(ackBody)
	if err != nil {
		return &aqc.Serde{Context: "decode ack", Err: err}
	}
	if !ack.Ok {
		return &aqc.CtrlFailure{Reason: ack.Reason}
	}
	return nil
}
