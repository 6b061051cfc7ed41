// Package ctrl implements C3: the one-shot control-message protocol
// carried over a QUIC bidirectional stream on the bootstrap PSK
// connection. Wire types are CBOR-encoded (canonical mode, for
// deterministic output) and framed with the 4-byte big-endian length
// prefix modeled on yuzhou8787-bdls/agent-tcp/agent.go's frame format.
package ctrl

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	aqc "github.com/aranya-project/aqc-go"
)

var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	m, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("ctrl: invalid cbor encoding options: %v", err))
	}
	return m
}()

// Envelope is the ControlEnvelope of spec §6: the team id plus the
// opaque, policy-signed control blob.
type Envelope struct {
	TeamID aqc.TeamId
	Blob   []byte
}

// encode serialises e with TeamId ([32]byte) as a plain byte string rather
// than a CBOR array of 32 integers; decodeEnvelope reverses it.
func (e Envelope) encode() ([]byte, error) {
	return encMode.Marshal(struct {
		TeamID []byte
		Blob   []byte
	}{TeamID: e.TeamID[:], Blob: e.Blob})
}

func decodeEnvelope(b []byte) (Envelope, error) {
	var raw struct {
		TeamID []byte
		Blob   []byte
	}
	if err := cbor.Unmarshal(b, &raw); err != nil {
		return Envelope{}, err
	}
	if len(raw.TeamID) != 32 {
		return Envelope{}, fmt.Errorf("ctrl: envelope team id must be 32 bytes, got %d", len(raw.TeamID))
	}
	var env Envelope
	copy(env.TeamID[:], raw.TeamID)
	env.Blob = raw.Blob
	return env, nil
}

// Ack is the AckMessage of spec §6: success, or failure with a reason
// string surfaced to the sender.
type Ack struct {
	Ok     bool
	Reason string
}

func ackSuccess() Ack           { return Ack{Ok: true} }
func ackFailure(reason string) Ack { return Ack{Ok: false, Reason: reason} }

func (a Ack) encode() ([]byte, error) {
	return encMode.Marshal(a)
}

func decodeAck(b []byte) (Ack, error) {
	var a Ack
	if err := cbor.Unmarshal(b, &a); err != nil {
		return Ack{}, err
	}
	return a, nil
}
