package ctrl

import (
	"github.com/op/go-logging"

	aqc "github.com/aranya-project/aqc-go"
	"github.com/aranya-project/aqc-go/internal/wireframe"
)

// receiverState is the control receiver's state machine, logged at DEBUG on
// each transition the way pki.worker logs each phase of its fetch loop.
type receiverState int

const (
	stateIdle receiverState = iota
	stateAwaitStream
	stateAwaitBody
	stateApplying
	stateAcking
	stateDone
)

func (s receiverState) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateAwaitStream:
		return "AwaitStream"
	case stateAwaitBody:
		return "AwaitBody"
	case stateApplying:
		return "Applying"
	case stateAcking:
		return "Acking"
	case stateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Apply is invoked with the decoded envelope once a full frame has arrived;
// it runs the policy/registry side effects (install PSKs, register the
// channel) and its error, if any, becomes the Ack's failure reason.
type Apply func(env Envelope) error

// Receive drives one control exchange to completion on s: read the
// envelope, invoke apply, send the resulting Ack. It never returns the
// exchange's own policy failure as a Go error — that is reported to the
// sender via the Ack and logged at WARNING here; Receive's error return is
// reserved for transport/serde failures that made replying impossible.
func Receive(s Stream, log *logging.Logger, apply Apply) error {
	state := stateIdle
	transition := func(next receiverState) {
		log.Debugf("ctrl receiver: %v -> %v", state, next)
		state = next
	}

	transition(stateAwaitStream)
	transition(stateAwaitBody)
	body, err := wireframe.Read(s)
	if err != nil {
		return &aqc.QuicIo{Op: "receive_ctrl: read envelope", Err: err}
	}

	env, err := decodeEnvelope(body)
	if err != nil {
		transition(stateAcking)
		return sendAck(s, ackFailure("malformed control envelope"))
	}

	transition(stateApplying)
	var ack Ack
	if err := apply(env); err != nil {
		log.Warningf("ctrl receiver: policy rejected control exchange for team %s: %v", env.TeamID, err)
		ack = ackFailure(err.Error())
	} else {
		ack = ackSuccess()
	}

	transition(stateAcking)
	if err := sendAck(s, ack); err != nil {
		return err
	}
	transition(stateDone)
	return nil
}

func sendAck(s Stream, ack Ack) error {
	body, err := ack.encode()
	if err != nil {
		return &aqc.Serde{Context: "encode ack", Err: err}
	}
	if err := wireframe.Write(s, body); err != nil {
		return &aqc.QuicIo{Op: "receive_ctrl: write ack", Err: err}
	}
	return nil
}
