package aqc

import "fmt"

// ConfigError marks a fatal startup configuration problem (bad address, bad
// keystore path, missing required field).
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("aqc: config: %s: %v", e.Field, e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// PskConflict is returned when a PSK identity is inserted with a secret
// that differs from the one already present for that identity. It is fatal
// to the channel attempting the insert; it must not affect any other live
// channel.
type PskConflict struct {
	Identity PskIdentity
}

func (e *PskConflict) Error() string {
	return fmt.Sprintf("aqc: psk conflict for identity %s", e.Identity)
}

// NoChannelInfo is returned when the server selects a PSK identity that the
// channel registry has no record of. Policy: log at warn, close the
// connection, continue accepting.
type NoChannelInfo struct {
	Identity PskIdentity
}

func (e *NoChannelInfo) Error() string {
	return fmt.Sprintf("aqc: no channel info for identity %s", e.Identity)
}

// CtrlFailure is surfaced to the caller of a control-message send when the
// receiver rejects the control exchange. No PSKs are installed on the
// sending side when this occurs.
type CtrlFailure struct {
	Reason string
}

func (e *CtrlFailure) Error() string { return fmt.Sprintf("aqc: control failure: %s", e.Reason) }

// PolicyDenied is returned by the daemon bridge (C7) when the policy engine
// refuses a call. Callers must treat it as channel-fatal and must not retry
// blindly.
type PolicyDenied struct {
	Call   string
	Reason string
}

func (e *PolicyDenied) Error() string {
	return fmt.Sprintf("aqc: policy denied %s: %s", e.Call, e.Reason)
}

// QuicIo wraps a transport-level error. The operation in progress is
// surfaced as failed and the underlying connection is considered closed.
type QuicIo struct {
	Op  string
	Err error
}

func (e *QuicIo) Error() string { return fmt.Sprintf("aqc: quic io during %s: %v", e.Op, e.Err) }
func (e *QuicIo) Unwrap() error { return e.Err }

// Serde marks a malformed wire message. If encountered mid-control-exchange
// the receiver replies with AckMessage Failure before dropping the
// connection; otherwise the connection is simply dropped.
type Serde struct {
	Context string
	Err     error
}

func (e *Serde) Error() string { return fmt.Sprintf("aqc: serde: %s: %v", e.Context, e.Err) }
func (e *Serde) Unwrap() error { return e.Err }

// Cancelled marks a user-initiated abort. It is not a failure; callers
// should unwind cleanly without logging it as an error.
type Cancelled struct {
	Op string
}

func (e *Cancelled) Error() string { return fmt.Sprintf("aqc: cancelled: %s", e.Op) }

// ErrStreamCreateDenied is returned by Channel.OpenStream when the
// channel's Direction does not authorize the caller to create streams
// (e.g. the receive-only end of a uni channel).
var ErrStreamCreateDenied = &PolicyDenied{Call: "open_stream", Reason: "direction does not permit stream creation"}

// ErrNoCtrlStream names the case of a connection on which no bidi stream
// arrives within the QUIC idle timeout. No code path in this module returns
// it: the accept loop logs the failed first-stream accept and closes the
// connection instead.
var ErrNoCtrlStream = &QuicIo{Op: "await_ctrl_stream", Err: fmt.Errorf("no control stream before idle timeout")}

// ErrUnsupportedSuite names a cipher suite derivation cannot use. Derivation
// does not return it: such a suite is silently skipped, and ErrNoSuites is
// returned only when no suite remains.
var ErrUnsupportedSuite = fmt.Errorf("aqc: unsupported cipher suite")

// ErrNoSuites is fatal: every configured cipher suite was unsupported, so
// derivation produced an empty PskFamily.
var ErrNoSuites = fmt.Errorf("aqc: no supported cipher suites remain")

// ErrDeriveFailure marks that an individual suite's HKDF derivation step
// failed; this is fatal to the whole derivation call.
type ErrDeriveFailure struct {
	Suite CipherSuite
	Err   error
}

func (e *ErrDeriveFailure) Error() string {
	return fmt.Sprintf("aqc: derive failure for %s: %v", e.Suite, e.Err)
}
func (e *ErrDeriveFailure) Unwrap() error { return e.Err }

// ErrDuplicateChannel is returned by the registry when registering a
// ChannelId that is already present.
var ErrDuplicateChannel = fmt.Errorf("aqc: duplicate channel id")
