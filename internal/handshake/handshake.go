// Package handshake implements the PSK-proof frame exchanged on the first
// stream of every AQC connection. Go's standard crypto/tls (which quic-go
// builds its transport security on) has no public API for TLS 1.3 external
// PSK cipher suites, so the QUIC handshake itself always completes against
// a self-signed ephemeral certificate with certificate trust turned off —
// that TLS layer authenticates nothing. This package supplies the
// authentication crypto/tls can't: the dialer proves knowledge of the PSK
// secret for the identity it claims by HMACing a TLS exporter value unique
// to the already-established connection, which the accepting side verifies
// before treating the connection as anything but anonymous transport.
package handshake

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	aqc "github.com/aranya-project/aqc-go"
)

// exporterLabel is the TLS exporter label used to derive the channel-bound
// value the proof HMAC is computed over. context is always nil/empty and
// length is fixed at 32 bytes (sha256.Size).
const exporterLabel = "aranya-aqc/1 psk-proof"

const proofLen = sha256.Size

// Frame is the 37+32 = 69-byte first-flight message: the identity the
// dialer claims, and proof that it holds the matching PSK secret. It has no
// variable-length fields, so it is written/read as a fixed-size blob
// without the 4-byte length prefix internal/ctrl uses for everything else.
type Frame struct {
	Identity aqc.PskIdentity
	Proof    [proofLen]byte
}

const FrameLen = aqc.PskIdentityLen + proofLen

// Exporter abstracts the one primitive this package needs from a completed
// QUIC/TLS connection: a value that is unique to this connection and that
// both ends can compute identically, so an attacker who cannot observe the
// PSK secret cannot forge a valid Proof even if it observes other
// connections' frames. quic-go's Connection.ConnectionState().TLS satisfies
// this via tls.ConnectionState.ExportKeyingMaterial.
type Exporter interface {
	ExportKeyingMaterial(label string, context []byte, length int) ([]byte, error)
}

// ComputeProof derives the channel-binding value from exp and HMACs it with
// secret, producing the value the dialer sends and the acceptor checks.
func ComputeProof(exp Exporter, secret aqc.PskSecret) ([proofLen]byte, error) {
	var out [proofLen]byte
	bound, err := exp.ExportKeyingMaterial(exporterLabel, nil, proofLen)
	if err != nil {
		return out, fmt.Errorf("handshake: export keying material: %w", err)
	}
	mac := hmac.New(sha256.New, secret.Bytes())
	mac.Write(bound)
	copy(out[:], mac.Sum(nil))
	return out, nil
}

// VerifyProof recomputes the expected proof from exp/secret and compares it
// to proof in constant time.
func VerifyProof(exp Exporter, secret aqc.PskSecret, proof [proofLen]byte) (bool, error) {
	want, err := ComputeProof(exp, secret)
	if err != nil {
		return false, err
	}
	return hmac.Equal(want[:], proof[:]), nil
}

// Send writes a Frame claiming identity, with proof computed against exp
// and the secret the dialer holds for that identity.
func Send(w io.Writer, exp Exporter, identity aqc.PskIdentity, secret aqc.PskSecret) error {
	proof, err := ComputeProof(exp, secret)
	if err != nil {
		return err
	}
	var buf [FrameLen]byte
	copy(buf[:aqc.PskIdentityLen], identity[:])
	copy(buf[aqc.PskIdentityLen:], proof[:])
	if _, err := w.Write(buf[:]); err != nil {
		return &aqc.QuicIo{Op: "handshake: send proof frame", Err: err}
	}
	return nil
}

// Receive reads one Frame off r. The caller is responsible for resolving
// Identity to a secret and calling VerifyProof; Receive itself performs no
// verification, since the acceptor does not yet know which team's registry
// to consult.
func Receive(r io.Reader) (Frame, error) {
	var buf [FrameLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Frame{}, &aqc.QuicIo{Op: "handshake: read proof frame", Err: err}
	}
	var f Frame
	copy(f.Identity[:], buf[:aqc.PskIdentityLen])
	copy(f.Proof[:], buf[aqc.PskIdentityLen:])
	return f, nil
}
