package aqc

import (
	"encoding/binary"
	"fmt"
)

// PskIdentityLen is the fixed length in bytes of the wire PSK identity
// encoding (spec §6): version(1) || kind(1) || channel_id(32) ||
// suite_code(2) || direction(1).
const PskIdentityLen = 1 + 1 + 32 + 2 + 1

const pskIdentityVersion = 0x01

// bootstrapKind is the `kind` byte reserved for the bootstrap identity; it
// never appears as a ChannelKind value.
const bootstrapKind = 0x00

// PskIdentity is the bit-exact 37-byte identity of a Psk, encoding its
// ChannelId, CipherSuite and Direction. Two identities are equal iff their
// encodings are byte-equal.
type PskIdentity [PskIdentityLen]byte

// EncodeIdentity builds the wire identity for a channel PSK.
func EncodeIdentity(id ChannelId, suite CipherSuite, dir Direction) PskIdentity {
	var out PskIdentity
	out[0] = pskIdentityVersion
	out[1] = byte(id.Kind)
	copy(out[2:34], id.ID[:])
	binary.BigEndian.PutUint16(out[34:36], uint16(suite))
	out[36] = byte(dir)
	return out
}

// BootstrapIdentity is the fixed, well-known PSK identity used solely to
// transport control messages (spec §6). It is derivable by all nodes from
// this compiled-in constant, with an all-zero channel id distinguishing it
// from any real channel identity by its kind byte alone.
func BootstrapIdentity() PskIdentity {
	var out PskIdentity
	out[0] = pskIdentityVersion
	out[1] = bootstrapKind
	// bytes 2..33 (channel id), 34..35 (suite code) and 36 (direction) are
	// already zero; the bootstrap identity is the all-zero-payload form.
	return out
}

// DecodeIdentity parses a wire identity back into its tuple. It returns
// isBootstrap=true for the bootstrap identity, in which case the other
// return values are zero and should not be used.
func DecodeIdentity(b PskIdentity) (id ChannelId, suite CipherSuite, dir Direction, isBootstrap bool, err error) {
	if b[0] != pskIdentityVersion {
		return ChannelId{}, 0, 0, false, fmt.Errorf("aqc: psk identity: unsupported version %d", b[0])
	}
	if b[1] == bootstrapKind {
		return ChannelId{}, 0, 0, true, nil
	}
	kind := ChannelKind(b[1])
	if kind != ChannelBidi && kind != ChannelUni {
		return ChannelId{}, 0, 0, false, fmt.Errorf("aqc: psk identity: unknown kind %d", b[1])
	}
	var chanID [32]byte
	copy(chanID[:], b[2:34])
	suite = CipherSuite(binary.BigEndian.Uint16(b[34:36]))
	dir = Direction(b[36])
	return ChannelId{Kind: kind, ID: chanID}, suite, dir, false, nil
}

func (p PskIdentity) String() string {
	id, suite, dir, isBootstrap, err := DecodeIdentity(p)
	if err != nil {
		return fmt.Sprintf("PskIdentity(invalid: %v)", err)
	}
	if isBootstrap {
		return "PskIdentity(bootstrap)"
	}
	return fmt.Sprintf("PskIdentity(%s suite=%s dir=%s)", id, suite, dir)
}

// PskSecret is ephemeral keying material. It is never serialised to disk
// and never logged: Format always prints a fixed placeholder regardless of
// verb, and Zero overwrites the backing array so the secret does not
// linger in memory past its channel's lifetime.
type PskSecret struct {
	b []byte
}

// NewPskSecret takes ownership of b; callers must not retain a reference to
// the slice they pass in.
func NewPskSecret(b []byte) PskSecret {
	return PskSecret{b: b}
}

// Bytes returns the raw secret. Callers must not retain the returned slice
// past the PskSecret's lifetime.
func (s PskSecret) Bytes() []byte { return s.b }

// Len returns the secret length in bytes.
func (s PskSecret) Len() int { return len(s.b) }

// Zero overwrites the secret's backing storage with zeroes. Safe to call
// more than once.
func (s PskSecret) Zero() {
	for i := range s.b {
		s.b[i] = 0
	}
}

// Format implements fmt.Formatter so that %v, %s, %x, etc. on a PskSecret
// (or a struct embedding one) never leak key material into logs.
func (s PskSecret) Format(f fmt.State, verb rune) {
	fmt.Fprint(f, "<redacted>")
}

// Psk pairs a PskIdentity with its PskSecret and the CipherSuite it was
// derived for.
type Psk struct {
	Identity PskIdentity
	Secret   PskSecret
	Suite    CipherSuite
}

// PskFamily is the non-empty mapping CipherSuite -> Psk belonging to one
// channel; TLS negotiation selects exactly one member.
type PskFamily map[CipherSuite]Psk

// ChannelId recovers the ChannelId shared by every member of the family. It
// panics if the family is empty, which is a programmer error (derivation
// never produces an empty family on success).
func (f PskFamily) ChannelId() ChannelId {
	for _, psk := range f {
		id, _, _, _, err := DecodeIdentity(psk.Identity)
		if err == nil {
			return id
		}
	}
	panic("aqc: ChannelId called on empty or undecodable PskFamily")
}

// Zero zeroes every secret in the family.
func (f PskFamily) Zero() {
	for _, psk := range f {
		psk.Secret.Zero()
	}
}
