// Package channelkey implements C2: deriving a family of PSKs, one per
// supported cipher suite, from a policy-authorized channel secret.
package channelkey

import (
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/aranya-project/aqc-go"
)

// domainLabel is the fixed HKDF-Extract salt, separating AQC channel-key
// derivation from any other use of the same channel secret.
var domainLabel = []byte("aranya aqc channel psk v1")

func hashFor(suite aqc.CipherSuite) func() hash.Hash {
	switch suite {
	case aqc.TLS_AES_256_GCM_SHA384:
		return sha512.New384
	case aqc.TLS_CHACHA20_POLY1305_SHA256:
		return sha256.New
	default:
		return nil
	}
}

// DeriveFamily derives one Psk per suite in suites from secret for the
// bidirectional channel id. Derivation is deterministic: identical inputs
// always yield byte-identical output.
func DeriveFamily(secret aqc.ChannelSecret, id aqc.ChannelId, suites []aqc.CipherSuite) (aqc.PskFamily, error) {
	return deriveDirected(secret, id, suites, aqc.DirectionAny)
}

// DeriveDirectedFamily derives a send-only or receive-only PskFamily for a
// unidirectional channel. The direction byte is mixed into the HKDF info
// so that the send-only and receive-only variants of the same
// (secret, id, suite) are distinct key material (spec §3 direction
// fidelity).
func DeriveDirectedFamily(secret aqc.ChannelSecret, id aqc.ChannelId, suites []aqc.CipherSuite, dir aqc.Direction) (aqc.PskFamily, error) {
	return deriveDirected(secret, id, suites, dir)
}

func deriveDirected(secret aqc.ChannelSecret, id aqc.ChannelId, suites []aqc.CipherSuite, dir aqc.Direction) (aqc.PskFamily, error) {
	family := make(aqc.PskFamily, len(suites))
	for _, suite := range suites {
		newHash := hashFor(suite)
		if newHash == nil {
			// spec §4.2: an unsupported suite is silently skipped unless
			// no suites remain at all.
			continue
		}
		identity := aqc.EncodeIdentity(id, suite, dir)
		r := hkdf.New(newHash, []byte(secret), domainLabel, identity[:])
		secretBytes := make([]byte, suite.HashLen())
		if _, err := io.ReadFull(r, secretBytes); err != nil {
			return nil, &aqc.ErrDeriveFailure{Suite: suite, Err: err}
		}
		family[suite] = aqc.Psk{
			Identity: identity,
			Secret:   aqc.NewPskSecret(secretBytes),
			Suite:    suite,
		}
	}
	if len(family) == 0 {
		return nil, aqc.ErrNoSuites
	}
	return family, nil
}
