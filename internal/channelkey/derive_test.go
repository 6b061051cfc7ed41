package channelkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aqc "github.com/aranya-project/aqc-go"
)

func testChannelID() aqc.ChannelId {
	var id [32]byte
	id[0] = 0x42
	return aqc.ChannelId{Kind: aqc.ChannelBidi, ID: id}
}

func TestDeriveFamilyIsDeterministic(t *testing.T) {
	secret := aqc.ChannelSecret("authorised channel secret")
	id := testChannelID()

	fam1, err := DeriveFamily(secret, id, aqc.SupportedSuites)
	require.NoError(t, err)
	fam2, err := DeriveFamily(secret, id, aqc.SupportedSuites)
	require.NoError(t, err)

	require.Equal(t, len(fam1), len(fam2))
	for suite, psk1 := range fam1 {
		psk2, ok := fam2[suite]
		require.True(t, ok)
		assert.Equal(t, psk1.Identity, psk2.Identity)
		assert.Equal(t, psk1.Secret.Bytes(), psk2.Secret.Bytes())
	}
}

func TestDeriveFamilyProducesOnePskPerSuite(t *testing.T) {
	secret := aqc.ChannelSecret("another secret")
	id := testChannelID()

	fam, err := DeriveFamily(secret, id, aqc.SupportedSuites)
	require.NoError(t, err)
	require.Len(t, fam, len(aqc.SupportedSuites))

	for _, suite := range aqc.SupportedSuites {
		psk, ok := fam[suite]
		require.True(t, ok)
		assert.Equal(t, suite.HashLen(), psk.Secret.Len())
		decodedID, decodedSuite, dir, isBootstrap, err := aqc.DecodeIdentity(psk.Identity)
		require.NoError(t, err)
		assert.False(t, isBootstrap)
		assert.Equal(t, id, decodedID)
		assert.Equal(t, suite, decodedSuite)
		assert.Equal(t, aqc.DirectionAny, dir)
	}
}

func TestDeriveFamilyDifferentSecretsYieldDifferentSecrets(t *testing.T) {
	id := testChannelID()
	fam1, err := DeriveFamily(aqc.ChannelSecret("secret one"), id, aqc.SupportedSuites)
	require.NoError(t, err)
	fam2, err := DeriveFamily(aqc.ChannelSecret("secret two"), id, aqc.SupportedSuites)
	require.NoError(t, err)

	for suite, psk1 := range fam1 {
		psk2 := fam2[suite]
		assert.Equal(t, psk1.Identity, psk2.Identity, "identity only encodes id/suite/direction, not the secret")
		assert.NotEqual(t, psk1.Secret.Bytes(), psk2.Secret.Bytes())
	}
}

func TestDeriveDirectedFamilySendAndRecvDifferInIdentityAndSecret(t *testing.T) {
	secret := aqc.ChannelSecret("uni channel secret")
	id := aqc.ChannelId{Kind: aqc.ChannelUni, ID: testChannelID().ID}

	sendFam, err := DeriveDirectedFamily(secret, id, aqc.SupportedSuites, aqc.DirectionSend)
	require.NoError(t, err)
	recvFam, err := DeriveDirectedFamily(secret, id, aqc.SupportedSuites, aqc.DirectionRecv)
	require.NoError(t, err)

	for _, suite := range aqc.SupportedSuites {
		sendPsk := sendFam[suite]
		recvPsk := recvFam[suite]
		assert.NotEqual(t, sendPsk.Identity, recvPsk.Identity, "direction byte is part of the identity")
		assert.NotEqual(t, sendPsk.Secret.Bytes(), recvPsk.Secret.Bytes(), "direction fidelity: raw secret bytes differ")
	}
}

func TestDeriveFamilyNoSuitesIsFatal(t *testing.T) {
	_, err := DeriveFamily(aqc.ChannelSecret("x"), testChannelID(), nil)
	assert.ErrorIs(t, err, aqc.ErrNoSuites)
}

func TestDeriveFamilySkipsUnsupportedSuiteButSucceedsIfOthersRemain(t *testing.T) {
	suites := append([]aqc.CipherSuite{0xFFFF}, aqc.SupportedSuites...)
	fam, err := DeriveFamily(aqc.ChannelSecret("x"), testChannelID(), suites)
	require.NoError(t, err)
	assert.Len(t, fam, len(aqc.SupportedSuites))
}
