package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aqc "github.com/aranya-project/aqc-go"
	"github.com/aranya-project/aqc-go/internal/pskstore"
)

func testTeam(b byte) aqc.TeamId {
	var t aqc.TeamId
	t[0] = b
	return t
}

func testChannelInfoAndFamily(b byte) (aqc.ChannelInfo, aqc.PskFamily) {
	var chanRaw, labelRaw, peerRaw [32]byte
	chanRaw[0], labelRaw[0], peerRaw[0] = b, b, b
	id := aqc.ChannelId{Kind: aqc.ChannelBidi, ID: chanRaw}
	info := aqc.ChannelInfo{
		ChannelId:    id,
		LabelId:      aqc.LabelId(labelRaw),
		PeerDeviceId: aqc.DeviceId(peerRaw),
		Direction:    aqc.DirectionAny,
		Status:       aqc.StatusActive,
	}
	family := aqc.PskFamily{
		aqc.TLS_AES_256_GCM_SHA384: {
			Identity: aqc.EncodeIdentity(id, aqc.TLS_AES_256_GCM_SHA384, aqc.DirectionAny),
			Secret:   aqc.NewPskSecret([]byte{b}),
			Suite:    aqc.TLS_AES_256_GCM_SHA384,
		},
	}
	return info, family
}

func TestRegisterThenResolveIdentity(t *testing.T) {
	r := New(pskstore.New())
	team := testTeam(1)
	info, fam := testChannelInfoAndFamily(7)

	require.NoError(t, r.Register(team, info, fam))

	for _, psk := range fam {
		res, ok := r.ResolveIdentity(team, psk.Identity)
		require.True(t, ok)
		assert.Equal(t, info.ChannelId, res.ChannelId)
		assert.Equal(t, info.LabelId, res.LabelId)
	}
}

func TestRegisterDuplicateChannelFails(t *testing.T) {
	r := New(pskstore.New())
	team := testTeam(1)
	info, fam := testChannelInfoAndFamily(7)

	require.NoError(t, r.Register(team, info, fam))
	err := r.Register(team, info, fam)
	assert.ErrorIs(t, err, aqc.ErrDuplicateChannel)
}

func TestListReturnsSnapshot(t *testing.T) {
	r := New(pskstore.New())
	team := testTeam(1)
	info1, fam1 := testChannelInfoAndFamily(1)
	info2, fam2 := testChannelInfoAndFamily(2)

	require.NoError(t, r.Register(team, info1, fam1))
	require.NoError(t, r.Register(team, info2, fam2))

	list := r.List(team)
	assert.Len(t, list, 2)
}

func TestGetReturnsRegisteredChannelInfo(t *testing.T) {
	r := New(pskstore.New())
	team := testTeam(1)
	info, fam := testChannelInfoAndFamily(4)
	require.NoError(t, r.Register(team, info, fam))

	got, ok := r.Get(team, info.ChannelId)
	require.True(t, ok)
	assert.Equal(t, info, got)

	_, ok = r.Get(team, aqc.ChannelId{Kind: aqc.ChannelBidi, ID: [32]byte{9}})
	assert.False(t, ok)
}

func TestDeleteIsIdempotentAndRemovesIdentityIndex(t *testing.T) {
	store := pskstore.New()
	r := New(store)
	team := testTeam(1)
	info, fam := testChannelInfoAndFamily(3)
	require.NoError(t, store.LoadFamily(fam))
	require.NoError(t, r.Register(team, info, fam))

	r.Delete(team, info.ChannelId)
	assert.Empty(t, r.List(team))
	for _, psk := range fam {
		_, ok := r.ResolveIdentity(team, psk.Identity)
		assert.False(t, ok)
		_, ok = store.Lookup(psk.Identity)
		assert.False(t, ok, "deleting a channel must drop its family from the PSK store")
	}

	// Idempotent: deleting again must not panic and must be a no-op.
	r.Delete(team, info.ChannelId)
	assert.Empty(t, r.List(team))
}

func TestDeleteOfUnknownChannelIsNoop(t *testing.T) {
	r := New(pskstore.New())
	team := testTeam(1)
	var unknown aqc.ChannelId
	r.Delete(team, unknown) // must not panic
	assert.Empty(t, r.List(team))
}

func TestPeerDirectoryRoundTrip(t *testing.T) {
	r := New(pskstore.New())
	team := testTeam(1)
	var device aqc.DeviceId
	device[0] = 9

	r.RegisterPeer(team, "alice", device)
	got, ok := r.ResolvePeer(team, "alice")
	require.True(t, ok)
	assert.Equal(t, device, got)

	r.RemovePeer(team, device)
	_, ok = r.ResolvePeer(team, "alice")
	assert.False(t, ok)
}

func TestResolveIdentityAnyTeamFindsCorrectTeam(t *testing.T) {
	r := New(pskstore.New())
	teamA, teamB := testTeam(1), testTeam(2)
	infoA, famA := testChannelInfoAndFamily(5)
	require.NoError(t, r.Register(teamA, infoA, famA))

	for _, psk := range famA {
		foundTeam, res, ok := r.ResolveIdentityAnyTeam(psk.Identity)
		require.True(t, ok)
		assert.Equal(t, teamA, foundTeam)
		assert.Equal(t, infoA.ChannelId, res.ChannelId)
	}

	var unknown aqc.PskIdentity
	_, _, ok := r.ResolveIdentityAnyTeam(unknown)
	assert.False(t, ok)
	_ = teamB
}
