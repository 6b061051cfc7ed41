package pskstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aqc "github.com/aranya-project/aqc-go"
)

func testPsk(b byte, secret []byte) aqc.Psk {
	var chanID [32]byte
	chanID[0] = b
	id := aqc.ChannelId{Kind: aqc.ChannelBidi, ID: chanID}
	identity := aqc.EncodeIdentity(id, aqc.TLS_AES_256_GCM_SHA384, aqc.DirectionAny)
	return aqc.Psk{Identity: identity, Secret: aqc.NewPskSecret(secret), Suite: aqc.TLS_AES_256_GCM_SHA384}
}

func TestInsertIsIdempotentOnIdenticalPair(t *testing.T) {
	s := New()
	p := testPsk(1, []byte("secret-a"))
	require.NoError(t, s.Insert(p))
	require.NoError(t, s.Insert(p))
	got, ok := s.Lookup(p.Identity)
	require.True(t, ok)
	assert.Equal(t, p.Secret.Bytes(), got.Secret.Bytes())
}

func TestInsertConflictOnDifferentSecret(t *testing.T) {
	s := New()
	p := testPsk(1, []byte("secret-a"))
	require.NoError(t, s.Insert(p))

	p2 := p
	p2.Secret = aqc.NewPskSecret([]byte("secret-b"))
	err := s.Insert(p2)
	require.Error(t, err)
	var conflict *aqc.PskConflict
	assert.ErrorAs(t, err, &conflict)
}

func TestRemoveAbsentIsNoop(t *testing.T) {
	s := New()
	p := testPsk(1, []byte("secret-a"))
	s.Remove(p.Identity) // must not panic
	_, ok := s.Lookup(p.Identity)
	assert.False(t, ok)
}

func TestLoadFamilyThenDropFamilyRemovesOnlyThatChannel(t *testing.T) {
	s := New()

	var id1, id2 [32]byte
	id1[0], id2[0] = 1, 2
	chan1 := aqc.ChannelId{Kind: aqc.ChannelBidi, ID: id1}
	chan2 := aqc.ChannelId{Kind: aqc.ChannelBidi, ID: id2}

	fam1 := aqc.PskFamily{
		aqc.TLS_AES_256_GCM_SHA384:       {Identity: aqc.EncodeIdentity(chan1, aqc.TLS_AES_256_GCM_SHA384, aqc.DirectionAny), Secret: aqc.NewPskSecret([]byte("a1")), Suite: aqc.TLS_AES_256_GCM_SHA384},
		aqc.TLS_CHACHA20_POLY1305_SHA256: {Identity: aqc.EncodeIdentity(chan1, aqc.TLS_CHACHA20_POLY1305_SHA256, aqc.DirectionAny), Secret: aqc.NewPskSecret([]byte("a2")), Suite: aqc.TLS_CHACHA20_POLY1305_SHA256},
	}
	fam2 := aqc.PskFamily{
		aqc.TLS_AES_256_GCM_SHA384: {Identity: aqc.EncodeIdentity(chan2, aqc.TLS_AES_256_GCM_SHA384, aqc.DirectionAny), Secret: aqc.NewPskSecret([]byte("b1")), Suite: aqc.TLS_AES_256_GCM_SHA384},
	}

	require.NoError(t, s.LoadFamily(fam1))
	require.NoError(t, s.LoadFamily(fam2))

	for _, psk := range fam1 {
		_, ok := s.Lookup(psk.Identity)
		assert.True(t, ok)
	}

	s.DropFamily(chan1)

	for _, psk := range fam1 {
		_, ok := s.Lookup(psk.Identity)
		assert.False(t, ok, "identity from dropped family should be gone")
	}
	for _, psk := range fam2 {
		_, ok := s.Lookup(psk.Identity)
		assert.True(t, ok, "identity from other family must survive")
	}
}

func TestSetClientKeyLatchIsReusedUntilOverwritten(t *testing.T) {
	s := New()
	p1 := testPsk(1, []byte("one"))
	p2 := testPsk(2, []byte("two"))

	s.SetClientKey(p1)
	got, ok := s.ClientKey()
	require.True(t, ok)
	assert.Equal(t, p1.Identity, got.Identity)

	// Reading again without a new SetClientKey reuses the latched value.
	got2, ok := s.ClientKey()
	require.True(t, ok)
	assert.Equal(t, p1.Identity, got2.Identity)

	s.SetClientKey(p2)
	got3, ok := s.ClientKey()
	require.True(t, ok)
	assert.Equal(t, p2.Identity, got3.Identity)
}

func TestNotifySelectionPairsWithNextSelection(t *testing.T) {
	s := New()
	p := testPsk(1, nil)

	done := make(chan struct{})
	go func() {
		s.NotifySelection(p.Identity)
		close(done)
	}()

	stop := make(chan struct{})
	got, ok := s.NextSelection(stop)
	require.True(t, ok)
	assert.Equal(t, p.Identity, got)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NotifySelection did not unblock after being consumed")
	}
}

func TestNextSelectionUnblocksOnStop(t *testing.T) {
	s := New()
	stop := make(chan struct{})
	close(stop)
	_, ok := s.NextSelection(stop)
	assert.False(t, ok)
}

func TestTryNextSelectionIsNonBlockingWhenEmpty(t *testing.T) {
	s := New()
	_, ok := s.TryNextSelection()
	assert.False(t, ok)
}

func TestTryNextSelectionReturnsQueuedNotification(t *testing.T) {
	s := New()
	p := testPsk(1, nil)

	go s.NotifySelection(p.Identity)

	var got aqc.PskIdentity
	var ok bool
	require.Eventually(t, func() bool {
		got, ok = s.TryNextSelection()
		return ok
	}, time.Second, time.Millisecond)
	assert.Equal(t, p.Identity, got)
}
