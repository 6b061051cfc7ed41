// Package pskstore implements C1: the in-memory, keyed-by-identity PSK
// store that feeds both the client and server roles of the endpoint
// driver's TLS layer. It is adapted from the teacher's ephemeral,
// refcounted mix-key type (internal/mixkey in the teacher repo), re-keyed
// from an epoch to a PskIdentity and with the on-disk persistence removed
// (spec §1 non-goals: PSKs are never persisted).
package pskstore

import (
	"bytes"
	"sync"

	"github.com/eapache/channels"

	aqc "github.com/aranya-project/aqc-go"
)

// Store is the runtime-mutable PSK provider of spec §4.1. All mutating
// operations are serialised under a single mutex whose critical sections
// are O(family size); only Insert and LoadFamily are fallible.
type Store struct {
	mu          sync.Mutex
	byID        map[aqc.PskIdentity]aqc.Psk
	clientLatch *aqc.Psk

	// selections delivers each identity the server role selected for an
	// accepted connection, in accept order. It is unbuffered: a slow
	// consumer blocks the producer rather than losing an identity, which
	// is what forces the endpoint driver's accept loop to pause instead
	// of racing ahead (spec §4.1, §5).
	selections channels.Channel
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		byID:       make(map[aqc.PskIdentity]aqc.Psk),
		selections: channels.NewNativeChannel(0),
	}
}

// Insert adds a PSK keyed by its identity. Idempotent if the identity is
// already present with the same secret; fails with *aqc.PskConflict if the
// identity is present with a different secret.
func (s *Store) Insert(psk aqc.Psk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(psk)
}

func (s *Store) insertLocked(psk aqc.Psk) error {
	existing, ok := s.byID[psk.Identity]
	if ok {
		if !bytes.Equal(existing.Secret.Bytes(), psk.Secret.Bytes()) {
			return &aqc.PskConflict{Identity: psk.Identity}
		}
		return nil
	}
	s.byID[psk.Identity] = psk
	return nil
}

// Remove deletes the PSK for identity, if present. No error if absent.
func (s *Store) Remove(identity aqc.PskIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, identity)
}

// Lookup returns the PSK for identity, for use by the server-role
// handshake verifier.
func (s *Store) Lookup(identity aqc.PskIdentity) (aqc.Psk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	psk, ok := s.byID[identity]
	return psk, ok
}

// LoadFamily atomically inserts every member of family. If any member
// conflicts with an existing entry, no member of family is inserted.
func (s *Store) LoadFamily(family aqc.PskFamily) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, psk := range family {
		if existing, ok := s.byID[psk.Identity]; ok && !bytes.Equal(existing.Secret.Bytes(), psk.Secret.Bytes()) {
			return &aqc.PskConflict{Identity: psk.Identity}
		}
	}
	for _, psk := range family {
		s.byID[psk.Identity] = psk
	}
	return nil
}

// DropFamily atomically removes every PSK whose identity encodes
// channelID, regardless of suite or direction, zeroing each removed secret.
func (s *Store) DropFamily(channelID aqc.ChannelId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for identity, psk := range s.byID {
		id, _, _, isBootstrap, err := aqc.DecodeIdentity(identity)
		if err != nil || isBootstrap {
			continue
		}
		if id == channelID {
			psk.Secret.Zero()
			delete(s.byID, identity)
		}
	}
}

// SetClientKey designates the single PSK the client role offers on its
// next outgoing handshake. ClientKey reads the latch without clearing it,
// so calls to ClientKey without an intervening SetClientKey return the
// same latched value.
func (s *Store) SetClientKey(psk aqc.Psk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := psk
	s.clientLatch = &cp
}

// ClientKey returns the currently latched client PSK, if any.
func (s *Store) ClientKey() (aqc.Psk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clientLatch == nil {
		return aqc.Psk{}, false
	}
	return *s.clientLatch, true
}

// NotifySelection records that the server role selected identity for an
// accepted connection. It blocks until a consumer (NextSelection or
// TryNextSelection, called by the endpoint driver's receive side) takes
// identity, which is the mechanism that makes the accept loop pause
// instead of dropping a notification (spec §4.1).
func (s *Store) NotifySelection(identity aqc.PskIdentity) {
	s.selections.In() <- identity
}

// NextSelection blocks until the next server-role selection notification
// is available, or the supplied stop channel is closed.
func (s *Store) NextSelection(stop <-chan struct{}) (aqc.PskIdentity, bool) {
	select {
	case v, ok := <-s.selections.Out():
		if !ok {
			return aqc.PskIdentity{}, false
		}
		return v.(aqc.PskIdentity), true
	case <-stop:
		return aqc.PskIdentity{}, false
	}
}

// TryNextSelection is the non-blocking counterpart to NextSelection, used
// by the endpoint driver's non-blocking receive variant
// (aranya-client/src/aqc/net.rs's try_receive_channel).
func (s *Store) TryNextSelection() (aqc.PskIdentity, bool) {
	select {
	case v, ok := <-s.selections.Out():
		if !ok {
			return aqc.PskIdentity{}, false
		}
		return v.(aqc.PskIdentity), true
	default:
		return aqc.PskIdentity{}, false
	}
}

// Close releases the notification channel. Safe to call once during
// driver shutdown.
func (s *Store) Close() {
	s.selections.Close()
}
