// Package registry implements C4: the per-team mapping from ChannelId to
// ChannelInfo and from PskIdentity to the channel that currently owns it.
// It is adapted from the teacher's pki.go, which keeps one authoritative
// map (epoch -> document) alongside derived index maps (incoming/outgoing
// peer sets) under a single RWMutex; here the authoritative map is
// channel id -> info, and the derived index is psk identity -> channel.
package registry

import (
	"sync"

	"github.com/aranya-project/aqc-go"
	"github.com/aranya-project/aqc-go/internal/pskstore"
)

// Resolved is what ResolveIdentity returns: enough to route an accepted
// connection to the right channel object.
type Resolved struct {
	ChannelId aqc.ChannelId
	LabelId   aqc.LabelId
}

type teamState struct {
	byChannel  map[aqc.ChannelId]aqc.ChannelInfo
	byIdentity map[aqc.PskIdentity]Resolved
	peers      map[string]aqc.DeviceId // net identifier -> device id
	peersRev   map[aqc.DeviceId]string // device id -> net identifier
}

func newTeamState() *teamState {
	return &teamState{
		byChannel:  make(map[aqc.ChannelId]aqc.ChannelInfo),
		byIdentity: make(map[aqc.PskIdentity]Resolved),
		peers:      make(map[string]aqc.DeviceId),
		peersRev:   make(map[aqc.DeviceId]string),
	}
}

// Registry is the process-wide, per-team channel registry.
type Registry struct {
	mu    sync.Mutex
	teams map[aqc.TeamId]*teamState
	psks  *pskstore.Store
}

// New returns an empty Registry. psks is the C1 store whose families this
// registry's Delete drops on channel close (spec §4.4 lifecycle).
func New(psks *pskstore.Store) *Registry {
	return &Registry{
		teams: make(map[aqc.TeamId]*teamState),
		psks:  psks,
	}
}

func (r *Registry) teamLocked(team aqc.TeamId) *teamState {
	t, ok := r.teams[team]
	if !ok {
		t = newTeamState()
		r.teams[team] = t
	}
	return t
}

// Register inserts info under its ChannelId and indexes every identity in
// family by ChannelId/LabelId. It fails with aqc.ErrDuplicateChannel if the
// ChannelId is already registered.
//
// Per spec §4.4's ordering requirement, the caller must complete this call
// (which happens-before the corresponding control Ack is sent) before a
// peer can possibly dial the new identity.
func (r *Registry) Register(team aqc.TeamId, info aqc.ChannelInfo, family aqc.PskFamily) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.teamLocked(team)
	if _, exists := t.byChannel[info.ChannelId]; exists {
		return aqc.ErrDuplicateChannel
	}
	t.byChannel[info.ChannelId] = info
	for _, psk := range family {
		t.byIdentity[psk.Identity] = Resolved{ChannelId: info.ChannelId, LabelId: info.LabelId}
	}
	return nil
}

// ResolveIdentity looks up the channel/label owning identity within team.
func (r *Registry) ResolveIdentity(team aqc.TeamId, identity aqc.PskIdentity) (Resolved, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teams[team]
	if !ok {
		return Resolved{}, false
	}
	res, ok := t.byIdentity[identity]
	return res, ok
}

// ResolveIdentityAnyTeam is used by the endpoint driver's accept loop,
// which learns the selected identity before it knows which team the
// connection belongs to.
func (r *Registry) ResolveIdentityAnyTeam(identity aqc.PskIdentity) (aqc.TeamId, Resolved, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for team, t := range r.teams {
		if res, ok := t.byIdentity[identity]; ok {
			return team, res, true
		}
	}
	return aqc.TeamId{}, Resolved{}, false
}

// Get returns the ChannelInfo registered for channelID within team.
func (r *Registry) Get(team aqc.TeamId, channelID aqc.ChannelId) (aqc.ChannelInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teams[team]
	if !ok {
		return aqc.ChannelInfo{}, false
	}
	info, ok := t.byChannel[channelID]
	return info, ok
}

// List returns a snapshot of every ChannelInfo registered for team.
func (r *Registry) List(team aqc.TeamId) []aqc.ChannelInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teams[team]
	if !ok {
		return nil
	}
	out := make([]aqc.ChannelInfo, 0, len(t.byChannel))
	for _, info := range t.byChannel {
		out = append(out, info)
	}
	return out
}

// Delete transitions the channel to Closing, drops its PskFamily from the
// PSK store, removes its identity index entries, then removes the
// ChannelInfo entirely. Idempotent: deleting an unknown channel is a no-op.
//
// spec §5 requires drop_family to happen-before the Closed status is
// observable via List; since both occur under this call's single
// critical section before the ChannelInfo is removed (and thus before any
// concurrent List can observe it at all), that ordering holds trivially.
func (r *Registry) Delete(team aqc.TeamId, channelID aqc.ChannelId) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.teams[team]
	if !ok {
		return
	}
	info, ok := t.byChannel[channelID]
	if !ok {
		return
	}
	info.Status = aqc.StatusClosing
	t.byChannel[channelID] = info

	if r.psks != nil {
		r.psks.DropFamily(channelID)
	}
	for identity, res := range t.byIdentity {
		if res.ChannelId == channelID {
			delete(t.byIdentity, identity)
		}
	}

	delete(t.byChannel, channelID)
}

// RegisterPeer records the NetIdentifier <-> DeviceId mapping for team,
// supplementing the distilled spec with the peer directory
// aranya-daemon/src/aqc.rs keeps (add_peer/find_device_id/remove_peer).
func (r *Registry) RegisterPeer(team aqc.TeamId, netID string, device aqc.DeviceId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.teamLocked(team)
	if old, ok := t.peersRev[device]; ok {
		delete(t.peers, old)
	}
	t.peers[netID] = device
	t.peersRev[device] = netID
}

// ResolvePeer finds the DeviceId registered for netID within team.
func (r *Registry) ResolvePeer(team aqc.TeamId, netID string) (aqc.DeviceId, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teams[team]
	if !ok {
		return aqc.DeviceId{}, false
	}
	d, ok := t.peers[netID]
	return d, ok
}

// RemovePeer removes device's peer directory entry for team.
func (r *Registry) RemovePeer(team aqc.TeamId, device aqc.DeviceId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teams[team]
	if !ok {
		return
	}
	if netID, ok := t.peersRev[device]; ok {
		delete(t.peers, netID)
		delete(t.peersRev, device)
	}
}
