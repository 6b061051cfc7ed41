package driver

import (
	"context"
	"fmt"

	"github.com/quic-go/quic-go"

	aqc "github.com/aranya-project/aqc-go"
	"github.com/aranya-project/aqc-go/internal/channelkey"
	"github.com/aranya-project/aqc-go/internal/ctrl"
	"github.com/aranya-project/aqc-go/internal/handshake"
	"github.com/aranya-project/aqc-go/stream"
)

// CreateBidiChannel asks the policy engine to author a bidirectional
// channel to the device registered under peerNetID at peerAddr under
// label, ships the resulting control blob over a bootstrap connection,
// and dials the data connection the returned Channel rides on (spec §5
// Dial: create_bidi followed by a second, channel-identity-keyed
// connection). peerNetID is resolved to a DeviceId via the team's peer
// directory (supplemented feature) before C7 is called.
func (d *Driver) CreateBidiChannel(ctx context.Context, team aqc.TeamId, peerAddr string, peerNetID string, label aqc.LabelId) (*stream.Channel, error) {
	peer, err := d.resolvePeer(ctx, team, peerNetID)
	if err != nil {
		return nil, err
	}
	blob, chanID, secret, err := d.daemon.CreateBidiChannel(ctx, team, peer, label)
	if err != nil {
		return nil, err
	}
	info := aqc.ChannelInfo{
		ChannelId:    chanID,
		LabelId:      label,
		PeerDeviceId: peer,
		Direction:    aqc.DirectionAny,
		Status:       aqc.StatusActive,
	}
	family, err := channelkey.DeriveFamily(secret, chanID, d.suites)
	if err != nil {
		return nil, err
	}
	return d.establishChannel(ctx, peerAddr, team, blob, info, family)
}

// CreateUniChannel is CreateBidiChannel's unidirectional counterpart: the
// local end is restricted to dir, and the derived PskFamily mixes dir
// into its HKDF info so it is distinct key material from the bidi/other-
// direction variants of the same channel (spec §3 direction fidelity).
// peerNetID is resolved the same way as in CreateBidiChannel.
func (d *Driver) CreateUniChannel(ctx context.Context, team aqc.TeamId, peerAddr string, peerNetID string, label aqc.LabelId, dir aqc.Direction) (*stream.Channel, error) {
	peer, err := d.resolvePeer(ctx, team, peerNetID)
	if err != nil {
		return nil, err
	}
	blob, chanID, secret, err := d.daemon.CreateUniChannel(ctx, team, peer, label, dir)
	if err != nil {
		return nil, err
	}
	info := aqc.ChannelInfo{
		ChannelId:    chanID,
		LabelId:      label,
		PeerDeviceId: peer,
		Direction:    dir,
		Status:       aqc.StatusActive,
	}
	family, err := channelkey.DeriveDirectedFamily(secret, chanID, d.suites, dir)
	if err != nil {
		return nil, err
	}
	return d.establishChannel(ctx, peerAddr, team, blob, info, family)
}

// resolvePeer turns a human-meaningful net identifier into the DeviceId
// C7 expects, consulting the team's peer directory first and falling back
// to the daemon's find_device_id; a successful fallback is cached back
// into the directory so later calls for the same peerNetID stay local
// (supplemented feature: aranya-daemon/src/aqc.rs's add_peer/find_device_id).
func (d *Driver) resolvePeer(ctx context.Context, team aqc.TeamId, peerNetID string) (aqc.DeviceId, error) {
	if device, ok := d.registry.ResolvePeer(team, peerNetID); ok {
		return device, nil
	}
	device, found, err := d.daemon.FindDeviceID(ctx, team, peerNetID)
	if err != nil {
		return aqc.DeviceId{}, err
	}
	if !found {
		return aqc.DeviceId{}, &aqc.PolicyDenied{Call: "resolve_peer", Reason: fmt.Sprintf("no device registered for %q", peerNetID)}
	}
	d.registry.RegisterPeer(team, peerNetID, device)
	return device, nil
}

// establishChannel runs the shared tail of both Create*Channel calls:
// ship the control blob, register the channel locally only once the peer
// has acked it, then dial the actual data connection.
func (d *Driver) establishChannel(ctx context.Context, peerAddr string, team aqc.TeamId, blob aqc.ControlBlob, info aqc.ChannelInfo, family aqc.PskFamily) (*stream.Channel, error) {
	if err := d.sendCtrl(ctx, peerAddr, team, blob); err != nil {
		return nil, err
	}

	if err := d.registry.Register(team, info, family); err != nil {
		return nil, err
	}
	if err := d.psks.LoadFamily(family); err != nil {
		return nil, err
	}

	conn, err := d.dialChannel(ctx, peerAddr, family)
	if err != nil {
		return nil, err
	}
	return stream.New(info, conn), nil
}

// sendCtrl is the dial-only half of C3: latch the bootstrap PSK, dial, run
// the control sender over the first stream, close (spec §5 send_ctrl).
func (d *Driver) sendCtrl(ctx context.Context, peerAddr string, team aqc.TeamId, blob aqc.ControlBlob) error {
	bootPsk, ok := d.psks.Lookup(aqc.BootstrapIdentity())
	if !ok {
		return fmt.Errorf("driver: no bootstrap psk installed")
	}
	d.psks.SetClientKey(bootPsk)

	conn, err := quic.DialAddr(ctx, peerAddr, d.tlsConf, d.quicConf)
	if err != nil {
		return &aqc.QuicIo{Op: "send_ctrl: dial", Err: err}
	}
	defer conn.CloseWithError(0, "bootstrap exchange complete")

	s, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return &aqc.QuicIo{Op: "send_ctrl: open stream", Err: err}
	}
	if err := handshake.Send(s, exporterOf(conn), bootPsk.Identity, bootPsk.Secret); err != nil {
		return err
	}
	return ctrl.Send(ctrlStream{s}, ctrl.Envelope{TeamID: team, Blob: blob})
}

// dialChannel latches the client key to one member of family (any
// member: the server matches by bytes, not by which suite was chosen —
// spec §5 create_bidi), dials a fresh connection with keep-alive enabled,
// and proves possession of that identity's secret over its first stream.
func (d *Driver) dialChannel(ctx context.Context, peerAddr string, family aqc.PskFamily) (quic.Connection, error) {
	var chosen aqc.Psk
	for _, p := range family {
		chosen = p
		break
	}
	d.psks.SetClientKey(chosen)

	conf := *d.quicConf
	conf.KeepAlivePeriod = conf.MaxIdleTimeout / 2
	conn, err := quic.DialAddr(ctx, peerAddr, d.tlsConf, &conf)
	if err != nil {
		return nil, &aqc.QuicIo{Op: "dial_channel", Err: err}
	}

	s, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "no first stream")
		return nil, &aqc.QuicIo{Op: "dial_channel: open stream", Err: err}
	}
	if err := handshake.Send(s, exporterOf(conn), chosen.Identity, chosen.Secret); err != nil {
		conn.CloseWithError(0, "handshake failed")
		return nil, err
	}
	if err := s.Close(); err != nil {
		conn.CloseWithError(0, "handshake stream close failed")
		return nil, &aqc.QuicIo{Op: "dial_channel: close proof stream", Err: err}
	}
	return conn, nil
}

// ReceiveChannel blocks until the accept loop pairs an incoming
// connection's verified channel identity with this call, or ctx is
// cancelled first.
func (d *Driver) ReceiveChannel(ctx context.Context) (*stream.Channel, error) {
	stop := make(chan struct{})
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			close(stop)
		case <-done:
		}
	}()

	identity, ok := d.psks.NextSelection(stop)
	if !ok {
		select {
		case <-ctx.Done():
			return nil, &aqc.Cancelled{Op: "receive_channel"}
		default:
			return nil, &aqc.QuicIo{Op: "receive_channel", Err: fmt.Errorf("driver is shut down")}
		}
	}
	return d.takePending(identity)
}

// TryReceiveChannel is ReceiveChannel's non-blocking counterpart (spec
// §6 supplemented try_receive_channel): it reports ok=false immediately
// if no accepted connection is currently waiting to be paired.
func (d *Driver) TryReceiveChannel() (*stream.Channel, bool, error) {
	identity, ok := d.psks.TryNextSelection()
	if !ok {
		return nil, false, nil
	}
	ch, err := d.takePending(identity)
	if err != nil {
		return nil, false, err
	}
	return ch, true, nil
}

func (d *Driver) takePending(identity aqc.PskIdentity) (*stream.Channel, error) {
	d.pendingMu.Lock()
	pa, ok := d.pending[identity]
	if ok {
		delete(d.pending, identity)
	}
	d.pendingMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("driver: no pending connection for selected identity %s", identity)
	}
	return stream.New(pa.info, pa.conn), nil
}

// DeleteChannel tears down channelID: informs the daemon, then drops the
// channel's registry entry (which itself drops its PskFamily from the
// PSK store — spec §4.4 lifecycle).
func (d *Driver) DeleteChannel(ctx context.Context, team aqc.TeamId, channelID aqc.ChannelId) error {
	if err := d.daemon.DeleteChannel(ctx, team, channelID); err != nil {
		return err
	}
	d.registry.Delete(team, channelID)
	return nil
}

// ForgetPeer drops device's peer-directory entry for team, so a later
// CreateBidiChannel/CreateUniChannel call for its old net identifier falls
// back to the daemon's find_device_id instead of reusing a stale mapping
// (supplemented feature, mirrors aranya-daemon/src/aqc.rs's remove_peer).
func (d *Driver) ForgetPeer(team aqc.TeamId, device aqc.DeviceId) {
	d.registry.RemovePeer(team, device)
}
