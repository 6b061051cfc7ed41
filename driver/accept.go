package driver

import (
	"context"
	"crypto/tls"

	"github.com/quic-go/quic-go"

	aqc "github.com/aranya-project/aqc-go"
	"github.com/aranya-project/aqc-go/internal/channelkey"
	"github.com/aranya-project/aqc-go/internal/ctrl"
	"github.com/aranya-project/aqc-go/internal/handshake"
)

// acceptLoop is the sole caller of the listener's Accept. Per spec §4.5/§5
// the accept-order sequence and the identity-notification sequence must be
// identical in index and content, and a consumer falling behind must pause
// acceptance rather than have an identity dropped or reordered. Both
// properties only hold if accepts are never interleaved: handleConnection
// runs inline, on the accept loop's own goroutine, so the next Accept is
// not issued until the current connection's proof has been verified and
// (for a channel connection) its NotifySelection has been consumed.
func (d *Driver) acceptLoop() {
	defer d.wg.Done()
	ctx := haltContext(d.haltCh)
	for {
		conn, err := d.listener.Accept(ctx)
		if err != nil {
			select {
			case <-d.haltCh:
				return
			default:
				d.log.Warningf("accept loop: %v", err)
				return
			}
		}
		d.handleConnection(conn)
	}
}

// haltContext returns a context that is cancelled when halt is closed, so
// a blocking Accept unblocks promptly during shutdown.
func haltContext(halt <-chan struct{}) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-halt
		cancel()
	}()
	return ctx
}

// handleConnection runs the PSK-proof exchange on conn's first stream and
// routes it to either the inline control exchange (bootstrap identity) or
// the channel-data pairing path (channel identity). It must return only
// after any notification it owes C1 has been consumed, since the caller
// (acceptLoop) does not accept again until handleConnection returns.
func (d *Driver) handleConnection(conn quic.Connection) {
	ctx := context.Background()

	s, err := conn.AcceptStream(ctx)
	if err != nil {
		d.log.Warningf("accept: first stream: %v", err)
		conn.CloseWithError(0, "no first stream")
		return
	}

	frame, err := handshake.Receive(s)
	if err != nil {
		d.log.Warningf("accept: proof frame: %v", err)
		conn.CloseWithError(0, "malformed proof frame")
		return
	}

	_, _, _, isBootstrap, err := aqc.DecodeIdentity(frame.Identity)
	if err != nil {
		d.log.Warningf("accept: %v", err)
		conn.CloseWithError(0, "unrecognised identity")
		return
	}

	exp := exporterOf(conn)

	if isBootstrap {
		d.handleBootstrap(conn, ctrlStream{s}, frame, exp)
		return
	}
	d.handleChannelConn(conn, frame, exp)
}

// exporterOf extracts the TLS exporter from conn's completed handshake.
func exporterOf(conn quic.Connection) *tls.ConnectionState {
	state := conn.ConnectionState().TLS
	return &state
}

// handleBootstrap verifies the dialer's proof against the configured
// bootstrap secret, then runs the one-shot control exchange to
// completion. Bootstrap connections never carry channel data, so the
// connection is closed unconditionally once the exchange (successful or
// not) is done (spec §4 bootstrap isolation).
func (d *Driver) handleBootstrap(conn quic.Connection, s ctrlStream, frame handshake.Frame, exp *tls.ConnectionState) {
	defer conn.CloseWithError(0, "bootstrap exchange complete")

	psk, ok := d.psks.Lookup(frame.Identity)
	if !ok {
		d.log.Warningf("accept: bootstrap connection but no bootstrap secret installed")
		return
	}
	verified, err := handshake.VerifyProof(exp, psk.Secret, frame.Proof)
	if err != nil || !verified {
		d.log.Warningf("accept: bootstrap proof did not verify: %v", err)
		return
	}

	apply := func(env ctrl.Envelope) error {
		info, secret, err := d.daemon.ReceiveAqcCtrl(context.Background(), env.TeamID, aqc.ControlBlob(env.Blob))
		if err != nil {
			return err
		}
		family, err := deriveFamilyFor(secret, info, d.suites)
		if err != nil {
			return err
		}
		// Registration must complete before the Ack goes out (spec §5
		// happens-before property): Receive below only sends the Ack
		// after apply returns.
		if err := d.registry.Register(env.TeamID, info, family); err != nil {
			return err
		}
		return d.psks.LoadFamily(family)
	}

	if err := ctrl.Receive(s, d.newLogger("ctrl"), apply); err != nil {
		d.log.Warningf("accept: control exchange: %v", err)
	}
}

// handleChannelConn resolves a channel-identity proof against the
// registry, verifies it, then hands the connection off to whichever
// caller is waiting in ReceiveChannel/TryReceiveChannel. NotifySelection
// blocks until that handoff is consumed, which is the backpressure
// mechanism pairing every accept with exactly one selection (spec §4.1).
func (d *Driver) handleChannelConn(conn quic.Connection, frame handshake.Frame, exp *tls.ConnectionState) {
	team, resolved, ok := d.registry.ResolveIdentityAnyTeam(frame.Identity)
	if !ok {
		d.log.Warningf("accept: %v", &aqc.NoChannelInfo{Identity: frame.Identity})
		conn.CloseWithError(0, "unknown channel identity")
		return
	}
	psk, ok := d.psks.Lookup(frame.Identity)
	if !ok {
		d.log.Warningf("accept: registry knows identity %s but psk store does not", frame.Identity)
		conn.CloseWithError(0, "unknown channel identity")
		return
	}
	verified, err := handshake.VerifyProof(exp, psk.Secret, frame.Proof)
	if err != nil || !verified {
		d.log.Warningf("accept: channel proof did not verify: %v", err)
		conn.CloseWithError(0, "proof verification failed")
		return
	}
	info, ok := d.registry.Get(team, resolved.ChannelId)
	if !ok {
		d.log.Warningf("accept: %v", &aqc.NoChannelInfo{Identity: frame.Identity})
		conn.CloseWithError(0, "unknown channel identity")
		return
	}

	d.pendingMu.Lock()
	d.pending[frame.Identity] = pendingAccept{conn: conn, info: info}
	d.pendingMu.Unlock()

	d.psks.NotifySelection(frame.Identity)
}

// deriveFamilyFor derives the PskFamily a ChannelInfo's direction calls
// for: the symmetric form for a bidirectional channel, the direction-
// tagged form for a unidirectional one.
func deriveFamilyFor(secret aqc.ChannelSecret, info aqc.ChannelInfo, suites []aqc.CipherSuite) (aqc.PskFamily, error) {
	if info.ChannelId.Kind == aqc.ChannelUni {
		return channelkey.DeriveDirectedFamily(secret, info.ChannelId, suites, info.Direction)
	}
	return channelkey.DeriveFamily(secret, info.ChannelId, suites)
}
