package daemon

import (
	"context"

	aqc "github.com/aranya-project/aqc-go"
)

// Per DESIGN.md's "C2 input reconciliation" note, every channel-creating
// call here returns the raw ChannelSecret rather than a derived PskFamily:
// PSK derivation (C2) is this repository's responsibility, not the
// daemon's, matching spec.md §4.2's component table over how
// aranya-daemon/src/aqc.rs happens to split the work today.

type createBidiParams struct {
	Team  aqc.TeamId
	Peer  aqc.DeviceId
	Label aqc.LabelId
}

type createBidiResult struct {
	Blob      aqc.ControlBlob
	ChannelID aqc.ChannelId
	Secret    aqc.ChannelSecret
}

// CreateBidiChannel asks the daemon's policy engine to mint a bidirectional
// channel to peer under label, returning the control blob to send to the
// peer and the raw secret C2 derives PSKs from.
func (c *Client) CreateBidiChannel(ctx context.Context, team aqc.TeamId, peer aqc.DeviceId, label aqc.LabelId) (aqc.ControlBlob, aqc.ChannelId, aqc.ChannelSecret, error) {
	var res createBidiResult
	err := c.call(ctx, methodCreateBidi, createBidiParams{Team: team, Peer: peer, Label: label}, &res)
	if err != nil {
		return nil, aqc.ChannelId{}, nil, err
	}
	return res.Blob, res.ChannelID, res.Secret, nil
}

type createUniParams struct {
	Team      aqc.TeamId
	Peer      aqc.DeviceId
	Label     aqc.LabelId
	Direction aqc.Direction
}

type createUniResult struct {
	Blob      aqc.ControlBlob
	ChannelID aqc.ChannelId
	Secret    aqc.ChannelSecret
}

// CreateUniChannel asks the daemon to mint a unidirectional channel to peer
// under label with the local end restricted to dir.
func (c *Client) CreateUniChannel(ctx context.Context, team aqc.TeamId, peer aqc.DeviceId, label aqc.LabelId, dir aqc.Direction) (aqc.ControlBlob, aqc.ChannelId, aqc.ChannelSecret, error) {
	var res createUniResult
	err := c.call(ctx, methodCreateUni, createUniParams{Team: team, Peer: peer, Label: label, Direction: dir}, &res)
	if err != nil {
		return nil, aqc.ChannelId{}, nil, err
	}
	return res.Blob, res.ChannelID, res.Secret, nil
}

type receiveCtrlParams struct {
	Team aqc.TeamId
	Blob aqc.ControlBlob
}

type receiveCtrlResult struct {
	Info   aqc.ChannelInfo
	Secret aqc.ChannelSecret
}

// ReceiveAqcCtrl validates a control blob received from a peer against team
// policy, returning the ChannelInfo to register and the secret to derive
// the receiving side's PSKs from.
func (c *Client) ReceiveAqcCtrl(ctx context.Context, team aqc.TeamId, blob aqc.ControlBlob) (aqc.ChannelInfo, aqc.ChannelSecret, error) {
	var res receiveCtrlResult
	err := c.call(ctx, methodReceiveAqcCtrl, receiveCtrlParams{Team: team, Blob: blob}, &res)
	if err != nil {
		return aqc.ChannelInfo{}, nil, err
	}
	return res.Info, res.Secret, nil
}

type deleteChannelParams struct {
	Team      aqc.TeamId
	ChannelID aqc.ChannelId
}

// DeleteChannel informs the daemon that channelID is being torn down, per
// DESIGN.md's Open Question decision that deletion is always explicit.
func (c *Client) DeleteChannel(ctx context.Context, team aqc.TeamId, channelID aqc.ChannelId) error {
	return c.call(ctx, methodDeleteChannel, deleteChannelParams{Team: team, ChannelID: channelID}, nil)
}

type findDeviceIDParams struct {
	Team  aqc.TeamId
	NetID string
}

type findDeviceIDResult struct {
	Device aqc.DeviceId
	Found  bool
}

// FindDeviceID resolves netID to a DeviceId within team, mirroring
// aranya-daemon/src/aqc.rs's find_device_id.
func (c *Client) FindDeviceID(ctx context.Context, team aqc.TeamId, netID string) (aqc.DeviceId, bool, error) {
	var res findDeviceIDResult
	if err := c.call(ctx, methodFindDeviceID, findDeviceIDParams{Team: team, NetID: netID}, &res); err != nil {
		return aqc.DeviceId{}, false, err
	}
	return res.Device, res.Found, nil
}

type getDeviceIDResult struct {
	Device aqc.DeviceId
}

// GetDeviceID returns this process's own DeviceId, as configured/enrolled
// on the daemon side.
func (c *Client) GetDeviceID(ctx context.Context) (aqc.DeviceId, error) {
	var res getDeviceIDResult
	if err := c.call(ctx, methodGetDeviceID, nil, &res); err != nil {
		return aqc.DeviceId{}, err
	}
	return res.Device, nil
}
