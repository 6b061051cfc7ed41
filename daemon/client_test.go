package daemon

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aqc "github.com/aranya-project/aqc-go"
	"github.com/aranya-project/aqc-go/internal/wireframe"
)

func testLogger() *logging.Logger {
	return logging.MustGetLogger("daemon_test")
}

// fakeDaemon answers each request with the wireResponse its handler
// returns, echoing the incoming request's ID so the client's pending map
// resolves correctly.
type fakeDaemon struct {
	conn    net.Conn
	handler func(req wireRequest) wireResponse
}

func startFakeDaemon(t *testing.T, handler func(req wireRequest) wireResponse) *Client {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	fd := &fakeDaemon{conn: serverConn, handler: handler}
	go fd.serve(t)
	return newClientForConn(clientConn, testLogger())
}

func (fd *fakeDaemon) serve(t *testing.T) {
	for {
		body, err := wireframe.Read(fd.conn)
		if err != nil {
			return
		}
		var req wireRequest
		// requests are CBOR-encoded the same way as responses
		if err := decodeResult(body, &req); err != nil {
			t.Errorf("fakeDaemon: malformed request: %v", err)
			return
		}
		resp := fd.handler(req)
		out, err := encMode.Marshal(resp)
		if err != nil {
			t.Errorf("fakeDaemon: encode response: %v", err)
			return
		}
		if err := wireframe.Write(fd.conn, out); err != nil {
			return
		}
	}
}

func TestCreateBidiChannelSuccess(t *testing.T) {
	wantChanID := aqc.ChannelId{Kind: aqc.ChannelBidi}
	wantChanID.ID[0] = 7

	c := startFakeDaemon(t, func(req wireRequest) wireResponse {
		assert.Equal(t, string(methodCreateBidi), req.Method)
		result, err := encodeParams(createBidiResult{
			Blob:      aqc.ControlBlob("blob-bytes"),
			ChannelID: wantChanID,
			Secret:    aqc.ChannelSecret("secret-bytes"),
		})
		require.NoError(t, err)
		return wireResponse{ID: req.ID, Result: result}
	})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var team aqc.TeamId
	var peer aqc.DeviceId
	var label aqc.LabelId
	blob, chanID, secret, err := c.CreateBidiChannel(ctx, team, peer, label)
	require.NoError(t, err)
	assert.Equal(t, aqc.ControlBlob("blob-bytes"), blob)
	assert.Equal(t, wantChanID, chanID)
	assert.Equal(t, aqc.ChannelSecret("secret-bytes"), secret)
}

func TestCallSurfacesPolicyDenied(t *testing.T) {
	c := startFakeDaemon(t, func(req wireRequest) wireResponse {
		return wireResponse{ID: req.ID, Err: "label not authorized for this device"}
	})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var team aqc.TeamId
	var peer aqc.DeviceId
	var label aqc.LabelId
	_, _, _, err := c.CreateBidiChannel(ctx, team, peer, label)
	require.Error(t, err)
	var denied *aqc.PolicyDenied
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "label not authorized for this device", denied.Reason)
}

func TestCallRespectsContextDeadline(t *testing.T) {
	// A daemon that never replies; the call must unblock on ctx expiry
	// instead of hanging forever.
	clientConn, _ := net.Pipe()
	c := newClientForConn(clientConn, testLogger())
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.GetDeviceID(ctx)
	require.Error(t, err)
	var cancelled *aqc.Cancelled
	require.ErrorAs(t, err, &cancelled)
}

func TestConcurrentCallsGetMatchingReplies(t *testing.T) {
	c := startFakeDaemon(t, func(req wireRequest) wireResponse {
		var p findDeviceIDParams
		require.NoError(t, decodeResult(req.Params, &p))
		var dev aqc.DeviceId
		dev[0] = p.NetID[0]
		result, err := encodeParams(findDeviceIDResult{Device: dev, Found: true})
		require.NoError(t, err)
		return wireResponse{ID: req.ID, Result: result}
	})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var team aqc.TeamId
	netIDs := []string{"a", "b", "c", "d"}
	results := make(chan error, len(netIDs))
	for _, id := range netIDs {
		id := id
		go func() {
			dev, found, err := c.FindDeviceID(ctx, team, id)
			if err != nil {
				results <- err
				return
			}
			if !found || dev[0] != id[0] {
				results <- assertMismatch{id, dev}
				return
			}
			results <- nil
		}()
	}
	for range netIDs {
		require.NoError(t, <-results)
	}
}

type assertMismatch struct {
	netID string
	dev   aqc.DeviceId
}

func (m assertMismatch) Error() string {
	return "mismatched device id for " + m.netID
}
