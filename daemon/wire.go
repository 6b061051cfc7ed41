// Package daemon implements C7: the client side of the AQC daemon RPC
// contract. The daemon itself (policy engine, graph storage, device/team
// administration) is out of scope; this package only speaks its wire
// protocol over a single unix domain socket connection.
package daemon

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var encMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("daemon: invalid cbor encoding options: %v", err))
	}
	return m
}()

// method names the daemon API call per aranya-daemon/src/aqc.rs's exported
// surface, trimmed to what C5/C2's reconciliation (DESIGN.md) needs.
type method string

const (
	methodCreateBidi     method = "create_bidi_channel"
	methodCreateUni      method = "create_uni_channel"
	methodReceiveAqcCtrl method = "receive_aqc_ctrl"
	methodDeleteChannel  method = "delete_channel"
	methodFindDeviceID   method = "find_device_id"
	methodGetDeviceID    method = "get_device_id"
)

// wireRequest is one daemon RPC call: an id for matching the reply, the
// method name, and its CBOR-encoded parameters.
type wireRequest struct {
	ID     uint64
	Method string
	Params []byte
}

// wireResponse is the daemon's reply: the same id, and either a result
// payload or a non-empty error string.
type wireResponse struct {
	ID     uint64
	Result []byte
	Err    string
}

func encodeRequest(r wireRequest) ([]byte, error) { return encMode.Marshal(r) }

func decodeResponse(b []byte) (wireResponse, error) {
	var r wireResponse
	err := cbor.Unmarshal(b, &r)
	return r, err
}

func encodeParams(v any) ([]byte, error) { return encMode.Marshal(v) }

func decodeResult(b []byte, v any) error { return cbor.Unmarshal(b, v) }
