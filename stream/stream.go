// Package stream implements C6: the thin, direction-enforcing wrapper
// around a quic-go connection's streams that application code actually
// sends and receives bytes through.
package stream

import (
	"context"
	"errors"
	"io"

	"github.com/quic-go/quic-go"

	aqc "github.com/aranya-project/aqc-go"
)

// quicConn is the slice of quic.Connection this package depends on,
// narrowed for testability without a live QUIC connection.
type quicConn interface {
	OpenStreamSync(ctx context.Context) (quic.Stream, error)
	AcceptStream(ctx context.Context) (quic.Stream, error)
	CloseWithError(code quic.ApplicationErrorCode, msg string) error
}

// Channel is one endpoint's view of an established AQC channel: the
// registry record that authorizes it, plus the QUIC connection it rides
// on. A bidi ChannelInfo permits both OpenStream and AcceptStream; a uni
// channel permits exactly one, per its Direction.
type Channel struct {
	Info aqc.ChannelInfo
	conn quicConn
}

// New wraps conn under info's direction policy.
func New(info aqc.ChannelInfo, conn quic.Connection) *Channel {
	return &Channel{Info: info, conn: conn}
}

// Close tears down the QUIC connection the channel rides on. It does not
// touch the registry; callers that want the channel's PskFamily dropped
// from the PSK store too should call Driver.DeleteChannel instead.
func (c *Channel) Close() error {
	if err := c.conn.CloseWithError(0, "channel closed"); err != nil {
		return &aqc.QuicIo{Op: "channel_close", Err: err}
	}
	return nil
}

// OpenStream opens a new QUIC stream to send on. It is denied for a uni
// channel whose Direction is DirectionRecv (scenario S2).
func (c *Channel) OpenStream(ctx context.Context) (*Stream, error) {
	if c.Info.Direction == aqc.DirectionRecv {
		return nil, aqc.ErrStreamCreateDenied
	}
	qs, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, &aqc.QuicIo{Op: "open_stream", Err: err}
	}
	return &Stream{qs: qs}, nil
}

// AcceptStream waits for the peer to open a stream on this channel. It is
// denied for a uni channel whose Direction is DirectionSend.
func (c *Channel) AcceptStream(ctx context.Context) (*Stream, error) {
	if c.Info.Direction == aqc.DirectionSend {
		return nil, aqc.ErrStreamCreateDenied
	}
	qs, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, &aqc.QuicIo{Op: "accept_stream", Err: err}
	}
	return &Stream{qs: qs}, nil
}

// Stream wraps a single quic.Stream. Flow control/backpressure is entirely
// quic-go's: Send blocks on Write, which blocks on flow-control credit, so
// no additional buffering is added here.
type Stream struct {
	qs quic.Stream
}

// Send writes b to the stream, blocking on QUIC flow control.
func (s *Stream) Send(b []byte) error {
	if _, err := s.qs.Write(b); err != nil {
		return &aqc.QuicIo{Op: "stream_send", Err: err}
	}
	return nil
}

// Receive reads up to len(buf) bytes. ok is false once the peer has closed
// its write side and every buffered byte has been delivered.
func (s *Stream) Receive(buf []byte) (n int, ok bool, err error) {
	n, err = s.qs.Read(buf)
	switch {
	case err == nil:
		return n, true, nil
	case errors.Is(err, io.EOF):
		return n, n > 0, nil
	default:
		return n, false, &aqc.QuicIo{Op: "stream_receive", Err: err}
	}
}

// Close half-closes the stream's send side (quic.Stream.Close semantics).
func (s *Stream) Close() error {
	if err := s.qs.Close(); err != nil {
		return &aqc.QuicIo{Op: "stream_close", Err: err}
	}
	return nil
}
