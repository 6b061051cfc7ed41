package driver

import "github.com/quic-go/quic-go"

// ctrlStream adapts a quic.Stream to internal/ctrl's Stream interface,
// which names the half-close operation CloseWrite rather than quic-go's
// Close (quic.Stream.Close already only closes the send side).
type ctrlStream struct {
	quic.Stream
}

func (s ctrlStream) CloseWrite() error {
	return s.Stream.Close()
}
