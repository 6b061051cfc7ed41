// Package wireframe implements the 4-byte big-endian length-prefixed
// framing shared by the control-message protocol (internal/ctrl) and the
// daemon RPC bridge (daemon), modeled on agent-tcp/agent.go's
// MessageSize-prefixed frame format.
package wireframe

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxBody bounds a single frame well above any real control blob or daemon
// RPC payload while still rejecting a corrupt or hostile length prefix
// before it drives an oversized allocation.
const MaxBody = 1 << 20 // 1 MiB

// Write writes a 4-byte big-endian length prefix followed by body.
func Write(w io.Writer, body []byte) error {
	if len(body) > MaxBody {
		return fmt.Errorf("wireframe: body too large: %d bytes", len(body))
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("wireframe: write length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wireframe: write body: %w", err)
	}
	return nil
}

// Read reads one length-prefixed frame, rejecting bodies over MaxBody
// before allocating the read buffer.
func Read(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("wireframe: read length: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxBody {
		return nil, fmt.Errorf("wireframe: frame claims %d bytes, over the %d limit", n, MaxBody)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("wireframe: read body: %w", err)
	}
	return body, nil
}
