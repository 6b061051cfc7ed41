package daemon

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/eapache/channels"
	"github.com/op/go-logging"

	aqc "github.com/aranya-project/aqc-go"
	"github.com/aranya-project/aqc-go/internal/wireframe"
)

// Client is a connection to the policy/daemon process over a single unix
// domain socket. Concurrent calls are pipelined over that one connection:
// each call enqueues a request and blocks on its own reply channel rather
// than holding the connection for the round trip, mirroring the teacher's
// single inboundPackets queue feeding work from many callers through one
// shared resource.
type Client struct {
	conn net.Conn
	log  *logging.Logger

	nextID  uint64
	queue   *channels.InfiniteChannel
	pending sync.Map // uint64 -> chan wireResponse

	haltOnce sync.Once
	haltCh   chan struct{}
	wg       sync.WaitGroup
}

// Dial connects to the daemon's unix domain socket at path and starts the
// writer/reader pump goroutines.
func Dial(path string, log *logging.Logger) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, &aqc.QuicIo{Op: "daemon dial", Err: err}
	}
	c := &Client{
		conn:   conn,
		log:    log,
		queue:  channels.NewInfiniteChannel(),
		haltCh: make(chan struct{}),
	}
	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

// newClientForConn wires a Client around an already-connected net.Conn,
// used by tests that stand in an in-process fake daemon instead of a real
// unix socket.
func newClientForConn(conn net.Conn, log *logging.Logger) *Client {
	c := &Client{
		conn:   conn,
		log:    log,
		queue:  channels.NewInfiniteChannel(),
		haltCh: make(chan struct{}),
	}
	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
	return c
}

// Close halts both pump goroutines and closes the underlying connection.
// Any request still in flight gets an error reply.
func (c *Client) Close() error {
	c.haltOnce.Do(func() {
		close(c.haltCh)
		c.queue.Close()
		c.conn.Close()
	})
	c.wg.Wait()
	return nil
}

func (c *Client) writeLoop() {
	defer c.wg.Done()
	for item := range c.queue.Out() {
		req := item.(wireRequest)
		body, err := encodeRequest(req)
		if err != nil {
			c.log.Warningf("daemon: encode request %d failed: %v", req.ID, err)
			c.deliverError(req.ID, err)
			continue
		}
		if err := wireframe.Write(c.conn, body); err != nil {
			c.log.Warningf("daemon: write request %d failed: %v", req.ID, err)
			c.deliverError(req.ID, err)
			return
		}
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	for {
		body, err := wireframe.Read(c.conn)
		if err != nil {
			select {
			case <-c.haltCh:
			default:
				c.log.Warningf("daemon: read loop terminating: %v", err)
			}
			c.drainPendingWithError(err)
			return
		}
		resp, err := decodeResponse(body)
		if err != nil {
			c.log.Warningf("daemon: malformed response: %v", err)
			continue
		}
		if ch, ok := c.pending.LoadAndDelete(resp.ID); ok {
			ch.(chan wireResponse) <- resp
		}
	}
}

func (c *Client) deliverError(id uint64, err error) {
	if ch, ok := c.pending.LoadAndDelete(id); ok {
		ch.(chan wireResponse) <- wireResponse{ID: id, Err: err.Error()}
	}
}

func (c *Client) drainPendingWithError(err error) {
	c.pending.Range(func(key, value any) bool {
		c.pending.Delete(key)
		value.(chan wireResponse) <- wireResponse{ID: key.(uint64), Err: err.Error()}
		return true
	})
}

// call submits one request, blocks for its reply (respecting ctx), and
// decodes the result into out if non-nil.
func (c *Client) call(ctx context.Context, m method, params any, out any) error {
	encoded, err := encodeParams(params)
	if err != nil {
		return &aqc.Serde{Context: fmt.Sprintf("encode %s params", m), Err: err}
	}

	id := atomic.AddUint64(&c.nextID, 1)
	replyCh := make(chan wireResponse, 1)
	c.pending.Store(id, replyCh)

	select {
	case <-ctx.Done():
		c.pending.Delete(id)
		return &aqc.Cancelled{Op: string(m)}
	case <-c.haltCh:
		c.pending.Delete(id)
		return &aqc.QuicIo{Op: string(m), Err: fmt.Errorf("daemon client closed")}
	default:
	}
	c.queue.In() <- wireRequest{ID: id, Method: string(m), Params: encoded}

	select {
	case resp := <-replyCh:
		if resp.Err != "" {
			return &aqc.PolicyDenied{Call: string(m), Reason: resp.Err}
		}
		if out != nil && len(resp.Result) > 0 {
			if err := decodeResult(resp.Result, out); err != nil {
				return &aqc.Serde{Context: fmt.Sprintf("decode %s result", m), Err: err}
			}
		}
		return nil
	case <-ctx.Done():
		c.pending.Delete(id)
		return &aqc.Cancelled{Op: string(m)}
	}
}
