// Package rpcclient is the RPC Client Cache: one multiplexed,
// lazily-dialed TCP connection per peer address, reused across calls.
package rpcclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"ringcmh/internal/cmh"
	"ringcmh/internal/core"
	"ringcmh/internal/logger"
	"ringcmh/internal/overlay"
	"ringcmh/internal/resource"
	"ringcmh/internal/ringerr"
	"ringcmh/internal/wire"
)

// Pool is the client-side connection cache, implementing
// core.RPCDialer.
type Pool struct {
	self        string
	dialTimeout time.Duration
	callTimeout time.Duration
	lgr         logger.Logger

	mu    sync.RWMutex
	conns map[string]*conn

	// clockFn, when set, is called to obtain the Lamport clock value
	// stamped on every outbound request. It is wired up by cmd/node after
	// both the Pool and the owning core.Node exist, since the Node's Tick
	// method is itself what a well-formed clock source should advance.
	clockFn func() uint64
}

// SetClockFn installs the Lamport clock source used to stamp outbound
// requests.
func (p *Pool) SetClockFn(fn func() uint64) { p.clockFn = fn }

func (p *Pool) clock() uint64 {
	if p.clockFn == nil {
		return 0
	}
	return p.clockFn()
}

func New(self string, dialTimeout, callTimeout time.Duration, lgr logger.Logger) *Pool {
	return &Pool{
		self:        self,
		dialTimeout: dialTimeout,
		callTimeout: callTimeout,
		lgr:         lgr.Named("rpcclient"),
		conns:       make(map[string]*conn),
	}
}

// Client returns an RPCClient bound to addr, implementing
// core.RPCDialer.
func (p *Pool) Client(addr string) core.RPCClient {
	return &boundClient{pool: p, addr: addr}
}

func (p *Pool) getConn(addr string) (*conn, error) {
	p.mu.RLock()
	c, ok := p.conns[addr]
	p.mu.RUnlock()
	if ok && !c.isClosed() {
		return c, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[addr]; ok && !c.isClosed() {
		return c, nil
	}

	nc, err := net.DialTimeout("tcp", addr, p.dialTimeout)
	if err != nil {
		return nil, ringerr.Wrap(ringerr.KindTransport, fmt.Sprintf("dial %s", addr), err)
	}
	c = newConn(nc, p.lgr)
	p.conns[addr] = c
	return c, nil
}

// CloseConn drops and closes the cached connection to addr, if any.
func (p *Pool) CloseConn(addr string) error {
	p.mu.Lock()
	c, ok := p.conns[addr]
	delete(p.conns, addr)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return c.close()
}

// CloseAll tears down every cached connection, used at shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*conn)
	p.mu.Unlock()
	for _, c := range conns {
		_ = c.close()
	}
}

// conn is one multiplexed TCP connection to a peer: outbound frames are
// serialized by writeMu, inbound frames are demultiplexed by seq onto
// per-call channels.
type conn struct {
	nc  net.Conn
	r   *bufio.Reader
	lgr logger.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]chan wire.Response
	closed  bool
}

func newConn(nc net.Conn, lgr logger.Logger) *conn {
	c := &conn{
		nc:      nc,
		r:       bufio.NewReader(nc),
		lgr:     lgr,
		pending: make(map[uint64]chan wire.Response),
	}
	go c.readLoop()
	return c
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *conn) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = make(map[uint64]chan wire.Response)
	c.mu.Unlock()
	return c.nc.Close()
}

func (c *conn) readLoop() {
	for {
		var resp wire.Response
		if err := wire.ReadFrame(c.r, &resp); err != nil {
			_ = c.close()
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.Seq]
		if ok {
			delete(c.pending, resp.Seq)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
			close(ch)
		}
	}
}

// call sends method/from/clock/payload and waits for the matching
// response, honoring ctx cancellation.
func (c *conn) call(ctx context.Context, method, from string, clock uint64, payload json.RawMessage) (wire.Response, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return wire.Response{}, ringerr.ErrConnectionClosed
	}
	c.seq++
	seq := c.seq
	ch := make(chan wire.Response, 1)
	c.pending[seq] = ch
	c.mu.Unlock()

	req := wire.Request{Seq: seq, Method: method, From: from, Clock: clock, Payload: payload}

	c.writeMu.Lock()
	err := wire.WriteFrame(c.nc, req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		_ = c.close()
		return wire.Response{}, ringerr.Wrap(ringerr.KindTransport, "write request", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return wire.Response{}, ringerr.ErrConnectionClosed
		}
		if resp.Error != "" {
			return resp, ringerr.New(ringerr.KindProtocol, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		return wire.Response{}, ringerr.ErrCallTimeout
	}
}

// boundClient implements core.RPCClient for one fixed address, using
// Pool to obtain (and re-obtain, on failure) the shared conn.
type boundClient struct {
	pool *Pool
	addr string
}

func (b *boundClient) callJSON(ctx context.Context, method string, reqPayload any, reply any) error {
	if b.pool.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.pool.callTimeout)
		defer cancel()
	}
	c, err := b.pool.getConn(b.addr)
	if err != nil {
		return err
	}
	resp, err := c.call(ctx, method, b.pool.self, b.pool.clock(), wire.EncodePayload(reqPayload))
	if err != nil {
		return err
	}
	if reply != nil {
		return wire.DecodePayload(resp.Payload, reply)
	}
	return nil
}

func (b *boundClient) Heartbeat(ctx context.Context, addr string) (core.HeartbeatReply, error) {
	var reply core.HeartbeatReply
	err := b.callJSON(ctx, core.MethodHeartbeat, struct{}{}, &reply)
	return reply, err
}

func (b *boundClient) HandleResourceMsg(ctx context.Context, addr string, msg resource.Message) (resource.Message, error) {
	var reply resource.Message
	err := b.callJSON(ctx, core.MethodHandleResourceMsg, msg, &reply)
	return reply, err
}

func (b *boundClient) HandleCMHMsg(ctx context.Context, addr string, msg cmh.Message) (cmh.Message, error) {
	var reply cmh.Message
	err := b.callJSON(ctx, core.MethodHandleCMHMsg, msg, &reply)
	return reply, err
}

func (b *boundClient) OtherJoining(ctx context.Context, addr string, req overlay.JoinRequest) (overlay.JoinReply, error) {
	var reply overlay.JoinReply
	err := b.callJSON(ctx, core.MethodOtherJoining, req, &reply)
	return reply, err
}

func (b *boundClient) LeaveTopology(ctx context.Context, addr string, req overlay.LeaveRequest) error {
	return b.callJSON(ctx, core.MethodLeaveTopology, req, nil)
}

func (b *boundClient) ChangeNext(ctx context.Context, addr string, req overlay.ChangeNeighborRequest) error {
	return b.callJSON(ctx, core.MethodChangeNext, req, nil)
}

func (b *boundClient) ChangeNNext(ctx context.Context, addr string, req overlay.ChangeNeighborRequest) error {
	return b.callJSON(ctx, core.MethodChangeNNext, req, nil)
}

func (b *boundClient) ChangePrev(ctx context.Context, addr string, req overlay.ChangeNeighborRequest) (string, error) {
	var reply core.ChangePrevReply
	err := b.callJSON(ctx, core.MethodChangePrev, req, &reply)
	return reply.Next, err
}

func (b *boundClient) ChangeNNextOfPrev(ctx context.Context, addr string, req overlay.ChangeNeighborRequest) error {
	return b.callJSON(ctx, core.MethodChangeNNextOfPrev, req, nil)
}

func (b *boundClient) MissingNode(ctx context.Context, addr string, req overlay.MissingNodeRequest) error {
	return b.callJSON(ctx, core.MethodMissingNode, req, nil)
}

func (b *boundClient) Close(addr string) error {
	return b.pool.CloseConn(addr)
}

var _ core.RPCClient = (*boundClient)(nil)
var _ core.RPCDialer = (*Pool)(nil)
