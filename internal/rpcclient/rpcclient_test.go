package rpcclient

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"ringcmh/internal/core"
	"ringcmh/internal/logger"
	"ringcmh/internal/ringerr"
	"ringcmh/internal/wire"
)

// echoServer accepts connections until the test ends and, on each,
// echoes back a well-formed response for every request frame it reads,
// stamping the clock it observed onto the reply so tests can assert
// SetClockFn wiring.
func echoServer(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			nc, err := l.Accept()
			if err != nil {
				return
			}
			go func(nc net.Conn) {
				defer nc.Close()
				r := bufio.NewReader(nc)
				for {
					var req wire.Request
					if err := wire.ReadFrame(r, &req); err != nil {
						return
					}
					reply := core.HeartbeatReply{Addr: "server", Clock: req.Clock}
					resp := wire.Response{Seq: req.Seq, Payload: wire.EncodePayload(reply)}
					if err := wire.WriteFrame(nc, resp); err != nil {
						return
					}
				}
			}(nc)
		}
	}()
	return l.Addr().String()
}

func TestSetClockFnStampsOutboundRequests(t *testing.T) {
	addr := echoServer(t)
	p := New("client", time.Second, time.Second, logger.NopLogger{})
	defer p.CloseAll()
	p.SetClockFn(func() uint64 { return 42 })

	reply, err := p.Client(addr).Heartbeat(context.Background(), addr)
	if err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	if reply.Clock != 42 {
		t.Errorf("reply.Clock = %d, want 42 (stamped by clockFn)", reply.Clock)
	}
}

func TestCloseConnDropsCachedConnection(t *testing.T) {
	addr := echoServer(t)
	p := New("client", time.Second, time.Second, logger.NopLogger{})
	defer p.CloseAll()

	if _, err := p.Client(addr).Heartbeat(context.Background(), addr); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	if err := p.CloseConn(addr); err != nil {
		t.Errorf("CloseConn failed: %v", err)
	}
	// A second call must succeed by transparently redialing.
	if _, err := p.Client(addr).Heartbeat(context.Background(), addr); err != nil {
		t.Errorf("Heartbeat after CloseConn failed: %v", err)
	}
}

func TestCallHonorsContextCancellation(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer l.Close()
	go func() {
		nc, err := l.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		// Accept the frame but never reply, forcing the caller to hit
		// its context deadline.
		var req wire.Request
		_ = wire.ReadFrame(bufio.NewReader(nc), &req)
		<-make(chan struct{})
	}()

	p := New("client", time.Second, time.Second, logger.NopLogger{})
	defer p.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Client(l.Addr().String()).Heartbeat(ctx, l.Addr().String())
	if !ringerr.Is(err, ringerr.ErrCallTimeout) {
		t.Errorf("err = %v, want ErrCallTimeout", err)
	}
}

func TestDialFailureReturnsTransportError(t *testing.T) {
	p := New("client", 50*time.Millisecond, time.Second, logger.NopLogger{})
	defer p.CloseAll()

	_, err := p.Client("127.0.0.1:1").Heartbeat(context.Background(), "127.0.0.1:1")
	if err == nil {
		t.Error("Heartbeat succeeded dialing a closed port, want error")
	}
}
