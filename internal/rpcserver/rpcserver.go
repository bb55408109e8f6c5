// Package rpcserver is the RPC-plane TCP listener: it accepts
// connections, reads length-prefixed JSON request frames, dispatches
// each to a core.Handler on its own goroutine, and writes back the
// matching response frame.
package rpcserver

import (
	"bufio"
	"context"
	"net"
	"sync"

	"ringcmh/internal/cmh"
	"ringcmh/internal/core"
	"ringcmh/internal/logger"
	"ringcmh/internal/overlay"
	"ringcmh/internal/resource"
	"ringcmh/internal/wire"
)

// Server accepts inbound peer connections and dispatches RPCs to a
// core.Handler.
type Server struct {
	handler  core.Handler
	lgr      logger.Logger
	listener net.Listener

	wg sync.WaitGroup
}

func New(handler core.Handler, lgr logger.Logger) *Server {
	return &Server{handler: handler, lgr: lgr.Named("rpcserver")}
}

// Listen binds addr; Serve must be called afterward to begin serving.
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = l
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until the listener is closed or ctx is
// canceled.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return err
			}
		}
		s.wg.Add(1)
		go s.serveConn(nc)
	}
}

func (s *Server) serveConn(nc net.Conn) {
	defer s.wg.Done()
	defer nc.Close()

	r := bufio.NewReader(nc)
	var writeMu sync.Mutex
	var connWG sync.WaitGroup

	for {
		var req wire.Request
		if err := wire.ReadFrame(r, &req); err != nil {
			break
		}
		connWG.Add(1)
		go func(req wire.Request) {
			defer connWG.Done()
			resp := s.dispatch(req)
			writeMu.Lock()
			_ = wire.WriteFrame(nc, resp)
			writeMu.Unlock()
		}(req)
	}
	connWG.Wait()
}

func (s *Server) dispatch(req wire.Request) wire.Response {
	ctx := context.Background()
	resp := wire.Response{Seq: req.Seq}

	switch req.Method {
	case core.MethodHeartbeat:
		reply, err := s.handler.Heartbeat(ctx, req.From, req.Clock)
		s.finish(&resp, reply, err)

	case core.MethodHandleResourceMsg:
		var msg resource.Message
		if err := wire.DecodePayload(req.Payload, &msg); err != nil {
			resp.Error = err.Error()
			return resp
		}
		reply, err := s.handler.HandleResourceMsg(ctx, req.From, req.Clock, msg)
		s.finish(&resp, reply, err)

	case core.MethodHandleCMHMsg:
		var msg cmh.Message
		if err := wire.DecodePayload(req.Payload, &msg); err != nil {
			resp.Error = err.Error()
			return resp
		}
		reply, err := s.handler.HandleCMHMsg(ctx, req.From, req.Clock, msg)
		s.finish(&resp, reply, err)

	case core.MethodOtherJoining:
		var payload overlay.JoinRequest
		if err := wire.DecodePayload(req.Payload, &payload); err != nil {
			resp.Error = err.Error()
			return resp
		}
		reply, err := s.handler.OtherJoining(ctx, req.From, req.Clock, payload)
		s.finish(&resp, reply, err)

	case core.MethodLeaveTopology:
		var payload overlay.LeaveRequest
		if err := wire.DecodePayload(req.Payload, &payload); err != nil {
			resp.Error = err.Error()
			return resp
		}
		err := s.handler.LeaveTopology(ctx, req.From, req.Clock, payload)
		s.finish(&resp, core.Empty{}, err)

	case core.MethodChangeNext:
		var payload overlay.ChangeNeighborRequest
		if err := wire.DecodePayload(req.Payload, &payload); err != nil {
			resp.Error = err.Error()
			return resp
		}
		err := s.handler.ChangeNext(ctx, req.From, req.Clock, payload)
		s.finish(&resp, core.Empty{}, err)

	case core.MethodChangeNNext:
		var payload overlay.ChangeNeighborRequest
		if err := wire.DecodePayload(req.Payload, &payload); err != nil {
			resp.Error = err.Error()
			return resp
		}
		err := s.handler.ChangeNNext(ctx, req.From, req.Clock, payload)
		s.finish(&resp, core.Empty{}, err)

	case core.MethodChangePrev:
		var payload overlay.ChangeNeighborRequest
		if err := wire.DecodePayload(req.Payload, &payload); err != nil {
			resp.Error = err.Error()
			return resp
		}
		next, err := s.handler.ChangePrev(ctx, req.From, req.Clock, payload)
		s.finish(&resp, core.ChangePrevReply{Next: next}, err)

	case core.MethodChangeNNextOfPrev:
		var payload overlay.ChangeNeighborRequest
		if err := wire.DecodePayload(req.Payload, &payload); err != nil {
			resp.Error = err.Error()
			return resp
		}
		err := s.handler.ChangeNNextOfPrev(ctx, req.From, req.Clock, payload)
		s.finish(&resp, core.Empty{}, err)

	case core.MethodMissingNode:
		var payload overlay.MissingNodeRequest
		if err := wire.DecodePayload(req.Payload, &payload); err != nil {
			resp.Error = err.Error()
			return resp
		}
		err := s.handler.MissingNode(ctx, req.From, req.Clock, payload)
		s.finish(&resp, core.Empty{}, err)

	default:
		resp.Error = "unknown rpc method: " + req.Method
	}
	return resp
}

func (s *Server) finish(resp *wire.Response, reply any, err error) {
	if err != nil {
		resp.Error = err.Error()
		return
	}
	resp.Payload = wire.EncodePayload(reply)
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
