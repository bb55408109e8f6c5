package core

import (
	"context"

	"ringcmh/internal/cmh"
	"ringcmh/internal/overlay"
	"ringcmh/internal/resource"
)

// RPC method names. These are the exact values carried in
// wire.Request.Method and dispatched by internal/rpcserver.
const (
	MethodHeartbeat         = "heartbeat"
	MethodHandleResourceMsg = "handle_resource_msg"
	MethodHandleCMHMsg      = "handle_cmh_msg"
	MethodOtherJoining      = "other_joining"
	MethodLeaveTopology     = "leave_topology"
	MethodChangeNext        = "change_next"
	MethodChangeNNext       = "change_nnext"
	MethodChangePrev        = "change_prev"
	MethodChangeNNextOfPrev = "change_nnext_of_prev"
	MethodMissingNode       = "missing_node"
)

// HeartbeatReply is the payload returned by a heartbeat call.
type HeartbeatReply struct {
	Addr  string `json:"addr"`
	Clock uint64 `json:"clock"`
}

// ChangePrevReply carries the responder's own next back to the caller,
// per spec section 6's "change_prev(a) -> SocketAddr" signature.
type ChangePrevReply struct {
	Next string `json:"next"`
}

// Empty is used for RPCs that carry no meaningful reply payload.
type Empty struct{}

// Handler is the full inbound RPC surface a ringcmh node answers,
// implemented by *Node and dispatched to by internal/rpcserver.
type Handler interface {
	Heartbeat(ctx context.Context, from string, clock uint64) (HeartbeatReply, error)
	HandleResourceMsg(ctx context.Context, from string, clock uint64, msg resource.Message) (resource.Message, error)
	HandleCMHMsg(ctx context.Context, from string, clock uint64, msg cmh.Message) (cmh.Message, error)
	OtherJoining(ctx context.Context, from string, clock uint64, req overlay.JoinRequest) (overlay.JoinReply, error)
	LeaveTopology(ctx context.Context, from string, clock uint64, req overlay.LeaveRequest) error
	ChangeNext(ctx context.Context, from string, clock uint64, req overlay.ChangeNeighborRequest) error
	ChangeNNext(ctx context.Context, from string, clock uint64, req overlay.ChangeNeighborRequest) error
	ChangePrev(ctx context.Context, from string, clock uint64, req overlay.ChangeNeighborRequest) (string, error)
	ChangeNNextOfPrev(ctx context.Context, from string, clock uint64, req overlay.ChangeNeighborRequest) error
	MissingNode(ctx context.Context, from string, clock uint64, req overlay.MissingNodeRequest) error
}

// RPCClient is the outbound call surface the RPC client cache exposes
// to a single peer. Its method set mirrors Handler; core.Node and the
// protocol managers call through it to reach other nodes.
type RPCClient interface {
	Heartbeat(ctx context.Context, addr string) (HeartbeatReply, error)
	HandleResourceMsg(ctx context.Context, addr string, msg resource.Message) (resource.Message, error)
	HandleCMHMsg(ctx context.Context, addr string, msg cmh.Message) (cmh.Message, error)
	OtherJoining(ctx context.Context, addr string, req overlay.JoinRequest) (overlay.JoinReply, error)
	LeaveTopology(ctx context.Context, addr string, req overlay.LeaveRequest) error
	ChangeNext(ctx context.Context, addr string, req overlay.ChangeNeighborRequest) error
	ChangeNNext(ctx context.Context, addr string, req overlay.ChangeNeighborRequest) error
	ChangePrev(ctx context.Context, addr string, req overlay.ChangeNeighborRequest) (string, error)
	ChangeNNextOfPrev(ctx context.Context, addr string, req overlay.ChangeNeighborRequest) error
	MissingNode(ctx context.Context, addr string, req overlay.MissingNodeRequest) error
	Close(addr string) error
}

// RPCDialer produces an RPCClient bound to a single remote address,
// lazily opening and memoizing the underlying connection. Implemented
// by internal/rpcclient.Pool.
type RPCDialer interface {
	Client(addr string) RPCClient
}
