package core

import (
	"context"
	"sync"

	"ringcmh/internal/cmh"
	"ringcmh/internal/overlay"
	"ringcmh/internal/resource"
	"ringcmh/internal/ringerr"
)

// killSwitch models the kill/revive control-plane operations: a killed
// node refuses every inbound RPC as if its transport were down, without
// discarding any of its resource or overlay state. Reviving only
// restores RPC service; it does not re-join the ring on its own, since
// the neighbor pointers held from before the kill may now be stale.
type killSwitch struct {
	mu    sync.RWMutex
	dead  bool
}

func (k *killSwitch) kill()   { k.mu.Lock(); k.dead = true; k.mu.Unlock() }
func (k *killSwitch) revive() { k.mu.Lock(); k.dead = false; k.mu.Unlock() }
func (k *killSwitch) isDead() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.dead
}

func (n *Node) ensureCheckAlive() error {
	if n.kill != nil && n.kill.isDead() {
		return ringerr.ErrNodeUnreachable
	}
	return nil
}

func (n *Node) Heartbeat(ctx context.Context, from string, clock uint64) (HeartbeatReply, error) {
	if err := n.ensureCheckAlive(); err != nil {
		return HeartbeatReply{}, err
	}
	n.Tick(clock)
	return HeartbeatReply{Addr: n.Self.Addr, Clock: n.Clock()}, nil
}

func (n *Node) HandleResourceMsg(ctx context.Context, from string, clock uint64, msg resource.Message) (resource.Message, error) {
	if err := n.ensureCheckAlive(); err != nil {
		return resource.Message{}, err
	}
	n.Tick(clock)
	return n.Resource.HandleMessage(ctx, msg)
}

func (n *Node) HandleCMHMsg(ctx context.Context, from string, clock uint64, msg cmh.Message) (cmh.Message, error) {
	if err := n.ensureCheckAlive(); err != nil {
		return cmh.Message{}, err
	}
	n.Tick(clock)
	return n.CMH.HandleMessage(ctx, from, msg)
}

func (n *Node) OtherJoining(ctx context.Context, from string, clock uint64, req overlay.JoinRequest) (overlay.JoinReply, error) {
	if err := n.ensureCheckAlive(); err != nil {
		return overlay.JoinReply{}, err
	}
	n.Tick(clock)
	return n.Overlay.HandleOtherJoining(ctx, req.Addr)
}

func (n *Node) LeaveTopology(ctx context.Context, from string, clock uint64, req overlay.LeaveRequest) error {
	if err := n.ensureCheckAlive(); err != nil {
		return err
	}
	n.Tick(clock)
	return n.Overlay.HandleLeaveTopology(ctx, req.Addr)
}

func (n *Node) ChangeNext(ctx context.Context, from string, clock uint64, req overlay.ChangeNeighborRequest) error {
	if err := n.ensureCheckAlive(); err != nil {
		return err
	}
	n.Tick(clock)
	return n.Overlay.ChangeNext(req.Addr)
}

func (n *Node) ChangeNNext(ctx context.Context, from string, clock uint64, req overlay.ChangeNeighborRequest) error {
	if err := n.ensureCheckAlive(); err != nil {
		return err
	}
	n.Tick(clock)
	return n.Overlay.ChangeNNext(req.Addr)
}

func (n *Node) ChangePrev(ctx context.Context, from string, clock uint64, req overlay.ChangeNeighborRequest) (string, error) {
	if err := n.ensureCheckAlive(); err != nil {
		return "", err
	}
	n.Tick(clock)
	return n.Overlay.ChangePrev(req.Addr)
}

func (n *Node) ChangeNNextOfPrev(ctx context.Context, from string, clock uint64, req overlay.ChangeNeighborRequest) error {
	if err := n.ensureCheckAlive(); err != nil {
		return err
	}
	n.Tick(clock)
	return n.Overlay.ChangeNNextOfPrev(ctx, req.Addr)
}

func (n *Node) MissingNode(ctx context.Context, from string, clock uint64, req overlay.MissingNodeRequest) error {
	if err := n.ensureCheckAlive(); err != nil {
		return err
	}
	n.Tick(clock)
	return n.Overlay.HandleMissingNode(ctx, req.Reporter, req.Missing)
}

var _ Handler = (*Node)(nil)
