package core

import (
	"context"

	"ringcmh/internal/cmh"
	"ringcmh/internal/overlay"
	"ringcmh/internal/resource"
)

// send wraps an outbound RPC with the node's configured delay and
// reports a missing_node notification for target to this node's next
// (see reportMissing) whenever the call returns an error. The delay
// sleep and the RPC itself happen with no Node lock held.
func (n *Node) send(ctx context.Context, target string, fn func(ctx context.Context) error) error {
	err := delayThenAwait(ctx, n, fn)
	if err != nil {
		n.reportMissing(target)
	}
	return err
}

// reportMissing tells this node's current next that target could not be
// reached, kicking off the ring repair walk. Best-effort: if next is
// itself unreachable the repair simply does not start from here.
func (n *Node) reportMissing(target string) {
	next := n.Overlay.Neighbor().Next
	if next == "" || next == target || next == n.Self.Addr {
		return
	}
	go func() {
		ctx := context.Background()
		client := n.dialer.Client(next)
		_ = client.MissingNode(ctx, next, overlay.MissingNodeRequest{Reporter: n.Self.Addr, Missing: target})
	}()
}

// overlayPeer adapts *Node to overlay.Peer.
type overlayPeer struct{ n *Node }

func (p overlayPeer) OtherJoining(ctx context.Context, addr string, req overlay.JoinRequest) (overlay.JoinReply, error) {
	var reply overlay.JoinReply
	err := p.n.send(ctx, addr, func(ctx context.Context) error {
		r, err := p.n.dialer.Client(addr).OtherJoining(ctx, addr, req)
		reply = r
		return err
	})
	return reply, err
}

func (p overlayPeer) LeaveTopology(ctx context.Context, addr string, req overlay.LeaveRequest) error {
	return p.n.send(ctx, addr, func(ctx context.Context) error {
		return p.n.dialer.Client(addr).LeaveTopology(ctx, addr, req)
	})
}

func (p overlayPeer) ChangeNext(ctx context.Context, addr string, req overlay.ChangeNeighborRequest) error {
	return p.n.send(ctx, addr, func(ctx context.Context) error {
		return p.n.dialer.Client(addr).ChangeNext(ctx, addr, req)
	})
}

func (p overlayPeer) ChangeNNext(ctx context.Context, addr string, req overlay.ChangeNeighborRequest) error {
	return p.n.send(ctx, addr, func(ctx context.Context) error {
		return p.n.dialer.Client(addr).ChangeNNext(ctx, addr, req)
	})
}

func (p overlayPeer) ChangePrev(ctx context.Context, addr string, req overlay.ChangeNeighborRequest) (string, error) {
	var next string
	err := p.n.send(ctx, addr, func(ctx context.Context) error {
		n, err := p.n.dialer.Client(addr).ChangePrev(ctx, addr, req)
		next = n
		return err
	})
	return next, err
}

func (p overlayPeer) ChangeNNextOfPrev(ctx context.Context, addr string, req overlay.ChangeNeighborRequest) error {
	return p.n.send(ctx, addr, func(ctx context.Context) error {
		return p.n.dialer.Client(addr).ChangeNNextOfPrev(ctx, addr, req)
	})
}

func (p overlayPeer) MissingNode(ctx context.Context, addr string, req overlay.MissingNodeRequest) error {
	return p.n.send(ctx, addr, func(ctx context.Context) error {
		return p.n.dialer.Client(addr).MissingNode(ctx, addr, req)
	})
}

// resourcePeer adapts *Node to resource.Peer.
type resourcePeer struct{ n *Node }

func (p resourcePeer) Next() string { return p.n.Overlay.Neighbor().Next }

func (p resourcePeer) SendResourceMsg(ctx context.Context, addr string, msg resource.Message) (resource.Message, error) {
	var reply resource.Message
	err := p.n.send(ctx, addr, func(ctx context.Context) error {
		r, err := p.n.dialer.Client(addr).HandleResourceMsg(ctx, addr, msg)
		reply = r
		return err
	})
	return reply, err
}

// cmhPeer adapts *Node to cmh.Peer.
type cmhPeer struct{ n *Node }

func (p cmhPeer) Next() string { return p.n.Overlay.Neighbor().Next }

func (p cmhPeer) SendCMHMsg(ctx context.Context, addr string, msg cmh.Message) (cmh.Message, error) {
	var reply cmh.Message
	err := p.n.send(ctx, addr, func(ctx context.Context) error {
		r, err := p.n.dialer.Client(addr).HandleCMHMsg(ctx, addr, msg)
		reply = r
		return err
	})
	return reply, err
}
