package core

import (
	"context"

	"ringcmh/internal/domain"
	"ringcmh/internal/resource"
)

// Kill makes this node refuse every inbound RPC, simulating a crashed
// or partitioned process, without touching any owned/used/waiting
// resource state.
func (n *Node) Kill() { n.kill.kill() }

// Revive restores RPC service. It deliberately does not attempt to
// rejoin the ring using whatever prev/next pointers were last known,
// since they may now be stale or gone; an operator must explicitly
// call Join (via /joinother) or rely on configured bootstrap discovery.
func (n *Node) Revive() { n.kill.revive() }

func (n *Node) Killed() bool { return n.kill.isDead() }

// Status is a snapshot of this node's externally-visible state, used by
// the control plane's GET /status endpoint.
type Status struct {
	Self       domain.Node         `json:"self"`
	Neighbor   domain.NeighborInfo `json:"neighbor"`
	Clock      uint64              `json:"clock"`
	Active     bool                `json:"active"`
	Killed     bool                `json:"killed"`
	Repairing  bool                `json:"repairing"`
	WaitingFor map[string]string   `json:"waitingFor"`
}

func (n *Node) Status() Status {
	return Status{
		Self:       n.Self,
		Neighbor:   n.Overlay.Neighbor(),
		Clock:      n.Clock(),
		Active:     n.Active(),
		Killed:     n.Killed(),
		Repairing:  n.Overlay.IsRepairing(),
		WaitingFor: n.Resource.WaitingFor(),
	}
}

// AcquireResource requests ownership of name, registering with the CMH
// detector as blocked when the request is queued rather than
// immediately granted.
func (n *Node) AcquireResource(ctx context.Context, name string) (resource.Message, error) {
	reply, err := n.Resource.Acquire(ctx, name)
	if err != nil {
		return reply, err
	}
	switch reply.Kind {
	case resource.KindQueued:
		n.SetPassive()
		n.CMH.HandleWaitingFor(ctx, reply.Owner)
	case resource.KindGranted:
		n.SetActive()
	}
	return reply, nil
}

// ReleaseResource gives up name, clearing this node's CMH wait-for
// bookkeeping for it.
func (n *Node) ReleaseResource(ctx context.Context, name string) (resource.Message, error) {
	owner := ""
	if wf := n.Resource.WaitingFor(); wf != nil {
		owner = wf[name]
	}
	reply, err := n.Resource.Release(ctx, name)
	if err != nil {
		return reply, err
	}
	if owner != "" {
		n.CMH.ClearWaitingFor(owner)
	}
	if len(n.Resource.WaitingForAddrs()) == 0 {
		n.SetActive()
	}
	return reply, nil
}

// StartDetection begins a CMH detection round with this node as
// initiator.
func (n *Node) StartDetection(ctx context.Context) {
	n.CMH.StartDetection(ctx)
}

// Join splices this node into the ring at addr.
func (n *Node) Join(ctx context.Context, addr string) error {
	return n.Overlay.Join(ctx, addr)
}

// Leave gracefully removes this node from its ring.
func (n *Node) Leave(ctx context.Context) error {
	return n.Overlay.Leave(ctx)
}
