// Package overlay implements the ring topology: the join, graceful-leave
// and missing-node-repair protocols operating on each node's three
// pointers (next, nnext, prev).
package overlay

import (
	"context"
	"fmt"
	"sync"

	"ringcmh/internal/domain"
	"ringcmh/internal/logger"
	"ringcmh/internal/ringerr"
)

// JoinRequest is sent by a newcomer to any existing ring member.
type JoinRequest struct {
	Addr string `json:"addr"`
}

// JoinReply hands the newcomer the contacted node's own (next, nnext)
// as its starting pointers, before the ring is stitched around it.
type JoinReply struct {
	Next  string `json:"next"`
	NNext string `json:"nnext"`
}

// LeaveRequest is an advisory notification that Addr is leaving
// gracefully. The actual neighbor-pointer surgery travels over the
// change_next/change_prev/change_nnext/change_nnext_of_prev RPCs, which
// the leaving node issues directly to both neighbors; this message
// carries no pointer state of its own.
type LeaveRequest struct {
	Addr string `json:"addr"`
}

// ChangeNeighborRequest carries a single new pointer value.
type ChangeNeighborRequest struct {
	Addr string `json:"addr"`
}

// MissingNodeRequest reports that Missing could not be reached when
// Reporter tried to forward a message to it.
type MissingNodeRequest struct {
	Reporter string `json:"reporter"`
	Missing  string `json:"missing"`
}

// Peer is the outbound call surface Manager needs to stitch the ring
// together. It is satisfied by an adapter in internal/core that routes
// through the RPC client cache.
type Peer interface {
	OtherJoining(ctx context.Context, addr string, req JoinRequest) (JoinReply, error)
	LeaveTopology(ctx context.Context, addr string, req LeaveRequest) error
	ChangeNext(ctx context.Context, addr string, req ChangeNeighborRequest) error
	ChangeNNext(ctx context.Context, addr string, req ChangeNeighborRequest) error
	// ChangePrev returns the responder's own next (spec section 6: "change_prev(a)
	// -> SocketAddr, returns the responder's next"), used by repair to learn a
	// fresh nnext without a separate query-only RPC.
	ChangePrev(ctx context.Context, addr string, req ChangeNeighborRequest) (string, error)
	ChangeNNextOfPrev(ctx context.Context, addr string, req ChangeNeighborRequest) error
	MissingNode(ctx context.Context, addr string, req MissingNodeRequest) error
}

// Manager owns this node's neighbor pointers and runs the join / leave /
// repair protocols against them. All exported methods follow the
// lock -> copy -> drop lock -> await discipline: no network call happens
// while mu is held.
type Manager struct {
	self string
	lgr  logger.Logger
	peer Peer

	mu        sync.RWMutex
	neighbor  domain.NeighborInfo
	repairing bool
}

// New creates a Manager for a node whose address is self, initially a
// singleton ring (every pointer refers to itself).
func New(self string, peer Peer, lgr logger.Logger) *Manager {
	return &Manager{
		self:     self,
		lgr:      lgr.Named("overlay"),
		peer:     peer,
		neighbor: domain.Self(self),
	}
}

// Neighbor returns a snapshot of the current pointers.
func (m *Manager) Neighbor() domain.NeighborInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.neighbor
}

func (m *Manager) setNext(addr string) {
	m.mu.Lock()
	m.neighbor.Next = addr
	m.mu.Unlock()
}

func (m *Manager) setNNext(addr string) {
	m.mu.Lock()
	m.neighbor.NNext = addr
	m.mu.Unlock()
}

func (m *Manager) setPrev(addr string) {
	m.mu.Lock()
	m.neighbor.Prev = addr
	m.mu.Unlock()
}

// ChangeNext, ChangeNNext and ChangePrev are the local sides of the
// change_next / change_nnext / change_prev RPCs: they just install the
// new pointer under lock, no outbound calls.
func (m *Manager) ChangeNext(addr string) error {
	m.setNext(addr)
	return nil
}

func (m *Manager) ChangeNNext(addr string) error {
	m.setNNext(addr)
	return nil
}

// ChangePrev installs addr as prev and returns this node's own (unaffected)
// next, the wire-level query the spec's change_prev RPC doubles as.
func (m *Manager) ChangePrev(addr string) (string, error) {
	m.mu.Lock()
	next := m.neighbor.Next
	m.neighbor.Prev = addr
	m.mu.Unlock()
	return next, nil
}

// ChangeNNextOfPrev tells this node's current prev to update its nnext
// to addr. Used after a join/leave changes who this node's successor
// is, so prev's two-hop pointer stays in sync.
func (m *Manager) ChangeNNextOfPrev(ctx context.Context, addr string) error {
	m.mu.RLock()
	prev := m.neighbor.Prev
	m.mu.RUnlock()
	if prev == m.self {
		// singleton ring: "prev" is self, nothing to propagate.
		return nil
	}
	return m.peer.ChangeNNext(ctx, prev, ChangeNeighborRequest{Addr: addr})
}

// Join contacts an existing ring member addr and splices self in
// between it and its current successor. On return, self's own pointers
// are set and the two neighbors have been told about self.
func (m *Manager) Join(ctx context.Context, addr string) error {
	reply, err := m.peer.OtherJoining(ctx, addr, JoinRequest{Addr: m.self})
	if err != nil {
		return ringerr.Wrap(ringerr.KindOverlay, fmt.Sprintf("join via %s", addr), err)
	}

	m.mu.Lock()
	m.neighbor = domain.NeighborInfo{Next: reply.Next, NNext: reply.NNext, Prev: addr}
	m.mu.Unlock()

	m.lgr.Info("joined ring",
		logger.FAddr("via", addr),
		logger.FAddr("next", reply.Next),
		logger.FAddr("nnext", reply.NNext))
	return nil
}

// HandleOtherJoining is the contacted node's side of Join: it hands its
// own (next, nnext) to the newcomer, tells its old next to point its
// prev/nnext back through the newcomer, and adopts the newcomer as its
// own next.
func (m *Manager) HandleOtherJoining(ctx context.Context, newcomer string) (JoinReply, error) {
	m.mu.Lock()
	oldNext := m.neighbor.Next
	oldNNext := m.neighbor.NNext
	oldPrev := m.neighbor.Prev
	m.neighbor.Next = newcomer
	m.neighbor.NNext = oldNext
	m.mu.Unlock()

	reply := JoinReply{Next: oldNext, NNext: oldNNext}

	if oldNext == m.self {
		// was a singleton ring: the newcomer's prev must point back to us
		// and our own prev becomes the newcomer, closing the 2-node ring.
		m.setPrev(newcomer)
		return reply, nil
	}

	// oldNext must now treat newcomer as its prev.
	if _, err := m.peer.ChangePrev(ctx, oldNext, ChangeNeighborRequest{Addr: newcomer}); err != nil {
		return reply, ringerr.Wrap(ringerr.KindOverlay, "notify old next of new prev", err)
	}
	// oldPrev's nnext used to reach past us to oldNext; now it must reach
	// past us to the newcomer instead. oldPrev is read from our own state
	// captured before mutation, a direct single hop (mirrors the
	// original's change_nnext(my_prev, addr)) rather than a relay.
	if oldPrev != m.self {
		if err := m.peer.ChangeNNext(ctx, oldPrev, ChangeNeighborRequest{Addr: newcomer}); err != nil {
			m.lgr.Warn("failed propagating nnext past old prev", logger.FAddr("oldPrev", oldPrev))
		}
	}
	return reply, nil
}

// Leave gracefully removes self from the ring. L (self) already knows
// its own prev/next/nnext, so it personally notifies both neighbors
// with full information, exactly as the original's self-invoked
// leave_topology handler does (it reads its own neighbor triple and
// dispatches change_next/change_prev/change_nnext directly to both
// sides) — rather than sending one relay RPC to next and hoping next
// can reconstruct the missing half of the picture from its own state.
func (m *Manager) Leave(ctx context.Context) error {
	m.mu.RLock()
	n := m.neighbor
	m.mu.RUnlock()

	if n.Next == m.self {
		// singleton ring; nothing to tell anyone.
		return nil
	}

	// Advisory only: the pointer surgery below travels over the
	// change_* RPCs issued directly to prev/next; this is just a
	// heads-up to next that a leave is in progress.
	if err := m.peer.LeaveTopology(ctx, n.Next, LeaveRequest{Addr: m.self}); err != nil {
		return ringerr.Wrap(ringerr.KindOverlay, "notify next of leave", err)
	}

	switch {
	case n.Prev == n.Next:
		// ring of 2: the sole survivor becomes a singleton pointing
		// entirely at itself.
		remaining := n.Next
		if err := m.peer.ChangeNext(ctx, remaining, ChangeNeighborRequest{Addr: remaining}); err != nil {
			return ringerr.Wrap(ringerr.KindOverlay, "leave (ring of 2): fix remaining.next", err)
		}
		if _, err := m.peer.ChangePrev(ctx, remaining, ChangeNeighborRequest{Addr: remaining}); err != nil {
			return ringerr.Wrap(ringerr.KindOverlay, "leave (ring of 2): fix remaining.prev", err)
		}
		if err := m.peer.ChangeNNext(ctx, remaining, ChangeNeighborRequest{Addr: remaining}); err != nil {
			return ringerr.Wrap(ringerr.KindOverlay, "leave (ring of 2): fix remaining.nnext", err)
		}

	case n.Prev == n.NNext:
		// ring of 3: next and prev become each other's direct neighbors;
		// each also becomes its own nnext, the 2-node-ring convention.
		if _, err := m.peer.ChangePrev(ctx, n.Next, ChangeNeighborRequest{Addr: n.Prev}); err != nil {
			return ringerr.Wrap(ringerr.KindOverlay, "leave (ring of 3): fix next.prev", err)
		}
		if err := m.peer.ChangeNNext(ctx, n.Next, ChangeNeighborRequest{Addr: n.Next}); err != nil {
			return ringerr.Wrap(ringerr.KindOverlay, "leave (ring of 3): fix next.nnext", err)
		}
		if err := m.peer.ChangeNext(ctx, n.Prev, ChangeNeighborRequest{Addr: n.Next}); err != nil {
			return ringerr.Wrap(ringerr.KindOverlay, "leave (ring of 3): fix prev.next", err)
		}
		if err := m.peer.ChangeNNext(ctx, n.Prev, ChangeNeighborRequest{Addr: n.NNext}); err != nil {
			return ringerr.Wrap(ringerr.KindOverlay, "leave (ring of 3): fix prev.nnext", err)
		}

	default:
		// general case, >=4 nodes: prev gets our next as its new next and
		// our nnext as its new nnext (falling back to our next if our own
		// nnext had degraded to point at us); next gets our prev as its
		// new prev. prev's own predecessor must also learn to skip past
		// us, which is the one genuinely two-hop relay in this protocol.
		newNNext := n.NNext
		if newNNext == m.self || newNNext == "" {
			newNNext = n.Next
		}
		if err := m.peer.ChangeNext(ctx, n.Prev, ChangeNeighborRequest{Addr: n.Next}); err != nil {
			return ringerr.Wrap(ringerr.KindOverlay, "leave: fix prev.next", err)
		}
		if err := m.peer.ChangeNNext(ctx, n.Prev, ChangeNeighborRequest{Addr: newNNext}); err != nil {
			return ringerr.Wrap(ringerr.KindOverlay, "leave: fix prev.nnext", err)
		}
		if err := m.peer.ChangeNNextOfPrev(ctx, n.Prev, ChangeNeighborRequest{Addr: n.Next}); err != nil {
			m.lgr.Warn("failed propagating nnext past prev", logger.FAddr("prev", n.Prev))
		}
		if _, err := m.peer.ChangePrev(ctx, n.Next, ChangeNeighborRequest{Addr: n.Prev}); err != nil {
			return ringerr.Wrap(ringerr.KindOverlay, "leave: fix next.prev", err)
		}
	}

	m.mu.Lock()
	m.neighbor = domain.Self(m.self)
	m.mu.Unlock()
	m.lgr.Info("left ring")
	return nil
}

// HandleLeaveTopology is the advisory side of a graceful leave: the
// leaving node has already (or is about to) notify both neighbors
// directly via change_next/change_prev/change_nnext/change_nnext_of_prev,
// so there is no pointer state for this handler to reconstruct. It only
// logs the departure.
func (m *Manager) HandleLeaveTopology(ctx context.Context, leaving string) error {
	m.lgr.Info("peer leaving ring", logger.FAddr("leaving", leaving))
	return nil
}

// IsRepairing reports whether a missing-node repair initiated by this
// node is currently in flight.
func (m *Manager) IsRepairing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.repairing
}

// HandleMissingNode repairs the ring after reporter could not reach
// missing. If a repair is already underway, this call is a no-op: this
// is the corrected polarity of the check (the earliest revision
// suppressed repair only when NOT already repairing, which is
// backwards).
func (m *Manager) HandleMissingNode(ctx context.Context, reporter, missing string) error {
	m.mu.Lock()
	if m.repairing {
		m.mu.Unlock()
		return nil
	}
	m.repairing = true
	n := m.neighbor
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.repairing = false
		m.mu.Unlock()
	}()

	switch missing {
	case n.Next:
		// missing is our direct successor: promote nnext to next, then
		// discover a new nnext from the promoted node via change_prev's
		// return value, and tell our new next that its prev is us.
		newNext := n.NNext
		if newNext == missing || newNext == "" {
			// nnext was stale too; fall back to the reporter, who is the
			// only other ring member we know is alive.
			newNext = reporter
		}
		m.mu.Lock()
		m.neighbor.Next = newNext
		m.mu.Unlock()

		if newNext != m.self {
			newNNext, err := m.peer.ChangePrev(ctx, newNext, ChangeNeighborRequest{Addr: m.self})
			if err != nil {
				return ringerr.Wrap(ringerr.KindOverlay, "repair: notify new next", err)
			}
			m.setNNext(newNNext)
		}
		return m.peer.MissingNode(ctx, newNext, MissingNodeRequest{Reporter: m.self, Missing: missing})

	case n.NNext:
		// missing is our successor's successor, not our direct successor,
		// so spec section 4.1's repair walk (which only distinguishes
		// "missing == next" from "forward") doesn't name this case
		// explicitly; we degrade nnext to our own next rather than leaving
		// it pointing at a dead node. A later repair of next (case above)
		// or a later join refreshes it properly, which is all CMH
		// forwarding and resource forwarding actually require of nnext.
		if n.Next == m.self || n.Next == "" {
			return nil
		}
		m.setNNext(n.Next)
		return nil

	default:
		// not adjacent to us; forward the report around the ring so the
		// node actually missing's neighbor can repair.
		if n.Next == m.self || n.Next == "" {
			return nil
		}
		return m.peer.MissingNode(ctx, n.Next, MissingNodeRequest{Reporter: reporter, Missing: missing})
	}
}
