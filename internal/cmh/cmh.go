// Package cmh implements the Chandy-Misra-Haas generalized distributed
// deadlock-detection algorithm, edge-chasing over the ring's wait-for
// relationships via probe messages keyed per detection-initiator (k).
package cmh

import (
	"context"
	"sync"

	"ringcmh/internal/logger"
	"ringcmh/internal/ringerr"
)

// Kind tags the variant carried by a Message.
type Kind string

const (
	KindProbeRequest      Kind = "probe_request"
	KindProbeAnswer       Kind = "probe_answer"
	KindDetectionStart    Kind = "detection_start"
	KindRequestPermission Kind = "request_permission"
	KindGrantPermission   Kind = "grant_permission"
	KindDenyPermission    Kind = "deny_permission"
	KindSuccess           Kind = "success"
	KindError             Kind = "error"
)

// Message is the single wire envelope for every CMH-plane RPC.
//
// For a probe request (K, M, J, I) follow the paper's tuple directly: K
// is the initiator being tested for, M is the initiator's probe
// generation ("last_test") at send time, J is the node that sent this
// probe, I is the node meant to receive and act on it.
//
// For a probe answer, the wire carries two node fields whose roles are
// easy to swap (the bug flagged against earlier revisions): R is the
// node that originally reflected the probe back and never changes as
// the answer propagates backward hop by hop; Dest is the current
// recipient of this particular hop and is rewritten to each node's
// parent as the answer climbs back toward the initiator. A deadlock is
// declared only once the fully-unwound chain reports both K and R equal
// to the initiator itself.
type Message struct {
	Kind Kind   `json:"kind"`
	K    string `json:"k"`
	M    uint64 `json:"m"`
	J    string `json:"j,omitempty"`
	I    string `json:"i,omitempty"`
	R    string `json:"r,omitempty"`
	Dest string `json:"dest,omitempty"`
}

// Peer is the outbound call surface the Detector uses to send CMH
// messages one ring-hop at a time and to learn the current hop target.
type Peer interface {
	SendCMHMsg(ctx context.Context, addr string, msg Message) (Message, error)
	Next() string
}

type initiatorState struct {
	lastTest    uint64
	waitStatus  bool
	parent      string
	probeCount  int
}

// Detector runs CMH detection for, and on behalf of, one node.
type Detector struct {
	self string
	peer Peer
	lgr  logger.Logger

	mu     sync.Mutex
	active bool
	states map[string]*initiatorState // keyed by initiator k

	waitingMu           sync.Mutex
	waitingMessagesFrom map[string]struct{} // nodes we've asked permission of
	grantedPermissions  map[string]struct{} // nodes we've granted permission to
}

func New(self string, peer Peer, lgr logger.Logger) *Detector {
	return &Detector{
		self:                self,
		peer:                peer,
		lgr:                 lgr.Named("cmh"),
		active:              true,
		states:              make(map[string]*initiatorState),
		waitingMessagesFrom: make(map[string]struct{}),
		grantedPermissions:  make(map[string]struct{}),
	}
}

// SetActive marks this node as actively running (not blocked on a
// resource): an active node never originates probes and never re-emits
// them along its own wait-for edges, since it cannot be part of a
// wait-for cycle right now. Messages addressed to other nodes are still
// relayed along the ring.
func (d *Detector) SetActive() {
	d.mu.Lock()
	d.active = true
	d.mu.Unlock()
}

// SetPassive marks this node as blocked, eligible to participate in
// probe forwarding.
func (d *Detector) SetPassive() {
	d.mu.Lock()
	d.active = false
	d.mu.Unlock()
}

func (d *Detector) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Detector) state(k string) *initiatorState {
	st, ok := d.states[k]
	if !ok {
		st = &initiatorState{}
		d.states[k] = st
	}
	return st
}

// sendToward dispatches msg to this node's next ring-hop; the receiving
// node forwards it again unless it is the addressee (msg.I for
// probe/permission messages, msg.Dest for probe answers), the same
// forward-until-addressed shape as resource.Manager's findOwner and
// handleQuery use for the resource plane.
func (d *Detector) sendToward(ctx context.Context, msg Message) (Message, error) {
	next := d.peer.Next()
	if next == "" || next == d.self {
		return Message{}, ringerr.ErrNoRouteToPeer
	}
	return d.peer.SendCMHMsg(ctx, next, msg)
}

// HandleWaitingFor records that this node has just become blocked
// waiting on owner (e.g. a resource Acquire returned Queued), marks
// itself passive, and requests owner's permission to be probed through.
// The request travels hop by hop along next, not by dialing owner
// directly.
func (d *Detector) HandleWaitingFor(ctx context.Context, owner string) {
	d.SetPassive()

	d.waitingMu.Lock()
	d.waitingMessagesFrom[owner] = struct{}{}
	d.waitingMu.Unlock()

	reply, err := d.sendToward(ctx, Message{Kind: KindRequestPermission, I: owner, J: d.self})
	if err != nil {
		d.lgr.Warn("request_permission failed", logger.FAddr("owner", owner))
		return
	}
	switch reply.Kind {
	case KindDenyPermission:
		d.lgr.Debug("permission denied", logger.FAddr("owner", owner))
	case KindGrantPermission:
	}
}

// ClearWaitingFor drops owner from the wait-for set, e.g. once the
// resource has been granted.
func (d *Detector) ClearWaitingFor(owner string) {
	d.waitingMu.Lock()
	delete(d.waitingMessagesFrom, owner)
	d.waitingMu.Unlock()
}

func (d *Detector) waitingOwners() []string {
	d.waitingMu.Lock()
	defer d.waitingMu.Unlock()
	out := make([]string, 0, len(d.waitingMessagesFrom))
	for addr := range d.waitingMessagesFrom {
		out = append(out, addr)
	}
	return out
}

// StartDetection is invoked by an operator (via the control plane) to
// begin testing whether this node is stuck in a deadlock: it becomes
// the initiator k, bumps its probe generation, and sends a ProbeRequest
// to every distinct node it is currently waiting on. An active node
// refuses to start a round and leaves its probe state untouched.
func (d *Detector) StartDetection(ctx context.Context) {
	if d.IsActive() {
		d.lgr.Info("detection start rejected: node is active")
		return
	}
	owners := d.waitingOwners()

	d.mu.Lock()
	st := d.state(d.self)
	st.lastTest++
	st.waitStatus = true
	st.probeCount = len(owners)
	m := st.lastTest
	d.mu.Unlock()

	if len(owners) == 0 {
		d.lgr.Info("detection start: not waiting on anything, no deadlock")
		return
	}

	for _, owner := range owners {
		owner := owner
		go func() {
			_, err := d.sendToward(ctx, Message{
				Kind: KindProbeRequest, K: d.self, M: m, J: d.self, I: owner,
			})
			if err != nil {
				d.lgr.Warn("probe send failed", logger.FAddr("to", owner))
			}
		}()
	}
}

// HandleMessage dispatches an inbound CMH-plane message, the server
// side invoked by internal/core in response to handle_cmh_msg RPCs.
// ProbeRequest and ProbeAnswer carry their own addressee (I, Dest) and
// are forwarded one more hop along next whenever this node isn't it,
// matching spec section 4.3's "if i != self: forward along next
// unchanged".
func (d *Detector) HandleMessage(ctx context.Context, from string, msg Message) (Message, error) {
	switch msg.Kind {
	case KindProbeRequest:
		if msg.I != d.self {
			return d.forward(ctx, msg)
		}
		d.handleProbe(ctx, msg)
		return Message{Kind: KindSuccess, K: msg.K}, nil
	case KindProbeAnswer:
		if msg.Dest != d.self {
			return d.forward(ctx, msg)
		}
		d.handleProbeAnswer(ctx, msg.K, msg.M, msg.R)
		return Message{Kind: KindSuccess, K: msg.K}, nil
	case KindRequestPermission:
		if msg.I != d.self {
			return d.forward(ctx, msg)
		}
		return d.handleRequestPermission(msg.J), nil
	case KindGrantPermission, KindDenyPermission:
		return Message{Kind: KindSuccess, K: msg.K}, nil
	default:
		return Message{Kind: KindError, K: msg.K}, nil
	}
}

// forward relays msg one more ring-hop via next, unchanged.
func (d *Detector) forward(ctx context.Context, msg Message) (Message, error) {
	next := d.peer.Next()
	if next == "" || next == d.self {
		return Message{}, ringerr.ErrNoRouteToPeer
	}
	return d.peer.SendCMHMsg(ctx, next, msg)
}

func (d *Detector) handleRequestPermission(requester string) Message {
	d.waitingMu.Lock()
	d.grantedPermissions[requester] = struct{}{}
	d.waitingMu.Unlock()
	return Message{Kind: KindGrantPermission, I: requester, J: d.self}
}

// handleProbe is the edge-chasing core: an active node ignores probes
// (it cannot be waiting on anything). A passive node compares the
// probe's generation m against its own last recorded generation for k:
// a newer generation resets local state and re-emits the probe to
// everything this node itself waits on; an equal generation while this
// node is also marked waiting reflects a ProbeAnswer straight back to
// the sender, since we've found a (possibly cyclic) path back.
func (d *Detector) handleProbe(ctx context.Context, msg Message) {
	if d.IsActive() {
		return
	}

	d.mu.Lock()
	st := d.state(msg.K)
	switch {
	case msg.M > st.lastTest:
		st.lastTest = msg.M
		st.waitStatus = true
		st.parent = msg.J
		owners := d.waitingOwnersLocked()
		st.probeCount = len(owners)
		d.mu.Unlock()

		if len(owners) == 0 {
			// nothing to forward to: reflect immediately, there is no
			// further outstanding chain from here.
			d.replyProbeAnswer(ctx, msg.K, msg.M, msg.I, msg.J)
			return
		}
		for _, owner := range owners {
			owner := owner
			go func() {
				_, err := d.sendToward(ctx, Message{
					Kind: KindProbeRequest, K: msg.K, M: msg.M, J: d.self, I: owner,
				})
				if err != nil {
					d.lgr.Warn("probe forward failed", logger.FAddr("to", owner))
				}
			}()
		}

	case msg.M == st.lastTest && st.waitStatus:
		d.mu.Unlock()
		d.replyProbeAnswer(ctx, msg.K, msg.M, msg.I, msg.J)

	default:
		d.mu.Unlock()
	}
}

// waitingOwnersLocked must be called with d.mu held; it reads the
// separately-locked waiting set, which is safe since the two locks are
// never acquired in the opposite order.
func (d *Detector) waitingOwnersLocked() []string {
	return d.waitingOwners()
}

// replyProbeAnswer sends a ProbeAnswer(k, m, r, dest) toward dest along
// next, one hop at a time; it does not dial dest directly.
func (d *Detector) replyProbeAnswer(ctx context.Context, k string, m uint64, r, dest string) {
	_, err := d.sendToward(ctx, Message{Kind: KindProbeAnswer, K: k, M: m, R: r, Dest: dest})
	if err != nil {
		d.lgr.Warn("probe answer send failed", logger.FAddr("to", dest))
	}
}

// handleProbeAnswer processes a reflected probe already confirmed
// addressed to this node (HandleMessage forwards it onward otherwise).
// r is the node whose reflection closed this branch of the search. Once
// every branch this node forked has answered (probeCount reaches zero),
// the answer is sent one more hop toward the initiator (to this node's
// recorded parent for k), unless this node *is* the initiator and the
// reflected node r is itself, in which case every branch has
// round-tripped and a deadlock cycle through k has been confirmed.
func (d *Detector) handleProbeAnswer(ctx context.Context, k string, m uint64, r string) {
	if d.IsActive() {
		return
	}

	d.mu.Lock()
	st, ok := d.states[k]
	if !ok || st.lastTest != m || !st.waitStatus {
		d.mu.Unlock()
		return
	}
	st.probeCount--
	remaining := st.probeCount
	parent := st.parent
	d.mu.Unlock()

	if remaining > 0 {
		return
	}

	d.mu.Lock()
	st.waitStatus = false
	d.mu.Unlock()

	isInitiator := k == d.self && r == d.self
	if isInitiator {
		d.lgr.Warn("deadlock detected", logger.F("initiator", k))
		return
	}

	d.replyProbeAnswer(ctx, k, m, r, parent)
}
