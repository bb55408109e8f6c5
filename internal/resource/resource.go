// Package resource implements cooperative resource ownership over the
// ring: an owner table, FIFO waiter queues per resource, and the
// forwarded query/acquire/release protocol used to find and reach an
// owner from any node.
package resource

import (
	"context"
	"fmt"
	"sync"

	"ringcmh/internal/logger"
	"ringcmh/internal/ringerr"
)

// Kind tags the variant carried by a Message.
type Kind string

const (
	KindQuery   Kind = "query"
	KindAcquire Kind = "acquire"
	KindRelease Kind = "release"
	KindOwner   Kind = "owner"
	KindGranted Kind = "granted"
	KindQueued  Kind = "queued"
	KindUnknown Kind = "unknown"
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Message is the wire envelope for every resource-plane RPC, forwarded
// hop by hop around the ring until it reaches a node that can answer
// it (the owner, or the originator once it has circled back unanswered).
type Message struct {
	Kind     Kind   `json:"kind"`
	Resource string `json:"resource"`
	Owner    string `json:"owner,omitempty"`
	Origin   string `json:"origin"`
	Error    string `json:"error,omitempty"`
}

type resourceState struct {
	currentUser string
	queue       []string // FIFO of waiting node addresses
}

// Peer is the outbound surface the Manager uses to forward resource
// messages one ring-hop at a time.
type Peer interface {
	SendResourceMsg(ctx context.Context, addr string, msg Message) (Message, error)
	Next() string
}

// Manager tracks this node's owned resources and the processes it is
// itself waiting on.
type Manager struct {
	self string
	lgr  logger.Logger
	peer Peer

	mu     sync.RWMutex
	owned  map[string]*resourceState // resources this node owns
	waitMu sync.RWMutex
	// waitingFor maps a resource name this node is blocked on to the
	// address it last asked (used by the CMH detector to build its
	// wait-for edges).
	waitingFor map[string]string
	used       map[string]string // resources this node currently holds, by name -> granted-by
}

func New(self string, peer Peer, lgr logger.Logger) *Manager {
	return &Manager{
		self:       self,
		lgr:        lgr.Named("resource"),
		peer:       peer,
		owned:      make(map[string]*resourceState),
		waitingFor: make(map[string]string),
		used:       make(map[string]string),
	}
}

// AssignResource makes this node the authoritative owner of name, with
// no current user.
func (m *Manager) AssignResource(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.owned[name]; !ok {
		m.owned[name] = &resourceState{}
	}
}

// WaitingFor returns a snapshot of {resource -> addr last asked}, used
// by the CMH detector to seed wait-for edges.
func (m *Manager) WaitingFor() map[string]string {
	m.waitMu.RLock()
	defer m.waitMu.RUnlock()
	out := make(map[string]string, len(m.waitingFor))
	for k, v := range m.waitingFor {
		out[k] = v
	}
	return out
}

// WaitingForAddrs returns the set of distinct node addresses this node
// is blocked waiting on, across all resources.
func (m *Manager) WaitingForAddrs() []string {
	m.waitMu.RLock()
	defer m.waitMu.RUnlock()
	seen := make(map[string]struct{}, len(m.waitingFor))
	var out []string
	for _, addr := range m.waitingFor {
		if _, ok := seen[addr]; !ok {
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

// Acquire finds the owner of name by forwarding a query around the
// ring, then sends Acquire(name) along next so it travels hop by hop to
// the owner (spec section 4.2: "Requester sends Acquire(r) along next;
// intermediate nodes forward unchanged") rather than dialing the owner
// directly; it blocks the caller's view of "waiting for" until
// Granted/Queued/Unknown comes back, but does not block the goroutine
// across a lock: the query/acquire RPCs are awaited with no manager
// lock held.
func (m *Manager) Acquire(ctx context.Context, name string) (Message, error) {
	owner, err := m.findOwner(ctx, name)
	if err != nil {
		return Message{}, err
	}

	var reply Message
	if owner == m.self {
		reply = m.processAcquire(name, m.self)
	} else {
		var err error
		reply, err = m.forward(ctx, Message{
			Kind: KindAcquire, Resource: name, Owner: owner, Origin: m.self,
		})
		if err != nil {
			return Message{}, ringerr.Wrap(ringerr.KindResource, fmt.Sprintf("acquire %s from %s", name, owner), err)
		}
	}

	switch reply.Kind {
	case KindGranted:
		m.waitMu.Lock()
		delete(m.waitingFor, name)
		m.waitMu.Unlock()
		m.mu.Lock()
		m.used[name] = reply.Owner
		m.mu.Unlock()
	case KindQueued:
		m.waitMu.Lock()
		m.waitingFor[name] = owner
		m.waitMu.Unlock()
	}
	return reply, nil
}

// findOwner resolves name to its owning node, forwarding a query
// message around the ring. Returns ringerr.ErrNoOwnerFound if the
// query makes a full circuit back to self unanswered.
func (m *Manager) findOwner(ctx context.Context, name string) (string, error) {
	m.mu.RLock()
	_, ownedHere := m.owned[name]
	m.mu.RUnlock()
	if ownedHere {
		return m.self, nil
	}

	next := m.peer.Next()
	reply, err := m.forward(ctx, Message{
		Kind: KindQuery, Resource: name, Origin: m.self,
	})
	if err != nil {
		return "", ringerr.Wrap(ringerr.KindResource, fmt.Sprintf("query %s via %s", name, next), err)
	}
	switch reply.Kind {
	case KindOwner:
		return reply.Owner, nil
	case KindUnknown:
		return "", ringerr.ErrNoOwnerFound
	default:
		return "", ringerr.New(ringerr.KindResource, fmt.Sprintf("unexpected reply kind %q to query", reply.Kind))
	}
}

// forward relays msg one more ring-hop via next, unchanged. It is used
// both to dispatch an Acquire/Release/Granted message toward its
// eventual addressee and, on the receiving side, to pass it along when
// this node isn't that addressee yet.
func (m *Manager) forward(ctx context.Context, msg Message) (Message, error) {
	next := m.peer.Next()
	if next == "" || next == m.self {
		return Message{}, ringerr.ErrNoOwnerFound
	}
	return m.peer.SendResourceMsg(ctx, next, msg)
}

// Release gives up name: if this node is its owner, it pops the next
// waiter from the queue (if any) and grants it; otherwise it sends
// Release(name) along next so it travels hop by hop to the current
// owner, exactly as Acquire does.
func (m *Manager) Release(ctx context.Context, name string) (Message, error) {
	m.mu.RLock()
	_, ownedHere := m.owned[name]
	m.mu.RUnlock()

	if ownedHere {
		reply := m.processRelease(name, m.self)
		m.mu.Lock()
		delete(m.used, name)
		m.mu.Unlock()
		return reply, nil
	}

	m.mu.RLock()
	owner := m.used[name]
	m.mu.RUnlock()
	if owner == "" {
		return Message{}, ringerr.ErrResourceNotOwned
	}

	reply, err := m.forward(ctx, Message{
		Kind: KindRelease, Resource: name, Owner: owner, Origin: m.self,
	})
	if err != nil {
		return Message{}, ringerr.Wrap(ringerr.KindResource, fmt.Sprintf("release %s via %s", name, owner), err)
	}
	m.mu.Lock()
	delete(m.used, name)
	m.mu.Unlock()
	return reply, nil
}

// HandleMessage dispatches an inbound resource message arriving from a
// ring neighbor, acting as the protocol's server side. It is called by
// internal/core in response to handle_resource_msg RPCs. Acquire and
// Release carry their destination owner in msg.Owner and are forwarded
// one more hop along next whenever this node isn't that owner yet
// (spec section 4.2: "intermediate nodes forward unchanged"); Granted
// carries its destination waiter in msg.Origin and is forwarded the
// same way until it reaches that waiter.
func (m *Manager) HandleMessage(ctx context.Context, msg Message) (Message, error) {
	switch msg.Kind {
	case KindQuery:
		return m.handleQuery(ctx, msg)
	case KindAcquire:
		if msg.Owner != "" && msg.Owner != m.self {
			return m.forward(ctx, msg)
		}
		return m.processAcquire(msg.Resource, msg.Origin), nil
	case KindRelease:
		if msg.Owner != "" && msg.Owner != m.self {
			return m.forward(ctx, msg)
		}
		return m.processRelease(msg.Resource, msg.Origin), nil
	case KindGranted:
		if msg.Origin != "" && msg.Origin != m.self {
			return m.forward(ctx, msg)
		}
		// asynchronous promotion: we were queued and the owner just
		// popped us off the FIFO.
		m.waitMu.Lock()
		delete(m.waitingFor, msg.Resource)
		m.waitMu.Unlock()
		m.mu.Lock()
		m.used[msg.Resource] = msg.Owner
		m.mu.Unlock()
		return Message{Kind: KindSuccess, Resource: msg.Resource, Origin: msg.Origin}, nil
	default:
		return Message{Kind: KindError, Error: "unexpected resource message kind"}, nil
	}
}

func (m *Manager) handleQuery(ctx context.Context, msg Message) (Message, error) {
	m.mu.RLock()
	_, ownedHere := m.owned[msg.Resource]
	m.mu.RUnlock()
	if ownedHere {
		return Message{Kind: KindOwner, Resource: msg.Resource, Owner: m.self, Origin: msg.Origin}, nil
	}

	next := m.peer.Next()
	if next == msg.Origin || next == "" || next == m.self {
		// full circuit with no owner found.
		return Message{Kind: KindUnknown, Resource: msg.Resource, Origin: msg.Origin}, nil
	}

	reply, err := m.peer.SendResourceMsg(ctx, next, msg)
	if err != nil {
		return Message{}, ringerr.Wrap(ringerr.KindResource, "forward query", err)
	}
	return reply, nil
}

// processAcquire is the owner-side logic: grant immediately if nobody
// currently holds the resource, otherwise enqueue the requester FIFO.
func (m *Manager) processAcquire(name, requester string) Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.owned[name]
	if !ok {
		st = &resourceState{}
		m.owned[name] = st
	}
	if st.currentUser == "" {
		st.currentUser = requester
		return Message{Kind: KindGranted, Resource: name, Owner: m.self, Origin: requester}
	}
	st.queue = append(st.queue, requester)
	return Message{Kind: KindQueued, Resource: name, Owner: m.self, Origin: requester}
}

// processRelease is the owner-side logic: clear the current user, then
// grant the resource to the next FIFO waiter if any are queued. The
// grant notification to the newly-promoted waiter is sent without
// holding the manager lock.
func (m *Manager) processRelease(name, releaser string) Message {
	m.mu.Lock()
	st, ok := m.owned[name]
	if !ok {
		m.mu.Unlock()
		return Message{Kind: KindError, Resource: name, Error: "resource not owned here", Origin: releaser}
	}
	if st.currentUser != releaser && st.currentUser != "" {
		m.lgr.Warn("release from non-holder", logger.F("resource", name), logger.FAddr("releaser", releaser))
	}
	var next string
	if len(st.queue) > 0 {
		next = st.queue[0]
		st.queue = st.queue[1:]
		st.currentUser = next
	} else {
		st.currentUser = ""
	}
	m.mu.Unlock()

	if next != "" {
		m.notifyGranted(name, next)
	}
	return Message{Kind: KindSuccess, Resource: name, Origin: releaser}
}

// notifyGranted informs a newly-promoted waiter that it now holds the
// resource. The notification travels hop by hop toward waiter along
// next rather than dialing it directly (spec section 4.2: "Granted
// responses travelling back along the ring are forwarded until they
// reach F"). Best-effort: a failure here only produces a log line, the
// protocol's waiter-side Acquire call already returned Queued and has
// no pending RPC to reply to.
func (m *Manager) notifyGranted(name, waiter string) {
	ctx := context.Background()
	_, err := m.forward(ctx, Message{
		Kind: KindGranted, Resource: name, Owner: m.self, Origin: waiter,
	})
	if err != nil {
		m.lgr.Warn("failed to notify promoted waiter",
			logger.F("resource", name), logger.FAddr("waiter", waiter))
	}
}
