// Package core aggregates the overlay, resource and CMH protocol
// managers into a single Node, owning the Lamport clock and the
// configurable per-send delay, and wiring all three managers to the RPC
// client cache through thin peer adapters.
package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ringcmh/internal/cmh"
	"ringcmh/internal/domain"
	"ringcmh/internal/logger"
	"ringcmh/internal/overlay"
	"ringcmh/internal/resource"
)

// Node is the aggregate root of a ringcmh process: one per running
// program, shared by the RPC server and the control-plane HTTP adapter.
type Node struct {
	Self domain.Node
	lgr  logger.Logger

	clock atomic.Uint64

	delayMu sync.RWMutex
	delay   time.Duration

	activeMu sync.RWMutex
	nodeActive bool

	dialer RPCDialer
	kill   *killSwitch

	Overlay  *overlay.Manager
	Resource *resource.Manager
	CMH      *cmh.Detector
}

// New builds a Node bound to addr, using dialer to reach other peers.
func New(addr string, port int, dialer RPCDialer, lgr logger.Logger) *Node {
	n := &Node{
		Self:       domain.Node{ID: domain.NewID(port), Addr: addr},
		lgr:        lgr.Named("node"),
		dialer:     dialer,
		nodeActive: true,
		kill:       &killSwitch{},
	}
	n.Overlay = overlay.New(addr, overlayPeer{n}, n.lgr)
	n.Resource = resource.New(addr, resourcePeer{n}, n.lgr)
	n.CMH = cmh.New(addr, cmhPeer{n}, n.lgr)
	return n
}

// Tick advances the Lamport clock past observed and returns the new
// local value, implementing the standard "max(local, observed)+1" rule
// used on every RPC send and receive.
func (n *Node) Tick(observed uint64) uint64 {
	for {
		cur := n.clock.Load()
		next := cur + 1
		if observed >= cur {
			next = observed + 1
		}
		if n.clock.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// Clock returns the current Lamport clock value without advancing it.
func (n *Node) Clock() uint64 { return n.clock.Load() }

// SendTick advances the clock for a local send event (no observed
// value from a peer yet) and returns the value to stamp on the
// outbound message.
func (n *Node) SendTick() uint64 { return n.Tick(n.clock.Load()) }

// SetDelay installs the artificial per-send delay used to slow down
// this node's outbound RPCs for testing. It honors the supplied
// duration directly; an earlier revision of this logic always reset
// the delay to zero regardless of the argument, which this corrects.
func (n *Node) SetDelay(d time.Duration) {
	n.delayMu.Lock()
	n.delay = d
	n.delayMu.Unlock()
}

func (n *Node) Delay() time.Duration {
	n.delayMu.RLock()
	defer n.delayMu.RUnlock()
	return n.delay
}

// Active reports whether this node currently considers itself
// "running" (as opposed to blocked waiting for a resource). Active
// nodes are ignored by incoming CMH probes.
func (n *Node) Active() bool {
	n.activeMu.RLock()
	defer n.activeMu.RUnlock()
	return n.nodeActive
}

func (n *Node) SetActive() {
	n.activeMu.Lock()
	n.nodeActive = true
	n.activeMu.Unlock()
	n.CMH.SetActive()
}

func (n *Node) SetPassive() {
	n.activeMu.Lock()
	n.nodeActive = false
	n.activeMu.Unlock()
	n.CMH.SetPassive()
}

// delayThenAwait sleeps for the configured delay before invoking fn,
// without holding any Node lock across the sleep or the call.
func delayThenAwait(ctx context.Context, n *Node, fn func(ctx context.Context) error) error {
	d := n.Delay()
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return fn(ctx)
}
