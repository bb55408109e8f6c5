package cmh

import (
	"context"
	"sync"
	"testing"
	"time"

	"ringcmh/internal/logger"
)

// fakePeer routes SendCMHMsg straight into a target Detector's
// HandleMessage, simulating one ring-hop to next without any real
// transport. Next always answers with the configured ring successor, so
// a message addressed further around the ring gets forwarded again by
// the node that receives it, exactly as the real cmhPeer adapter would.
type fakePeer struct {
	mu   sync.Mutex
	self string
	next string
	dets map[string]*Detector
}

func (f *fakePeer) Next() string { return f.next }

func (f *fakePeer) SendCMHMsg(ctx context.Context, addr string, msg Message) (Message, error) {
	f.mu.Lock()
	d, ok := f.dets[addr]
	f.mu.Unlock()
	if !ok {
		return Message{}, nil
	}
	return d.HandleMessage(ctx, f.self, msg)
}

// newLinkedDetectors wires addrs into a ring in the given order (last
// wraps to first), each Detector's next pointing at its successor.
func newLinkedDetectors(addrs ...string) map[string]*Detector {
	dets := make(map[string]*Detector, len(addrs))
	for i, a := range addrs {
		next := addrs[(i+1)%len(addrs)]
		p := &fakePeer{self: a, next: next, dets: dets}
		dets[a] = New(a, p, logger.NopLogger{})
	}
	return dets
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// TestTwoNodeCycleDetectsDeadlock models a <-> b both waiting on each
// other: a starts detection, the probe bounces through b and back to a
// as the initiator, which must be flagged as a deadlock.
func TestTwoNodeCycleDetectsDeadlock(t *testing.T) {
	dets := newLinkedDetectors("a", "b")
	a, b := dets["a"], dets["b"]

	a.SetPassive()
	b.SetPassive()
	a.HandleWaitingFor(context.Background(), "b")
	b.HandleWaitingFor(context.Background(), "a")

	a.StartDetection(context.Background())

	waitFor(t, time.Second, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		st, ok := a.states["a"]
		return ok && !st.waitStatus
	})
}

// TestThreeNodeCycleDetectsDeadlock models a -> b -> c -> a, each waiting
// on the next.
func TestThreeNodeCycleDetectsDeadlock(t *testing.T) {
	dets := newLinkedDetectors("a", "b", "c")
	a, b, c := dets["a"], dets["b"], dets["c"]

	a.SetPassive()
	b.SetPassive()
	c.SetPassive()
	a.HandleWaitingFor(context.Background(), "b")
	b.HandleWaitingFor(context.Background(), "c")
	c.HandleWaitingFor(context.Background(), "a")

	a.StartDetection(context.Background())

	waitFor(t, time.Second, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		st, ok := a.states["a"]
		return ok && !st.waitStatus
	})
}

func TestStartDetectionWithNoWaitsIsImmediatelyDone(t *testing.T) {
	dets := newLinkedDetectors("a")
	a := dets["a"]
	a.SetPassive()
	a.StartDetection(context.Background())

	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.states["a"]
	if st == nil || st.probeCount != 0 {
		t.Errorf("probeCount = %v, want 0 when not waiting on anything", st)
	}
}

func TestActiveNodeIgnoresProbes(t *testing.T) {
	dets := newLinkedDetectors("a", "b")
	a, b := dets["a"], dets["b"]
	a.SetActive() // active: must ignore probes entirely

	reply, err := a.HandleMessage(context.Background(), "b", Message{
		Kind: KindProbeRequest, K: "b", M: 1, J: "b", I: "a",
	})
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if reply.Kind != KindSuccess {
		t.Errorf("reply.Kind = %q, want success (the RPC itself always acks)", reply.Kind)
	}

	a.mu.Lock()
	_, tracked := a.states["b"]
	a.mu.Unlock()
	if tracked {
		t.Error("active node recorded state for an initiator it should have ignored")
	}
	_ = b
}

func TestHandleRequestPermissionAlwaysGrants(t *testing.T) {
	dets := newLinkedDetectors("a")
	a := dets["a"]

	reply, err := a.HandleMessage(context.Background(), "b", Message{Kind: KindRequestPermission, K: "a", J: "b", I: "a"})
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if reply.Kind != KindGrantPermission {
		t.Errorf("reply.Kind = %q, want grant_permission", reply.Kind)
	}
}

func TestClearWaitingForRemovesEdge(t *testing.T) {
	dets := newLinkedDetectors("a", "b")
	a := dets["a"]
	a.SetPassive()
	a.HandleWaitingFor(context.Background(), "b")
	if owners := a.waitingOwners(); len(owners) != 1 {
		t.Fatalf("waitingOwners() = %v, want one entry", owners)
	}
	a.ClearWaitingFor("b")
	if owners := a.waitingOwners(); len(owners) != 0 {
		t.Errorf("waitingOwners() = %v, want empty after ClearWaitingFor", owners)
	}
}
