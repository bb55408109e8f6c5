package core

import (
	"context"
	"testing"

	"ringcmh/internal/cmh"
	"ringcmh/internal/logger"
	"ringcmh/internal/overlay"
	"ringcmh/internal/resource"
)

// fakeDialer/fakeClient let tests construct a Node without any real
// socket; every RPC method is a no-op unless a test overrides it.
type fakeClient struct {
	addr string
}

func (c *fakeClient) Heartbeat(ctx context.Context, addr string) (HeartbeatReply, error) {
	return HeartbeatReply{Addr: addr}, nil
}
func (c *fakeClient) HandleResourceMsg(ctx context.Context, addr string, msg resource.Message) (resource.Message, error) {
	return resource.Message{}, nil
}
func (c *fakeClient) HandleCMHMsg(ctx context.Context, addr string, msg cmh.Message) (cmh.Message, error) {
	return cmh.Message{}, nil
}
func (c *fakeClient) OtherJoining(ctx context.Context, addr string, req overlay.JoinRequest) (overlay.JoinReply, error) {
	return overlay.JoinReply{}, nil
}
func (c *fakeClient) LeaveTopology(ctx context.Context, addr string, req overlay.LeaveRequest) error {
	return nil
}
func (c *fakeClient) ChangeNext(ctx context.Context, addr string, req overlay.ChangeNeighborRequest) error {
	return nil
}
func (c *fakeClient) ChangeNNext(ctx context.Context, addr string, req overlay.ChangeNeighborRequest) error {
	return nil
}
func (c *fakeClient) ChangePrev(ctx context.Context, addr string, req overlay.ChangeNeighborRequest) (string, error) {
	return "", nil
}
func (c *fakeClient) ChangeNNextOfPrev(ctx context.Context, addr string, req overlay.ChangeNeighborRequest) error {
	return nil
}
func (c *fakeClient) MissingNode(ctx context.Context, addr string, req overlay.MissingNodeRequest) error {
	return nil
}
func (c *fakeClient) Close(addr string) error { return nil }

type fakeDialer struct{}

func (fakeDialer) Client(addr string) RPCClient { return &fakeClient{addr: addr} }

func newTestNode(addr string, port int) *Node {
	return New(addr, port, fakeDialer{}, logger.NopLogger{})
}

func TestTickAdvancesPastObserved(t *testing.T) {
	n := newTestNode("a", 9000)
	if got := n.Tick(0); got != 1 {
		t.Errorf("Tick(0) = %d, want 1", got)
	}
	if got := n.Tick(10); got != 11 {
		t.Errorf("Tick(10) = %d, want 11", got)
	}
	if got := n.Tick(5); got != 12 {
		t.Errorf("Tick(5) = %d, want 12 (local clock ahead of observed)", got)
	}
}

func TestSetDelayHonorsArgument(t *testing.T) {
	n := newTestNode("a", 9000)
	n.SetDelay(250_000_000) // 250ms in time.Duration's nanosecond unit
	if got := n.Delay(); got != 250_000_000 {
		t.Errorf("Delay() = %v, want 250ms", got)
	}
	n.SetDelay(0)
	if got := n.Delay(); got != 0 {
		t.Errorf("Delay() = %v, want 0 after resetting", got)
	}
}

func TestActivePassiveTogglesCMHToo(t *testing.T) {
	n := newTestNode("a", 9000)
	n.SetPassive()
	if n.Active() {
		t.Error("Active() = true after SetPassive")
	}
	if n.CMH.IsActive() {
		t.Error("CMH.IsActive() = true after SetPassive, want it to follow the node")
	}
	n.SetActive()
	if !n.Active() {
		t.Error("Active() = false after SetActive")
	}
	if !n.CMH.IsActive() {
		t.Error("CMH.IsActive() = false after SetActive, want it to follow the node")
	}
}

func TestKillReviveDoesNotTouchResourceState(t *testing.T) {
	n := newTestNode("a", 9000)
	n.Resource.AssignResource("printer")

	n.Kill()
	if !n.Killed() {
		t.Error("Killed() = false after Kill")
	}
	if _, err := n.Heartbeat(context.Background(), "b", 0); err == nil {
		t.Error("Heartbeat succeeded while killed, want it rejected")
	}

	n.Revive()
	if n.Killed() {
		t.Error("Killed() = true after Revive")
	}
	// Ownership of "printer" must have survived the kill/revive cycle:
	// releasing it as the owner should succeed rather than fail as
	// not-owned.
	if _, err := n.Resource.Release(context.Background(), "printer"); err != nil {
		t.Errorf("Release after kill/revive failed: %v, want ownership preserved", err)
	}
}
