package core

import (
	"context"
	"testing"
)

func TestHandleWaitingForGoesPassive(t *testing.T) {
	n := newTestNode("requester", 9001)
	n.SetActive()

	n.CMH.HandleWaitingFor(context.Background(), "owner-node")
	if n.CMH.IsActive() {
		t.Error("CMH.IsActive() = true after HandleWaitingFor, want passive while blocked")
	}
}

func TestReleaseResourceReactivatesWhenNoLongerWaiting(t *testing.T) {
	n := newTestNode("requester", 9001)
	n.Resource.AssignResource("printer")
	n.SetPassive()

	if _, err := n.ReleaseResource(context.Background(), "printer"); err != nil {
		t.Fatalf("ReleaseResource failed: %v", err)
	}
	if !n.Active() {
		t.Error("Active() = false after releasing the only resource waited on, want reactivated")
	}
}

func TestStatusSnapshotReflectsNodeState(t *testing.T) {
	n := newTestNode("requester", 9001)
	n.SetPassive()
	status := n.Status()
	if status.Active {
		t.Error("Status().Active = true, want false after SetPassive")
	}
	if status.Self.Addr != "requester" {
		t.Errorf("Status().Self.Addr = %q, want requester", status.Self.Addr)
	}
}
