package resource

import (
	"context"
	"testing"

	"ringcmh/internal/logger"
)

// fakePeer is a function-field stub implementing Peer.
type fakePeer struct {
	next    string
	sendFn  func(ctx context.Context, addr string, msg Message) (Message, error)
	sent    []Message
}

func (f *fakePeer) Next() string { return f.next }

func (f *fakePeer) SendResourceMsg(ctx context.Context, addr string, msg Message) (Message, error) {
	f.sent = append(f.sent, msg)
	if f.sendFn != nil {
		return f.sendFn(ctx, addr, msg)
	}
	return Message{}, nil
}

func TestAcquireGrantedWhenFree(t *testing.T) {
	peer := &fakePeer{next: "owner-node"}
	peer.sendFn = func(ctx context.Context, addr string, msg Message) (Message, error) {
		switch msg.Kind {
		case KindQuery:
			return Message{Kind: KindOwner, Resource: msg.Resource, Owner: "owner-node"}, nil
		case KindAcquire:
			return Message{Kind: KindGranted, Resource: msg.Resource, Owner: addr}, nil
		}
		return Message{}, nil
	}
	m := New("requester", peer, logger.NopLogger{})

	reply, err := m.Acquire(context.Background(), "printer")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if reply.Kind != KindGranted {
		t.Errorf("reply.Kind = %q, want granted", reply.Kind)
	}
	if wf := m.WaitingForAddrs(); len(wf) != 0 {
		t.Errorf("WaitingForAddrs() = %v, want empty after grant", wf)
	}
}

func TestAcquireQueuedRecordsWaitingFor(t *testing.T) {
	peer := &fakePeer{next: "owner-node"}
	peer.sendFn = func(ctx context.Context, addr string, msg Message) (Message, error) {
		switch msg.Kind {
		case KindQuery:
			return Message{Kind: KindOwner, Resource: msg.Resource, Owner: "owner-node"}, nil
		case KindAcquire:
			return Message{Kind: KindQueued, Resource: msg.Resource, Owner: addr}, nil
		}
		return Message{}, nil
	}
	m := New("requester", peer, logger.NopLogger{})

	reply, err := m.Acquire(context.Background(), "printer")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if reply.Kind != KindQueued {
		t.Errorf("reply.Kind = %q, want queued", reply.Kind)
	}
	wf := m.WaitingFor()
	if wf["printer"] != "owner-node" {
		t.Errorf("WaitingFor()[printer] = %q, want owner-node", wf["printer"])
	}
}

func TestFindOwnerNoOwnerAfterFullCircuit(t *testing.T) {
	peer := &fakePeer{next: "requester"} // next loops back to self: dead end
	m := New("requester", peer, logger.NopLogger{})

	_, err := m.Acquire(context.Background(), "printer")
	if err == nil {
		t.Fatal("Acquire succeeded, want ErrNoOwnerFound")
	}
}

func TestProcessAcquireGrantsWhenFree(t *testing.T) {
	peer := &fakePeer{}
	m := New("owner", peer, logger.NopLogger{})
	m.AssignResource("printer")

	reply := m.processAcquire("printer", "alice")
	if reply.Kind != KindGranted {
		t.Errorf("reply.Kind = %q, want granted", reply.Kind)
	}
}

func TestProcessAcquireQueuesFIFOWhenHeld(t *testing.T) {
	peer := &fakePeer{}
	m := New("owner", peer, logger.NopLogger{})
	m.AssignResource("printer")

	first := m.processAcquire("printer", "alice")
	if first.Kind != KindGranted {
		t.Fatalf("first.Kind = %q, want granted", first.Kind)
	}
	second := m.processAcquire("printer", "bob")
	if second.Kind != KindQueued {
		t.Errorf("second.Kind = %q, want queued", second.Kind)
	}
	third := m.processAcquire("printer", "carol")
	if third.Kind != KindQueued {
		t.Errorf("third.Kind = %q, want queued", third.Kind)
	}

	st := m.owned["printer"]
	if len(st.queue) != 2 || st.queue[0] != "bob" || st.queue[1] != "carol" {
		t.Errorf("queue = %v, want [bob carol] preserving FIFO order", st.queue)
	}
}

func TestProcessReleasePromotesNextFIFOWaiter(t *testing.T) {
	var notified []Message
	peer := &fakePeer{
		next: "next-node", // the Granted notice travels hop by hop, not a direct dial to bob
		sendFn: func(ctx context.Context, addr string, msg Message) (Message, error) {
			notified = append(notified, msg)
			return Message{Kind: KindSuccess}, nil
		},
	}
	m := New("owner", peer, logger.NopLogger{})
	m.AssignResource("printer")
	m.processAcquire("printer", "alice")
	m.processAcquire("printer", "bob")

	reply := m.processRelease("printer", "alice")
	if reply.Kind != KindSuccess {
		t.Fatalf("reply.Kind = %q, want success", reply.Kind)
	}

	st := m.owned["printer"]
	if st.currentUser != "bob" {
		t.Errorf("currentUser = %q, want bob promoted from queue", st.currentUser)
	}
	if len(notified) != 1 || notified[0].Kind != KindGranted || notified[0].Owner != "owner" {
		t.Errorf("notified = %v, want one Granted message from owner", notified)
	}
}

func TestProcessReleaseNoWaitersClearsCurrentUser(t *testing.T) {
	peer := &fakePeer{}
	m := New("owner", peer, logger.NopLogger{})
	m.AssignResource("printer")
	m.processAcquire("printer", "alice")

	m.processRelease("printer", "alice")
	st := m.owned["printer"]
	if st.currentUser != "" {
		t.Errorf("currentUser = %q, want empty after release with no waiters", st.currentUser)
	}
}

func TestHandleMessageGrantedUpdatesWaiterState(t *testing.T) {
	peer := &fakePeer{}
	m := New("requester", peer, logger.NopLogger{})
	m.waitingFor["printer"] = "owner-node"

	reply, err := m.HandleMessage(context.Background(), Message{
		Kind: KindGranted, Resource: "printer", Owner: "owner-node", Origin: "requester",
	})
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if reply.Kind != KindSuccess {
		t.Errorf("reply.Kind = %q, want success", reply.Kind)
	}
	if _, waiting := m.WaitingFor()["printer"]; waiting {
		t.Error("waitingFor still contains printer after Granted, want cleared")
	}
	if m.used["printer"] != "owner-node" {
		t.Errorf("used[printer] = %q, want owner-node", m.used["printer"])
	}
}

func TestHandleQueryForwardsAroundRingWhenNotOwnedHere(t *testing.T) {
	peer := &fakePeer{next: "next-node"}
	peer.sendFn = func(ctx context.Context, addr string, msg Message) (Message, error) {
		return Message{Kind: KindOwner, Resource: msg.Resource, Owner: "far-node"}, nil
	}
	m := New("self", peer, logger.NopLogger{})

	reply, err := m.handleQuery(context.Background(), Message{Kind: KindQuery, Resource: "printer", Origin: "asker"})
	if err != nil {
		t.Fatalf("handleQuery failed: %v", err)
	}
	if reply.Kind != KindOwner || reply.Owner != "far-node" {
		t.Errorf("reply = %+v, want forwarded owner reply", reply)
	}
}

func TestHandleQueryUnknownOnFullCircuit(t *testing.T) {
	peer := &fakePeer{next: "asker"} // next is the original asker: full circuit
	m := New("self", peer, logger.NopLogger{})

	reply, err := m.handleQuery(context.Background(), Message{Kind: KindQuery, Resource: "printer", Origin: "asker"})
	if err != nil {
		t.Fatalf("handleQuery failed: %v", err)
	}
	if reply.Kind != KindUnknown {
		t.Errorf("reply.Kind = %q, want unknown", reply.Kind)
	}
}
