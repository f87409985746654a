package chatmesh

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jabolina/chatmesh/pkg/chatmesh/types"
)

// startNode starts n against a cancellable context and arranges for both
// the actor and the listener's accept loop to unwind on test cleanup;
// Node.Stop alone only halts the mailbox, not the context-driven
// listener shutdown goroutine in Listener.Serve.
func startNode(t *testing.T, n *Node) *Node {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if err := n.Start(ctx); err != nil {
		cancel()
		t.Fatalf("failed to start node %s: %v", n.cfg.Nickname, err)
	}
	t.Cleanup(func() {
		n.Stop()
		cancel()
	})
	return n
}

func startBootstrap(t *testing.T, nick string) *Node {
	t.Helper()
	return startNode(t, NewNode(Config{Nickname: nick, ListenAddr: "127.0.0.1:0"}, silentLogger{}, NewMetrics()))
}

func joinNode(t *testing.T, nick, bootAddr string) *Node {
	t.Helper()
	return startNode(t, NewNode(Config{
		Nickname:   nick,
		ListenAddr: "127.0.0.1:0",
		Bootstrap:  []types.Peer{{Address: bootAddr, Nickname: "bootstrap"}},
		Join:       true,
	}, silentLogger{}, NewMetrics()))
}

// waitForEvent blocks until a matching event arrives or the deadline expires.
func waitForEvent(t *testing.T, n *Node, timeout time.Duration, match func(types.Event) bool) types.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-n.Events():
			if match(e) {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event on %s", n.cfg.Nickname)
			return types.Event{}
		}
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not satisfied within %s", timeout)
}

func TestNode_SingleProposerHappyPath(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	a := startBootstrap(t, "alice")
	b := joinNode(t, "bob", a.Addr())

	waitUntil(t, time.Second, func() bool { return a.membership.Len() == 1 })

	b.Submit("hello mesh")

	waitForEvent(t, b, 2*time.Second, func(e types.Event) bool {
		return e.Kind == types.EventUserMessage && e.Sender == "bob" && e.Content == "hello mesh"
	})
	waitForEvent(t, a, 2*time.Second, func(e types.Event) bool {
		return e.Kind == types.EventUserMessage && e.Sender == "bob" && e.Content == "hello mesh"
	})

	waitUntil(t, time.Second, func() bool { return a.commitLog.NextIndex() == 1 })
	waitUntil(t, time.Second, func() bool { return b.commitLog.NextIndex() == 1 })
}

func TestNode_LateJoinerRecoversHistoryGap(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	aNode := NewNode(Config{Nickname: "alice", ListenAddr: "127.0.0.1:0"}, silentLogger{}, NewMetrics())
	// Seed index 0 directly, before the actor starts, so alice already
	// holds history a late joiner has never seen.
	aNode.commitLog.AppendAt(0, "bob", "first")
	a := startNode(t, aNode)

	c := startNode(t, NewNode(Config{Nickname: "carol", ListenAddr: "127.0.0.1:0"}, silentLogger{}, NewMetrics()))

	// carol receives a COMMIT for slot 1 while her own next_index is
	// still 0: the index mismatch must trigger a synchronous
	// GET_HISTORY against alice before the COMMIT itself is applied.
	req := &types.Request{Type: types.Commit, Index: 1, Message: "second", Sender: "bob"}
	resp := c.dispatch(a.Addr(), req)
	if resp == nil || resp.Type != types.AckCommit {
		t.Fatalf("expected an ACK_COMMIT response, got %+v", resp)
	}

	waitUntil(t, time.Second, func() bool { return len(c.commitLog.Snapshot()) == 2 })
}

// TestNode_GapRecoveryUsesAdvertisedAddressNotEphemeralPort sends a real
// COMMIT over the network (as opposed to calling dispatch directly),
// so the addr handleCommit sees is the TCP connection's ephemeral
// client-side port, not alice's listen address. Gap recovery can only
// succeed here if it dials req.AdvertiseAddr instead of that addr.
func TestNode_GapRecoveryUsesAdvertisedAddressNotEphemeralPort(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	aNode := NewNode(Config{Nickname: "alice", ListenAddr: "127.0.0.1:0"}, silentLogger{}, NewMetrics())
	aNode.commitLog.AppendAt(0, "bob", "first")
	a := startNode(t, aNode)

	c := startNode(t, NewNode(Config{Nickname: "carol", ListenAddr: "127.0.0.1:0"}, silentLogger{}, NewMetrics()))

	req := &types.Request{Type: types.Commit, Index: 1, Message: "second", Sender: "bob", AdvertiseAddr: a.Addr()}
	resp, err := sendRequest(context.Background(), c.Addr(), req, time.Second)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if resp == nil || resp.Type != types.AckCommit {
		t.Fatalf("expected an ACK_COMMIT response, got %+v", resp)
	}

	waitUntil(t, time.Second, func() bool { return len(c.commitLog.Snapshot()) == 2 })
}

func TestNode_ProposeRejectsWhenPendingOtherHeld(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	a := startBootstrap(t, "alice")

	first := a.dispatch("10.0.0.9:1", &types.Request{Type: types.Propose, Index: 0, Message: "m1", Sender: "bob"})
	if first.Value != types.VoteAck {
		t.Fatalf("expected first PROPOSE at an empty slot to be acked, got %q", first.Value)
	}

	second := a.dispatch("10.0.0.9:1", &types.Request{Type: types.Propose, Index: 0, Message: "m2", Sender: "carol"})
	if second.Value != types.VoteReject {
		t.Fatalf("expected a second PROPOSE for the same held slot to be rejected, got %q", second.Value)
	}
}

func TestNode_PendingOtherTimesOutAndSlotReopens(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	a := startNode(t, NewNode(Config{
		Nickname:       "alice",
		ListenAddr:     "127.0.0.1:0",
		ProposeTimeout: 30 * time.Millisecond,
	}, silentLogger{}, NewMetrics()))

	first := a.dispatch("10.0.0.9:1", &types.Request{Type: types.Propose, Index: 0, Message: "m1", Sender: "bob"})
	if first.Value != types.VoteAck {
		t.Fatalf("expected the first PROPOSE to be acked, got %q", first.Value)
	}

	time.Sleep(100 * time.Millisecond)

	second := a.dispatch("10.0.0.9:1", &types.Request{Type: types.Propose, Index: 0, Message: "m2", Sender: "carol"})
	if second.Value != types.VoteAck {
		t.Fatalf("expected the slot to have reopened after the pending_other timeout, got %q", second.Value)
	}
}

func TestNode_PeerDepartureIsReapedAfterFanOut(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	a := startBootstrap(t, "alice")
	b := joinNode(t, "bob", a.Addr())
	waitUntil(t, time.Second, func() bool { return a.membership.Len() == 1 })

	b.Stop()
	if b.listener != nil {
		b.listener.Close()
	}

	a.Submit("anyone there?")

	waitForEvent(t, a, 2*time.Second, func(e types.Event) bool {
		return e.Kind == types.EventInfo
	})
	waitUntil(t, time.Second, func() bool { return a.membership.Len() == 0 })
}
