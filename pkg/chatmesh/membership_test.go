package chatmesh

import (
	"testing"

	"github.com/jabolina/chatmesh/pkg/chatmesh/types"
)

func TestMembership_FirstIsFixedBootstrap(t *testing.T) {
	m := NewMembership([]types.Peer{
		{Address: "10.0.0.1:1", Nickname: "a"},
		{Address: "10.0.0.2:1", Nickname: "b"},
	})

	boot, ok := m.First()
	if !ok || boot.Address != "10.0.0.1:1" {
		t.Fatalf("expected bootstrap 10.0.0.1:1, got %+v (ok=%v)", boot, ok)
	}

	// This exercises the raw primitive only: bootstrapAddr is a fixed
	// key into the peers map, so if a caller replaces the map without
	// that address present, First correctly reports it absent. It is
	// Node.requestPeers' job, not Membership's, to make sure the
	// bootstrap address is never actually dropped from a live replace
	// (see client.go).
	m.ReplaceAll([]types.Peer{{Address: "10.0.0.2:1", Nickname: "b"}})
	if _, ok := m.First(); ok {
		t.Fatalf("expected First to report absent once the bootstrap address is gone")
	}
}

func TestMembership_UpsertReplacesByAddress(t *testing.T) {
	m := NewMembership(nil)
	m.Upsert("10.0.0.1:1", "alice")
	m.Upsert("10.0.0.1:1", "alice2")

	if m.Len() != 1 {
		t.Fatalf("expected a single entry keyed by address, got %d", m.Len())
	}
	list := m.List()
	if list[0].Nickname != "alice2" {
		t.Fatalf("expected the later nickname to win, got %q", list[0].Nickname)
	}
}

func TestMembership_MarkInactiveThenReap(t *testing.T) {
	m := NewMembership(nil)
	m.Upsert("10.0.0.1:1", "alice")
	m.Upsert("10.0.0.2:1", "bob")

	m.MarkInactive(types.Peer{Address: "10.0.0.1:1", Nickname: "alice"})
	departed := m.ReapInactive()

	if len(departed) != 1 || departed[0].Nickname != "alice" {
		t.Fatalf("expected alice to be reaped, got %+v", departed)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 remaining peer, got %d", m.Len())
	}
	if again := m.ReapInactive(); len(again) != 0 {
		t.Fatalf("expected a second reap to be a no-op, got %+v", again)
	}
}

func TestMembership_RemoveUnknownIsNoop(t *testing.T) {
	m := NewMembership(nil)
	m.Remove("10.0.0.9:1")
	if m.Len() != 0 {
		t.Fatalf("expected no peers, got %d", m.Len())
	}
}
