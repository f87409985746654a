package chatmesh

import "github.com/jabolina/chatmesh/pkg/chatmesh/types"

// Membership tracks the live Peer set for one Node. The canonical
// address is the identity key (§3, §4.E of the specification): a Peer
// observed again under the same address, possibly with a new nickname,
// replaces the prior entry instead of adding a second one.
//
// Membership is not safe for concurrent use; it is owned exclusively by
// the Node actor goroutine (§5, §9), the same way peers/history/pending
// fields are in the specification.
type Membership struct {
	peers    map[string]types.Peer
	inactive map[string]types.Peer
	// bootstrapAddr is peers[0] from the specification's pseudocode: the
	// fixed target of request_peers(). Kept separately because Go map
	// iteration order is not stable, unlike a Python list index.
	bootstrapAddr string
}

// NewMembership seeds the set from a bootstrap peer list. The first
// element, if any, becomes the fixed request_peers() target.
func NewMembership(bootstrap []types.Peer) *Membership {
	m := &Membership{
		peers:    make(map[string]types.Peer),
		inactive: make(map[string]types.Peer),
	}
	for i, p := range bootstrap {
		m.peers[p.Address] = p
		if i == 0 {
			m.bootstrapAddr = p.Address
		}
	}
	return m
}

// Upsert inserts or replaces the Peer entry for addr (GET_NODES and
// NEW_NODE both do this on the server side).
func (m *Membership) Upsert(addr, nickname string) {
	m.peers[addr] = types.Peer{Address: addr, Nickname: nickname}
}

// Remove drops the Peer entry for addr, if any.
func (m *Membership) Remove(addr string) {
	delete(m.peers, addr)
}

// ReplaceAll wholesale-replaces the peer set, as request_peers() does
// against the bootstrap node's GET_NODES response.
func (m *Membership) ReplaceAll(peers []types.Peer) {
	next := make(map[string]types.Peer, len(peers))
	for _, p := range peers {
		next[p.Address] = p
	}
	m.peers = next
}

// List returns a snapshot of the current peer set. The order follows Go
// map iteration and is not stable between calls.
func (m *Membership) List() []types.Peer {
	out := make([]types.Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

// Len reports the current live peer count, used for majority counting.
func (m *Membership) Len() int {
	return len(m.peers)
}

// MarkInactive stages addr for removal once the current fan-out
// completes (§4.E: accumulate during the round, reap afterwards).
func (m *Membership) MarkInactive(p types.Peer) {
	m.inactive[p.Address] = p
}

// ReapInactive removes every peer staged by MarkInactive since the last
// call, returning the ones actually removed so the caller can emit the
// "<nick> has left." info event for each.
func (m *Membership) ReapInactive() []types.Peer {
	if len(m.inactive) == 0 {
		return nil
	}
	departed := make([]types.Peer, 0, len(m.inactive))
	for addr, p := range m.inactive {
		if _, ok := m.peers[addr]; ok {
			departed = append(departed, p)
			delete(m.peers, addr)
		}
		delete(m.inactive, addr)
	}
	return departed
}

// First returns the bootstrap peer (peers[0] in the specification's
// pseudocode), the fixed target of request_peers().
func (m *Membership) First() (types.Peer, bool) {
	if m.bootstrapAddr == "" {
		return types.Peer{}, false
	}
	p, ok := m.peers[m.bootstrapAddr]
	return p, ok
}
