package chatmesh

import (
	"context"
	"fmt"
	"sync"

	"github.com/jabolina/chatmesh/pkg/chatmesh/types"
)

// fanOutResult is one peer's outcome from a broadcast round.
type fanOutResult struct {
	peer types.Peer
	resp *types.Response
	err  error
}

// fanOut opens one connection per live peer concurrently, using build to
// shape the request for that peer (every current use sends the same
// request to every peer, but the hook keeps the door open without
// requiring a second code path). Unreachable peers are marked inactive
// immediately, matching §4.C/§4.E: "drop that peer, continue with
// remainder, do not retry in the same round."
func (n *Node) fanOut(build func(types.Peer) *types.Request) []fanOutResult {
	peers := n.membership.List()
	if len(peers) == 0 {
		return nil
	}

	results := make(chan fanOutResult, len(peers))
	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p types.Peer) {
			defer wg.Done()
			req := build(p)
			ctx, cancel := context.WithTimeout(context.Background(), n.cfg.DialTimeout)
			defer cancel()
			resp, err := sendRequest(ctx, p.Address, req, n.cfg.DialTimeout)
			results <- fanOutResult{peer: p, resp: resp, err: err}
		}(p)
	}
	wg.Wait()
	close(results)

	out := make([]fanOutResult, 0, len(peers))
	for r := range results {
		if r.err != nil {
			n.membership.MarkInactive(r.peer)
			continue
		}
		out = append(out, r)
	}
	n.reapDeparted()
	return out
}

// reapDeparted drains peers marked inactive during the fan-out that just
// completed, emitting the "<nick> has left." info event §4.E specifies
// for each one actually removed.
func (n *Node) reapDeparted() {
	departed := n.membership.ReapInactive()
	if len(departed) == 0 {
		return
	}
	for _, p := range departed {
		n.emit(types.InfoEvent(fmt.Sprintf("%s has left.", p.Nickname)))
	}
	n.refreshPeerGauge()
}

// requestPeers contacts the bootstrap peer, replaces the local peer set
// wholesale with its response, then filters this host's own advertised
// address out of the result (§4.C). The bootstrap itself is the only
// peer address this node is guaranteed to know is both live and
// dialable, so it is re-added after the wholesale replace: the
// bootstrap's own GET_NODES response never lists itself, and a plain
// replace would otherwise lose it outright.
func (n *Node) requestPeers() error {
	boot, ok := n.membership.First()
	if !ok {
		return nil
	}

	req := &types.Request{Type: types.GetNodes, Nickname: n.cfg.Nickname, AdvertiseAddr: n.selfAddr()}
	resp, err := sendRequest(context.Background(), boot.Address, req, n.cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("contacting bootstrap %s: %w", boot.Address, err)
	}

	peers := make([]types.Peer, 0, len(resp.Nodes)+1)
	peers = append(peers, boot)
	for _, pair := range resp.Nodes {
		if pair[0] == boot.Address {
			continue
		}
		peers = append(peers, types.Peer{Address: pair[0], Nickname: pair[1]})
	}
	n.membership.ReplaceAll(peers)
	if n.cfg.AdvertiseAddr != "" {
		n.membership.Remove(n.cfg.AdvertiseAddr)
	}
	n.refreshPeerGauge()
	return nil
}

// announce sends NEW_NODE to every current peer and fast-forwards
// next_index to the maximum SYSTEM_INDEX observed (0 if the peer set is
// empty), per the specification's resolution of the "max([])" open
// question.
func (n *Node) announce() {
	results := n.fanOut(func(types.Peer) *types.Request {
		return &types.Request{Type: types.NewNode, Nickname: n.cfg.Nickname, AdvertiseAddr: n.selfAddr()}
	})

	max := 0
	for _, r := range results {
		if r.resp != nil && r.resp.Type == types.SystemIndex && r.resp.Index > max {
			max = r.resp.Index
		}
	}
	n.commitLog.FastForward(max)
}

// fetchHistoryFrom issues a single synchronous GET_HISTORY to addr, used
// both by gap recovery (§4.B) and by an explicit catch-up fetch.
func (n *Node) fetchHistoryFrom(addr string) ([]types.LogEntry, error) {
	req := &types.Request{Type: types.GetHistory}
	resp, err := sendRequest(context.Background(), addr, req, n.cfg.DialTimeout)
	if err != nil {
		return nil, err
	}
	return resp.History, nil
}

// applyFetchedHistory replaces the local log wholesale (the "best-effort
// replace" resolution in SPEC_FULL.md §9) and emits a user_message event
// for every entry that is newly visible as a result, so the UI shows the
// catch-up exactly as §4.C describes.
func (n *Node) applyFetchedHistory(entries []types.LogEntry) {
	fresh := n.commitLog.Replace(entries)
	for _, e := range fresh {
		if e.Sender != n.cfg.Nickname {
			n.emit(types.UserMessageEvent(e.Sender, e.Message))
		}
	}
}
