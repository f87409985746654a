package chatmesh

import (
	"fmt"
	"time"

	"github.com/jabolina/chatmesh/pkg/chatmesh/types"
)

// handleRequest implements the Handler component (§4.B). It runs on the
// actor goroutine; every mutation below is therefore already serialized
// against every other Node state change.
func (n *Node) handleRequest(addr string, req *types.Request) *types.Response {
	switch req.Type {
	case types.GetNodes:
		return n.handleGetNodes(addr, req)
	case types.NewNode:
		return n.handleNewNode(addr, req)
	case types.GetHistory:
		return n.handleGetHistory()
	case types.Propose:
		return n.handlePropose(req)
	case types.Commit:
		return n.handleCommit(addr, req)
	default:
		n.log.Warnf("ignoring unknown request type %q from %s", req.Type, addr)
		return nil
	}
}

func (n *Node) handleGetNodes(addr string, req *types.Request) *types.Response {
	current := n.membership.List()
	nodes := make([][2]string, 0, len(current))
	for _, p := range current {
		nodes = append(nodes, [2]string{p.Address, p.Nickname})
	}

	peerAddr := callerAddress(addr, req)
	n.membership.Remove(peerAddr)
	n.membership.Upsert(peerAddr, req.Nickname)
	n.refreshPeerGauge()
	n.emit(types.InfoEvent(fmt.Sprintf("%s has joined.", req.Nickname)))

	return &types.Response{Nodes: nodes}
}

func (n *Node) handleNewNode(addr string, req *types.Request) *types.Response {
	n.membership.Upsert(callerAddress(addr, req), req.Nickname)
	n.refreshPeerGauge()
	n.emit(types.InfoEvent(fmt.Sprintf("%s has joined.", req.Nickname)))

	return &types.Response{Type: types.SystemIndex, Index: n.commitLog.NextIndex()}
}

// callerAddress returns the address a reply should actually be dialed to:
// the caller's advertised listen address when it sent one, falling back
// to the raw connection address (almost always an unreachable ephemeral
// client port) only when it didn't.
func callerAddress(addr string, req *types.Request) string {
	if req.AdvertiseAddr != "" {
		return req.AdvertiseAddr
	}
	return addr
}

func (n *Node) handleGetHistory() *types.Response {
	return &types.Response{Type: types.History, History: n.commitLog.Snapshot()}
}

func (n *Node) handlePropose(req *types.Request) *types.Response {
	resp := &types.Response{Type: types.ProposeAck, Index: req.Index, Sender: n.cfg.Nickname}

	if n.pendingOther != nil || req.Index != n.commitLog.NextIndex() {
		resp.Value = types.VoteReject
		if n.met != nil {
			n.met.ProposalsRejected.Inc()
		}
		return resp
	}

	message := req.Message
	n.pendingOther = &message
	n.pendingOtherSlot = req.Index
	n.armPendingOtherTimeout(req.Index)
	resp.Value = types.VoteAck
	return resp
}

// armPendingOtherTimeout schedules the 3-second (default) auto-clear of
// pending_other as a mailbox message carrying the slot it applies to,
// rather than a free-running timer goroutine (§4.D, §9).
func (n *Node) armPendingOtherTimeout(slot int) {
	time.AfterFunc(n.cfg.ProposeTimeout, func() {
		n.post(func() { n.clearPendingOther(slot) })
	})
}

func (n *Node) clearPendingOther(slot int) {
	if n.pendingOther != nil && n.pendingOtherSlot == slot {
		n.pendingOther = nil
	}
}

func (n *Node) handleCommit(addr string, req *types.Request) *types.Response {
	if req.Index != n.commitLog.NextIndex() {
		n.recoverGap(callerAddress(addr, req))
	}

	n.commitLog.AppendAt(req.Index, req.Sender, req.Message)
	if n.met != nil {
		n.met.CommittedTotal.Inc()
	}
	if req.Sender != n.cfg.Nickname {
		n.emit(types.UserMessageEvent(req.Sender, req.Message))
	}
	n.clearPendingOther(req.Index)

	return &types.Response{Type: types.AckCommit, Message: req.Message, Sender: n.cfg.Nickname}
}

// recoverGap issues a synchronous GET_HISTORY to the committing peer's
// address before the triggering COMMIT is applied (§4.B, §7
// LocalInvariantViolation). A failed recovery does not block the
// COMMIT from being applied; it only produces an error event, per the
// specification's explicit tolerance for an imperfect fetch.
func (n *Node) recoverGap(addr string) {
	entries, err := n.fetchHistoryFrom(addr)
	if err != nil {
		n.emit(types.ErrorEvent(fmt.Sprintf("gap recovery against %s failed: %v", addr, err)))
		return
	}
	n.applyFetchedHistory(entries)
}

func (n *Node) refreshPeerGauge() {
	if n.met != nil {
		n.met.LivePeers.Set(float64(n.membership.Len()))
	}
}
