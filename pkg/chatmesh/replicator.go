package chatmesh

import (
	"time"

	"github.com/jabolina/chatmesh/pkg/chatmesh/types"
)

// promoteIfIdle implements the Idle → Proposing transition (§4.D): if no
// proposal is already in flight and the outbound queue is non-empty,
// promote its head to pending_own and start a proposal round.
func (n *Node) promoteIfIdle() {
	if n.pendingOwn != nil {
		return
	}
	if len(n.outboundQueue) == 0 {
		return
	}

	head := n.outboundQueue[0]
	n.outboundQueue = n.outboundQueue[1:]
	n.pendingOwn = &head
	n.runProposalRound()
}

// runProposalRound is the Proposing → Deciding transition: broadcast
// PROPOSE for pending_own at the current slot and tally the votes.
func (n *Node) runProposalRound() {
	slot := n.commitLog.NextIndex()
	uid := newProposalID()
	message := *n.pendingOwn

	results := n.fanOut(func(types.Peer) *types.Request {
		return &types.Request{Type: types.Propose, Index: slot, Message: message, Sender: n.cfg.Nickname, UID: uid, AdvertiseAddr: n.selfAddr()}
	})

	acks, rejects := 0, 0
	for _, r := range results {
		if r.resp == nil {
			continue
		}
		switch r.resp.Value {
		case types.VoteAck:
			acks++
		case types.VoteReject:
			rejects++
		}
	}

	if n.decided(acks, rejects) {
		n.commitRound(slot, uid, message)
		return
	}
	n.scheduleBackoff()
}

// decided applies the majority rule from §4.D: strict majority over the
// current live peer count. When RequireFullQuorumBeforeDeciding is set,
// the round only decides once every peer has answered (ack, reject, or
// counted as absent via the fan-out's own bookkeeping) — the
// configurable toggle the open-question resolution allows for.
func (n *Node) decided(acks, rejects int) bool {
	peers := n.membership.Len()
	if n.cfg.RequireFullQuorumBeforeDeciding && acks+rejects < peers {
		return false
	}
	return acks > peers/2
}

// scheduleBackoff is the Deciding → Backoff transition: sleep a uniform
// random delay in [0.1s, 0.3s] (via jpillora/backoff configured with
// Min 100ms, Max 300ms, Factor 3 and Jitter true, see NewNode: attempt 1
// jitters uniformly between Min and Min*Factor) then re-propose the same
// pending_own at the (possibly now-advanced) slot.
func (n *Node) scheduleBackoff() {
	if n.met != nil {
		n.met.ProposalRetries.Inc()
	}
	delay := n.backoff.ForAttempt(1)
	time.AfterFunc(delay, func() {
		n.post(func() {
			if n.pendingOwn != nil {
				n.runProposalRound()
			}
		})
	})
}

// commitRound is the Committing state: broadcast COMMIT, append locally,
// emit the user_message for this node's own output, advance next_index,
// clear pending_own, and promote the next queued submission if any.
func (n *Node) commitRound(slot int, uid, message string) {
	results := n.fanOut(func(types.Peer) *types.Request {
		return &types.Request{Type: types.Commit, Index: slot, Message: message, Sender: n.cfg.Nickname, UID: uid, AdvertiseAddr: n.selfAddr()}
	})
	for _, r := range results {
		if r.resp != nil && r.resp.Type == types.AckCommit {
			n.emit(types.AckEvent(r.resp.Sender, r.resp.Message))
		}
	}

	n.commitLog.AppendAt(slot, n.cfg.Nickname, message)
	if n.met != nil {
		n.met.CommittedTotal.Inc()
	}
	n.emit(types.UserMessageEvent(n.cfg.Nickname, message))

	n.pendingOwn = nil
	n.promoteIfIdle()
}
