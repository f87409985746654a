// Package chatmesh implements the replication core described by the
// specification: a membership protocol, a single-slot proposal/commit
// protocol, a gap-recovering commit log, and the event bridge tying the
// server, client, and UI together behind one actor per Node.
package chatmesh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"github.com/jabolina/chatmesh/pkg/chatmesh/definition"
	"github.com/jabolina/chatmesh/pkg/chatmesh/types"
)

// Peer re-exports types.Peer so callers constructing a Config do not need
// to import the types subpackage directly.
type Peer = types.Peer

// Config parameterizes one Node.
type Config struct {
	// Nickname is this node's immutable display name.
	Nickname string
	// ListenAddr is the local TCP bind address, e.g. "0.0.0.0:65412".
	ListenAddr string
	// AdvertiseAddr is the address peers should use to reach this node.
	// It is sent as Request.AdvertiseAddr on every outbound request (see
	// selfAddr) and filters this host's own entry out of a GET_NODES
	// response during request_peers().
	AdvertiseAddr string
	// Bootstrap is the initial peer list. A true bootstrap ("startup")
	// node is constructed with this empty.
	Bootstrap []types.Peer
	// Join, when true, runs request_peers()+announce() against
	// Bootstrap[0] during Start. False for a bootstrap ("startup") node.
	Join bool

	// ProposeTimeout is how long an acked PROPOSE reserves pending_other
	// before auto-clearing (default 3s, §4.D).
	ProposeTimeout time.Duration
	// DialTimeout bounds every outbound RPC's connect+read (default 2s).
	DialTimeout time.Duration
	// RequireFullQuorumBeforeDeciding is the configurable toggle the
	// open-question resolution in SPEC_FULL.md §9 leaves in place;
	// default false means "decide as soon as strict majority is
	// reached," matching the specified behavior exactly.
	RequireFullQuorumBeforeDeciding bool
}

func (c Config) withDefaults() Config {
	if c.ProposeTimeout <= 0 {
		c.ProposeTimeout = 3 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 2 * time.Second
	}
	return c
}

// Node is the single long-lived, process-wide actor. All of peers,
// history, next_index, the pending fields, and the tallies are owned
// exclusively by the goroutine that drains mailbox; every other
// goroutine (the Listener's per-connection handlers, timers, the UI)
// only ever posts a closure onto mailbox rather than touching this
// struct's fields directly.
type Node struct {
	cfg Config
	log definition.Logger
	met *Metrics

	membership *Membership
	commitLog  *types.CommitLog

	pendingOwn    *string
	outboundQueue []string

	pendingOther     *string
	pendingOtherSlot int

	backoff *backoff.Backoff

	events  chan types.Event
	mailbox chan func()

	listener *Listener

	closeOnce sync.Once
	stopped   chan struct{}
}

// NewNode constructs a Node from its bootstrap list and nickname. Every
// mutable field lives until the process exits, per the specification's
// lifecycle note.
func NewNode(cfg Config, log definition.Logger, met *Metrics) *Node {
	cfg = cfg.withDefaults()
	return &Node{
		cfg:        cfg,
		log:        log,
		met:        met,
		membership: NewMembership(cfg.Bootstrap),
		commitLog:  types.NewCommitLog(),
		backoff: &backoff.Backoff{
			Min:    100 * time.Millisecond,
			Max:    300 * time.Millisecond,
			Factor: 3,
			Jitter: true,
		},
		events:  make(chan types.Event, 64),
		mailbox: make(chan func(), 64),
		stopped: make(chan struct{}),
	}
}

// Events is the typed FIFO the UI collaborator drains.
func (n *Node) Events() <-chan types.Event {
	return n.events
}

func (n *Node) emit(e types.Event) {
	select {
	case n.events <- e:
	default:
		n.log.Warnf("event channel full, dropping %v event", e.Kind)
	}
}

// Submit enqueues a user-typed line for proposal (§4.D Idle state). It
// returns as soon as the line has been handed to the actor; the actor
// itself runs the rest of the state machine — including the network
// fan-out — synchronously with respect to every other mailbox job, which
// is what preserves the "at most one proposal in flight" invariant
// without a shared mutex.
func (n *Node) Submit(line string) {
	n.post(func() {
		n.outboundQueue = append(n.outboundQueue, line)
		n.promoteIfIdle()
	})
}

func (n *Node) post(job func()) {
	select {
	case n.mailbox <- job:
	case <-n.stopped:
	}
}

// Start binds the listener, runs the join handshake if configured, and
// begins draining the mailbox. It returns once the node is ready to
// accept connections and submissions; Serve (invoked internally here via
// the Listener) keeps running in the background until ctx is cancelled.
func (n *Node) Start(ctx context.Context) error {
	ln, err := NewListener(n.cfg.ListenAddr, n.dispatch, n.log, n.onListenerError)
	if err != nil {
		return err
	}
	n.listener = ln

	go n.run(ctx)
	go ln.Serve(ctx)

	if n.cfg.Join {
		n.post(func() { n.joinMesh() })
	}
	return nil
}

// Addr returns the bound listen address (useful when ListenAddr used
// port 0, e.g. in tests).
func (n *Node) Addr() string {
	return n.listener.Addr()
}

// selfAddr is the address this node puts on the wire as Request.AdvertiseAddr
// so a receiver can dial it back later. It prefers the configured
// AdvertiseAddr (the host's chosen externally-reachable address); a bare
// test node that never set one falls back to its own bound listen
// address, which is still a real dialable address, just not necessarily
// reachable off-host.
func (n *Node) selfAddr() string {
	if n.cfg.AdvertiseAddr != "" {
		return n.cfg.AdvertiseAddr
	}
	return n.Addr()
}

// MembershipSize reports the current live peer count. It exists for
// callers outside the package (tests, mainly) that need to know when a
// join handshake has settled without reaching into actor-owned state
// directly.
func (n *Node) MembershipSize() int {
	out := make(chan int, 1)
	n.post(func() { out <- n.membership.Len() })
	select {
	case v := <-out:
		return v
	case <-n.stopped:
		return 0
	}
}

// Stop tears down the mailbox loop. Safe to call more than once.
func (n *Node) Stop() {
	n.closeOnce.Do(func() { close(n.stopped) })
}

func (n *Node) run(ctx context.Context) {
	for {
		select {
		case job := <-n.mailbox:
			job()
		case <-n.stopped:
			return
		case <-ctx.Done():
			n.Stop()
			return
		}
	}
}

func (n *Node) onListenerError(err error) {
	n.emit(types.ErrorEvent(err.Error()))
}

// dispatch is the HandlerFunc handed to the Listener. It runs on the
// Listener's own per-connection goroutine, so it must not touch Node
// state directly — it posts a job to the actor and waits for the
// computed Response.
func (n *Node) dispatch(addr string, req *types.Request) *types.Response {
	respCh := make(chan *types.Response, 1)
	n.post(func() {
		respCh <- n.handleRequest(addr, req)
	})
	select {
	case resp := <-respCh:
		return resp
	case <-time.After(n.cfg.DialTimeout * 2):
		n.log.Warnf("actor busy, timing out dispatch for %s from %s", req.Type, addr)
		return nil
	case <-n.stopped:
		return nil
	}
}

// joinMesh runs request_peers() followed by announce() against the
// configured bootstrap peer, exactly once, at startup.
func (n *Node) joinMesh() {
	if err := n.requestPeers(); err != nil {
		n.emit(types.ErrorEvent(fmt.Sprintf("failed discovering peers: %v", err)))
		return
	}
	n.announce()
}

// newProposalID returns the google/uuid-tagged identifier attached to one
// proposal round for log/metric correlation (§3's ProposalID); it plays no
// role in protocol safety.
func newProposalID() string {
	return uuid.New().String()
}
