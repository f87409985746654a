package types

import "fmt"

// CommitLog is the append-only, memory-only replicated log. In the
// steady state it maintains data-model invariants 1 and 2 of the
// specification:
// entries[i].Index == i for every i < NextIndex(), and NextIndex()
// equals the number of contiguous entries held.
//
// Entries are keyed by index rather than held in a plain slice because
// two of the specified edge cases deliberately produce a transient gap:
// announce() may fast-forward NextIndex past the locally held entries
// (the "next_index = max(collected)" rule, §4.C) before a GET_HISTORY
// backfill has run, and a COMMIT that races ahead of gap recovery is
// still applied at its own index per §4.B even if recovery failed. A
// slice indexed purely by position cannot represent that intermediate
// state; a sparse map can, and converges back to dense once recovery
// catches up.
//
// There is deliberately no Storage/StateMachine indirection here: the
// specification is explicit that there is no durability across
// restarts, so a single concrete in-memory implementation is all that
// will ever exist for this type.
type CommitLog struct {
	entries   map[int]LogEntry
	nextIndex int
}

// NewCommitLog returns an empty log.
func NewCommitLog() *CommitLog {
	return &CommitLog{entries: make(map[int]LogEntry)}
}

// NextIndex is the slot the next locally-originated commit will use.
func (c *CommitLog) NextIndex() int {
	return c.nextIndex
}

// AppendAt records an entry at the given index and advances NextIndex
// past it if necessary. The Handler's COMMIT path (§4.B) always calls
// this with the index carried on the wire; the Replicator's own commit
// path (§4.D) calls it with NextIndex() as the index, which is always
// the contiguous case.
func (c *CommitLog) AppendAt(index int, sender, message string) LogEntry {
	entry := LogEntry{Index: index, Sender: sender, Message: message}
	c.entries[index] = entry
	if index+1 > c.nextIndex {
		c.nextIndex = index + 1
	}
	return entry
}

// FastForward advances NextIndex without adding entries, used by
// announce() when max(collected SYSTEM_INDEX values) exceeds what this
// node has locally. The resulting gap is left for the next COMMIT or an
// explicit history fetch to fill, per the specification's open-question
// resolution on announce().
func (c *CommitLog) FastForward(index int) {
	if index > c.nextIndex {
		c.nextIndex = index
	}
}

// Replace wholesale-replaces the log, as used by gap recovery and the
// bootstrap history fetch. It returns the entries whose index was not
// held locally before the replace (including holes left below a
// fast-forwarded NextIndex()), so the caller can emit catch-up events for
// exactly the newly observed ones.
func (c *CommitLog) Replace(entries []LogEntry) []LogEntry {
	previous := c.entries

	next := make(map[int]LogEntry, len(entries))
	maxIndex := 0
	for _, e := range entries {
		next[e.Index] = e
		if e.Index+1 > maxIndex {
			maxIndex = e.Index + 1
		}
	}
	c.entries = next
	if maxIndex > c.nextIndex {
		c.nextIndex = maxIndex
	}

	var fresh []LogEntry
	for _, e := range entries {
		if _, held := previous[e.Index]; !held {
			fresh = append(fresh, e)
		}
	}
	return fresh
}

// Snapshot returns the contiguous prefix of history, in index order,
// safe for the caller to retain (e.g. to serialize into a GET_HISTORY
// response). Any index beyond the first hole is omitted; a peer with a
// genuine gap is expected to have one outstanding the next time it is
// asked, which is itself a signal to whoever reads an incomplete
// snapshot that another recovery round is needed.
func (c *CommitLog) Snapshot() []LogEntry {
	out := make([]LogEntry, 0, len(c.entries))
	for i := 0; i < c.nextIndex; i++ {
		e, ok := c.entries[i]
		if !ok {
			break
		}
		out = append(out, e)
	}
	return out
}

// HasGap reports whether some index below NextIndex() is still missing.
func (c *CommitLog) HasGap() bool {
	for i := 0; i < c.nextIndex; i++ {
		if _, ok := c.entries[i]; !ok {
			return true
		}
	}
	return false
}

// Validate checks invariant P1 for test assertions: the dense prefix
// returned by Snapshot must carry index i at position i. Since entries
// are stored keyed by their own index this can only fail if calling code
// bypasses AppendAt/Replace, which Validate exists to catch in tests.
func (c *CommitLog) Validate() error {
	for i, e := range c.Snapshot() {
		if e.Index != i {
			return fmt.Errorf("commit log invariant violated: entry at position %d carries index %d", i, e.Index)
		}
	}
	return nil
}
