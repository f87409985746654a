package types

import "testing"

func TestCommitLog_AppendAndSnapshot(t *testing.T) {
	log := NewCommitLog()
	for i := 0; i < 10; i++ {
		log.AppendAt(log.NextIndex(), "alice", "msg")
	}

	if log.NextIndex() != 10 {
		t.Fatalf("expected next index 10, found %d", log.NextIndex())
	}

	entries := log.Snapshot()
	if len(entries) != 10 {
		t.Fatalf("expected 10 entries, found %d", len(entries))
	}
	for i, e := range entries {
		if e.Index != i {
			t.Errorf("expected index %d, found %d", i, e.Index)
		}
	}
	if err := log.Validate(); err != nil {
		t.Errorf("unexpected invariant violation: %v", err)
	}
}

func TestCommitLog_FastForwardLeavesGap(t *testing.T) {
	log := NewCommitLog()
	log.FastForward(3)

	if log.NextIndex() != 3 {
		t.Fatalf("expected next index 3, found %d", log.NextIndex())
	}
	if !log.HasGap() {
		t.Fatalf("expected a gap after fast-forwarding past empty history")
	}
	if len(log.Snapshot()) != 0 {
		t.Fatalf("snapshot should stop at the first hole, got %d entries", len(log.Snapshot()))
	}
}

func TestCommitLog_GapRecoveryFillsHole(t *testing.T) {
	log := NewCommitLog()
	log.FastForward(3)

	fresh := log.Replace([]LogEntry{
		{Index: 0, Sender: "a", Message: "one"},
		{Index: 1, Sender: "b", Message: "two"},
		{Index: 2, Sender: "a", Message: "three"},
	})
	if len(fresh) != 3 {
		t.Fatalf("expected all 3 entries to be reported fresh, got %d", len(fresh))
	}
	if log.HasGap() {
		t.Fatalf("expected no gap after full replace")
	}
	if err := log.Validate(); err != nil {
		t.Fatalf("unexpected invariant violation: %v", err)
	}
}

func TestCommitLog_AppendAtOutOfOrderThenBackfill(t *testing.T) {
	log := NewCommitLog()
	log.AppendAt(3, "carol", "late")

	if log.NextIndex() != 4 {
		t.Fatalf("expected next index 4, found %d", log.NextIndex())
	}
	if len(log.Snapshot()) != 0 {
		t.Fatalf("snapshot should be empty until the gap before index 3 is filled")
	}

	log.AppendAt(0, "a", "0")
	log.AppendAt(1, "b", "1")
	log.AppendAt(2, "a", "2")

	if len(log.Snapshot()) != 4 {
		t.Fatalf("expected 4 contiguous entries after backfill, got %d", len(log.Snapshot()))
	}
}
