package ledger_test

import (
	"fmt"
	"testing"
	"time"

	"laneguard/internal/domain"
	"laneguard/internal/ledger"
	"laneguard/internal/store"
)

func newWriter(t *testing.T) ledger.Writer {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	now := func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return ledger.Writer{Store: st, Now: now}
}

func TestTailEmptyLedger(t *testing.T) {
	w := newWriter(t)
	entries, err := w.Tail("w-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %v, want none", entries)
	}
}

func TestAppendStampsAndTailOrders(t *testing.T) {
	w := newWriter(t)
	for i := 0; i < 5; i++ {
		err := w.Append("w-1", domain.LedgerEntry{
			Action:  fmt.Sprintf("step.%d", i),
			ActorID: "system",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	entries, err := w.Tail("w-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 {
		t.Fatalf("entries = %d, want 5", len(entries))
	}
	for i, e := range entries {
		if e.Action != fmt.Sprintf("step.%d", i) {
			t.Fatalf("entries[%d].action = %s", i, e.Action)
		}
		if e.WorkID != "w-1" {
			t.Fatalf("entries[%d].work_id = %s", i, e.WorkID)
		}
		if e.Timestamp != "2026-03-01T09:00:00Z" {
			t.Fatalf("entries[%d].timestamp = %s", i, e.Timestamp)
		}
	}

	tail, err := w.Tail("w-1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 || tail[0].Action != "step.3" || tail[1].Action != "step.4" {
		t.Fatalf("tail = %+v, want last two oldest first", tail)
	}
}

func TestLedgersAreSeparatePerWorkItem(t *testing.T) {
	w := newWriter(t)
	if err := w.Append("w-1", domain.LedgerEntry{Action: "work.intake"}); err != nil {
		t.Fatal(err)
	}
	if err := w.Append("w-2", domain.LedgerEntry{Action: "work.intake"}); err != nil {
		t.Fatal(err)
	}
	entries, err := w.Tail("w-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
}

func TestWaiverDecisionLatestRecordWins(t *testing.T) {
	w := newWriter(t)
	first := domain.WaiverDecision{
		ID: "d-1", WorkID: "w-1", Category: "e2e",
		Reason: "covered by monitor", WaivedBy: "qa-bob",
	}
	if err := w.AppendWaiverDecision(first); err != nil {
		t.Fatal(err)
	}
	if err := w.AppendWaiverDecision(domain.WaiverDecision{
		ID: "d-2", WorkID: "w-2", Category: "unit", Reason: "legacy area",
	}); err != nil {
		t.Fatal(err)
	}

	decisions, err := w.WaiverDecisions()
	if err != nil {
		t.Fatal(err)
	}
	if len(decisions) != 2 {
		t.Fatalf("decisions = %d, want 2", len(decisions))
	}
	if decisions[0].Status != "pending" || decisions[0].CreatedAt == "" {
		t.Fatalf("decisions[0] = %+v, want stamped pending", decisions[0])
	}

	// ratification is a superseding append, not a rewrite
	first.Status = "ratified"
	first.DecidedBy = "lead-carol"
	if err := w.AppendWaiverDecision(first); err != nil {
		t.Fatal(err)
	}
	decisions, err = w.WaiverDecisions()
	if err != nil {
		t.Fatal(err)
	}
	if len(decisions) != 2 {
		t.Fatalf("decisions = %d after ratification, want 2", len(decisions))
	}
	if decisions[0].ID != "d-1" || decisions[0].Status != "ratified" || decisions[0].DecidedBy != "lead-carol" {
		t.Fatalf("decisions[0] = %+v, want ratified in place", decisions[0])
	}
	if decisions[1].ID != "d-2" || decisions[1].Status != "pending" {
		t.Fatalf("decisions[1] = %+v", decisions[1])
	}
}
