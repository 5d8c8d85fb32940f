package store_test

import (
	"errors"
	"os"
	"testing"

	"laneguard/internal/domain"
	"laneguard/internal/store"
)

func newStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return st
}

func TestGetMetaMissingIsNotFound(t *testing.T) {
	st := newStore(t)
	_, err := st.GetMeta("w-1")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMetaRoundtrip(t *testing.T) {
	st := newStore(t)
	in := domain.WorkItem{WorkID: "w-1", Title: "fix login", TeamID: "core", Kind: "bugfix"}
	if err := st.PutMeta("w-1", in); err != nil {
		t.Fatal(err)
	}
	out, err := st.GetMeta("w-1")
	if err != nil {
		t.Fatal(err)
	}
	if out.WorkID != in.WorkID || out.Title != in.Title || out.TeamID != in.TeamID || out.Kind != in.Kind {
		t.Fatalf("got %+v, want %+v", out, in)
	}
	if !st.Exists("w-1") || st.Exists("w-2") {
		t.Fatal("Exists must track META.json")
	}
}

func TestPutStatusAppendsHistory(t *testing.T) {
	st := newStore(t)
	stages := []string{domain.StageIntakeReceived, domain.StageRouted, domain.StageSweepReady}
	for _, stage := range stages {
		if err := st.PutStatus("w-1", domain.StatusSnapshot{WorkID: "w-1", Stage: stage}); err != nil {
			t.Fatal(err)
		}
	}
	cur, err := st.GetStatus("w-1")
	if err != nil {
		t.Fatal(err)
	}
	if cur.Stage != domain.StageSweepReady {
		t.Fatalf("stage = %s", cur.Stage)
	}
	history, err := st.GetStatusHistory("w-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != len(stages) {
		t.Fatalf("history length = %d, want %d", len(history), len(stages))
	}
	for i, stage := range stages {
		if history[i].Stage != stage {
			t.Fatalf("history[%d] = %s, want %s", i, history[i].Stage, stage)
		}
	}
}

func TestAbsenceTolerantReaders(t *testing.T) {
	st := newStore(t)
	attempts, err := st.GetCIAttempts("w-1")
	if err != nil || attempts.FixAttempts != 0 {
		t.Fatalf("attempts = %+v, %v, want zero value and no error", attempts, err)
	}
	drifts, err := st.GetDrift("w-1")
	if err != nil || drifts != nil {
		t.Fatalf("drifts = %v, %v, want none and no error", drifts, err)
	}
}

func TestListWorkItemsSkipsNonItems(t *testing.T) {
	st := newStore(t)
	for _, id := range []string{"w-b", "w-a"} {
		if err := st.PutMeta(id, domain.WorkItem{WorkID: id}); err != nil {
			t.Fatal(err)
		}
	}
	// a directory without META.json is not a work item
	if err := os.MkdirAll(st.ItemDir("scratch"), 0o755); err != nil {
		t.Fatal(err)
	}
	ids, err := st.ListWorkItems()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "w-a" || ids[1] != "w-b" {
		t.Fatalf("ids = %v, want sorted [w-a w-b]", ids)
	}
}

func TestAcquireIsExclusivePerWorkItem(t *testing.T) {
	st := newStore(t)
	lock, err := st.Acquire("w-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := st.Acquire("w-1"); !errors.Is(err, store.ErrLocked) {
		t.Fatalf("second acquire err = %v, want ErrLocked", err)
	}
	// a different work item is independent
	other, err := st.Acquire("w-2")
	if err != nil {
		t.Fatalf("acquire w-2: %v", err)
	}
	if err := other.Release(); err != nil {
		t.Fatal(err)
	}
	if err := lock.Release(); err != nil {
		t.Fatal(err)
	}
	relocked, err := st.Acquire("w-1")
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	if err := relocked.Release(); err != nil {
		t.Fatal(err)
	}
	// releasing twice is harmless
	if err := relocked.Release(); err != nil {
		t.Fatal(err)
	}
}
