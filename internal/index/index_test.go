package index_test

import (
	"fmt"
	"testing"

	"laneguard/internal/domain"
	"laneguard/internal/index"
	"laneguard/internal/store"
)

func seed(t *testing.T, st store.Store, id, team, stage, updatedAt string) {
	t.Helper()
	if err := st.PutMeta(id, domain.WorkItem{WorkID: id, Title: "item " + id, TeamID: team}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutStatus(id, domain.StatusSnapshot{WorkID: id, Stage: stage, UpdatedAt: updatedAt}); err != nil {
		t.Fatal(err)
	}
}

func TestRebuildAndList(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for i, spec := range []struct{ team, stage string }{
		{"core", domain.StageBlocked},
		{"core", domain.StageDone},
		{"payments", domain.StageBlocked},
	} {
		seed(t, st, fmt.Sprintf("w-%d", i), spec.team, spec.stage, fmt.Sprintf("2026-04-0%dT00:00:00Z", i+1))
	}

	ix, err := index.Open(st.WorkRoot)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ix.Close()

	n, err := ix.Rebuild(st)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if n != 3 {
		t.Fatalf("indexed %d rows, want 3", n)
	}

	rows, err := ix.List(index.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	// newest first
	if rows[0].WorkID != "w-2" || rows[2].WorkID != "w-0" {
		t.Fatalf("order = %s..%s", rows[0].WorkID, rows[2].WorkID)
	}

	rows, err = ix.List(index.ListOptions{Stage: domain.StageBlocked, TeamID: "core"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].WorkID != "w-0" {
		t.Fatalf("filtered rows = %+v", rows)
	}

	rows, err = ix.List(index.ListOptions{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("limited rows = %d, want 2", len(rows))
	}
}

func TestRebuildIsIdempotentAndDropsStale(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	seed(t, st, "w-1", "core", domain.StageRouted, "2026-04-01T00:00:00Z")

	ix, err := index.Open(st.WorkRoot)
	if err != nil {
		t.Fatal(err)
	}
	defer ix.Close()
	if _, err := ix.Rebuild(st); err != nil {
		t.Fatal(err)
	}

	// a row for an item that no longer has a status must not survive rebuild
	if err := ix.Upsert(domain.WorkItem{WorkID: "ghost"}, domain.StatusSnapshot{
		WorkID: "ghost", Stage: domain.StageDone, UpdatedAt: "2026-04-02T00:00:00Z",
	}); err != nil {
		t.Fatal(err)
	}
	n, err := ix.Rebuild(st)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("indexed %d rows, want 1", n)
	}
	rows, err := ix.List(index.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].WorkID != "w-1" {
		t.Fatalf("rows = %+v", rows)
	}
}
