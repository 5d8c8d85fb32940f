// Package ledger appends audit records as line-delimited JSON. Ledger files
// are never rewritten, only appended.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"laneguard/internal/domain"
	"laneguard/internal/store"
)

// Writer appends entries to per-work-item ledgers and the shared waiver
// decision log.
type Writer struct {
	Store store.Store
	Now   func() time.Time
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Append writes one ledger entry for a work item.
func (w Writer) Append(workID string, entry domain.LedgerEntry) error {
	entry.WorkID = workID
	if entry.Timestamp == "" {
		entry.Timestamp = w.now().UTC().Format(time.RFC3339)
	}
	return appendLine(w.Store.LedgerPath(workID), entry)
}

// Tail returns the last n entries of a work item's ledger, oldest first.
func (w Writer) Tail(workID string, n int) ([]domain.LedgerEntry, error) {
	entries, err := readAll[domain.LedgerEntry](w.Store.LedgerPath(workID))
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

func (w Writer) decisionsPath() string {
	return filepath.Join(w.Store.WorkRoot, "decisions.jsonl")
}

// AppendWaiverDecision records a waived QA obligation pending ratification.
func (w Writer) AppendWaiverDecision(d domain.WaiverDecision) error {
	if d.CreatedAt == "" {
		d.CreatedAt = w.now().UTC().Format(time.RFC3339)
	}
	if d.Status == "" {
		d.Status = "pending"
	}
	return appendLine(w.decisionsPath(), d)
}

// WaiverDecisions returns all recorded waiver decisions, oldest first. The
// latest record per decision id wins, so ratification is itself an append.
func (w Writer) WaiverDecisions() ([]domain.WaiverDecision, error) {
	all, err := readAll[domain.WaiverDecision](w.decisionsPath())
	if err != nil {
		return nil, err
	}
	latest := map[string]int{}
	var out []domain.WaiverDecision
	for _, d := range all {
		if i, ok := latest[d.ID]; ok {
			out[i] = d
			continue
		}
		latest[d.ID] = len(out)
		out = append(out, d)
	}
	return out, nil
}

func appendLine(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal ledger entry: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

func readAll[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
