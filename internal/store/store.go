// Package store is the file-backed artifact store for work items. The
// filesystem is the source of truth; every write replaces a whole file via
// temp-file rename so an interrupted transition leaves the prior artifact
// standing.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"laneguard/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Store reads and writes the per-work-item artifact set under WorkRoot.
type Store struct {
	WorkRoot string
}

// New returns a Store rooted at workRoot, creating the root if missing.
func New(workRoot string) (Store, error) {
	if workRoot == "" {
		return Store{}, errors.New("work root is required")
	}
	if err := os.MkdirAll(workRoot, 0o755); err != nil {
		return Store{}, err
	}
	return Store{WorkRoot: workRoot}, nil
}

func (s Store) ItemDir(workID string) string {
	return filepath.Join(s.WorkRoot, workID)
}

// Artifact paths, per the persisted layout.

func (s Store) MetaPath(workID string) string    { return filepath.Join(s.ItemDir(workID), "META.json") }
func (s Store) RoutingPath(workID string) string { return filepath.Join(s.ItemDir(workID), "ROUTING.json") }
func (s Store) BundlePath(workID string) string  { return filepath.Join(s.ItemDir(workID), "BUNDLE.json") }
func (s Store) StatusPath(workID string) string  { return filepath.Join(s.ItemDir(workID), "status.json") }
func (s Store) StatusHistoryPath(workID string) string {
	return filepath.Join(s.ItemDir(workID), "status-history.json")
}
func (s Store) LedgerPath(workID string) string {
	return filepath.Join(s.ItemDir(workID), "LEDGER.jsonl")
}
func (s Store) ApplyApprovalPath(workID string) string {
	return filepath.Join(s.ItemDir(workID), "APPLY_APPROVAL.json")
}
func (s Store) MergeApprovalPath(workID string) string {
	return filepath.Join(s.ItemDir(workID), "MERGE_APPROVAL.json")
}
func (s Store) CIStatusPath(workID string) string {
	return filepath.Join(s.ItemDir(workID), "CI", "CI_Status.json")
}
func (s Store) CIAttemptsPath(workID string) string {
	return filepath.Join(s.ItemDir(workID), "CI", "attempts.json")
}
func (s Store) QAObligationsPath(workID string) string {
	return filepath.Join(s.ItemDir(workID), "QA", "obligations.json")
}
func (s Store) QAApprovalPath(workID string) string {
	return filepath.Join(s.ItemDir(workID), "QA_APPROVAL.json")
}
func (s Store) DriftPath(workID string) string {
	return filepath.Join(s.ItemDir(workID), "DRIFT.json")
}
func (s Store) ProposalPath(workID, repoID string) string {
	return filepath.Join(s.ItemDir(workID), "repos", repoID, "PROPOSAL.json")
}
func (s Store) PatchPlanPath(workID, repoID string) string {
	return filepath.Join(s.ItemDir(workID), "repos", repoID, "PATCH_PLAN.json")
}
func (s Store) QAPlanPath(workID, repoID string) string {
	return filepath.Join(s.ItemDir(workID), "repos", repoID, "QA_PLAN.json")
}
func (s Store) SSOTBundlePath(workID, scope string) string {
	return filepath.Join(s.ItemDir(workID), "refs", scope, "SSOT_BUNDLE.json")
}

// ReadRaw returns the raw bytes of an artifact, mapping absence to
// ErrNotFound so callers can distinguish missing from unreadable.
func (s Store) ReadRaw(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

func (s Store) readJSON(path string, v any) error {
	data, err := s.ReadRaw(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// writeJSON writes the whole file atomically: marshal, temp file, rename.
func (s Store) writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s Store) GetMeta(workID string) (domain.WorkItem, error) {
	var m domain.WorkItem
	err := s.readJSON(s.MetaPath(workID), &m)
	return m, err
}

func (s Store) PutMeta(workID string, m domain.WorkItem) error {
	return s.writeJSON(s.MetaPath(workID), m)
}

func (s Store) GetRouting(workID string) (domain.Routing, error) {
	var r domain.Routing
	err := s.readJSON(s.RoutingPath(workID), &r)
	return r, err
}

func (s Store) PutRouting(workID string, r domain.Routing) error {
	return s.writeJSON(s.RoutingPath(workID), r)
}

func (s Store) GetStatus(workID string) (domain.StatusSnapshot, error) {
	var st domain.StatusSnapshot
	err := s.readJSON(s.StatusPath(workID), &st)
	return st, err
}

// PutStatus replaces status.json and appends the snapshot to
// status-history.json so prior stages stay auditable.
func (s Store) PutStatus(workID string, st domain.StatusSnapshot) error {
	var history []domain.StatusSnapshot
	if err := s.readJSON(s.StatusHistoryPath(workID), &history); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	history = append(history, st)
	if err := s.writeJSON(s.StatusHistoryPath(workID), history); err != nil {
		return err
	}
	return s.writeJSON(s.StatusPath(workID), st)
}

func (s Store) GetStatusHistory(workID string) ([]domain.StatusSnapshot, error) {
	var history []domain.StatusSnapshot
	err := s.readJSON(s.StatusHistoryPath(workID), &history)
	return history, err
}

func (s Store) GetBundle(workID string) (domain.Bundle, error) {
	var b domain.Bundle
	err := s.readJSON(s.BundlePath(workID), &b)
	return b, err
}

func (s Store) PutBundle(workID string, b domain.Bundle) error {
	return s.writeJSON(s.BundlePath(workID), b)
}

func (s Store) GetApplyApproval(workID string) (domain.ApplyApproval, error) {
	var a domain.ApplyApproval
	err := s.readJSON(s.ApplyApprovalPath(workID), &a)
	return a, err
}

func (s Store) PutApplyApproval(workID string, a domain.ApplyApproval) error {
	return s.writeJSON(s.ApplyApprovalPath(workID), a)
}

func (s Store) GetMergeApproval(workID string) (domain.MergeApproval, error) {
	var a domain.MergeApproval
	err := s.readJSON(s.MergeApprovalPath(workID), &a)
	return a, err
}

func (s Store) PutMergeApproval(workID string, a domain.MergeApproval) error {
	return s.writeJSON(s.MergeApprovalPath(workID), a)
}

func (s Store) GetCIStatus(workID string) (domain.CIStatus, error) {
	var ci domain.CIStatus
	err := s.readJSON(s.CIStatusPath(workID), &ci)
	return ci, err
}

func (s Store) PutCIStatus(workID string, ci domain.CIStatus) error {
	return s.writeJSON(s.CIStatusPath(workID), ci)
}

func (s Store) GetCIAttempts(workID string) (domain.CIAttempts, error) {
	var a domain.CIAttempts
	err := s.readJSON(s.CIAttemptsPath(workID), &a)
	if errors.Is(err, ErrNotFound) {
		return domain.CIAttempts{}, nil
	}
	return a, err
}

func (s Store) PutCIAttempts(workID string, a domain.CIAttempts) error {
	return s.writeJSON(s.CIAttemptsPath(workID), a)
}

func (s Store) GetQAObligations(workID string) (domain.QAObligations, error) {
	var q domain.QAObligations
	err := s.readJSON(s.QAObligationsPath(workID), &q)
	return q, err
}

func (s Store) PutQAObligations(workID string, q domain.QAObligations) error {
	return s.writeJSON(s.QAObligationsPath(workID), q)
}

func (s Store) GetQAApproval(workID string) (domain.QAApproval, error) {
	var q domain.QAApproval
	err := s.readJSON(s.QAApprovalPath(workID), &q)
	return q, err
}

func (s Store) PutQAApproval(workID string, q domain.QAApproval) error {
	return s.writeJSON(s.QAApprovalPath(workID), q)
}

// GetDrift returns recorded SSOT drift violations; absence means none.
func (s Store) GetDrift(workID string) ([]domain.SSOTDrift, error) {
	var drifts []domain.SSOTDrift
	err := s.readJSON(s.DriftPath(workID), &drifts)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return drifts, err
}

func (s Store) PutDrift(workID string, drifts []domain.SSOTDrift) error {
	return s.writeJSON(s.DriftPath(workID), drifts)
}

// ListWorkItems returns all work ids under the root, sorted.
func (s Store) ListWorkItems() ([]string, error) {
	entries, err := os.ReadDir(s.WorkRoot)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(s.MetaPath(e.Name())); err != nil {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// Exists reports whether a work item directory with META.json exists.
func (s Store) Exists(workID string) bool {
	_, err := os.Stat(s.MetaPath(workID))
	return err == nil
}
