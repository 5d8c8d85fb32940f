// Package vcs defines the opaque VCS/PR provider contract. The core never
// manipulates repository content; it only consumes the JSON snapshots the
// external tooling produces.
package vcs

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"laneguard/internal/domain"
	"laneguard/internal/store"
)

// PRResult is the provider's answer to a PR-creation request.
type PRResult struct {
	OK       bool   `json:"ok"`
	PRNumber int    `json:"pr_number,omitempty"`
	URL      string `json:"url,omitempty"`
	HeadSHA  string `json:"head_sha,omitempty"`
	Message  string `json:"message,omitempty"`
}

// CreatePRRequest names the branch and repos a PR should cover.
type CreatePRRequest struct {
	WorkID       string
	Repos        []string
	TargetBranch string
	Title        string
}

// Provider is the blocking, synchronous PR-provider contract. Calls return
// a structured result or an error; retries belong to the orchestrator's
// polling loop, not here.
type Provider interface {
	CreatePR(ctx context.Context, req CreatePRRequest) (PRResult, error)
	CIStatus(ctx context.Context, workID string) (domain.CIStatus, error)
}

// SnapshotProvider reads the JSON snapshots the external git/hosting CLI
// drops into the work item directory: PR.json on creation and
// CI/CI_Status.json on status query.
type SnapshotProvider struct {
	Store store.Store
}

func (p SnapshotProvider) prPath(workID string) string {
	return filepath.Join(p.Store.ItemDir(workID), "PR.json")
}

func (p SnapshotProvider) CreatePR(ctx context.Context, req CreatePRRequest) (PRResult, error) {
	data, err := p.Store.ReadRaw(p.prPath(req.WorkID))
	if err != nil {
		return PRResult{}, fmt.Errorf("pr snapshot: %w", err)
	}
	var res PRResult
	if err := json.Unmarshal(data, &res); err != nil {
		return PRResult{}, fmt.Errorf("pr snapshot: %w", err)
	}
	return res, nil
}

func (p SnapshotProvider) CIStatus(ctx context.Context, workID string) (domain.CIStatus, error) {
	return p.Store.GetCIStatus(workID)
}
