// Package laneguardsdk is a minimal typed client for the Laneguard HTTP
// API. Types here are partial mirrors of the API models.
package laneguardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Laneguard HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// WorkItem mirrors the API work item meta.
type WorkItem struct {
	WorkID       string   `json:"work_id"`
	Title        string   `json:"title,omitempty"`
	Kind         string   `json:"kind,omitempty"`
	TeamID       string   `json:"team_id,omitempty"`
	RepoScopes   []string `json:"repo_scopes,omitempty"`
	TargetBranch string   `json:"target_branch,omitempty"`
	CreatedAt    string   `json:"created_at"`
}

// Status mirrors the persisted status snapshot.
type Status struct {
	WorkID         string `json:"work_id"`
	Stage          string `json:"stage"`
	BlockingReason string `json:"blocking_reason,omitempty"`
	BundleHash     string `json:"bundle_hash,omitempty"`
	HighestRisk    string `json:"highest_risk,omitempty"`
	PRNumber       int    `json:"pr_number,omitempty"`
	PRURL          string `json:"pr_url,omitempty"`
	UpdatedAt      string `json:"updated_at"`
}

// Approval is the shared shape of apply and merge approvals.
type Approval struct {
	Status              string   `json:"status"`
	Mode                string   `json:"mode,omitempty"`
	BundleHash          string   `json:"bundle_hash"`
	HighestRisk         string   `json:"highest_risk,omitempty"`
	ReasonCodes         []string `json:"reason_codes,omitempty"`
	ApprovedBy          string   `json:"approved_by,omitempty"`
	DualSignoffRequired bool     `json:"dual_signoff_required,omitempty"`
	WaivedCategories    []string `json:"waived_categories,omitempty"`
}

// Decision is one decisions-queue entry.
type Decision struct {
	WorkID         string `json:"work_id"`
	Stage          string `json:"stage"`
	BlockingReason string `json:"blocking_reason,omitempty"`
	HighestRisk    string `json:"highest_risk,omitempty"`
	UpdatedAt      string `json:"updated_at"`
}

// LedgerEntry is one audit record.
type LedgerEntry struct {
	Timestamp  string         `json:"timestamp"`
	Action     string         `json:"action"`
	ActorID    string         `json:"actor_id,omitempty"`
	FromStage  string         `json:"from_stage,omitempty"`
	ToStage    string         `json:"to_stage,omitempty"`
	BundleHash string         `json:"bundle_hash,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateWork creates a work item.
func (c *Client) CreateWork(ctx context.Context, title, kind, teamID string, repoScopes []string) (WorkItem, error) {
	body := map[string]any{
		"title":       title,
		"kind":        kind,
		"team_id":     teamID,
		"repo_scopes": repoScopes,
	}
	var resp WorkItem
	err := c.do(ctx, http.MethodPost, "work", body, &resp)
	return resp, err
}

// GetWork fetches a work item's meta and status.
func (c *Client) GetWork(ctx context.Context, workID string) (WorkItem, Status, error) {
	var resp struct {
		Meta   WorkItem `json:"meta"`
		Status Status   `json:"status"`
	}
	err := c.do(ctx, http.MethodGet, c.workPath(workID, ""), nil, &resp)
	return resp.Meta, resp.Status, err
}

// RequestApplyApproval runs the pre-apply gate.
func (c *Client) RequestApplyApproval(ctx context.Context, workID string) (Approval, error) {
	var resp Approval
	err := c.do(ctx, http.MethodPost, c.workPath(workID, "approvals/apply"), nil, &resp)
	return resp, err
}

// DecideApplyApproval decides a pending apply approval.
func (c *Client) DecideApplyApproval(ctx context.Context, workID string, approve bool) (Approval, error) {
	var resp Approval
	err := c.do(ctx, http.MethodPost, c.workPath(workID, "approvals/apply/decision"), map[string]any{"approve": approve}, &resp)
	return resp, err
}

// RequestMergeApproval runs the pre-merge gate.
func (c *Client) RequestMergeApproval(ctx context.Context, workID string) (Approval, error) {
	var resp Approval
	err := c.do(ctx, http.MethodPost, c.workPath(workID, "approvals/merge"), nil, &resp)
	return resp, err
}

// DecideMergeApproval decides a pending merge approval.
func (c *Client) DecideMergeApproval(ctx context.Context, workID string, approve bool) (Approval, error) {
	var resp Approval
	err := c.do(ctx, http.MethodPost, c.workPath(workID, "approvals/merge/decision"), map[string]any{"approve": approve}, &resp)
	return resp, err
}

// Decisions lists items blocked on a human decision.
func (c *Client) Decisions(ctx context.Context) ([]Decision, error) {
	var resp []Decision
	err := c.do(ctx, http.MethodGet, "decisions", nil, &resp)
	return resp, err
}

// LedgerTail returns the last n ledger entries for a work item.
func (c *Client) LedgerTail(ctx context.Context, workID string, limit int) ([]LedgerEntry, error) {
	endpoint := c.workPath(workID, "ledger")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []LedgerEntry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) workPath(workID, suffix string) string {
	p := "work/" + url.PathEscape(workID)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = "http://127.0.0.1:8080/v1"
	}
	return base
}
