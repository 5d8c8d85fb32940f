// Package engine drives a work item through the delivery pipeline. Every
// operation reads the persisted status, computes the next stage and writes
// a new snapshot plus a ledger entry; there is no timer-driven transition,
// and a failed operation leaves the prior stage authoritative.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"laneguard/internal/bundle"
	"laneguard/internal/config"
	"laneguard/internal/domain"
	"laneguard/internal/feedback"
	"laneguard/internal/gate"
	"laneguard/internal/ledger"
	"laneguard/internal/policy"
	"laneguard/internal/schema"
	"laneguard/internal/store"
	"laneguard/internal/vcs"
)

type Engine struct {
	Store    store.Store
	Ledger   ledger.Writer
	Policies *policy.Document
	Config   *config.Config
	VCS      vcs.Provider
	Feedback feedback.Sink
	Now      func() time.Time
}

// New wires an engine over a work root. The snapshot provider is the
// default VCS collaborator; callers may substitute their own.
func New(st store.Store, policies *policy.Document, cfg *config.Config) Engine {
	e := Engine{
		Store:    st,
		Policies: policies,
		Config:   cfg,
		Now:      time.Now,
	}
	e.Ledger = ledger.Writer{Store: st, Now: e.Now}
	e.VCS = vcs.SnapshotProvider{Store: st}
	e.Feedback = feedback.Sink{Root: st.WorkRoot, Webhooks: cfg.Webhooks, Now: e.Now}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) applyGate() gate.ApplyGate {
	return gate.ApplyGate{Store: e.Store, Policies: e.Policies, Config: e.Config, Now: e.Now}
}

func (e Engine) mergeGate() gate.MergeGate {
	return gate.MergeGate{
		Store: e.Store, Policies: e.Policies, Config: e.Config,
		Ledger: e.Ledger, Feedback: e.Feedback, Now: e.Now,
	}
}

// ensureTransition enforces the pipeline's stage graph.
func ensureTransition(oldStage, newStage string) error {
	if newStage == domain.StageEscalated && !terminal(oldStage) {
		return nil
	}
	allowed := map[string][]string{
		domain.StageIntakeReceived:        {domain.StageRouted, domain.StageBlocked},
		domain.StageRouted:                {domain.StageSweepReady, domain.StageBlocked},
		domain.StageBlocked:               {domain.StageBlocked, domain.StageSweepReady, domain.StageRejected},
		domain.StageSweepReady:            {domain.StagePatchPlanned, domain.StageBlocked},
		domain.StagePatchPlanned:          {domain.StageBundled},
		domain.StageBundled:               {domain.StageBundled, domain.StageApplyApprovalPending, domain.StageApplyApprovalApproved, domain.StageRejected},
		domain.StageApplyApprovalPending:  {domain.StageApplyApprovalPending, domain.StageApplyApprovalApproved, domain.StageRejected, domain.StageBundled},
		domain.StageApplyApprovalApproved: {domain.StageApplying},
		domain.StageApplying:              {domain.StageApplied, domain.StageFailed},
		domain.StageApplied:               {domain.StageCIPending},
		domain.StageCIPending:             {domain.StageCIPending, domain.StageCIGreen, domain.StageCIFailed},
		domain.StageCIFailed:              {domain.StageCIFixing, domain.StageFailed},
		domain.StageCIFixing:              {domain.StageCIFixing, domain.StageCIPending, domain.StageCIGreen, domain.StageCIFailed, domain.StageFailed},
		domain.StageCIGreen:               {domain.StageCIGreen, domain.StageMergeApprovalPending, domain.StageCIFailed},
		domain.StageMergeApprovalPending:  {domain.StageMergeApprovalApproved, domain.StageRejected, domain.StageCIFailed},
		domain.StageMergeApprovalApproved: {domain.StageMerged},
		domain.StageMerged:                {domain.StageDone},
	}
	for _, s := range allowed[oldStage] {
		if s == newStage {
			return nil
		}
	}
	return fmt.Errorf("invalid stage transition %s -> %s", oldStage, newStage)
}

func terminal(stage string) bool {
	switch stage {
	case domain.StageDone, domain.StageFailed, domain.StageRejected, domain.StageEscalated:
		return true
	}
	return false
}

// transition writes the new snapshot and its ledger entry. The snapshot
// write is atomic, so an interrupted transition leaves the prior stage.
func (e Engine) transition(workID string, st domain.StatusSnapshot, toStage, action, actorID string, payload map[string]any) (domain.StatusSnapshot, error) {
	if err := ensureTransition(st.Stage, toStage); err != nil {
		return st, err
	}
	from := st.Stage
	st.Stage = toStage
	st.UpdatedAt = e.nowString()
	if toStage != domain.StageBlocked && !pendingStage(toStage) && toStage != domain.StageEscalated {
		st.BlockingReason = ""
	}
	if err := e.Store.PutStatus(workID, st); err != nil {
		return st, err
	}
	entry := domain.LedgerEntry{
		Action:     action,
		ActorID:    actorID,
		FromStage:  from,
		ToStage:    toStage,
		BundleHash: st.BundleHash,
		Payload:    payload,
	}
	if err := e.Ledger.Append(workID, entry); err != nil {
		return st, err
	}
	return st, nil
}

func pendingStage(stage string) bool {
	return stage == domain.StageApplyApprovalPending || stage == domain.StageMergeApprovalPending
}

// IntakeOptions are parameters for creating a work item.
type IntakeOptions struct {
	ID           string
	RawIntakeID  string
	Title        string
	Kind         string
	TeamID       string
	RepoScopes   []string
	TargetBranch string
	DependsOn    []string
	ActorID      string
}

// Intake creates the work item and its initial snapshot.
func (e Engine) Intake(ctx context.Context, opts IntakeOptions) (domain.WorkItem, error) {
	if opts.Title == "" {
		return domain.WorkItem{}, errors.New("title is required")
	}
	now := e.nowString()
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.RawIntakeID+"|"+opts.Title+"|"+now)).String()
	}
	item := domain.WorkItem{
		WorkID:       id,
		CreatedAt:    now,
		RawIntakeID:  opts.RawIntakeID,
		Title:        opts.Title,
		Kind:         opts.Kind,
		TeamID:       opts.TeamID,
		RepoScopes:   opts.RepoScopes,
		TargetBranch: opts.TargetBranch,
		DependsOn:    opts.DependsOn,
	}
	lock, err := e.Store.Acquire(id)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer lock.Release()

	// Checked under the lock so two intakes racing on the same explicit
	// ID cannot both pass.
	if e.Store.Exists(id) {
		return domain.WorkItem{}, fmt.Errorf("work item %s already exists", id)
	}
	if err := e.Store.PutMeta(id, item); err != nil {
		return domain.WorkItem{}, err
	}
	st := domain.StatusSnapshot{WorkID: id, Stage: domain.StageIntakeReceived, UpdatedAt: now}
	if err := e.Store.PutStatus(id, st); err != nil {
		return domain.WorkItem{}, err
	}
	if err := e.Ledger.Append(id, domain.LedgerEntry{
		Action: "work.intake", ActorID: opts.ActorID, ToStage: st.Stage,
		Payload: map[string]any{"title": item.Title, "raw_intake_id": item.RawIntakeID},
	}); err != nil {
		return domain.WorkItem{}, err
	}
	return item, nil
}

// Route records the routing decision. Insufficient confidence or an
// explicit confirmation flag blocks the item pending a human decision.
func (e Engine) Route(ctx context.Context, workID string, routing domain.Routing, actorID string) (domain.StatusSnapshot, error) {
	lock, err := e.Store.Acquire(workID)
	if err != nil {
		return domain.StatusSnapshot{}, err
	}
	defer lock.Release()

	st, err := e.Store.GetStatus(workID)
	if err != nil {
		return st, err
	}
	if st.Stage != domain.StageIntakeReceived && st.Stage != domain.StageBlocked {
		return st, fmt.Errorf("cannot route from stage %s", st.Stage)
	}
	if len(routing.SelectedRepos) == 0 {
		return st, errors.New("routing selects no repos")
	}
	prior, err := e.Store.GetRouting(workID)
	if err == nil && prior.Confirmed {
		return st, errors.New("routing already confirmed; immutable for this cycle")
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return st, err
	}

	routing.DecidedAt = e.nowString()
	confident := routing.RoutingConfidence >= e.Config.Routing.ConfidenceThreshold && !routing.NeedsConfirmation
	routing.Confirmed = confident

	// The routing artifact only changes once the stage change is known
	// to be legal. A blocked item may be re-routed any number of times.
	next := domain.StageSweepReady
	if !confident {
		next = domain.StageBlocked
	}
	first := next
	if st.Stage == domain.StageIntakeReceived {
		first = domain.StageRouted
	}
	if err := ensureTransition(st.Stage, first); err != nil {
		return st, err
	}
	if err := e.Store.PutRouting(workID, routing); err != nil {
		return st, err
	}

	payload := map[string]any{
		"repos":      routing.SelectedRepos,
		"teams":      routing.SelectedTeams,
		"confidence": routing.RoutingConfidence,
	}
	if st.Stage == domain.StageIntakeReceived {
		st, err = e.transition(workID, st, domain.StageRouted, "work.routed", actorID, payload)
		if err != nil {
			return st, err
		}
	}
	if confident {
		return e.transition(workID, st, domain.StageSweepReady, "work.sweep_ready", actorID, nil)
	}
	st.BlockingReason = "routing_confirmation_required"
	return e.transition(workID, st, domain.StageBlocked, "work.blocked", actorID, map[string]any{
		"reason": st.BlockingReason,
	})
}

// ConfirmRouting is the confirm-and-continue half of the two-choice
// resolution for a blocked item; Escalate is the other half.
func (e Engine) ConfirmRouting(ctx context.Context, workID, actorID string) (domain.StatusSnapshot, error) {
	lock, err := e.Store.Acquire(workID)
	if err != nil {
		return domain.StatusSnapshot{}, err
	}
	defer lock.Release()

	st, err := e.Store.GetStatus(workID)
	if err != nil {
		return st, err
	}
	if st.Stage != domain.StageBlocked {
		return st, fmt.Errorf("cannot confirm routing from stage %s", st.Stage)
	}
	routing, err := e.Store.GetRouting(workID)
	if err != nil {
		return st, err
	}
	routing.Confirmed = true
	if err := e.Store.PutRouting(workID, routing); err != nil {
		return st, err
	}
	return e.transition(workID, st, domain.StageSweepReady, "routing.confirmed", actorID, nil)
}

// Escalate hands a non-terminal item to a human escalation path.
func (e Engine) Escalate(ctx context.Context, workID, actorID, reason string) (domain.StatusSnapshot, error) {
	lock, err := e.Store.Acquire(workID)
	if err != nil {
		return domain.StatusSnapshot{}, err
	}
	defer lock.Release()

	st, err := e.Store.GetStatus(workID)
	if err != nil {
		return st, err
	}
	if terminal(st.Stage) {
		return st, fmt.Errorf("cannot escalate terminal stage %s", st.Stage)
	}
	st.BlockingReason = reason
	return e.transition(workID, st, domain.StageEscalated, "work.escalated", actorID, map[string]any{"reason": reason})
}

// MarkPatchPlanned verifies every routed repo has a parsable proposal and
// patch plan, then advances the item. Any unreadable artifact aborts with
// the offending path and no stage change.
func (e Engine) MarkPatchPlanned(ctx context.Context, workID, actorID string) (domain.StatusSnapshot, error) {
	lock, err := e.Store.Acquire(workID)
	if err != nil {
		return domain.StatusSnapshot{}, err
	}
	defer lock.Release()

	st, err := e.Store.GetStatus(workID)
	if err != nil {
		return st, err
	}
	if st.Stage != domain.StageSweepReady {
		return st, fmt.Errorf("cannot mark patch planned from stage %s", st.Stage)
	}
	routing, err := e.Store.GetRouting(workID)
	if err != nil {
		return st, err
	}
	for _, repoID := range routing.SelectedRepos {
		propPath := e.Store.ProposalPath(workID, repoID)
		raw, err := e.Store.ReadRaw(propPath)
		if err != nil {
			return st, err
		}
		if _, iss := schema.DecodeProposal(propPath, raw); iss != nil {
			return st, iss
		}
		planPath := e.Store.PatchPlanPath(workID, repoID)
		raw, err = e.Store.ReadRaw(planPath)
		if err != nil {
			return st, err
		}
		if _, iss := schema.DecodePatchPlan(planPath, raw); iss != nil {
			return st, iss
		}
	}
	return e.transition(workID, st, domain.StagePatchPlanned, "work.patch_planned", actorID, map[string]any{
		"repos": routing.SelectedRepos,
	})
}

// BuildBundle assembles and persists the content-addressed bundle. It may
// run again after any input changes; the hash is recomputed from scratch.
func (e Engine) BuildBundle(ctx context.Context, workID, actorID string) (domain.Bundle, error) {
	lock, err := e.Store.Acquire(workID)
	if err != nil {
		return domain.Bundle{}, err
	}
	defer lock.Release()

	st, err := e.Store.GetStatus(workID)
	if err != nil {
		return domain.Bundle{}, err
	}
	switch st.Stage {
	case domain.StagePatchPlanned, domain.StageBundled, domain.StageApplyApprovalPending:
	default:
		return domain.Bundle{}, fmt.Errorf("cannot bundle from stage %s", st.Stage)
	}

	builder := bundle.Builder{Store: e.Store, Policies: e.Policies, Now: e.Now}
	b, issues := builder.Build(workID)
	if len(issues) > 0 {
		return domain.Bundle{}, &gate.ValidationError{Issues: issues}
	}
	if err := e.Store.PutBundle(workID, b); err != nil {
		return domain.Bundle{}, err
	}
	st.BundleHash = b.BundleHash
	if _, err := e.transition(workID, st, domain.StageBundled, "bundle.built", actorID, map[string]any{
		"bundle_hash": b.BundleHash,
		"repos":       b.Repos,
	}); err != nil {
		return domain.Bundle{}, err
	}
	return b, nil
}

// RequestApplyApproval runs the pre-apply gate and maps its verdict onto
// the work item's stage.
func (e Engine) RequestApplyApproval(ctx context.Context, workID, actorID string) (domain.ApplyApproval, error) {
	lock, err := e.Store.Acquire(workID)
	if err != nil {
		return domain.ApplyApproval{}, err
	}
	defer lock.Release()

	st, err := e.Store.GetStatus(workID)
	if err != nil {
		return domain.ApplyApproval{}, err
	}
	if st.Stage != domain.StageBundled && st.Stage != domain.StageApplyApprovalPending {
		return domain.ApplyApproval{}, fmt.Errorf("cannot request apply approval from stage %s", st.Stage)
	}
	approval, err := e.applyGate().Request(workID)
	if err != nil {
		return domain.ApplyApproval{}, err
	}
	st.HighestRisk = approval.HighestRisk
	switch approval.Status {
	case "approved":
		_, err = e.transition(workID, st, domain.StageApplyApprovalApproved, "apply_approval.auto_approved", "auto", map[string]any{
			"mode": approval.Mode,
		})
	case "rejected":
		st.BlockingReason = strings.Join(approval.ReasonCodes, ",")
		_, err = e.transition(workID, st, domain.StageRejected, "apply_approval.rejected", actorID, map[string]any{
			"reason_codes": approval.ReasonCodes,
		})
	default:
		st.BlockingReason = "apply_approval_pending: " + strings.Join(approval.ReasonCodes, ",")
		_, err = e.transition(workID, st, domain.StageApplyApprovalPending, "apply_approval.pending", actorID, map[string]any{
			"reason_codes": approval.ReasonCodes,
		})
	}
	if err != nil {
		return domain.ApplyApproval{}, err
	}
	return approval, nil
}

// DecideApplyApproval records an explicit human decision on a pending
// apply approval.
func (e Engine) DecideApplyApproval(ctx context.Context, workID string, approve bool, actorID string) (domain.ApplyApproval, error) {
	lock, err := e.Store.Acquire(workID)
	if err != nil {
		return domain.ApplyApproval{}, err
	}
	defer lock.Release()

	st, err := e.Store.GetStatus(workID)
	if err != nil {
		return domain.ApplyApproval{}, err
	}
	if st.Stage != domain.StageApplyApprovalPending {
		return domain.ApplyApproval{}, fmt.Errorf("no pending apply approval at stage %s", st.Stage)
	}
	approval, err := e.applyGate().Decide(workID, approve, actorID)
	if err != nil {
		return domain.ApplyApproval{}, err
	}
	if approve {
		_, err = e.transition(workID, st, domain.StageApplyApprovalApproved, "apply_approval.approved", actorID, nil)
	} else {
		st.BlockingReason = "apply_approval_rejected"
		_, err = e.transition(workID, st, domain.StageRejected, "apply_approval.rejected", actorID, nil)
	}
	if err != nil {
		return domain.ApplyApproval{}, err
	}
	return approval, nil
}

// Apply hands the approved bundle to the VCS provider for PR creation and
// advances through APPLYING, APPLIED and CI_PENDING. A provider failure
// leaves the item at APPLY_APPROVAL_APPROVED.
func (e Engine) Apply(ctx context.Context, workID, actorID string) (domain.StatusSnapshot, error) {
	lock, err := e.Store.Acquire(workID)
	if err != nil {
		return domain.StatusSnapshot{}, err
	}
	defer lock.Release()

	st, err := e.Store.GetStatus(workID)
	if err != nil {
		return st, err
	}
	if st.Stage != domain.StageApplyApprovalApproved {
		return st, fmt.Errorf("cannot apply from stage %s", st.Stage)
	}
	approval, err := e.Store.GetApplyApproval(workID)
	if err != nil {
		return st, err
	}
	b, err := e.Store.GetBundle(workID)
	if err != nil {
		return st, err
	}
	if approval.BundleHash != b.BundleHash {
		return st, fmt.Errorf("%w: approval pinned to %s but bundle is %s", gate.ErrStaleApproval, approval.BundleHash, b.BundleHash)
	}
	meta, err := e.Store.GetMeta(workID)
	if err != nil {
		return st, err
	}
	routing, err := e.Store.GetRouting(workID)
	if err != nil {
		return st, err
	}

	res, err := e.VCS.CreatePR(ctx, vcs.CreatePRRequest{
		WorkID:       workID,
		Repos:        routing.SelectedRepos,
		TargetBranch: routing.TargetBranch,
		Title:        meta.Title,
	})
	if err != nil {
		return st, fmt.Errorf("create pr: %w", err)
	}
	if !res.OK {
		return st, fmt.Errorf("create pr: provider refused: %s", res.Message)
	}

	st, err = e.transition(workID, st, domain.StageApplying, "work.applying", actorID, nil)
	if err != nil {
		return st, err
	}
	st.PRNumber = res.PRNumber
	st.PRURL = res.URL
	st.HeadSHA = res.HeadSHA
	st, err = e.transition(workID, st, domain.StageApplied, "work.applied", actorID, map[string]any{
		"pr_number": res.PRNumber,
		"pr_url":    res.URL,
		"head_sha":  res.HeadSHA,
	})
	if err != nil {
		return st, err
	}
	return e.transition(workID, st, domain.StageCIPending, "ci.pending", actorID, nil)
}

// RequestMergeApproval runs the pre-merge gate for an item whose CI is
// green.
func (e Engine) RequestMergeApproval(ctx context.Context, workID, actorID string) (domain.MergeApproval, error) {
	lock, err := e.Store.Acquire(workID)
	if err != nil {
		return domain.MergeApproval{}, err
	}
	defer lock.Release()

	st, err := e.Store.GetStatus(workID)
	if err != nil {
		return domain.MergeApproval{}, err
	}
	approval, err := e.mergeGate().Request(workID)
	if err != nil {
		return domain.MergeApproval{}, err
	}
	st.BlockingReason = "merge_approval_pending"
	if _, err := e.transition(workID, st, domain.StageMergeApprovalPending, "merge_approval.pending", actorID, map[string]any{
		"dual_signoff_required": approval.DualSignoffRequired,
		"waived_categories":     approval.WaivedCategories,
	}); err != nil {
		return domain.MergeApproval{}, err
	}
	return approval, nil
}

// DecideMergeApproval records the owner's decision on the pending merge
// approval. CI regression at decision time pushes the item back to
// CI_FAILED rather than approving against a stale snapshot.
func (e Engine) DecideMergeApproval(ctx context.Context, workID string, approve bool, actorID string) (domain.MergeApproval, error) {
	lock, err := e.Store.Acquire(workID)
	if err != nil {
		return domain.MergeApproval{}, err
	}
	defer lock.Release()

	st, err := e.Store.GetStatus(workID)
	if err != nil {
		return domain.MergeApproval{}, err
	}
	if st.Stage != domain.StageMergeApprovalPending {
		return domain.MergeApproval{}, fmt.Errorf("no pending merge approval at stage %s", st.Stage)
	}
	approval, err := e.mergeGate().Decide(workID, approve, actorID)
	if err != nil {
		if errors.Is(err, gate.ErrStaleApproval) && strings.Contains(err.Error(), "ci not green") {
			st.BlockingReason = "ci_regressed"
			if _, terr := e.transition(workID, st, domain.StageCIFailed, "ci.regressed", actorID, nil); terr != nil {
				return domain.MergeApproval{}, terr
			}
		}
		return domain.MergeApproval{}, err
	}
	if approve {
		_, err = e.transition(workID, st, domain.StageMergeApprovalApproved, "merge_approval.approved", actorID, map[string]any{
			"owner_signoff": approval.OwnerSignoff,
			"qa_signoff":    approval.QASignoff,
		})
	} else {
		st.BlockingReason = "merge_approval_rejected"
		_, err = e.transition(workID, st, domain.StageRejected, "merge_approval.rejected", actorID, nil)
	}
	if err != nil {
		return domain.MergeApproval{}, err
	}
	return approval, nil
}

// Merge records the externally executed merge and completes the item.
func (e Engine) Merge(ctx context.Context, workID, actorID string) (domain.StatusSnapshot, error) {
	lock, err := e.Store.Acquire(workID)
	if err != nil {
		return domain.StatusSnapshot{}, err
	}
	defer lock.Release()

	st, err := e.Store.GetStatus(workID)
	if err != nil {
		return st, err
	}
	if st.Stage != domain.StageMergeApprovalApproved {
		return st, fmt.Errorf("cannot merge from stage %s", st.Stage)
	}
	ci, err := e.Store.GetCIStatus(workID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return st, err
	}
	st, err = e.transition(workID, st, domain.StageMerged, "work.merged", actorID, map[string]any{
		"commit": ci.HeadSHA,
	})
	if err != nil {
		return st, err
	}
	return e.transition(workID, st, domain.StageDone, "work.done", actorID, nil)
}

// DecisionItem is one entry in the human decisions queue.
type DecisionItem struct {
	WorkID         string `json:"work_id"`
	Stage          string `json:"stage"`
	BlockingReason string `json:"blocking_reason,omitempty"`
	HighestRisk    string `json:"highest_risk,omitempty"`
	UpdatedAt      string `json:"updated_at"`
}

// DecisionsQueue lists items blocked on a human two-choice resolution.
func (e Engine) DecisionsQueue(ctx context.Context) ([]DecisionItem, error) {
	ids, err := e.Store.ListWorkItems()
	if err != nil {
		return nil, err
	}
	var out []DecisionItem
	for _, id := range ids {
		st, err := e.Store.GetStatus(id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		switch st.Stage {
		case domain.StageBlocked, domain.StageApplyApprovalPending, domain.StageMergeApprovalPending, domain.StageEscalated:
			out = append(out, DecisionItem{
				WorkID:         st.WorkID,
				Stage:          st.Stage,
				BlockingReason: st.BlockingReason,
				HighestRisk:    st.HighestRisk,
				UpdatedAt:      st.UpdatedAt,
			})
		}
	}
	return out, nil
}

// RatifyWaiver records the human ratification (or rejection) of a waiver
// decision by appending a superseding record.
func (e Engine) RatifyWaiver(ctx context.Context, decisionID, actorID string, ratify bool) (domain.WaiverDecision, error) {
	decisions, err := e.Ledger.WaiverDecisions()
	if err != nil {
		return domain.WaiverDecision{}, err
	}
	for _, d := range decisions {
		if d.ID != decisionID {
			continue
		}
		if d.Status != "pending" {
			return domain.WaiverDecision{}, fmt.Errorf("waiver decision %s already %s", decisionID, d.Status)
		}
		if ratify {
			d.Status = "ratified"
		} else {
			d.Status = "rejected"
		}
		d.DecidedBy = actorID
		d.CreatedAt = ""
		if err := e.Ledger.AppendWaiverDecision(d); err != nil {
			return domain.WaiverDecision{}, err
		}
		if err := e.Ledger.Append(d.WorkID, domain.LedgerEntry{
			Action:  "qa_waiver." + d.Status,
			ActorID: actorID,
			Payload: map[string]any{"decision_id": d.ID, "category": d.Category},
		}); err != nil {
			return domain.WaiverDecision{}, err
		}
		return d, nil
	}
	return domain.WaiverDecision{}, fmt.Errorf("waiver decision %s: %w", decisionID, store.ErrNotFound)
}
