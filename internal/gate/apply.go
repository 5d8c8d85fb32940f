package gate

import (
	"errors"
	"fmt"
	"time"

	"laneguard/internal/bundle"
	"laneguard/internal/config"
	"laneguard/internal/domain"
	"laneguard/internal/policy"
	"laneguard/internal/schema"
	"laneguard/internal/store"
)

// ApplyGate is the pre-apply checkpoint: it validates the bundle and its
// inputs, computes the work item's risk and either auto-approves or leaves
// the decision pending for a human.
type ApplyGate struct {
	Store    store.Store
	Policies *policy.Document
	Config   *config.Config
	Now      func() time.Time
}

func (g ApplyGate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g ApplyGate) builder() bundle.Builder {
	return bundle.Builder{Store: g.Store, Policies: g.Policies, Now: g.Now}
}

// Request evaluates the gate for a work item and persists the resulting
// approval record. A prior decision pinned to a different bundle hash is
// stale: it is reported and replaced, never silently honored.
func (g ApplyGate) Request(workID string) (domain.ApplyApproval, error) {
	b, err := g.Store.GetBundle(workID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ApplyApproval{}, fmt.Errorf("%w: no bundle for %s", ErrPrecondition, workID)
		}
		return domain.ApplyApproval{}, err
	}
	if issues := g.builder().Verify(b); len(issues) > 0 {
		return domain.ApplyApproval{}, &ValidationError{Issues: issues}
	}

	meta, err := g.Store.GetMeta(workID)
	if err != nil {
		return domain.ApplyApproval{}, err
	}
	routing, err := g.Store.GetRouting(workID)
	if err != nil {
		return domain.ApplyApproval{}, err
	}

	outcome := Outcome{Verdict: VerdictApproved}

	prior, err := g.Store.GetApplyApproval(workID)
	if err == nil && prior.BundleHash != b.BundleHash {
		outcome.refuse(schema.CodeStaleApproval)
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.ApplyApproval{}, err
	}

	highest, issues := g.auditInputs(workID, meta, routing, b)
	if len(issues) > 0 {
		for range issues {
			outcome.refuse(schema.CodePolicyViolation)
		}
	}

	drifts, err := g.Store.GetDrift(workID)
	if err != nil {
		return domain.ApplyApproval{}, err
	}
	for _, d := range drifts {
		if d.Severity == "hard" {
			outcome.reject("ssot_hard_drift")
		}
	}

	if domain.RiskRank(highest) >= domain.RiskRank(domain.RiskHigh) {
		outcome.refuse("risk_" + highest)
	}
	if !g.Config.Approvals.AutoApprove.Enabled {
		outcome.refuse("auto_approve_disabled")
	}
	maxAuto := g.Config.Approvals.AutoApprove.MaxRisk
	if maxAuto == "" {
		maxAuto = domain.RiskMedium
	}
	for _, repoID := range routing.SelectedRepos {
		eff, _ := g.Policies.Resolve(bundle.Descriptor(meta, routing, repoID))
		if !eff.AutoApproveEnabled() {
			outcome.refuse("auto_approve_disabled_by_policy")
		}
		if domain.RiskRank(eff.AutoApproveMaxRisk()) < domain.RiskRank(maxAuto) {
			maxAuto = eff.AutoApproveMaxRisk()
		}
	}
	if outcome.Verdict == VerdictApproved && domain.RiskRank(highest) > domain.RiskRank(maxAuto) {
		outcome.refuse("risk_exceeds_auto_approve")
	}

	approval := domain.ApplyApproval{
		Status:      "pending",
		Mode:        "auto",
		BundleHash:  b.BundleHash,
		HighestRisk: highest,
		ReasonCodes: outcome.Reasons,
		Scope:       domain.ApprovalScope{Teams: routing.SelectedTeams, Repos: routing.SelectedRepos},
		RequestedAt: g.now().UTC().Format(time.RFC3339),
	}
	switch outcome.Verdict {
	case VerdictApproved:
		approval.Status = "approved"
		approval.ApprovedBy = "auto"
		approval.ApprovedAt = approval.RequestedAt
	case VerdictRejected:
		approval.Status = "rejected"
	}
	if err := g.Store.PutApplyApproval(workID, approval); err != nil {
		return domain.ApplyApproval{}, err
	}
	return approval, nil
}

// auditInputs re-validates every proposal and patch plan pinned by the
// bundle against current policy and returns the highest risk bucket.
func (g ApplyGate) auditInputs(workID string, meta domain.WorkItem, routing domain.Routing, b domain.Bundle) (string, []*schema.Issues) {
	highest := domain.RiskLow
	var issues []*schema.Issues
	for _, repoID := range routing.SelectedRepos {
		eff, _ := g.Policies.Resolve(bundle.Descriptor(meta, routing, repoID))

		propPath := g.Store.ProposalPath(workID, repoID)
		propRaw, err := g.Store.ReadRaw(propPath)
		if err != nil {
			issues = append(issues, &schema.Issues{Path: propPath, Code: schema.CodeMissingArtifact, Problems: []string{err.Error()}})
			continue
		}
		proposal, iss := schema.DecodeProposal(propPath, propRaw)
		if iss != nil {
			issues = append(issues, iss)
			continue
		}
		if len(proposal.SSOTReferences) == 0 {
			issues = append(issues, &schema.Issues{Path: propPath, Code: schema.CodePolicyViolation, Problems: []string{"proposal has no ssot_references"}})
		}

		planPath := g.Store.PatchPlanPath(workID, repoID)
		planRaw, err := g.Store.ReadRaw(planPath)
		if err != nil {
			issues = append(issues, &schema.Issues{Path: planPath, Code: schema.CodeMissingArtifact, Problems: []string{err.Error()}})
			continue
		}
		plan, iss := schema.DecodePatchPlan(planPath, planRaw)
		if iss != nil {
			issues = append(issues, iss)
			continue
		}
		if problems := policy.ValidatePlan(eff, plan); len(problems) > 0 {
			issues = append(issues, &schema.Issues{Path: planPath, Code: schema.CodePolicyViolation, Problems: problems})
		}
		highest = domain.MaxRisk(highest, domain.RiskBucket(plan.Risk.Level))
	}
	return highest, issues
}

// Decide records an explicit human approve/reject. Manual decisions always
// set mode to manual; a bundle rebuilt since the request makes the stored
// decision stale and the caller must re-request.
func (g ApplyGate) Decide(workID string, approve bool, actorID string) (domain.ApplyApproval, error) {
	approval, err := g.Store.GetApplyApproval(workID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ApplyApproval{}, fmt.Errorf("%w: no apply approval requested for %s", ErrPrecondition, workID)
		}
		return domain.ApplyApproval{}, err
	}
	b, err := g.Store.GetBundle(workID)
	if err != nil {
		return domain.ApplyApproval{}, err
	}
	if approval.BundleHash != b.BundleHash {
		return domain.ApplyApproval{}, fmt.Errorf("%w: approval pinned to %s but bundle is %s", ErrStaleApproval, approval.BundleHash, b.BundleHash)
	}
	approval.Mode = "manual"
	approval.ApprovedBy = actorID
	approval.ApprovedAt = g.now().UTC().Format(time.RFC3339)
	if approve {
		approval.Status = "approved"
	} else {
		approval.Status = "rejected"
	}
	if err := g.Store.PutApplyApproval(workID, approval); err != nil {
		return domain.ApplyApproval{}, err
	}
	return approval, nil
}
