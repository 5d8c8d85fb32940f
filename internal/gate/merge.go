package gate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"laneguard/internal/bundle"
	"laneguard/internal/config"
	"laneguard/internal/domain"
	"laneguard/internal/feedback"
	"laneguard/internal/ledger"
	"laneguard/internal/policy"
	"laneguard/internal/schema"
	"laneguard/internal/store"
)

// MergeGate is the pre-merge checkpoint, reachable only once CI is green.
// It audits QA-obligation coverage, enforces dual signoff on high-risk
// changes and emits feedback/merge events on approval.
type MergeGate struct {
	Store    store.Store
	Policies *policy.Document
	Config   *config.Config
	Ledger   ledger.Writer
	Feedback feedback.Sink
	Now      func() time.Time
}

func (g MergeGate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Request creates the merge-approval record. Stage must be exactly CI_GREEN;
// anything else is a hard precondition failure, not a retryable state.
func (g MergeGate) Request(workID string) (domain.MergeApproval, error) {
	st, err := g.Store.GetStatus(workID)
	if err != nil {
		return domain.MergeApproval{}, err
	}
	if st.Stage != domain.StageCIGreen {
		return domain.MergeApproval{}, fmt.Errorf("%w: merge approval requires stage %s, item is %s", ErrPrecondition, domain.StageCIGreen, st.Stage)
	}

	b, err := g.Store.GetBundle(workID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.MergeApproval{}, fmt.Errorf("%w: no bundle for %s", ErrPrecondition, workID)
		}
		return domain.MergeApproval{}, err
	}
	builder := bundle.Builder{Store: g.Store, Policies: g.Policies, Now: g.Now}
	if issues := builder.Verify(b); len(issues) > 0 {
		return domain.MergeApproval{}, &ValidationError{Issues: issues}
	}

	meta, err := g.Store.GetMeta(workID)
	if err != nil {
		return domain.MergeApproval{}, err
	}
	routing, err := g.Store.GetRouting(workID)
	if err != nil {
		return domain.MergeApproval{}, err
	}

	highest, plans, err := g.riskAndPlans(workID, routing)
	if err != nil {
		return domain.MergeApproval{}, err
	}

	waived, err := g.auditObligations(workID, meta, routing, highest, plans)
	if err != nil {
		return domain.MergeApproval{}, err
	}

	approval := domain.MergeApproval{
		Status:              "pending",
		Mode:                "manual",
		BundleHash:          b.BundleHash,
		HighestRisk:         highest,
		Scope:               domain.ApprovalScope{Teams: routing.SelectedTeams, Repos: routing.SelectedRepos},
		DualSignoffRequired: g.dualSignoffRequired(meta, routing, highest),
		WaivedCategories:    waived,
		RequestedAt:         g.now().UTC().Format(time.RFC3339),
	}
	if len(waived) > 0 {
		approval.ReasonCodes = append(approval.ReasonCodes, "qa_obligation_waived")
	}
	if err := g.Store.PutMergeApproval(workID, approval); err != nil {
		return domain.MergeApproval{}, err
	}
	return approval, nil
}

// riskAndPlans decodes the routed patch plans and returns the highest risk
// bucket plus the plans for the obligation audit.
func (g MergeGate) riskAndPlans(workID string, routing domain.Routing) (string, []domain.PatchPlan, error) {
	highest := domain.RiskLow
	var plans []domain.PatchPlan
	for _, repoID := range routing.SelectedRepos {
		planPath := g.Store.PatchPlanPath(workID, repoID)
		raw, err := g.Store.ReadRaw(planPath)
		if err != nil {
			return "", nil, err
		}
		plan, iss := schema.DecodePatchPlan(planPath, raw)
		if iss != nil {
			return "", nil, iss
		}
		plans = append(plans, plan)
		highest = domain.MaxRisk(highest, domain.RiskBucket(plan.Risk.Level))
	}
	return highest, plans, nil
}

// auditObligations confirms every declared test obligation for the risk
// level is covered by a test-file edit or explicitly waived with a reason.
// Missing coverage fails the request naming the missing categories.
func (g MergeGate) auditObligations(workID string, meta domain.WorkItem, routing domain.Routing, highest string, plans []domain.PatchPlan) ([]string, error) {
	required, err := g.requiredCategories(workID, meta, routing, highest)
	if err != nil {
		return nil, err
	}
	if len(required) == 0 {
		return nil, nil
	}

	qa, err := g.Store.GetQAApproval(workID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	waivers := map[string]domain.QAWaiver{}
	for _, w := range qa.Waivers {
		if w.Reason != "" {
			waivers[w.Category] = w
		}
	}

	var missing, waived []string
	for _, cat := range required {
		if coveredByEdits(plans, cat) {
			continue
		}
		if _, ok := waivers[cat]; ok {
			waived = append(waived, cat)
			continue
		}
		missing = append(missing, cat)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &CoverageError{Missing: missing}
	}
	sort.Strings(waived)
	return waived, nil
}

// requiredCategories reads QA/obligations.json, falling back to the policy's
// obligations map when the file is absent.
func (g MergeGate) requiredCategories(workID string, meta domain.WorkItem, routing domain.Routing, highest string) ([]string, error) {
	obligations, err := g.Store.GetQAObligations(workID)
	if err == nil {
		return obligations.ByRisk[highest], nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	set := map[string]bool{}
	for _, repoID := range routing.SelectedRepos {
		eff, _ := g.Policies.Resolve(bundle.Descriptor(meta, routing, repoID))
		for _, cat := range eff.ObligationsForRisk(highest) {
			set[cat] = true
		}
	}
	var out []string
	for cat := range set {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out, nil
}

// coveredByEdits reports whether any patch-plan edit path looks like a test
// file of the given category.
func coveredByEdits(plans []domain.PatchPlan, category string) bool {
	for _, plan := range plans {
		for _, edit := range plan.Edits {
			if editCoversCategory(edit.Path, category) {
				return true
			}
		}
	}
	return false
}

func editCoversCategory(p, category string) bool {
	lower := strings.ToLower(p)
	switch category {
	case "unit":
		return strings.Contains(lower, "_test.") ||
			strings.Contains(lower, "tests/unit/") || strings.Contains(lower, "test/unit/")
	case "integration":
		return strings.Contains(lower, "tests/integration/") || strings.Contains(lower, "test/integration/") ||
			strings.Contains(lower, "integration_test")
	case "e2e":
		return strings.Contains(lower, "tests/e2e/") || strings.Contains(lower, "e2e/") ||
			strings.Contains(lower, ".e2e.")
	default:
		return false
	}
}

func (g MergeGate) dualSignoffRequired(meta domain.WorkItem, routing domain.Routing, highest string) bool {
	threshold := g.Config.Approvals.DualSignoffRisk
	if threshold == "" {
		threshold = domain.RiskHigh
	}
	for _, repoID := range routing.SelectedRepos {
		eff, _ := g.Policies.Resolve(bundle.Descriptor(meta, routing, repoID))
		if t := eff.DualSignoffRisk(); domain.RiskRank(t) < domain.RiskRank(threshold) {
			threshold = t
		}
	}
	return domain.RiskRank(highest) >= domain.RiskRank(threshold)
}

// Decide records the owner's approve/reject. CI must be green at the moment
// of approval, the bundle must still match, and on high-risk items an
// approved QA signoff by a distinct approver must already exist.
func (g MergeGate) Decide(workID string, approve bool, actorID string) (domain.MergeApproval, error) {
	approval, err := g.Store.GetMergeApproval(workID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.MergeApproval{}, fmt.Errorf("%w: no merge approval requested for %s", ErrPrecondition, workID)
		}
		return domain.MergeApproval{}, err
	}
	if approval.Status != "pending" {
		return domain.MergeApproval{}, fmt.Errorf("%w: merge approval already %s", ErrPrecondition, approval.Status)
	}

	b, err := g.Store.GetBundle(workID)
	if err != nil {
		return domain.MergeApproval{}, err
	}
	if approval.BundleHash != b.BundleHash {
		return domain.MergeApproval{}, fmt.Errorf("%w: approval pinned to %s but bundle is %s", ErrStaleApproval, approval.BundleHash, b.BundleHash)
	}

	now := g.now().UTC().Format(time.RFC3339)
	if !approve {
		approval.Status = "rejected"
		approval.ApprovedBy = actorID
		approval.ApprovedAt = now
		if err := g.Store.PutMergeApproval(workID, approval); err != nil {
			return domain.MergeApproval{}, err
		}
		return approval, nil
	}

	ci, err := g.Store.GetCIStatus(workID)
	if err != nil {
		return domain.MergeApproval{}, err
	}
	if green, reasons := CIGreen(ci); !green {
		return domain.MergeApproval{}, fmt.Errorf("%w: ci not green at approval time: %s", ErrStaleApproval, strings.Join(reasons, "; "))
	}

	if approval.DualSignoffRequired {
		qa, err := g.Store.GetQAApproval(workID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.MergeApproval{}, fmt.Errorf("%w: dual signoff required but no qa approval exists", ErrPrecondition)
			}
			return domain.MergeApproval{}, err
		}
		if qa.Status != "approved" || qa.Approver == "" {
			return domain.MergeApproval{}, fmt.Errorf("%w: dual signoff required but qa approval is %q", ErrPrecondition, qa.Status)
		}
		if qa.Approver == actorID {
			return domain.MergeApproval{}, fmt.Errorf("%w: dual signoff requires a qa approver distinct from the owner %s", ErrPrecondition, actorID)
		}
		approval.QASignoff = qa.Approver
	}

	approval.Status = "approved"
	approval.OwnerSignoff = actorID
	approval.ApprovedBy = actorID
	approval.ApprovedAt = now
	if err := g.Store.PutMergeApproval(workID, approval); err != nil {
		return domain.MergeApproval{}, err
	}
	if err := g.emitOnApproval(workID, approval, ci); err != nil {
		return domain.MergeApproval{}, err
	}
	return approval, nil
}

// emitOnApproval sends the feedback event, the merge-event record, and a
// formal waiver decision for every waived obligation. Waivers always demand
// separate ratification; approval never absorbs them into done.
func (g MergeGate) emitOnApproval(workID string, approval domain.MergeApproval, ci domain.CIStatus) error {
	meta, err := g.Store.GetMeta(workID)
	if err != nil {
		return err
	}
	routing, err := g.Store.GetRouting(workID)
	if err != nil {
		return err
	}
	for _, repoID := range routing.SelectedRepos {
		ev := domain.FeedbackEvent{
			Type:    "change_merged",
			Scope:   meta.Kind,
			RepoID:  repoID,
			WorkID:  workID,
			Commit:  ci.HeadSHA,
			Summary: meta.Title,
			Artifacts: []string{
				g.Store.PatchPlanPath(workID, repoID),
				g.Store.BundlePath(workID),
			},
		}
		if err := g.Feedback.EmitFeedback(ev); err != nil {
			return err
		}
	}
	merge := domain.MergeEvent{
		WorkID:       workID,
		Repos:        routing.SelectedRepos,
		BundleHash:   approval.BundleHash,
		PRNumber:     ci.PRNumber,
		Commit:       ci.HeadSHA,
		TargetBranch: routing.TargetBranch,
	}
	if err := g.Feedback.EmitMerge(merge); err != nil {
		return err
	}
	if len(approval.WaivedCategories) > 0 {
		qa, err := g.Store.GetQAApproval(workID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		byCat := map[string]domain.QAWaiver{}
		for _, w := range qa.Waivers {
			byCat[w.Category] = w
		}
		for _, cat := range approval.WaivedCategories {
			w := byCat[cat]
			d := domain.WaiverDecision{
				ID:       uuid.New().String(),
				WorkID:   workID,
				Category: cat,
				Reason:   w.Reason,
				WaivedBy: w.WaivedBy,
				Status:   "pending",
			}
			if err := g.Ledger.AppendWaiverDecision(d); err != nil {
				return err
			}
		}
	}
	return nil
}
