package gate_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"laneguard/internal/bundle"
	"laneguard/internal/config"
	"laneguard/internal/domain"
	"laneguard/internal/feedback"
	"laneguard/internal/gate"
	"laneguard/internal/ledger"
	"laneguard/internal/policy"
	"laneguard/internal/store"
)

const workID = "w-200"

type env struct {
	Store    store.Store
	Policies *policy.Document
	Config   *config.Config
	Ledger   ledger.Writer
	Sink     feedback.Sink
	Now      func() time.Time
}

func newEnv(t *testing.T, policyYAML string) env {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	doc := &policy.Document{}
	if policyYAML != "" {
		doc, err = policy.FromYAML([]byte(policyYAML))
		if err != nil {
			t.Fatalf("policy: %v", err)
		}
	}
	now := func() time.Time { return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC) }
	return env{
		Store:    st,
		Policies: doc,
		Config:   config.Default(),
		Ledger:   ledger.Writer{Store: st, Now: now},
		Sink:     feedback.Sink{Root: st.WorkRoot, Now: now},
		Now:      now,
	}
}

func (e env) applyGate() gate.ApplyGate {
	return gate.ApplyGate{Store: e.Store, Policies: e.Policies, Config: e.Config, Now: e.Now}
}

func (e env) mergeGate() gate.MergeGate {
	return gate.MergeGate{
		Store: e.Store, Policies: e.Policies, Config: e.Config,
		Ledger: e.Ledger, Feedback: e.Sink, Now: e.Now,
	}
}

func (e env) writeJSON(t *testing.T, path string, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return data
}

// seed writes a complete valid work item with one routed repo at the given
// risk level and builds its bundle.
func (e env) seed(t *testing.T, riskLevel string, editPaths []string) domain.Bundle {
	t.Helper()
	e.writeJSON(t, e.Store.MetaPath(workID), domain.WorkItem{
		WorkID: workID, TeamID: "core", Kind: "feature",
	})
	e.writeJSON(t, e.Store.RoutingPath(workID), domain.Routing{
		SelectedRepos: []string{"web"}, SelectedTeams: []string{"core"},
		TargetBranch: "main", RoutingConfidence: 0.9, Confirmed: true,
	})
	propRaw := e.writeJSON(t, e.Store.ProposalPath(workID, "web"), domain.Proposal{
		AgentID: "agent-1", RepoID: "web", Status: "SUCCESS",
		SSOTReferences: []string{"scope-a"},
	})
	edits := make([]domain.PatchPlanEdit, 0, len(editPaths))
	for _, p := range editPaths {
		edits = append(edits, domain.PatchPlanEdit{Path: p})
	}
	e.writeJSON(t, e.Store.PatchPlanPath(workID, "web"), domain.PatchPlan{
		RepoID: "web", AgentID: "agent-1", Edits: edits,
		Risk:       domain.PatchPlanRisk{Level: riskLevel},
		Provenance: domain.PatchPlanProvenance{ProposalSHA256: bundle.DigestBytes(propRaw)},
	})
	e.writeJSON(t, e.Store.SSOTBundlePath(workID, "scope-a"), map[string]any{"scope": "scope-a"})

	builder := bundle.Builder{Store: e.Store, Policies: e.Policies, Now: e.Now}
	b, issues := builder.Build(workID)
	if len(issues) > 0 {
		t.Fatalf("seed bundle: %v", issues[0])
	}
	if err := e.Store.PutBundle(workID, b); err != nil {
		t.Fatal(err)
	}
	return b
}

func (e env) greenCI(t *testing.T) {
	t.Helper()
	if err := e.Store.PutCIStatus(workID, domain.CIStatus{
		Overall: "success", PRNumber: 7, HeadSHA: "abc123",
		Checks: []domain.CICheck{{Name: "build", Status: "completed", Conclusion: "success"}},
	}); err != nil {
		t.Fatal(err)
	}
}

func (e env) setStage(t *testing.T, stage string) {
	t.Helper()
	if err := e.Store.PutStatus(workID, domain.StatusSnapshot{
		WorkID: workID, Stage: stage, UpdatedAt: "2026-02-01T00:00:00Z",
	}); err != nil {
		t.Fatal(err)
	}
}

func TestApplyAutoApprovesLowRisk(t *testing.T) {
	e := newEnv(t, "")
	e.seed(t, "low", []string{"src/a.go"})

	approval, err := e.applyGate().Request(workID)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if approval.Status != "approved" || approval.Mode != "auto" || approval.ApprovedBy != "auto" {
		t.Fatalf("approval = %+v, want auto approved", approval)
	}
	if approval.HighestRisk != domain.RiskLow {
		t.Fatalf("highest_risk = %s", approval.HighestRisk)
	}
}

func TestApplyHighRiskNeverAutoApproves(t *testing.T) {
	e := newEnv(t, "")
	e.seed(t, "high", []string{"src/a.go"})

	approval, err := e.applyGate().Request(workID)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if approval.Status != "pending" {
		t.Fatalf("status = %s, want pending", approval.Status)
	}
	found := false
	for _, code := range approval.ReasonCodes {
		if code == "risk_high" {
			found = true
		}
	}
	if !found {
		t.Fatalf("reason_codes = %v, want risk_high", approval.ReasonCodes)
	}

	// manual decision always records mode manual
	decided, err := e.applyGate().Decide(workID, true, "alice")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decided.Status != "approved" || decided.Mode != "manual" || decided.ApprovedBy != "alice" {
		t.Fatalf("decided = %+v", decided)
	}
}

func TestApplyRejectsOnHardDrift(t *testing.T) {
	e := newEnv(t, "")
	e.seed(t, "low", []string{"src/a.go"})
	if err := e.Store.PutDrift(workID, []domain.SSOTDrift{
		{RepoID: "web", Severity: "hard", Detail: "constraint violated"},
	}); err != nil {
		t.Fatal(err)
	}
	approval, err := e.applyGate().Request(workID)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if approval.Status != "rejected" {
		t.Fatalf("status = %s, want rejected on hard drift", approval.Status)
	}
}

func TestApplySoftDriftDoesNotReject(t *testing.T) {
	e := newEnv(t, "")
	e.seed(t, "low", []string{"src/a.go"})
	if err := e.Store.PutDrift(workID, []domain.SSOTDrift{
		{RepoID: "web", Severity: "soft", Detail: "naming drift"},
	}); err != nil {
		t.Fatal(err)
	}
	approval, err := e.applyGate().Request(workID)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if approval.Status != "approved" {
		t.Fatalf("status = %s, soft drift must not block", approval.Status)
	}
}

func TestApplyDecideStaleAfterRebuild(t *testing.T) {
	e := newEnv(t, "")
	b := e.seed(t, "high", []string{"src/a.go"})
	if _, err := e.applyGate().Request(workID); err != nil {
		t.Fatalf("request: %v", err)
	}
	// bundle rebuilt with different content
	b.BundleHash = "0000000000000000000000000000000000000000000000000000000000000000"
	if err := e.Store.PutBundle(workID, b); err != nil {
		t.Fatal(err)
	}
	_, err := e.applyGate().Decide(workID, true, "alice")
	if !errors.Is(err, gate.ErrStaleApproval) {
		t.Fatalf("err = %v, want ErrStaleApproval", err)
	}
}

func TestMergeRequiresCIGreenStage(t *testing.T) {
	e := newEnv(t, "")
	e.seed(t, "low", []string{"src/a.go"})
	e.setStage(t, domain.StageCIPending)

	_, err := e.mergeGate().Request(workID)
	if !errors.Is(err, gate.ErrPrecondition) {
		t.Fatalf("err = %v, want ErrPrecondition", err)
	}
}

func TestMergeCoverageErrorNamesMissingCategories(t *testing.T) {
	e := newEnv(t, "")
	e.seed(t, "high", []string{"src/a.go"})
	e.setStage(t, domain.StageCIGreen)
	if err := e.Store.PutQAObligations(workID, domain.QAObligations{
		ByRisk: map[string][]string{"high": {"unit", "e2e"}},
	}); err != nil {
		t.Fatal(err)
	}

	_, err := e.mergeGate().Request(workID)
	var ce *gate.CoverageError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want CoverageError", err)
	}
	if len(ce.Missing) != 2 || ce.Missing[0] != "e2e" || ce.Missing[1] != "unit" {
		t.Fatalf("missing = %v, want [e2e unit]", ce.Missing)
	}
}

func TestMergeObligationCoveredByTestEdits(t *testing.T) {
	e := newEnv(t, "")
	e.seed(t, "high", []string{"src/a.go", "src/a_test.go", "tests/e2e/checkout.spec.ts"})
	e.setStage(t, domain.StageCIGreen)
	if err := e.Store.PutQAObligations(workID, domain.QAObligations{
		ByRisk: map[string][]string{"high": {"unit", "e2e"}},
	}); err != nil {
		t.Fatal(err)
	}

	approval, err := e.mergeGate().Request(workID)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if approval.Status != "pending" || approval.Mode != "manual" {
		t.Fatalf("approval = %+v, merge approval is always a manual pending", approval)
	}
	if !approval.DualSignoffRequired {
		t.Fatal("high risk must require dual signoff")
	}
	if len(approval.WaivedCategories) != 0 {
		t.Fatalf("waived = %v, want none", approval.WaivedCategories)
	}
}

func TestMergeWaiverNeedsReasonAndIsRecorded(t *testing.T) {
	e := newEnv(t, "")
	e.seed(t, "high", []string{"src/a.go", "src/a_test.go"})
	e.setStage(t, domain.StageCIGreen)
	if err := e.Store.PutQAObligations(workID, domain.QAObligations{
		ByRisk: map[string][]string{"high": {"unit", "e2e"}},
	}); err != nil {
		t.Fatal(err)
	}

	// a waiver without a reason does not count
	if err := e.Store.PutQAApproval(workID, domain.QAApproval{
		Status:  "approved",
		Waivers: []domain.QAWaiver{{Category: "e2e"}},
	}); err != nil {
		t.Fatal(err)
	}
	_, err := e.mergeGate().Request(workID)
	var ce *gate.CoverageError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, reasonless waiver must not cover", err)
	}

	if err := e.Store.PutQAApproval(workID, domain.QAApproval{
		Status:   "approved",
		Approver: "qa-bob",
		Waivers:  []domain.QAWaiver{{Category: "e2e", Reason: "covered by synthetic monitor", WaivedBy: "qa-bob"}},
	}); err != nil {
		t.Fatal(err)
	}
	approval, err := e.mergeGate().Request(workID)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if len(approval.WaivedCategories) != 1 || approval.WaivedCategories[0] != "e2e" {
		t.Fatalf("waived = %v", approval.WaivedCategories)
	}
	if len(approval.ReasonCodes) != 1 || approval.ReasonCodes[0] != "qa_obligation_waived" {
		t.Fatalf("reason_codes = %v", approval.ReasonCodes)
	}
}

func TestMergeDecideEnforcesCIAndDualSignoff(t *testing.T) {
	e := newEnv(t, "")
	e.seed(t, "high", []string{"src/a.go", "src/a_test.go", "tests/e2e/a.spec.ts"})
	e.setStage(t, domain.StageCIGreen)
	e.greenCI(t)
	if err := e.Store.PutQAApproval(workID, domain.QAApproval{
		Status: "approved", Approver: "qa-bob",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.mergeGate().Request(workID); err != nil {
		t.Fatalf("request: %v", err)
	}

	// owner cannot be their own QA signoff
	_, err := e.mergeGate().Decide(workID, true, "qa-bob")
	if !errors.Is(err, gate.ErrPrecondition) {
		t.Fatalf("err = %v, want distinct approver precondition", err)
	}

	approval, err := e.mergeGate().Decide(workID, true, "alice")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if approval.OwnerSignoff != "alice" || approval.QASignoff != "qa-bob" {
		t.Fatalf("signoffs = %+v", approval)
	}

	// approval emits one feedback event per repo and a merge event
	events, err := e.Sink.FeedbackEvents()
	if err != nil || len(events) != 1 {
		t.Fatalf("feedback events = %v, %v", events, err)
	}
	if events[0].Type != "change_merged" || events[0].Commit != "abc123" {
		t.Fatalf("event = %+v", events[0])
	}
	merges, err := e.Sink.MergeEvents()
	if err != nil || len(merges) != 1 {
		t.Fatalf("merge events = %v, %v", merges, err)
	}
	if merges[0].BundleHash != approval.BundleHash {
		t.Fatalf("merge event hash = %s, want %s", merges[0].BundleHash, approval.BundleHash)
	}
}

func TestMergeDecideRefusesWhenCIRegressed(t *testing.T) {
	e := newEnv(t, "")
	e.seed(t, "low", []string{"src/a.go"})
	e.setStage(t, domain.StageCIGreen)
	e.greenCI(t)
	if _, err := e.mergeGate().Request(workID); err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := e.Store.PutCIStatus(workID, domain.CIStatus{
		Overall: "failure", HeadSHA: "abc123",
		Checks: []domain.CICheck{{Name: "build", Status: "completed", Conclusion: "failure"}},
	}); err != nil {
		t.Fatal(err)
	}
	_, err := e.mergeGate().Decide(workID, true, "alice")
	if !errors.Is(err, gate.ErrStaleApproval) {
		t.Fatalf("err = %v, want ErrStaleApproval", err)
	}
}

func TestMergeWaiverDecisionsRequireRatification(t *testing.T) {
	e := newEnv(t, "")
	e.seed(t, "high", []string{"src/a.go", "src/a_test.go"})
	e.setStage(t, domain.StageCIGreen)
	e.greenCI(t)
	if err := e.Store.PutQAObligations(workID, domain.QAObligations{
		ByRisk: map[string][]string{"high": {"unit", "e2e"}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := e.Store.PutQAApproval(workID, domain.QAApproval{
		Status: "approved", Approver: "qa-bob",
		Waivers: []domain.QAWaiver{{Category: "e2e", Reason: "monitor covers it", WaivedBy: "qa-bob"}},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.mergeGate().Request(workID); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := e.mergeGate().Decide(workID, true, "alice"); err != nil {
		t.Fatalf("decide: %v", err)
	}

	decisions, err := e.Ledger.WaiverDecisions()
	if err != nil {
		t.Fatal(err)
	}
	if len(decisions) != 1 {
		t.Fatalf("decisions = %d, want 1", len(decisions))
	}
	d := decisions[0]
	if d.Category != "e2e" || d.Status != "pending" || d.Reason == "" {
		t.Fatalf("decision = %+v", d)
	}
}

func TestCIGreen(t *testing.T) {
	green, _ := gate.CIGreen(domain.CIStatus{
		Overall: "success",
		Checks:  []domain.CICheck{{Name: "build", Conclusion: "success"}},
	})
	if !green {
		t.Fatal("expected green")
	}
	green, reasons := gate.CIGreen(domain.CIStatus{
		Overall: "success",
		Checks: []domain.CICheck{
			{Name: "build", Conclusion: "success"},
			{Name: "e2e", Status: "in_progress"},
		},
	})
	if green {
		t.Fatal("pending check must not be green")
	}
	if len(reasons) == 0 {
		t.Fatal("reasons must name the pending check")
	}
	green, _ = gate.CIGreen(domain.CIStatus{Overall: "success"})
	if green {
		t.Fatal("zero successful checks must not be green")
	}
}
