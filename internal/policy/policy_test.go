package policy_test

import (
	"strings"
	"testing"

	"laneguard/internal/domain"
	"laneguard/internal/policy"
)

const doc = `
selectors:
  - match:
      team_id: core
    apply: [baseline]
  - match:
      kind: payment
    apply: [strict]
named:
  baseline:
    require_review: false
    max_edits: 10
    auto_approve:
      enabled: true
      max_risk: medium
    obligations:
      high: [unit, e2e]
    allowed_paths:
      - src/
  strict:
    require_review: true
    auto_approve:
      max_risk: low
    allowed_paths:
      - src/payments/
repos:
  billing:
    max_edits: 2
`

func mustDoc(t *testing.T) *policy.Document {
	t.Helper()
	d, err := policy.FromYAML([]byte(doc))
	if err != nil {
		t.Fatalf("parse policy: %v", err)
	}
	return d
}

func TestResolveSelectorOrderAndOverride(t *testing.T) {
	d := mustDoc(t)
	eff, applied := d.Resolve(domain.RepoDescriptor{
		"repo_id": "billing",
		"team_id": "core",
		"kind":    "payment",
	})
	want := []string{"baseline", "strict", "repo:billing"}
	if len(applied) != len(want) {
		t.Fatalf("applied = %v, want %v", applied, want)
	}
	for i := range want {
		if applied[i] != want[i] {
			t.Fatalf("applied = %v, want %v", applied, want)
		}
	}
	// strict merges over baseline
	if !eff.RequireReview() {
		t.Fatalf("require_review should come from strict")
	}
	// repo override wins over everything
	if eff.MaxEdits() != 2 {
		t.Fatalf("max_edits = %d, want repo override 2", eff.MaxEdits())
	}
	// nested maps merge key by key
	if !eff.AutoApproveEnabled() {
		t.Fatalf("auto_approve.enabled should survive the strict merge")
	}
	if eff.AutoApproveMaxRisk() != domain.RiskLow {
		t.Fatalf("auto_approve.max_risk = %s, want strict's low", eff.AutoApproveMaxRisk())
	}
	// arrays replace wholesale, no concatenation
	paths := eff.AllowedPaths()
	if len(paths) != 1 || paths[0] != "src/payments/" {
		t.Fatalf("allowed_paths = %v, want [src/payments/]", paths)
	}
}

func TestResolveNonMatchingSelector(t *testing.T) {
	d := mustDoc(t)
	eff, applied := d.Resolve(domain.RepoDescriptor{
		"repo_id": "web",
		"team_id": "core",
	})
	if len(applied) != 1 || applied[0] != "baseline" {
		t.Fatalf("applied = %v, want [baseline]", applied)
	}
	if eff.RequireReview() {
		t.Fatalf("strict should not apply without kind=payment")
	}
	// descriptor missing a match key means no match
	_, applied = d.Resolve(domain.RepoDescriptor{"repo_id": "web"})
	if len(applied) != 0 {
		t.Fatalf("applied = %v, want none", applied)
	}
}

func TestValidateRejectsUnknownBlock(t *testing.T) {
	_, err := policy.FromYAML([]byte(`
selectors:
  - match: {team_id: core}
    apply: [nonexistent]
named: {}
`))
	if err == nil {
		t.Fatal("expected error for unknown apply block")
	}
}

func TestObligationsForRisk(t *testing.T) {
	d := mustDoc(t)
	eff, _ := d.Resolve(domain.RepoDescriptor{"repo_id": "web", "team_id": "core"})
	cats := eff.ObligationsForRisk(domain.RiskHigh)
	if len(cats) != 2 || cats[0] != "unit" || cats[1] != "e2e" {
		t.Fatalf("obligations[high] = %v", cats)
	}
	if got := eff.ObligationsForRisk(domain.RiskLow); got != nil {
		t.Fatalf("obligations[low] = %v, want none", got)
	}
}

func TestValidatePlan(t *testing.T) {
	eff := policy.Effective{
		"max_edits":       2,
		"allowed_paths":   []any{"src/"},
		"forbidden_paths": []any{"src/secrets/", "*.env"},
	}
	plan := domain.PatchPlan{
		Edits: []domain.PatchPlanEdit{
			{Path: "src/a.go"},
			{Path: "src/secrets/key.pem"},
			{Path: "prod.env"},
		},
		Scope: domain.PatchPlanScope{AllowedPaths: []string{"src/"}},
	}
	problems := policy.ValidatePlan(eff, plan)
	if len(problems) == 0 {
		t.Fatal("expected problems")
	}
	var sawMax, sawForbidden, sawScope bool
	for _, p := range problems {
		switch {
		case strings.Contains(p, "at most 2"):
			sawMax = true
		case strings.Contains(p, "forbidden_paths"):
			sawForbidden = true
		case strings.Contains(p, "outside plan scope"):
			sawScope = true
		}
	}
	if !sawMax || !sawForbidden {
		t.Fatalf("problems = %v", problems)
	}
	// prod.env is outside the plan scope too
	if !sawScope {
		t.Fatalf("problems = %v, want scope violation for prod.env", problems)
	}
}

func TestValidatePlanClean(t *testing.T) {
	eff := policy.Effective{"allowed_paths": []any{"src/"}}
	plan := domain.PatchPlan{
		Edits: []domain.PatchPlanEdit{{Path: "src/handler.go"}},
	}
	if problems := policy.ValidatePlan(eff, plan); len(problems) != 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
}
