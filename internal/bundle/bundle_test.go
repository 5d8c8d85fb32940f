package bundle_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"laneguard/internal/bundle"
	"laneguard/internal/domain"
	"laneguard/internal/policy"
	"laneguard/internal/schema"
	"laneguard/internal/store"
)

const workID = "w-100"

type fixture struct {
	Store   store.Store
	Builder bundle.Builder
}

func newFixture(t *testing.T, policyYAML string) fixture {
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
	b := bundle.Builder{
		Store:    st,
		Policies: doc,
		Now:      func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	return fixture{Store: st, Builder: b}
}

func (f fixture) writeJSON(t *testing.T, path string, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return data
}

// seedRepo writes a consistent proposal and patch plan for one repo and
// returns the patch plan digest.
func (f fixture) seedRepo(t *testing.T, repoID, riskLevel string, editPaths []string, ssotRefs []string) string {
	t.Helper()
	propRaw := f.writeJSON(t, f.Store.ProposalPath(workID, repoID), domain.Proposal{
		AgentID:        "agent-1",
		RepoID:         repoID,
		Status:         "SUCCESS",
		SSOTReferences: ssotRefs,
	})
	edits := make([]domain.PatchPlanEdit, 0, len(editPaths))
	for _, p := range editPaths {
		edits = append(edits, domain.PatchPlanEdit{Path: p})
	}
	planRaw := f.writeJSON(t, f.Store.PatchPlanPath(workID, repoID), domain.PatchPlan{
		RepoID:     repoID,
		AgentID:    "agent-1",
		Edits:      edits,
		Risk:       domain.PatchPlanRisk{Level: riskLevel},
		Provenance: domain.PatchPlanProvenance{ProposalSHA256: bundle.DigestBytes(propRaw)},
	})
	for _, scope := range ssotRefs {
		path := f.Store.SSOTBundlePath(workID, scope)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		f.writeJSON(t, path, map[string]any{"scope": scope, "facts": []string{"invariant-a"}})
	}
	return bundle.DigestBytes(planRaw)
}

func (f fixture) seedWork(t *testing.T, repos []string) {
	t.Helper()
	f.writeJSON(t, f.Store.MetaPath(workID), domain.WorkItem{
		WorkID: workID, TeamID: "core", Kind: "feature", CreatedAt: "2026-01-01T00:00:00Z",
	})
	f.writeJSON(t, f.Store.RoutingPath(workID), domain.Routing{
		SelectedRepos: repos, SelectedTeams: []string{"core"}, TargetBranch: "main",
		RoutingConfidence: 0.9, Confirmed: true,
	})
}

func TestHashPinsOrderAndDuplicateInvariance(t *testing.T) {
	a := domain.Pin{Path: "a.json", SHA256: "111"}
	b := domain.Pin{Path: "b.json", SHA256: "222"}
	c := domain.Pin{Path: "c.json", SHA256: "333"}
	h1 := bundle.HashPins([]domain.Pin{a, b, c})
	h2 := bundle.HashPins([]domain.Pin{c, a, b, a, c})
	if h1 != h2 {
		t.Fatalf("hash must be order and duplicate invariant: %s != %s", h1, h2)
	}
	h3 := bundle.HashPins([]domain.Pin{a, b})
	if h1 == h3 {
		t.Fatal("dropping a pin must change the hash")
	}
}

func TestBuildDeterministicAndSorted(t *testing.T) {
	f := newFixture(t, "")
	f.seedWork(t, []string{"web", "billing"})
	f.seedRepo(t, "web", "low", []string{"src/a.go"}, []string{"shared-scope"})
	f.seedRepo(t, "billing", "low", []string{"src/b.go"}, []string{"shared-scope"})

	b1, issues := f.Builder.Build(workID)
	if len(issues) > 0 {
		t.Fatalf("build: %v", issues[0])
	}
	b2, issues := f.Builder.Build(workID)
	if len(issues) > 0 {
		t.Fatalf("rebuild: %v", issues[0])
	}
	if b1.BundleHash != b2.BundleHash {
		t.Fatalf("bundle hash not deterministic: %s != %s", b1.BundleHash, b2.BundleHash)
	}
	// the SSOT scope referenced by both repos is pinned exactly once
	if len(b1.Inputs.SSOTBundleJSONs) != 1 {
		t.Fatalf("shared ssot ref pinned %d times, want 1", len(b1.Inputs.SSOTBundleJSONs))
	}
	// pins sorted lexicographically by path
	pins := b1.Inputs.Proposals
	for i := 1; i < len(pins); i++ {
		if pins[i-1].Path > pins[i].Path {
			t.Fatalf("proposal pins not sorted: %s > %s", pins[i-1].Path, pins[i].Path)
		}
	}
}

func TestBuildRejectsProvenanceMismatch(t *testing.T) {
	f := newFixture(t, "")
	f.seedWork(t, []string{"web"})
	f.seedRepo(t, "web", "low", []string{"src/a.go"}, []string{"scope-a"})

	// edit the proposal after the plan pinned it
	f.writeJSON(t, f.Store.ProposalPath(workID, "web"), domain.Proposal{
		AgentID: "agent-1", RepoID: "web", Status: "SUCCESS",
		SSOTReferences: []string{"scope-a"}, Summary: "revised",
	})
	_, issues := f.Builder.Build(workID)
	if len(issues) == 0 {
		t.Fatal("expected provenance mismatch")
	}
	if issues[0].Code != schema.CodeHashMismatch {
		t.Fatalf("code = %s, want %s", issues[0].Code, schema.CodeHashMismatch)
	}
}

func TestBuildRequiresQAPlanWhenPolicySaysSo(t *testing.T) {
	f := newFixture(t, `
selectors:
  - match: {team_id: core}
    apply: [qa]
named:
  qa:
    require_qa_plan: true
`)
	f.seedWork(t, []string{"web"})
	planDigest := f.seedRepo(t, "web", "low", []string{"src/a.go"}, []string{"scope-a"})

	// missing QA plan fails with missing_artifact
	_, issues := f.Builder.Build(workID)
	if len(issues) == 0 || issues[0].Code != schema.CodeMissingArtifact {
		t.Fatalf("issues = %v, want missing_artifact for qa plan", issues)
	}

	// stale derivation fails citing the repo
	f.writeJSON(t, f.Store.QAPlanPath(workID, "web"), domain.QAPlan{
		RepoID:      "web",
		Tests:       []domain.QAPlanTest{{Name: "t1", Category: "unit"}},
		DerivedFrom: domain.QAPlanDerivation{PatchPlanSHA256: "deadbeef"},
	})
	_, issues = f.Builder.Build(workID)
	if len(issues) == 0 || issues[0].Code != schema.CodeHashMismatch {
		t.Fatalf("issues = %v, want hash_mismatch", issues)
	}
	if !strings.Contains(issues[0].Problems[0], "web") {
		t.Fatalf("mismatch must name the repo: %v", issues[0].Problems)
	}

	// consistent QA plan builds and pins it
	f.writeJSON(t, f.Store.QAPlanPath(workID, "web"), domain.QAPlan{
		RepoID:      "web",
		Tests:       []domain.QAPlanTest{{Name: "t1", Category: "unit"}},
		DerivedFrom: domain.QAPlanDerivation{PatchPlanSHA256: planDigest},
	})
	b, issues := f.Builder.Build(workID)
	if len(issues) > 0 {
		t.Fatalf("build: %v", issues[0])
	}
	if len(b.Inputs.QAPlanJSONs) != 1 {
		t.Fatalf("qa plan not pinned")
	}
}

func TestBuildCollectsAllIssues(t *testing.T) {
	f := newFixture(t, "")
	f.seedWork(t, []string{"web", "billing"})
	// only web gets artifacts; billing's proposal is absent
	f.seedRepo(t, "web", "low", []string{"src/a.go"}, []string{"scope-a"})

	_, issues := f.Builder.Build(workID)
	if len(issues) != 1 {
		t.Fatalf("issues = %d, want 1", len(issues))
	}
	if issues[0].Code != schema.CodeMissingArtifact {
		t.Fatalf("code = %s, want %s", issues[0].Code, schema.CodeMissingArtifact)
	}
}

func TestVerifyDetectsTamperedInput(t *testing.T) {
	f := newFixture(t, "")
	f.seedWork(t, []string{"web"})
	f.seedRepo(t, "web", "low", []string{"src/a.go"}, []string{"scope-a"})

	b, issues := f.Builder.Build(workID)
	if len(issues) > 0 {
		t.Fatalf("build: %v", issues[0])
	}
	if issues := f.Builder.Verify(b); len(issues) != 0 {
		t.Fatalf("fresh bundle must verify: %v", issues[0])
	}

	path := f.Store.SSOTBundlePath(workID, "scope-a")
	if err := os.WriteFile(path, []byte(`{"scope":"scope-a","facts":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	got := f.Builder.Verify(b)
	if len(got) == 0 {
		t.Fatal("expected hash mismatch after tamper")
	}
	if got[0].Code != schema.CodeHashMismatch {
		t.Fatalf("code = %s, want %s", got[0].Code, schema.CodeHashMismatch)
	}
}
