package schema_test

import (
	"strings"
	"testing"

	"laneguard/internal/schema"
)

func TestDecodeProposal(t *testing.T) {
	if _, iss := schema.DecodeProposal("p", []byte(`{"agent_id":"a1","repo_id":"web","status":"SUCCESS","ssot_references":["s"]}`)); iss != nil {
		t.Fatalf("valid proposal rejected: %v", iss)
	}
	_, iss := schema.DecodeProposal("p", []byte(`{"repo_id":"web","status":"MAYBE"}`))
	if iss == nil || iss.Code != schema.CodeInvalidFormat {
		t.Fatalf("iss = %v", iss)
	}
	if len(iss.Problems) != 2 {
		t.Fatalf("problems = %v, want status and agent_id", iss.Problems)
	}
}

func TestDecodePatchPlanCollectsAllProblems(t *testing.T) {
	_, iss := schema.DecodePatchPlan("p", []byte(`{"repo_id":"web","risk":{"level":"extreme"}}`))
	if iss == nil {
		t.Fatal("invalid plan accepted")
	}
	joined := strings.Join(iss.Problems, "; ")
	for _, want := range []string{"edits must not be empty", "risk.level", "proposal_sha256"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("problems %q missing %q", joined, want)
		}
	}
}

func TestDecodeRejectsUnparsableJSON(t *testing.T) {
	_, iss := schema.DecodeBundle("b", []byte(`{`))
	if iss == nil || iss.Code != schema.CodeInvalidFormat {
		t.Fatalf("iss = %v", iss)
	}
}

func TestIssuesErrorNamesPathAndCode(t *testing.T) {
	iss := &schema.Issues{Path: "work/w-1/BUNDLE.json", Code: schema.CodeHashMismatch, Problems: []string{"pin differs"}}
	msg := iss.Error()
	if !strings.Contains(msg, "hash_mismatch") || !strings.Contains(msg, "BUNDLE.json") {
		t.Fatalf("msg = %q", msg)
	}
}
