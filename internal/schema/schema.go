// Package schema is the single validation layer for pipeline artifacts.
// Every gate decodes inputs through it; no ad-hoc shape checks at call sites.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"laneguard/internal/domain"
)

// Error codes for the failure taxonomy. These surface as reason codes on
// gate decisions and structured error lists.
const (
	CodeMissingArtifact     = "missing_artifact"
	CodeInvalidFormat       = "invalid_format"
	CodeHashMismatch        = "hash_mismatch"
	CodePolicyViolation     = "policy_violation"
	CodeStaleApproval       = "stale_approval"
	CodePreconditionFailure = "precondition_failure"
	CodeGovernanceRefusal   = "governance_refusal"
)

// Issues is a validation failure for one artifact: the offending path, a
// taxonomy code and the enumerated problems. It implements error so callers
// can wrap or return it directly.
type Issues struct {
	Path     string   `json:"path"`
	Code     string   `json:"code"`
	Problems []string `json:"problems"`
}

func (i *Issues) Error() string {
	return fmt.Sprintf("%s %s: %s", i.Code, i.Path, strings.Join(i.Problems, "; "))
}

func newIssues(path, code string, problems []string) *Issues {
	return &Issues{Path: path, Code: code, Problems: problems}
}

// DecodeProposal parses and validates a proposal document.
func DecodeProposal(path string, data []byte) (domain.Proposal, *Issues) {
	var p domain.Proposal
	if err := json.Unmarshal(data, &p); err != nil {
		return p, newIssues(path, CodeInvalidFormat, []string{"unparsable JSON: " + err.Error()})
	}
	var problems []string
	if p.Status != "SUCCESS" && p.Status != "FAIL" {
		problems = append(problems, fmt.Sprintf("status must be SUCCESS or FAIL, got %q", p.Status))
	}
	if p.AgentID == "" {
		problems = append(problems, "agent_id is required")
	}
	if len(problems) > 0 {
		return p, newIssues(path, CodeInvalidFormat, problems)
	}
	return p, nil
}

// DecodePatchPlan parses and validates a patch plan document.
func DecodePatchPlan(path string, data []byte) (domain.PatchPlan, *Issues) {
	var p domain.PatchPlan
	if err := json.Unmarshal(data, &p); err != nil {
		return p, newIssues(path, CodeInvalidFormat, []string{"unparsable JSON: " + err.Error()})
	}
	var problems []string
	if len(p.Edits) == 0 {
		problems = append(problems, "edits must not be empty")
	}
	for i, e := range p.Edits {
		if e.Path == "" {
			problems = append(problems, fmt.Sprintf("edits[%d].path is required", i))
		}
	}
	switch p.Risk.Level {
	case "low", "normal", "high":
	case "":
		problems = append(problems, "risk.level is required")
	default:
		problems = append(problems, fmt.Sprintf("risk.level must be low, normal or high, got %q", p.Risk.Level))
	}
	if p.Provenance.ProposalSHA256 == "" {
		problems = append(problems, "provenance.proposal_sha256 is required")
	}
	if len(problems) > 0 {
		return p, newIssues(path, CodeInvalidFormat, problems)
	}
	return p, nil
}

// DecodeQAPlan parses and validates a QA plan document.
func DecodeQAPlan(path string, data []byte) (domain.QAPlan, *Issues) {
	var q domain.QAPlan
	if err := json.Unmarshal(data, &q); err != nil {
		return q, newIssues(path, CodeInvalidFormat, []string{"unparsable JSON: " + err.Error()})
	}
	var problems []string
	if q.DerivedFrom.PatchPlanSHA256 == "" {
		problems = append(problems, "derived_from.patch_plan_sha256 is required")
	}
	for i, t := range q.Tests {
		switch t.Category {
		case "unit", "integration", "e2e":
		default:
			problems = append(problems, fmt.Sprintf("tests[%d].category must be unit, integration or e2e, got %q", i, t.Category))
		}
	}
	if len(problems) > 0 {
		return q, newIssues(path, CodeInvalidFormat, problems)
	}
	return q, nil
}

// DecodeBundle parses and validates a bundle manifest.
func DecodeBundle(path string, data []byte) (domain.Bundle, *Issues) {
	var b domain.Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return b, newIssues(path, CodeInvalidFormat, []string{"unparsable JSON: " + err.Error()})
	}
	var problems []string
	if b.BundleHash == "" {
		problems = append(problems, "bundle_hash is required")
	}
	if len(b.Repos) == 0 {
		problems = append(problems, "repos must not be empty")
	}
	for _, group := range [][]domain.Pin{
		b.Inputs.Proposals, b.Inputs.PatchPlanJSONs, b.Inputs.QAPlanJSONs, b.Inputs.SSOTBundleJSONs,
	} {
		for _, pin := range group {
			if pin.Path == "" || pin.SHA256 == "" {
				problems = append(problems, "every pin requires path and sha256")
			}
		}
	}
	if len(problems) > 0 {
		return b, newIssues(path, CodeInvalidFormat, problems)
	}
	return b, nil
}
