// Package bundle builds the content-addressed manifest pinning every input
// of a work item.
package bundle

import (
	"errors"
	"fmt"
	"time"

	"laneguard/internal/domain"
	"laneguard/internal/policy"
	"laneguard/internal/schema"
	"laneguard/internal/store"
)

// Builder discovers and validates all inputs for a work item's routed repos
// and produces a Bundle. It never writes a partial bundle: any validation
// failure returns the full error list and no bundle.
type Builder struct {
	Store    store.Store
	Policies *policy.Document
	Now      func() time.Time
}

// Descriptor builds the attribute set policy selectors match against.
func Descriptor(meta domain.WorkItem, routing domain.Routing, repoID string) domain.RepoDescriptor {
	d := domain.RepoDescriptor{"repo_id": repoID}
	if meta.TeamID != "" {
		d["team_id"] = meta.TeamID
	} else if len(routing.SelectedTeams) > 0 {
		d["team_id"] = routing.SelectedTeams[0]
	}
	if meta.Kind != "" {
		d["kind"] = meta.Kind
	}
	if routing.TargetBranch != "" {
		d["target_branch"] = routing.TargetBranch
	}
	return d
}

// Build assembles the bundle for one work item. All issues are collected
// and reported together rather than failing on the first.
func (b Builder) Build(workID string) (domain.Bundle, []*schema.Issues) {
	var issues []*schema.Issues

	meta, err := b.Store.GetMeta(workID)
	if err != nil {
		return domain.Bundle{}, []*schema.Issues{readFailure(b.Store.MetaPath(workID), err)}
	}
	routing, err := b.Store.GetRouting(workID)
	if err != nil {
		return domain.Bundle{}, []*schema.Issues{readFailure(b.Store.RoutingPath(workID), err)}
	}
	if len(routing.SelectedRepos) == 0 {
		return domain.Bundle{}, []*schema.Issues{{
			Path: b.Store.RoutingPath(workID), Code: schema.CodeInvalidFormat,
			Problems: []string{"routing selects no repos"},
		}}
	}

	var inputs domain.BundleInputs
	pinnedRefs := map[string]bool{}

	for _, repoID := range routing.SelectedRepos {
		eff, _ := b.Policies.Resolve(Descriptor(meta, routing, repoID))

		propPath := b.Store.ProposalPath(workID, repoID)
		propRaw, err := b.Store.ReadRaw(propPath)
		if err != nil {
			issues = append(issues, readFailure(propPath, err))
			continue
		}
		proposal, iss := schema.DecodeProposal(propPath, propRaw)
		if iss != nil {
			issues = append(issues, iss)
			continue
		}
		if proposal.Status != "SUCCESS" {
			issues = append(issues, &schema.Issues{
				Path: propPath, Code: schema.CodeInvalidFormat,
				Problems: []string{fmt.Sprintf("proposal status is %s, want SUCCESS", proposal.Status)},
			})
			continue
		}
		if len(proposal.SSOTReferences) == 0 {
			issues = append(issues, &schema.Issues{
				Path: propPath, Code: schema.CodeInvalidFormat,
				Problems: []string{"proposal has no ssot_references"},
			})
			continue
		}
		proposalDigest := DigestBytes(propRaw)
		inputs.Proposals = append(inputs.Proposals, domain.Pin{Path: propPath, SHA256: proposalDigest})

		planPath := b.Store.PatchPlanPath(workID, repoID)
		planRaw, err := b.Store.ReadRaw(planPath)
		if err != nil {
			issues = append(issues, readFailure(planPath, err))
			continue
		}
		plan, iss := schema.DecodePatchPlan(planPath, planRaw)
		if iss != nil {
			issues = append(issues, iss)
			continue
		}
		if plan.Provenance.ProposalSHA256 != proposalDigest {
			issues = append(issues, &schema.Issues{
				Path: planPath, Code: schema.CodeHashMismatch,
				Problems: []string{fmt.Sprintf("plan provenance %s does not match proposal digest %s", plan.Provenance.ProposalSHA256, proposalDigest)},
			})
			continue
		}
		if plan.AgentID != "" && proposal.AgentID != "" && plan.AgentID != proposal.AgentID {
			issues = append(issues, &schema.Issues{
				Path: planPath, Code: schema.CodeInvalidFormat,
				Problems: []string{fmt.Sprintf("plan agent %s does not match proposal agent %s", plan.AgentID, proposal.AgentID)},
			})
			continue
		}
		if problems := policy.ValidatePlan(eff, plan); len(problems) > 0 {
			issues = append(issues, &schema.Issues{Path: planPath, Code: schema.CodePolicyViolation, Problems: problems})
			continue
		}
		planDigest := DigestBytes(planRaw)
		inputs.PatchPlanJSONs = append(inputs.PatchPlanJSONs, domain.Pin{Path: planPath, SHA256: planDigest})

		if eff.RequireQAPlan() {
			qaPath := b.Store.QAPlanPath(workID, repoID)
			qaRaw, err := b.Store.ReadRaw(qaPath)
			if err != nil {
				issues = append(issues, readFailure(qaPath, err))
				continue
			}
			qaPlan, iss := schema.DecodeQAPlan(qaPath, qaRaw)
			if iss != nil {
				issues = append(issues, iss)
				continue
			}
			if qaPlan.DerivedFrom.PatchPlanSHA256 != planDigest {
				issues = append(issues, &schema.Issues{
					Path: qaPath, Code: schema.CodeHashMismatch,
					Problems: []string{fmt.Sprintf("repo %s: qa plan derived from %s but live patch plan digest is %s", repoID, qaPlan.DerivedFrom.PatchPlanSHA256, planDigest)},
				})
				continue
			}
			inputs.QAPlanJSONs = append(inputs.QAPlanJSONs, domain.Pin{Path: qaPath, SHA256: DigestBytes(qaRaw)})
		}

		for _, scope := range proposal.SSOTReferences {
			refPath := b.Store.SSOTBundlePath(workID, scope)
			if pinnedRefs[refPath] {
				continue
			}
			refRaw, err := b.Store.ReadRaw(refPath)
			if err != nil {
				issues = append(issues, readFailure(refPath, err))
				continue
			}
			pinnedRefs[refPath] = true
			inputs.SSOTBundleJSONs = append(inputs.SSOTBundleJSONs, domain.Pin{Path: refPath, SHA256: DigestBytes(refRaw)})
		}
	}

	if len(issues) > 0 {
		return domain.Bundle{}, issues
	}

	inputs.Proposals = DedupeSort(inputs.Proposals)
	inputs.PatchPlanJSONs = DedupeSort(inputs.PatchPlanJSONs)
	inputs.QAPlanJSONs = DedupeSort(inputs.QAPlanJSONs)
	inputs.SSOTBundleJSONs = DedupeSort(inputs.SSOTBundleJSONs)

	all := allPins(inputs)
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	return domain.Bundle{
		WorkID:     workID,
		BundleHash: HashPins(all),
		Repos:      routing.SelectedRepos,
		Inputs:     inputs,
		BuiltAt:    now().UTC().Format(time.RFC3339),
	}, nil
}

// Verify recomputes every pinned digest and the aggregate hash of a stored
// bundle against the live files. Any divergence is a hash mismatch.
func (b Builder) Verify(bundle domain.Bundle) []*schema.Issues {
	var issues []*schema.Issues
	for _, pin := range allPins(bundle.Inputs) {
		raw, err := b.Store.ReadRaw(pin.Path)
		if err != nil {
			issues = append(issues, readFailure(pin.Path, err))
			continue
		}
		if got := DigestBytes(raw); got != pin.SHA256 {
			issues = append(issues, &schema.Issues{
				Path: pin.Path, Code: schema.CodeHashMismatch,
				Problems: []string{fmt.Sprintf("pinned %s, live file is %s", pin.SHA256, got)},
			})
		}
	}
	if got := HashPins(allPins(bundle.Inputs)); got != bundle.BundleHash {
		issues = append(issues, &schema.Issues{
			Path: "bundle", Code: schema.CodeHashMismatch,
			Problems: []string{fmt.Sprintf("recorded bundle_hash %s, recomputed %s", bundle.BundleHash, got)},
		})
	}
	return issues
}

func allPins(in domain.BundleInputs) []domain.Pin {
	var all []domain.Pin
	all = append(all, in.Proposals...)
	all = append(all, in.PatchPlanJSONs...)
	all = append(all, in.QAPlanJSONs...)
	all = append(all, in.SSOTBundleJSONs...)
	return all
}

func readFailure(path string, err error) *schema.Issues {
	code := schema.CodeInvalidFormat
	if errors.Is(err, store.ErrNotFound) {
		code = schema.CodeMissingArtifact
	}
	return &schema.Issues{Path: path, Code: code, Problems: []string{err.Error()}}
}
