package domain

// Stage values for a work item, in pipeline order. FAILED, REJECTED and
// ESCALATED are terminal-or-recoverable branches.
const (
	StageIntakeReceived        = "INTAKE_RECEIVED"
	StageRouted                = "ROUTED"
	StageBlocked               = "BLOCKED"
	StageSweepReady            = "SWEEP_READY"
	StagePatchPlanned          = "PATCH_PLANNED"
	StageBundled               = "BUNDLED"
	StageApplyApprovalPending  = "APPLY_APPROVAL_PENDING"
	StageApplyApprovalApproved = "APPLY_APPROVAL_APPROVED"
	StageApplying              = "APPLYING"
	StageApplied               = "APPLIED"
	StageCIPending             = "CI_PENDING"
	StageCIFailed              = "CI_FAILED"
	StageCIFixing              = "CI_FIXING"
	StageCIGreen               = "CI_GREEN"
	StageMergeApprovalPending  = "MERGE_APPROVAL_PENDING"
	StageMergeApprovalApproved = "MERGE_APPROVAL_APPROVED"
	StageMerged                = "MERGED"
	StageDone                  = "DONE"
	StageFailed                = "FAILED"
	StageRejected              = "REJECTED"
	StageEscalated             = "ESCALATED"
)

// Risk buckets in ascending severity.
const (
	RiskLow     = "low"
	RiskMedium  = "medium"
	RiskHigh    = "high"
	RiskUnknown = "unknown"
)

// WorkItem is the META.json record of one change request.
type WorkItem struct {
	WorkID       string   `json:"work_id"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	RawIntakeID  string   `json:"raw_intake_id,omitempty"`
	Title        string   `json:"title,omitempty"`
	RepoID       string   `json:"repo_id,omitempty"`
	RepoScopes   []string `json:"repo_scopes,omitempty"`
	TeamID       string   `json:"team_id,omitempty"`
	TargetBranch string   `json:"target_branch,omitempty"`
	DependsOn    []string `json:"depends_on,omitempty"`
	Kind         string   `json:"kind,omitempty"`
}

// Routing is the team/repo/branch decision for a work item. Immutable once
// confirmed.
type Routing struct {
	SelectedTeams     []string `json:"selected_teams"`
	SelectedRepos     []string `json:"selected_repos"`
	TargetBranch      string   `json:"target_branch"`
	RoutingConfidence float64  `json:"routing_confidence"`
	NeedsConfirmation bool     `json:"needs_confirmation"`
	Confirmed         bool     `json:"confirmed,omitempty"`
	DecidedAt         string   `json:"decided_at,omitempty" format:"date-time"`
}

// Proposal is a team's per-repo change intent, produced upstream and
// consumed read-only.
type Proposal struct {
	AgentID        string   `json:"agent_id"`
	RepoID         string   `json:"repo_id"`
	Status         string   `json:"status" enum:"SUCCESS,FAIL"`
	Summary        string   `json:"summary,omitempty"`
	SSOTReferences []string `json:"ssot_references"`
}

// PatchPlanEdit is one intended edit inside a patch plan.
type PatchPlanEdit struct {
	Path      string `json:"path"`
	Rationale string `json:"rationale,omitempty"`
}

// PatchPlanScope bounds which paths a plan may touch.
type PatchPlanScope struct {
	AllowedPaths []string `json:"allowed_paths,omitempty"`
}

// PatchPlanRisk is the planner's declared risk level.
type PatchPlanRisk struct {
	Level  string `json:"level" enum:"low,normal,high"`
	Reason string `json:"reason,omitempty"`
}

// PatchPlanProvenance pins the proposal the plan was derived from.
type PatchPlanProvenance struct {
	ProposalSHA256 string `json:"proposal_sha256"`
}

// PatchPlan is a concrete edit set for one repo. Validated, never mutated.
type PatchPlan struct {
	RepoID     string              `json:"repo_id"`
	AgentID    string              `json:"agent_id"`
	Edits      []PatchPlanEdit     `json:"edits"`
	Scope      PatchPlanScope      `json:"scope"`
	Risk       PatchPlanRisk       `json:"risk"`
	Provenance PatchPlanProvenance `json:"provenance"`
}

// QAPlanTest is one declared test in a QA plan.
type QAPlanTest struct {
	Name     string `json:"name"`
	Category string `json:"category" enum:"unit,integration,e2e"`
	Path     string `json:"path,omitempty"`
}

// QAPlanDerivation pins the patch plan the QA plan was generated against.
type QAPlanDerivation struct {
	PatchPlanSHA256 string `json:"patch_plan_sha256"`
}

// QAPlan is the test coverage declared for one repo's patch plan.
type QAPlan struct {
	RepoID      string           `json:"repo_id"`
	Tests       []QAPlanTest     `json:"tests"`
	Gaps        []string         `json:"gaps,omitempty"`
	DerivedFrom QAPlanDerivation `json:"derived_from"`
}

// Pin is one content-addressed input: a path and its SHA-256 digest.
type Pin struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// BundleInputs groups pins by artifact kind.
type BundleInputs struct {
	Proposals       []Pin `json:"proposals"`
	PatchPlanJSONs  []Pin `json:"patch_plan_jsons"`
	QAPlanJSONs     []Pin `json:"qa_plan_jsons"`
	SSOTBundleJSONs []Pin `json:"ssot_bundle_jsons"`
}

// Bundle is the content-addressed manifest of all inputs for one work item.
type Bundle struct {
	WorkID     string       `json:"work_id"`
	BundleHash string       `json:"bundle_hash"`
	Repos      []string     `json:"repos"`
	Inputs     BundleInputs `json:"inputs"`
	BuiltAt    string       `json:"built_at" format:"date-time"`
}

// ApprovalScope records which teams/repos a gate decision covers.
type ApprovalScope struct {
	Teams []string `json:"teams,omitempty"`
	Repos []string `json:"repos,omitempty"`
}

// ApplyApproval is the pre-apply gate decision, APPLY_APPROVAL.json.
type ApplyApproval struct {
	Status      string        `json:"status" enum:"pending,approved,rejected"`
	Mode        string        `json:"mode" enum:"auto,manual"`
	BundleHash  string        `json:"bundle_hash"`
	HighestRisk string        `json:"highest_risk"`
	ReasonCodes []string      `json:"reason_codes,omitempty"`
	Scope       ApprovalScope `json:"scope"`
	RequestedAt string        `json:"requested_at" format:"date-time"`
	ApprovedBy  string        `json:"approved_by,omitempty"`
	ApprovedAt  string        `json:"approved_at,omitempty" format:"date-time"`
}

// MergeApproval is the pre-merge gate decision, MERGE_APPROVAL.json.
// Creatable only when the work item stage is CI_GREEN.
type MergeApproval struct {
	Status              string        `json:"status" enum:"pending,approved,rejected"`
	Mode                string        `json:"mode" enum:"auto,manual"`
	BundleHash          string        `json:"bundle_hash"`
	HighestRisk         string        `json:"highest_risk"`
	ReasonCodes         []string      `json:"reason_codes,omitempty"`
	Scope               ApprovalScope `json:"scope"`
	DualSignoffRequired bool          `json:"dual_signoff_required"`
	OwnerSignoff        string        `json:"owner_signoff,omitempty"`
	QASignoff           string        `json:"qa_signoff,omitempty"`
	WaivedCategories    []string      `json:"waived_categories,omitempty"`
	RequestedAt         string        `json:"requested_at" format:"date-time"`
	ApprovedBy          string        `json:"approved_by,omitempty"`
	ApprovedAt          string        `json:"approved_at,omitempty" format:"date-time"`
}

// QAObligations declares required test categories keyed by risk level,
// stored at QA/obligations.json.
type QAObligations struct {
	ByRisk map[string][]string `json:"by_risk"`
}

// QAWaiver is an explicit, reason-carrying waiver of one obligation category.
type QAWaiver struct {
	Category string `json:"category"`
	Reason   string `json:"reason"`
	WaivedBy string `json:"waived_by"`
}

// QAApproval is the QA-role signoff record, QA_APPROVAL.json.
type QAApproval struct {
	Status     string     `json:"status" enum:"pending,approved,rejected"`
	Approver   string     `json:"approver,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	Waivers    []QAWaiver `json:"waivers,omitempty"`
	ApprovedAt string     `json:"approved_at,omitempty" format:"date-time"`
}

// CICheck is one check result inside a CI status snapshot.
type CICheck struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion,omitempty"`
}

// CIStatus is the CI/CI_Status.json snapshot supplied by the PR provider.
type CIStatus struct {
	Overall   string    `json:"overall"`
	PRNumber  int       `json:"pr_number,omitempty"`
	HeadSHA   string    `json:"head_sha,omitempty"`
	Checks    []CICheck `json:"checks"`
	FetchedAt string    `json:"fetched_at,omitempty" format:"date-time"`
}

// CIAttempts persists the bounded fix-loop counters so retries survive
// process restarts. CI/attempts.json.
type CIAttempts struct {
	FixAttempts    int    `json:"fix_attempts"`
	UnchangedPolls int    `json:"unchanged_polls"`
	LastHeadSHA    string `json:"last_head_sha,omitempty"`
}

// StatusSnapshot is the persisted status.json for a work item.
type StatusSnapshot struct {
	WorkID         string `json:"work_id"`
	Stage          string `json:"stage"`
	BlockingReason string `json:"blocking_reason,omitempty"`
	BundleHash     string `json:"bundle_hash,omitempty"`
	HighestRisk    string `json:"highest_risk,omitempty"`
	PRNumber       int    `json:"pr_number,omitempty"`
	PRURL          string `json:"pr_url,omitempty"`
	HeadSHA        string `json:"head_sha,omitempty"`
	UpdatedAt      string `json:"updated_at" format:"date-time"`
}

// LedgerEntry is one append-only audit record.
type LedgerEntry struct {
	Timestamp  string         `json:"timestamp" format:"date-time"`
	Action     string         `json:"action"`
	WorkID     string         `json:"work_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	FromStage  string         `json:"from_stage,omitempty"`
	ToStage    string         `json:"to_stage,omitempty"`
	BundleHash string         `json:"bundle_hash,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// FeedbackEvent is the change event emitted to the knowledge feedback sink.
type FeedbackEvent struct {
	Type      string   `json:"type"`
	Scope     string   `json:"scope,omitempty"`
	RepoID    string   `json:"repo_id"`
	WorkID    string   `json:"work_id"`
	Commit    string   `json:"commit,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
	Summary   string   `json:"summary,omitempty"`
	Timestamp string   `json:"timestamp" format:"date-time"`
}

// MergeEvent is the record emitted for downstream consumers on merge approval.
type MergeEvent struct {
	WorkID       string   `json:"work_id"`
	Repos        []string `json:"repos"`
	BundleHash   string   `json:"bundle_hash"`
	PRNumber     int      `json:"pr_number,omitempty"`
	Commit       string   `json:"commit,omitempty"`
	TargetBranch string   `json:"target_branch,omitempty"`
	MergedAt     string   `json:"merged_at" format:"date-time"`
}

// WaiverDecision is a formal record of a waived QA obligation that still
// requires separate human ratification.
type WaiverDecision struct {
	ID        string `json:"id"`
	WorkID    string `json:"work_id"`
	Category  string `json:"category"`
	Reason    string `json:"reason"`
	WaivedBy  string `json:"waived_by"`
	Status    string `json:"status" enum:"pending,ratified,rejected"`
	DecidedBy string `json:"decided_by,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// RepoDescriptor carries the attributes policy selectors match against.
type RepoDescriptor map[string]string

// SSOTDrift records a detected divergence between a change's scope and the
// SSOT constraints it was generated against. DRIFT.json when present.
type SSOTDrift struct {
	RepoID     string `json:"repo_id"`
	Severity   string `json:"severity" enum:"soft,hard"`
	Detail     string `json:"detail,omitempty"`
	DetectedAt string `json:"detected_at,omitempty" format:"date-time"`
}

// RiskRank orders risk buckets; higher is riskier. Unknown ranks above high
// so an unreadable risk level can never loosen a gate.
func RiskRank(bucket string) int {
	switch bucket {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 4
	}
}

// RiskBucket maps a patch plan's declared level onto a gate risk bucket.
func RiskBucket(level string) string {
	switch level {
	case "low":
		return RiskLow
	case "normal":
		return RiskMedium
	case "high":
		return RiskHigh
	default:
		return RiskUnknown
	}
}

// MaxRisk returns the riskier of two buckets.
func MaxRisk(a, b string) string {
	if RiskRank(b) > RiskRank(a) {
		return b
	}
	return a
}
