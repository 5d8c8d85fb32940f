package policy

import (
	"fmt"
	"path"
	"strings"

	"laneguard/internal/domain"
)

// Effective is the merged policy for one repo. Accessors tolerate absent
// keys and YAML's loose typing.
type Effective map[string]any

func (e Effective) Bool(key string) bool {
	v, _ := e[key].(bool)
	return v
}

func (e Effective) Int(key string) int {
	switch v := e[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func (e Effective) String(key string) string {
	v, _ := e[key].(string)
	return v
}

func (e Effective) StringSlice(key string) []string {
	raw, ok := e[key].([]any)
	if !ok {
		if ss, ok := e[key].([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (e Effective) section(key string) Effective {
	m, ok := toStringMap(e[key])
	if !ok {
		return nil
	}
	return Effective(m)
}

func (e Effective) RequireReview() bool { return e.Bool("require_review") }
func (e Effective) RequireQAPlan() bool { return e.Bool("require_qa_plan") }
func (e Effective) MaxEdits() int       { return e.Int("max_edits") }
func (e Effective) AllowedPaths() []string {
	return e.StringSlice("allowed_paths")
}
func (e Effective) ForbiddenPaths() []string {
	return e.StringSlice("forbidden_paths")
}

// AutoApproveEnabled reports whether policy permits auto-approval at all.
// Absent section means enabled, bounded by the engine config.
func (e Effective) AutoApproveEnabled() bool {
	sec := e.section("auto_approve")
	if sec == nil {
		return true
	}
	v, ok := sec["enabled"].(bool)
	if !ok {
		return true
	}
	return v
}

// AutoApproveMaxRisk is the riskiest bucket policy still auto-approves.
func (e Effective) AutoApproveMaxRisk() string {
	sec := e.section("auto_approve")
	if sec == nil {
		return domain.RiskMedium
	}
	if s, ok := sec["max_risk"].(string); ok && s != "" {
		return s
	}
	return domain.RiskMedium
}

// ObligationsForRisk returns the declared test categories for a risk level
// from the policy's obligations map, if any.
func (e Effective) ObligationsForRisk(risk string) []string {
	sec := e.section("obligations")
	if sec == nil {
		return nil
	}
	return sec.StringSlice(risk)
}

// DualSignoffRisk is the bucket at which a second signoff becomes mandatory.
func (e Effective) DualSignoffRisk() string {
	if s := e.String("dual_signoff_risk"); s != "" {
		return s
	}
	return domain.RiskHigh
}

// ValidatePlan checks a patch plan against the effective policy and the
// plan's own declared scope. Returns enumerated problems, empty when valid.
func ValidatePlan(eff Effective, plan domain.PatchPlan) []string {
	var problems []string
	if max := eff.MaxEdits(); max > 0 && len(plan.Edits) > max {
		problems = append(problems, fmt.Sprintf("plan has %d edits, policy allows at most %d", len(plan.Edits), max))
	}
	allowed := eff.AllowedPaths()
	forbidden := eff.ForbiddenPaths()
	for _, edit := range plan.Edits {
		if len(plan.Scope.AllowedPaths) > 0 && !pathAllowed(plan.Scope.AllowedPaths, edit.Path) {
			problems = append(problems, fmt.Sprintf("edit %s outside plan scope", edit.Path))
		}
		if len(allowed) > 0 && !pathAllowed(allowed, edit.Path) {
			problems = append(problems, fmt.Sprintf("edit %s outside policy allowed_paths", edit.Path))
		}
		if pathAllowed(forbidden, edit.Path) {
			problems = append(problems, fmt.Sprintf("edit %s matches policy forbidden_paths", edit.Path))
		}
	}
	return problems
}

// pathAllowed reports whether p matches any pattern. A pattern ending in "/"
// matches the whole subtree; otherwise glob match, then exact match.
func pathAllowed(patterns []string, p string) bool {
	for _, pat := range patterns {
		if strings.HasSuffix(pat, "/") {
			if strings.HasPrefix(p, pat) {
				return true
			}
			continue
		}
		if ok, _ := path.Match(pat, p); ok {
			return true
		}
		if pat == p {
			return true
		}
	}
	return false
}
