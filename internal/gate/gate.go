// Package gate implements the two approval checkpoints: pre-apply and
// pre-merge.
package gate

import (
	"errors"
	"fmt"
	"strings"

	"laneguard/internal/domain"
	"laneguard/internal/schema"
)

// Sentinel gate failures. These are recovered by callers as structured
// results; none crash the process.
var (
	ErrPrecondition  = errors.New("precondition failure")
	ErrStaleApproval = errors.New("stale approval")
)

// Verdict is the outcome of the gate rule pipeline.
type Verdict int

const (
	VerdictApproved Verdict = iota
	VerdictPending
	VerdictRejected
)

// Outcome carries a verdict and the reason codes that produced it. A
// non-approved outcome is a deliberate governance refusal, not an error.
type Outcome struct {
	Verdict Verdict
	Reasons []string
}

// refuse downgrades the outcome to at least Pending, recording the reason.
func (o *Outcome) refuse(reason string) {
	if o.Verdict == VerdictApproved {
		o.Verdict = VerdictPending
	}
	o.Reasons = append(o.Reasons, reason)
}

// reject forces the outcome to Rejected, recording the reason.
func (o *Outcome) reject(reason string) {
	o.Verdict = VerdictRejected
	o.Reasons = append(o.Reasons, reason)
}

// ValidationError aggregates artifact issues into one error.
type ValidationError struct {
	Issues []*schema.Issues
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, iss := range e.Issues {
		parts = append(parts, iss.Error())
	}
	return fmt.Sprintf("%d validation error(s): %s", len(e.Issues), strings.Join(parts, "; "))
}

// CoverageError reports QA obligation categories with neither a qualifying
// test edit nor an explicit waiver.
type CoverageError struct {
	Missing []string
}

func (e *CoverageError) Error() string {
	return "qa obligations not covered: " + strings.Join(e.Missing, ", ")
}

// CIGreen reports whether a CI snapshot is green: overall success, zero
// failing checks, no pending checks, and at least one success.
func CIGreen(ci domain.CIStatus) (bool, []string) {
	var reasons []string
	if ci.Overall != "success" {
		reasons = append(reasons, fmt.Sprintf("overall is %q", ci.Overall))
	}
	successes := 0
	for _, c := range ci.Checks {
		switch {
		case c.Conclusion == "failure":
			reasons = append(reasons, fmt.Sprintf("check %s failed", c.Name))
		case c.Conclusion == "success":
			successes++
		case c.Status == "pending" || c.Status == "queued" || c.Status == "in_progress":
			reasons = append(reasons, fmt.Sprintf("check %s still %s", c.Name, c.Status))
		}
	}
	if successes == 0 {
		reasons = append(reasons, "no successful checks")
	}
	return len(reasons) == 0, reasons
}
