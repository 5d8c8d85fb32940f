package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"laneguard/internal/domain"
	"laneguard/internal/gate"
	"laneguard/internal/store"
)

// PollCI fetches the current CI snapshot from the provider and advances
// the item. The fix loop is bounded two ways: a cap on fix attempts and a
// cap on consecutive polls where the head commit did not move. Hitting
// either cap escalates instead of looping forever. Counters persist in
// CI/attempts.json so restarts do not reset them.
func (e Engine) PollCI(ctx context.Context, workID, actorID string) (domain.StatusSnapshot, error) {
	lock, err := e.Store.Acquire(workID)
	if err != nil {
		return domain.StatusSnapshot{}, err
	}
	defer lock.Release()

	st, err := e.Store.GetStatus(workID)
	if err != nil {
		return st, err
	}
	switch st.Stage {
	case domain.StageCIPending, domain.StageCIFixing, domain.StageCIFailed,
		domain.StageCIGreen, domain.StageMergeApprovalPending:
	default:
		return st, fmt.Errorf("cannot poll ci from stage %s", st.Stage)
	}

	ci, err := e.VCS.CIStatus(ctx, workID)
	if err != nil {
		return st, fmt.Errorf("fetch ci status: %w", err)
	}
	ci.FetchedAt = e.nowString()
	if err := e.Store.PutCIStatus(workID, ci); err != nil {
		return st, err
	}

	green, reasons := gate.CIGreen(ci)
	if green {
		if st.Stage == domain.StageCIGreen || st.Stage == domain.StageMergeApprovalPending {
			return st, nil
		}
		st.HeadSHA = ci.HeadSHA
		return e.transition(workID, st, domain.StageCIGreen, "ci.green", actorID, map[string]any{
			"head_sha": ci.HeadSHA,
		})
	}

	stillRunning := false
	for _, r := range reasons {
		if strings.Contains(r, "still") {
			stillRunning = true
		}
	}
	failed := !stillRunning || anyFailure(ci)

	// Green-then-failed regression invalidates the pending request; the
	// gate refuses to approve against a stale snapshot anyway, this just
	// surfaces it in the queue.
	if st.Stage == domain.StageCIGreen || st.Stage == domain.StageMergeApprovalPending {
		st.BlockingReason = "ci_regressed"
		return e.transition(workID, st, domain.StageCIFailed, "ci.regressed", actorID, map[string]any{"reasons": reasons})
	}

	if !failed {
		// Checks still running. Track stalled fix loops by head movement.
		if st.Stage == domain.StageCIFixing {
			return e.trackUnchanged(workID, st, ci, actorID)
		}
		return st, nil
	}

	attempts, err := e.Store.GetCIAttempts(workID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return st, err
	}
	attempts.FixAttempts++
	attempts.LastHeadSHA = ci.HeadSHA
	attempts.UnchangedPolls = 0
	if err := e.Store.PutCIAttempts(workID, attempts); err != nil {
		return st, err
	}

	if attempts.FixAttempts > e.Config.CI.MaxFixAttempts {
		st.BlockingReason = "ci_fix_attempts_exhausted"
		return e.transition(workID, st, domain.StageEscalated, "ci.escalated", actorID, map[string]any{
			"fix_attempts": attempts.FixAttempts,
			"reasons":      reasons,
		})
	}

	if st.Stage != domain.StageCIFailed && st.Stage != domain.StageCIFixing {
		st, err = e.transition(workID, st, domain.StageCIFailed, "ci.failed", actorID, map[string]any{"reasons": reasons})
		if err != nil {
			return st, err
		}
	}
	return e.transition(workID, st, domain.StageCIFixing, "ci.fixing", actorID, map[string]any{
		"fix_attempts": attempts.FixAttempts,
	})
}

// trackUnchanged counts consecutive polls without head movement while a
// fix is supposedly in flight.
func (e Engine) trackUnchanged(workID string, st domain.StatusSnapshot, ci domain.CIStatus, actorID string) (domain.StatusSnapshot, error) {
	attempts, err := e.Store.GetCIAttempts(workID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return st, err
	}
	if ci.HeadSHA != "" && ci.HeadSHA == attempts.LastHeadSHA {
		attempts.UnchangedPolls++
	} else {
		attempts.UnchangedPolls = 0
		attempts.LastHeadSHA = ci.HeadSHA
	}
	if err := e.Store.PutCIAttempts(workID, attempts); err != nil {
		return st, err
	}
	if attempts.UnchangedPolls > e.Config.CI.MaxUnchangedPolls {
		st.BlockingReason = "ci_fix_loop_stalled"
		return e.transition(workID, st, domain.StageEscalated, "ci.escalated", actorID, map[string]any{
			"unchanged_polls": attempts.UnchangedPolls,
		})
	}
	return st, nil
}

func anyFailure(ci domain.CIStatus) bool {
	if ci.Overall == "failure" {
		return true
	}
	for _, c := range ci.Checks {
		if c.Conclusion == "failure" {
			return true
		}
	}
	return false
}
