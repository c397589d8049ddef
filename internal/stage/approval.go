package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

// ApprovalHandler decides whether the run pauses at this gate. With one or
// more approvers the outcome is WAITING_APPROVAL; with none the gate is
// skipped automatically. That skip is explicit policy, not an error.
type ApprovalHandler struct{}

func (h *ApprovalHandler) Execute(ctx context.Context, req Request) Result {
	approvers := gatherApprovers(req)
	if len(approvers) == 0 {
		req.Log.Logf("stage %s: approval gate has no approvers, skipping by policy", req.Stage.ID)
		return skipped("approval gate has no configured approvers")
	}
	req.Log.Logf("stage %s: pausing for approval by %s", req.Stage.ID, strings.Join(approvers, ", "))
	return Result{
		Status:    domain.StageWaitingApproval,
		Message:   fmt.Sprintf("waiting for approval by %d approver(s)", len(approvers)),
		Approvers: approvers,
	}
}

// gatherApprovers merges approvers configured on the stage with those
// supplied at start time, dropping duplicates and blanks.
func gatherApprovers(req Request) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(values []string) {
		for _, v := range values {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			key := strings.ToLower(v)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, v)
		}
	}
	add(req.Stage.Config.StringSlice("approvers"))
	add(req.Approvers)
	return out
}
