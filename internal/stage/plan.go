package stage

import (
	"context"
	"fmt"
)

// PlanHandler validates an external ticket reference or, without one,
// authenticates against the issue tracker. Without any configured tool it
// is a pass-through.
type PlanHandler struct {
	deps Deps
}

func (h *PlanHandler) Execute(ctx context.Context, req Request) Result {
	if !req.Stage.HasTool() || req.Auth.Empty() {
		req.Log.Logf("stage %s: no tracker configured, passing through", req.Stage.ID)
		return succeeded("no tracker configured")
	}

	tracker := h.deps.NewTracker(req.Auth, req.Log)
	if ticket, ok := req.Stage.Config.String("ticketKey"); ok {
		if err := tracker.ValidateIssue(ctx, ticket); err != nil {
			req.Log.Logf("stage %s: ticket %s validation failed: %v", req.Stage.ID, ticket, err)
			return failed(fmt.Sprintf("ticket %s validation failed: %v", ticket, err))
		}
		return succeeded(fmt.Sprintf("ticket %s validated", ticket))
	}

	if err := tracker.Authenticate(ctx); err != nil {
		req.Log.Logf("stage %s: tracker authentication failed: %v", req.Stage.ID, err)
		return failed(fmt.Sprintf("tracker authentication failed: %v", err))
	}
	return succeeded("tracker authentication verified")
}
