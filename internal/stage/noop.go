package stage

import (
	"context"
	"fmt"

	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

// NoopHandler covers the reserved extension points: build, test, release
// and generic stages succeed without external work until a tool integration
// exists for them.
type NoopHandler struct {
	kind domain.StageType
}

func (h *NoopHandler) Execute(ctx context.Context, req Request) Result {
	req.Log.Logf("stage %s: %s stage has no tool integration, completing as no-op", req.Stage.ID, h.kind)
	return succeeded(fmt.Sprintf("%s stage completed (no-op)", h.kind))
}
