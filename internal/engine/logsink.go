package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowdeck-labs/flowdeck-go/internal/repo"
)

// executionLog appends human-readable lines to the durable execution log
// stream, mirroring them to the service logger. Sequence allocation happens
// in the store, so concurrent writers keep the per-execution order strict.
type executionLog struct {
	ctx         context.Context
	store       repo.ExecutionStore
	logger      *slog.Logger
	executionID string
}

func newExecutionLog(ctx context.Context, store repo.ExecutionStore, logger *slog.Logger, executionID string) *executionLog {
	return &executionLog{
		ctx:         ctx,
		store:       store,
		logger:      logger,
		executionID: executionID,
	}
}

func (l *executionLog) Logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	seq, err := l.store.AppendLog(l.ctx, l.executionID, line, time.Now().UTC())
	if err != nil {
		l.logger.Error("append execution log failed", "execution_id", l.executionID, "error", err)
		return
	}
	l.logger.Info("execution log", "execution_id", l.executionID, "seq", seq, "line", line)
}
