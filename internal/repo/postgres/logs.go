package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

const uniqueViolationCode = "23505"

// appendLogAttempts bounds how often a concurrent writer may lose the
// sequence race before AppendLog gives up.
const appendLogAttempts = 5

// AppendLog allocates the next sequence number for the execution and inserts
// the line in one statement. A unique index on (execution_id, seq) turns a
// lost race between concurrent writers into a unique violation, which is
// retried with a freshly computed sequence. Sequence numbers are therefore
// strictly increasing and never reused, even across process restarts.
func (s *ExecutionStore) AppendLog(ctx context.Context, executionID, line string, loggedAt time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("execution store not initialized")
	}
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return 0, fmt.Errorf("execution id is required")
	}
	at := normalizeTime(loggedAt)

	var lastErr error
	for attempt := 0; attempt < appendLogAttempts; attempt++ {
		row := s.db.QueryRowContext(
			ctx,
			`INSERT INTO execution_logs (execution_id, seq, line, logged_at)
			 SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3
			 FROM execution_logs
			 WHERE execution_id = $1
			 RETURNING seq`,
			executionID,
			line,
			at,
		)
		var seq int64
		err := row.Scan(&seq)
		if err == nil {
			return seq, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			lastErr = err
			continue
		}
		return 0, fmt.Errorf("append log: %w", err)
	}
	return 0, fmt.Errorf("append log: sequence contention not resolved: %w", lastErr)
}

func (s *ExecutionStore) ListLogs(ctx context.Context, executionID string) ([]domain.LogEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("execution store not initialized")
	}
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return nil, fmt.Errorf("execution id is required")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT execution_id, seq, line, logged_at
		 FROM execution_logs
		 WHERE execution_id = $1
		 ORDER BY seq ASC`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.LogEntry, 0)
	for rows.Next() {
		var entry domain.LogEntry
		if err := rows.Scan(&entry.ExecutionID, &entry.Seq, &entry.Line, &entry.LoggedAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return entries, nil
}
