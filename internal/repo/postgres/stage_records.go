package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

// PutStageRecord upserts the single history row for an (execution, stage)
// pair. The first write records the RUNNING start; the second write settles
// the terminal outcome in place.
func (s *ExecutionStore) PutStageRecord(ctx context.Context, record domain.StageExecutionRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	if strings.TrimSpace(record.ExecutionID) == "" {
		return fmt.Errorf("execution id is required")
	}
	if strings.TrimSpace(record.StageID) == "" {
		return fmt.Errorf("stage id is required")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO stage_executions (
			execution_id,
			node_id,
			stage_id,
			stage_name,
			status,
			message,
			started_at,
			completed_at,
			duration_ms
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (execution_id, stage_id) DO UPDATE SET
			status = EXCLUDED.status,
			message = EXCLUDED.message,
			completed_at = EXCLUDED.completed_at,
			duration_ms = EXCLUDED.duration_ms`,
		strings.TrimSpace(record.ExecutionID),
		strings.TrimSpace(record.NodeID),
		strings.TrimSpace(record.StageID),
		nullIfEmpty(record.StageName),
		string(record.Status),
		nullIfEmpty(record.Message),
		normalizeTime(record.StartedAt),
		nullTime(record.CompletedAt),
		record.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("put stage record: %w", err)
	}
	return nil
}

func (s *ExecutionStore) ListStageRecords(ctx context.Context, executionID string) ([]domain.StageExecutionRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("execution store not initialized")
	}
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return nil, fmt.Errorf("execution id is required")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT execution_id, node_id, stage_id, stage_name, status, message,
			started_at, completed_at, duration_ms
		 FROM stage_executions
		 WHERE execution_id = $1
		 ORDER BY started_at ASC, stage_id ASC`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list stage records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.StageExecutionRecord, 0)
	for rows.Next() {
		var record domain.StageExecutionRecord
		var stageName sql.NullString
		var message sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&record.ExecutionID, &record.NodeID, &record.StageID, &stageName, &record.Status, &message,
			&record.StartedAt, &completedAt, &record.DurationMs); err != nil {
			return nil, fmt.Errorf("scan stage record: %w", err)
		}
		if stageName.Valid {
			record.StageName = stageName.String
		}
		if message.Valid {
			record.Message = message.String
		}
		if completedAt.Valid {
			completed := completedAt.Time.UTC()
			record.CompletedAt = &completed
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stage records: %w", err)
	}
	return records, nil
}
