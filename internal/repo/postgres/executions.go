package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
	"github.com/flowdeck-labs/flowdeck-go/internal/repo"
)

// ExecutionStore persists executions, their stage history and their log
// stream. The pipeline definition is stored as a JSONB snapshot on the
// execution row so a suspended execution can resume without re-reading the
// (possibly changed) definition document.
type ExecutionStore struct {
	db DB
}

func NewExecutionStore(db DB) *ExecutionStore {
	if db == nil {
		return nil
	}
	return &ExecutionStore{db: db}
}

func (s *ExecutionStore) CreateExecution(ctx context.Context, record domain.ExecutionRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	if err := record.Validate(); err != nil {
		return err
	}
	definitionJSON, err := encodeDefinition(record.Definition)
	if err != nil {
		return fmt.Errorf("encode definition: %w", err)
	}
	approversJSON, err := json.Marshal(record.Approvers)
	if err != nil {
		return fmt.Errorf("encode approvers: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO executions (
			execution_id,
			pipeline_ref,
			status,
			triggered_by,
			build_ref,
			branch,
			approvers,
			current_node,
			current_stage,
			started_at,
			ended_at,
			definition
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		strings.TrimSpace(record.ID),
		strings.TrimSpace(record.PipelineRef),
		string(record.Status),
		strings.TrimSpace(record.TriggeredBy),
		nullIfEmpty(record.BuildRef),
		nullIfEmpty(record.Branch),
		approversJSON,
		nullIfEmpty(record.CurrentNode),
		nullIfEmpty(record.CurrentStage),
		normalizeTime(record.StartedAt),
		nullTime(record.EndedAt),
		definitionJSON,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *ExecutionStore) GetExecution(ctx context.Context, executionID string) (domain.ExecutionRecord, error) {
	if s == nil || s.db == nil {
		return domain.ExecutionRecord{}, fmt.Errorf("execution store not initialized")
	}
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return domain.ExecutionRecord{}, fmt.Errorf("execution id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT execution_id, pipeline_ref, status, triggered_by, build_ref, branch,
			approvers, current_node, current_stage, started_at, ended_at, definition
		 FROM executions
		 WHERE execution_id = $1`,
		executionID,
	)
	return scanExecution(row.Scan)
}

func (s *ExecutionStore) ListByPipeline(ctx context.Context, filter repo.ExecutionFilter) ([]domain.ExecutionRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("execution store not initialized")
	}
	if strings.TrimSpace(filter.PipelineRef) == "" {
		return nil, fmt.Errorf("pipeline ref is required")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)

	args = append(args, strings.TrimSpace(filter.PipelineRef))
	clauses = append(clauses, fmt.Sprintf("pipeline_ref = $%d", len(args)))
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT execution_id, pipeline_ref, status, triggered_by, build_ref, branch,
		approvers, current_node, current_stage, started_at, ended_at, definition
		FROM executions
		WHERE ` + strings.Join(clauses, " AND ") + `
		ORDER BY started_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	records := make([]domain.ExecutionRecord, 0)
	for rows.Next() {
		record, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return records, nil
}

func (s *ExecutionStore) UpdateStatus(ctx context.Context, executionID string, status domain.ExecutionStatus, endedAt *time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return fmt.Errorf("execution id is required")
	}
	if domain.NormalizeExecutionStatus(string(status)) == "" {
		return fmt.Errorf("status is required")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE executions SET status = $1, ended_at = $2 WHERE execution_id = $3`,
		string(status),
		nullTime(endedAt),
		executionID,
	)
	if err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *ExecutionStore) UpdateProgress(ctx context.Context, executionID, currentNode, currentStage string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return fmt.Errorf("execution id is required")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE executions SET current_node = $1, current_stage = $2 WHERE execution_id = $3`,
		nullIfEmpty(currentNode),
		nullIfEmpty(currentStage),
		executionID,
	)
	if err != nil {
		return fmt.Errorf("update execution progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update execution progress: %w", err)
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func scanExecution(scan func(dest ...any) error) (domain.ExecutionRecord, error) {
	var record domain.ExecutionRecord
	var buildRef sql.NullString
	var branch sql.NullString
	var currentNode sql.NullString
	var currentStage sql.NullString
	var endedAt sql.NullTime
	var approversJSON []byte
	var definitionJSON []byte
	if err := scan(&record.ID, &record.PipelineRef, &record.Status, &record.TriggeredBy, &buildRef, &branch,
		&approversJSON, &currentNode, &currentStage, &record.StartedAt, &endedAt, &definitionJSON); err != nil {
		return domain.ExecutionRecord{}, handleNotFound(err)
	}
	if buildRef.Valid {
		record.BuildRef = buildRef.String
	}
	if branch.Valid {
		record.Branch = branch.String
	}
	if currentNode.Valid {
		record.CurrentNode = currentNode.String
	}
	if currentStage.Valid {
		record.CurrentStage = currentStage.String
	}
	if endedAt.Valid {
		ended := endedAt.Time.UTC()
		record.EndedAt = &ended
	}
	if len(approversJSON) > 0 {
		if err := json.Unmarshal(approversJSON, &record.Approvers); err != nil {
			return domain.ExecutionRecord{}, fmt.Errorf("decode approvers: %w", err)
		}
	}
	definition, err := decodeDefinition(definitionJSON)
	if err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("decode definition: %w", err)
	}
	record.Definition = definition
	return record, nil
}

func encodeDefinition(definition *domain.PipelineDefinition) ([]byte, error) {
	if definition == nil {
		return nil, nil
	}
	return json.Marshal(definition)
}

func decodeDefinition(raw []byte) (*domain.PipelineDefinition, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var definition domain.PipelineDefinition
	if err := json.Unmarshal(raw, &definition); err != nil {
		return nil, err
	}
	return &definition, nil
}
