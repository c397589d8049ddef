package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

type NotificationStore struct {
	db DB
}

func NewNotificationStore(db DB) *NotificationStore {
	if db == nil {
		return nil
	}
	return &NotificationStore{db: db}
}

func (s *NotificationStore) Create(ctx context.Context, request domain.ApprovalRequest) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("notification store not initialized")
	}
	if err := request.Validate(); err != nil {
		return err
	}
	id := strings.TrimSpace(request.ID)
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO approval_requests (
			request_id,
			execution_id,
			stage_id,
			pipeline_ref,
			recipient,
			requested_by,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		id,
		strings.TrimSpace(request.ExecutionID),
		strings.TrimSpace(request.StageID),
		nullIfEmpty(request.PipelineRef),
		strings.TrimSpace(request.Recipient),
		nullIfEmpty(request.RequestedBy),
		normalizeTime(request.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert approval request: %w", err)
	}
	return nil
}
