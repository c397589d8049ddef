package repo

import (
	"context"
	"errors"
	"time"

	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// CredentialRecord is an externally stored credential with raw auth fields.
type CredentialRecord struct {
	ID       string
	Name     string
	AuthType string
	Fields   domain.Metadata
}

// ConnectorRecord is a configured external tool endpoint inside an
// environment, optionally pointing at a named credential.
type ConnectorRecord struct {
	ID             string
	Name           string
	Category       string
	Fields         domain.Metadata
	CredentialName string
}

// EnvironmentRecord groups the connectors configured for one environment.
type EnvironmentRecord struct {
	ID         string
	Name       string
	Connectors []ConnectorRecord
}

// BuildRecord enriches an execution with artifact selections and the flat
// per-stage selection state keyed "<nodeId>__<stageId>".
type BuildRecord struct {
	Ref               string
	SelectedArtifacts []domain.ArtifactDescriptor
	StageState        map[string]domain.Metadata
}

// DispatchJob is a persisted unit of orchestrator work. Start and approve
// enqueue jobs instead of invoking the engine directly, so dispatch is
// durable and retryable.
type DispatchJob struct {
	ID          string
	ExecutionID string
	Kind        string
	Attempts    int
	RunAfter    time.Time
	CreatedAt   time.Time
	LastError   string
}

const (
	DispatchKindRun    = "run"
	DispatchKindResume = "resume"
)

// ExecutionFilter narrows execution listings.
type ExecutionFilter struct {
	PipelineRef string
	Status      domain.ExecutionStatus
	Limit       int
}

// DefinitionStore fetches raw pipeline definition documents.
type DefinitionStore interface {
	Get(ctx context.Context, pipelineRef string) (domain.DefinitionDocument, error)
}

// BuildStore fetches build selections used to enrich deploy stages.
type BuildStore interface {
	Get(ctx context.Context, buildRef string) (BuildRecord, error)
}

// CredentialStore looks up stored credentials.
type CredentialStore interface {
	Get(ctx context.Context, id string) (CredentialRecord, error)
	FindByName(ctx context.Context, name string) (CredentialRecord, error)
}

// EnvironmentStore looks up environment records by id or name.
type EnvironmentStore interface {
	Get(ctx context.Context, idOrName string) (EnvironmentRecord, error)
}

// NotificationStore dispatches approval requests to approvers.
type NotificationStore interface {
	Create(ctx context.Context, request domain.ApprovalRequest) error
}

// ExecutionStore persists execution, stage and log records. It is the only
// shared mutable state of the engine; AppendLog must allocate strictly
// increasing sequence numbers per execution atomically and durably.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, record domain.ExecutionRecord) error
	GetExecution(ctx context.Context, executionID string) (domain.ExecutionRecord, error)
	ListByPipeline(ctx context.Context, filter ExecutionFilter) ([]domain.ExecutionRecord, error)
	UpdateStatus(ctx context.Context, executionID string, status domain.ExecutionStatus, endedAt *time.Time) error
	UpdateProgress(ctx context.Context, executionID, currentNode, currentStage string) error
	PutStageRecord(ctx context.Context, record domain.StageExecutionRecord) error
	ListStageRecords(ctx context.Context, executionID string) ([]domain.StageExecutionRecord, error)
	AppendLog(ctx context.Context, executionID, line string, loggedAt time.Time) (int64, error)
	ListLogs(ctx context.Context, executionID string) ([]domain.LogEntry, error)
}

// DispatchQueue is the durable engine work queue.
type DispatchQueue interface {
	Enqueue(ctx context.Context, job DispatchJob) error
	DequeueDue(ctx context.Context, limit int) ([]DispatchJob, error)
	MarkDone(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, attempt int, retryAt time.Time, reason string) error
}
