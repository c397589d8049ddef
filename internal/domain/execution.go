package domain

import (
	"errors"
	"strings"
	"time"
)

// ExecutionStatus is the run-level state of an execution.
type ExecutionStatus string

const (
	ExecutionRunning         ExecutionStatus = "RUNNING"
	ExecutionWaitingApproval ExecutionStatus = "WAITING_APPROVAL"
	ExecutionSucceeded       ExecutionStatus = "SUCCESS"
	ExecutionFailed          ExecutionStatus = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSucceeded || s == ExecutionFailed
}

// NormalizeExecutionStatus maps free-form status values to canonical states.
func NormalizeExecutionStatus(value string) ExecutionStatus {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(ExecutionRunning):
		return ExecutionRunning
	case string(ExecutionWaitingApproval):
		return ExecutionWaitingApproval
	case string(ExecutionSucceeded):
		return ExecutionSucceeded
	case string(ExecutionFailed):
		return ExecutionFailed
	default:
		return ""
	}
}

// CanTransitionExecutionStatus enforces the execution state machine.
// RUNNING and WAITING_APPROVAL alternate; SUCCESS and FAILED are terminal.
func CanTransitionExecutionStatus(current, next ExecutionStatus) bool {
	if current == "" || next == "" {
		return false
	}
	if current == next {
		return true
	}
	switch current {
	case ExecutionRunning:
		return next == ExecutionWaitingApproval || next == ExecutionSucceeded || next == ExecutionFailed
	case ExecutionWaitingApproval:
		return next == ExecutionRunning || next == ExecutionFailed
	default:
		return false
	}
}

// StageStatus is the per-stage execution state.
type StageStatus string

const (
	StageRunning         StageStatus = "RUNNING"
	StageSucceeded       StageStatus = "SUCCESS"
	StageFailed          StageStatus = "FAILED"
	StageSkipped         StageStatus = "SKIPPED"
	StageWaitingApproval StageStatus = "WAITING_APPROVAL"
)

// Terminal reports whether the stage reached a final per-stage outcome.
func (s StageStatus) Terminal() bool {
	return s == StageSucceeded || s == StageFailed || s == StageSkipped
}

// ExecutionRecord is the persisted run state. The definition snapshot makes
// a suspended execution resumable from persisted state alone, in any process.
type ExecutionRecord struct {
	ID           string
	PipelineRef  string
	Status       ExecutionStatus
	TriggeredBy  string
	BuildRef     string
	Branch       string
	Approvers    []string
	CurrentNode  string
	CurrentStage string
	StartedAt    time.Time
	EndedAt      *time.Time
	Definition   *PipelineDefinition
}

func (r ExecutionRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("execution id is required")
	}
	if strings.TrimSpace(r.PipelineRef) == "" {
		return errors.New("pipeline ref is required")
	}
	if NormalizeExecutionStatus(string(r.Status)) == "" {
		return errors.New("status is required")
	}
	if strings.TrimSpace(r.TriggeredBy) == "" {
		return errors.New("triggering user is required")
	}
	return nil
}

// StageExecutionRecord is the per (execution, stage) history entry. It is
// created RUNNING when a stage begins and updated once to a terminal status.
type StageExecutionRecord struct {
	ExecutionID string
	NodeID      string
	StageID     string
	StageName   string
	Status      StageStatus
	Message     string
	StartedAt   time.Time
	CompletedAt *time.Time
	DurationMs  int64
}

// LogEntry is one append-only execution log line. Seq is strictly increasing
// per execution and never reused.
type LogEntry struct {
	ExecutionID string
	Seq         int64
	Line        string
	LoggedAt    time.Time
}

// ApprovalRequest is the notification payload dispatched to one approver
// when an execution pauses at an approval gate.
type ApprovalRequest struct {
	ID          string
	ExecutionID string
	StageID     string
	PipelineRef string
	Recipient   string
	RequestedBy string
	CreatedAt   time.Time
}

func (a ApprovalRequest) Validate() error {
	if strings.TrimSpace(a.ExecutionID) == "" {
		return errors.New("execution id is required")
	}
	if strings.TrimSpace(a.StageID) == "" {
		return errors.New("stage id is required")
	}
	if strings.TrimSpace(a.Recipient) == "" {
		return errors.New("recipient is required")
	}
	return nil
}
