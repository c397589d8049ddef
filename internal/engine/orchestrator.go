// Package engine drives executions through the pipeline state machine:
// RUNNING, WAITING_APPROVAL at approval gates, then SUCCESS or FAILED.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowdeck-labs/flowdeck-go/internal/credential"
	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
	"github.com/flowdeck-labs/flowdeck-go/internal/graph"
	"github.com/flowdeck-labs/flowdeck-go/internal/parser"
	"github.com/flowdeck-labs/flowdeck-go/internal/repo"
	"github.com/flowdeck-labs/flowdeck-go/internal/stage"
)

// ApprovalError reports an approve call that does not match the execution's
// suspension point.
type ApprovalError struct {
	ExecutionID string
	StageID     string
	Reason      string
}

func (e *ApprovalError) Error() string {
	return fmt.Sprintf("cannot approve stage %s of execution %s: %s", e.StageID, e.ExecutionID, e.Reason)
}

// Orchestrator owns the execution state machine. Start and Approve only
// persist state and enqueue durable dispatch jobs; Execute, consumed by the
// worker, performs the actual tier walk.
type Orchestrator struct {
	logger        *slog.Logger
	definitions   repo.DefinitionStore
	builds        repo.BuildStore
	executions    repo.ExecutionStore
	notifications repo.NotificationStore
	queue         repo.DispatchQueue
	resolver      *credential.Resolver
	registry      *stage.Registry
}

type Config struct {
	Logger        *slog.Logger
	Definitions   repo.DefinitionStore
	Builds        repo.BuildStore
	Executions    repo.ExecutionStore
	Notifications repo.NotificationStore
	Queue         repo.DispatchQueue
	Resolver      *credential.Resolver
	Registry      *stage.Registry
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Definitions == nil || cfg.Executions == nil || cfg.Queue == nil {
		return nil, errors.New("definition store, execution store and dispatch queue are required")
	}
	if cfg.Resolver == nil || cfg.Registry == nil {
		return nil, errors.New("credential resolver and stage registry are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		logger:        cfg.Logger,
		definitions:   cfg.Definitions,
		builds:        cfg.Builds,
		executions:    cfg.Executions,
		notifications: cfg.Notifications,
		queue:         cfg.Queue,
		resolver:      cfg.Resolver,
		registry:      cfg.Registry,
	}, nil
}

// StartInput is the external trigger payload.
type StartInput struct {
	PipelineRef    string
	TriggeredBy    string
	BuildRef       string
	Branch         string
	ApproverEmails []string
}

// Start parses the definition, rejects cyclic graphs before anything is
// persisted, creates the execution record and enqueues the run job. It
// returns as soon as the execution id is durable; callers observe progress
// exclusively through status and logs.
func (o *Orchestrator) Start(ctx context.Context, in StartInput) (string, error) {
	pipelineRef := strings.TrimSpace(in.PipelineRef)
	if pipelineRef == "" {
		return "", errors.New("pipeline ref is required")
	}
	if strings.TrimSpace(in.TriggeredBy) == "" {
		return "", errors.New("triggering user is required")
	}

	doc, err := o.definitions.Get(ctx, pipelineRef)
	if err != nil {
		return "", fmt.Errorf("load definition %s: %w", pipelineRef, err)
	}

	var build repo.BuildRecord
	if buildRef := strings.TrimSpace(in.BuildRef); buildRef != "" && o.builds != nil {
		build, err = o.builds.Get(ctx, buildRef)
		if err != nil {
			o.logger.Warn("build lookup failed, starting without build enrichment",
				"pipeline_ref", pipelineRef, "build_ref", buildRef, "error", err)
			build = repo.BuildRecord{}
		} else {
			doc = mergeSelections(doc, build.StageState)
		}
	}

	def, err := parser.Parse(doc)
	if err != nil {
		return "", err
	}
	applyBuildArtifacts(&def, build.SelectedArtifacts)
	if err := graph.ValidatePipeline(def); err != nil {
		return "", err
	}

	record := domain.ExecutionRecord{
		ID:          uuid.NewString(),
		PipelineRef: pipelineRef,
		Status:      domain.ExecutionRunning,
		TriggeredBy: strings.TrimSpace(in.TriggeredBy),
		BuildRef:    strings.TrimSpace(in.BuildRef),
		Branch:      strings.TrimSpace(in.Branch),
		Approvers:   in.ApproverEmails,
		StartedAt:   time.Now().UTC(),
		Definition:  &def,
	}
	if err := o.executions.CreateExecution(ctx, record); err != nil {
		return "", fmt.Errorf("create execution: %w", err)
	}

	log := newExecutionLog(ctx, o.executions, o.logger, record.ID)
	log.Logf("execution %s of pipeline %s started by %s", record.ID, def.Name, record.TriggeredBy)

	if err := o.queue.Enqueue(ctx, repo.DispatchJob{
		ID:          uuid.NewString(),
		ExecutionID: record.ID,
		Kind:        repo.DispatchKindRun,
		RunAfter:    time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return "", fmt.Errorf("enqueue dispatch job: %w", err)
	}
	return record.ID, nil
}

// Execute walks the execution's tiers from its persisted position. Stages
// that already reached a terminal per-stage status are skipped, which is
// how a resumed execution continues from the exact suspension point.
func (o *Orchestrator) Execute(ctx context.Context, executionID string) error {
	record, err := o.executions.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("load execution %s: %w", executionID, err)
	}
	if record.Status != domain.ExecutionRunning {
		o.logger.Info("execution not runnable, skipping dispatch",
			"execution_id", executionID, "status", record.Status)
		return nil
	}
	if record.Definition == nil {
		return fmt.Errorf("execution %s has no definition snapshot", executionID)
	}

	log := newExecutionLog(ctx, o.executions, o.logger, record.ID)

	nodeTiers, err := graph.NodeTiers(*record.Definition)
	if err != nil {
		log.Logf("dependency resolution failed: %v", err)
		return o.finish(ctx, log, record.ID, domain.ExecutionFailed)
	}

	done, err := o.terminalStages(ctx, record.ID)
	if err != nil {
		return err
	}

	runCtx := &stage.RunContext{}
	for _, tier := range nodeTiers {
		for _, node := range tier {
			stageTiers, err := graph.StageTiers(node)
			if err != nil {
				log.Logf("dependency resolution failed in node %s: %v", node.ID, err)
				return o.finish(ctx, log, record.ID, domain.ExecutionFailed)
			}
			for _, stageTier := range stageTiers {
				for _, st := range stageTier {
					if _, ok := done[st.ID]; ok {
						continue
					}
					outcome, err := o.dispatch(ctx, log, record, node, st, runCtx)
					if err != nil {
						return err
					}
					switch outcome {
					case domain.StageFailed:
						log.Logf("stage %s failed, aborting execution", st.ID)
						return o.finish(ctx, log, record.ID, domain.ExecutionFailed)
					case domain.StageWaitingApproval:
						// The worker holds no state while suspended;
						// Approve re-enqueues a job that lands back here.
						return nil
					}
				}
			}
		}
	}
	return o.finish(ctx, log, record.ID, domain.ExecutionSucceeded)
}

// dispatch runs one stage through its handler and persists, in order, the
// stage record, the log lines (written live by the handler) and the
// execution progress pointer. Resumability depends on that write order.
func (o *Orchestrator) dispatch(
	ctx context.Context,
	log *executionLog,
	record domain.ExecutionRecord,
	node domain.Node,
	st domain.Stage,
	runCtx *stage.RunContext,
) (domain.StageStatus, error) {
	startedAt := time.Now().UTC()

	if !st.Runnable() {
		log.Logf("stage %s is disabled or not selected, skipping", st.ID)
		return domain.StageSkipped, o.persistStageOutcome(ctx, record.ID, node.ID, st, startedAt, stage.Result{
			Status:  domain.StageSkipped,
			Message: "stage disabled or not selected",
		})
	}

	if err := o.executions.PutStageRecord(ctx, domain.StageExecutionRecord{
		ExecutionID: record.ID,
		NodeID:      node.ID,
		StageID:     st.ID,
		StageName:   st.Name,
		Status:      domain.StageRunning,
		StartedAt:   startedAt,
	}); err != nil {
		return "", fmt.Errorf("persist stage start: %w", err)
	}
	log.Logf("stage %s (%s) dispatched in node %s", st.ID, st.Type, node.ID)

	result := o.runHandler(ctx, log, record, st, node, runCtx)

	if err := o.persistStageOutcome(ctx, record.ID, node.ID, st, startedAt, result); err != nil {
		return "", err
	}

	if result.Status == domain.StageWaitingApproval {
		if err := o.suspendForApproval(ctx, log, record, node, st, result); err != nil {
			return "", err
		}
	}
	return result.Status, nil
}

func (o *Orchestrator) runHandler(
	ctx context.Context,
	log *executionLog,
	record domain.ExecutionRecord,
	st domain.Stage,
	node domain.Node,
	runCtx *stage.RunContext,
) stage.Result {
	var auth credential.Auth
	if st.HasTool() || st.Type.MandatesTool() {
		resolved, err := o.resolver.Resolve(ctx, st)
		if err != nil {
			var resolutionErr *credential.ResolutionError
			if errors.As(err, &resolutionErr) && !st.Type.MandatesTool() {
				log.Logf("stage %s skipped: %v", st.ID, resolutionErr)
				return stage.Result{Status: domain.StageSkipped, Message: resolutionErr.Error()}
			}
			log.Logf("stage %s failed: %v", st.ID, err)
			return stage.Result{Status: domain.StageFailed, Message: err.Error()}
		}
		auth = resolved
	}

	handler := o.registry.Get(st.Type)
	return handler.Execute(ctx, stage.Request{
		Execution: record,
		Node:      node,
		Stage:     st,
		Auth:      auth,
		Branch:    record.Branch,
		Approvers: record.Approvers,
		Run:       runCtx,
		Log:       log,
	})
}

func (o *Orchestrator) persistStageOutcome(
	ctx context.Context,
	executionID, nodeID string,
	st domain.Stage,
	startedAt time.Time,
	result stage.Result,
) error {
	completedAt := time.Now().UTC()
	stageRecord := domain.StageExecutionRecord{
		ExecutionID: executionID,
		NodeID:      nodeID,
		StageID:     st.ID,
		StageName:   st.Name,
		Status:      result.Status,
		Message:     result.Message,
		StartedAt:   startedAt,
		DurationMs:  completedAt.Sub(startedAt).Milliseconds(),
	}
	if result.Status.Terminal() {
		stageRecord.CompletedAt = &completedAt
	}
	if err := o.executions.PutStageRecord(ctx, stageRecord); err != nil {
		return fmt.Errorf("persist stage outcome: %w", err)
	}
	if err := o.executions.UpdateProgress(ctx, executionID, nodeID, st.ID); err != nil {
		return fmt.Errorf("persist progress: %w", err)
	}
	return nil
}

// suspendForApproval flips the execution to WAITING_APPROVAL and notifies
// every approver. Notification failures are logged and non-fatal.
func (o *Orchestrator) suspendForApproval(
	ctx context.Context,
	log *executionLog,
	record domain.ExecutionRecord,
	node domain.Node,
	st domain.Stage,
	result stage.Result,
) error {
	if err := o.executions.UpdateStatus(ctx, record.ID, domain.ExecutionWaitingApproval, nil); err != nil {
		return fmt.Errorf("persist waiting approval: %w", err)
	}
	log.Logf("execution paused at stage %s awaiting approval", st.ID)

	if o.notifications == nil {
		return nil
	}
	for _, approver := range result.Approvers {
		request := domain.ApprovalRequest{
			ID:          uuid.NewString(),
			ExecutionID: record.ID,
			StageID:     st.ID,
			PipelineRef: record.PipelineRef,
			Recipient:   approver,
			RequestedBy: record.TriggeredBy,
			CreatedAt:   time.Now().UTC(),
		}
		if err := o.notifications.Create(ctx, request); err != nil {
			log.Logf("approval notification to %s failed: %v", approver, err)
			continue
		}
		log.Logf("approval requested from %s", approver)
	}
	return nil
}

// Approve resumes a WAITING_APPROVAL execution from the stage immediately
// following the approved one. The approved stage's record becomes terminal,
// so the resumed tier walk never re-runs it or anything before it.
func (o *Orchestrator) Approve(ctx context.Context, executionID, stageID, approver string) error {
	approver = strings.TrimSpace(approver)
	if approver == "" {
		return errors.New("approver is required")
	}
	record, err := o.executions.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("load execution %s: %w", executionID, err)
	}
	if record.Status != domain.ExecutionWaitingApproval {
		return &ApprovalError{ExecutionID: executionID, StageID: stageID, Reason: fmt.Sprintf("execution status is %s", record.Status)}
	}
	if record.CurrentStage != stageID {
		return &ApprovalError{ExecutionID: executionID, StageID: stageID, Reason: fmt.Sprintf("execution is waiting at stage %s", record.CurrentStage)}
	}

	now := time.Now().UTC()
	if err := o.executions.PutStageRecord(ctx, domain.StageExecutionRecord{
		ExecutionID: executionID,
		NodeID:      record.CurrentNode,
		StageID:     stageID,
		Status:      domain.StageSucceeded,
		Message:     "approved by " + approver,
		StartedAt:   now,
		CompletedAt: &now,
	}); err != nil {
		return fmt.Errorf("persist approval: %w", err)
	}

	log := newExecutionLog(ctx, o.executions, o.logger, executionID)
	log.Logf("stage %s approved by %s, resuming execution", stageID, approver)

	if err := o.executions.UpdateStatus(ctx, executionID, domain.ExecutionRunning, nil); err != nil {
		return fmt.Errorf("persist resume: %w", err)
	}
	if err := o.queue.Enqueue(ctx, repo.DispatchJob{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		Kind:        repo.DispatchKindResume,
		RunAfter:    now,
		CreatedAt:   now,
	}); err != nil {
		return fmt.Errorf("enqueue resume job: %w", err)
	}
	return nil
}

// View is the caller-facing status snapshot.
type View struct {
	ExecutionID  string
	PipelineRef  string
	Status       domain.ExecutionStatus
	CurrentNode  string
	CurrentStage string
	StartedAt    time.Time
	EndedAt      *time.Time
	Logs         []string
}

// StatusAndLogs is the only observability surface callers have.
func (o *Orchestrator) StatusAndLogs(ctx context.Context, executionID string) (View, error) {
	record, err := o.executions.GetExecution(ctx, executionID)
	if err != nil {
		return View{}, err
	}
	entries, err := o.executions.ListLogs(ctx, executionID)
	if err != nil {
		return View{}, err
	}
	logs := make([]string, 0, len(entries))
	for _, entry := range entries {
		logs = append(logs, entry.Line)
	}
	return View{
		ExecutionID:  record.ID,
		PipelineRef:  record.PipelineRef,
		Status:       record.Status,
		CurrentNode:  record.CurrentNode,
		CurrentStage: record.CurrentStage,
		StartedAt:    record.StartedAt,
		EndedAt:      record.EndedAt,
		Logs:         logs,
	}, nil
}

// ListExecutions returns the execution history of one pipeline.
func (o *Orchestrator) ListExecutions(ctx context.Context, pipelineRef string) ([]domain.ExecutionRecord, error) {
	return o.executions.ListByPipeline(ctx, repo.ExecutionFilter{PipelineRef: pipelineRef})
}

func (o *Orchestrator) finish(ctx context.Context, log *executionLog, executionID string, status domain.ExecutionStatus) error {
	endedAt := time.Now().UTC()
	if err := o.executions.UpdateStatus(ctx, executionID, status, &endedAt); err != nil {
		return fmt.Errorf("persist final status: %w", err)
	}
	log.Logf("execution finished with status %s", status)
	return nil
}

func (o *Orchestrator) terminalStages(ctx context.Context, executionID string) (map[string]struct{}, error) {
	records, err := o.executions.ListStageRecords(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("load stage records: %w", err)
	}
	done := make(map[string]struct{}, len(records))
	for _, record := range records {
		if record.Status.Terminal() {
			done[record.StageID] = struct{}{}
		}
	}
	return done, nil
}

// mergeSelections overlays the build store's per-stage state onto the
// definition document's selections side channel. Build state wins per key.
func mergeSelections(doc domain.DefinitionDocument, stageState map[string]domain.Metadata) domain.DefinitionDocument {
	if len(stageState) == 0 {
		return doc
	}
	merged := make(map[string]domain.Metadata, len(doc.Selections)+len(stageState))
	for key, selection := range doc.Selections {
		merged[key] = selection.Clone()
	}
	for key, state := range stageState {
		if existing, ok := merged[key]; ok {
			for k, v := range state {
				existing[k] = v
			}
			continue
		}
		merged[key] = state.Clone()
	}
	doc.Selections = merged
	return doc
}

// applyBuildArtifacts hands the build's selected artifacts to deploy stages
// that carry none of their own.
func applyBuildArtifacts(def *domain.PipelineDefinition, artifacts []domain.ArtifactDescriptor) {
	if len(artifacts) == 0 {
		return
	}
	for i := range def.Nodes {
		for j := range def.Nodes[i].Stages {
			st := &def.Nodes[i].Stages[j]
			if st.Type != domain.StageTypeDeploy {
				continue
			}
			if st.ToolConfig == nil {
				st.ToolConfig = &domain.ToolConfig{}
			}
			if len(st.ToolConfig.Artifacts) == 0 {
				st.ToolConfig.Artifacts = append([]domain.ArtifactDescriptor(nil), artifacts...)
			}
		}
	}
}
