package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/flowdeck-labs/flowdeck-go/internal/credential"
	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
	"github.com/flowdeck-labs/flowdeck-go/internal/repo"
	"github.com/flowdeck-labs/flowdeck-go/internal/repo/memory"
	"github.com/flowdeck-labs/flowdeck-go/internal/stage"
)

const releaseTrain = `
pipelineName: release-train
nodes:
  - id: dev
    stages:
      - id: build-1
        name: Build
  - id: prod
    dependsOn: [dev]
    stages:
      - id: approval-1
        name: Production Approval
      - id: release-1
        name: Release
        dependsOn: [approval-1]
`

func testOrchestrator(t *testing.T, store *memory.Store) *Orchestrator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch, err := New(Config{
		Logger:        logger,
		Definitions:   store,
		Builds:        store.Builds(),
		Executions:    store,
		Notifications: store,
		Queue:         store,
		Resolver:      credential.NewResolver(store.Credentials(), store.Environments(), logger),
		Registry:      stage.NewRegistry(stage.Deps{}),
	})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	return orch
}

func seedPipeline(store *memory.Store, textual string) {
	store.PutDefinition(domain.DefinitionDocument{
		PipelineRef: "release-train",
		Textual:     []byte(textual),
	})
}

func logLines(t *testing.T, store *memory.Store, executionID string) []string {
	t.Helper()
	entries, err := store.ListLogs(context.Background(), executionID)
	if err != nil {
		t.Fatalf("ListLogs() err=%v", err)
	}
	lines := make([]string, 0, len(entries))
	for i, entry := range entries {
		if entry.Seq != int64(i+1) {
			t.Fatalf("seq[%d]=%d, want strictly increasing from 1", i, entry.Seq)
		}
		lines = append(lines, entry.Line)
	}
	return lines
}

func countContaining(lines []string, substr string) int {
	n := 0
	for _, line := range lines {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

func TestStartAndExecute_RunsTiersInOrder(t *testing.T) {
	store := memory.NewStore()
	seedPipeline(store, `
pipelineName: release-train
nodes:
  - id: prod
    dependsOn: [dev]
    stages:
      - id: release-1
        name: Release
  - id: dev
    stages:
      - id: build-1
        name: Build
`)
	orch := testOrchestrator(t, store)
	ctx := context.Background()

	executionID, err := orch.Start(ctx, StartInput{PipelineRef: "release-train", TriggeredBy: "dev@example.com"})
	if err != nil {
		t.Fatalf("Start() err=%v", err)
	}
	if err := orch.Execute(ctx, executionID); err != nil {
		t.Fatalf("Execute() err=%v", err)
	}

	record, err := store.GetExecution(ctx, executionID)
	if err != nil {
		t.Fatalf("GetExecution() err=%v", err)
	}
	if record.Status != domain.ExecutionSucceeded {
		t.Fatalf("Status=%s, want SUCCESS", record.Status)
	}

	lines := logLines(t, store, executionID)
	buildIdx, releaseIdx := -1, -1
	for i, line := range lines {
		if strings.Contains(line, "stage build-1") && strings.Contains(line, "dispatched") {
			buildIdx = i
		}
		if strings.Contains(line, "stage release-1") && strings.Contains(line, "dispatched") {
			releaseIdx = i
		}
	}
	if buildIdx < 0 || releaseIdx < 0 || buildIdx > releaseIdx {
		t.Fatalf("dispatch order build=%d release=%d, want dev node before prod node", buildIdx, releaseIdx)
	}
}

func TestStart_CyclicPipelineNeverStarts(t *testing.T) {
	store := memory.NewStore()
	seedPipeline(store, `
pipelineName: release-train
nodes:
  - id: dev
    dependsOn: [prod]
    stages:
      - id: build-1
        name: Build
  - id: prod
    dependsOn: [dev]
    stages:
      - id: release-1
        name: Release
`)
	orch := testOrchestrator(t, store)

	_, err := orch.Start(context.Background(), StartInput{PipelineRef: "release-train", TriggeredBy: "dev@example.com"})
	if err == nil {
		t.Fatalf("Start() should reject a cyclic graph before creating anything")
	}
	jobs, _ := store.DequeueDue(context.Background(), 10)
	if len(jobs) != 0 {
		t.Fatalf("jobs=%v, want nothing enqueued for a rejected start", jobs)
	}
}

func TestApprovalGate_SuspendsAndResumesAtNextStage(t *testing.T) {
	store := memory.NewStore()
	seedPipeline(store, releaseTrain)
	orch := testOrchestrator(t, store)
	ctx := context.Background()

	executionID, err := orch.Start(ctx, StartInput{
		PipelineRef:    "release-train",
		TriggeredBy:    "dev@example.com",
		ApproverEmails: []string{"lead@example.com"},
	})
	if err != nil {
		t.Fatalf("Start() err=%v", err)
	}
	if err := orch.Execute(ctx, executionID); err != nil {
		t.Fatalf("Execute() err=%v", err)
	}

	record, _ := store.GetExecution(ctx, executionID)
	if record.Status != domain.ExecutionWaitingApproval {
		t.Fatalf("Status=%s, want WAITING_APPROVAL", record.Status)
	}
	if record.CurrentStage != "approval-1" {
		t.Fatalf("CurrentStage=%q, want approval-1", record.CurrentStage)
	}
	notifications := store.Notifications()
	if len(notifications) != 1 || notifications[0].Recipient != "lead@example.com" {
		t.Fatalf("notifications=%v, want one to lead@example.com", notifications)
	}

	if err := orch.Approve(ctx, executionID, "approval-1", "lead@example.com"); err != nil {
		t.Fatalf("Approve() err=%v", err)
	}
	if err := orch.Execute(ctx, executionID); err != nil {
		t.Fatalf("Execute() after approval err=%v", err)
	}

	record, _ = store.GetExecution(ctx, executionID)
	if record.Status != domain.ExecutionSucceeded {
		t.Fatalf("Status=%s, want SUCCESS after approval", record.Status)
	}

	lines := logLines(t, store, executionID)
	if got := countContaining(lines, "stage build-1 (build) dispatched"); got != 1 {
		t.Fatalf("build-1 dispatched %d times, the resumed walk must not re-run it", got)
	}
	if got := countContaining(lines, "stage release-1 (release) dispatched"); got != 1 {
		t.Fatalf("release-1 dispatched %d times, want exactly once after resume", got)
	}
	if got := countContaining(lines, "approved by lead@example.com"); got != 1 {
		t.Fatalf("missing approval log line, lines=%v", lines)
	}
}

func TestApprovalGate_NoApproversSkips(t *testing.T) {
	store := memory.NewStore()
	seedPipeline(store, releaseTrain)
	orch := testOrchestrator(t, store)
	ctx := context.Background()

	executionID, err := orch.Start(ctx, StartInput{PipelineRef: "release-train", TriggeredBy: "dev@example.com"})
	if err != nil {
		t.Fatalf("Start() err=%v", err)
	}
	if err := orch.Execute(ctx, executionID); err != nil {
		t.Fatalf("Execute() err=%v", err)
	}

	record, _ := store.GetExecution(ctx, executionID)
	if record.Status != domain.ExecutionSucceeded {
		t.Fatalf("Status=%s, want SUCCESS with the gate auto-skipped", record.Status)
	}
	records, _ := store.ListStageRecords(ctx, executionID)
	for _, sr := range records {
		if sr.StageID == "approval-1" && sr.Status != domain.StageSkipped {
			t.Fatalf("approval-1 status=%s, want SKIPPED", sr.Status)
		}
	}
}

func TestApprove_RejectsWrongStageOrState(t *testing.T) {
	store := memory.NewStore()
	seedPipeline(store, releaseTrain)
	orch := testOrchestrator(t, store)
	ctx := context.Background()

	executionID, err := orch.Start(ctx, StartInput{
		PipelineRef:    "release-train",
		TriggeredBy:    "dev@example.com",
		ApproverEmails: []string{"lead@example.com"},
	})
	if err != nil {
		t.Fatalf("Start() err=%v", err)
	}

	// still RUNNING, nothing to approve
	var approvalErr *ApprovalError
	if err := orch.Approve(ctx, executionID, "approval-1", "lead@example.com"); !errors.As(err, &approvalErr) {
		t.Fatalf("Approve() err=%v, want ApprovalError while RUNNING", err)
	}

	if err := orch.Execute(ctx, executionID); err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if err := orch.Approve(ctx, executionID, "release-1", "lead@example.com"); !errors.As(err, &approvalErr) {
		t.Fatalf("Approve() err=%v, want ApprovalError for the wrong stage", err)
	}
}

func TestExecute_DeployWithoutCredentialsFailsFast(t *testing.T) {
	store := memory.NewStore()
	seedPipeline(store, `
pipelineName: release-train
nodes:
  - id: dev
    stages:
      - id: deploy-1
        name: Deploy to Cloud Foundry
        tool:
          type: cpi
      - id: release-1
        name: Release
        dependsOn: [deploy-1]
`)
	orch := testOrchestrator(t, store)
	ctx := context.Background()

	executionID, err := orch.Start(ctx, StartInput{PipelineRef: "release-train", TriggeredBy: "dev@example.com"})
	if err != nil {
		t.Fatalf("Start() err=%v", err)
	}
	if err := orch.Execute(ctx, executionID); err != nil {
		t.Fatalf("Execute() err=%v", err)
	}

	record, _ := store.GetExecution(ctx, executionID)
	if record.Status != domain.ExecutionFailed {
		t.Fatalf("Status=%s, want FAILED when the deploy stage cannot resolve auth", record.Status)
	}

	lines := logLines(t, store, executionID)
	if countContaining(lines, "stage release-1 (release) dispatched") != 0 {
		t.Fatalf("release-1 must not run after the deploy failure, lines=%v", lines)
	}
}

func TestExecute_DisabledStageIsSkipped(t *testing.T) {
	store := memory.NewStore()
	store.PutDefinition(domain.DefinitionDocument{
		PipelineRef: "release-train",
		Textual: []byte(`
pipelineName: release-train
nodes:
  - id: dev
    stages:
      - id: build-1
        name: Build
        enabled: false
      - id: test-1
        name: Test
`),
	})
	orch := testOrchestrator(t, store)
	ctx := context.Background()

	executionID, err := orch.Start(ctx, StartInput{PipelineRef: "release-train", TriggeredBy: "dev@example.com"})
	if err != nil {
		t.Fatalf("Start() err=%v", err)
	}
	if err := orch.Execute(ctx, executionID); err != nil {
		t.Fatalf("Execute() err=%v", err)
	}

	records, _ := store.ListStageRecords(ctx, executionID)
	statuses := map[string]domain.StageStatus{}
	for _, sr := range records {
		statuses[sr.StageID] = sr.Status
	}
	if statuses["build-1"] != domain.StageSkipped {
		t.Fatalf("build-1 status=%s, want SKIPPED", statuses["build-1"])
	}
	if statuses["test-1"] != domain.StageSucceeded {
		t.Fatalf("test-1 status=%s, want SUCCESS", statuses["test-1"])
	}
}

func TestWorker_ProcessesDispatchJobs(t *testing.T) {
	store := memory.NewStore()
	seedPipeline(store, `
pipelineName: release-train
nodes:
  - id: dev
    stages:
      - id: build-1
        name: Build
`)
	orch := testOrchestrator(t, store)
	ctx := context.Background()

	executionID, err := orch.Start(ctx, StartInput{PipelineRef: "release-train", TriggeredBy: "dev@example.com"})
	if err != nil {
		t.Fatalf("Start() err=%v", err)
	}

	worker := NewWorker(WorkerConfig{
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Queue:        store,
		Orchestrator: orch,
	})
	worker.RunOnce(ctx)

	record, _ := store.GetExecution(ctx, executionID)
	if record.Status != domain.ExecutionSucceeded {
		t.Fatalf("Status=%s, want the worker to drive the run to SUCCESS", record.Status)
	}
	jobs, _ := store.DequeueDue(ctx, 10)
	if len(jobs) != 0 {
		t.Fatalf("jobs=%v, want the dispatch job marked done", jobs)
	}
}

func TestStatusAndLogs_ReturnsOrderedView(t *testing.T) {
	store := memory.NewStore()
	seedPipeline(store, releaseTrain)
	orch := testOrchestrator(t, store)
	ctx := context.Background()

	executionID, err := orch.Start(ctx, StartInput{PipelineRef: "release-train", TriggeredBy: "dev@example.com"})
	if err != nil {
		t.Fatalf("Start() err=%v", err)
	}
	if err := orch.Execute(ctx, executionID); err != nil {
		t.Fatalf("Execute() err=%v", err)
	}

	view, err := orch.StatusAndLogs(ctx, executionID)
	if err != nil {
		t.Fatalf("StatusAndLogs() err=%v", err)
	}
	if view.ExecutionID != executionID || view.Status != domain.ExecutionSucceeded {
		t.Fatalf("view=%+v", view)
	}
	if len(view.Logs) == 0 {
		t.Fatalf("want log lines in the view")
	}

	if _, err := orch.StatusAndLogs(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}
