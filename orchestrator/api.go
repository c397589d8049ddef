package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
	"github.com/flowdeck-labs/flowdeck-go/internal/engine"
	"github.com/flowdeck-labs/flowdeck-go/internal/graph"
	"github.com/flowdeck-labs/flowdeck-go/internal/parser"
	"github.com/flowdeck-labs/flowdeck-go/internal/repo"
)

type orchestratorAPI struct {
	logger *slog.Logger
	orch   *engine.Orchestrator
}

func newOrchestratorAPI(logger *slog.Logger, orch *engine.Orchestrator) *orchestratorAPI {
	return &orchestratorAPI{logger: logger, orch: orch}
}

func (api *orchestratorAPI) register(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/pipelines/{pipelineRef}/executions", api.handleStartExecution)
		r.Get("/pipelines/{pipelineRef}/executions", api.handleListExecutions)
		r.Get("/executions/{executionID}", api.handleGetExecution)
		r.Post("/executions/{executionID}/stages/{stageID}/approve", api.handleApprove)
	})
}

type startExecutionRequest struct {
	TriggeredBy    string   `json:"triggered_by"`
	BuildRef       string   `json:"build_ref,omitempty"`
	Branch         string   `json:"branch,omitempty"`
	ApproverEmails []string `json:"approver_emails,omitempty"`
}

func (api *orchestratorAPI) handleStartExecution(w http.ResponseWriter, r *http.Request) {
	pipelineRef := strings.TrimSpace(chi.URLParam(r, "pipelineRef"))
	if pipelineRef == "" {
		api.writeError(w, r, http.StatusBadRequest, "pipeline_ref_required")
		return
	}

	var req startExecutionRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.TriggeredBy) == "" {
		api.writeError(w, r, http.StatusBadRequest, "triggered_by_required")
		return
	}

	executionID, err := api.orch.Start(r.Context(), engine.StartInput{
		PipelineRef:    pipelineRef,
		TriggeredBy:    req.TriggeredBy,
		BuildRef:       req.BuildRef,
		Branch:         req.Branch,
		ApproverEmails: req.ApproverEmails,
	})
	if err != nil {
		var parseErr *parser.ParseError
		var cycleErr *graph.CyclicDependencyError
		switch {
		case errors.Is(err, repo.ErrNotFound):
			api.writeError(w, r, http.StatusNotFound, "pipeline_not_found")
		case errors.As(err, &parseErr):
			api.writeError(w, r, http.StatusUnprocessableEntity, "definition_unparseable")
		case errors.As(err, &cycleErr):
			api.writeError(w, r, http.StatusUnprocessableEntity, "definition_cyclic")
		default:
			api.logger.Error("start execution failed", "pipeline_ref", pipelineRef, "error", err)
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	api.writeJSON(w, http.StatusAccepted, map[string]any{
		"execution_id": executionID,
		"status":       string(domain.ExecutionRunning),
	})
}

type executionSummary struct {
	ExecutionID string     `json:"execution_id"`
	PipelineRef string     `json:"pipeline_ref"`
	Status      string     `json:"status"`
	TriggeredBy string     `json:"triggered_by"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

func (api *orchestratorAPI) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	pipelineRef := strings.TrimSpace(chi.URLParam(r, "pipelineRef"))
	if pipelineRef == "" {
		api.writeError(w, r, http.StatusBadRequest, "pipeline_ref_required")
		return
	}

	records, err := api.orch.ListExecutions(r.Context(), pipelineRef)
	if err != nil {
		api.logger.Error("list executions failed", "pipeline_ref", pipelineRef, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]executionSummary, 0, len(records))
	for _, record := range records {
		out = append(out, executionSummary{
			ExecutionID: record.ID,
			PipelineRef: record.PipelineRef,
			Status:      string(record.Status),
			TriggeredBy: record.TriggeredBy,
			StartedAt:   record.StartedAt,
			EndedAt:     record.EndedAt,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"executions": out})
}

type executionView struct {
	ExecutionID  string     `json:"execution_id"`
	PipelineRef  string     `json:"pipeline_ref"`
	Status       string     `json:"status"`
	CurrentNode  string     `json:"current_node,omitempty"`
	CurrentStage string     `json:"current_stage,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Logs         []string   `json:"logs"`
}

func (api *orchestratorAPI) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	executionID := strings.TrimSpace(chi.URLParam(r, "executionID"))
	if executionID == "" {
		api.writeError(w, r, http.StatusBadRequest, "execution_id_required")
		return
	}

	view, err := api.orch.StatusAndLogs(r.Context(), executionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.logger.Error("get execution failed", "execution_id", executionID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.writeJSON(w, http.StatusOK, executionView{
		ExecutionID:  view.ExecutionID,
		PipelineRef:  view.PipelineRef,
		Status:       string(view.Status),
		CurrentNode:  view.CurrentNode,
		CurrentStage: view.CurrentStage,
		StartedAt:    view.StartedAt,
		EndedAt:      view.EndedAt,
		Logs:         view.Logs,
	})
}

type approveRequest struct {
	Approver string `json:"approver"`
}

func (api *orchestratorAPI) handleApprove(w http.ResponseWriter, r *http.Request) {
	executionID := strings.TrimSpace(chi.URLParam(r, "executionID"))
	stageID := strings.TrimSpace(chi.URLParam(r, "stageID"))
	if executionID == "" || stageID == "" {
		api.writeError(w, r, http.StatusBadRequest, "execution_and_stage_required")
		return
	}

	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.Approver) == "" {
		api.writeError(w, r, http.StatusBadRequest, "approver_required")
		return
	}

	err := api.orch.Approve(r.Context(), executionID, stageID, req.Approver)
	if err != nil {
		var approvalErr *engine.ApprovalError
		switch {
		case errors.Is(err, repo.ErrNotFound):
			api.writeError(w, r, http.StatusNotFound, "not_found")
		case errors.As(err, &approvalErr):
			api.writeError(w, r, http.StatusConflict, "not_awaiting_approval")
		default:
			api.logger.Error("approve failed", "execution_id", executionID, "stage_id", stageID, "error", err)
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]any{
		"execution_id": executionID,
		"stage_id":     stageID,
		"status":       string(domain.ExecutionRunning),
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 4<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *orchestratorAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *orchestratorAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}
