// Package memory holds an in-memory implementation of the repo interfaces.
// It backs the engine and handler tests; production wiring uses postgres.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
	"github.com/flowdeck-labs/flowdeck-go/internal/repo"
)

// Store implements every repo interface over maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	definitions   map[string]domain.DefinitionDocument
	builds        map[string]repo.BuildRecord
	credentials   map[string]repo.CredentialRecord
	environments  map[string]repo.EnvironmentRecord
	executions    map[string]domain.ExecutionRecord
	stageRecords  map[string]map[string]domain.StageExecutionRecord
	logs          map[string][]domain.LogEntry
	notifications []domain.ApprovalRequest
	jobs          map[string]*jobState
}

type jobState struct {
	job  repo.DispatchJob
	done bool
}

func NewStore() *Store {
	return &Store{
		definitions:  map[string]domain.DefinitionDocument{},
		builds:       map[string]repo.BuildRecord{},
		credentials:  map[string]repo.CredentialRecord{},
		environments: map[string]repo.EnvironmentRecord{},
		executions:   map[string]domain.ExecutionRecord{},
		stageRecords: map[string]map[string]domain.StageExecutionRecord{},
		logs:         map[string][]domain.LogEntry{},
		jobs:         map[string]*jobState{},
	}
}

func (s *Store) PutDefinition(doc domain.DefinitionDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions[doc.PipelineRef] = doc
}

func (s *Store) Get(ctx context.Context, pipelineRef string) (domain.DefinitionDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.definitions[strings.TrimSpace(pipelineRef)]
	if !ok {
		return domain.DefinitionDocument{}, repo.ErrNotFound
	}
	return doc, nil
}

// Builds returns the build-store view of the same Store.
func (s *Store) Builds() repo.BuildStore { return buildView{s} }

// Credentials returns the credential-store view of the same Store.
func (s *Store) Credentials() repo.CredentialStore { return credentialView{s} }

// Environments returns the environment-store view of the same Store.
func (s *Store) Environments() repo.EnvironmentStore { return environmentView{s} }

func (s *Store) PutBuild(record repo.BuildRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builds[record.Ref] = record
}

type buildView struct{ s *Store }

func (v buildView) Get(ctx context.Context, buildRef string) (repo.BuildRecord, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	record, ok := v.s.builds[strings.TrimSpace(buildRef)]
	if !ok {
		return repo.BuildRecord{}, repo.ErrNotFound
	}
	return record, nil
}

func (s *Store) PutCredential(record repo.CredentialRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[record.ID] = record
}

type credentialView struct{ s *Store }

func (v credentialView) Get(ctx context.Context, id string) (repo.CredentialRecord, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	record, ok := v.s.credentials[strings.TrimSpace(id)]
	if !ok {
		return repo.CredentialRecord{}, repo.ErrNotFound
	}
	return record, nil
}

func (v credentialView) FindByName(ctx context.Context, name string) (repo.CredentialRecord, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	name = strings.TrimSpace(name)
	ids := make([]string, 0, len(v.s.credentials))
	for id := range v.s.credentials {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if strings.EqualFold(v.s.credentials[id].Name, name) {
			return v.s.credentials[id], nil
		}
	}
	return repo.CredentialRecord{}, repo.ErrNotFound
}

func (s *Store) PutEnvironment(record repo.EnvironmentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.environments[record.ID] = record
}

type environmentView struct{ s *Store }

func (v environmentView) Get(ctx context.Context, idOrName string) (repo.EnvironmentRecord, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	idOrName = strings.TrimSpace(idOrName)
	if record, ok := v.s.environments[idOrName]; ok {
		return record, nil
	}
	ids := make([]string, 0, len(v.s.environments))
	for id := range v.s.environments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if strings.EqualFold(v.s.environments[id].Name, idOrName) {
			return v.s.environments[id], nil
		}
	}
	return repo.EnvironmentRecord{}, repo.ErrNotFound
}

func (s *Store) Create(ctx context.Context, request domain.ApprovalRequest) error {
	if err := request.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, request)
	return nil
}

// Notifications returns a copy of the recorded approval requests.
func (s *Store) Notifications() []domain.ApprovalRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ApprovalRequest, len(s.notifications))
	copy(out, s.notifications)
	return out
}

func (s *Store) CreateExecution(ctx context.Context, record domain.ExecutionRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[record.ID] = record
	return nil
}

func (s *Store) GetExecution(ctx context.Context, executionID string) (domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.executions[strings.TrimSpace(executionID)]
	if !ok {
		return domain.ExecutionRecord{}, repo.ErrNotFound
	}
	return record, nil
}

func (s *Store) ListByPipeline(ctx context.Context, filter repo.ExecutionFilter) ([]domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]domain.ExecutionRecord, 0)
	for _, record := range s.executions {
		if record.PipelineRef != strings.TrimSpace(filter.PipelineRef) {
			continue
		}
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	return records, nil
}

func (s *Store) UpdateStatus(ctx context.Context, executionID string, status domain.ExecutionStatus, endedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.executions[strings.TrimSpace(executionID)]
	if !ok {
		return repo.ErrNotFound
	}
	record.Status = status
	record.EndedAt = endedAt
	s.executions[record.ID] = record
	return nil
}

func (s *Store) UpdateProgress(ctx context.Context, executionID, currentNode, currentStage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.executions[strings.TrimSpace(executionID)]
	if !ok {
		return repo.ErrNotFound
	}
	record.CurrentNode = currentNode
	record.CurrentStage = currentStage
	s.executions[record.ID] = record
	return nil
}

func (s *Store) PutStageRecord(ctx context.Context, record domain.StageExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStage, ok := s.stageRecords[record.ExecutionID]
	if !ok {
		byStage = map[string]domain.StageExecutionRecord{}
		s.stageRecords[record.ExecutionID] = byStage
	}
	byStage[record.StageID] = record
	return nil
}

func (s *Store) ListStageRecords(ctx context.Context, executionID string) ([]domain.StageExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStage := s.stageRecords[strings.TrimSpace(executionID)]
	records := make([]domain.StageExecutionRecord, 0, len(byStage))
	for _, record := range byStage {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].StartedAt.Before(records[j].StartedAt)
		}
		return records[i].StageID < records[j].StageID
	})
	return records, nil
}

func (s *Store) AppendLog(ctx context.Context, executionID, line string, loggedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	executionID = strings.TrimSpace(executionID)
	seq := int64(len(s.logs[executionID])) + 1
	s.logs[executionID] = append(s.logs[executionID], domain.LogEntry{
		ExecutionID: executionID,
		Seq:         seq,
		Line:        line,
		LoggedAt:    loggedAt,
	})
	return seq, nil
}

func (s *Store) ListLogs(ctx context.Context, executionID string) ([]domain.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.logs[strings.TrimSpace(executionID)]
	out := make([]domain.LogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *Store) Enqueue(ctx context.Context, job repo.DispatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.RunAfter.IsZero() {
		job.RunAfter = time.Now().UTC()
	}
	s.jobs[job.ID] = &jobState{job: job}
	return nil
}

func (s *Store) DequeueDue(ctx context.Context, limit int) ([]repo.DispatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	due := make([]repo.DispatchJob, 0)
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		state := s.jobs[id]
		if state.done || state.job.RunAfter.After(now) {
			continue
		}
		due = append(due, state.job)
		if limit > 0 && len(due) >= limit {
			break
		}
	}
	return due, nil
}

func (s *Store) MarkDone(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.jobs[strings.TrimSpace(jobID)]
	if !ok {
		return repo.ErrNotFound
	}
	state.done = true
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, jobID string, attempt int, retryAt time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.jobs[strings.TrimSpace(jobID)]
	if !ok {
		return repo.ErrNotFound
	}
	state.job.Attempts = attempt
	state.job.RunAfter = retryAt
	state.job.LastError = reason
	return nil
}
