// Package stage contains the typed stage handlers and the registry the
// orchestrator dispatches through. Handlers never leak raw errors: every
// outcome is converted to a typed Result before returning.
package stage

import (
	"context"
	"time"

	"github.com/flowdeck-labs/flowdeck-go/internal/connector"
	"github.com/flowdeck-labs/flowdeck-go/internal/credential"
	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

// Result is the only thing a handler returns to the orchestrator.
type Result struct {
	Status    domain.StageStatus
	Message   string
	Approvers []string
}

func succeeded(message string) Result {
	return Result{Status: domain.StageSucceeded, Message: message}
}

func failed(message string) Result {
	return Result{Status: domain.StageFailed, Message: message}
}

func skipped(message string) Result {
	return Result{Status: domain.StageSkipped, Message: message}
}

// Request carries everything one stage dispatch needs.
type Request struct {
	Execution domain.ExecutionRecord
	Node      domain.Node
	Stage     domain.Stage
	Auth      credential.Auth
	Branch    string
	Approvers []string
	Run       *RunContext
	Log       connector.LogSink
}

// Handler executes one stage category.
type Handler interface {
	Execute(ctx context.Context, req Request) Result
}

// TrackerAPI, SourceHostAPI, DesignStoreAPI and RuntimeTargetAPI are the
// adapter surfaces handlers depend on; the connector package's concrete
// clients satisfy them and tests substitute fakes.
type TrackerAPI interface {
	ValidateIssue(ctx context.Context, key string) error
	Authenticate(ctx context.Context) error
}

type SourceHostAPI interface {
	CheckRepository(ctx context.Context, owner, repo string) error
	CheckBranch(ctx context.Context, owner, repo, branch string) error
	ContentID(ctx context.Context, owner, repo, path, branch string) (string, error)
	PutContent(ctx context.Context, owner, repo, path, branch, message string, content []byte, contentID string) error
	GetContent(ctx context.Context, owner, repo, path, branch string) ([]byte, error)
}

type DesignStoreAPI interface {
	Exists(ctx context.Context, artifact domain.ArtifactDescriptor) (bool, error)
	Download(ctx context.Context, artifact domain.ArtifactDescriptor) ([]byte, error)
}

type RuntimeTargetAPI interface {
	Upload(ctx context.Context, artifact domain.ArtifactDescriptor, content []byte) error
	TriggerDeploy(ctx context.Context, artifact domain.ArtifactDescriptor) error
	AwaitStarted(ctx context.Context, artifactID string, interval time.Duration, maxAttempts int) error
}

// ArchiveStore stores a copy of every deployed artifact binary.
type ArchiveStore interface {
	Put(ctx context.Context, key string, content []byte) error
}

// Deps wires handler construction. Nil factories fall back to the real
// connector clients; a nil Archive disables archiving.
type Deps struct {
	NewTracker    func(auth credential.Auth, sink connector.LogSink) TrackerAPI
	NewSourceHost func(auth credential.Auth, sink connector.LogSink) SourceHostAPI
	NewDesign     func(auth credential.Auth, sink connector.LogSink) DesignStoreAPI
	NewRuntime    func(auth credential.Auth, sink connector.LogSink) RuntimeTargetAPI
	Archive       ArchiveStore
	PollInterval  time.Duration
	PollAttempts  int
}

func (d Deps) withDefaults() Deps {
	if d.NewTracker == nil {
		d.NewTracker = func(auth credential.Auth, sink connector.LogSink) TrackerAPI {
			return connector.NewTracker(auth, sink)
		}
	}
	if d.NewSourceHost == nil {
		d.NewSourceHost = func(auth credential.Auth, sink connector.LogSink) SourceHostAPI {
			return connector.NewSourceHost(auth, sink)
		}
	}
	if d.NewDesign == nil {
		d.NewDesign = func(auth credential.Auth, sink connector.LogSink) DesignStoreAPI {
			return connector.NewDesignStore(auth, sink)
		}
	}
	if d.NewRuntime == nil {
		d.NewRuntime = func(auth credential.Auth, sink connector.LogSink) RuntimeTargetAPI {
			return connector.NewRuntimeTarget(auth, sink)
		}
	}
	if d.PollInterval <= 0 {
		d.PollInterval = 5 * time.Second
	}
	if d.PollAttempts < 1 {
		d.PollAttempts = 20
	}
	return d
}

// Registry maps every stage type to its handler. Coverage is exhaustive
// over domain.StageTypes.
type Registry struct {
	handlers map[domain.StageType]Handler
}

func NewRegistry(deps Deps) *Registry {
	deps = deps.withDefaults()
	handlers := map[domain.StageType]Handler{
		domain.StageTypePlan:     &PlanHandler{deps: deps},
		domain.StageTypeCode:     &CodeHandler{deps: deps},
		domain.StageTypeDeploy:   &DeployHandler{deps: deps},
		domain.StageTypeApproval: &ApprovalHandler{},
	}
	for _, t := range []domain.StageType{
		domain.StageTypeBuild,
		domain.StageTypeTest,
		domain.StageTypeRelease,
		domain.StageTypeGeneric,
	} {
		handlers[t] = &NoopHandler{kind: t}
	}
	return &Registry{handlers: handlers}
}

// Get returns the handler for a stage type, falling back to the generic
// handler for unresolved types.
func (r *Registry) Get(stageType domain.StageType) Handler {
	if handler, ok := r.handlers[stageType]; ok {
		return handler
	}
	return r.handlers[domain.StageTypeGeneric]
}
