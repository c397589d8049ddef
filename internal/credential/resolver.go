package credential

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
	"github.com/flowdeck-labs/flowdeck-go/internal/repo"
)

// ResolutionError reports that no usable auth could be assembled for a
// stage. It is not fatal by itself: the orchestrator degrades the stage to
// SKIPPED unless the stage type mandates a tool.
type ResolutionError struct {
	StageID string
	Ref     string
	Source  string
	Err     error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("credential resolution failed for stage %s", e.StageID)
	if e.Ref != "" {
		msg += fmt.Sprintf(" (ref %s via %s)", e.Ref, e.Source)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Resolver assembles stage authentication from the definition, the
// credential store and the environment store, merging partial results in a
// fixed precedence: embedded tool config first, then the stage's credential
// reference, then the environment's matching connector (optionally chasing
// that connector's named credential).
type Resolver struct {
	credentials  repo.CredentialStore
	environments repo.EnvironmentStore
	logger       *slog.Logger
}

func NewResolver(credentials repo.CredentialStore, environments repo.EnvironmentStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		credentials:  credentials,
		environments: environments,
		logger:       logger,
	}
}

// Resolve returns the merged auth for a stage. Lookup failures of individual
// sources are logged (ids and sources only, never secret values) and the
// remaining sources are still consulted; only an unusable end result is an
// error.
func (r *Resolver) Resolve(ctx context.Context, stage domain.Stage) (Auth, error) {
	var auth Auth

	if stage.ToolConfig != nil && len(stage.ToolConfig.Auth) > 0 {
		auth = FromFields(stage.ToolConfig.Auth)
	}

	if ref := strings.TrimSpace(stage.CredentialRef); ref != "" && r.credentials != nil {
		record, err := r.credentials.Get(ctx, ref)
		if err != nil {
			r.logger.Warn("credential lookup failed",
				"stage_id", stage.ID, "credential_id", ref, "source", "credential_store", "error", err)
		} else {
			auth = auth.Merge(authFromCredential(record))
		}
	}

	if stage.ToolConfig != nil && strings.TrimSpace(stage.ToolConfig.Environment) != "" && r.environments != nil {
		envAuth, err := r.resolveFromEnvironment(ctx, stage)
		if err != nil {
			r.logger.Warn("environment connector resolution failed",
				"stage_id", stage.ID, "environment", stage.ToolConfig.Environment, "error", err)
		} else {
			auth = auth.Merge(envAuth)
		}
	}

	if auth.URL == "" || !auth.HasSecret() {
		return Auth{}, &ResolutionError{
			StageID: stage.ID,
			Ref:     stage.CredentialRef,
			Source:  resolutionSource(stage),
			Err:     fmt.Errorf("no usable auth resolved (url present: %t, secret present: %t)", auth.URL != "", auth.HasSecret()),
		}
	}
	return auth, nil
}

func (r *Resolver) resolveFromEnvironment(ctx context.Context, stage domain.Stage) (Auth, error) {
	env, err := r.environments.Get(ctx, stage.ToolConfig.Environment)
	if err != nil {
		return Auth{}, fmt.Errorf("environment %q: %w", stage.ToolConfig.Environment, err)
	}
	connector, ok := matchConnector(env, stage)
	if !ok {
		return Auth{}, fmt.Errorf("environment %q has no connector matching stage %s", env.Name, stage.ID)
	}

	auth := FromFields(connector.Fields)
	if name := strings.TrimSpace(connector.CredentialName); name != "" && r.credentials != nil {
		record, err := r.credentials.FindByName(ctx, name)
		if err != nil {
			r.logger.Warn("connector credential lookup failed",
				"stage_id", stage.ID, "credential_name", name, "source", "environment_connector", "error", err)
		} else {
			auth = auth.Merge(authFromCredential(record))
		}
	}
	return auth, nil
}

// matchConnector picks the environment connector for a stage, by explicit
// connector name first, then by category against the stage's tool or type.
func matchConnector(env repo.EnvironmentRecord, stage domain.Stage) (repo.ConnectorRecord, bool) {
	want := strings.TrimSpace(stage.ToolConfig.Connector)
	if want != "" {
		for _, connector := range env.Connectors {
			if strings.EqualFold(connector.Name, want) || connector.ID == want {
				return connector, true
			}
		}
	}
	category := strings.TrimSpace(stage.ToolID)
	if category == "" {
		category = string(stage.Type)
	}
	for _, connector := range env.Connectors {
		if strings.EqualFold(connector.Category, category) {
			return connector, true
		}
	}
	return repo.ConnectorRecord{}, false
}

func authFromCredential(record repo.CredentialRecord) Auth {
	auth := FromFields(record.Fields)
	if auth.Type == "" {
		auth.Type = record.AuthType
	}
	return auth
}

func resolutionSource(stage domain.Stage) string {
	switch {
	case stage.CredentialRef != "":
		return "credential_store"
	case stage.ToolConfig != nil && stage.ToolConfig.Environment != "":
		return "environment_connector"
	default:
		return "tool_config"
	}
}
