package parser

import (
	"strings"

	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

// applySelections overlays one stage's side-channel selection map onto the
// canonical stage: selected connector and environment, branch, approver
// list, ticket key, credential reference and artifact picks. The raw map is
// also kept as the tool auth field source so labeled credential fields
// ("API Key") reach the credential resolver's alias table untouched.
func applySelections(stage *domain.Stage, selection domain.Metadata) {
	if len(selection) == 0 {
		return
	}

	toolConfig := stage.ToolConfig
	if toolConfig == nil {
		toolConfig = &domain.ToolConfig{}
	}

	if connector, ok := firstString(selection, "connectorId", "connector", "connectorName"); ok {
		toolConfig.Connector = connector
	}
	if environment, ok := firstString(selection, "environment", "environmentName", "environmentId"); ok {
		toolConfig.Environment = environment
	}
	if credentialRef, ok := firstString(selection, "credentialId", "credentialRef"); ok {
		stage.CredentialRef = credentialRef
	}
	if len(toolConfig.Auth) == 0 {
		toolConfig.Auth = selection.Clone()
	}

	for _, raw := range anySlice(selection, "artifacts", "selectedArtifacts") {
		fields, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		meta := domain.Metadata(fields)
		name, _ := firstString(meta, "name", "id", "Name")
		artifactType, _ := firstString(meta, "type", "artifactType", "Type")
		packageID, _ := firstString(meta, "packageId", "package", "PackageId")
		if name == "" {
			continue
		}
		toolConfig.Artifacts = append(toolConfig.Artifacts, domain.ArtifactDescriptor{
			Name:      name,
			Type:      artifactType,
			PackageID: packageID,
		})
	}

	stage.ToolConfig = toolConfig

	if stage.Config == nil {
		stage.Config = domain.Metadata{}
	}
	if branch, ok := firstString(selection, "branch", "branchName"); ok {
		stage.Config["branch"] = branch
	}
	if ticket, ok := firstString(selection, "ticketKey", "ticket", "issueKey"); ok {
		stage.Config["ticketKey"] = ticket
	}
	if repository, ok := firstString(selection, "repository", "repo"); ok {
		stage.Config["repository"] = repository
	}
	if approvers := selection.StringSlice("approvers"); len(approvers) > 0 {
		stage.Config["approvers"] = approvers
	}

	if enabled, ok := selection["enabled"].(bool); ok {
		stage.Enabled = enabled
	}
	if selected, ok := selection["selected"].(bool); ok {
		stage.ToolSelected = selected
	}
}

func firstString(meta domain.Metadata, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := meta.String(key); ok {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func anySlice(meta domain.Metadata, keys ...string) []any {
	for _, key := range keys {
		if v, ok := meta[key].([]any); ok {
			return v
		}
	}
	return nil
}
