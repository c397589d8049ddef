package parser

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

// The textual dialect is YAML (JSON documents decode through the same
// path). Field shapes are tolerated loosely; only undecodable content is an
// error.
type textualPipeline struct {
	PipelineName string        `yaml:"pipelineName"`
	Name         string        `yaml:"name"`
	BuildVersion string        `yaml:"buildVersion"`
	Nodes        []textualNode `yaml:"nodes"`
}

type textualNode struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	DependsOn []string       `yaml:"dependsOn"`
	Stages    []textualStage `yaml:"stages"`
}

type textualStage struct {
	ID            string         `yaml:"id"`
	Name          string         `yaml:"name"`
	Type          string         `yaml:"type"`
	Enabled       *bool          `yaml:"enabled"`
	ToolSelected  *bool          `yaml:"toolSelected"`
	DependsOn     []string       `yaml:"dependsOn"`
	CredentialRef string         `yaml:"credentialRef"`
	Config        map[string]any `yaml:"config"`
	Tool          *textualTool   `yaml:"tool"`
}

type textualTool struct {
	Type        string            `yaml:"type"`
	Connector   string            `yaml:"connector"`
	Environment string            `yaml:"environment"`
	Auth        map[string]any    `yaml:"auth"`
	Artifacts   []textualArtifact `yaml:"artifacts"`
}

type textualArtifact struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	PackageID string `yaml:"packageId"`
}

func parseTextual(doc domain.DefinitionDocument) (domain.PipelineDefinition, error) {
	var payload textualPipeline
	if err := yaml.Unmarshal(doc.Textual, &payload); err != nil {
		return domain.PipelineDefinition{}, fmt.Errorf("decode textual definition: %w", err)
	}

	name := strings.TrimSpace(payload.PipelineName)
	if name == "" {
		name = strings.TrimSpace(payload.Name)
	}
	if name == "" {
		name = doc.PipelineRef
	}

	def := domain.PipelineDefinition{
		Name:         name,
		BuildVersion: strings.TrimSpace(payload.BuildVersion),
		Nodes:        make([]domain.Node, 0, len(payload.Nodes)),
	}
	for i, rawNode := range payload.Nodes {
		nodeID := strings.TrimSpace(rawNode.ID)
		if nodeID == "" {
			nodeID = fmt.Sprintf("node-%d", i+1)
		}
		node := domain.Node{
			ID:        nodeID,
			Name:      defaultString(rawNode.Name, nodeID),
			DependsOn: rawNode.DependsOn,
			Stages:    make([]domain.Stage, 0, len(rawNode.Stages)),
		}
		for j, rawStage := range rawNode.Stages {
			node.Stages = append(node.Stages, textualToStage(nodeID, j, rawStage, doc.Selections))
		}
		def.Nodes = append(def.Nodes, node)
	}
	return def, nil
}

func textualToStage(nodeID string, index int, raw textualStage, selections map[string]domain.Metadata) domain.Stage {
	stageID := strings.TrimSpace(raw.ID)
	if stageID == "" {
		stageID = fmt.Sprintf("%s-stage-%d", nodeID, index+1)
	}

	var toolType string
	if raw.Tool != nil {
		toolType = raw.Tool.Type
	}
	stageType, toolID := inferStage(toolType, raw.Name, raw.Type)

	stage := domain.Stage{
		ID:            stageID,
		Name:          defaultString(raw.Name, stageID),
		Type:          stageType,
		ToolID:        toolID,
		Enabled:       boolOrDefault(raw.Enabled, true),
		ToolSelected:  boolOrDefault(raw.ToolSelected, true),
		DependsOn:     raw.DependsOn,
		Config:        domain.Metadata(raw.Config).Clone(),
		CredentialRef: strings.TrimSpace(raw.CredentialRef),
	}
	if raw.Tool != nil {
		toolConfig := &domain.ToolConfig{
			Connector:   strings.TrimSpace(raw.Tool.Connector),
			Environment: strings.TrimSpace(raw.Tool.Environment),
			Auth:        domain.Metadata(raw.Tool.Auth).Clone(),
		}
		for _, artifact := range raw.Tool.Artifacts {
			toolConfig.Artifacts = append(toolConfig.Artifacts, domain.ArtifactDescriptor{
				Name:      strings.TrimSpace(artifact.Name),
				Type:      strings.TrimSpace(artifact.Type),
				PackageID: strings.TrimSpace(artifact.PackageID),
			})
		}
		stage.ToolConfig = toolConfig
	}

	applySelections(&stage, selections[selectionKey(nodeID, stageID)])
	return stage
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func boolOrDefault(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}
