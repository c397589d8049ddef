package domain

import (
	"errors"
	"fmt"
	"strings"
)

// StageType categorizes a stage by the kind of work it performs.
type StageType string

const (
	StageTypePlan     StageType = "plan"
	StageTypeCode     StageType = "code"
	StageTypeBuild    StageType = "build"
	StageTypeDeploy   StageType = "deploy"
	StageTypeRelease  StageType = "release"
	StageTypeTest     StageType = "test"
	StageTypeApproval StageType = "approval"
	StageTypeGeneric  StageType = "generic"
)

// StageTypes lists every stage type a handler registry must cover.
func StageTypes() []StageType {
	return []StageType{
		StageTypePlan,
		StageTypeCode,
		StageTypeBuild,
		StageTypeDeploy,
		StageTypeRelease,
		StageTypeTest,
		StageTypeApproval,
		StageTypeGeneric,
	}
}

// NormalizeStageType maps free-form type values to canonical stage types.
// Unknown values normalize to the generic catch-all.
func NormalizeStageType(value string) StageType {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(StageTypePlan):
		return StageTypePlan
	case string(StageTypeCode):
		return StageTypeCode
	case string(StageTypeBuild):
		return StageTypeBuild
	case string(StageTypeDeploy):
		return StageTypeDeploy
	case string(StageTypeRelease):
		return StageTypeRelease
	case string(StageTypeTest):
		return StageTypeTest
	case string(StageTypeApproval):
		return StageTypeApproval
	default:
		return StageTypeGeneric
	}
}

// MandatesTool reports whether a stage of this type cannot run without a
// configured tool. For such stages an unresolvable credential is a stage
// failure instead of a skip.
func (t StageType) MandatesTool() bool {
	return t == StageTypeDeploy
}

// Well-known tool identifiers resolved during parsing.
const (
	ToolJira     = "JIRA"
	ToolGitHub   = "GITHUB"
	ToolPlatform = "CPI"
)

// PipelineDefinition is the canonical parsed form of a pipeline, immutable
// once parsed for a given run.
type PipelineDefinition struct {
	Name         string
	BuildVersion string
	Nodes        []Node
}

// Node is an environment group of stages with its own dependency edges to
// other nodes.
type Node struct {
	ID        string
	Name      string
	DependsOn []string
	Stages    []Stage
}

// Stage is a single unit of work within a node.
type Stage struct {
	ID            string
	Name          string
	Type          StageType
	ToolID        string
	Enabled       bool
	ToolSelected  bool
	DependsOn     []string
	Config        Metadata
	ToolConfig    *ToolConfig
	CredentialRef string
}

// ToolConfig carries the resolved connector, environment and auth material
// for a stage. Auth holds raw fields as they arrived; canonical extraction
// happens in the credential resolver only.
type ToolConfig struct {
	Connector   string
	Environment string
	Auth        Metadata
	Artifacts   []ArtifactDescriptor
}

// Runnable reports whether the orchestrator should dispatch the stage.
func (s Stage) Runnable() bool {
	return s.Enabled && s.ToolSelected
}

// HasTool reports whether any tool configuration is attached to the stage.
func (s Stage) HasTool() bool {
	if strings.TrimSpace(s.ToolID) != "" {
		return true
	}
	if strings.TrimSpace(s.CredentialRef) != "" {
		return true
	}
	return s.ToolConfig != nil
}

func (d PipelineDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("pipeline name is required")
	}
	seen := make(map[string]struct{}, len(d.Nodes))
	for i, node := range d.Nodes {
		if strings.TrimSpace(node.ID) == "" {
			return fmt.Errorf("node[%d] id is required", i)
		}
		if _, ok := seen[node.ID]; ok {
			return fmt.Errorf("duplicate node id %q", node.ID)
		}
		seen[node.ID] = struct{}{}
		stageIDs := make(map[string]struct{}, len(node.Stages))
		for j, stage := range node.Stages {
			if strings.TrimSpace(stage.ID) == "" {
				return fmt.Errorf("node[%s] stage[%d] id is required", node.ID, j)
			}
			if _, ok := stageIDs[stage.ID]; ok {
				return fmt.Errorf("node[%s] duplicate stage id %q", node.ID, stage.ID)
			}
			stageIDs[stage.ID] = struct{}{}
		}
	}
	return nil
}

// NodeByID returns the node with the given id.
func (d PipelineDefinition) NodeByID(id string) (Node, bool) {
	for _, node := range d.Nodes {
		if node.ID == id {
			return node, true
		}
	}
	return Node{}, false
}

// StageByID returns the stage with the given id inside the node.
func (n Node) StageByID(id string) (Stage, bool) {
	for _, stage := range n.Stages {
		if stage.ID == id {
			return stage, true
		}
	}
	return Stage{}, false
}
