package parser

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

// The canvas dialect is the generic visual-graph form: environment nodes
// with embedded stage lists, edges as dependency arrows, and per-stage
// detail arriving through the flat selections side channel.
type canvasGraph struct {
	Name  string       `yaml:"name"`
	Nodes []canvasNode `yaml:"nodes"`
	Edges []canvasEdge `yaml:"edges"`
}

type canvasNode struct {
	ID       string          `yaml:"id"`
	Type     string          `yaml:"type"`
	Position *canvasPosition `yaml:"position"`
	Data     canvasNodeData  `yaml:"data"`
}

type canvasNodeData struct {
	Label  string        `yaml:"label"`
	Stages []canvasStage `yaml:"stages"`
}

type canvasStage struct {
	ID       string          `yaml:"id"`
	Label    string          `yaml:"label"`
	Category string          `yaml:"category"`
	ToolType string          `yaml:"toolType"`
	Position *canvasPosition `yaml:"position"`
}

type canvasPosition struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

type canvasEdge struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

func parseCanvas(doc domain.DefinitionDocument) (domain.PipelineDefinition, error) {
	var graph canvasGraph
	if err := yaml.Unmarshal(doc.Canvas, &graph); err != nil {
		return domain.PipelineDefinition{}, fmt.Errorf("decode canvas definition: %w", err)
	}
	if len(graph.Nodes) == 0 {
		return domain.PipelineDefinition{}, fmt.Errorf("canvas definition has no nodes")
	}

	dependsOn := make(map[string][]string)
	for _, edge := range graph.Edges {
		source := strings.TrimSpace(edge.Source)
		target := strings.TrimSpace(edge.Target)
		if source == "" || target == "" {
			continue
		}
		dependsOn[target] = append(dependsOn[target], source)
	}

	nodes := append([]canvasNode(nil), graph.Nodes...)
	sortByPosition(nodes)

	def := domain.PipelineDefinition{
		Name:  defaultString(graph.Name, doc.PipelineRef),
		Nodes: make([]domain.Node, 0, len(nodes)),
	}
	for i, rawNode := range nodes {
		nodeID := strings.TrimSpace(rawNode.ID)
		if nodeID == "" {
			nodeID = fmt.Sprintf("node-%d", i+1)
		}
		node := domain.Node{
			ID:        nodeID,
			Name:      defaultString(rawNode.Data.Label, nodeID),
			DependsOn: dependsOn[nodeID],
			Stages:    make([]domain.Stage, 0, len(rawNode.Data.Stages)),
		}

		stages := append([]canvasStage(nil), rawNode.Data.Stages...)
		sortStagesByPosition(stages)
		for j, rawStage := range stages {
			node.Stages = append(node.Stages, canvasToStage(nodeID, j, rawStage, doc.Selections))
		}
		def.Nodes = append(def.Nodes, node)
	}
	return def, nil
}

func canvasToStage(nodeID string, index int, raw canvasStage, selections map[string]domain.Metadata) domain.Stage {
	stageID := strings.TrimSpace(raw.ID)
	if stageID == "" {
		stageID = fmt.Sprintf("%s-stage-%d", nodeID, index+1)
	}

	stageType, toolID := inferStage(raw.ToolType, raw.Label, raw.Category)
	stage := domain.Stage{
		ID:           stageID,
		Name:         defaultString(raw.Label, stageID),
		Type:         stageType,
		ToolID:       toolID,
		Enabled:      true,
		ToolSelected: true,
	}
	applySelections(&stage, selections[selectionKey(nodeID, stageID)])
	return stage
}

// sortByPosition keeps canvas order stable: top-to-bottom, left-to-right
// when positions exist, declaration order otherwise.
func sortByPosition(nodes []canvasNode) {
	positioned := false
	for _, node := range nodes {
		if node.Position != nil {
			positioned = true
			break
		}
	}
	if !positioned {
		return
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i].Position, nodes[j].Position
		if a == nil || b == nil {
			return a != nil
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return nodes[i].ID < nodes[j].ID
	})
}

func sortStagesByPosition(stages []canvasStage) {
	positioned := false
	for _, stage := range stages {
		if stage.Position != nil {
			positioned = true
			break
		}
	}
	if !positioned {
		return
	}
	sort.SliceStable(stages, func(i, j int) bool {
		a, b := stages[i].Position, stages[j].Position
		if a == nil || b == nil {
			return a != nil
		}
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return stages[i].ID < stages[j].ID
	})
}
