package graph

import (
	"sort"
	"strings"

	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

// CyclicDependencyError identifies the set of items that never reached zero
// in-degree during tier extraction.
type CyclicDependencyError struct {
	Members []string
}

func (e *CyclicDependencyError) Error() string {
	members := append([]string(nil), e.Members...)
	sort.Strings(members)
	return "dependency graph contains a cycle: " + strings.Join(members, ", ")
}

// Tiers layers ids into dependency rounds: every predecessor's tier index is
// strictly less than every dependent's. Items inside one tier share no
// dependency relationship and keep the declaration order of ids as a stable
// tie-break. Dependencies pointing outside the id set are treated as already
// satisfied.
func Tiers(ids []string, dependsOn map[string][]string) ([][]string, error) {
	order := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, ok := order[id]; !ok {
			order[id] = i
		}
	}

	inDegree := make(map[string]int, len(order))
	successors := make(map[string][]string, len(order))
	for _, id := range ids {
		inDegree[id] = 0
	}
	for id := range order {
		for _, dep := range dependsOn[id] {
			if _, known := order[dep]; !known || dep == id {
				continue
			}
			successors[dep] = append(successors[dep], id)
			inDegree[id]++
		}
	}

	remaining := len(order)
	tiers := make([][]string, 0, len(order))
	for remaining > 0 {
		tier := make([]string, 0, remaining)
		for _, id := range ids {
			if degree, ok := inDegree[id]; ok && degree == 0 {
				tier = append(tier, id)
			}
		}
		if len(tier) == 0 {
			stuck := make([]string, 0, remaining)
			for id, degree := range inDegree {
				if degree >= 0 {
					stuck = append(stuck, id)
				}
			}
			return nil, &CyclicDependencyError{Members: stuck}
		}
		for _, id := range tier {
			delete(inDegree, id)
			for _, next := range successors[id] {
				if _, pending := inDegree[next]; pending {
					inDegree[next]--
				}
			}
		}
		remaining -= len(tier)
		tiers = append(tiers, tier)
	}
	return tiers, nil
}

// NodeTiers layers a pipeline's nodes into execution tiers.
func NodeTiers(def domain.PipelineDefinition) ([][]domain.Node, error) {
	ids := make([]string, 0, len(def.Nodes))
	deps := make(map[string][]string, len(def.Nodes))
	byID := make(map[string]domain.Node, len(def.Nodes))
	for _, node := range def.Nodes {
		ids = append(ids, node.ID)
		deps[node.ID] = node.DependsOn
		byID[node.ID] = node
	}
	tiers, err := Tiers(ids, deps)
	if err != nil {
		return nil, err
	}
	out := make([][]domain.Node, 0, len(tiers))
	for _, tier := range tiers {
		nodes := make([]domain.Node, 0, len(tier))
		for _, id := range tier {
			nodes = append(nodes, byID[id])
		}
		out = append(out, nodes)
	}
	return out, nil
}

// StageTiers layers a node's stages into execution tiers. Stages without
// explicit dependencies fall back to declaration order.
func StageTiers(node domain.Node) ([][]domain.Stage, error) {
	ids := make([]string, 0, len(node.Stages))
	deps := make(map[string][]string, len(node.Stages))
	byID := make(map[string]domain.Stage, len(node.Stages))
	for _, stage := range node.Stages {
		ids = append(ids, stage.ID)
		deps[stage.ID] = stage.DependsOn
		byID[stage.ID] = stage
	}
	tiers, err := Tiers(ids, deps)
	if err != nil {
		return nil, err
	}
	out := make([][]domain.Stage, 0, len(tiers))
	for _, tier := range tiers {
		stages := make([]domain.Stage, 0, len(tier))
		for _, id := range tier {
			stages = append(stages, byID[id])
		}
		out = append(out, stages)
	}
	return out, nil
}

// ValidatePipeline checks node and stage graphs for cycles before a run is
// allowed to start.
func ValidatePipeline(def domain.PipelineDefinition) error {
	if _, err := NodeTiers(def); err != nil {
		return err
	}
	for _, node := range def.Nodes {
		if _, err := StageTiers(node); err != nil {
			return err
		}
	}
	return nil
}
