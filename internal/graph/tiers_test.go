package graph

import (
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

func TestTiers_LayersByDependency(t *testing.T) {
	ids := []string{"dev", "qa", "prod"}
	deps := map[string][]string{
		"qa":   {"dev"},
		"prod": {"qa"},
	}

	tiers, err := Tiers(ids, deps)
	if err != nil {
		t.Fatalf("Tiers() err=%v", err)
	}
	want := [][]string{{"dev"}, {"qa"}, {"prod"}}
	if !reflect.DeepEqual(tiers, want) {
		t.Fatalf("Tiers()=%v, want %v", tiers, want)
	}
}

func TestTiers_IndependentItemsShareATier(t *testing.T) {
	ids := []string{"b", "a", "c"}
	deps := map[string][]string{
		"c": {"a", "b"},
	}

	tiers, err := Tiers(ids, deps)
	if err != nil {
		t.Fatalf("Tiers() err=%v", err)
	}
	if len(tiers) != 2 {
		t.Fatalf("len(tiers)=%d, want 2", len(tiers))
	}
	// declaration order of ids is the tie-break inside a tier
	if !reflect.DeepEqual(tiers[0], []string{"b", "a"}) {
		t.Fatalf("tier 0=%v, want [b a]", tiers[0])
	}
	if !reflect.DeepEqual(tiers[1], []string{"c"}) {
		t.Fatalf("tier 1=%v, want [c]", tiers[1])
	}
}

func TestTiers_UnknownDependencyIsSatisfied(t *testing.T) {
	tiers, err := Tiers([]string{"a"}, map[string][]string{"a": {"ghost"}})
	if err != nil {
		t.Fatalf("Tiers() err=%v", err)
	}
	if !reflect.DeepEqual(tiers, [][]string{{"a"}}) {
		t.Fatalf("Tiers()=%v, want [[a]]", tiers)
	}
}

func TestTiers_SelfDependencyIsIgnored(t *testing.T) {
	tiers, err := Tiers([]string{"a", "b"}, map[string][]string{"a": {"a"}, "b": {"a"}})
	if err != nil {
		t.Fatalf("Tiers() err=%v", err)
	}
	want := [][]string{{"a"}, {"b"}}
	if !reflect.DeepEqual(tiers, want) {
		t.Fatalf("Tiers()=%v, want %v", tiers, want)
	}
}

func TestTiers_CycleReportsMembers(t *testing.T) {
	ids := []string{"a", "b", "c"}
	deps := map[string][]string{
		"a": {"c"},
		"b": {"a"},
		"c": {"b"},
	}

	_, err := Tiers(ids, deps)
	var cycleErr *CyclicDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Tiers() err=%v, want CyclicDependencyError", err)
	}
	members := append([]string(nil), cycleErr.Members...)
	sort.Strings(members)
	if !reflect.DeepEqual(members, []string{"a", "b", "c"}) {
		t.Fatalf("cycle members=%v, want [a b c]", members)
	}
}

func TestTiers_PartialCycleStillReported(t *testing.T) {
	ids := []string{"ok", "x", "y"}
	deps := map[string][]string{
		"x": {"y"},
		"y": {"x"},
	}

	_, err := Tiers(ids, deps)
	var cycleErr *CyclicDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Tiers() err=%v, want CyclicDependencyError", err)
	}
	members := append([]string(nil), cycleErr.Members...)
	sort.Strings(members)
	if !reflect.DeepEqual(members, []string{"x", "y"}) {
		t.Fatalf("cycle members=%v, want [x y]", members)
	}
}

func TestNodeTiers_DevBeforeProd(t *testing.T) {
	def := domain.PipelineDefinition{
		Name: "release-train",
		Nodes: []domain.Node{
			{ID: "prod", DependsOn: []string{"dev"}},
			{ID: "dev"},
		},
	}

	tiers, err := NodeTiers(def)
	if err != nil {
		t.Fatalf("NodeTiers() err=%v", err)
	}
	if len(tiers) != 2 {
		t.Fatalf("len(tiers)=%d, want 2", len(tiers))
	}
	if tiers[0][0].ID != "dev" || tiers[1][0].ID != "prod" {
		t.Fatalf("tier order=%v/%v, want dev then prod", tiers[0][0].ID, tiers[1][0].ID)
	}
}

func TestStageTiers_RespectsStageDependencies(t *testing.T) {
	node := domain.Node{
		ID: "dev",
		Stages: []domain.Stage{
			{ID: "deploy", DependsOn: []string{"build"}},
			{ID: "build", DependsOn: []string{"plan"}},
			{ID: "plan"},
		},
	}

	tiers, err := StageTiers(node)
	if err != nil {
		t.Fatalf("StageTiers() err=%v", err)
	}
	got := make([]string, 0, 3)
	for _, tier := range tiers {
		for _, st := range tier {
			got = append(got, st.ID)
		}
	}
	if !reflect.DeepEqual(got, []string{"plan", "build", "deploy"}) {
		t.Fatalf("stage order=%v, want [plan build deploy]", got)
	}
}

func TestValidatePipeline_RejectsStageCycle(t *testing.T) {
	def := domain.PipelineDefinition{
		Name: "broken",
		Nodes: []domain.Node{
			{
				ID: "dev",
				Stages: []domain.Stage{
					{ID: "a", DependsOn: []string{"b"}},
					{ID: "b", DependsOn: []string{"a"}},
				},
			},
		},
	}

	err := ValidatePipeline(def)
	var cycleErr *CyclicDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("ValidatePipeline() err=%v, want CyclicDependencyError", err)
	}
}
