package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"sleuthnerd/internal/investigation"
)

func TestRelationMapper_ProposesRelations(t *testing.T) {
	entities := []investigation.Entity{
		{Name: "Jane Doe", Category: "person", Mentions: 5},
		{Name: "Horizon Trust", Category: "organization", Mentions: 2},
	}
	graph := investigation.KnowledgeGraph{
		Nodes: map[string]investigation.GraphNode{
			"jane doe":      {ID: "jane doe", Importance: 5},
			"horizon trust": {ID: "horizon trust", Importance: 2},
		},
		Edges: []investigation.GraphEdge{
			{Source: "jane doe", Target: "horizon trust", Relation: "controls"},
		},
	}
	fake := &fakeLLM{reply: `{"relations": [
		{"source": "Jane Doe", "target": "Horizon Trust", "relation": "beneficiary_of", "evidence": ["trust deed"]},
		{"source": "", "target": "Horizon Trust", "relation": "x"}
	]}`}
	m := NewRelationMapper(fake)

	frag, err := m.Enrich(context.Background(), entities, graph)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if len(frag.Relations) != 1 {
		t.Fatalf("relations = %v, want blank source dropped", frag.Relations)
	}
	if frag.Relations[0].Relation != "beneficiary_of" {
		t.Errorf("relation = %+v", frag.Relations[0])
	}
	if len(frag.Entities) != 0 {
		t.Errorf("mapper must not invent entities, got %v", frag.Entities)
	}

	for _, want := range []string{"Jane Doe", "Horizon Trust", "do not repeat", "-[controls]->"} {
		if !strings.Contains(fake.lastUser, want) {
			t.Errorf("prompt missing %q:\n%s", want, fake.lastUser)
		}
	}
}

func TestRelationMapper_SkipsTinyRoster(t *testing.T) {
	fake := &fakeLLM{}
	m := NewRelationMapper(fake)

	frag, err := m.Enrich(context.Background(), []investigation.Entity{{Name: "Jane Doe"}}, investigation.KnowledgeGraph{})
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if !frag.Empty() || fake.calls != 0 {
		t.Errorf("single entity must skip enrichment, frag=%+v calls=%d", frag, fake.calls)
	}
}

func TestRelationMapper_UnusableReplyYieldsEmpty(t *testing.T) {
	fake := &fakeLLM{reply: "No evident connections beyond what is mapped."}
	m := NewRelationMapper(fake)

	frag, err := m.Enrich(context.Background(), []investigation.Entity{
		{Name: "Jane Doe"}, {Name: "Horizon Trust"},
	}, investigation.KnowledgeGraph{})
	if err != nil {
		t.Fatalf("prose reply must not error: %v", err)
	}
	if !frag.Empty() {
		t.Errorf("frag = %+v, want empty", frag)
	}
}

func TestRelationMapper_ErrorPropagates(t *testing.T) {
	fake := &fakeLLM{err: errors.New("api down")}
	m := NewRelationMapper(fake)

	_, err := m.Enrich(context.Background(), []investigation.Entity{
		{Name: "Jane Doe"}, {Name: "Horizon Trust"},
	}, investigation.KnowledgeGraph{})
	if err == nil || !strings.Contains(err.Error(), "api down") {
		t.Fatalf("err = %v, want wrapped api error", err)
	}
}
