package investigation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalizeName(t *testing.T) {
	if got := NormalizeName("  Jane   DOE "); got != "jane doe" {
		t.Errorf("NormalizeName = %q, want %q", got, "jane doe")
	}
}

func TestEntity_HasAlias(t *testing.T) {
	e := Entity{Name: "Acme Corporation", Aliases: []string{"Acme Corp", "ACME"}}
	for _, name := range []string{"acme corporation", "ACME corp", "acme"} {
		if !e.HasAlias(name) {
			t.Errorf("HasAlias(%q) = false, want true", name)
		}
	}
	if e.HasAlias("Initech") {
		t.Error("HasAlias matched an unrelated name")
	}
}

func TestKnowledgeGraph_Validate(t *testing.T) {
	g := NewKnowledgeGraph()
	g.Nodes["a"] = GraphNode{ID: "a", Importance: 1}
	g.Nodes["b"] = GraphNode{ID: "b", Importance: 1}
	g.Edges = append(g.Edges, GraphEdge{Source: "a", Target: "b", Relation: "owns"})
	if err := g.Validate(); err != nil {
		t.Fatalf("valid graph rejected: %v", err)
	}

	orphan := g.Clone()
	orphan.Edges = append(orphan.Edges, GraphEdge{Source: "a", Target: "ghost", Relation: "owns"})
	if orphan.Validate() == nil {
		t.Error("orphan edge passed validation")
	}

	dup := g.Clone()
	dup.Edges = append(dup.Edges, GraphEdge{Source: "a", Target: "b", Relation: "owns"})
	if dup.Validate() == nil {
		t.Error("duplicate triple passed validation")
	}

	// Same pair under a different relation is legal in a multigraph.
	multi := g.Clone()
	multi.Edges = append(multi.Edges, GraphEdge{Source: "a", Target: "b", Relation: "funds"})
	if err := multi.Validate(); err != nil {
		t.Errorf("distinct relation on the same pair rejected: %v", err)
	}
}

func TestKnowledgeGraph_CloneIsDeep(t *testing.T) {
	g := NewKnowledgeGraph()
	g.Nodes["a"] = GraphNode{ID: "a", Importance: 1}
	g.Nodes["b"] = GraphNode{ID: "b", Importance: 1}
	g.Edges = append(g.Edges, GraphEdge{Source: "a", Target: "b", Relation: "owns", Evidence: []string{"filing"}})

	c := g.Clone()
	if diff := cmp.Diff(g, c); diff != "" {
		t.Fatalf("clone differs from original (-want +got):\n%s", diff)
	}

	c.Nodes["c"] = GraphNode{ID: "c"}
	c.Edges[0].Evidence[0] = "mutated"
	c.Edges[0].Relation = "changed"
	if _, leaked := g.Nodes["c"]; leaked {
		t.Error("node insert on clone leaked into original")
	}
	if g.Edges[0].Evidence[0] != "filing" || g.Edges[0].Relation != "owns" {
		t.Error("edge mutation on clone leaked into original")
	}
}

func TestSortedEntities_Ordering(t *testing.T) {
	in := map[string]Entity{
		"beta":  {Name: "Beta", Mentions: 2},
		"alpha": {Name: "Alpha", Mentions: 2},
		"gamma": {Name: "Gamma", Mentions: 9},
	}
	got := sortedEntities(in)
	want := []string{"Gamma", "Alpha", "Beta"}
	for i, name := range want {
		if got[i].Name != name {
			t.Fatalf("sortedEntities()[%d] = %s, want %s", i, got[i].Name, name)
		}
	}
}
