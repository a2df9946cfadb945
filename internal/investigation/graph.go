package investigation

import (
	"fmt"
	"sort"
	"strings"
)

// Entity is the canonical record of a discovered real-world actor.
type Entity struct {
	Name     string            `json:"name"`
	Aliases  []string          `json:"aliases,omitempty"`
	Category string            `json:"category,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Mentions int               `json:"mentions"`
}

// NormalizeName reduces an entity name to its dedup key: lowercased with
// whitespace runs collapsed.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Key returns the entity's normalized canonical name.
func (e Entity) Key() string {
	return NormalizeName(e.Name)
}

// HasAlias reports whether name matches the entity's canonical name or
// any known alias, under normalization.
func (e Entity) HasAlias(name string) bool {
	key := NormalizeName(name)
	if key == e.Key() {
		return true
	}
	for _, a := range e.Aliases {
		if NormalizeName(a) == key {
			return true
		}
	}
	return false
}

func (e Entity) clone() Entity {
	out := e
	if e.Aliases != nil {
		out.Aliases = append([]string(nil), e.Aliases...)
	}
	if e.Metadata != nil {
		out.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// GraphNode ties an entity (by its normalized name) to an importance
// score. Importance tracks the entity's mention count.
type GraphNode struct {
	ID         string  `json:"id"`
	Importance float64 `json:"importance"`
}

// GraphEdge is a directed, labeled relation between two node IDs. The
// graph is a multigraph: distinct relation labels may connect the same
// pair, but one (source, target, relation) triple appears at most once.
type GraphEdge struct {
	Source   string   `json:"source"`
	Target   string   `json:"target"`
	Relation string   `json:"relation"`
	Evidence []string `json:"evidence,omitempty"`
}

func (e GraphEdge) key() string {
	return e.Source + "\x00" + e.Relation + "\x00" + e.Target
}

// KnowledgeGraph is the running relationship graph for a session. It is a
// plain value: mutating operations in the engine work on clones and
// return new values.
type KnowledgeGraph struct {
	Nodes map[string]GraphNode `json:"nodes"`
	Edges []GraphEdge          `json:"edges"`
}

func NewKnowledgeGraph() KnowledgeGraph {
	return KnowledgeGraph{Nodes: make(map[string]GraphNode)}
}

// Clone returns a deep copy of the graph.
func (g KnowledgeGraph) Clone() KnowledgeGraph {
	out := KnowledgeGraph{Nodes: make(map[string]GraphNode, len(g.Nodes))}
	for id, n := range g.Nodes {
		out.Nodes[id] = n
	}
	if g.Edges != nil {
		out.Edges = make([]GraphEdge, len(g.Edges))
		for i, e := range g.Edges {
			out.Edges[i] = e
			if e.Evidence != nil {
				out.Edges[i].Evidence = append([]string(nil), e.Evidence...)
			}
		}
	}
	return out
}

// Validate checks the structural invariants: every edge endpoint must be
// a present node, and no (source, target, relation) triple may repeat.
func (g KnowledgeGraph) Validate() error {
	seen := make(map[string]struct{}, len(g.Edges))
	for _, e := range g.Edges {
		if _, ok := g.Nodes[e.Source]; !ok {
			return fmt.Errorf("edge %q -[%s]-> %q: source node missing", e.Source, e.Relation, e.Target)
		}
		if _, ok := g.Nodes[e.Target]; !ok {
			return fmt.Errorf("edge %q -[%s]-> %q: target node missing", e.Source, e.Relation, e.Target)
		}
		k := e.key()
		if _, dup := seen[k]; dup {
			return fmt.Errorf("duplicate edge %q -[%s]-> %q", e.Source, e.Relation, e.Target)
		}
		seen[k] = struct{}{}
	}
	return nil
}

// EntityMention is one entity reference reported by an analysis pass,
// before deduplication against the canonical set.
type EntityMention struct {
	Name     string            `json:"name"`
	Category string            `json:"category,omitempty"`
	Aliases  []string          `json:"aliases,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RelationMention is one proposed relation between two mentioned names.
// Names are resolved against canonical entities during merge.
type RelationMention struct {
	Source   string   `json:"source"`
	Target   string   `json:"target"`
	Relation string   `json:"relation"`
	Evidence []string `json:"evidence,omitempty"`
}

// GraphFragment is the batch of newly mentioned entities and relations
// produced by one analysis or enrichment pass.
type GraphFragment struct {
	Entities  []EntityMention   `json:"entities"`
	Relations []RelationMention `json:"relations"`
}

// Empty reports whether the fragment carries nothing to merge.
func (f GraphFragment) Empty() bool {
	return len(f.Entities) == 0 && len(f.Relations) == 0
}

// cloneEntities deep-copies a canonical entity map.
func cloneEntities(in map[string]Entity) map[string]Entity {
	out := make(map[string]Entity, len(in))
	for k, e := range in {
		out[k] = e.clone()
	}
	return out
}

// sortedEntities flattens a canonical map into a slice ordered by mention
// count (descending), then name, so downstream consumers see a stable
// ordering.
func sortedEntities(in map[string]Entity) []Entity {
	out := make([]Entity, 0, len(in))
	for _, e := range in {
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mentions != out[j].Mentions {
			return out[i].Mentions > out[j].Mentions
		}
		return out[i].Name < out[j].Name
	})
	return out
}
