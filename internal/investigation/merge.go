package investigation

import (
	"context"
	"sort"
	"strings"
)

// MergeStats summarizes what one merge call changed.
type MergeStats struct {
	NewEntities       int
	MergedMentions    int
	CollapsedEntities int
	NewEdges          int
	CollapsedEdges    int
	DroppedRelations  int
	Degraded          bool
}

// EntityGraphMerger folds freshly mentioned entities and relations into
// the canonical entity set and knowledge graph. Inputs are never
// mutated: the merger clones, merges, and returns new values.
//
// Matching runs in two stages: an exact name/alias lookup, then a
// pairwise judgment by the similarity judge for lexical misses. If the
// judge errors the call degrades to exact matching only, which is safe
// but may leave near-duplicates unmerged until a later pass.
type EntityGraphMerger struct {
	judge SimilarityJudge
}

// NewEntityGraphMerger builds a merger. A nil judge disables semantic
// matching entirely; exact name/alias matching still applies.
func NewEntityGraphMerger(judge SimilarityJudge) *EntityGraphMerger {
	return &EntityGraphMerger{judge: judge}
}

// =============================================================================
// ITERATION MERGE
// =============================================================================

// Merge integrates one analysis pass's fragment. It guarantees, for any
// input: no edge endpoint is left without a node, no two entities share
// a normalized canonical name, and an empty fragment returns
// structurally identical copies of the inputs.
func (m *EntityGraphMerger) Merge(ctx context.Context, entities map[string]Entity, graph KnowledgeGraph, fragment GraphFragment) (map[string]Entity, KnowledgeGraph, MergeStats) {
	out := cloneEntities(entities)
	g := graph.Clone()
	var stats MergeStats
	if fragment.Empty() {
		return out, g, stats
	}

	aliases := aliasIndex(out)
	degraded := false

	for _, mention := range fragment.Entities {
		name := strings.TrimSpace(mention.Name)
		if NormalizeName(name) == "" {
			continue
		}
		canon := resolveLexical(aliases, mention)
		if canon == "" && m.judge != nil && !degraded {
			match, err := m.semanticMatch(ctx, out, mention)
			if err != nil {
				degraded = true
				stats.Degraded = true
			} else {
				canon = match
			}
		}
		if canon != "" {
			absorbMention(out, &g, aliases, canon, mention, &stats)
			stats.MergedMentions++
			continue
		}
		insertMention(out, &g, aliases, name, mention)
		stats.NewEntities++
	}

	for _, rel := range fragment.Relations {
		addRelation(out, &g, aliases, rel, &stats)
	}

	return out, g, stats
}

// semanticMatch asks the judge whether the mention matches any existing
// canonical entity, scanning in sorted key order for determinism. The
// first confirmed match wins.
func (m *EntityGraphMerger) semanticMatch(ctx context.Context, entities map[string]Entity, mention EntityMention) (string, error) {
	keys := make([]string, 0, len(entities))
	for k := range entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	candidate := Entity{
		Name:     strings.TrimSpace(mention.Name),
		Aliases:  mention.Aliases,
		Category: mention.Category,
	}
	for _, k := range keys {
		same, err := m.judge.AreSameEntity(ctx, entities[k], candidate)
		if err != nil {
			return "", err
		}
		if same {
			return k, nil
		}
	}
	return "", nil
}

// =============================================================================
// CONSOLIDATION MERGE
// =============================================================================

// MergeEnrichment integrates a consolidation fragment. It prefers the
// judge's whole-fragment semantic merge; if the judge fails or returns a
// graph that breaks the invariants, the deterministic Merge path runs
// instead and the result is flagged degraded.
func (m *EntityGraphMerger) MergeEnrichment(ctx context.Context, entities map[string]Entity, graph KnowledgeGraph, fragment GraphFragment) (map[string]Entity, KnowledgeGraph, MergeStats) {
	if fragment.Empty() {
		return cloneEntities(entities), graph.Clone(), MergeStats{}
	}
	if m.judge != nil {
		merged, err := m.judge.MergeGraphFragment(ctx, graph.Clone(), fragment)
		if err == nil {
			if ents, g, stats, ok := adoptMergedGraph(entities, graph, merged); ok {
				return ents, g, stats
			}
		}
		ents, g, stats := m.Merge(ctx, entities, graph, fragment)
		stats.Degraded = true
		return ents, g, stats
	}
	return m.Merge(ctx, entities, graph, fragment)
}

// adoptMergedGraph validates a judge-produced graph against the state it
// was derived from. The merged graph must keep every pre-existing node
// and use normalized node IDs; duplicate edges are collapsed and orphan
// edges dropped as repair rather than rejection. Nodes the judge
// introduced get stub entity records so the entity set and graph stay in
// lockstep.
func adoptMergedGraph(entities map[string]Entity, old, merged KnowledgeGraph) (map[string]Entity, KnowledgeGraph, MergeStats, bool) {
	var stats MergeStats
	for id := range old.Nodes {
		if _, ok := merged.Nodes[id]; !ok {
			return nil, KnowledgeGraph{}, stats, false
		}
	}
	for id := range merged.Nodes {
		if NormalizeName(id) != id {
			return nil, KnowledgeGraph{}, stats, false
		}
	}

	g := merged.Clone()
	g.Edges, stats.CollapsedEdges = collapseEdges(g.Edges)
	kept := g.Edges[:0]
	for _, e := range g.Edges {
		if _, ok := g.Nodes[e.Source]; !ok {
			stats.DroppedRelations++
			continue
		}
		if _, ok := g.Nodes[e.Target]; !ok {
			stats.DroppedRelations++
			continue
		}
		kept = append(kept, e)
	}
	g.Edges = kept

	out := cloneEntities(entities)
	for id := range g.Nodes {
		if _, ok := out[id]; !ok {
			out[id] = Entity{Name: id, Category: "unknown", Mentions: 1}
			stats.NewEntities++
		}
	}
	if added := len(g.Edges) - len(old.Edges); added > 0 {
		stats.NewEdges = added
	}
	return out, g, stats, true
}

// =============================================================================
// MERGE PRIMITIVES
// =============================================================================

// aliasIndex maps every normalized canonical name and alias to its
// canonical key.
func aliasIndex(entities map[string]Entity) map[string]string {
	idx := make(map[string]string, len(entities))
	for key, e := range entities {
		idx[key] = key
		for _, a := range e.Aliases {
			if k := NormalizeName(a); k != "" {
				idx[k] = key
			}
		}
	}
	return idx
}

// resolveLexical finds a canonical key whose name or aliases match the
// mention's name or any of its aliases exactly (normalized).
func resolveLexical(aliases map[string]string, mention EntityMention) string {
	if canon, ok := aliases[NormalizeName(mention.Name)]; ok {
		return canon
	}
	for _, a := range mention.Aliases {
		if canon, ok := aliases[NormalizeName(a)]; ok {
			return canon
		}
	}
	return ""
}

// absorbMention folds a duplicate mention into its canonical entity:
// mention count, aliases, category and metadata are unioned, and the
// node's importance follows the new mention count. If one of the
// mention's aliases names a different existing canonical, the two
// canonicals are collapsed into one.
func absorbMention(entities map[string]Entity, g *KnowledgeGraph, aliases map[string]string, canon string, mention EntityMention, stats *MergeStats) {
	e := entities[canon]
	e.Mentions++
	addAlias(&e, strings.TrimSpace(mention.Name))
	for _, a := range mention.Aliases {
		addAlias(&e, a)
	}
	if (e.Category == "" || e.Category == "unknown") && mention.Category != "" {
		e.Category = mention.Category
	}
	mergeMetadata(&e, mention.Metadata)
	entities[canon] = e
	bumpNode(g, canon, e.Mentions)

	names := append([]string{mention.Name}, mention.Aliases...)
	for _, a := range names {
		k := NormalizeName(a)
		if k == "" {
			continue
		}
		if prev, ok := aliases[k]; ok && prev != canon {
			collapseCanonicals(entities, g, aliases, canon, prev, stats)
		}
		aliases[k] = canon
	}
}

// collapseCanonicals merges the drop entity into keep after evidence
// surfaced that they are one actor. Every edge touching the dropped node
// is re-pointed at the kept node before the node is removed, then
// re-pointed duplicates are collapsed.
func collapseCanonicals(entities map[string]Entity, g *KnowledgeGraph, aliases map[string]string, keep, drop string, stats *MergeStats) {
	if keep == drop {
		return
	}
	de, ok := entities[drop]
	if !ok {
		return
	}
	ke := entities[keep]
	ke.Mentions += de.Mentions
	addAlias(&ke, de.Name)
	for _, a := range de.Aliases {
		addAlias(&ke, a)
	}
	if (ke.Category == "" || ke.Category == "unknown") && de.Category != "" {
		ke.Category = de.Category
	}
	mergeMetadata(&ke, de.Metadata)
	entities[keep] = ke
	delete(entities, drop)

	for i := range g.Edges {
		if g.Edges[i].Source == drop {
			g.Edges[i].Source = keep
		}
		if g.Edges[i].Target == drop {
			g.Edges[i].Target = keep
		}
	}
	var collapsed int
	g.Edges, collapsed = collapseEdges(g.Edges)
	stats.CollapsedEdges += collapsed
	delete(g.Nodes, drop)
	bumpNode(g, keep, ke.Mentions)

	for k, v := range aliases {
		if v == drop {
			aliases[k] = keep
		}
	}
	stats.CollapsedEntities++
}

// insertMention registers a genuinely new entity and its graph node.
func insertMention(entities map[string]Entity, g *KnowledgeGraph, aliases map[string]string, name string, mention EntityMention) {
	key := NormalizeName(name)
	e := Entity{Name: name, Category: mention.Category, Mentions: 1}
	for _, a := range mention.Aliases {
		addAlias(&e, a)
	}
	mergeMetadata(&e, mention.Metadata)
	entities[key] = e
	g.Nodes[key] = GraphNode{ID: key, Importance: 1}
	aliases[key] = key
	for _, a := range e.Aliases {
		if k := NormalizeName(a); k != "" {
			aliases[k] = key
		}
	}
}

// addRelation resolves a relation's endpoints against the canonical set
// and inserts the edge, collapsing onto an existing (source, target,
// relation) triple by unioning evidence. Relations with unresolvable
// endpoints are dropped: an edge may never reference a missing node.
func addRelation(entities map[string]Entity, g *KnowledgeGraph, aliases map[string]string, rel RelationMention, stats *MergeStats) {
	src, okSrc := aliases[NormalizeName(rel.Source)]
	dst, okDst := aliases[NormalizeName(rel.Target)]
	if !okSrc || !okDst {
		stats.DroppedRelations++
		return
	}
	label := strings.TrimSpace(rel.Relation)
	if label == "" {
		label = "related_to"
	}
	ensureNode(g, entities, src)
	ensureNode(g, entities, dst)

	edge := GraphEdge{Source: src, Target: dst, Relation: label, Evidence: dedupStrings(rel.Evidence)}
	for i := range g.Edges {
		if g.Edges[i].key() == edge.key() {
			g.Edges[i].Evidence = unionStrings(g.Edges[i].Evidence, edge.Evidence)
			stats.CollapsedEdges++
			return
		}
	}
	g.Edges = append(g.Edges, edge)
	stats.NewEdges++
}

// collapseEdges removes duplicate (source, target, relation) triples,
// keeping first-seen order and unioning evidence. Returns the number of
// edges folded away.
func collapseEdges(edges []GraphEdge) ([]GraphEdge, int) {
	if len(edges) < 2 {
		return edges, 0
	}
	seen := make(map[string]int, len(edges))
	out := make([]GraphEdge, 0, len(edges))
	collapsed := 0
	for _, e := range edges {
		k := e.key()
		if i, ok := seen[k]; ok {
			out[i].Evidence = unionStrings(out[i].Evidence, e.Evidence)
			collapsed++
			continue
		}
		seen[k] = len(out)
		out = append(out, e)
	}
	return out, collapsed
}

func ensureNode(g *KnowledgeGraph, entities map[string]Entity, key string) {
	if _, ok := g.Nodes[key]; ok {
		return
	}
	importance := 1.0
	if e, ok := entities[key]; ok && e.Mentions > 0 {
		importance = float64(e.Mentions)
	}
	g.Nodes[key] = GraphNode{ID: key, Importance: importance}
}

func bumpNode(g *KnowledgeGraph, key string, mentions int) {
	n, ok := g.Nodes[key]
	if !ok {
		n = GraphNode{ID: key}
	}
	n.Importance = float64(mentions)
	g.Nodes[key] = n
}

func addAlias(e *Entity, alias string) {
	k := NormalizeName(alias)
	if k == "" || k == e.Key() {
		return
	}
	for _, a := range e.Aliases {
		if NormalizeName(a) == k {
			return
		}
	}
	e.Aliases = append(e.Aliases, strings.TrimSpace(alias))
}

func mergeMetadata(e *Entity, meta map[string]string) {
	if len(meta) == 0 {
		return
	}
	if e.Metadata == nil {
		e.Metadata = make(map[string]string, len(meta))
	}
	for k, v := range meta {
		if _, exists := e.Metadata[k]; !exists {
			e.Metadata[k] = v
		}
	}
}

func dedupStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func unionStrings(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base))
	for _, s := range base {
		seen[s] = struct{}{}
	}
	for _, s := range extra {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		base = append(base, s)
	}
	return base
}
