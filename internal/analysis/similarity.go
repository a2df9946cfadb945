package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"sleuthnerd/internal/investigation"
	"sleuthnerd/internal/logging"
)

// EntityJudge decides the identity questions the lexical layer cannot:
// whether two differently spelled records name one real-world actor, and
// how a fragment of new mentions folds into the existing graph. The
// merge engine treats judge errors as a signal to degrade to exact
// matching, so the judge reserves errors for failed model calls and
// answers conservatively on ambiguous replies.
type EntityJudge struct {
	client LLMClient
}

// NewEntityJudge creates an entity judge backed by the given client.
func NewEntityJudge(client LLMClient) *EntityJudge {
	return &EntityJudge{client: client}
}

// =============================================================================
// PAIRWISE IDENTITY
// =============================================================================

// AreSameEntity implements half of investigation.SimilarityJudge. Exact,
// alias, and multi-word containment matches short-circuit without a
// model call; everything else is a one-word YES or NO judgment.
func (j *EntityJudge) AreSameEntity(ctx context.Context, a, b investigation.Entity) (bool, error) {
	if lexicalSame(a, b) {
		return true, nil
	}

	prompt := fmt.Sprintf("Entity A: %s\nEntity B: %s\n\nDo A and B refer to the same real-world actor?", describeEntity(a), describeEntity(b))
	reply, err := j.client.CompleteWithSystem(ctx, sameEntitySystemPrompt, prompt)
	if err != nil {
		return false, fmt.Errorf("identity judgment failed: %w", err)
	}

	verdict := strings.ToUpper(reply)
	switch {
	case strings.Contains(verdict, "YES"):
		return true, nil
	case strings.Contains(verdict, "NO"):
		return false, nil
	}
	// An unreadable verdict is not an outage. Treat the pair as
	// distinct; a later pass can still collapse them.
	logging.MergeDebug("Ambiguous identity verdict for %q vs %q: %s", a.Name, b.Name, truncateString(reply, 120))
	return false, nil
}

// lexicalSame applies the identity checks that need no model call.
func lexicalSame(a, b investigation.Entity) bool {
	if a.Key() == b.Key() || a.HasAlias(b.Name) || b.HasAlias(a.Name) {
		return true
	}
	for _, alias := range a.Aliases {
		if b.HasAlias(alias) {
			return true
		}
	}
	return nameContains(a.Key(), b.Key()) || nameContains(b.Key(), a.Key())
}

// nameContains reports whether inner appears word-aligned inside outer.
// Single-word names never match by containment; too many distinct people
// share one surname.
func nameContains(outer, inner string) bool {
	if inner == "" || outer == inner {
		return false
	}
	if len(strings.Fields(inner)) < 2 {
		return false
	}
	idx := strings.Index(outer, inner)
	if idx == -1 {
		return false
	}
	if idx > 0 && outer[idx-1] != ' ' {
		return false
	}
	if end := idx + len(inner); end < len(outer) && outer[end] != ' ' {
		return false
	}
	return true
}

// describeEntity renders one entity for a judgment prompt. Metadata keys
// are sorted so identical entities always produce identical prompts.
func describeEntity(e investigation.Entity) string {
	var sb strings.Builder
	sb.WriteString(e.Name)
	if e.Category != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", e.Category))
	}
	if len(e.Aliases) > 0 {
		sb.WriteString(", also known as " + strings.Join(e.Aliases, ", "))
	}
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %s", k, e.Metadata[k]))
		}
		sb.WriteString("; " + strings.Join(parts, ", "))
	}
	return sb.String()
}

var sameEntitySystemPrompt = `You judge entity identity for an investigative research engine. Given two entity records, decide whether they refer to the same real-world person, organization, or asset.

Different spellings, transliterations, maiden names, and legal versus trade names can still be the same actor. A shared surname or a parent company and its subsidiary are NOT the same actor.

Answer with exactly one word: YES or NO.`

// =============================================================================
// FRAGMENT MERGE
// =============================================================================

// MergeGraphFragment implements the other half of
// investigation.SimilarityJudge. The model only resolves which incoming
// mentions name an existing node; the structural merge itself runs
// locally, so a confused reply can misfile a mention but never corrupt
// the graph. Existing nodes are never removed or renamed.
func (j *EntityJudge) MergeGraphFragment(ctx context.Context, existing investigation.KnowledgeGraph, incoming investigation.GraphFragment) (investigation.KnowledgeGraph, error) {
	timer := logging.StartTimer(logging.CategoryMerge, "EntityJudge.MergeGraphFragment")
	defer timer.Stop()

	if incoming.Empty() {
		return existing.Clone(), nil
	}

	resolved := map[string]string{}
	if len(existing.Nodes) > 0 {
		reply, err := j.client.CompleteWithSystem(ctx, fragmentMergeSystemPrompt, buildMergePrompt(existing, incoming))
		if err != nil {
			return investigation.KnowledgeGraph{}, fmt.Errorf("fragment merge failed: %w", err)
		}
		resolved, err = parseResolutions(reply)
		if err != nil {
			return investigation.KnowledgeGraph{}, err
		}
	}

	merged := applyResolutions(existing, incoming, resolved)
	logging.MergeDebug("Fragment merge resolved %d mentions onto %d existing nodes", len(incoming.Entities), len(resolved))
	return merged, nil
}

func buildMergePrompt(existing investigation.KnowledgeGraph, incoming investigation.GraphFragment) string {
	var sb strings.Builder

	ids := make([]string, 0, len(existing.Nodes))
	for id := range existing.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	sb.WriteString("## Existing Entities\n")
	for _, id := range tailStrings(ids, 120) {
		sb.WriteString(fmt.Sprintf("- %s\n", id))
	}

	sb.WriteString("\n## New Mentions\n")
	for _, m := range incoming.Entities {
		line := m.Name
		if m.Category != "" {
			line += fmt.Sprintf(" (%s)", m.Category)
		}
		if len(m.Aliases) > 0 {
			line += ", also known as " + strings.Join(m.Aliases, ", ")
		}
		sb.WriteString(fmt.Sprintf("- %s\n", line))
	}

	return sb.String()
}

// parseResolutions returns a map from the normalized mention name to the
// existing node it resolves to. Mentions the model marked new are
// absent.
func parseResolutions(reply string) (map[string]string, error) {
	var parsed struct {
		Resolutions []struct {
			Mention string `json:"mention"`
			Node    string `json:"node"`
		} `json:"resolutions"`
	}
	if err := decodeObject(reply, &parsed); err != nil {
		return nil, fmt.Errorf("merge reply unusable: %w", err)
	}

	out := make(map[string]string, len(parsed.Resolutions))
	for _, r := range parsed.Resolutions {
		mention := investigation.NormalizeName(r.Mention)
		node := investigation.NormalizeName(r.Node)
		if mention == "" || node == "" || node == "new" {
			continue
		}
		out[mention] = node
	}
	return out, nil
}

// applyResolutions performs the structural merge: clone the existing
// graph, bump or insert a node per mention, then add the fragment's
// relations under the same name resolution. Resolutions pointing at
// nodes that do not exist are ignored rather than trusted.
func applyResolutions(existing investigation.KnowledgeGraph, incoming investigation.GraphFragment, resolved map[string]string) investigation.KnowledgeGraph {
	g := existing.Clone()
	if g.Nodes == nil {
		g.Nodes = make(map[string]investigation.GraphNode)
	}

	canon := func(name string) string {
		key := investigation.NormalizeName(name)
		if key == "" {
			return ""
		}
		if target, ok := resolved[key]; ok {
			if _, exists := g.Nodes[target]; exists {
				return target
			}
		}
		return key
	}

	for _, m := range incoming.Entities {
		id := canon(m.Name)
		if id == "" {
			continue
		}
		node, ok := g.Nodes[id]
		if !ok {
			node = investigation.GraphNode{ID: id}
		}
		node.Importance++
		g.Nodes[id] = node
	}

	seen := make(map[string]struct{}, len(g.Edges))
	for _, e := range g.Edges {
		seen[e.Source+"\x00"+e.Relation+"\x00"+e.Target] = struct{}{}
	}
	for _, rel := range incoming.Relations {
		src, dst := canon(rel.Source), canon(rel.Target)
		relation := strings.TrimSpace(rel.Relation)
		if src == "" || dst == "" || relation == "" || src == dst {
			continue
		}
		for _, id := range []string{src, dst} {
			if _, ok := g.Nodes[id]; !ok {
				g.Nodes[id] = investigation.GraphNode{ID: id, Importance: 1}
			}
		}
		key := src + "\x00" + relation + "\x00" + dst
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		g.Edges = append(g.Edges, investigation.GraphEdge{
			Source:   src,
			Target:   dst,
			Relation: relation,
			Evidence: rel.Evidence,
		})
	}

	return g
}

var fragmentMergeSystemPrompt = `You resolve entity mentions for an investigative research engine. You receive the entities already on file and a batch of newly mentioned names. For each new mention, decide whether it names one of the existing entities or something genuinely new.

Different spellings, abbreviations, and alias forms of an existing entity must resolve to it. Do not force a match: when in doubt, the mention is new.

Output JSON only:
{
  "resolutions": [
    {"mention": "J. Smith", "node": "john smith"},
    {"mention": "Meridian Holdings", "node": "new"}
  ]
}

Use the existing entity name exactly as listed for "node", or "new" for genuinely new mentions.`
