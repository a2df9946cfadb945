package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"sleuthnerd/internal/investigation"
	"sleuthnerd/internal/logging"
)

// RelationMapper proposes cross-entity relations the per-round analyses
// missed. It runs once per session, on consolidation, over the full
// entity roster. Proposals are untrusted: the merge engine drops
// relations it cannot resolve, so the mapper aims for recall.
type RelationMapper struct {
	client LLMClient
}

// NewRelationMapper creates a relation mapper backed by the given client.
func NewRelationMapper(client LLMClient) *RelationMapper {
	return &RelationMapper{client: client}
}

// Enrich implements investigation.ConnectionMapper.
func (m *RelationMapper) Enrich(ctx context.Context, entities []investigation.Entity, graph investigation.KnowledgeGraph) (investigation.GraphFragment, error) {
	timer := logging.StartTimer(logging.CategoryMerge, "RelationMapper.Enrich")
	defer timer.Stop()

	if len(entities) < 2 {
		return investigation.GraphFragment{}, nil
	}

	reply, err := m.client.CompleteWithSystem(ctx, relationMapperSystemPrompt, m.buildPrompt(entities, graph))
	if err != nil {
		return investigation.GraphFragment{}, fmt.Errorf("connection mapping failed: %w", err)
	}

	fragment := parseRelationList(reply)
	logging.Merge("Connection mapping proposed %d relations across %d entities", len(fragment.Relations), len(entities))
	return fragment, nil
}

func (m *RelationMapper) buildPrompt(entities []investigation.Entity, graph investigation.KnowledgeGraph) string {
	var sb strings.Builder

	// Most-mentioned entities first so a truncated roster keeps the
	// actors that matter.
	roster := make([]investigation.Entity, len(entities))
	copy(roster, entities)
	sort.SliceStable(roster, func(i, j int) bool {
		if roster[i].Mentions != roster[j].Mentions {
			return roster[i].Mentions > roster[j].Mentions
		}
		return roster[i].Name < roster[j].Name
	})
	if len(roster) > 80 {
		roster = roster[:80]
	}

	sb.WriteString("## Entities\n")
	for _, e := range roster {
		sb.WriteString(fmt.Sprintf("- %s\n", describeEntity(e)))
	}

	if len(graph.Edges) > 0 {
		sb.WriteString("\n## Known Relationships\nThese are already mapped, do not repeat them:\n")
		edges := graph.Edges
		if len(edges) > 120 {
			edges = edges[len(edges)-120:]
		}
		for _, e := range edges {
			sb.WriteString(fmt.Sprintf("- %s -[%s]-> %s\n", e.Source, e.Relation, e.Target))
		}
	}

	sb.WriteString("\n## Task\nPropose relationships between the listed entities that the known set is missing.\n")
	return sb.String()
}

// parseRelationList reads a relations-only fragment out of a model
// reply. Unusable replies yield an empty fragment; enrichment is
// strictly optional.
func parseRelationList(reply string) investigation.GraphFragment {
	var parsed struct {
		Relations []struct {
			Source   string   `json:"source"`
			Target   string   `json:"target"`
			Relation string   `json:"relation"`
			Evidence []string `json:"evidence"`
		} `json:"relations"`
	}
	if err := decodeObject(reply, &parsed); err != nil {
		logging.MergeDebug("Connection reply unusable: %v", err)
		return investigation.GraphFragment{}
	}

	var fragment investigation.GraphFragment
	for _, rel := range parsed.Relations {
		if strings.TrimSpace(rel.Source) == "" || strings.TrimSpace(rel.Target) == "" || strings.TrimSpace(rel.Relation) == "" {
			continue
		}
		fragment.Relations = append(fragment.Relations, investigation.RelationMention{
			Source:   strings.TrimSpace(rel.Source),
			Target:   strings.TrimSpace(rel.Target),
			Relation: strings.TrimSpace(rel.Relation),
			Evidence: rel.Evidence,
		})
	}
	return fragment
}

var relationMapperSystemPrompt = `You map relationships for an investigative due-diligence engine. You receive every entity discovered during an investigation plus the relationships already mapped. Propose the connections that are missing: shared employers, family ties, co-ownership, transactions, litigation, shared addresses.

Only connect entities from the provided list. Use short snake_case relation labels (officer_of, owns, sued_by, family_of, co_invested_with). Give a one-line rationale as evidence for each.

Output JSON only:
{
  "relations": [
    {"source": "Entity A", "target": "Entity B", "relation": "officer_of", "evidence": ["both tied to Acme filings"]}
  ]
}

Propose nothing when no plausible missing connection exists.`
