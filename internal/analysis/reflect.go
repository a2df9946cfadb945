package analysis

import (
	"context"
	"fmt"
	"strings"

	"sleuthnerd/internal/investigation"
	"sleuthnerd/internal/logging"
)

// Reflector turns one round of search findings into the iteration's
// reflection plus a fragment of the entities and relations the findings
// mention. The reflection it returns is always well-formed: when the
// model's verdict is missing or mangled the continuation decision
// defaults to true and parsing salvages whatever fields survived. Only a
// failed model call surfaces as an error.
type Reflector struct {
	client LLMClient
}

// NewReflector creates a reflector backed by the given client.
func NewReflector(client LLMClient) *Reflector {
	return &Reflector{client: client}
}

// Analyze implements investigation.ReflectionAnalyzer.
func (r *Reflector) Analyze(ctx context.Context, in investigation.AnalyzeInput) (investigation.IterationReflection, investigation.GraphFragment, error) {
	timer := logging.StartTimer(logging.CategoryReflect, "Reflector.Analyze")
	defer timer.Stop()

	reply, err := r.client.CompleteWithSystem(ctx, reflectorSystemPrompt, r.buildPrompt(in))
	if err != nil {
		return investigation.IterationReflection{}, investigation.GraphFragment{}, fmt.Errorf("reflection failed: %w", err)
	}

	reflection, fragment := r.parseReply(in.Depth, reply)
	logging.Reflect("Depth %d reflected: continue=%v entities=%d relations=%d",
		in.Depth, reflection.ShouldContinue, len(fragment.Entities), len(fragment.Relations))
	return reflection, fragment, nil
}

func (r *Reflector) buildPrompt(in investigation.AnalyzeInput) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("## Subject\n%s\n\n", in.Subject))
	if in.Context != "" {
		sb.WriteString(fmt.Sprintf("## Background\n%s\n\n", truncateString(in.Context, 1000)))
	}
	sb.WriteString(fmt.Sprintf("## Round\nThis is research round %d.\n\n", in.Depth+1))

	if len(in.Reflections) > 0 {
		sb.WriteString("## Previous Rounds\n")
		start := len(in.Reflections) - 3
		if start < 0 {
			start = 0
		}
		for _, prior := range in.Reflections[start:] {
			sb.WriteString(fmt.Sprintf("- Round %d: %s\n", prior.Depth+1, truncateString(prior.Summary, 300)))
		}
		sb.WriteString("\n")
	}

	if len(in.KnownEntities) > 0 {
		sb.WriteString("## Known Entities\n")
		sb.WriteString(strings.Join(tailStrings(in.KnownEntities, 60), ", "))
		sb.WriteString("\n\n")
	}

	sb.WriteString("## This Round's Findings\n")
	if len(in.Findings) == 0 {
		sb.WriteString("No queries returned findings this round.\n")
	}
	for _, f := range in.Findings {
		sb.WriteString(fmt.Sprintf("### Query: %s\n", f.Query))
		if f.Err != "" {
			sb.WriteString(fmt.Sprintf("Search failed: %s\n\n", truncateString(f.Err, 200)))
			continue
		}
		sb.WriteString(truncateString(f.Summary, 1200))
		sb.WriteString("\n")
		for _, src := range f.Sources {
			sb.WriteString(fmt.Sprintf("- Source: %s\n", src.URL))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// parseReply never fails: an unusable reply becomes a reflection that
// records the raw text and continues the session.
func (r *Reflector) parseReply(depth int, reply string) (investigation.IterationReflection, investigation.GraphFragment) {
	var parsed struct {
		Summary        string `json:"summary"`
		ShouldContinue *bool  `json:"should_continue"`
		Reasoning      string `json:"reasoning"`
		Strategy       string `json:"strategy"`
		Entities       []struct {
			Name     string            `json:"name"`
			Category string            `json:"category"`
			Aliases  []string          `json:"aliases"`
			Metadata map[string]string `json:"metadata"`
		} `json:"entities"`
		Relations []struct {
			Source   string   `json:"source"`
			Target   string   `json:"target"`
			Relation string   `json:"relation"`
			Evidence []string `json:"evidence"`
		} `json:"relations"`
	}

	reflection := investigation.IterationReflection{
		Depth:          depth,
		ShouldContinue: true,
	}

	err := decodeObject(reply, &parsed)
	if err != nil && parsed.Summary == "" && len(parsed.Entities) == 0 {
		logging.ReflectDebug("Reply did not parse (%v), recording raw text", err)
		reflection.Summary = truncateString(strings.TrimSpace(reply), 600)
		if reflection.Summary == "" {
			reflection.Summary = "no analysis produced for this round"
		}
		reflection.Reasoning = "analysis reply was not parseable, continuing by default"
		return reflection, investigation.GraphFragment{}
	}
	if err != nil {
		logging.ReflectDebug("Reply parsed partially: %v", err)
	}

	reflection.Summary = strings.TrimSpace(parsed.Summary)
	if reflection.Summary == "" {
		reflection.Summary = "no summary produced for this round"
	}
	if parsed.ShouldContinue != nil {
		reflection.ShouldContinue = *parsed.ShouldContinue
	}
	reflection.Reasoning = strings.TrimSpace(parsed.Reasoning)
	reflection.Strategy = strings.TrimSpace(parsed.Strategy)

	var fragment investigation.GraphFragment
	for _, e := range parsed.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		fragment.Entities = append(fragment.Entities, investigation.EntityMention{
			Name:     name,
			Category: strings.TrimSpace(e.Category),
			Aliases:  e.Aliases,
			Metadata: e.Metadata,
		})
	}
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

	return reflection, fragment
}

// reflectorSystemPrompt defines the reflection contract: one structured
// verdict per round, plus every entity and relation the findings named.
var reflectorSystemPrompt = `You are the analyst for an investigative due-diligence research engine. Each round you receive web search findings about a subject and must assess them.

You MUST report:
1. A factual summary of what this round established
2. Whether another research round is worthwhile
3. Your reasoning for that decision
4. A strategy for the next round (what to pursue, what to drop)
5. Every person, organization, and asset the findings mention
6. Every relationship between mentioned entities that the findings support

Guidance:
- Set should_continue to false only when the findings have saturated: repeated rounds adding nothing material, or all major angles resolved
- Strategy should name concrete leads: unresolved red flags, unexplored entities, missing timeline segments
- Entity names must be the fullest form the findings give
- Relations must connect entities you listed, with a short evidence quote

Output your analysis as JSON:
{
  "summary": "2-4 sentences on what this round established",
  "should_continue": true,
  "reasoning": "1-2 sentences for the continuation decision",
  "strategy": "concrete guidance for the next round",
  "entities": [
    {"name": "Full Name", "category": "person", "aliases": ["nickname"], "metadata": {"role": "CFO"}}
  ],
  "relations": [
    {"source": "Full Name", "target": "Acme Corp", "relation": "officer_of", "evidence": ["short quote"]}
  ]
}

Categories: person, organization, location, asset, event. No commentary outside the JSON.`
