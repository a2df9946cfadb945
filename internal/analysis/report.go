package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"sleuthnerd/internal/config"
	"sleuthnerd/internal/investigation"
	"sleuthnerd/internal/logging"
)

// ReportWriter synthesizes the final due-diligence report from a
// finished session's reflections, entity graph, and execution record.
// The structured fields come from the model; the markdown rendering is
// deterministic and local. A session that terminated early is always
// labeled as such in the rendered report.
type ReportWriter struct {
	client LLMClient
	cfg    config.ReportConfig
}

// NewReportWriter creates a report writer backed by the given client.
func NewReportWriter(client LLMClient, cfg config.ReportConfig) *ReportWriter {
	return &ReportWriter{client: client, cfg: cfg}
}

// Synthesize implements investigation.ReportSynthesizer.
func (w *ReportWriter) Synthesize(ctx context.Context, in investigation.ReportInput) (*investigation.Report, error) {
	timer := logging.StartTimer(logging.CategoryReport, "ReportWriter.Synthesize")
	defer timer.StopWithThreshold(2 * time.Minute)

	reply, err := w.client.CompleteWithSystem(ctx, reportSystemPrompt, w.buildPrompt(in))
	if err != nil {
		return nil, fmt.Errorf("report synthesis failed: %w", err)
	}

	var parsed struct {
		RiskLevel        string   `json:"risk_level"`
		ExecutiveSummary string   `json:"executive_summary"`
		KeyFindings      []string `json:"key_findings"`
		RedFlags         []string `json:"red_flags"`
		KeyRelationships []string `json:"key_relationships"`
		InformationGaps  []string `json:"information_gaps"`
		Recommendations  []string `json:"recommendations"`
	}
	perr := decodeObject(reply, &parsed)
	if perr != nil && parsed.ExecutiveSummary == "" {
		return nil, fmt.Errorf("report reply unusable: %w", perr)
	}
	if perr != nil {
		logging.ReportDebug("Report reply parsed partially: %v", perr)
	}

	report := &investigation.Report{
		SessionID:        in.SessionID,
		Subject:          in.Subject,
		RiskLevel:        normalizeRiskLevel(parsed.RiskLevel),
		ExecutiveSummary: strings.TrimSpace(parsed.ExecutiveSummary),
		KeyFindings:      cleanStrings(parsed.KeyFindings),
		RedFlags:         cleanStrings(parsed.RedFlags),
		KeyRelationships: cleanStrings(parsed.KeyRelationships),
		InformationGaps:  cleanStrings(parsed.InformationGaps),
		Recommendations:  cleanStrings(parsed.Recommendations),
		CreatedAt:        time.Now(),
	}
	report.Markdown = w.renderMarkdown(report, in)

	logging.Report("Report synthesized for %s: risk=%s findings=%d flags=%d",
		in.SessionID, report.RiskLevel, len(report.KeyFindings), len(report.RedFlags))
	return report, nil
}

func (w *ReportWriter) buildPrompt(in investigation.ReportInput) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("## Subject\n%s\n\n", in.Subject))
	if in.Context != "" {
		sb.WriteString(fmt.Sprintf("## Background\n%s\n\n", truncateString(in.Context, 1000)))
	}

	sb.WriteString("## Investigation Record\n")
	sb.WriteString(fmt.Sprintf("- Rounds completed: %d\n", in.Iterations))
	sb.WriteString(fmt.Sprintf("- Queries executed: %d\n", len(in.Queries)))
	sb.WriteString(fmt.Sprintf("- Entities discovered: %d\n", len(in.Entities)))
	sb.WriteString(fmt.Sprintf("- Terminated by: %s\n", in.TerminationReason))
	if !in.CleanTermination() || in.Degraded {
		sb.WriteString("- The investigation is INCOMPLETE. State reduced confidence where it applies.\n")
	}
	for _, e := range tailStrings(in.Errors, 5) {
		sb.WriteString(fmt.Sprintf("- Error during run: %s\n", truncateString(e, 200)))
	}
	sb.WriteString("\n")

	sb.WriteString("## Round Summaries\n")
	for _, r := range in.Reflections {
		sb.WriteString(fmt.Sprintf("### Round %d\n%s\n", r.Depth+1, truncateString(r.Summary, 1500)))
		if r.Reasoning != "" {
			sb.WriteString(fmt.Sprintf("Assessment: %s\n", truncateString(r.Reasoning, 300)))
		}
		sb.WriteString("\n")
	}

	if len(in.Entities) > 0 {
		sb.WriteString("## Entities\n")
		for _, e := range topEntities(in, 40) {
			sb.WriteString(fmt.Sprintf("- %s\n", describeEntity(e)))
		}
		sb.WriteString("\n")
	}

	if len(in.Graph.Edges) > 0 {
		sb.WriteString("## Mapped Relationships\n")
		edges := in.Graph.Edges
		if len(edges) > 80 {
			edges = edges[:80]
		}
		for _, e := range edges {
			sb.WriteString(fmt.Sprintf("- %s -[%s]-> %s\n", e.Source, e.Relation, e.Target))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("## Task\nWrite the final %s report for the subject from the record above.\n", strings.ReplaceAll(w.cfg.Style, "_", " ")))
	return sb.String()
}

// topEntities orders the roster by graph importance, then mention count,
// then name, and keeps the first n.
func topEntities(in investigation.ReportInput, n int) []investigation.Entity {
	out := make([]investigation.Entity, len(in.Entities))
	copy(out, in.Entities)
	importance := func(e investigation.Entity) float64 {
		if node, ok := in.Graph.Nodes[e.Key()]; ok {
			return node.Importance
		}
		return float64(e.Mentions)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ii, ij := importance(out[i]), importance(out[j])
		if ii != ij {
			return ii > ij
		}
		if out[i].Mentions != out[j].Mentions {
			return out[i].Mentions > out[j].Mentions
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// normalizeRiskLevel maps a free-text risk verdict onto the four-level
// scale, defaulting to medium when the verdict is unreadable.
func normalizeRiskLevel(s string) string {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	switch normalized {
	case "LOW":
		return "low"
	case "MEDIUM", "MODERATE":
		return "medium"
	case "HIGH":
		return "high"
	case "CRITICAL":
		return "critical"
	default:
		if strings.Contains(normalized, "CRIT") || strings.Contains(normalized, "SEVERE") {
			return "critical"
		}
		if strings.Contains(normalized, "HIGH") {
			return "high"
		}
		if strings.Contains(normalized, "LOW") || strings.Contains(normalized, "MINIMAL") {
			return "low"
		}
		if normalized != "" && !strings.Contains(normalized, "MED") && !strings.Contains(normalized, "MODERATE") {
			logging.ReportDebug("Unrecognized risk level %q, defaulting to medium", s)
		}
		return "medium"
	}
}

func (w *ReportWriter) renderMarkdown(r *investigation.Report, in investigation.ReportInput) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Due Diligence Report: %s\n\n", r.Subject))
	sb.WriteString(fmt.Sprintf("Session %s | %s | %d rounds, %d queries, %d entities\n\n",
		in.SessionID, r.CreatedAt.Format("2006-01-02"), in.Iterations, len(in.Queries), len(in.Entities)))
	sb.WriteString(fmt.Sprintf("**Risk level: %s**\n\n", strings.ToUpper(r.RiskLevel)))

	if !in.CleanTermination() || in.Degraded {
		sb.WriteString(fmt.Sprintf("> **Incomplete investigation.** The session terminated by %s", in.TerminationReason))
		if in.Degraded {
			sb.WriteString(" and ran in degraded mode")
		}
		sb.WriteString(". Findings below may be partial.\n\n")
	}

	sb.WriteString("## Executive Summary\n\n")
	sb.WriteString(r.ExecutiveSummary)
	sb.WriteString("\n\n")

	writeSection := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		sb.WriteString(fmt.Sprintf("## %s\n\n", title))
		for _, item := range items {
			sb.WriteString(fmt.Sprintf("- %s\n", item))
		}
		sb.WriteString("\n")
	}
	writeSection("Key Findings", r.KeyFindings)
	writeSection("Red Flags", r.RedFlags)
	writeSection("Key Relationships", r.KeyRelationships)
	writeSection("Information Gaps", r.InformationGaps)
	writeSection("Recommendations", r.Recommendations)

	if w.cfg.IncludeSources {
		sb.WriteString("## Appendix\n\n")
		sb.WriteString("### Entities\n\n")
		for _, e := range topEntities(in, 25) {
			sb.WriteString(fmt.Sprintf("- %s (mentioned %d times)\n", e.Name, e.Mentions))
		}
		sb.WriteString("\n### Queries Executed\n\n")
		limit := w.cfg.MaxAppendixSources
		if limit < 1 {
			limit = 40
		}
		queries := in.Queries
		if len(queries) > limit {
			queries = queries[:limit]
		}
		for _, q := range queries {
			sb.WriteString(fmt.Sprintf("- Round %d: %s\n", q.Depth+1, q.Text))
		}
		if len(in.Queries) > limit {
			sb.WriteString(fmt.Sprintf("- and %d more\n", len(in.Queries)-limit))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// reportSystemPrompt defines the report schema and the evidentiary
// standard a due-diligence document has to meet.
var reportSystemPrompt = `You write final reports for an investigative due-diligence engine. You receive the full record of an investigation: round summaries, discovered entities, and mapped relationships.

You MUST produce:
1. An overall risk level: low, medium, high, or critical
2. An executive summary of 3-6 sentences
3. Key findings as specific, verifiable statements
4. Red flags: anything a compliance reviewer must examine
5. Key relationships worth a reviewer's attention
6. Information gaps the investigation could not close
7. Recommended next steps

Rules:
- State only what the record supports; attribute uncertainty explicitly
- An incomplete investigation caps confidence, not risk: unresolved red flags raise the risk level
- No speculation about motive or guilt

Output the report as JSON:
{
  "risk_level": "medium",
  "executive_summary": "...",
  "key_findings": ["..."],
  "red_flags": ["..."],
  "key_relationships": ["..."],
  "information_gaps": ["..."],
  "recommendations": ["..."]
}

No commentary outside the JSON.`
