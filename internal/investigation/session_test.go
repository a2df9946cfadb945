package investigation

import (
	"strings"
	"testing"
)

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme Corp lawsuits", "acme corp lawsuits"},
		{"  Acme   Corp\tlawsuits ", "acme corp lawsuits"},
		{"ACME CORP LAWSUITS", "acme corp lawsuits"},
		{"", ""},
		{"   \t  ", ""},
	}
	for _, tt := range tests {
		if got := NormalizeQuery(tt.in); got != tt.want {
			t.Errorf("NormalizeQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQuerySet_DedupAcrossVariants(t *testing.T) {
	qs := NewQuerySet()
	if !qs.Add("Acme Corp lawsuits", 0) {
		t.Fatal("first add rejected")
	}
	if qs.Add("acme  corp LAWSUITS", 1) {
		t.Error("normalized duplicate was added")
	}
	if qs.Add("", 1) {
		t.Error("empty query was added")
	}
	if qs.Len() != 1 {
		t.Errorf("Len() = %d, want 1", qs.Len())
	}
	if !qs.Contains("ACME corp lawsuits") {
		t.Error("Contains() missed a normalized variant")
	}
	recs := qs.Records()
	if len(recs) != 1 || recs[0].Text != "Acme Corp lawsuits" || recs[0].Depth != 0 {
		t.Errorf("Records() = %+v, want the original text at depth 0", recs)
	}
}

func TestSession_TerminateOnce(t *testing.T) {
	s := NewSession("Acme Corp", "", 3)
	if s.Terminated() {
		t.Fatal("new session already terminated")
	}
	if !s.Terminate(ReasonMaxDepth) {
		t.Fatal("first Terminate rejected")
	}
	if s.Terminate(ReasonNoQueries) {
		t.Error("second Terminate overwrote the reason")
	}
	if got := s.TerminationReason(); got != ReasonMaxDepth {
		t.Errorf("TerminationReason() = %q, want %q", got, ReasonMaxDepth)
	}
}

func TestErrorReason(t *testing.T) {
	got := ErrorReason(KindReflectionUnavailable)
	if got != "error:reflection_unavailable" {
		t.Errorf("ErrorReason() = %q", got)
	}
	if CleanReason(got) {
		t.Error("error reason classified as clean")
	}
	if !CleanReason(ReasonMaxDepth) {
		t.Error("max_depth_reached classified as not clean")
	}
	if CleanReason("") {
		t.Error("empty reason classified as clean")
	}
}

func TestSession_ViewSnapshotsLatestReflection(t *testing.T) {
	s := NewSession("Acme Corp", "", 3)
	v := s.view(false)
	if v.Latest != nil {
		t.Fatal("view of a fresh session carries a reflection")
	}

	s.Reflections = append(s.Reflections, IterationReflection{Depth: 0, Summary: "first", ShouldContinue: true})
	v = s.view(true)
	if v.Latest == nil || v.Latest.Summary != "first" {
		t.Fatalf("view does not carry the latest reflection: %+v", v.Latest)
	}
	if !v.Plateaued {
		t.Error("plateau flag not carried into view")
	}

	// The view must hold a copy, not a reference into session state.
	v.Latest.Summary = "mutated"
	if s.Reflections[0].Summary != "first" {
		t.Error("mutating the view changed session state")
	}
}

func TestSessionIDFormat(t *testing.T) {
	s := NewSession("Acme Corp", "", 3)
	if !strings.HasPrefix(s.ID, "sess_") {
		t.Errorf("session ID %q missing prefix", s.ID)
	}
	other := NewSession("Acme Corp", "", 3)
	if s.ID == other.ID {
		t.Error("two sessions share an ID")
	}
}
