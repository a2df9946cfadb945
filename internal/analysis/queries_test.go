package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"sleuthnerd/internal/investigation"
)

// fakeLLM scripts replies for collaborator tests and records what it
// was asked.
type fakeLLM struct {
	reply      string
	err        error
	replyFn    func(system, user string) (string, error)
	calls      int
	lastSystem string
	lastUser   string
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return f.CompleteWithSystem(ctx, "", prompt)
}

func (f *fakeLLM) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	f.lastSystem = systemPrompt
	f.lastUser = userPrompt
	if f.replyFn != nil {
		return f.replyFn(systemPrompt, userPrompt)
	}
	return f.reply, f.err
}

func TestQueryWriter_InitialBatch(t *testing.T) {
	fake := &fakeLLM{reply: "```json\n[\"jane doe biography\", \"jane doe lawsuits\"]\n```"}
	w := NewQueryWriter(fake)

	got, err := w.GenerateQueries(context.Background(), investigation.GenerateRequest{
		Subject: "Jane Doe",
		Limit:   5,
	})
	if err != nil {
		t.Fatalf("GenerateQueries: %v", err)
	}
	if len(got) != 2 || got[0] != "jane doe biography" {
		t.Errorf("queries = %v", got)
	}

	if fake.lastSystem != queryWriterSystemPrompt {
		t.Error("system prompt not passed through")
	}
	for _, want := range []string{"Jane Doe", "5 initial web search queries", "legal exposure"} {
		if !strings.Contains(fake.lastUser, want) {
			t.Errorf("prompt missing %q:\n%s", want, fake.lastUser)
		}
	}
}

func TestQueryWriter_RefinementPrompt(t *testing.T) {
	fake := &fakeLLM{reply: `["q one", "q two", "q three"]`}
	w := NewQueryWriter(fake)

	_, err := w.GenerateQueries(context.Background(), investigation.GenerateRequest{
		Subject:  "Jane Doe",
		Depth:    2,
		Strategy: "chase the offshore trust",
		Avoid:    []string{"jane doe biography"},
		Limit:    3,
	})
	if err != nil {
		t.Fatalf("GenerateQueries: %v", err)
	}

	for _, want := range []string{"Research Round 3", "chase the offshore trust", "Do not repeat", "jane doe biography"} {
		if !strings.Contains(fake.lastUser, want) {
			t.Errorf("prompt missing %q:\n%s", want, fake.lastUser)
		}
	}
}

func TestQueryWriter_LimitEnforced(t *testing.T) {
	fake := &fakeLLM{reply: `["a b","c d","e f","g h","i j"]`}
	w := NewQueryWriter(fake)

	got, err := w.GenerateQueries(context.Background(), investigation.GenerateRequest{Subject: "x", Limit: 3})
	if err != nil {
		t.Fatalf("GenerateQueries: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d queries, want 3", len(got))
	}
}

func TestQueryWriter_LineFallback(t *testing.T) {
	fake := &fakeLLM{reply: "Here are some queries:\n1. jane doe sec filings\n2. jane doe board seats"}
	w := NewQueryWriter(fake)

	got, err := w.GenerateQueries(context.Background(), investigation.GenerateRequest{Subject: "Jane Doe", Limit: 5})
	if err != nil {
		t.Fatalf("GenerateQueries: %v", err)
	}
	if len(got) != 2 || got[0] != "jane doe sec filings" {
		t.Errorf("queries = %v", got)
	}
}

func TestQueryWriter_NoUsableQueries(t *testing.T) {
	fake := &fakeLLM{reply: "   "}
	w := NewQueryWriter(fake)

	if _, err := w.GenerateQueries(context.Background(), investigation.GenerateRequest{Subject: "x", Limit: 3}); err == nil {
		t.Fatal("expected error for empty reply")
	}
}

func TestQueryWriter_ErrorPropagates(t *testing.T) {
	fake := &fakeLLM{err: errors.New("api down")}
	w := NewQueryWriter(fake)

	_, err := w.GenerateQueries(context.Background(), investigation.GenerateRequest{Subject: "x", Limit: 3})
	if err == nil || !strings.Contains(err.Error(), "api down") {
		t.Fatalf("err = %v, want wrapped api error", err)
	}
}
