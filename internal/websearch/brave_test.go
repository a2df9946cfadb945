package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBraveSearch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Subscription-Token"); got != "br-key" {
			t.Errorf("subscription token = %q", got)
		}
		if got := r.URL.Query().Get("q"); got != "Acme Corp lawsuit" {
			t.Errorf("query param = %q", got)
		}
		if got := r.URL.Query().Get("count"); got != "3" {
			t.Errorf("count param = %q", got)
		}
		w.Header().Set("X-RateLimit-Remaining", "1, 1999")
		w.Write([]byte(`{"web": {"results": [
			{"title": "Acme Corp sued", "url": "https://example.com/suit", "description": "A supplier sued Acme Corp in Delaware."}
		]}}`))
	}))
	defer ts.Close()

	br := NewBrave("br-key", 3)
	br.endpoint = ts.URL

	findings, err := br.Search(context.Background(), "Acme Corp lawsuit")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(findings.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(findings.Sources))
	}
	if findings.Sources[0].Title != "Acme Corp sued" {
		t.Errorf("source title = %q", findings.Sources[0].Title)
	}
	if !strings.Contains(findings.Summary, "supplier sued Acme Corp") {
		t.Errorf("summary missing snippet: %q", findings.Summary)
	}
}

func TestBraveMissingKey(t *testing.T) {
	br := NewBrave("", 5)
	_, err := br.Search(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
	if !strings.Contains(err.Error(), "API key") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBraveHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	br := NewBrave("br-key", 5)
	br.endpoint = ts.URL

	_, err := br.Search(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error for http 401")
	}
	if !strings.Contains(err.Error(), "brave http 401") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBraveRetryDelay(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{"absent", "", time.Second},
		{"single", "4", 4 * time.Second},
		{"list takes smallest", "2, 86400", 2 * time.Second},
		{"zero falls back", "0", time.Second},
		{"garbage falls back", "soon", time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("X-RateLimit-Reset", tt.header)
			}
			if got := braveRetryDelay(h); got != tt.want {
				t.Errorf("braveRetryDelay(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}

func TestBraveNextDelay(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{"absent holds a second", "", time.Second},
		{"per-second bucket left", "1, 1999", 0},
		{"per-second exhausted", "0, 1999", time.Second},
		{"garbage holds a second", "lots", time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("X-RateLimit-Remaining", tt.header)
			}
			if got := braveNextDelay(h); got != tt.want {
				t.Errorf("braveNextDelay(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}
