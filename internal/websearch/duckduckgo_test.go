package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const litePage = `<html><body><table>
<tr><td><a class="result-link" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fprofile&rut=abc">Jane Doe profile</a></td></tr>
<tr><td class="result-snippet">Jane Doe is a director of Acme Corp.</td></tr>
<tr><td><a class="result-link" href="https://example.org/news">Acme news</a></td></tr>
<tr><td class="result-snippet">Acme announced a merger.</td></tr>
</table></body></html>`

func TestDuckDuckGoSearch(t *testing.T) {
	var gotQuery, gotUA string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotQuery = r.PostFormValue("q")
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(litePage))
	}))
	defer ts.Close()

	ddg := NewDuckDuckGo(5)
	ddg.endpoint = ts.URL

	findings, err := ddg.Search(context.Background(), "Jane Doe Acme")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if gotQuery != "Jane Doe Acme" {
		t.Errorf("form query = %q", gotQuery)
	}
	if !strings.Contains(gotUA, "Mozilla") {
		t.Errorf("expected browser user agent, got %q", gotUA)
	}

	if len(findings.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(findings.Sources))
	}
	if findings.Sources[0].URL != "https://example.com/profile" {
		t.Errorf("redirect not unwrapped: %q", findings.Sources[0].URL)
	}
	if findings.Sources[0].Title != "Jane Doe profile" {
		t.Errorf("source title = %q", findings.Sources[0].Title)
	}
	if !strings.Contains(findings.Summary, "director of Acme Corp") {
		t.Errorf("summary missing first snippet: %q", findings.Summary)
	}
	if !strings.Contains(findings.Summary, "Acme announced a merger") {
		t.Errorf("summary missing second snippet: %q", findings.Summary)
	}
}

func TestDuckDuckGoRetriesAfter429(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(litePage))
	}))
	defer ts.Close()

	ddg := NewDuckDuckGo(5)
	ddg.endpoint = ts.URL
	ddg.retryBase = time.Millisecond

	findings, err := ddg.Search(context.Background(), "q")
	if err != nil {
		t.Fatalf("Search failed after retry: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("expected 2 requests, got %d", hits.Load())
	}
	if len(findings.Sources) == 0 {
		t.Error("expected sources after retry")
	}
}

func TestDuckDuckGoEmptyQuery(t *testing.T) {
	ddg := NewDuckDuckGo(5)
	if _, err := ddg.Search(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestParseLiteResults(t *testing.T) {
	results := parseLiteResults(strings.NewReader(litePage))
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].URL != "https://example.com/profile" {
		t.Errorf("first URL = %q", results[0].URL)
	}
	if results[0].Snippet != "Jane Doe is a director of Acme Corp." {
		t.Errorf("first snippet = %q", results[0].Snippet)
	}
	if results[1].URL != "https://example.org/news" {
		t.Errorf("second URL = %q", results[1].URL)
	}
	if results[1].Snippet != "Acme announced a merger." {
		t.Errorf("second snippet = %q", results[1].Snippet)
	}
}

func TestParseLiteResultsIgnoresOtherLinks(t *testing.T) {
	page := `<html><body>
<a href="https://duckduckgo.com/about">About</a>
<a class="result-link" href="https://example.com/only">Only hit</a>
</body></html>`
	results := parseLiteResults(strings.NewReader(page))
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Title != "Only hit" {
		t.Errorf("title = %q", results[0].Title)
	}
}

func TestResolveRedirect(t *testing.T) {
	tests := []struct {
		name string
		href string
		want string
	}{
		{"plain URL passes through", "https://example.com/page", "https://example.com/page"},
		{"uddg unwrapped", "//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fx%3Fy%3D1&rut=z", "https://example.com/x?y=1"},
		{"uddg missing value keeps href", "//duckduckgo.com/l/?uddg=&rut=z", "//duckduckgo.com/l/?uddg=&rut=z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveRedirect(tt.href); got != tt.want {
				t.Errorf("resolveRedirect(%q) = %q, want %q", tt.href, got, tt.want)
			}
		})
	}
}
