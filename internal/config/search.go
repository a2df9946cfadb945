package config

import "time"

// SearchConfig configures web search acquisition.
type SearchConfig struct {
	Provider           string `yaml:"provider"` // tavily, brave, duckduckgo (empty = pick by available key)
	TavilyAPIKey       string `yaml:"tavily_api_key"`
	BraveAPIKey        string `yaml:"brave_api_key"`
	MaxConcurrent      int    `yaml:"max_concurrent"`
	PerQueryTimeout    string `yaml:"per_query_timeout"`
	MaxResultsPerQuery int    `yaml:"max_results_per_query"`
	FetchPages         bool   `yaml:"fetch_pages"` // Pull page text for top results, not just snippets

	Browser BrowserConfig `yaml:"browser"`
}

// BrowserConfig configures the headless browser fallback for pages that
// block plain HTTP fetches.
type BrowserConfig struct {
	Enabled bool   `yaml:"enabled"`
	BinPath string `yaml:"bin_path"` // Chrome/Chromium binary (empty = auto-detect)
	Timeout string `yaml:"timeout"`
}

// ActiveSearchProvider returns the provider and API key to use.
// Priority: explicit provider setting > first available key > duckduckgo.
func (c *SearchConfig) ActiveSearchProvider() (provider string, apiKey string) {
	switch c.Provider {
	case "tavily":
		return "tavily", c.TavilyAPIKey
	case "brave":
		return "brave", c.BraveAPIKey
	case "duckduckgo":
		return "duckduckgo", ""
	}

	if c.TavilyAPIKey != "" {
		return "tavily", c.TavilyAPIKey
	}
	if c.BraveAPIKey != "" {
		return "brave", c.BraveAPIKey
	}

	// DuckDuckGo needs no key
	return "duckduckgo", ""
}

// GetPerQueryTimeout returns the per-query search timeout as a duration.
func (c *SearchConfig) GetPerQueryTimeout() time.Duration {
	d, err := time.ParseDuration(c.PerQueryTimeout)
	if err != nil {
		return 45 * time.Second
	}
	return d
}

// GetBrowserTimeout returns the browser navigation timeout as a duration.
func (c *BrowserConfig) GetBrowserTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
