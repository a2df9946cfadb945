package config

import "fmt"

// ResearchConfig bounds the investigation loop.
type ResearchConfig struct {
	MaxDepth           int `yaml:"max_depth"`             // Iterations after the first (0 = single pass)
	MaxQueriesPerDepth int `yaml:"max_queries_per_depth"` // Search queries per iteration
	MaxPlanAttempts    int `yaml:"max_plan_attempts"`     // Generator calls per planning round
	StagnationWindow   int `yaml:"stagnation_window"`     // Iterations of no discovery before consolidating
	StagnationEpsilon  int `yaml:"stagnation_epsilon"`    // New entities across the window still counted as stalled
}

// ValidateResearch checks that loop bounds are within acceptable ranges.
func (c *Config) ValidateResearch() error {
	if c.Research.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be >= 0")
	}
	if c.Research.MaxDepth > 25 {
		return fmt.Errorf("max_depth must be <= 25")
	}
	if c.Research.MaxQueriesPerDepth < 1 {
		return fmt.Errorf("max_queries_per_depth must be >= 1")
	}
	if c.Research.MaxQueriesPerDepth > 20 {
		return fmt.Errorf("max_queries_per_depth must be <= 20")
	}
	if c.Research.MaxPlanAttempts < 1 {
		return fmt.Errorf("max_plan_attempts must be >= 1")
	}
	if c.Research.StagnationWindow < 1 {
		return fmt.Errorf("stagnation_window must be >= 1")
	}
	if c.Research.StagnationEpsilon < 0 {
		return fmt.Errorf("stagnation_epsilon must be >= 0")
	}
	return nil
}
