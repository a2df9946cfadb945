package config

// ReportConfig configures report synthesis.
type ReportConfig struct {
	Style              string `yaml:"style"`  // due_diligence, narrative, brief
	Format             string `yaml:"format"` // markdown
	IncludeSources     bool   `yaml:"include_sources"`
	MaxAppendixSources int    `yaml:"max_appendix_sources"`
}
