package config

// LLMConfig configures the language model client.
type LLMConfig struct {
	Provider   string `yaml:"provider"` // anthropic, gemini
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	Timeout    string `yaml:"timeout"`
	MaxRetries int    `yaml:"max_retries"`

	// Per-role model overrides
	Roles map[string]RoleProfile `yaml:"roles,omitempty"`
}

// Engine roles that can carry their own model profile.
const (
	RolePlanner = "planner"
	RoleReflect = "reflect"
	RoleJudge   = "judge"
	RoleMapper  = "mapper"
	RoleReport  = "report"
)

// RoleProfile tunes the model used for one engine role.
type RoleProfile struct {
	Model       string  `yaml:"model,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
}

// GetRoleProfile returns the model profile for an engine role, filling
// unset fields from the top-level LLM settings.
func (c *Config) GetRoleProfile(role string) RoleProfile {
	p := c.LLM.Roles[role]
	if p.Model == "" {
		p.Model = c.LLM.Model
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = defaultRoleMaxTokens(role)
	}
	if p.Temperature == 0 {
		p.Temperature = defaultRoleTemperature(role)
	}
	return p
}

// SetRoleProfile stores a profile override for an engine role.
func (c *Config) SetRoleProfile(role string, p RoleProfile) {
	if c.LLM.Roles == nil {
		c.LLM.Roles = make(map[string]RoleProfile)
	}
	c.LLM.Roles[role] = p
}

func defaultRoleMaxTokens(role string) int {
	switch role {
	case RoleReport:
		return 8192
	case RoleJudge:
		return 1024
	default:
		return 4096
	}
}

func defaultRoleTemperature(role string) float64 {
	switch role {
	case RolePlanner:
		// Query planning benefits from variety
		return 0.7
	case RoleReport:
		return 0.4
	default:
		return 0.2
	}
}
