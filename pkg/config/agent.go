package config

import "fmt"

// Visibility controls which operational fields an agent flavour exposes
// in its responses.
type Visibility string

const (
	// VisibilityDebug exposes confidence, full sources, query type, and
	// the complete per-query metrics record.
	VisibilityDebug Visibility = "debug"

	// VisibilitySources exposes confidence and trimmed source info.
	VisibilitySources Visibility = "sources"

	// VisibilityMinimal exposes only the core response fields.
	VisibilityMinimal Visibility = "minimal"
)

// AgentProfile parameterises the single orchestrator code path per
// flavour: the KB user-type filter, the response shape, and the
// rate-limit class. Immutable after load.
type AgentProfile struct {
	// Name is the flavour path segment ("test", "support", "customer").
	Name string `yaml:"name"`

	// UserType filters retrieval ("internal" or "external"); chunks
	// tagged "both" always match.
	UserType string `yaml:"user_type"`

	// Visibility selects the response shape.
	Visibility Visibility `yaml:"visibility"`

	// RateLimitClass selects the endpoint class for the limiter.
	RateLimitClass string `yaml:"rate_limit_class"`
}

// AgentsConfig holds the agent flavour profiles.
type AgentsConfig struct {
	Profiles []AgentProfile `yaml:"profiles,omitempty"`
}

// SetDefaults installs the three built-in flavours when none are
// configured.
func (c *AgentsConfig) SetDefaults() {
	if len(c.Profiles) == 0 {
		c.Profiles = []AgentProfile{
			{Name: "test", UserType: "internal", Visibility: VisibilityDebug, RateLimitClass: "query"},
			{Name: "support", UserType: "internal", Visibility: VisibilitySources, RateLimitClass: "query"},
			{Name: "customer", UserType: "external", Visibility: VisibilityMinimal, RateLimitClass: "query"},
		}
	}
	for i := range c.Profiles {
		if c.Profiles[i].RateLimitClass == "" {
			c.Profiles[i].RateLimitClass = "query"
		}
		if c.Profiles[i].Visibility == "" {
			c.Profiles[i].Visibility = VisibilityMinimal
		}
	}
}

// Validate validates the agent profiles.
func (c *AgentsConfig) Validate() error {
	seen := make(map[string]bool, len(c.Profiles))
	for i, p := range c.Profiles {
		if p.Name == "" {
			return fmt.Errorf("profiles[%d].name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate profile name %q", p.Name)
		}
		seen[p.Name] = true
		switch p.UserType {
		case "internal", "external":
		default:
			return fmt.Errorf("profiles[%d].user_type must be 'internal' or 'external'", i)
		}
		switch p.Visibility {
		case VisibilityDebug, VisibilitySources, VisibilityMinimal:
		default:
			return fmt.Errorf("profiles[%d].visibility %q is invalid", i, p.Visibility)
		}
	}
	return nil
}

// Profile returns the profile with the given name, or nil.
func (c *AgentsConfig) Profile(name string) *AgentProfile {
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			return &c.Profiles[i]
		}
	}
	return nil
}
