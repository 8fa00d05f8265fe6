package verification

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultConfigYAML []byte

// Config holds the rule configuration. It is loaded once and treated as
// immutable; the compiled patterns are built at load time.
type Config struct {
	Version              int                 `yaml:"version"`
	DisclosureKeywords   []string            `yaml:"disclosure_keywords"`
	Readiness            ReadinessConfig     `yaml:"readiness"`
	WarningPhraseGuards  map[string][]string `yaml:"warning_phrase_guards"`
	WarningPrefixAliases map[string]string   `yaml:"warning_prefix_aliases"`
	Confidence           ConfidenceConfig    `yaml:"confidence"`

	disclosure []string
	positive   []*regexp.Regexp
	negative   []*regexp.Regexp
	guards     map[string][]guard
	readyTools map[string]bool
}

// ReadinessConfig holds the claim-readiness assertion patterns and the
// tools whose evidence they are checked against.
type ReadinessConfig struct {
	ToolNames        []string `yaml:"tool_names"`
	PositivePatterns []string `yaml:"positive_patterns"`
	NegativePatterns []string `yaml:"negative_patterns"`
}

type ConfidenceConfig struct {
	WarningThresholdForMedium int `yaml:"warning_threshold_for_medium"`
}

type guard struct {
	source string
	re     *regexp.Regexp
}

// DefaultConfig returns the embedded rule configuration
func DefaultConfig() (*Config, error) {
	return ParseConfig(defaultConfigYAML)
}

// LoadConfig reads the configuration at path, or the embedded default
// when path is empty.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading verification rules: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes, validates and compiles a YAML rule configuration
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling verification rules: %w", err)
	}
	if err := cfg.compile(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// compile validates the configuration and builds its matchers. Every
// pattern error is reported, not just the first.
func (c *Config) compile() error {
	var problems []string

	if c.Version < 1 {
		problems = append(problems, "version must be >= 1")
	}
	if c.Confidence.WarningThresholdForMedium < 1 {
		problems = append(problems, "confidence.warning_threshold_for_medium must be >= 1")
	}
	if len(c.Readiness.ToolNames) == 0 {
		problems = append(problems, "readiness.tool_names is empty")
	}

	c.disclosure = make([]string, 0, len(c.DisclosureKeywords))
	for _, kw := range c.DisclosureKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			c.disclosure = append(c.disclosure, kw)
		}
	}

	compileAll := func(field string, patterns []string) []*regexp.Regexp {
		out := make([]*regexp.Regexp, 0, len(patterns))
		for i, p := range patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s[%d]: %v", field, i, err))
				continue
			}
			out = append(out, re)
		}
		return out
	}

	c.positive = compileAll("readiness.positive_patterns", c.Readiness.PositivePatterns)
	c.negative = compileAll("readiness.negative_patterns", c.Readiness.NegativePatterns)

	c.guards = make(map[string][]guard, len(c.WarningPhraseGuards))
	for prefix, patterns := range c.WarningPhraseGuards {
		key := strings.TrimSpace(prefix)
		for i, p := range patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				problems = append(problems, fmt.Sprintf("warning_phrase_guards.%s[%d]: %v", key, i, err))
				continue
			}
			c.guards[key] = append(c.guards[key], guard{source: p, re: re})
		}
	}

	for alias, canonical := range c.WarningPrefixAliases {
		if strings.TrimSpace(canonical) == "" {
			problems = append(problems, fmt.Sprintf("warning_prefix_aliases.%s has no target", alias))
		}
	}

	c.readyTools = make(map[string]bool, len(c.Readiness.ToolNames))
	for _, name := range c.Readiness.ToolNames {
		c.readyTools[strings.TrimSpace(name)] = true
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid verification rules: %s", strings.Join(problems, "; "))
	}
	return nil
}

// CanonicalPrefix maps a legacy degradation prefix to its canonical form.
func (c *Config) CanonicalPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if canonical, ok := c.WarningPrefixAliases[prefix]; ok {
		return strings.TrimSpace(canonical)
	}
	return prefix
}

// Discloses reports whether text contains a disclosure keyword.
func (c *Config) Discloses(text string) bool {
	lowered := strings.ToLower(text)
	for _, kw := range c.disclosure {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// AssertsReadiness reports whether text claims a claim is ready. A
// negative pattern anywhere in text overrides any positive match.
func (c *Config) AssertsReadiness(text string) bool {
	for _, re := range c.negative {
		if re.MatchString(text) {
			return false
		}
	}
	for _, re := range c.positive {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// IsReadinessTool reports whether evidence from the named tool carries a
// claim-readiness verdict.
func (c *Config) IsReadinessTool(name string) bool {
	return c.readyTools[name]
}

// ProhibitedMatches returns the source of every guard pattern of the
// canonical prefix that matches text.
func (c *Config) ProhibitedMatches(canonicalPrefix, text string) []string {
	var out []string
	for _, g := range c.guards[canonicalPrefix] {
		if g.re.MatchString(text) {
			out = append(out, g.source)
		}
	}
	return out
}
