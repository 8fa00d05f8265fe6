package claims

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed claim_rules.yaml
var defaultRulesYAML []byte

// Demographic is one patient field required on a claim.
type Demographic struct {
	Field string `yaml:"field"`
	Label string `yaml:"label"`
}

// Rules configures the readiness checks
type Rules struct {
	RequiredDemographics       []Demographic     `yaml:"required_demographics"`
	AcceptedDiagnosisCodeTypes []string          `yaml:"accepted_diagnosis_code_types"`
	AcceptedProcedureCodeTypes []string          `yaml:"accepted_procedure_code_types"`
	CheckSeverities            map[string]string `yaml:"check_severities"`
}

// DefaultRules returns the embedded rule set
func DefaultRules() (*Rules, error) {
	return ParseRules(defaultRulesYAML)
}

// LoadRules reads rules from path, or the embedded defaults when path is
// empty.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading claim rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a YAML rule set
func ParseRules(data []byte) (*Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("unmarshaling claim rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &rules, nil
}

// Validate rejects rule sets that would make every claim unready.
func (r *Rules) Validate() error {
	if len(r.AcceptedDiagnosisCodeTypes) == 0 {
		return fmt.Errorf("claim rules: accepted_diagnosis_code_types is empty")
	}
	if len(r.AcceptedProcedureCodeTypes) == 0 {
		return fmt.Errorf("claim rules: accepted_procedure_code_types is empty")
	}
	for i, d := range r.RequiredDemographics {
		if strings.TrimSpace(d.Field) == "" {
			return fmt.Errorf("claim rules: required_demographics[%d] has empty field", i)
		}
	}
	for check, sev := range r.CheckSeverities {
		if sev != SeverityError && sev != SeverityWarning {
			return fmt.Errorf("claim rules: check %q has unknown severity %q", check, sev)
		}
	}
	return nil
}

// severity returns the configured severity of a check, or def.
func (r *Rules) severity(check, def string) string {
	if s, ok := r.CheckSeverities[check]; ok && s != "" {
		return s
	}
	return def
}

func codeTypeSet(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[strings.ToUpper(strings.TrimSpace(t))] = true
	}
	return set
}
