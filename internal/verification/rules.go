package verification

import (
	"fmt"
	"sort"
	"strings"

	"github.com/clinassist/platform/internal/adapters/health"
)

// Rule is one independent check over a response and its evidence. Rules
// are pure and total: they never fail and return no findings when their
// evidence is absent.
type Rule interface {
	Name() string
	Check(text string, evidence []ToolEvidence, cfg *Config) []Finding
}

// Check names
const (
	CheckDataWarningDisclosure   = "check_data_warning_disclosure"
	CheckNoFalseClaimReady       = "check_no_false_claim_ready"
	CheckWarningProhibitedClaims = "check_warning_specific_prohibited_claims"
)

// DefaultRules returns the rule set in evaluation order
func DefaultRules() []Rule {
	return []Rule{
		DisclosureRule{},
		ClaimReadinessRule{},
		ProhibitedClaimsRule{},
	}
}

// DisclosureRule warns when the evidence reports degraded data and the
// response says nothing about it.
type DisclosureRule struct{}

func (DisclosureRule) Name() string { return CheckDataWarningDisclosure }

func (r DisclosureRule) Check(text string, evidence []ToolEvidence, cfg *Config) []Finding {
	if len(DataWarnings(evidence)) == 0 || cfg.Discloses(text) {
		return nil
	}
	return []Finding{{
		CheckName: r.Name(),
		Severity:  SeverityWarning,
		Message:   "Final response did not disclose data_warnings from tool output.",
	}}
}

// ClaimReadinessRule rejects responses asserting a claim is ready when
// the claim validation evidence says otherwise or its billing data did
// not load. It emits one finding per contradicting evidence item.
type ClaimReadinessRule struct{}

func (ClaimReadinessRule) Name() string { return CheckNoFalseClaimReady }

func (r ClaimReadinessRule) Check(text string, evidence []ToolEvidence, cfg *Config) []Finding {
	var claims []ToolEvidence
	for _, item := range evidence {
		if cfg.IsReadinessTool(item.ToolName) {
			claims = append(claims, item)
		}
	}
	if len(claims) == 0 || !cfg.AssertsReadiness(text) {
		return nil
	}

	billingPrefix := health.CategoryBilling.TagPrefix()

	var findings []Finding
	for _, item := range claims {
		ready, _ := item.Output["ready"].(bool)
		billingFailed := false
		for _, tag := range DataWarnings([]ToolEvidence{item}) {
			if strings.HasPrefix(tag, billingPrefix) {
				billingFailed = true
				break
			}
		}
		if ready && !billingFailed {
			continue
		}
		findings = append(findings, Finding{
			CheckName: r.Name(),
			Severity:  SeverityError,
			Message:   "Response asserted claim readiness, but claim verification evidence does not support that conclusion.",
		})
	}
	return findings
}

// ProhibitedClaimsRule rejects responses that make a claim the failed
// category cannot support, such as "no known drug allergies" when the
// allergy fetch failed.
type ProhibitedClaimsRule struct{}

func (ProhibitedClaimsRule) Name() string { return CheckWarningProhibitedClaims }

func (r ProhibitedClaimsRule) Check(text string, evidence []ToolEvidence, cfg *Config) []Finding {
	seen := map[string]bool{}
	for _, tag := range DataWarnings(evidence) {
		prefix := cfg.CanonicalPrefix(health.TagPrefixOf(tag))
		for _, pattern := range cfg.ProhibitedMatches(prefix, text) {
			seen[fmt.Sprintf("%s -> /%s/", prefix, pattern)] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}

	matches := make([]string, 0, len(seen))
	for m := range seen {
		matches = append(matches, m)
	}
	sort.Strings(matches)

	return []Finding{{
		CheckName: r.Name(),
		Severity:  SeverityError,
		Message:   "Response contains claims that conflict with degraded data: " + strings.Join(matches, ", "),
	}}
}
