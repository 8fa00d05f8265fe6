package verification

import (
	"go.uber.org/zap"

	"github.com/clinassist/platform/internal/shared/metrics"
)

// Engine runs the rule set against final responses. It holds no
// per-request state and is safe for concurrent use.
type Engine struct {
	cfg    *Config
	rules  []Rule
	logger *zap.Logger
}

// NewEngine creates an engine over cfg. With no rules given it runs
// DefaultRules.
func NewEngine(cfg *Config, logger *zap.Logger, rules ...Rule) *Engine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Engine{cfg: cfg, rules: rules, logger: logger.Named("verification")}
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() *Config { return e.cfg }

// Verify checks text against evidence.
func (e *Engine) Verify(text string, evidence []ToolEvidence) Result {
	findings := []Finding{}
	for _, rule := range e.rules {
		findings = append(findings, rule.Check(text, evidence, e.cfg)...)
	}

	warningCount := len(DataWarnings(evidence))
	result := Result{
		Decision:   Decide(findings),
		Confidence: ScoreConfidence(findings, warningCount, e.cfg.Confidence.WarningThresholdForMedium),
		Findings:   findings,
	}

	metrics.RecordVerification(string(result.Decision), string(result.Confidence))
	for _, f := range findings {
		metrics.RecordFinding(f.CheckName, string(f.Severity))
	}
	e.logger.Info("response verified",
		zap.String("decision", string(result.Decision)),
		zap.String("confidence", string(result.Confidence)),
		zap.Int("findings", len(findings)),
		zap.Int("evidence", len(evidence)),
		zap.Int("data_warnings", warningCount),
	)
	return result
}

// Decide derives the decision from findings: any error fails, any other
// finding warns.
func Decide(findings []Finding) Decision {
	decision := DecisionPass
	for _, f := range findings {
		if f.Severity == SeverityError {
			return DecisionFail
		}
		decision = DecisionWarn
	}
	return decision
}

// ScoreConfidence is low with any error finding, medium when warningCount
// reaches threshold, and high otherwise.
func ScoreConfidence(findings []Finding, warningCount, threshold int) Confidence {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return ConfidenceLow
		}
	}
	if warningCount >= threshold {
		return ConfidenceMedium
	}
	return ConfidenceHigh
}

// Outcome is a verification result plus the text to show in place of the
// response, when it must change.
type Outcome struct {
	Verification Result `json:"verification"`
	Replacement  string `json:"replacement,omitempty"`
	Replaced     bool   `json:"replaced"`
}

// VerifyResponse verifies text against the tool evidence that follows the
// user message at latestUser in messages.
func (e *Engine) VerifyResponse(messages []Message, latestUser int, text string) Outcome {
	result := e.Verify(text, CollectEvidence(messages, latestUser))
	out := Outcome{Verification: result}
	if replacement, changed := Augment(text, result); changed {
		out.Replacement = replacement
		out.Replaced = true
	}
	return out
}

// VerifyTurn verifies the final response of a conversation. It only
// applies when the last message is an assistant message without tool
// calls; otherwise ok is false.
func (e *Engine) VerifyTurn(messages []Message) (out Outcome, ok bool) {
	if len(messages) == 0 {
		return Outcome{}, false
	}
	last := messages[len(messages)-1]
	if last.Role != RoleAssistant || len(last.ToolCalls) > 0 {
		return Outcome{}, false
	}
	return e.VerifyResponse(messages, LatestUserIndex(messages), ExtractText(last.Content)), true
}
