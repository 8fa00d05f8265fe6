package verification

import "strings"

// Augment returns the text to show for a verified response and whether it
// differs from the original. A warn verdict appends a caveat block; a fail
// verdict replaces the response entirely.
func Augment(text string, result Result) (string, bool) {
	lines := make([]string, 0, len(result.Findings))
	for _, f := range result.Findings {
		lines = append(lines, "- "+f.Message)
	}
	issues := strings.Join(lines, "\n")

	switch result.Decision {
	case DecisionWarn:
		return text + "\n\nVerification caveat:\n" + issues, true
	case DecisionFail:
		return "I cannot provide a reliable final answer from the available evidence.\n\n" +
			"Verification blocked this response for safety:\n" +
			issues +
			"\n\nPlease review the encounter with a clinician or billing specialist.", true
	default:
		return text, false
	}
}
