package verification

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig error = %v", err)
	}
	if cfg.Version != 1 || cfg.Confidence.WarningThresholdForMedium != 1 {
		t.Errorf("Unexpected config %+v", cfg)
	}
	if !cfg.IsReadinessTool("validate_claim_ready_completeness") {
		t.Error("Expected claim validation to be a readiness tool")
	}
	for _, prefix := range []string{
		"conditions_fetch_failed", "medications_fetch_failed", "allergies_fetch_failed",
		"vitals_fetch_failed", "soap_notes_fetch_failed", "billing_fetch_failed", "insurance_fetch_failed",
	} {
		if len(cfg.WarningPhraseGuards[prefix]) == 0 {
			t.Errorf("No guards configured for %s", prefix)
		}
	}
}

func TestCanonicalPrefix(t *testing.T) {
	cfg, _ := DefaultConfig()
	tests := map[string]string{
		"allergy_fetch_failed":    "allergies_fetch_failed",
		" soap_fetch_failed ":     "soap_notes_fetch_failed",
		"vitals_fetch_failed":     "vitals_fetch_failed",
		"allergies_fetch_failed":  "allergies_fetch_failed",
		"something_else_entirely": "something_else_entirely",
	}
	for in, want := range tests {
		if got := cfg.CanonicalPrefix(in); got != want {
			t.Errorf("CanonicalPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAssertsReadiness(t *testing.T) {
	cfg, _ := DefaultConfig()
	tests := []struct {
		text string
		want bool
	}{
		{"The claim is ready for submission.", true},
		{"CLAIM READY", true},
		{"This can be submitted today.", true},
		{"The claim is not ready.", false},
		{"Ready for submission? Not yet ready.", false},
		{"Here are the codes.", false},
	}
	for _, tt := range tests {
		if got := cfg.AssertsReadiness(tt.text); got != tt.want {
			t.Errorf("AssertsReadiness(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestParseConfigErrors(t *testing.T) {
	base := "version: 1\nreadiness:\n  tool_names: [t]\nconfidence:\n  warning_threshold_for_medium: 1\n"
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"valid", base, ""},
		{"bad regex", base + "warning_phrase_guards:\n  vitals_fetch_failed: ['(unclosed']\n", "warning_phrase_guards.vitals_fetch_failed[0]"},
		{"bad readiness regex", "version: 1\nreadiness:\n  tool_names: [t]\n  positive_patterns: ['[']\nconfidence:\n  warning_threshold_for_medium: 1\n", "readiness.positive_patterns[0]"},
		{"zero threshold", "version: 1\nreadiness:\n  tool_names: [t]\n", "warning_threshold_for_medium"},
		{"no version", "readiness:\n  tool_names: [t]\nconfidence:\n  warning_threshold_for_medium: 2\n", "version"},
		{"no readiness tools", "version: 1\nconfidence:\n  warning_threshold_for_medium: 1\n", "tool_names"},
		{"empty alias", base + "warning_prefix_aliases:\n  old_fetch_failed: ''\n", "old_fetch_failed"},
		{"not yaml", "version: [", "unmarshaling"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ParseConfig error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ParseConfig error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := "version: 2\ndisclosure_keywords: [heads up]\nreadiness:\n  tool_names: [claims]\nconfidence:\n  warning_threshold_for_medium: 3\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error = %v", err)
	}
	if cfg.Version != 2 || !cfg.Discloses("HEADS UP: vitals missing") || !cfg.IsReadinessTool("claims") {
		t.Errorf("Unexpected config %+v", cfg)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
	if _, err := LoadConfig(""); err != nil {
		t.Errorf("LoadConfig(\"\") error = %v", err)
	}
}
