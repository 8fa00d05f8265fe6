package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const failingTranscript = `{"messages":[
	{"role":"user","content":"Is the claim ready?"},
	{"role":"tool","name":"validate_claim_ready_completeness","content":{"ready":false,"data_warnings":[]}},
	{"role":"assistant","content":"The claim is ready for submission."}
]}`

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVerifyCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.json")
	if err := os.WriteFile(path, []byte(failingTranscript), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "", "verify", "--transcript", path)
	if err != nil {
		t.Fatalf("verify error = %v", err)
	}

	var got struct {
		Applicable   bool `json:"applicable"`
		Replaced     bool `json:"replaced"`
		Verification struct {
			Decision string `json:"decision"`
		} `json:"verification"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if !got.Applicable || !got.Replaced || got.Verification.Decision != "fail" {
		t.Errorf("Unexpected outcome %s", out)
	}

	if _, err := run(t, "", "verify", "--transcript", path, "--strict"); err == nil {
		t.Error("Expected --strict to fail on a failing decision")
	}
}

func TestVerifyCommandStdin(t *testing.T) {
	out, err := run(t, `[{"role":"user","content":"hi"}]`, "verify", "--transcript", "-")
	if err != nil {
		t.Fatalf("verify error = %v", err)
	}
	if !strings.Contains(out, `"applicable": false`) {
		t.Errorf("Expected not applicable, got %s", out)
	}

	if _, err := run(t, `{"messages":`, "verify", "--transcript", "-"); err == nil {
		t.Error("Expected error for malformed transcript")
	}
}

func TestRulesCheckCommand(t *testing.T) {
	out, err := run(t, "", "rules", "check")
	if err != nil {
		t.Fatalf("rules check error = %v", err)
	}
	if !strings.Contains(out, "verification rules (embedded): ok") || !strings.Contains(out, "claim rules (embedded): ok") {
		t.Errorf("Unexpected output %s", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("version: 1\nreadiness:\n  tool_names: [t]\n  positive_patterns: ['(']\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "", "rules", "check", bad); err == nil {
		t.Error("Expected error for invalid rules file")
	}
}

type stubPinger struct{ err error }

func (p stubPinger) Health(ctx context.Context) error { return p.err }

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name string
		db   pinger
		want int
	}{
		{"no store", nil, http.StatusOK},
		{"healthy store", stubPinger{}, http.StatusOK},
		{"unhealthy store", stubPinger{err: errors.New("down")}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			readyHandler(tt.db)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
