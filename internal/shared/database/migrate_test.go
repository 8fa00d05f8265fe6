package database

import (
	"testing"
	"testing/fstest"
)

func TestPendingMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_index.sql":   {Data: []byte("CREATE INDEX x ON billing (code);")},
		"migrations/001_billing.sql": {Data: []byte("CREATE TABLE billing ();")},
		"migrations/README.md":       {Data: []byte("notes")},
	}

	tests := []struct {
		name    string
		applied map[string]bool
		want    []string
	}{
		{"fresh database", map[string]bool{}, []string{"001_billing", "002_index"}},
		{"partially applied", map[string]bool{"001_billing": true}, []string{"002_index"}},
		{"up to date", map[string]bool{"001_billing": true, "002_index": true}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pendingMigrations(fsys, "migrations", tt.applied)
			if err != nil {
				t.Fatalf("pendingMigrations error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %+v", tt.want, got)
			}
			for i, m := range got {
				if m.version != tt.want[i] || m.sql == "" {
					t.Errorf("migration %d = %+v, want version %s", i, m, tt.want[i])
				}
			}
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	got, err := pendingMigrations(migrationsFS, "migrations", nil)
	if err != nil {
		t.Fatalf("pendingMigrations error = %v", err)
	}
	if len(got) == 0 || got[0].version != "001_billing" {
		t.Errorf("Expected embedded billing migration first, got %+v", got)
	}
}
