package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"no header", "", false},
		{"caller id", "orchestrator-42", true},
		{"invalid id", "bad id\nwith newline", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = chimw.GetReqID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(chimw.RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if seen == "" || rec.Header().Get(chimw.RequestIDHeader) != seen {
				t.Fatalf("request id %q not echoed (header %q)", seen, rec.Header().Get(chimw.RequestIDHeader))
			}
			if tt.keep && seen != tt.incoming {
				t.Errorf("Expected caller id %q, got %q", tt.incoming, seen)
			}
			if !tt.keep {
				if _, err := uuid.Parse(seen); err != nil {
					t.Errorf("Expected generated UUID, got %q", seen)
				}
			}
		})
	}
}
