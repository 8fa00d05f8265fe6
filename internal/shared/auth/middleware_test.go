package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clinassist/platform/internal/shared/config"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims Claims, method jwt.SigningMethod, key any) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return s
}

func protected(cfg config.AuthConfig, seen **User) http.Handler {
	return Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = GetUser(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
}

func TestMiddleware(t *testing.T) {
	cfg := config.AuthConfig{Enabled: true, APIKey: "k-123", JWTSecret: testSecret}

	valid := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "dr-house",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role:   "clinician",
		Scopes: []string{"context:read"},
	}, jwt.SigningMethodHS256, []byte(testSecret))

	expired := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "dr-house",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}, jwt.SigningMethodHS256, []byte(testSecret))

	wrongKey := signToken(t, Claims{Role: "clinician"}, jwt.SigningMethodHS256, []byte("other"))

	tests := []struct {
		name     string
		headers  map[string]string
		wantCode int
		wantUser string
	}{
		{"api key", map[string]string{APIKeyHeader: "k-123"}, http.StatusOK, "service"},
		{"wrong api key", map[string]string{APIKeyHeader: "nope"}, http.StatusUnauthorized, ""},
		{"missing header", nil, http.StatusUnauthorized, ""},
		{"bad format", map[string]string{"Authorization": "Token abc"}, http.StatusUnauthorized, ""},
		{"valid jwt", map[string]string{"Authorization": "Bearer " + valid}, http.StatusOK, "dr-house"},
		{"expired jwt", map[string]string{"Authorization": "Bearer " + expired}, http.StatusUnauthorized, ""},
		{"wrong secret", map[string]string{"Authorization": "Bearer " + wrongKey}, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen *User
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()

			protected(cfg, &seen).ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("Expected status %d, got %d", tt.wantCode, rec.Code)
			}
			if tt.wantUser == "" {
				return
			}
			if seen == nil || seen.ID != tt.wantUser {
				t.Errorf("Expected user %q, got %+v", tt.wantUser, seen)
			}
		})
	}
}

func TestRequireScope(t *testing.T) {
	handler := RequireScope("claims:validate")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name     string
		user     *User
		wantCode int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"missing scope", &User{ID: "a", Scopes: []string{"context:read"}}, http.StatusForbidden},
		{"has scope", &User{ID: "b", Scopes: []string{"claims:validate"}}, http.StatusNoContent},
		{"wildcard", &User{ID: "c", Scopes: []string{"*"}}, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.user != nil {
				req = req.WithContext(WithUser(req.Context(), tt.user))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, rec.Code)
			}
		})
	}
}

func TestAllowAll(t *testing.T) {
	var seen *User
	h := AllowAll(RequireScope(ScopeVerify)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUser(r.Context())
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK || seen == nil || seen.ID != "service" {
		t.Errorf("Expected service user, got %d %+v", rec.Code, seen)
	}
}
