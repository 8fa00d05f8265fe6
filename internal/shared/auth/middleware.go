package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clinassist/platform/internal/shared/config"
	apperrors "github.com/clinassist/platform/internal/shared/errors"
)

type contextKey string

const (
	UserContextKey contextKey = "user"

	// APIKeyHeader carries the shared service key used by the orchestrator.
	APIKeyHeader = "X-API-Key"
)

// Scopes
const (
	ScopeClinicalRead = "clinical:read"
	ScopeClaimsRead   = "claims:read"
	ScopeVerify       = "verification:run"
)

// User represents the authenticated caller
type User struct {
	ID         string   `json:"sub"`
	Role       string   `json:"role"` // clinician, biller, service
	FacilityID string   `json:"facility_id,omitempty"`
	Scopes     []string `json:"scopes"`
	SessionID  string   `json:"session_id,omitempty"`
}

// Claims extends JWT claims with clinician-specific data
type Claims struct {
	jwt.RegisteredClaims
	Role       string   `json:"role"`
	FacilityID string   `json:"facility_id,omitempty"`
	Scopes     []string `json:"scopes"`
	SessionID  string   `json:"session_id,omitempty"`
}

// serviceUser is attached to requests authenticated with the API key.
var serviceUser = User{ID: "service", Role: "service", Scopes: []string{"*"}}

// Middleware authenticates requests with either the X-API-Key header or a
// bearer JWT signed with the configured HS256 secret.
func Middleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get(APIKeyHeader); key != "" {
				if cfg.APIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(cfg.APIKey)) != 1 {
					writeError(w, apperrors.Unauthorized("invalid api key"))
					return
				}
				user := serviceUser
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), &user)))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, apperrors.Unauthorized("missing authorization header"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeError(w, apperrors.Unauthorized("invalid authorization header format"))
				return
			}

			user, err := ParseToken(parts[1], cfg.JWTSecret)
			if err != nil {
				writeError(w, apperrors.Unauthorized("invalid token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// AllowAll attaches the service user to every request. It stands in for
// Middleware when authentication is disabled.
func AllowAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := serviceUser
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), &user)))
	})
}

// ParseToken validates an HS256 token and returns the user it describes.
func ParseToken(tokenString, secret string) (*User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return &User{
		ID:         claims.Subject,
		Role:       claims.Role,
		FacilityID: claims.FacilityID,
		Scopes:     claims.Scopes,
		SessionID:  claims.SessionID,
	}, nil
}

// WithUser stores the user in ctx.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// GetUser extracts the user from request context
func GetUser(ctx context.Context) *User {
	user, ok := ctx.Value(UserContextKey).(*User)
	if !ok {
		return nil
	}
	return user
}

// RequireScope creates middleware that requires a specific scope
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r.Context())
			if user == nil {
				writeError(w, apperrors.Unauthorized("authentication required"))
				return
			}

			if !user.HasScope(scope) {
				writeError(w, apperrors.Forbidden("insufficient permissions"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HasScope checks if user holds scope, or the wildcard scope
func (u *User) HasScope(scope string) bool {
	for _, s := range u.Scopes {
		if s == scope || s == "*" {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, err *apperrors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Message, "code": err.Code})
}
