package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server       ServerConfig
	Upstream     UpstreamConfig
	Billing      BillingConfig
	Auth         AuthConfig
	Verification VerificationConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// PublicURL is the address other components use to reach this
	// service's internal endpoints (e.g. /internal/billing).
	PublicURL string
}

// UpstreamConfig holds connection settings for the OpenEMR record system.
type UpstreamConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Scopes       []string

	// Timeout is applied to every individual upstream call.
	Timeout              time.Duration
	RetryAttempts        int
	RetryDelay           time.Duration
	MaxRequestsPerSecond int
}

// BillingConfig holds configuration for the billing code store behind
// /internal/billing and for the client that reads it.
type BillingConfig struct {
	// Driver: "pgx" for PostgreSQL, "sqlserver" for SQL Server
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Migrate  bool

	// Client side
	BaseURL string
	Timeout time.Duration
}

// DSN returns the connection string for the configured driver.
func (b BillingConfig) DSN() string {
	if b.Driver == "sqlserver" {
		return fmt.Sprintf(
			"server=%s;port=%d;user id=%s;password=%s;database=%s;encrypt=disable",
			b.Host, b.Port, b.User, b.Password, b.Database,
		)
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		b.Host, b.Port, b.User, b.Password, b.Database, b.SSLMode,
	)
}

type AuthConfig struct {
	Enabled   bool
	APIKey    string
	JWTSecret string
}

type VerificationConfig struct {
	// RulesPath overrides the embedded verification rules when set.
	RulesPath string
	// ClaimRulesPath overrides the embedded claim rules when set.
	ClaimRulesPath string
}

type LogConfig struct {
	Level string
	// Development switches zap to console encoding.
	Development bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:      getEnvInt("SERVER_PORT", 8350),
			Env:       getEnv("ENV", "development"),
			PublicURL: getEnv("AGENT_BASE_URL", "http://localhost:8350"),
		},
		Upstream: UpstreamConfig{
			BaseURL:              getEnv("OPENEMR_BASE_URL", "http://localhost:8300"),
			TokenURL:             getEnv("OPENEMR_TOKEN_URL", ""),
			ClientID:             getEnv("OPENEMR_CLIENT_ID", ""),
			ClientSecret:         getEnv("OPENEMR_CLIENT_SECRET", ""),
			Username:             getEnv("OPENEMR_USERNAME", "admin"),
			Password:             getEnv("OPENEMR_PASSWORD", ""),
			Scopes:               getEnvSlice("OPENEMR_SCOPES", defaultScopes),
			Timeout:              getEnvDuration("OPENEMR_TIMEOUT", 30*time.Second),
			RetryAttempts:        getEnvInt("OPENEMR_RETRY_ATTEMPTS", 1),
			RetryDelay:           getEnvDuration("OPENEMR_RETRY_DELAY", 500*time.Millisecond),
			MaxRequestsPerSecond: getEnvInt("OPENEMR_MAX_RPS", 20),
		},
		Billing: BillingConfig{
			Driver:   getEnv("BILLING_DB_DRIVER", "pgx"),
			Host:     getEnv("BILLING_DB_HOST", "localhost"),
			Port:     getEnvInt("BILLING_DB_PORT", 5432),
			User:     getEnv("BILLING_DB_USER", "openemr"),
			Password: getEnv("BILLING_DB_PASSWORD", "openemr"),
			Database: getEnv("BILLING_DB_NAME", "openemr"),
			SSLMode:  getEnv("BILLING_DB_SSLMODE", "disable"),
			Migrate:  getEnvBool("BILLING_DB_MIGRATE", false),
			Timeout:  getEnvDuration("BILLING_TIMEOUT", 15*time.Second),
		},
		Auth: AuthConfig{
			Enabled:   getEnvBool("AUTH_ENABLED", false),
			APIKey:    getEnv("API_KEY", ""),
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
		},
		Verification: VerificationConfig{
			RulesPath:      getEnv("VERIFICATION_RULES_PATH", ""),
			ClaimRulesPath: getEnv("CLAIM_RULES_PATH", ""),
		},
		Log: LogConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvBool("LOG_DEVELOPMENT", false),
		},
	}

	cfg.Billing.BaseURL = getEnv("BILLING_BASE_URL", cfg.Server.PublicURL)
	if cfg.Upstream.TokenURL == "" {
		cfg.Upstream.TokenURL = strings.TrimRight(cfg.Upstream.BaseURL, "/") + "/oauth2/default/token"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var defaultScopes = []string{
	"openid",
	"api:oemr",
	"api:fhir",
	"user/patient.read",
	"user/encounter.read",
	"user/vital.read",
	"user/soap_note.read",
	"user/insurance.read",
	"user/Condition.read",
	"user/MedicationRequest.read",
	"user/AllergyIntolerance.read",
}

func (c *Config) validate() error {
	switch c.Billing.Driver {
	case "pgx", "sqlserver":
	default:
		return fmt.Errorf("unsupported BILLING_DB_DRIVER %q (want pgx or sqlserver)", c.Billing.Driver)
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("OPENEMR_TIMEOUT must be positive")
	}
	if c.Upstream.RetryAttempts < 1 {
		c.Upstream.RetryAttempts = 1
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_ENABLED requires API_KEY or JWT_SECRET")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				result = append(result, v)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
