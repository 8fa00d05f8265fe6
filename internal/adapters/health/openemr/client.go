// Package openemr implements health.Upstream over the OpenEMR REST and
// FHIR APIs.
package openemr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/clinassist/platform/internal/adapters/health"
)

// maxBodyBytes caps a single upstream response.
const maxBodyBytes = 16 << 20

// Client implements health.Upstream
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	config     Config
	logger     *zap.Logger
}

// Config holds configuration for the OpenEMR client
type Config struct {
	BaseURL string `json:"base_url"`

	// OAuth2 password grant. Leave ClientID empty to send unauthenticated
	// requests (internal endpoints, tests).
	TokenURL     string   `json:"token_url"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"-"`
	Username     string   `json:"username"`
	Password     string   `json:"-"`
	Scopes       []string `json:"scopes"`

	// Timeout bounds each individual call.
	Timeout       time.Duration `json:"timeout"`
	RetryAttempts int           `json:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay"`

	// Rate limiting, 0 disables.
	MaxRequestsPerSecond int `json:"max_requests_per_second"`
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:              "http://localhost:8300",
		Timeout:              30 * time.Second,
		RetryAttempts:        1,
		RetryDelay:           500 * time.Millisecond,
		MaxRequestsPerSecond: 20,
	}
}

// New creates a new OpenEMR client. base may be nil to use a default
// transport.
func New(cfg Config, base http.RoundTripper, logger *zap.Logger) *Client {
	if base == nil {
		base = http.DefaultTransport
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}

	transport := base
	if cfg.ClientID != "" {
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL, AuthStyle: oauth2.AuthStyleInParams},
			Scopes:       cfg.Scopes,
		}
		transport = &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(nil, &passwordTokenSource{
				config:   oauthCfg,
				username: cfg.Username,
				password: cfg.Password,
				base:     base,
			}),
			Base: base,
		}
	}

	var limiter *rate.Limiter
	if cfg.MaxRequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), cfg.MaxRequestsPerSecond)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Transport: transport},
		limiter:    limiter,
		config:     cfg,
		logger:     logger,
	}
}

// Get performs a GET against path and returns the JSON body.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	body, err := c.doRequest(ctx, path, target)
	if err != nil {
		return nil, err
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		return nil, &health.DecodeError{Path: path, Err: errors.New("response body is not JSON")}
	}
	return json.RawMessage(body), nil
}

// doRequest performs one logical call with retry on 5xx and network
// errors. Each attempt gets its own deadline.
func (c *Client) doRequest(ctx context.Context, path, target string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, &health.TimeoutError{Path: path, Err: err}
			}
		}

		body, err := c.attempt(ctx, path, target)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var statusErr *health.StatusError
		var netErr *health.NetworkError
		switch {
		case errors.As(err, &statusErr) && statusErr.StatusCode >= 500:
		case errors.As(err, &netErr):
		default:
			return nil, err
		}

		c.logger.Debug("retrying upstream request",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, path, target string) ([]byte, error) {
	callCtx := ctx
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if id := chimw.GetReqID(ctx); id != "" {
		req.Header.Set(chimw.RequestIDHeader, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(ctx, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classify(ctx, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &health.StatusError{
			StatusCode: resp.StatusCode,
			Path:       path,
			Body:       truncate(string(body), 256),
		}
	}
	return body, nil
}

// classify maps a transport error to the upstream taxonomy. Cancellation
// by the caller is returned unchanged so it propagates.
func classify(parent context.Context, path string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil {
			return &health.StatusError{StatusCode: retrieveErr.Response.StatusCode, Path: path, Body: "token request failed"}
		}
		return &health.NetworkError{Path: path, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &health.TimeoutError{Path: path, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &health.TimeoutError{Path: path, Err: err}
	}
	return &health.NetworkError{Path: path, Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// passwordTokenSource performs the OAuth2 password grant lazily, so a
// client can be built before the record system is reachable.
type passwordTokenSource struct {
	config   *oauth2.Config
	username string
	password string
	base     http.RoundTripper
}

func (s *passwordTokenSource) Token() (*oauth2.Token, error) {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{
		Transport: s.base,
		Timeout:   30 * time.Second,
	})
	tok, err := s.config.PasswordCredentialsToken(ctx, s.username, s.password)
	if err != nil {
		return nil, fmt.Errorf("openemr password grant: %w", err)
	}
	return tok, nil
}
