package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Upstream is a read-only view of the external record system. Get returns
// the raw JSON body of a successful (2xx) response. Failures are reported
// as *StatusError, *TimeoutError or *NetworkError when they describe the
// upstream call itself; any other error (including cancellation of ctx by
// the caller) is returned as-is.
type Upstream interface {
	Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error)
}

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned HTTP %d", e.Path, e.StatusCode)
}

// TimeoutError is returned when a single upstream call exceeds its
// per-call deadline.
type TimeoutError struct {
	Path string
	Err  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("upstream %s timed out: %v", e.Path, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// NetworkError is returned for connection-level failures.
type NetworkError struct {
	Path string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("upstream %s unreachable: %v", e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DecodeError is returned when a successful response is not valid JSON.
// It is never treated as degradation.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("upstream %s returned malformed JSON: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Category names one independently fetched slice of clinical or billing data.
type Category string

const (
	CategoryConditions  Category = "conditions"
	CategoryMedications Category = "medications"
	CategoryAllergies   Category = "allergies"
	CategoryVitals      Category = "vitals"
	CategorySOAPNotes   Category = "soap_notes"
	CategoryBilling     Category = "billing"
	CategoryInsurance   Category = "insurance"
)

// TagSuffix is appended to a category to form a degradation tag prefix.
const TagSuffix = "_fetch_failed"

// TagPrefix returns "<category>_fetch_failed".
func (c Category) TagPrefix() string {
	return string(c) + TagSuffix
}

// Tag formats a degradation tag: "<category>_fetch_failed: <detail>".
func (c Category) Tag(detail string) string {
	return c.TagPrefix() + ": " + detail
}

// DegradationFor maps an upstream failure to the degradation tag for
// category. ok is false when err is not a degradable upstream failure and
// must be propagated instead.
func DegradationFor(category Category, err error) (tag string, ok bool) {
	var statusErr *StatusError
	var timeoutErr *TimeoutError
	var netErr *NetworkError

	switch {
	case errors.As(err, &statusErr):
		return category.Tag(fmt.Sprintf("HTTP %d", statusErr.StatusCode)), true
	case errors.As(err, &timeoutErr):
		return category.Tag("request timed out"), true
	case errors.As(err, &netErr):
		return category.Tag("network error retrieving " + string(category)), true
	default:
		return "", false
	}
}

// Outcome labels err for metrics: ok, http_error, timeout, network_error
// or error.
func Outcome(err error) string {
	var statusErr *StatusError
	var timeoutErr *TimeoutError
	var netErr *NetworkError

	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &statusErr):
		return "http_error"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &netErr):
		return "network_error"
	default:
		return "error"
	}
}

// TagPrefixOf returns the part of a degradation tag before the first
// colon, trimmed. A tag without a colon is its own prefix.
func TagPrefixOf(tag string) string {
	prefix, _, _ := strings.Cut(tag, ":")
	return strings.TrimSpace(prefix)
}
