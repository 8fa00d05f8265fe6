package billing

import (
	"context"
	"net/url"

	"github.com/clinassist/platform/internal/adapters/health"
)

// Path is where Handler is mounted.
const Path = "/internal/billing"

// Client reads billing lines through the internal billing endpoint. Its
// failures carry the same taxonomy as record-system calls so callers can
// degrade them.
type Client struct {
	upstream health.Upstream
}

// NewClient creates a billing client over an HTTP upstream rooted at the
// service that mounts Handler.
func NewClient(upstream health.Upstream) *Client {
	return &Client{upstream: upstream}
}

// Rows returns the billing lines of an encounter.
func (c *Client) Rows(ctx context.Context, encounterID, patientID string) ([]health.BillingRow, error) {
	body, err := c.upstream.Get(ctx, Path, url.Values{
		"encounter_id": {encounterID},
		"patient_id":   {patientID},
	})
	if err != nil {
		return nil, err
	}

	rows, err := health.DecodeItems[health.BillingRow](body)
	if err != nil {
		return nil, &health.DecodeError{Path: Path, Err: err}
	}
	return rows, nil
}
