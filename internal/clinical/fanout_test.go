package clinical

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/clinassist/platform/internal/adapters/health"
)

func TestFetchAllTagOrderIgnoresCompletionOrder(t *testing.T) {
	delayed := func(c health.Category, d time.Duration, err error) Fetch {
		return Fetch{Category: c, Run: func(ctx context.Context) error {
			time.Sleep(d)
			return err
		}}
	}

	fetches := []Fetch{
		delayed(health.CategoryConditions, 30*time.Millisecond, &health.StatusError{StatusCode: 500}),
		delayed(health.CategoryMedications, 0, nil),
		delayed(health.CategoryAllergies, 0, &health.TimeoutError{}),
	}

	tags, err := FetchAll(context.Background(), zap.NewNop(), fetches)
	if err != nil {
		t.Fatalf("FetchAll error = %v", err)
	}
	want := []string{"conditions_fetch_failed: HTTP 500", "allergies_fetch_failed: request timed out"}
	if fmt.Sprint(tags) != fmt.Sprint(want) {
		t.Errorf("tags = %v, want %v", tags, want)
	}
}

func TestFetchAllHardErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	fetches := []Fetch{
		{Category: health.CategoryVitals, Run: func(ctx context.Context) error { return boom }},
		{Category: health.CategorySOAPNotes, Run: func(ctx context.Context) error {
			<-ctx.Done()
			return &health.NetworkError{Err: ctx.Err()}
		}},
	}

	tags, err := FetchAll(context.Background(), zap.NewNop(), fetches)
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	if tags != nil {
		t.Errorf("Expected no tags on hard failure, got %v", tags)
	}
}

func TestFetchAllEmpty(t *testing.T) {
	tags, err := FetchAll(context.Background(), zap.NewNop(), nil)
	if err != nil || tags == nil || len(tags) != 0 {
		t.Errorf("FetchAll(nil) = %v, %v", tags, err)
	}
}

func TestFetchAllCancelledParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FetchAll(ctx, zap.NewNop(), []Fetch{
		{Category: health.CategoryVitals, Run: func(context.Context) error { return nil }},
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
