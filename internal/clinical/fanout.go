package clinical

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clinassist/platform/internal/adapters/health"
	"github.com/clinassist/platform/internal/shared/metrics"
)

// Fetch is one category fetcher. Run stores its value into a slot owned by
// the caller, and only on success, so the slot keeps its empty value when
// the fetch degrades.
type Fetch struct {
	Category health.Category
	Run      func(ctx context.Context) error
}

// FetchAll runs every fetch concurrently and waits for all of them.
//
// Upstream failures (HTTP status, timeout, network) become one degradation
// tag for that category and never affect siblings. Any other error aborts
// the group and is returned, as is cancellation of ctx. Tags are returned
// in the order of fetches, not completion order.
func FetchAll(ctx context.Context, logger *zap.Logger, fetches []Fetch) ([]string, error) {
	slots := make([][]string, len(fetches))

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range fetches {
		g.Go(func() error {
			start := time.Now()
			err := f.Run(gctx)
			metrics.RecordUpstreamFetch(string(f.Category), health.Outcome(err), time.Since(start))
			if err == nil {
				return nil
			}

			if tag, ok := health.DegradationFor(f.Category, err); ok {
				logger.Warn("category fetch degraded",
					zap.String("category", string(f.Category)),
					zap.String("tag", tag),
					zap.Error(err),
				)
				slots[i] = []string{tag}
				return nil
			}

			logger.Error("category fetch failed",
				zap.String("category", string(f.Category)),
				zap.Error(err),
			)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tags := make([]string, 0, len(fetches))
	for _, s := range slots {
		tags = append(tags, s...)
	}
	return tags, nil
}
