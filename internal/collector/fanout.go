package collector

import (
	"context"
	"sync"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/db"
)

// FanOut runs op against every target concurrently and collects all
// Results, preserving input order. Spec.md §5: "per-target collectors run
// in parallel"; one target's failure is isolated inside its own Result and
// never cancels the others (testable property 7).
func FanOut(ctx context.Context, targets []db.Target, op func(context.Context, db.Target) Result) []Result {
	results := make([]Result, len(targets))

	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t db.Target) {
			defer wg.Done()
			results[i] = op(ctx, t)
		}(i, t)
	}
	wg.Wait()

	return results
}
