package collector

import (
	"context"
	"testing"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/db"
)

// TestFanOutIsolatesFailures verifies spec.md §5's testable property 7: one
// target's failure does not prevent the others from completing or cancel
// their results.
func TestFanOutIsolatesFailures(t *testing.T) {
	targets := []db.Target{
		{Name: "ok-1"},
		{Name: "broken"},
		{Name: "ok-2"},
	}

	op := func(ctx context.Context, t db.Target) Result {
		r := Result{ServerName: t.Name}
		if t.Name == "broken" {
			r.addErr("simulated failure for %s", t.Name)
			return r
		}
		r.Inserted = 1
		return r
	}

	results := FanOut(context.Background(), targets, op)

	if len(results) != len(targets) {
		t.Fatalf("FanOut returned %d results, want %d", len(results), len(targets))
	}
	for i, want := range targets {
		if results[i].ServerName != want.Name {
			t.Errorf("results[%d].ServerName = %q, want %q (order not preserved)", i, results[i].ServerName, want.Name)
		}
	}

	if len(results[1].Errors) == 0 {
		t.Errorf("results[1] (broken) has no errors recorded")
	}
	if results[0].Inserted != 1 || len(results[0].Errors) != 0 {
		t.Errorf("results[0] (ok-1) = %+v, want a clean success unaffected by the broken target", results[0])
	}
	if results[2].Inserted != 1 || len(results[2].Errors) != 0 {
		t.Errorf("results[2] (ok-2) = %+v, want a clean success unaffected by the broken target", results[2])
	}
}

func TestFanOutEmptyTargets(t *testing.T) {
	results := FanOut(context.Background(), nil, func(ctx context.Context, t db.Target) Result {
		return Result{}
	})
	if len(results) != 0 {
		t.Errorf("FanOut(nil) returned %d results, want 0", len(results))
	}
}
