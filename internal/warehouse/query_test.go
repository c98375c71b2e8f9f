package warehouse

import (
	"testing"
	"time"
)

func TestPickBucketThresholds(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		to   time.Time
		want Bucket
	}{
		{"zero range", base, BucketRaw},
		{"exactly 2 days", base.Add(2 * 24 * time.Hour), BucketRaw},
		{"just over 2 days", base.Add(2*24*time.Hour + time.Minute), BucketHour},
		{"exactly 14 days", base.Add(14 * 24 * time.Hour), BucketHour},
		{"just over 14 days", base.Add(14*24*time.Hour + time.Minute), Bucket4Hour},
		{"exactly 90 days", base.Add(90 * 24 * time.Hour), Bucket4Hour},
		{"just over 90 days", base.Add(90*24*time.Hour + time.Minute), BucketDay},
		{"a full year", base.Add(365 * 24 * time.Hour), BucketDay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PickBucket(base, tt.to); got != tt.want {
				t.Errorf("PickBucket(%v) = %v, want %v", tt.to.Sub(base), got, tt.want)
			}
		})
	}
}

// TestPickBucketMonotonic verifies spec.md §4.8's testable property 5: as the
// range widens, the chosen bucket only ever gets coarser, never finer.
func TestPickBucketMonotonic(t *testing.T) {
	rank := map[Bucket]int{BucketRaw: 0, BucketHour: 1, Bucket4Hour: 2, BucketDay: 3}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	prev := PickBucket(base, base)
	for days := 1; days <= 400; days++ {
		to := base.Add(time.Duration(days) * 24 * time.Hour)
		cur := PickBucket(base, to)
		if rank[cur] < rank[prev] {
			t.Fatalf("bucket got finer as range widened: day %d went from %v to %v", days, prev, cur)
		}
		prev = cur
	}
}

func TestBucketExprRawIsUnfiltered(t *testing.T) {
	if got := bucketExpr(BucketRaw); got != "ts" {
		t.Errorf("bucketExpr(BucketRaw) = %q, want %q", got, "ts")
	}
}

func TestDatnameFilter(t *testing.T) {
	if got := datnameFilter(""); got != "" {
		t.Errorf("datnameFilter(\"\") = %q, want empty", got)
	}
	if got := datnameFilter("postgres"); got != "AND datname = $4" {
		t.Errorf("datnameFilter(\"postgres\") = %q, want the $4 placeholder clause", got)
	}
}
