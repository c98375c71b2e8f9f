package warehouse

import (
	"testing"
	"time"
)

func TestPartitionName(t *testing.T) {
	tests := []struct {
		month time.Time
		want  string
	}{
		{time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), "statistics_2026_01"},
		{time.Date(2026, time.November, 1, 0, 0, 0, 0, time.UTC), "statistics_2026_11"},
		{time.Date(2099, time.December, 1, 0, 0, 0, 0, time.UTC), "statistics_2099_12"},
	}
	for _, tt := range tests {
		if got := partitionName(tt.month); got != tt.want {
			t.Errorf("partitionName(%v) = %q, want %q", tt.month, got, tt.want)
		}
	}
}

func TestParsePartitionMonthRoundTrip(t *testing.T) {
	month := time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)
	name := partitionName(month)

	got, ok := parsePartitionMonth(name)
	if !ok {
		t.Fatalf("parsePartitionMonth(%q) ok = false, want true", name)
	}
	if !got.Equal(month) {
		t.Errorf("parsePartitionMonth(%q) = %v, want %v", name, got, month)
	}
}

func TestParsePartitionMonthRejectsUnrecognizedNames(t *testing.T) {
	tests := []string{
		"statistics",
		"statistics_2026",
		"statistics_2026_13",  // no month 13
		"statistics_2026_00",  // no month 0
		"db_info",
		"statistics_abcd_01",
		"statistics_2026_1",  // needs 2-digit month
	}
	for _, name := range tests {
		if _, ok := parsePartitionMonth(name); ok {
			t.Errorf("parsePartitionMonth(%q) ok = true, want false", name)
		}
	}
}
